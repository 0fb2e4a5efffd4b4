package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
)

// Domain separation labels for signed structures.
const (
	labelDevice = "lrmgmt device cert"
	labelModel  = "lrmgmt model cert"
)

// GenerateKeyPair creates a P-256 key.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// Digest hashes parts with a length prefix on each.
func Digest(parts ...[]byte) []byte {
	h := sha256.New()
	var n [2]byte
	for _, p := range parts {
		binary.BigEndian.PutUint16(n[:], uint16(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return h.Sum(nil)
}

// Sign signs the digest of parts with key.
func Sign(rnd io.Reader, key *ecdsa.PrivateKey, parts ...[]byte) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	return ecdsa.SignASN1(rnd, key, Digest(parts...))
}

// Verify checks sig over the digest of parts.
func Verify(pub *ecdsa.PublicKey, sig []byte, parts ...[]byte) error {
	if pub == nil || !ecdsa.VerifyASN1(pub, Digest(parts...), sig) {
		return ErrSignature
	}
	return nil
}

// MarshalPublicKey encodes pub as PKIX DER.
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey decodes a PKIX DER P-256 public key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCert, err)
	}
	pub, ok := k.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidCert)
	}
	return pub, nil
}

// DeviceTBS returns the signed portion of a device certificate.
func DeviceTBS(serial []byte, pub *ecdsa.PublicKey) ([][]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(labelDevice), serial, der}, nil
}

// ModelTBS returns the signed portion of a model certificate.
func ModelTBS(serial []byte, pub *ecdsa.PublicKey) ([][]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(labelModel), serial, der}, nil
}

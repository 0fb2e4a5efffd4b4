package secsession

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"
)

// KeySize is the session key length.
const KeySize = 32

// kdfContext labels the session key derivation.
const kdfContext = "lrmgmt session key"

// AEADID identifies a payload cipher.
type AEADID uint8

const (
	// AEADAES256GCM is AES-256 in GCM mode.
	AEADAES256GCM AEADID = 1

	// AEADChaCha20Poly1305 is ChaCha20-Poly1305.
	AEADChaCha20Poly1305 AEADID = 2
)

// String returns the cipher name.
func (a AEADID) String() string {
	switch a {
	case AEADAES256GCM:
		return "AES-256-GCM"
	case AEADChaCha20Poly1305:
		return "CHACHA20-POLY1305"
	default:
		return "UNKNOWN"
	}
}

// KDFID identifies a session key derivation function.
type KDFID uint8

const (
	// KDFHKDFSHA256 is HKDF with SHA-256.
	KDFHKDFSHA256 KDFID = 1

	// KDFBLAKE3 is BLAKE3 in key derivation mode.
	KDFBLAKE3 KDFID = 2
)

// String returns the KDF name.
func (k KDFID) String() string {
	switch k {
	case KDFHKDFSHA256:
		return "HKDF-SHA256"
	case KDFBLAKE3:
		return "BLAKE3"
	default:
		return "UNKNOWN"
	}
}

// DefaultAEADs is the default cipher preference.
var DefaultAEADs = []AEADID{AEADAES256GCM, AEADChaCha20Poly1305}

// DefaultKDFs is the default KDF preference.
var DefaultKDFs = []KDFID{KDFHKDFSHA256, KDFBLAKE3}

// Suite is a negotiated cipher and KDF.
type Suite struct {
	AEAD AEADID
	KDF  KDFID
}

// selectSuite picks the first of ours that the peer also offers.
func selectSuite(ourAEADs []AEADID, ourKDFs []KDFID, theirAEADs []AEADID, theirKDFs []KDFID) (Suite, bool) {
	var s Suite
	for _, a := range ourAEADs {
		if slices.Contains(theirAEADs, a) {
			s.AEAD = a
			break
		}
	}
	for _, k := range ourKDFs {
		if slices.Contains(theirKDFs, k) {
			s.KDF = k
			break
		}
	}
	return s, s.AEAD != 0 && s.KDF != 0
}

// newAEAD returns the cipher for id keyed with key.
func newAEAD(id AEADID, key []byte) (cipher.AEAD, error) {
	switch id {
	case AEADAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: aead %d", ErrNoCommonSuite, id)
	}
}

// deriveKey derives the session key from the ECDH secret with salt.
func deriveKey(id KDFID, secret, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	switch id {
	case KDFHKDFSHA256:
		r := hkdf.New(sha256.New, secret, salt, []byte(kdfContext))
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return key, err
		}
	case KDFBLAKE3:
		material := make([]byte, 0, len(secret)+len(salt))
		material = append(material, secret...)
		material = append(material, salt...)
		blake3.DeriveKey(key[:], kdfContext, material)
		clear(material)
	default:
		return key, fmt.Errorf("%w: kdf %d", ErrNoCommonSuite, id)
	}
	return key, nil
}

package cert

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
)

// Chain constants.
const (
	// ChainDepth is the number of certificates a device presents.
	ChainDepth = 2

	// MinSerialLen is the shortest accepted serial number.
	MinSerialLen = 8

	// MaxSerialLen is the longest accepted serial number.
	MaxSerialLen = 32
)

// Credential errors.
var (
	ErrCertNotFound   = errors.New("credentials not found")
	ErrInvalidCert    = errors.New("invalid certificate")
	ErrInvalidSerial  = errors.New("invalid serial number")
	ErrSerialRevoked  = errors.New("serial number revoked")
	ErrSignature      = errors.New("signature verification failed")
	ErrChainDepth     = errors.New("unexpected certificate count")
	ErrSerialMismatch = errors.New("serial number mismatch")
)

// DeviceCert binds a device serial to the device public key.
// Signature is made by the model key over DeviceTBS.
type DeviceCert struct {
	Serial    []byte
	PublicKey *ecdsa.PublicKey
	Signature []byte
}

// ModelCert binds a model serial to the model public key.
// Signature is made by the root key over ModelTBS.
type ModelCert struct {
	Serial    []byte
	PublicKey *ecdsa.PublicKey
	Signature []byte
}

// DeviceCredentials is everything a device needs to authenticate.
type DeviceCredentials struct {
	Key    *ecdsa.PrivateKey
	Device DeviceCert
	Model  ModelCert

	// PeerPublicKey is the trusted gateway identity key.
	PeerPublicKey *ecdsa.PublicKey
}

// Validate checks the credentials are complete and self-consistent.
func (c *DeviceCredentials) Validate() error {
	if c.Key == nil || c.PeerPublicKey == nil {
		return fmt.Errorf("%w: missing key", ErrInvalidCert)
	}
	if c.Device.PublicKey == nil || c.Model.PublicKey == nil {
		return fmt.Errorf("%w: missing certificate key", ErrInvalidCert)
	}
	if !c.Key.PublicKey.Equal(c.Device.PublicKey) {
		return fmt.Errorf("%w: device key does not match certificate", ErrInvalidCert)
	}
	if err := CheckSerial(c.Device.Serial); err != nil {
		return err
	}
	return CheckSerial(c.Model.Serial)
}

// GatewayCredentials is everything a gateway needs to validate devices.
type GatewayCredentials struct {
	IdentityKey   *ecdsa.PrivateKey
	RootPublicKey *ecdsa.PublicKey

	// Revoked lists device serials. RevokedModels lists model serials;
	// revoking a model rejects every device issued under it.
	Revoked       RevocationList
	RevokedModels RevocationList
}

// Validate checks the credentials are complete.
func (c *GatewayCredentials) Validate() error {
	if c.IdentityKey == nil || c.RootPublicKey == nil {
		return fmt.Errorf("%w: missing key", ErrInvalidCert)
	}
	return nil
}

// RevocationList is a set of revoked serials.
type RevocationList map[string]struct{}

// NewRevocationList builds a list from serials.
func NewRevocationList(serials ...[]byte) RevocationList {
	l := make(RevocationList, len(serials))
	for _, s := range serials {
		l.Add(s)
	}
	return l
}

// Add revokes serial.
func (l RevocationList) Add(serial []byte) {
	l[hex.EncodeToString(serial)] = struct{}{}
}

// Revoked reports whether serial is revoked. A nil list revokes nothing.
func (l RevocationList) Revoked(serial []byte) bool {
	_, ok := l[hex.EncodeToString(serial)]
	return ok
}

// Serials returns the revoked serials as hex strings.
func (l RevocationList) Serials() []string {
	out := make([]string, 0, len(l))
	for s := range l {
		out = append(out, s)
	}
	return out
}

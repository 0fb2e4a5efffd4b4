package cert

import (
	"crypto/ecdsa"
	"fmt"
)

// Authority issues model certificates with a root key.
type Authority struct {
	Key *ecdsa.PrivateKey
}

// NewAuthority creates an authority with a fresh root key.
func NewAuthority() (*Authority, error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Authority{Key: key}, nil
}

// PublicKey returns the trust anchor.
func (a *Authority) PublicKey() *ecdsa.PublicKey {
	return &a.Key.PublicKey
}

// ModelIssuer issues device certificates for one model.
type ModelIssuer struct {
	Key  *ecdsa.PrivateKey
	Cert ModelCert
}

// IssueModel creates a model key and certificate.
func (a *Authority) IssueModel(serial []byte) (*ModelIssuer, error) {
	if err := CheckSerial(serial); err != nil {
		return nil, err
	}
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tbs, err := ModelTBS(serial, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(nil, a.Key, tbs...)
	if err != nil {
		return nil, fmt.Errorf("sign model certificate: %w", err)
	}
	return &ModelIssuer{
		Key:  key,
		Cert: ModelCert{Serial: serial, PublicKey: &key.PublicKey, Signature: sig},
	}, nil
}

// IssueDevice creates a device key and certificate and returns the
// device credentials, trusting peer as the gateway identity.
func (m *ModelIssuer) IssueDevice(serial []byte, peer *ecdsa.PublicKey) (*DeviceCredentials, error) {
	if err := CheckSerial(serial); err != nil {
		return nil, err
	}
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tbs, err := DeviceTBS(serial, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(nil, m.Key, tbs...)
	if err != nil {
		return nil, fmt.Errorf("sign device certificate: %w", err)
	}
	return &DeviceCredentials{
		Key:           key,
		Device:        DeviceCert{Serial: serial, PublicKey: &key.PublicKey, Signature: sig},
		Model:         m.Cert,
		PeerPublicKey: peer,
	}, nil
}

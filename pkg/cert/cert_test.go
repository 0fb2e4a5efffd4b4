package cert

import (
	"bytes"
	"errors"
	"testing"
)

var (
	testModelSerial  = []byte("MODEL-0001")
	testDeviceSerial = []byte("DEV-00000001")
)

func issueTestChain(t *testing.T) (*Authority, *ModelIssuer, *DeviceCredentials) {
	t.Helper()

	root, err := NewAuthority()
	if err != nil {
		t.Fatalf("NewAuthority() error = %v", err)
	}
	model, err := root.IssueModel(testModelSerial)
	if err != nil {
		t.Fatalf("IssueModel() error = %v", err)
	}
	peer, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	dev, err := model.IssueDevice(testDeviceSerial, &peer.PublicKey)
	if err != nil {
		t.Fatalf("IssueDevice() error = %v", err)
	}
	return root, model, dev
}

func TestVerifyChain(t *testing.T) {
	root, _, dev := issueTestChain(t)

	if err := VerifyChain(&dev.Device, &dev.Model, root.PublicKey()); err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
	if err := dev.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestVerifyChainWrongRoot(t *testing.T) {
	_, _, dev := issueTestChain(t)
	other, _ := NewAuthority()

	err := VerifyChain(&dev.Device, &dev.Model, other.PublicKey())
	if !errors.Is(err, ErrSignature) {
		t.Errorf("VerifyChain() error = %v, want ErrSignature", err)
	}
}

func TestVerifyChainTampered(t *testing.T) {
	root, _, dev := issueTestChain(t)

	tests := []struct {
		name   string
		mutate func(d *DeviceCert, m *ModelCert)
	}{
		{"DeviceSignatureByte", func(d *DeviceCert, m *ModelCert) { d.Signature[len(d.Signature)-1] ^= 0x01 }},
		{"ModelSignatureByte", func(d *DeviceCert, m *ModelCert) { m.Signature[len(m.Signature)-1] ^= 0x01 }},
		{"DeviceSerial", func(d *DeviceCert, m *ModelCert) { d.Serial[0] ^= 0x01 }},
		{"ModelSerial", func(d *DeviceCert, m *ModelCert) { m.Serial[0] ^= 0x01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DeviceCert{
				Serial:    bytes.Clone(dev.Device.Serial),
				PublicKey: dev.Device.PublicKey,
				Signature: bytes.Clone(dev.Device.Signature),
			}
			m := ModelCert{
				Serial:    bytes.Clone(dev.Model.Serial),
				PublicKey: dev.Model.PublicKey,
				Signature: bytes.Clone(dev.Model.Signature),
			}
			tt.mutate(&d, &m)

			if err := VerifyChain(&d, &m, root.PublicKey()); !errors.Is(err, ErrSignature) {
				t.Errorf("VerifyChain() error = %v, want ErrSignature", err)
			}
		})
	}
}

func TestCheckDeviceSerial(t *testing.T) {
	revoked := NewRevocationList([]byte("REVOKED-01"))

	tests := []struct {
		name    string
		serial  []byte
		wantErr error
	}{
		{"Valid", []byte("DEV-00000001"), nil},
		{"TooShort", []byte("DEV"), ErrInvalidSerial},
		{"TooLong", bytes.Repeat([]byte{1}, MaxSerialLen+1), ErrInvalidSerial},
		{"Revoked", []byte("REVOKED-01"), ErrSerialRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDeviceSerial(tt.serial, revoked)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckDeviceSerial() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckModelSerial(t *testing.T) {
	revoked := NewRevocationList([]byte("MODEL-0001"))

	if err := CheckModelSerial([]byte("MODEL-0002"), revoked); err != nil {
		t.Errorf("CheckModelSerial() valid = %v, want nil", err)
	}
	if err := CheckModelSerial([]byte("MODEL-0001"), revoked); !errors.Is(err, ErrSerialRevoked) {
		t.Errorf("CheckModelSerial() revoked = %v, want ErrSerialRevoked", err)
	}
	if err := CheckModelSerial([]byte("M"), nil); !errors.Is(err, ErrInvalidSerial) {
		t.Errorf("CheckModelSerial() short = %v, want ErrInvalidSerial", err)
	}
}

func TestNilRevocationList(t *testing.T) {
	var l RevocationList
	if l.Revoked([]byte("anything")) {
		t.Error("Revoked() on nil list = true, want false")
	}
}

func TestSignVerifyParts(t *testing.T) {
	key, _ := GenerateKeyPair()
	sig, err := Sign(nil, key, []byte("ab"), []byte("c"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := Verify(&key.PublicKey, sig, []byte("ab"), []byte("c")); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	// Length prefixes keep part boundaries significant.
	if err := Verify(&key.PublicKey, sig, []byte("a"), []byte("bc")); err == nil {
		t.Error("Verify() with shifted boundary succeeded")
	}
	if err := Verify(nil, sig, []byte("ab")); !errors.Is(err, ErrSignature) {
		t.Errorf("Verify(nil key) error = %v, want ErrSignature", err)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	key, _ := GenerateKeyPair()
	der, err := MarshalPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPublicKey() error = %v", err)
	}
	pub, err := ParsePublicKey(der)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Error("parsed key differs")
	}

	if _, err := ParsePublicKey([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidCert) {
		t.Errorf("ParsePublicKey(garbage) error = %v, want ErrInvalidCert", err)
	}
}

func TestDeviceCredentialsValidate(t *testing.T) {
	_, _, dev := issueTestChain(t)
	other, _ := GenerateKeyPair()

	bad := *dev
	bad.Key = other
	if err := bad.Validate(); !errors.Is(err, ErrInvalidCert) {
		t.Errorf("Validate() mismatched key error = %v, want ErrInvalidCert", err)
	}

	bad = *dev
	bad.PeerPublicKey = nil
	if err := bad.Validate(); !errors.Is(err, ErrInvalidCert) {
		t.Errorf("Validate() missing peer error = %v, want ErrInvalidCert", err)
	}
}

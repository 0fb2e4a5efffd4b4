package cert

import (
	"crypto/ecdsa"
	"fmt"
)

// CheckSerial checks the serial length.
func CheckSerial(serial []byte) error {
	if len(serial) < MinSerialLen || len(serial) > MaxSerialLen {
		return fmt.Errorf("%w: length %d", ErrInvalidSerial, len(serial))
	}
	return nil
}

// CheckDeviceSerial checks the serial length and revocation status.
func CheckDeviceSerial(serial []byte, revoked RevocationList) error {
	return checkRevocable(serial, revoked)
}

// CheckModelSerial checks a model serial the same way against the model
// revocation list.
func CheckModelSerial(serial []byte, revoked RevocationList) error {
	return checkRevocable(serial, revoked)
}

func checkRevocable(serial []byte, revoked RevocationList) error {
	if err := CheckSerial(serial); err != nil {
		return err
	}
	if revoked.Revoked(serial) {
		return ErrSerialRevoked
	}
	return nil
}

// VerifyDeviceCert checks that modelKey signed the device certificate.
func VerifyDeviceCert(dc *DeviceCert, modelKey *ecdsa.PublicKey) error {
	if dc == nil || dc.PublicKey == nil {
		return ErrInvalidCert
	}
	tbs, err := DeviceTBS(dc.Serial, dc.PublicKey)
	if err != nil {
		return err
	}
	if err := Verify(modelKey, dc.Signature, tbs...); err != nil {
		return fmt.Errorf("device certificate: %w", err)
	}
	return nil
}

// VerifyModelCert checks that rootKey signed the model certificate.
func VerifyModelCert(mc *ModelCert, rootKey *ecdsa.PublicKey) error {
	if mc == nil || mc.PublicKey == nil {
		return ErrInvalidCert
	}
	tbs, err := ModelTBS(mc.Serial, mc.PublicKey)
	if err != nil {
		return err
	}
	if err := Verify(rootKey, mc.Signature, tbs...); err != nil {
		return fmt.Errorf("model certificate: %w", err)
	}
	return nil
}

// VerifyChain checks the whole chain up to rootKey.
func VerifyChain(dc *DeviceCert, mc *ModelCert, rootKey *ecdsa.PublicKey) error {
	if mc == nil {
		return ErrInvalidCert
	}
	if err := VerifyModelCert(mc, rootKey); err != nil {
		return err
	}
	return VerifyDeviceCert(dc, mc.PublicKey)
}

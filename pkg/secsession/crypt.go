package secsession

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// CryptMask selects which fields a sealed payload protects.
type CryptMask uint8

const (
	// MaskConfidential encrypts the payload. Without it the payload is
	// sent in the clear and only authenticated.
	MaskConfidential CryptMask = 1 << 0

	// MaskHeader binds the command header into the tag: class and id for
	// Encrypt, the whole encoded frame header for SealFrame.
	MaskHeader CryptMask = 1 << 1

	// MaskAll protects every field.
	MaskAll = MaskConfidential | MaskHeader

	maskKnown = MaskAll
)

// Sealed payload layout: mask(1) || counter(4) || body || tag(16).
const (
	sealedPrefix = 5

	// Overhead is the size a sealed payload adds to the plaintext.
	Overhead = sealedPrefix + wire.TagSize
)

// Nonce direction bytes keep device and gateway counters apart under the
// shared key.
func directionByte(r Role) byte {
	if r == RoleDevice {
		return 0x01
	}
	return 0x02
}

func (e *Engine) aead() (cipher.AEAD, error) {
	if e.state != StateSessionKeyReady || !e.handle.keyReady {
		return nil, ErrNotReady
	}
	if e.handle.cipher == nil {
		c, err := newAEAD(e.handle.suite.AEAD, e.handle.key[:])
		if err != nil {
			return nil, err
		}
		e.handle.cipher = c
	}
	return e.handle.cipher, nil
}

func nonceFor(r Role, counter uint32, size int) []byte {
	nonce := make([]byte, size)
	nonce[0] = directionByte(r)
	binary.BigEndian.PutUint32(nonce[size-4:], counter)
	return nonce
}

// classBinding is the header data Encrypt binds under MaskHeader.
func classBinding(class, id uint16, mask CryptMask) []byte {
	if mask&MaskHeader == 0 {
		return nil
	}
	b := binary.BigEndian.AppendUint16(nil, class)
	return binary.BigEndian.AppendUint16(b, id)
}

// headerBinding is the header data SealFrame binds. MaskHeader binds the
// whole encoded header. Without it the opcode and the control byte are
// still bound, so a sealed payload cannot change operation or flags.
func headerBinding(h *wire.Header, mask CryptMask) ([]byte, error) {
	b, err := wire.AppendHeader(nil, h)
	if err != nil {
		return nil, err
	}
	if mask&MaskHeader != 0 {
		return b, nil
	}
	return []byte{b[2] & 0x03, b[3]}, nil
}

// Encrypt seals payload for the command (class, id) under the session key.
func (e *Engine) Encrypt(payload []byte, class, id uint16, mask CryptMask) ([]byte, error) {
	return e.seal(payload, mask, classBinding(class, id, mask))
}

// SealFrame seals payload for the frame header h. h must be the header
// that is sent, with Secured set.
func (e *Engine) SealFrame(h *wire.Header, payload []byte, mask CryptMask) ([]byte, error) {
	bound, err := headerBinding(h, mask)
	if err != nil {
		return nil, errcode.Programmer("encrypt", err)
	}
	return e.seal(payload, mask, bound)
}

func (e *Engine) seal(payload []byte, mask CryptMask, bound []byte) ([]byte, error) {
	if mask&^maskKnown != 0 {
		return nil, errcode.Programmer("encrypt", fmt.Errorf("unknown mask bits 0x%02x", uint8(mask)))
	}
	c, err := e.aead()
	if err != nil {
		return nil, errcode.Protocol("encrypt", err)
	}

	h := e.handle
	if h.txCounter == ^uint32(0) {
		return nil, errcode.Protocol("encrypt", fmt.Errorf("%w: counter exhausted", ErrNotReady))
	}
	h.txCounter++

	prefix := make([]byte, sealedPrefix, sealedPrefix+len(payload)+wire.TagSize)
	prefix[0] = byte(mask)
	binary.BigEndian.PutUint32(prefix[1:], h.txCounter)

	nonce := nonceFor(e.cfg.Role, h.txCounter, c.NonceSize())
	aad := append(bytes.Clone(prefix), bound...)

	if mask&MaskConfidential != 0 {
		return c.Seal(prefix, nonce, payload, aad), nil
	}
	aad = append(aad, payload...)
	out := append(prefix, payload...)
	return c.Seal(out, nonce, nil, aad), nil
}

// Decrypt opens a sealed payload for (class, id). The sealed mask must
// include every bit of required. It returns the plaintext and the
// sender's counter.
func (e *Engine) Decrypt(sealed []byte, class, id uint16, required CryptMask) ([]byte, uint32, error) {
	return e.open(sealed, required, func(mask CryptMask) ([]byte, error) {
		return classBinding(class, id, mask), nil
	})
}

// OpenFrame opens a sealed payload received under the frame header h.
func (e *Engine) OpenFrame(h *wire.Header, sealed []byte, required CryptMask) ([]byte, uint32, error) {
	return e.open(sealed, required, func(mask CryptMask) ([]byte, error) {
		return headerBinding(h, mask)
	})
}

func (e *Engine) open(sealed []byte, required CryptMask, binding func(CryptMask) ([]byte, error)) ([]byte, uint32, error) {
	c, err := e.aead()
	if err != nil {
		return nil, 0, errcode.Protocol("decrypt", err)
	}
	if len(sealed) < Overhead {
		return nil, 0, errcode.Security("decrypt", fmt.Errorf("%w: %d bytes", ErrAuthFailed, len(sealed)))
	}

	mask := CryptMask(sealed[0])
	if mask&^maskKnown != 0 || mask&required != required {
		return nil, 0, errcode.Security("decrypt", fmt.Errorf("%w: mask 0x%02x", ErrAuthFailed, uint8(mask)))
	}
	bound, err := binding(mask)
	if err != nil {
		return nil, 0, errcode.Security("decrypt", fmt.Errorf("%w: %v", ErrAuthFailed, err))
	}
	counter := binary.BigEndian.Uint32(sealed[1:sealedPrefix])
	prefix := sealed[:sealedPrefix]
	body := sealed[sealedPrefix:]

	peer := RoleGateway
	if e.cfg.Role == RoleGateway {
		peer = RoleDevice
	}
	nonce := nonceFor(peer, counter, c.NonceSize())
	aad := append(bytes.Clone(prefix), bound...)

	if mask&MaskConfidential != 0 {
		plain, err := c.Open(nil, nonce, body, aad)
		if err != nil {
			return nil, 0, errcode.Security("decrypt", ErrAuthFailed)
		}
		return plain, counter, nil
	}

	clearText := body[:len(body)-wire.TagSize]
	tag := body[len(body)-wire.TagSize:]
	aad = append(aad, clearText...)
	if _, err := c.Open(nil, nonce, tag, aad); err != nil {
		return nil, 0, errcode.Security("decrypt", ErrAuthFailed)
	}
	plain := make([]byte, len(clearText))
	copy(plain, clearText)
	return plain, counter, nil
}

package secsession

import (
	"fmt"

	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Message is one handshake message: a command id in class
// wire.ClassSecureSession and its CBOR payload.
type Message struct {
	ID      uint16
	Payload []byte
}

// Every response type carries its status at key 1, so a status-only
// response decodes into any of them.

// CapabilityRequest lists the suites the device supports, in preference order.
// CBOR: { 1: aeads, 2: kdfs }
type CapabilityRequest struct {
	AEADs []AEADID `cbor:"1,keyasint"`
	KDFs  []KDFID  `cbor:"2,keyasint"`
}

// CapabilityResponse carries the selected suite.
// CBOR: { 1: status, 2: aead, 3: kdf }
type CapabilityResponse struct {
	Status wire.Status `cbor:"1,keyasint"`
	AEAD   AEADID      `cbor:"2,keyasint,omitempty"`
	KDF    KDFID       `cbor:"3,keyasint,omitempty"`
}

// ProvInit carries the device ephemeral key.
// CBOR: { 1: ephemeralKey, 2: transient, 3: requestedAddress, 4: keyRefresh, 5: signature }
type ProvInit struct {
	EphemeralKey     []byte `cbor:"1,keyasint"`
	Transient        []byte `cbor:"2,keyasint"`
	RequestedAddress uint32 `cbor:"3,keyasint,omitempty"`
	KeyRefresh       bool   `cbor:"4,keyasint,omitempty"`
	Signature        []byte `cbor:"5,keyasint"`
}

// ProvInitResponse assigns the network address.
// CBOR: { 1: status, 2: address, 3: ephemeralKey, 4: signature }
type ProvInitResponse struct {
	Status       wire.Status `cbor:"1,keyasint"`
	Address      uint32      `cbor:"2,keyasint,omitempty"`
	EphemeralKey []byte      `cbor:"3,keyasint,omitempty"`
	Signature    []byte      `cbor:"4,keyasint,omitempty"`
}

// HandShake carries the device nonce.
// CBOR: { 1: nonce }
type HandShake struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// RespHandShake carries the gateway nonce.
// CBOR: { 1: status, 2: nonce }
type RespHandShake struct {
	Status wire.Status `cbor:"1,keyasint"`
	Nonce  []byte      `cbor:"2,keyasint,omitempty"`
}

// CertSerial carries the device certificate serial.
// CBOR: { 1: serial }
type CertSerial struct {
	Serial []byte `cbor:"1,keyasint"`
}

// CertCountNonce announces the chain length.
// CBOR: { 1: count, 2: nonce }
type CertCountNonce struct {
	Count uint8  `cbor:"1,keyasint"`
	Nonce []byte `cbor:"2,keyasint"`
}

// DeviceCertMessage carries the device public key and a device signature
// over the transcript so far.
// CBOR: { 1: serial, 2: publicKey, 3: transcriptSignature }
type DeviceCertMessage struct {
	Serial              []byte `cbor:"1,keyasint"`
	PublicKey           []byte `cbor:"2,keyasint"`
	TranscriptSignature []byte `cbor:"3,keyasint"`
}

// ModelCertMessage carries the model public key and the chain signatures.
// CBOR: { 1: serial, 2: publicKey, 3: deviceCertSignature, 4: modelCertSignature }
type ModelCertMessage struct {
	Serial              []byte `cbor:"1,keyasint"`
	PublicKey           []byte `cbor:"2,keyasint"`
	DeviceCertSignature []byte `cbor:"3,keyasint"`
	ModelCertSignature  []byte `cbor:"4,keyasint"`
}

// Ack is the response to chain steps that carry no data back.
// CBOR: { 1: status }
type Ack struct {
	Status wire.Status `cbor:"1,keyasint"`
}

// Challenge is the gateway's response to ModelCertMessage.
// CBOR: { 1: status, 2: random }
type Challenge struct {
	Status wire.Status `cbor:"1,keyasint"`
	Random []byte      `cbor:"2,keyasint,omitempty"`
}

// ChallengeResponse proves possession of the device key.
// CBOR: { 1: signature }
type ChallengeResponse struct {
	Signature []byte `cbor:"1,keyasint"`
}

// AuthResult closes the handshake with a key confirmation.
// CBOR: { 1: status, 2: confirm }
type AuthResult struct {
	Status  wire.Status `cbor:"1,keyasint"`
	Confirm []byte      `cbor:"2,keyasint,omitempty"`
}

// encode marshals v into a message with the given id.
func encode(id uint16, v any) (Message, error) {
	data, err := wire.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", wire.CommandName(wire.ClassSecureSession, id), err)
	}
	return Message{ID: id, Payload: data}, nil
}

// decode unmarshals a message payload into v.
func decode(msg Message, v any) error {
	if err := wire.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", wire.CommandName(wire.ClassSecureSession, msg.ID), err)
	}
	return nil
}

// statusMessage returns a status-only response for id.
func statusMessage(id uint16, status wire.Status) Message {
	msg, _ := encode(id, Ack{Status: status})
	return msg
}

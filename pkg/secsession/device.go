package secsession

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Start begins a device handshake and returns the first request.
// Any previous session is zeroized. For a key refresh, requested is the
// address to keep.
func (e *Engine) Start(keyRefresh bool, requested uint32) (Message, error) {
	if e.cfg.Role != RoleDevice {
		return Message{}, errcode.Programmer("start", ErrInvalidState)
	}
	e.Deinit()
	e.handle.KeyRefresh = keyRefresh
	e.handle.RequestedAddress = requested

	msg, err := encode(wire.IDSecureSessionCapability, CapabilityRequest{
		AEADs: e.cfg.AEADs,
		KDFs:  e.cfg.KDFs,
	})
	if err != nil {
		return Message{}, errcode.Programmer("start", err)
	}
	e.send(msg)
	e.logger.Info("handshake started", "session", e.handle.ID, "keyRefresh", keyRefresh)
	return msg, nil
}

// Pending returns the request awaiting a response, for retransmission.
func (e *Engine) Pending() (Message, bool) {
	if e.pending == nil {
		return Message{}, false
	}
	return *e.pending, true
}

// send records an outbound device request.
func (e *Engine) send(msg Message) {
	e.handle.record(msg)
	e.pending = &msg
}

// HandleResponse processes a gateway response. It returns the next request
// to send, or nil when nothing follows (handshake complete or duplicate).
func (e *Engine) HandleResponse(msg Message) (*Message, error) {
	if e.cfg.Role != RoleDevice {
		return nil, errcode.Programmer("handle response", ErrInvalidState)
	}

	// A retransmitted response to a step already handled is ignored.
	if e.lastInbound != nil && bytes.Equal(e.lastInbound, inboundKey(msg)) {
		return nil, nil
	}
	if e.pending == nil || msg.ID != e.pending.ID {
		return nil, errcode.Protocol("handle response", ErrUnexpectedMessage)
	}
	e.lastInbound = inboundKey(msg)
	prior := e.handle.transcriptHash()
	e.handle.record(msg)

	switch msg.ID {
	case wire.IDSecureSessionCapability:
		return e.onCapabilityResponse(msg)
	case wire.IDSecureSessionProvInit:
		return e.onProvInitResponse(msg)
	case wire.IDSecureSessionHandShake:
		return e.onRespHandShake(msg)
	case wire.IDSecureSessionCertSerial:
		return e.onChainAck(msg, e.buildCertCountNonce)
	case wire.IDSecureSessionCertCountNonce:
		return e.onChainAck(msg, e.buildDeviceCert)
	case wire.IDSecureSessionDeviceCert:
		return e.onChainAck(msg, e.buildModelCert)
	case wire.IDSecureSessionModelCert:
		return e.onChallenge(msg)
	case wire.IDSecureSessionChallenge:
		return nil, e.onAuthResult(msg, prior)
	default:
		return nil, errcode.Protocol("handle response", ErrUnexpectedMessage)
	}
}

func inboundKey(msg Message) []byte {
	k := make([]byte, 0, 2+len(msg.Payload))
	k = append(k, byte(msg.ID>>8), byte(msg.ID))
	return append(k, msg.Payload...)
}

// next encodes and records the next request.
func (e *Engine) next(id uint16, v any) (*Message, error) {
	msg, err := encode(id, v)
	if err != nil {
		return nil, e.fail("encode", err)
	}
	e.send(msg)
	return &msg, nil
}

func (e *Engine) onCapabilityResponse(msg Message) (*Message, error) {
	var resp CapabilityResponse
	if err := decode(msg, &resp); err != nil {
		return nil, e.fail("capability", err)
	}
	if resp.Status.IsError() {
		return nil, e.fail("capability", statusError(resp.Status))
	}
	suite, ok := selectSuite([]AEADID{resp.AEAD}, []KDFID{resp.KDF}, e.cfg.AEADs, e.cfg.KDFs)
	if !ok {
		return nil, e.fail("capability", ErrNoCommonSuite)
	}
	e.handle.suite = suite
	e.setState(StateCapabilitiesExchanged)

	eph, err := ecdh.P256().GenerateKey(e.cfg.Rand)
	if err != nil {
		return nil, e.fail("prov init", err)
	}
	transient, err := e.random(TransientSize)
	if err != nil {
		return nil, e.fail("prov init", err)
	}
	e.handle.ephemeral = eph
	e.handle.transient = transient

	ephPub := eph.PublicKey().Bytes()
	sig, err := cert.Sign(e.cfg.Rand, e.cfg.Device.Key, provInitParts(ephPub, transient, e.handle.RequestedAddress)...)
	if err != nil {
		return nil, e.fail("prov init", err)
	}

	next, err := e.next(wire.IDSecureSessionProvInit, ProvInit{
		EphemeralKey:     ephPub,
		Transient:        transient,
		RequestedAddress: e.handle.RequestedAddress,
		KeyRefresh:       e.handle.KeyRefresh,
		Signature:        sig,
	})
	if err != nil {
		return nil, err
	}
	e.setState(StateEcdhSent)
	return next, nil
}

func (e *Engine) onProvInitResponse(msg Message) (*Message, error) {
	var resp ProvInitResponse
	if err := decode(msg, &resp); err != nil {
		return nil, e.fail("prov init", err)
	}
	if resp.Status.IsError() {
		return nil, e.fail("prov init", statusError(resp.Status))
	}

	h := e.handle
	devEph := h.ephemeral.PublicKey().Bytes()
	parts := provRespParts(resp.Address, resp.EphemeralKey, devEph, h.transient)
	if err := cert.Verify(e.cfg.Device.PeerPublicKey, resp.Signature, parts...); err != nil {
		return nil, e.fail("prov init", ErrSignatureInvalid)
	}

	peer, err := ecdh.P256().NewPublicKey(resp.EphemeralKey)
	if err != nil {
		return nil, e.fail("prov init", err)
	}
	shared, err := h.ephemeral.ECDH(peer)
	if err != nil {
		return nil, e.fail("prov init", err)
	}
	h.peerEphemeral = peer
	h.shared = shared
	h.Address = resp.Address

	nonce, err := e.random(NonceSize)
	if err != nil {
		return nil, e.fail("handshake", err)
	}
	h.nonce = nonce
	return e.next(wire.IDSecureSessionHandShake, HandShake{Nonce: nonce})
}

func (e *Engine) onRespHandShake(msg Message) (*Message, error) {
	var resp RespHandShake
	if err := decode(msg, &resp); err != nil {
		return nil, e.fail("handshake", err)
	}
	if resp.Status.IsError() {
		return nil, e.fail("handshake", statusError(resp.Status))
	}
	if len(resp.Nonce) != NonceSize {
		return nil, e.fail("handshake", ErrUnexpectedMessage)
	}
	e.handle.peerNonce = resp.Nonce
	e.setState(StateHandshakeDone)

	return e.next(wire.IDSecureSessionCertSerial, CertSerial{Serial: e.cfg.Device.Device.Serial})
}

// onChainAck handles the Ack for a chain step and sends the next one.
func (e *Engine) onChainAck(msg Message, build func() (*Message, error)) (*Message, error) {
	var ack Ack
	if err := decode(msg, &ack); err != nil {
		return nil, e.fail("certificate chain", err)
	}
	if ack.Status.IsError() {
		return nil, e.fail("certificate chain", statusError(ack.Status))
	}
	return build()
}

func (e *Engine) buildCertCountNonce() (*Message, error) {
	e.handle.flags.CertSerialChecked = true
	nonce, err := e.random(NonceSize)
	if err != nil {
		return nil, e.fail("certificate chain", err)
	}
	e.handle.chainNonce = nonce
	return e.next(wire.IDSecureSessionCertCountNonce, CertCountNonce{Count: cert.ChainDepth, Nonce: nonce})
}

func (e *Engine) buildDeviceCert() (*Message, error) {
	e.handle.flags.CountNonceReceived = true
	dc := e.cfg.Device.Device
	pub, err := cert.MarshalPublicKey(dc.PublicKey)
	if err != nil {
		return nil, e.fail("certificate chain", err)
	}
	sig, err := cert.Sign(e.cfg.Rand, e.cfg.Device.Key, e.handle.transcriptHash())
	if err != nil {
		return nil, e.fail("certificate chain", err)
	}
	return e.next(wire.IDSecureSessionDeviceCert, DeviceCertMessage{
		Serial:              dc.Serial,
		PublicKey:           pub,
		TranscriptSignature: sig,
	})
}

func (e *Engine) buildModelCert() (*Message, error) {
	e.handle.flags.DeviceSerialKeyReceived = true
	mc := e.cfg.Device.Model
	pub, err := cert.MarshalPublicKey(mc.PublicKey)
	if err != nil {
		return nil, e.fail("certificate chain", err)
	}
	return e.next(wire.IDSecureSessionModelCert, ModelCertMessage{
		Serial:              mc.Serial,
		PublicKey:           pub,
		DeviceCertSignature: e.cfg.Device.Device.Signature,
		ModelCertSignature:  mc.Signature,
	})
}

func (e *Engine) onChallenge(msg Message) (*Message, error) {
	var ch Challenge
	if err := decode(msg, &ch); err != nil {
		return nil, e.fail("challenge", err)
	}
	if ch.Status.IsError() {
		return nil, e.fail("challenge", statusError(ch.Status))
	}
	if len(ch.Random) != ChallengeSize {
		return nil, e.fail("challenge", ErrUnexpectedMessage)
	}
	e.handle.flags.ModelSerialKeyReceived = true
	e.handle.flags.SignaturesVerified = true
	e.handle.challenge = ch.Random

	sig, err := cert.Sign(e.cfg.Rand, e.cfg.Device.Key, e.challengeParts()...)
	if err != nil {
		return nil, e.fail("challenge", err)
	}
	return e.next(wire.IDSecureSessionChallenge, ChallengeResponse{Signature: sig})
}

// onAuthResult verifies the key confirmation. prior is the transcript up
// to the challenge response, which is what the gateway confirmed.
func (e *Engine) onAuthResult(msg Message, prior []byte) error {
	var res AuthResult
	if err := decode(msg, &res); err != nil {
		return e.fail("auth result", err)
	}
	if res.Status.IsError() {
		return e.fail("auth result", statusError(res.Status))
	}
	e.setState(StateAuthenticated)

	key, err := e.deriveSessionKey()
	if err != nil {
		return e.fail("key derivation", err)
	}
	if !hmac.Equal(res.Confirm, confirmation(key, prior)) {
		clear(key[:])
		return e.fail("key confirmation", ErrAuthFailed)
	}

	e.handle.key = key
	e.handle.keyReady = true
	e.pending = nil
	e.setState(StateSessionKeyReady)
	e.logger.Info("session key ready", "session", e.handle.ID, "address", e.handle.Address, "aead", e.handle.suite.AEAD)
	return nil
}

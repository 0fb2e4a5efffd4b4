package secsession

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// confirmation is the key confirmation MAC over a transcript hash.
func confirmation(key [KeySize]byte, transcript []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte("lrmgmt confirm"))
	mac.Write(transcript)
	return mac.Sum(nil)
}

// HandleRequest processes a device request and returns the response to
// send. On failure the response carries an error status and the error is
// returned alongside it.
func (e *Engine) HandleRequest(msg Message) (Message, error) {
	if e.cfg.Role != RoleGateway {
		return Message{}, errcode.Programmer("handle request", ErrInvalidState)
	}

	// Retransmitted request: answer with the cached response.
	if e.lastRequest != nil && e.lastRequest.ID == msg.ID && bytes.Equal(e.lastRequest.Payload, msg.Payload) {
		return e.lastResponse, nil
	}

	// A capability request always starts over, so a device that restarts
	// registration is not stuck behind a half-finished session.
	if msg.ID == wire.IDSecureSessionCapability && e.state != StateUninitialized {
		e.Deinit()
	}

	resp, err := e.dispatchRequest(msg)
	if err != nil {
		if resp.Payload == nil {
			resp = statusMessage(msg.ID, failureStatus(err))
		}
		return resp, err
	}

	e.handle.record(resp)
	req := msg
	e.lastRequest = &req
	e.lastResponse = resp
	return resp, nil
}

func failureStatus(err error) wire.Status {
	switch errcode.KindOf(err) {
	case errcode.KindSecurity:
		return wire.StatusAuthFailed
	case errcode.KindProtocol:
		return wire.StatusInvalidState
	default:
		return wire.StatusBusy
	}
}

func (e *Engine) dispatchRequest(msg Message) (Message, error) {
	f := &e.handle.flags
	want, ok := e.expectedRequest()
	if !ok || msg.ID != want {
		if e.state == StateFailed || e.state == StateSessionKeyReady {
			return Message{}, errcode.Protocol("handle request", ErrInvalidState)
		}
		return Message{}, e.fail("handle request", ErrUnexpectedMessage)
	}
	e.prior = e.handle.transcriptHash()
	e.handle.record(msg)

	switch msg.ID {
	case wire.IDSecureSessionCapability:
		return e.onCapabilityRequest(msg)
	case wire.IDSecureSessionProvInit:
		return e.onProvInit(msg)
	case wire.IDSecureSessionHandShake:
		return e.onHandShake(msg)
	case wire.IDSecureSessionCertSerial:
		return e.onCertSerial(msg, f)
	case wire.IDSecureSessionCertCountNonce:
		return e.onCertCountNonce(msg, f)
	case wire.IDSecureSessionDeviceCert:
		return e.onDeviceCert(msg, f)
	case wire.IDSecureSessionModelCert:
		return e.onModelCert(msg, f)
	default:
		return e.onChallengeResponse(msg)
	}
}

// expectedRequest returns the only request id acceptable in the current
// state. Chain steps are accepted in order and only once.
func (e *Engine) expectedRequest() (uint16, bool) {
	f := e.handle.flags
	switch e.state {
	case StateUninitialized:
		return wire.IDSecureSessionCapability, true
	case StateCapabilitiesExchanged:
		return wire.IDSecureSessionProvInit, true
	case StateEcdhSent:
		return wire.IDSecureSessionHandShake, true
	case StateHandshakeDone:
		switch {
		case !f.CertSerialChecked:
			return wire.IDSecureSessionCertSerial, true
		case !f.CountNonceReceived:
			return wire.IDSecureSessionCertCountNonce, true
		case !f.DeviceSerialKeyReceived:
			return wire.IDSecureSessionDeviceCert, true
		case !f.ModelSerialKeyReceived:
			return wire.IDSecureSessionModelCert, true
		default:
			return wire.IDSecureSessionChallenge, true
		}
	default:
		return 0, false
	}
}

// ack encodes a success Ack for id.
func (e *Engine) ack(id uint16) (Message, error) {
	return encode(id, Ack{Status: wire.StatusSuccess})
}

func (e *Engine) onCapabilityRequest(msg Message) (Message, error) {
	var req CapabilityRequest
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("capability", err)
	}
	suite, ok := selectSuite(e.cfg.AEADs, e.cfg.KDFs, req.AEADs, req.KDFs)
	if !ok {
		resp, _ := encode(msg.ID, CapabilityResponse{Status: wire.StatusRejected})
		return resp, e.fail("capability", ErrNoCommonSuite)
	}
	e.handle.suite = suite
	e.setState(StateCapabilitiesExchanged)
	return encode(msg.ID, CapabilityResponse{AEAD: suite.AEAD, KDF: suite.KDF})
}

func (e *Engine) onProvInit(msg Message) (Message, error) {
	var req ProvInit
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("prov init", err)
	}
	if len(req.Transient) != TransientSize {
		return Message{}, e.fail("prov init", ErrUnexpectedMessage)
	}
	peer, err := ecdh.P256().NewPublicKey(req.EphemeralKey)
	if err != nil {
		return Message{}, e.fail("prov init", err)
	}
	eph, err := ecdh.P256().GenerateKey(e.cfg.Rand)
	if err != nil {
		return Message{}, e.fail("prov init", err)
	}
	shared, err := eph.ECDH(peer)
	if err != nil {
		return Message{}, e.fail("prov init", err)
	}

	h := e.handle
	h.ephemeral = eph
	h.peerEphemeral = peer
	h.shared = shared
	h.transient = bytes.Clone(req.Transient)
	h.KeyRefresh = req.KeyRefresh
	h.RequestedAddress = req.RequestedAddress

	// The device key is only known once the chain arrives, so the
	// signature is checked after ModelCert.
	h.provInitSig = req.Signature
	h.provInitParts = provInitParts(req.EphemeralKey, req.Transient, req.RequestedAddress)

	requested := uint32(0)
	if req.KeyRefresh {
		requested = req.RequestedAddress
	}
	h.Address = e.cfg.AssignAddress(requested)

	gwEph := eph.PublicKey().Bytes()
	sig, err := cert.Sign(e.cfg.Rand, e.cfg.Gateway.IdentityKey, provRespParts(h.Address, gwEph, req.EphemeralKey, req.Transient)...)
	if err != nil {
		return Message{}, e.fail("prov init", err)
	}
	e.setState(StateEcdhSent)
	return encode(msg.ID, ProvInitResponse{Address: h.Address, EphemeralKey: gwEph, Signature: sig})
}

func (e *Engine) onHandShake(msg Message) (Message, error) {
	var req HandShake
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("handshake", err)
	}
	if len(req.Nonce) != NonceSize {
		return Message{}, e.fail("handshake", ErrUnexpectedMessage)
	}
	nonce, err := e.random(NonceSize)
	if err != nil {
		return Message{}, e.fail("handshake", err)
	}
	e.handle.peerNonce = req.Nonce
	e.handle.nonce = nonce
	e.setState(StateHandshakeDone)
	return encode(msg.ID, RespHandShake{Nonce: nonce})
}

func (e *Engine) onCertSerial(msg Message, f *Flags) (Message, error) {
	var req CertSerial
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("cert serial", err)
	}
	if err := cert.CheckDeviceSerial(req.Serial, e.cfg.Gateway.Revoked); err != nil {
		return Message{}, e.fail("cert serial", errors.Join(ErrCertificate, err))
	}
	e.handle.deviceSerial = bytes.Clone(req.Serial)
	f.CertSerialChecked = true
	return e.ack(msg.ID)
}

func (e *Engine) onCertCountNonce(msg Message, f *Flags) (Message, error) {
	var req CertCountNonce
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("cert count", err)
	}
	if req.Count != cert.ChainDepth {
		return Message{}, e.fail("cert count", errors.Join(ErrCertificate, cert.ErrChainDepth))
	}
	if len(req.Nonce) != NonceSize {
		return Message{}, e.fail("cert count", ErrUnexpectedMessage)
	}
	e.handle.chainNonce = bytes.Clone(req.Nonce)
	f.CountNonceReceived = true
	return e.ack(msg.ID)
}

// onDeviceCert checks the transcript signature. The transcript already
// includes this request, so verification uses the hash taken before it.
func (e *Engine) onDeviceCert(msg Message, f *Flags) (Message, error) {
	var req DeviceCertMessage
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("device cert", err)
	}
	if !bytes.Equal(req.Serial, e.handle.deviceSerial) {
		return Message{}, e.fail("device cert", errors.Join(ErrCertificate, cert.ErrSerialMismatch))
	}
	pub, err := cert.ParsePublicKey(req.PublicKey)
	if err != nil {
		return Message{}, e.fail("device cert", errors.Join(ErrCertificate, err))
	}
	if err := cert.Verify(pub, req.TranscriptSignature, e.prior); err != nil {
		return Message{}, e.fail("device cert", ErrSignatureInvalid)
	}
	e.handle.devicePublic = pub
	f.DeviceSerialKeyReceived = true
	return e.ack(msg.ID)
}

func (e *Engine) onModelCert(msg Message, f *Flags) (Message, error) {
	var req ModelCertMessage
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("model cert", err)
	}
	modelPub, err := cert.ParsePublicKey(req.PublicKey)
	if err != nil {
		return Message{}, e.fail("model cert", errors.Join(ErrCertificate, err))
	}
	if err := cert.CheckModelSerial(req.Serial, e.cfg.Gateway.RevokedModels); err != nil {
		return Message{}, e.fail("model cert", errors.Join(ErrCertificate, err))
	}

	h := e.handle
	dc := &cert.DeviceCert{Serial: h.deviceSerial, PublicKey: h.devicePublic, Signature: req.DeviceCertSignature}
	mc := &cert.ModelCert{Serial: req.Serial, PublicKey: modelPub, Signature: req.ModelCertSignature}
	if err := cert.VerifyChain(dc, mc, e.cfg.Gateway.RootPublicKey); err != nil {
		return Message{}, e.fail("model cert", errors.Join(ErrSignatureInvalid, err))
	}
	f.ModelSerialKeyReceived = true

	if err := cert.Verify(h.devicePublic, h.provInitSig, h.provInitParts...); err != nil {
		return Message{}, e.fail("prov init signature", ErrSignatureInvalid)
	}
	f.SignaturesVerified = true

	challenge, err := e.random(ChallengeSize)
	if err != nil {
		return Message{}, e.fail("challenge", err)
	}
	h.challenge = challenge
	return encode(msg.ID, Challenge{Random: challenge})
}

func (e *Engine) onChallengeResponse(msg Message) (Message, error) {
	var req ChallengeResponse
	if err := decode(msg, &req); err != nil {
		return Message{}, e.fail("challenge", err)
	}
	if err := cert.Verify(e.handle.devicePublic, req.Signature, e.challengeParts()...); err != nil {
		return Message{}, e.fail("challenge", ErrSignatureInvalid)
	}
	e.setState(StateAuthenticated)

	key, err := e.deriveSessionKey()
	if err != nil {
		return Message{}, e.fail("key derivation", err)
	}
	confirm := confirmation(key, e.handle.transcriptHash())

	e.handle.key = key
	e.handle.keyReady = true
	e.setState(StateSessionKeyReady)
	e.logger.Info("session key ready", "session", e.handle.ID, "address", e.handle.Address, "serial", e.handle.deviceSerial)
	return encode(msg.ID, AuthResult{Confirm: confirm})
}

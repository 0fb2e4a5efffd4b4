// Package secsession runs the secure-session handshake between a device and
// its gateway and protects command payloads with the resulting key.
//
// One Engine implements both roles. The device drives the exchange; every
// device request is answered by exactly one gateway response carrying the
// same command id in class wire.ClassSecureSession:
//
//	Capability      AEAD/KDF negotiation
//	ProvInit        ephemeral ECDH keys, signed by both sides; assigns the address
//	HandShake       nonce exchange
//	CertSerial      device serial, checked against the revocation list
//	CertCountNonce  chain length and a fresh nonce
//	DeviceCert      device public key plus a signature over the transcript
//	ModelCert       model key and both chain signatures; answered with a challenge
//	Challenge       challenge signature; answered with the key confirmation
//
// Engine states:
//
//	Uninitialized -> CapabilitiesExchanged -> EcdhSent -> HandshakeDone
//	              -> Authenticated -> SessionKeyReady
//
// Any verification failure moves the engine to Failed and zeroizes the
// handle. No key is exposed before SessionKeyReady.
//
// The engine is not safe for concurrent use. It is owned by the processing
// loop; randomness comes from an io.Reader that must be safe to call from
// any goroutine.
package secsession

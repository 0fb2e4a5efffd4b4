// Package cert holds the device credential chain and the stores that
// serve it.
//
// The chain has two certificates below the trust anchor:
//
//	root key --signs--> model certificate (model serial, model public key)
//	model key --signs--> device certificate (device serial, device public key)
//
// A device store exposes the device private key, both certificates and the
// trusted gateway identity key. A gateway store exposes the gateway identity
// private key, the root public key and the serial revocation list. Stores are
// read-only to the session engine.
package cert

package secsession

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/google/uuid"
)

// Handle is the per-session key material and validation progress.
type Handle struct {
	ID uuid.UUID

	// Address is the device's assigned network address.
	Address uint32

	KeyRefresh       bool
	RequestedAddress uint32

	suite Suite

	ephemeral     *ecdh.PrivateKey
	peerEphemeral *ecdh.PublicKey
	shared        []byte

	transient  []byte
	nonce      []byte
	peerNonce  []byte
	chainNonce []byte
	challenge  []byte

	// Gateway side: device identity learned from the chain.
	deviceSerial  []byte
	devicePublic  *ecdsa.PublicKey
	provInitSig   []byte
	provInitParts [][]byte

	flags Flags

	transcript hash.Hash

	key      [KeySize]byte
	keyReady bool
	cipher   cipher.AEAD

	txCounter uint32
}

func newHandle() *Handle {
	return &Handle{
		ID:         uuid.New(),
		transcript: sha256.New(),
	}
}

// record appends a message to the transcript.
func (h *Handle) record(msg Message) {
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[:2], msg.ID)
	binary.BigEndian.PutUint32(hdr[2:], uint32(len(msg.Payload)))
	h.transcript.Write(hdr[:])
	h.transcript.Write(msg.Payload)
}

// transcriptHash returns the hash of all messages recorded so far.
func (h *Handle) transcriptHash() []byte {
	return h.transcript.Sum(nil)
}

// zeroize wipes key material. The handle must not be used afterwards.
func (h *Handle) zeroize() {
	clear(h.key[:])
	h.keyReady = false
	h.cipher = nil
	clear(h.shared)
	clear(h.transient)
	clear(h.nonce)
	clear(h.peerNonce)
	clear(h.chainNonce)
	clear(h.challenge)
	h.shared = nil
	h.ephemeral = nil
	h.peerEphemeral = nil
	h.devicePublic = nil
	h.provInitSig = nil
	h.provInitParts = nil
	h.flags = Flags{}
	h.transcript.Reset()
}

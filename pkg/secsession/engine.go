package secsession

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Handshake sizes.
const (
	NonceSize     = 16
	TransientSize = 16
	ChallengeSize = 32
)

// Session errors.
var (
	ErrInvalidState      = errors.New("secsession: invalid state")
	ErrUnexpectedMessage = errors.New("secsession: unexpected message")
	ErrNoCommonSuite     = errors.New("secsession: no common cipher suite")
	ErrSignatureInvalid  = errors.New("secsession: signature invalid")
	ErrCertificate       = errors.New("secsession: certificate rejected")
	ErrRejected          = errors.New("secsession: rejected by peer")
	ErrAuthFailed        = errors.New("secsession: authentication failed")
	ErrNotReady          = errors.New("secsession: session key not ready")
	ErrMissingConfig     = errors.New("secsession: missing credentials")
)

// Config configures an Engine.
type Config struct {
	Role Role

	// Device holds the device credentials. Required for RoleDevice.
	Device *cert.DeviceCredentials

	// Gateway holds the gateway credentials. Required for RoleGateway.
	Gateway *cert.GatewayCredentials

	// AEADs and KDFs list supported suites in preference order.
	AEADs []AEADID
	KDFs  []KDFID

	// AssignAddress returns the address for a provisioning request.
	// requested is nonzero for key refresh. Gateway only.
	AssignAddress func(requested uint32) uint32

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader

	Logger *slog.Logger

	// OnStateChange is called on every state change.
	OnStateChange func(old, new State)
}

// Info is the outcome of a completed handshake.
type Info struct {
	SessionID    uuid.UUID
	Key          [KeySize]byte
	Suite        Suite
	Address      uint32
	DeviceSerial []byte
}

// Engine runs one side of the handshake.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	state  State
	handle *Handle

	// Device side: the request awaiting a response.
	pending     *Message
	lastInbound []byte

	// Gateway side: the last request and its response, for retransmits.
	lastRequest  *Message
	lastResponse Message

	// prior is the transcript hash before the request being handled.
	prior []byte
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	switch cfg.Role {
	case RoleDevice:
		if cfg.Device == nil {
			return nil, ErrMissingConfig
		}
	case RoleGateway:
		if cfg.Gateway == nil {
			return nil, ErrMissingConfig
		}
		if cfg.AssignAddress == nil {
			return nil, fmt.Errorf("%w: address allocator", ErrMissingConfig)
		}
	default:
		return nil, fmt.Errorf("%w: role %d", ErrMissingConfig, cfg.Role)
	}
	if len(cfg.AEADs) == 0 {
		cfg.AEADs = DefaultAEADs
	}
	if len(cfg.KDFs) == 0 {
		cfg.KDFs = DefaultKDFs
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "secsession", "role", cfg.Role.String()),
		handle: newHandle(),
	}, nil
}

// Role returns the engine role.
func (e *Engine) Role() Role { return e.cfg.Role }

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Flags returns the chain validation progress.
func (e *Engine) Flags() Flags { return e.handle.flags }

// GeneratedInfo returns the session outcome once the key is ready.
func (e *Engine) GeneratedInfo() (Info, error) {
	if e.state != StateSessionKeyReady || !e.handle.keyReady {
		return Info{}, errcode.Protocol("generated info", ErrNotReady)
	}
	h := e.handle
	return Info{
		SessionID:    h.ID,
		Key:          h.key,
		Suite:        h.suite,
		Address:      h.Address,
		DeviceSerial: bytes.Clone(h.deviceSerial),
	}, nil
}

// Deinit zeroizes the handle and returns the engine to Uninitialized.
func (e *Engine) Deinit() {
	e.handle.zeroize()
	e.handle = newHandle()
	e.pending = nil
	e.lastInbound = nil
	e.lastRequest = nil
	e.lastResponse = Message{}
	e.setState(StateUninitialized)
}

func (e *Engine) setState(s State) {
	if s == e.state {
		return
	}
	old := e.state
	e.state = s
	e.logger.Debug("state change", "from", old, "to", s)
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(old, s)
	}
}

// fail moves to Failed and wipes the handle. It returns err classified
// as a security error.
func (e *Engine) fail(op string, err error) error {
	e.logger.Warn("handshake failed", "op", op, "error", err)
	e.handle.zeroize()
	e.pending = nil
	e.setState(StateFailed)
	return errcode.Security(op, err)
}

func (e *Engine) random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.cfg.Rand, b); err != nil {
		return nil, errcode.Transport("random", err)
	}
	return b, nil
}

// salt binds both handshake nonces into key derivation, device first.
func (e *Engine) salt() []byte {
	h := e.handle
	dev, gw := h.nonce, h.peerNonce
	if e.cfg.Role == RoleGateway {
		dev, gw = h.peerNonce, h.nonce
	}
	out := make([]byte, 0, len(dev)+len(gw))
	out = append(out, dev...)
	return append(out, gw...)
}

// deriveSessionKey derives the session key. It is only called once both nonces
// and the shared secret exist.
func (e *Engine) deriveSessionKey() ([KeySize]byte, error) {
	return deriveKey(e.handle.suite.KDF, e.handle.shared, e.salt())
}

// ephemeralKeys returns (device, gateway) ephemeral public keys.
func (e *Engine) ephemeralKeys() (dev, gw []byte) {
	h := e.handle
	local := h.ephemeral.PublicKey().Bytes()
	peer := h.peerEphemeral.Bytes()
	if e.cfg.Role == RoleDevice {
		return local, peer
	}
	return peer, local
}

// challengeParts is what the device signs in its challenge response.
func (e *Engine) challengeParts() [][]byte {
	h := e.handle
	dev, gw := e.ephemeralKeys()
	devNonce, gwNonce := h.nonce, h.peerNonce
	if e.cfg.Role == RoleGateway {
		devNonce, gwNonce = h.peerNonce, h.nonce
	}
	return [][]byte{[]byte("lrmgmt challenge"), h.challenge, dev, gw, devNonce, gwNonce}
}

func addressBytes(addr uint32) []byte {
	return []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// provInitParts is what the device signs in ProvInit.
func provInitParts(eph, transient []byte, requested uint32) [][]byte {
	return [][]byte{[]byte("lrmgmt prov init"), eph, transient, addressBytes(requested)}
}

// provRespParts is what the gateway signs in ProvInitResponse.
func provRespParts(addr uint32, gwEph, devEph, transient []byte) [][]byte {
	return [][]byte{[]byte("lrmgmt prov resp"), addressBytes(addr), gwEph, devEph, transient}
}

// statusError maps a nonzero peer status to an error.
func statusError(status wire.Status) error {
	return fmt.Errorf("%w: %s", ErrRejected, status)
}

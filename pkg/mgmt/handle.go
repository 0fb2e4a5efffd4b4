package mgmt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/connection"
	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Defaults.
const (
	DefaultJoinDelay         = 2 * time.Second
	DefaultJoinJitter        = 0.5
	DefaultMaxJoinRetries    = 5
	DefaultSyncInterval      = time.Hour
	DefaultFactoryResetDelay = time.Second
	DefaultResyncDelay       = 5 * time.Second
)

// DefaultSuspendIntervals back off failed one-shot clock syncs.
var DefaultSuspendIntervals = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
}

// Built-in configuration parameter ids.
const (
	// ParamKeepAliveInterval is the keep-alive interval in seconds.
	ParamKeepAliveInterval uint16 = 1

	// ParamSyncInterval is the network clock sync interval in seconds.
	ParamSyncInterval uint16 = 2
)

// Management errors.
var (
	ErrJoinFailed   = errors.New("join failed")
	ErrJoinRejected = errors.New("join rejected")
	ErrMissing      = errors.New("management core requires a queue and a sender")
	ErrSyncFailed   = errors.New("clock sync failed")
	ErrInvalidMode  = errors.New("invalid clock sync mode")
)

// Sender transmits management commands. *dispatch.Dispatcher implements it.
type Sender interface {
	Send(dst link.Address, desc wire.Descriptor, payload []byte, opts dispatch.SendOptions, done func(dispatch.Result)) error
}

// Config configures a Handle.
type Config struct {
	Queue  *eventq.Queue
	Sender Sender

	// Registry receives the device-side handlers (configuration, clock
	// sync mode, factory reset). Optional.
	Registry *dispatch.Registry

	// Gateway is the destination of management commands.
	Gateway link.Address

	// Store persists identifiers and configuration. Optional.
	Store persistence.Store

	// Secure seals outbound commands and requires sealed inbound ones.
	Secure bool

	// JoinDelay is the base delay before a join request. JoinJitter adds
	// up to JoinDelay*JoinJitter at random.
	JoinDelay  time.Duration
	JoinJitter float64

	// JoinBackoff paces join retries.
	JoinBackoff connection.BackoffConfig

	// MaxJoinRetries bounds the retries after the first join attempt.
	MaxJoinRetries int

	// KeepAliveInterval is the ping period. Zero disables keep-alive.
	KeepAliveInterval time.Duration

	// ResyncDelay is the keep-alive delay after a resync event.
	ResyncDelay time.Duration

	SyncInterval     time.Duration
	SuspendIntervals []time.Duration

	FactoryResetDelay time.Duration

	// Rand returns a value in [0, 1) for join jitter.
	Rand func() float64

	// OnJoin reports the end of every join cycle.
	OnJoin func(JoinResult)

	// OnClockSync reports each applied clock correction.
	OnClockSync func(offset time.Duration)

	// OnFactoryReset is called after a factory reset has run.
	OnFactoryReset func()

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

type teardownHook struct {
	name string
	fn   func()
}

// Handle is the management core context of one device.
type Handle struct {
	cfg    Config
	queue  *eventq.Queue
	sender Sender
	logger *slog.Logger
	plog   log.Logger

	startedAt time.Time
	address   link.Address
	paired    bool
	groupID   uint32
	auxID     uint32

	keepAlive  *eventq.Event
	kaInterval time.Duration
	kaSeq      uint32

	sync         SyncContext
	syncEv       *eventq.Event
	syncInterval time.Duration
	syncGen      uint64
	clockOffset  time.Duration

	join        JoinContext
	joinEv      *eventq.Event
	joinBackoff *connection.Backoff
	joinReason  NetworkState
	joinGen     uint64

	resetEv  *eventq.Event
	teardown []teardownHook

	params *ConfigRegistry
}

// New creates a handle, restores persisted state and registers the
// device-side handlers.
func New(cfg Config) (*Handle, error) {
	if cfg.Queue == nil || cfg.Sender == nil {
		return nil, errcode.Programmer("mgmt.New", ErrMissing)
	}
	if cfg.JoinDelay <= 0 {
		cfg.JoinDelay = DefaultJoinDelay
	}
	if cfg.JoinJitter < 0 {
		cfg.JoinJitter = 0
	}
	if cfg.MaxJoinRetries <= 0 {
		cfg.MaxJoinRetries = DefaultMaxJoinRetries
	}
	if cfg.ResyncDelay <= 0 {
		cfg.ResyncDelay = DefaultResyncDelay
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if len(cfg.SuspendIntervals) == 0 {
		cfg.SuspendIntervals = DefaultSuspendIntervals
	}
	if cfg.FactoryResetDelay <= 0 {
		cfg.FactoryResetDelay = DefaultFactoryResetDelay
	}
	if cfg.JoinBackoff.Rand == nil {
		cfg.JoinBackoff.Rand = cfg.Rand
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &Handle{
		cfg:          cfg,
		queue:        cfg.Queue,
		sender:       cfg.Sender,
		logger:       logger.With("component", "mgmt"),
		plog:         log.OrNoop(cfg.ProtocolLogger),
		startedAt:    cfg.Queue.Now(),
		kaInterval:   cfg.KeepAliveInterval,
		syncInterval: cfg.SyncInterval,
		joinBackoff:  connection.NewBackoffWithConfig(cfg.JoinBackoff),
	}
	h.keepAlive = eventq.NewEvent("keep-alive", h.onKeepAlive)
	h.syncEv = eventq.NewEvent("clock-sync", h.onSync)
	h.joinEv = eventq.NewEvent("join", h.onJoin)
	h.resetEv = eventq.NewEvent("factory-reset", h.onFactoryReset)
	h.params = newConfigRegistry(h.save)

	if err := h.restore(); err != nil {
		return nil, err
	}
	if err := h.registerBuiltinParams(); err != nil {
		return nil, err
	}
	if cfg.Registry != nil {
		if err := h.registerHandlers(cfg.Registry); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Params returns the configuration registry.
func (h *Handle) Params() *ConfigRegistry {
	return h.params
}

// Now returns the node clock: the queue time corrected by clock sync.
func (h *Handle) Now() time.Time {
	return h.queue.Now().Add(h.clockOffset)
}

// ClockOffset returns the accumulated clock correction.
func (h *Handle) ClockOffset() time.Duration {
	return h.clockOffset
}

// Address returns the assigned network address.
func (h *Handle) Address() link.Address {
	return h.address
}

// Paired reports whether registration has completed.
func (h *Handle) Paired() bool {
	return h.paired
}

// GroupID returns the group identifier assigned at join.
func (h *Handle) GroupID() uint32 {
	return h.groupID
}

// AuxID returns the auxiliary identifier assigned at join.
func (h *Handle) AuxID() uint32 {
	return h.auxID
}

// SetPaired records a completed registration and the assigned address,
// and counts as a resync event for keep-alive.
func (h *Handle) SetPaired(addr link.Address) {
	h.paired = true
	h.address = addr
	h.save()
	h.resync()
}

// SetGateway changes the destination of management commands.
func (h *Handle) SetGateway(addr link.Address) {
	h.cfg.Gateway = addr
}

func (h *Handle) send(desc wire.Descriptor, msg any, responseRequired bool, done func(dispatch.Result)) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return errcode.Programmer("mgmt.send", err)
	}
	opts := dispatch.SendOptions{
		ResponseRequired: responseRequired,
		Secure:           h.cfg.Secure,
	}
	return h.sender.Send(h.cfg.Gateway, desc, payload, opts, done)
}

// resync moves the next keep-alive after an event that requires the
// gateway to hear from the device soon.
func (h *Handle) resync() {
	if h.keepAlive.Pending() {
		h.Reschedule(h.cfg.ResyncDelay)
	}
}

func (h *Handle) restore() error {
	if h.cfg.Store == nil {
		return nil
	}
	st, err := h.cfg.Store.LoadDevice()
	if err != nil {
		return fmt.Errorf("restore device state: %w", err)
	}
	if st == nil {
		return nil
	}
	h.address = link.Address(st.Address)
	h.paired = st.Paired
	h.groupID = st.GroupID
	h.auxID = st.AuxID
	h.params.restore(st.Config)
	h.logger.Info("state restored", "address", h.address, "paired", h.paired)
	return nil
}

func (h *Handle) save() {
	if h.cfg.Store == nil {
		return
	}
	st := &persistence.DeviceState{
		Address: uint32(h.address),
		Paired:  h.paired,
		GroupID: h.groupID,
		AuxID:   h.auxID,
		Config:  h.params.Values(),
	}
	if err := h.cfg.Store.SaveDevice(st); err != nil {
		h.logger.Error("persist device state", "err", err)
	}
}

func (h *Handle) registerBuiltinParams() error {
	ka := NewNumericParam(uint32(h.kaInterval/time.Second), 0, 7*24*3600, func(v uint32) {
		h.SetKeepAliveInterval(time.Duration(v) * time.Second)
	})
	if err := h.params.Register(ParamKeepAliveInterval, ka); err != nil {
		return err
	}
	si := NewNumericParam(uint32(h.syncInterval/time.Second), 60, 7*24*3600, func(v uint32) {
		h.syncInterval = time.Duration(v) * time.Second
	})
	return h.params.Register(ParamSyncInterval, si)
}

func (h *Handle) logState(entity log.StateEntity, from, to fmt.Stringer, reason string) {
	h.plog.Log(log.Event{
		Timestamp:   h.queue.Now(),
		Direction:   log.DirectionOut,
		Layer:       log.LayerService,
		Category:    log.CategoryState,
		LocalRole:   log.RoleDevice,
		Remote:      h.cfg.Gateway.String(),
		StateChange: &log.StateChangeEvent{Entity: entity, OldState: from.String(), NewState: to.String(), Reason: reason},
	})
}

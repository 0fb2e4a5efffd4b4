package service

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/registration"
	"github.com/lrmgmt/lrmgmt-go/pkg/replay"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// DeviceConfig configures a Device.
type DeviceConfig struct {
	Queue *eventq.Queue
	Link  link.NetworkInterface

	Credentials *cert.DeviceCredentials

	// Gateway is the address of the gateway.
	Gateway link.Address

	// Store persists identifiers and configuration. Optional.
	Store persistence.Store

	// AEADs and KDFs are offered in preference order. Empty uses the
	// secure session defaults.
	AEADs []secsession.AEADID
	KDFs  []secsession.KDFID

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader

	// RegistrationTimeout bounds each registration attempt.
	RegistrationTimeout time.Duration

	Policies    *dispatch.PolicyTable
	Replay      replay.Config
	DefaultTTL  time.Duration
	SendTimeout time.Duration

	// Mgmt carries the management core settings. Queue, Sender, Registry,
	// Gateway and Store are filled in by NewDevice.
	Mgmt mgmt.Config

	// OnRegistration reports the outcome of every finished attempt.
	OnRegistration func(registration.Outcome)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Device is an endpoint node.
type Device struct {
	cfg    DeviceConfig
	queue  *eventq.Queue
	link   link.NetworkInterface
	logger *slog.Logger
	plog   log.Logger

	dispatcher *dispatch.Dispatcher
	session    *secsession.Engine
	reg        *registration.Controller
	mgmt       *mgmt.Handle

	// gen invalidates results of abandoned handshakes.
	gen uint64
}

// NewDevice assembles a device node and restores its persisted state.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Queue == nil || cfg.Link == nil || cfg.Credentials == nil {
		return nil, errcode.Programmer("service.NewDevice", ErrMissingConfig)
	}
	if cfg.Gateway == link.Unassigned {
		return nil, errcode.Programmer("service.NewDevice", fmt.Errorf("%w: gateway address", ErrMissingConfig))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Device{
		cfg:    cfg,
		queue:  cfg.Queue,
		link:   cfg.Link,
		logger: logger.With("component", "device"),
		plog:   log.OrNoop(cfg.ProtocolLogger),
	}

	var err error
	d.dispatcher, err = dispatch.New(dispatch.Config{
		Queue:          cfg.Queue,
		Link:           cfg.Link,
		Policies:       cfg.Policies,
		Replay:         cfg.Replay,
		DefaultTTL:     cfg.DefaultTTL,
		SendTimeout:    cfg.SendTimeout,
		Role:           log.RoleDevice,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}

	d.session, err = secsession.New(secsession.Config{
		Role:   secsession.RoleDevice,
		Device: cfg.Credentials,
		AEADs:  cfg.AEADs,
		KDFs:   cfg.KDFs,
		Rand:   cfg.Rand,
		Logger: logger,
		OnStateChange: func(from, to secsession.State) {
			d.logState(log.StateEntitySession, from, to)
		},
	})
	if err != nil {
		return nil, err
	}

	d.reg, err = registration.New(registration.Config{
		Queue:         cfg.Queue,
		Timeout:       cfg.RegistrationTimeout,
		OnStart:       d.startHandshake,
		OnTeardown:    d.teardownSession,
		OnStateChange: func(from, to registration.State) {
			d.logState(log.StateEntityRegistration, from, to)
		},
		OnFinish: cfg.OnRegistration,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	mc := cfg.Mgmt
	mc.Queue = cfg.Queue
	mc.Sender = d.dispatcher
	mc.Registry = d.dispatcher.Registry()
	mc.Gateway = cfg.Gateway
	mc.Store = cfg.Store
	mc.Logger = logger
	mc.ProtocolLogger = cfg.ProtocolLogger
	onReset := mc.OnFactoryReset
	mc.OnFactoryReset = func() {
		d.link.SetLocalAddress(link.Unassigned)
		if onReset != nil {
			onReset()
		}
	}
	d.mgmt, err = mgmt.New(mc)
	if err != nil {
		return nil, err
	}
	d.mgmt.AddTeardown("registration", d.reg.Reset)
	d.mgmt.AddTeardown("session", func() { d.teardownSession(registration.StateCancelled) })

	if d.mgmt.Paired() {
		d.link.SetLocalAddress(d.mgmt.Address())
	}
	receive(cfg.Queue, cfg.Link, d.dispatcher, d.plog, log.RoleDevice)
	return d, nil
}

// Dispatcher returns the command dispatcher.
func (d *Device) Dispatcher() *dispatch.Dispatcher { return d.dispatcher }

// Session returns the secure session engine.
func (d *Device) Session() *secsession.Engine { return d.session }

// Registration returns the registration controller.
func (d *Device) Registration() *registration.Controller { return d.reg }

// Mgmt returns the management core.
func (d *Device) Mgmt() *mgmt.Handle { return d.mgmt }

// Register starts a registration attempt. A device that has been paired
// before refreshes its key and keeps its address.
func (d *Device) Register() error {
	if d.reg.State() == registration.StateCompleted {
		d.reg.Reset()
	}
	return d.reg.Start(d.mgmt.Paired())
}

// CancelRegistration aborts the in-flight attempt.
func (d *Device) CancelRegistration() error {
	return d.reg.Cancel()
}

// Close stops the link. Pending commands are abandoned.
func (d *Device) Close() error {
	d.dispatcher.Cancel(d.cfg.Gateway)
	return d.link.Close()
}

func (d *Device) startHandshake(keyRefresh bool) error {
	d.gen++
	d.dispatcher.Cancel(d.cfg.Gateway)
	d.dispatcher.ClearSession(d.cfg.Gateway)

	var requested uint32
	if keyRefresh {
		requested = uint32(d.mgmt.Address())
	}
	msg, err := d.session.Start(keyRefresh, requested)
	if err != nil {
		return err
	}
	if err := d.sendHandshake(d.gen, msg); err != nil {
		d.session.Deinit()
		return err
	}
	return d.reg.Report(registration.EventStarted)
}

func (d *Device) sendHandshake(gen uint64, msg secsession.Message) error {
	opts := dispatch.SendOptions{ResponseRequired: true}
	return d.dispatcher.Send(d.cfg.Gateway, handshakeDescriptor(msg.ID), msg.Payload, opts, func(res dispatch.Result) {
		d.onHandshakeResult(gen, msg.ID, res)
	})
}

func (d *Device) onHandshakeResult(gen uint64, id uint16, res dispatch.Result) {
	if gen != d.gen || d.reg.State() != registration.StateStarted {
		return
	}
	if res.Err != nil {
		d.failHandshake(res.Err)
		return
	}
	if res.Status != wire.StatusSuccess && len(res.Payload) == 0 {
		d.failHandshake(errcode.Protocol("handshake", fmt.Errorf("%w: %s", ErrHandshakeRejected, res.Status)))
		return
	}

	next, err := d.session.HandleResponse(secsession.Message{ID: id, Payload: res.Payload})
	if err != nil {
		d.failHandshake(err)
		return
	}
	if next != nil {
		if err := d.sendHandshake(gen, *next); err != nil {
			d.failHandshake(err)
		}
		return
	}
	if d.session.State() == secsession.StateSessionKeyReady {
		d.completeHandshake()
	}
}

func (d *Device) completeHandshake() {
	info, err := d.session.GeneratedInfo()
	if err != nil {
		d.failHandshake(err)
		return
	}
	addr := link.Address(info.Address)
	d.link.SetLocalAddress(addr)
	d.dispatcher.SetSession(d.cfg.Gateway, d.session)
	d.logger.Info("session established", "address", addr, "session", info.SessionID, "suite", fmt.Sprintf("%s/%s", info.Suite.AEAD, info.Suite.KDF))

	if err := d.reg.Report(registration.EventCompleted); err != nil {
		d.logger.Warn("registration report", "err", err)
	}
	d.mgmt.SetPaired(addr)
	d.mgmt.StartKeepAlive()
	d.mgmt.OnNetworkState(mgmt.NetSynced)
}

func (d *Device) failHandshake(err error) {
	d.gen++
	d.session.Deinit()
	if e := d.reg.Fail(err); e != nil {
		d.logger.Warn("registration report", "err", e)
	}
}

// teardownSession zeroizes the session after a cancelled, timed out or
// reset attempt.
func (d *Device) teardownSession(reason registration.State) {
	d.gen++
	d.dispatcher.Cancel(d.cfg.Gateway)
	d.dispatcher.ClearSession(d.cfg.Gateway)
	d.session.Deinit()
	d.logger.Info("session torn down", "reason", reason)
}

func (d *Device) logState(entity log.StateEntity, from, to fmt.Stringer) {
	d.plog.Log(log.Event{
		Timestamp:   d.queue.Now(),
		Direction:   log.DirectionOut,
		Layer:       log.LayerService,
		Category:    log.CategoryState,
		LocalRole:   log.RoleDevice,
		Remote:      d.cfg.Gateway.String(),
		StateChange: &log.StateChangeEvent{Entity: entity, OldState: from.String(), NewState: to.String()},
	})
}

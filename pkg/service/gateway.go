package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/replay"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// DefaultFirstAddress is the first address handed out to devices.
const DefaultFirstAddress link.Address = 0x00000100

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Queue *eventq.Queue
	Link  link.NetworkInterface

	Credentials *cert.GatewayCredentials

	// Store persists the device table. Optional.
	Store persistence.Store

	AEADs []secsession.AEADID
	KDFs  []secsession.KDFID
	Rand  io.Reader

	// FirstAddress is the first address assigned when the store holds
	// none. Defaults to DefaultFirstAddress.
	FirstAddress link.Address

	// GroupID and AuxID are handed to joining devices.
	GroupID uint32
	AuxID   uint32

	// Secure requires sealed management commands and seals the ones the
	// gateway sends.
	Secure bool

	Policies    *dispatch.PolicyTable
	Replay      replay.Config
	DefaultTTL  time.Duration
	SendTimeout time.Duration

	// Clock stamps clock sync responses. Defaults to the queue clock.
	Clock func() time.Time

	// OnDevice is called when a device completes registration.
	OnDevice func(persistence.DeviceRecord)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Gateway is the gateway node. It answers handshakes, assigns
// addresses and serves the management commands of its devices.
type Gateway struct {
	cfg    GatewayConfig
	queue  *eventq.Queue
	logger *slog.Logger
	plog   log.Logger
	clock  func() time.Time

	dispatcher *dispatch.Dispatcher

	// handshakes holds the engine answering each source address.
	handshakes map[link.Address]*secsession.Engine

	// sessions holds the established session of each assigned address.
	sessions map[link.Address]*secsession.Engine

	state *persistence.GatewayState
}

// NewGateway assembles a gateway node and loads its device table.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Queue == nil || cfg.Link == nil || cfg.Credentials == nil {
		return nil, errcode.Programmer("service.NewGateway", ErrMissingConfig)
	}
	if cfg.FirstAddress == link.Unassigned {
		cfg.FirstAddress = DefaultFirstAddress
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := &Gateway{
		cfg:        cfg,
		queue:      cfg.Queue,
		logger:     logger.With("component", "gateway"),
		plog:       log.OrNoop(cfg.ProtocolLogger),
		clock:      cfg.Clock,
		handshakes: make(map[link.Address]*secsession.Engine),
		sessions:   make(map[link.Address]*secsession.Engine),
	}
	if g.clock == nil {
		g.clock = cfg.Queue.Now
	}

	if err := g.load(); err != nil {
		return nil, err
	}

	var err error
	g.dispatcher, err = dispatch.New(dispatch.Config{
		Queue:          cfg.Queue,
		Link:           cfg.Link,
		Policies:       cfg.Policies,
		Replay:         cfg.Replay,
		DefaultTTL:     cfg.DefaultTTL,
		SendTimeout:    cfg.SendTimeout,
		Role:           log.RoleGateway,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}
	if err := g.registerHandlers(); err != nil {
		return nil, err
	}

	receive(cfg.Queue, cfg.Link, g.dispatcher, g.plog, log.RoleGateway)
	return g, nil
}

func (g *Gateway) load() error {
	g.state = &persistence.GatewayState{NextAddress: uint32(g.cfg.FirstAddress)}
	if g.cfg.Store == nil {
		return nil
	}
	st, err := g.cfg.Store.LoadGateway()
	if err != nil {
		return fmt.Errorf("restore gateway state: %w", err)
	}
	if st != nil {
		g.state = st
		if g.state.NextAddress < uint32(g.cfg.FirstAddress) {
			g.state.NextAddress = uint32(g.cfg.FirstAddress)
		}
		g.logger.Info("device table restored", "devices", len(st.Devices), "next", link.Address(st.NextAddress))
	}
	return nil
}

func (g *Gateway) save() {
	if g.cfg.Store == nil {
		return
	}
	if err := g.cfg.Store.SaveGateway(g.state); err != nil {
		g.logger.Error("persist gateway state", "err", err)
	}
}

// Dispatcher returns the command dispatcher.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher { return g.dispatcher }

// Devices returns a copy of the device table.
func (g *Gateway) Devices() []persistence.DeviceRecord {
	return slices.Clone(g.state.Devices)
}

// Session returns the established session with addr.
func (g *Gateway) Session(addr link.Address) (*secsession.Engine, bool) {
	s, ok := g.sessions[addr]
	return s, ok
}

// Close stops the link.
func (g *Gateway) Close() error {
	for addr := range g.sessions {
		g.dispatcher.Cancel(addr)
	}
	return g.cfg.Link.Close()
}

func (g *Gateway) registerHandlers() error {
	reg := g.dispatcher.Registry()
	for id := wire.IDSecureSessionCapability; id <= wire.IDSecureSessionChallenge; id++ {
		if err := reg.Register(handshakeDescriptor(id), dispatch.HandlerFunc(g.handleHandshake)); err != nil {
			return err
		}
	}

	var opts []dispatch.RegisterOption
	if g.cfg.Secure {
		opts = append(opts, dispatch.RequireSecured(secsession.MaskAll))
	}
	handlers := []struct {
		desc wire.Descriptor
		fn   dispatch.HandlerFunc
	}{
		{mgmt.DescJoin, g.handleJoin},
		{mgmt.DescKeepAlive, g.handleKeepAlive},
		{mgmt.DescClockSync, g.handleClockSync},
	}
	for _, hd := range handlers {
		if err := reg.Register(hd.desc, hd.fn, opts...); err != nil {
			return err
		}
	}
	return nil
}

// engineFor returns the handshake engine for src. A capability request
// after a completed handshake gets a fresh engine, leaving the
// established session intact.
func (g *Gateway) engineFor(src link.Address, id uint16) (*secsession.Engine, error) {
	eng, ok := g.handshakes[src]
	if ok && (id != wire.IDSecureSessionCapability || eng.State() != secsession.StateSessionKeyReady) {
		return eng, nil
	}
	eng, err := secsession.New(secsession.Config{
		Role:          secsession.RoleGateway,
		Gateway:       g.cfg.Credentials,
		AEADs:         g.cfg.AEADs,
		KDFs:          g.cfg.KDFs,
		AssignAddress: g.assignAddress,
		Rand:          g.cfg.Rand,
		Logger:        g.logger,
		OnStateChange: func(from, to secsession.State) {
			g.logState(src, from, to)
		},
	})
	if err != nil {
		return nil, err
	}
	g.handshakes[src] = eng
	return eng, nil
}

func (g *Gateway) handleHandshake(_ context.Context, req *dispatch.Request) *dispatch.Response {
	eng, err := g.engineFor(req.Source, req.Header.ID)
	if err != nil {
		g.logger.Error("handshake engine", "err", err)
		return dispatch.StatusResponse(wire.StatusBusy)
	}

	wasReady := eng.State() == secsession.StateSessionKeyReady
	resp, err := eng.HandleRequest(secsession.Message{ID: req.Header.ID, Payload: req.Payload})
	if err != nil {
		g.logger.Info("handshake failed", "src", req.Source, "step", req.Descriptor(), "err", err)
		return &dispatch.Response{Status: handshakeStatus(err), Payload: resp.Payload}
	}
	if !wasReady && eng.State() == secsession.StateSessionKeyReady {
		g.established(eng)
	}
	return &dispatch.Response{Status: wire.StatusSuccess, Payload: resp.Payload}
}

// assignAddress keeps the address a known device asks for and hands out
// the next free one otherwise.
func (g *Gateway) assignAddress(requested uint32) uint32 {
	if requested != 0 {
		for _, d := range g.state.Devices {
			if d.Address == requested {
				return requested
			}
		}
	}
	addr := g.state.NextAddress
	for addr == uint32(link.Unassigned) || addr == uint32(link.Broadcast) || g.addressTaken(addr) {
		addr++
	}
	g.state.NextAddress = addr + 1
	return addr
}

func (g *Gateway) addressTaken(addr uint32) bool {
	return slices.ContainsFunc(g.state.Devices, func(d persistence.DeviceRecord) bool {
		return d.Address == addr
	})
}

func (g *Gateway) established(eng *secsession.Engine) {
	info, err := eng.GeneratedInfo()
	if err != nil {
		g.logger.Error("session info", "err", err)
		return
	}
	addr := link.Address(info.Address)
	if old, ok := g.sessions[addr]; ok && old != eng {
		g.dispatcher.Cancel(addr)
		old.Deinit()
	}
	g.sessions[addr] = eng
	g.dispatcher.SetSession(addr, eng)

	serial := hex.EncodeToString(info.DeviceSerial)
	now := g.queue.Now()
	g.state.Devices = slices.DeleteFunc(g.state.Devices, func(d persistence.DeviceRecord) bool {
		return d.Address == info.Address && d.Serial != serial
	})
	rec := g.state.Device(serial)
	if rec == nil {
		g.state.Devices = append(g.state.Devices, persistence.DeviceRecord{Serial: serial, JoinedAt: now})
		rec = &g.state.Devices[len(g.state.Devices)-1]
	}
	rec.Address = info.Address
	rec.LastSeenAt = now
	record := *rec
	g.save()

	g.logger.Info("device registered", "serial", serial, "address", addr, "session", info.SessionID)
	if g.cfg.OnDevice != nil {
		g.cfg.OnDevice(record)
	}
}

func (g *Gateway) deviceAt(addr link.Address) *persistence.DeviceRecord {
	for i := range g.state.Devices {
		if g.state.Devices[i].Address == uint32(addr) {
			return &g.state.Devices[i]
		}
	}
	return nil
}

func (g *Gateway) handleJoin(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg mgmt.JoinRequest
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}

	resp := mgmt.JoinResponse{Code: mgmt.JoinRejected}
	if rec := g.deviceAt(req.Source); rec != nil {
		resp = mgmt.JoinResponse{Code: mgmt.JoinAccepted, GroupID: g.cfg.GroupID, AuxID: g.cfg.AuxID}
		rec.LastSeenAt = g.queue.Now()
		g.save()
	}
	g.logger.Info("join", "src", req.Source, "reason", msg.Reason, "attempt", msg.Attempt, "code", resp.Code)

	payload, err := wire.Marshal(resp)
	if err != nil {
		return dispatch.StatusResponse(wire.StatusBusy)
	}
	return &dispatch.Response{Status: wire.StatusSuccess, Payload: payload}
}

func (g *Gateway) handleKeepAlive(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg mgmt.KeepAlive
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}
	if rec := g.deviceAt(req.Source); rec != nil {
		rec.LastSeenAt = g.queue.Now()
		g.save()
	}
	g.logger.Debug("keep-alive", "src", req.Source, "seq", msg.Seq, "uptime", msg.Uptime)
	return dispatch.StatusResponse(wire.StatusSuccess)
}

func (g *Gateway) handleClockSync(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg mgmt.TimeRequest
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}
	now := g.clock().UnixNano()
	payload, err := wire.Marshal(mgmt.TimeResponse{T1: msg.T1, T2: now, T3: now})
	if err != nil {
		return dispatch.StatusResponse(wire.StatusBusy)
	}
	return &dispatch.Response{Status: wire.StatusSuccess, Payload: payload}
}

// GetParam reads configuration parameter id from the device at addr.
func (g *Gateway) GetParam(addr link.Address, id uint16, done func(uint32, error)) error {
	return g.request(addr, mgmt.DescConfigGet, mgmt.ParamRequest{ID: id}, func(res dispatch.Result) {
		if err := resultError(res); err != nil {
			done(0, err)
			return
		}
		var v mgmt.ParamValue
		if err := wire.Unmarshal(res.Payload, &v); err != nil {
			done(0, errcode.Protocol("config get", err))
			return
		}
		done(v.Value, nil)
	})
}

// SetParam writes configuration parameter id on the device at addr.
func (g *Gateway) SetParam(addr link.Address, id uint16, value uint32, done func(error)) error {
	return g.request(addr, mgmt.DescConfigSet, mgmt.ParamValue{ID: id, Value: value}, func(res dispatch.Result) {
		done(resultError(res))
	})
}

// SetSyncMode selects the clock sync mode of the device at addr.
func (g *Gateway) SetSyncMode(addr link.Address, mode mgmt.SyncState, done func(error)) error {
	return g.request(addr, mgmt.DescClockSyncMode, mgmt.SyncModeRequest{Mode: mode}, func(res dispatch.Result) {
		done(resultError(res))
	})
}

// FactoryReset asks the device at addr to reset. Its session is dropped
// once the device has accepted.
func (g *Gateway) FactoryReset(addr link.Address, done func(error)) error {
	return g.request(addr, mgmt.DescFactoryReset, struct{}{}, func(res dispatch.Result) {
		err := resultError(res)
		if err == nil {
			g.dropSession(addr)
		}
		done(err)
	})
}

func (g *Gateway) dropSession(addr link.Address) {
	eng, ok := g.sessions[addr]
	if !ok {
		return
	}
	delete(g.sessions, addr)
	g.dispatcher.ClearSession(addr)
	for src, h := range g.handshakes {
		if h == eng {
			delete(g.handshakes, src)
		}
	}
	eng.Deinit()
	g.logger.Info("session dropped", "address", addr)
}

func (g *Gateway) request(addr link.Address, desc wire.Descriptor, msg any, done func(dispatch.Result)) error {
	if g.cfg.Secure && !g.dispatcher.HasSession(addr) {
		return errcode.Protocol("gateway request", fmt.Errorf("%w: %s", ErrNoSession, addr))
	}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return errcode.Programmer("gateway request", err)
	}
	opts := dispatch.SendOptions{ResponseRequired: true, Secure: g.cfg.Secure}
	return g.dispatcher.Send(addr, desc, payload, opts, done)
}

func (g *Gateway) logState(remote link.Address, from, to secsession.State) {
	g.plog.Log(log.Event{
		Timestamp:   g.queue.Now(),
		Direction:   log.DirectionIn,
		Layer:       log.LayerService,
		Category:    log.CategoryState,
		LocalRole:   log.RoleGateway,
		Remote:      remote.String(),
		StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: from.String(), NewState: to.String()},
	})
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/replay"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Dispatcher errors.
var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrTTLExpired       = errors.New("command ttl expired")
	ErrDuplicate        = errors.New("command already pending")
	ErrNoSession        = errors.New("no secure session")
	ErrCancelled        = errors.New("command cancelled")
	ErrMissingConfig    = errors.New("dispatcher requires a queue and a link")
)

// Defaults.
const (
	// DefaultTTL applies to commands without a policy entry.
	DefaultTTL = 10 * time.Second

	// DefaultSendTimeout bounds a single link transmission.
	DefaultSendTimeout = 5 * time.Second
)

// Sealer is the per-message cryptography of a secure session. The frame
// header is bound into the tag, so header fields of a secured frame cannot
// be altered in transit.
type Sealer interface {
	SealFrame(h *wire.Header, payload []byte, mask secsession.CryptMask) ([]byte, error)
	OpenFrame(h *wire.Header, sealed []byte, required secsession.CryptMask) ([]byte, uint32, error)
}

// Config configures a Dispatcher.
type Config struct {
	Queue *eventq.Queue
	Link  link.NetworkInterface

	// Registry defaults to an empty registry.
	Registry *Registry

	// Policies is optional.
	Policies *PolicyTable

	// Replay configures the per-remote replay guards.
	Replay replay.Config

	// DefaultTTL applies without a policy entry. Defaults to DefaultTTL.
	DefaultTTL time.Duration

	// SendTimeout bounds each link transmission.
	SendTimeout time.Duration

	Role           log.Role
	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// SendOptions are per-call parameters of an outbound command.
type SendOptions struct {
	ResponseRequired bool

	// Secure seals the payload under the destination's session.
	Secure bool

	// Mask defaults to secsession.MaskAll when Secure is set.
	Mask secsession.CryptMask

	// Ext is sent as the extended header.
	Ext *wire.ExtHeader

	// TTL and Retries apply when there is no policy entry or the entry
	// sets UseMessageParams. Zero values keep the default.
	TTL     time.Duration
	Retries int
}

// Result completes an outbound command. Err is nil when the command was
// delivered (and answered, if a response was required); a response with
// an error status is still a nil Err.
type Result struct {
	Header   *wire.Header
	Status   wire.Status
	Payload  []byte
	Attempts int
	Err      error
}

// Stats counts dispatcher activity.
type Stats struct {
	Received        int
	Dispatched      int
	Unsupported     int
	Malformed       int
	AuthFailures    int
	Replays         int
	Unmatched       int
	Sent            int
	Retransmissions int
	Exhausted       int
	Expired         int
}

type pendingKey struct {
	remote link.Address
	class  uint16
	id     uint16
}

type pending struct {
	key      pendingKey
	dst      link.Address
	desc     wire.Descriptor
	payload  []byte
	opts     SendOptions
	params   PolicyParams
	attempts int
	seqs     []uint32
	done     func(Result)
	finished bool

	attemptEv *eventq.Event
	ttlEv     *eventq.Event
}

// Dispatcher is the inbound pipeline and the outbound retry engine.
type Dispatcher struct {
	cfg      Config
	queue    *eventq.Queue
	link     link.NetworkInterface
	registry *Registry
	logger   *slog.Logger
	plog     log.Logger

	sessions map[link.Address]Sealer
	guards   map[link.Address]*replay.Guard
	pending  map[pendingKey][]*pending
	seq      uint32
	stats    Stats
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil || cfg.Link == nil {
		return nil, errcode.Programmer("dispatch.New", ErrMissingConfig)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		cfg:      cfg,
		queue:    cfg.Queue,
		link:     cfg.Link,
		registry: cfg.Registry,
		logger:   logger.With("component", "dispatch"),
		plog:     log.OrNoop(cfg.ProtocolLogger),
		sessions: make(map[link.Address]Sealer),
		guards:   make(map[link.Address]*replay.Guard),
		pending:  make(map[pendingKey][]*pending),
	}, nil
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

// Pending returns the number of outbound commands awaiting completion.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, list := range d.pending {
		n += len(list)
	}
	return n
}

// SetSession installs the session used for frames to and from remote.
// The remote's replay guard is reinitialized.
func (d *Dispatcher) SetSession(remote link.Address, s Sealer) {
	d.sessions[remote] = s
	d.guard(remote).Reinit(d.queue.Now())
}

// ClearSession removes the session for remote.
func (d *Dispatcher) ClearSession(remote link.Address) {
	delete(d.sessions, remote)
	delete(d.guards, remote)
}

// HasSession reports whether frames to remote can be secured.
func (d *Dispatcher) HasSession(remote link.Address) bool {
	return d.sessions[remote] != nil
}

func (d *Dispatcher) guard(remote link.Address) *replay.Guard {
	g := d.guards[remote]
	if g == nil {
		g = replay.New(d.cfg.Replay)
		g.Reinit(d.queue.Now())
		d.guards[remote] = g
	}
	return g
}

func (d *Dispatcher) nextSeq() uint32 {
	d.seq++
	return d.seq
}

// Receive runs one inbound frame through the pipeline.
//
// A handler's response, including the invalid-operation response for an
// unregistered command, is sent only for Reads and for commands flagged
// response-required. The sender of any other command completes it on
// transmit and never waits for a reply, so none is sent.
func (d *Dispatcher) Receive(src link.Address, raw []byte) {
	d.stats.Received++

	f, err := wire.DecodeFrame(raw)
	if err != nil {
		d.stats.Malformed++
		d.reject(src, log.SecurityMalformed, err)
		return
	}
	h := &f.Header
	payload := f.Payload

	seq := h.Seq
	tag := replay.Fingerprint(raw)
	if h.Secured {
		s := d.sessions[src]
		if s == nil {
			d.stats.AuthFailures++
			d.reject(src, log.SecurityNoSession, fmt.Errorf("%s from %s", h.Descriptor(), src))
			return
		}
		// Responses are always sealed with MaskAll, so their status is
		// covered by the tag.
		required := secsession.MaskAll
		if h.Opcode != wire.OpResponse {
			required = d.registry.requiredMask(h)
		}
		plain, counter, err := s.OpenFrame(h, payload, required)
		if err != nil {
			d.stats.AuthFailures++
			d.reject(src, log.SecurityAuth, err)
			return
		}
		payload = plain
		seq = counter
		tag = f.Tag()[:replay.TagLen]
	}

	check := d.guard(src).Check
	if h.Secured {
		check = d.guard(src).CheckCounter
	}
	if err := check(d.queue.Now(), seq, tag); err != nil {
		d.stats.Replays++
		d.reject(src, log.SecurityReplay, fmt.Errorf("%s seq %d: %w", h.Descriptor(), seq, err))
		return
	}

	d.logCommand(log.DirectionIn, src, h, len(payload), 0)

	if h.Opcode == wire.OpResponse {
		d.onResponse(src, h, payload)
		return
	}

	req := &Request{Source: src, Header: h, Payload: payload, Secured: h.Secured}
	if _, ok := d.registry.Lookup(h.Class, h.ID, h.Opcode); ok {
		d.stats.Dispatched++
	} else {
		d.stats.Unsupported++
		d.logger.Debug("unsupported command", "command", h.Descriptor(), "src", src)
	}
	resp := d.registry.Dispatch(context.Background(), req)
	if resp == nil {
		return
	}
	if h.ResponseRequired || h.Opcode == wire.OpRead {
		if err := d.respond(src, req, resp); err != nil {
			d.logger.Warn("response not sent", "command", h.Descriptor(), "err", err)
		}
	}
}

func (d *Dispatcher) respond(dst link.Address, req *Request, resp *Response) error {
	ext := &wire.ExtHeader{}
	if resp.Ext != nil {
		*ext = *resp.Ext
	}
	ext.Options |= wire.OptStatus
	ext.Status = resp.Status

	h := wire.Header{
		Class:   req.Header.Class,
		ID:      req.Header.ID,
		Opcode:  wire.OpResponse,
		Secured: req.Secured,
		Seq:     req.Header.Seq,
		Ext:     ext,
	}
	return d.transmit(dst, &h, resp.Payload, secsession.MaskAll, false, 0)
}

// transmit seals, encodes and sends one frame.
func (d *Dispatcher) transmit(dst link.Address, h *wire.Header, payload []byte, mask secsession.CryptMask, responseRequired bool, attempt int) error {
	body := payload
	if h.Secured {
		s := d.sessions[dst]
		if s == nil {
			return errcode.Protocol("send", fmt.Errorf("%w: %s", ErrNoSession, dst))
		}
		sealed, err := s.SealFrame(h, payload, mask)
		if err != nil {
			return err
		}
		body = sealed
	}

	raw, err := wire.EncodeFrame(&wire.Frame{Header: *h, Payload: body})
	if err != nil {
		return errcode.Programmer("send", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	if err := d.link.Send(ctx, dst, raw, responseRequired); err != nil {
		return errcode.Transport("send", err)
	}
	d.stats.Sent++
	d.logCommand(log.DirectionOut, dst, h, len(payload), attempt)
	return nil
}

// Send transmits a command to dst. done is called exactly once, from the
// processing loop, when the command completes; it is not called if Send
// returns an error.
func (d *Dispatcher) Send(dst link.Address, desc wire.Descriptor, payload []byte, opts SendOptions, done func(Result)) error {
	if err := desc.Validate(); err != nil {
		return errcode.Programmer("send", err)
	}
	if desc.Opcode == wire.OpResponse {
		return errcode.Programmer("send", fmt.Errorf("%s: responses are sent by handlers", desc))
	}
	if opts.Secure && !d.HasSession(dst) {
		return errcode.Protocol("send", fmt.Errorf("%w: %s", ErrNoSession, dst))
	}
	if opts.Secure && opts.Mask == 0 {
		opts.Mask = secsession.MaskAll
	}

	params := d.params(dst, desc, opts)
	if err := params.Validate(); err != nil {
		return errcode.Programmer("send", err)
	}

	key := pendingKey{remote: dst, class: desc.Class, id: desc.ID}
	if len(d.pending[key]) > 0 && !params.SuppressDuplicateFiltering {
		return errcode.Protocol("send", fmt.Errorf("%w: %s to %s", ErrDuplicate, desc, dst))
	}

	p := &pending{
		key:     key,
		dst:     dst,
		desc:    desc,
		payload: payload,
		opts:    opts,
		params:  params,
		done:    done,
	}
	p.attemptEv = eventq.NewEvent("attempt "+desc.String(), func() { d.onAttemptTimeout(p) })
	p.ttlEv = eventq.NewEvent("ttl "+desc.String(), func() { d.onTTL(p) })

	d.pending[key] = append(d.pending[key], p)
	d.queue.Schedule(p.ttlEv, params.TTL)
	d.attempt(p)
	return nil
}

func (d *Dispatcher) params(dst link.Address, desc wire.Descriptor, opts SendOptions) PolicyParams {
	key := PolicyKey{
		Local:            d.link.LocalAddress(),
		Remote:           dst,
		Descriptor:       desc,
		ResponseRequired: opts.ResponseRequired,
	}
	p, ok := d.cfg.Policies.Lookup(key)
	if !ok {
		p = PolicyParams{TTL: d.cfg.DefaultTTL, UseMessageParams: true}
	}
	if p.UseMessageParams {
		if opts.TTL > 0 {
			p.TTL = opts.TTL
		}
		if opts.Retries > 0 {
			p.Retries = opts.Retries
		}
	}
	return p
}

func (d *Dispatcher) attempt(p *pending) {
	p.attempts++
	if p.attempts > 1 {
		d.stats.Retransmissions++
	}

	h := wire.Header{
		Class:            p.desc.Class,
		ID:               p.desc.ID,
		Opcode:           p.desc.Opcode,
		Secured:          p.opts.Secure,
		ResponseRequired: p.opts.ResponseRequired,
		Seq:              d.nextSeq(),
		Ext:              p.opts.Ext,
	}
	if h.Ext == nil && (p.desc.Version != 0 || p.desc.Priority != 0) {
		h.Ext = &wire.ExtHeader{}
	}
	if h.Ext != nil {
		ext := *h.Ext
		ext.Version = p.desc.Version
		ext.Priority = p.desc.Priority
		h.Ext = &ext
	}
	p.seqs = append(p.seqs, h.Seq)

	err := d.transmit(p.dst, &h, p.payload, p.opts.Mask, p.opts.ResponseRequired, p.attempts)
	if p.finished {
		// The response arrived during the send.
		return
	}
	switch {
	case err != nil && !errcode.Is(err, errcode.KindTransport):
		d.complete(p, Result{Attempts: p.attempts, Err: err})
	case err != nil:
		d.logger.Warn("transmission failed", "command", p.desc, "dst", p.dst, "attempt", p.attempts, "err", err)
		d.queue.Schedule(p.attemptEv, p.params.AttemptTimeout())
	case !p.opts.ResponseRequired:
		d.complete(p, Result{Attempts: p.attempts})
	default:
		d.queue.Schedule(p.attemptEv, p.params.AttemptTimeout())
	}
}

func (d *Dispatcher) exhausted(p *pending) bool {
	return p.attempts > p.params.Retries
}

func (d *Dispatcher) onAttemptTimeout(p *pending) {
	if !d.exhausted(p) {
		d.attempt(p)
		return
	}
	d.stats.Exhausted++
	d.complete(p, Result{
		Attempts: p.attempts,
		Err:      errcode.Transport("send", fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, p.desc, p.attempts)),
	})
}

func (d *Dispatcher) onTTL(p *pending) {
	if d.exhausted(p) {
		d.onAttemptTimeout(p)
		return
	}
	d.stats.Expired++
	d.complete(p, Result{
		Attempts: p.attempts,
		Err:      errcode.Transport("send", fmt.Errorf("%w: %s after %v", ErrTTLExpired, p.desc, p.params.TTL)),
	})
}

func (d *Dispatcher) onResponse(src link.Address, h *wire.Header, payload []byte) {
	key := pendingKey{remote: src, class: h.Class, id: h.ID}
	for _, p := range d.pending[key] {
		if !slices.Contains(p.seqs, h.Seq) {
			continue
		}
		if h.Secured != p.opts.Secure {
			// The pending command stays open for the genuine response.
			d.stats.AuthFailures++
			d.reject(src, log.SecurityAuth, fmt.Errorf("%s seq %d: response secured=%t, command secured=%t", h.Descriptor(), h.Seq, h.Secured, p.opts.Secure))
			return
		}
		status := wire.StatusSuccess
		if h.Ext != nil && h.Ext.Options.Has(wire.OptStatus) {
			status = h.Ext.Status
		}
		d.complete(p, Result{Header: h, Status: status, Payload: payload, Attempts: p.attempts})
		return
	}
	d.stats.Unmatched++
	d.logger.Debug("unmatched response", "command", h.Descriptor(), "src", src, "seq", h.Seq)
}

func (d *Dispatcher) complete(p *pending, res Result) {
	if p.finished {
		return
	}
	p.finished = true
	d.queue.Cancel(p.attemptEv)
	d.queue.Cancel(p.ttlEv)

	list := d.pending[p.key]
	if i := slices.Index(list, p); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(d.pending, p.key)
	} else {
		d.pending[p.key] = list
	}

	if res.Err != nil {
		d.logger.Info("command failed", "command", p.desc, "dst", p.dst, "attempts", res.Attempts, "err", res.Err)
	}
	if p.done != nil {
		p.done(res)
	}
}

// Cancel completes every pending command to remote with ErrCancelled.
func (d *Dispatcher) Cancel(remote link.Address) int {
	var victims []*pending
	for key, list := range d.pending {
		if key.remote == remote {
			victims = append(victims, list...)
		}
	}
	for _, p := range victims {
		d.complete(p, Result{Attempts: p.attempts, Err: errcode.Protocol("send", ErrCancelled)})
	}
	return len(victims)
}

func (d *Dispatcher) reject(src link.Address, reason log.SecurityReason, err error) {
	d.logger.Debug("frame rejected", "src", src, "reason", reason, "err", err)
	d.plog.Log(log.Event{
		Timestamp: d.queue.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategorySecurity,
		LocalRole: d.cfg.Role,
		Remote:    src.String(),
		Security:  &log.SecurityEvent{Reason: reason, Detail: err.Error()},
	})
}

func (d *Dispatcher) logCommand(dir log.Direction, remote link.Address, h *wire.Header, size, attempt int) {
	ce := log.NewCommandEvent(h, size)
	ce.Attempt = attempt
	d.plog.Log(log.Event{
		Timestamp: d.queue.Now(),
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		LocalRole: d.cfg.Role,
		Remote:    remote.String(),
		Command:   ce,
	})
}

package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/link/mocks"
	"github.com/lrmgmt/lrmgmt-go/pkg/replay"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

const (
	deviceAddr  link.Address = 0x0100
	gatewayAddr link.Address = 0x0001
)

var (
	pingDesc   = wire.Descriptor{Class: wire.ClassKeepAlive, ID: wire.IDKeepAlivePing, Opcode: wire.OpWrite}
	paramRead  = wire.Descriptor{Class: wire.ClassConfig, ID: wire.IDConfigParam, Opcode: wire.OpRead}
	paramWrite = wire.Descriptor{Class: wire.ClassConfig, ID: wire.IDConfigParam, Opcode: wire.OpWrite}
)

// testSealer authenticates with a truncated HMAC over a shared key and
// the encoded frame header. The payload is not encrypted.
type testSealer struct {
	key     []byte
	counter uint32
}

func (s *testSealer) tag(prefix, header, body []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(prefix)
	m.Write(header)
	m.Write(body)
	return m.Sum(nil)[:wire.TagSize]
}

func (s *testSealer) SealFrame(h *wire.Header, payload []byte, mask secsession.CryptMask) ([]byte, error) {
	header, err := wire.AppendHeader(nil, h)
	if err != nil {
		return nil, err
	}
	s.counter++
	prefix := []byte{byte(mask), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(prefix[1:], s.counter)
	out := append(prefix, payload...)
	return append(out, s.tag(prefix, header, payload)...), nil
}

func (s *testSealer) OpenFrame(h *wire.Header, sealed []byte, required secsession.CryptMask) ([]byte, uint32, error) {
	if len(sealed) < secsession.Overhead {
		return nil, 0, errcode.Security("decrypt", secsession.ErrAuthFailed)
	}
	header, err := wire.AppendHeader(nil, h)
	if err != nil {
		return nil, 0, errcode.Security("decrypt", secsession.ErrAuthFailed)
	}
	prefix := sealed[:5]
	body := sealed[5 : len(sealed)-wire.TagSize]
	if !hmac.Equal(sealed[len(sealed)-wire.TagSize:], s.tag(prefix, header, body)) {
		return nil, 0, errcode.Security("decrypt", secsession.ErrAuthFailed)
	}
	if secsession.CryptMask(prefix[0])&required != required {
		return nil, 0, errcode.Security("decrypt", secsession.ErrAuthFailed)
	}
	return append([]byte(nil), body...), binary.BigEndian.Uint32(prefix[1:]), nil
}

type node struct {
	queue *eventq.Queue
	pipe  *link.Pipe
	d     *Dispatcher
}

type pair struct {
	clock   *eventq.ManualClock
	device  *node
	gateway *node
}

func newNode(t *testing.T, clock eventq.Clock, p *link.Pipe, cfg Config) *node {
	t.Helper()
	q := eventq.New(eventq.Config{Clock: clock})
	cfg.Queue = q
	cfg.Link = p
	d, err := New(cfg)
	require.NoError(t, err)
	p.SetReceiver(d.Receive)
	return &node{queue: q, pipe: p, d: d}
}

func newPair(t *testing.T, deviceCfg Config) *pair {
	t.Helper()
	clock := eventq.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dp, gp := link.NewPipe(deviceAddr, gatewayAddr)
	return &pair{
		clock:   clock,
		device:  newNode(t, clock, dp, deviceCfg),
		gateway: newNode(t, clock, gp, Config{}),
	}
}

func (p *pair) advance(d time.Duration) {
	p.clock.Advance(d)
	p.device.queue.RunDue()
	p.gateway.queue.RunDue()
}

func (p *pair) secure() {
	key := []byte("0123456789abcdef")
	p.device.d.SetSession(gatewayAddr, &testSealer{key: key})
	p.gateway.d.SetSession(deviceAddr, &testSealer{key: key})
}

func capture(results *[]Result) func(Result) {
	return func(r Result) { *results = append(*results, r) }
}

func TestNewRequiresQueueAndLink(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errcode.Is(err, errcode.KindProgrammer))
}

func TestSendAndRespond(t *testing.T) {
	p := newPair(t, Config{})
	var seen *Request
	require.NoError(t, p.gateway.d.Registry().Register(paramRead, HandlerFunc(func(_ context.Context, req *Request) *Response {
		seen = req
		return &Response{Status: wire.StatusSuccess, Payload: []byte{0x2a}}
	})))

	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, []byte{1}, SendOptions{ResponseRequired: true}, capture(&results)))

	require.Len(t, results, 1)
	res := results[0]
	assert.NoError(t, res.Err)
	assert.Equal(t, wire.StatusSuccess, res.Status)
	assert.Equal(t, []byte{0x2a}, res.Payload)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, wire.OpResponse, res.Header.Opcode)

	require.NotNil(t, seen)
	assert.Equal(t, deviceAddr, seen.Source)
	assert.Equal(t, []byte{1}, seen.Payload)
	assert.Equal(t, 0, p.device.d.Pending())
	assert.Equal(t, 0, p.device.queue.Len())
	assert.Equal(t, 1, p.gateway.d.Stats().Dispatched)
}

func TestSendWithoutResponseCompletesOnTransmit(t *testing.T) {
	p := newPair(t, Config{})
	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, nil, SendOptions{}, capture(&results)))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Nil(t, results[0].Header)
	// The gateway has no handler and the request did not ask for a reply.
	assert.Equal(t, 1, p.device.pipe.Sent())
	assert.Equal(t, 0, p.gateway.pipe.Sent())
	assert.Equal(t, 1, p.gateway.d.Stats().Unsupported)
}

func TestUnsupportedCommandAnswered(t *testing.T) {
	p := newPair(t, Config{})
	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, paramWrite, nil, SendOptions{ResponseRequired: true}, capture(&results)))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, wire.StatusUnsupported, results[0].Status)
}

func TestRetriesUseFreshSequence(t *testing.T) {
	p := newPair(t, Config{})
	var seqs []uint32
	p.device.pipe.Intercept(func(frame []byte) []byte {
		h, _, err := wire.DecodeHeader(frame)
		require.NoError(t, err)
		seqs = append(seqs, h.Seq)
		return nil
	})

	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: 3 * time.Second, Retries: 2}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

	p.advance(time.Second)
	p.advance(time.Second)
	assert.Empty(t, results)
	require.Len(t, seqs, 3)
	assert.NotEqual(t, seqs[0], seqs[1])
	assert.NotEqual(t, seqs[1], seqs[2])

	p.advance(time.Second)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrRetriesExhausted)
	assert.True(t, errcode.Is(results[0].Err, errcode.KindTransport))
	assert.Equal(t, 3, results[0].Attempts)
	assert.Len(t, seqs, 3)
	assert.Equal(t, 2, p.device.d.Stats().Retransmissions)
	assert.Equal(t, 0, p.device.d.Pending())
}

func TestLateResponseToEarlierAttemptMatches(t *testing.T) {
	p := newPair(t, Config{})
	require.NoError(t, p.gateway.d.Registry().Register(paramRead, okHandler(wire.StatusSuccess)))

	// Hold the first response and release it after the retransmission.
	var held []byte
	p.gateway.pipe.Intercept(func(frame []byte) []byte {
		if held == nil {
			held = append([]byte(nil), frame...)
		}
		return nil
	})

	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: 4 * time.Second, Retries: 1}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))
	p.advance(2 * time.Second)
	require.Empty(t, results)
	require.NotNil(t, held)

	p.device.d.Receive(gatewayAddr, held)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestPolicyOverridesMessageParams(t *testing.T) {
	table := NewPolicyTable()
	require.NoError(t, table.Set(PolicyKey{
		Local: AnyAddress, Remote: AnyAddress, Descriptor: paramRead, ResponseRequired: true,
	}, PolicyParams{TTL: 2 * time.Second, Retries: 1}))

	p := newPair(t, Config{Policies: table})
	p.device.pipe.Intercept(func([]byte) []byte { return nil })

	// The policy does not allow message parameters, so these are ignored.
	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: time.Minute, Retries: 5}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

	p.advance(time.Second)
	assert.Empty(t, results)
	p.advance(time.Second)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrRetriesExhausted)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestTransportErrorRetried(t *testing.T) {
	// A failing link reschedules the attempt.
	m := mocks.NewMockNetworkInterface(t)
	m.EXPECT().LocalAddress().Return(deviceAddr)
	m.EXPECT().Send(mock.Anything, gatewayAddr, mock.Anything, true).Return(link.ErrClosed).Once()

	clock := eventq.NewManualClock(time.Unix(0, 0))
	q := eventq.New(eventq.Config{Clock: clock})
	d, err := New(Config{Queue: q, Link: m})
	require.NoError(t, err)

	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: 3 * time.Second, Retries: 1}
	require.NoError(t, d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))
	assert.Empty(t, results)

	m.EXPECT().Send(mock.Anything, gatewayAddr, mock.Anything, true).Return(nil).Once()
	clock.Advance(1500 * time.Millisecond)
	q.RunDue()
	assert.Empty(t, results)

	clock.Advance(1500 * time.Millisecond)
	q.RunDue()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrRetriesExhausted)
	assert.Equal(t, 1, d.Stats().Exhausted)
}

func TestRetriesExhaustedAtTTL(t *testing.T) {
	m := mocks.NewMockNetworkInterface(t)
	m.EXPECT().LocalAddress().Return(deviceAddr)
	m.EXPECT().Send(mock.Anything, gatewayAddr, mock.Anything, true).Return(nil)

	clock := eventq.NewManualClock(time.Unix(0, 0))
	q := eventq.New(eventq.Config{Clock: clock})
	d, err := New(Config{Queue: q, Link: m})
	require.NoError(t, err)

	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: 3 * time.Second, Retries: 3}
	require.NoError(t, d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

	// Four attempts 750ms apart use up the TTL.
	clock.Advance(750 * time.Millisecond)
	q.RunDue()
	clock.Advance(750 * time.Millisecond)
	q.RunDue()
	clock.Advance(750 * time.Millisecond)
	q.RunDue()
	clock.Advance(750 * time.Millisecond)
	q.RunDue()

	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Attempts)
	assert.ErrorIs(t, results[0].Err, ErrRetriesExhausted)
}

func TestTTLExpired(t *testing.T) {
	clock := eventq.NewManualClock(time.Unix(0, 0))
	q := eventq.New(eventq.Config{Clock: clock})
	m := mocks.NewMockNetworkInterface(t)
	m.EXPECT().LocalAddress().Return(deviceAddr)
	m.EXPECT().Send(mock.Anything, gatewayAddr, mock.Anything, true).Return(nil)
	d, err := New(Config{Queue: q, Link: m})
	require.NoError(t, err)

	var results []Result
	opts := SendOptions{ResponseRequired: true, TTL: 2 * time.Second, Retries: 1}
	require.NoError(t, d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

	// Cancel the retry so only the TTL remains.
	p := d.pending[pendingKey{remote: gatewayAddr, class: paramRead.Class, id: paramRead.ID}][0]
	q.Cancel(p.attemptEv)

	clock.Advance(2 * time.Second)
	q.RunDue()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrTTLExpired)
	assert.Equal(t, 1, d.Stats().Expired)
}

func TestDuplicatePending(t *testing.T) {
	p := newPair(t, Config{})
	p.device.pipe.Intercept(func([]byte) []byte { return nil })

	opts := SendOptions{ResponseRequired: true, TTL: time.Second}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, nil))

	err := p.device.d.Send(gatewayAddr, paramWrite, nil, opts, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.True(t, errcode.Is(err, errcode.KindProtocol))

	// A different command is not a duplicate.
	assert.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, nil, opts, nil))
	assert.Equal(t, 2, p.device.d.Pending())
}

func TestDuplicateFilteringSuppressed(t *testing.T) {
	table := NewPolicyTable()
	require.NoError(t, table.Set(PolicyKey{
		Local: AnyAddress, Remote: AnyAddress, Descriptor: paramRead, ResponseRequired: true,
	}, PolicyParams{TTL: time.Second, SuppressDuplicateFiltering: true}))

	p := newPair(t, Config{Policies: table})
	p.device.pipe.Intercept(func([]byte) []byte { return nil })

	opts := SendOptions{ResponseRequired: true}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, nil))
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, nil))
	assert.Equal(t, 2, p.device.d.Pending())
}

func TestCancelPending(t *testing.T) {
	p := newPair(t, Config{})
	p.device.pipe.Intercept(func([]byte) []byte { return nil })

	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, SendOptions{ResponseRequired: true}, capture(&results)))
	assert.Equal(t, 1, p.device.d.Cancel(gatewayAddr))
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrCancelled)
	assert.Equal(t, 0, p.device.queue.Len())
}

func TestUnmatchedResponseDropped(t *testing.T) {
	p := newPair(t, Config{})
	raw, err := wire.EncodeFrame(&wire.Frame{Header: wire.Header{
		Class: wire.ClassConfig, ID: wire.IDConfigParam, Opcode: wire.OpResponse, Seq: 99,
	}})
	require.NoError(t, err)

	p.device.d.Receive(gatewayAddr, raw)
	assert.Equal(t, 1, p.device.d.Stats().Unmatched)
}

func TestSendValidation(t *testing.T) {
	p := newPair(t, Config{})

	err := p.device.d.Send(gatewayAddr, wire.Descriptor{Class: 1, ID: 1, Opcode: wire.OpResponse}, nil, SendOptions{}, nil)
	assert.True(t, errcode.Is(err, errcode.KindProgrammer))

	err = p.device.d.Send(gatewayAddr, pingDesc, nil, SendOptions{Secure: true}, nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSecuredRoundTrip(t *testing.T) {
	p := newPair(t, Config{})
	p.secure()
	var seen *Request
	require.NoError(t, p.gateway.d.Registry().Register(paramWrite, HandlerFunc(func(_ context.Context, req *Request) *Response {
		seen = req
		return &Response{Status: wire.StatusSuccess, Payload: []byte("ok")}
	}), RequireSecured(secsession.MaskAll)))

	var results []Result
	opts := SendOptions{ResponseRequired: true, Secure: true}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramWrite, []byte("set"), opts, capture(&results)))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte("ok"), results[0].Payload)
	assert.True(t, results[0].Header.Secured)
	require.NotNil(t, seen)
	assert.True(t, seen.Secured)
	assert.Equal(t, []byte("set"), seen.Payload)
}

func TestSecuredRequiresMask(t *testing.T) {
	p := newPair(t, Config{})
	p.secure()
	require.NoError(t, p.gateway.d.Registry().Register(paramWrite, okHandler(wire.StatusSuccess), RequireSecured(secsession.MaskAll)))

	var results []Result
	opts := SendOptions{ResponseRequired: true, Secure: true, Mask: secsession.MaskHeader, TTL: time.Second}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramWrite, nil, opts, capture(&results)))

	assert.Empty(t, results)
	assert.Equal(t, 1, p.gateway.d.Stats().AuthFailures)
}

func TestUnsecuredRequestToSecuredHandler(t *testing.T) {
	p := newPair(t, Config{})
	require.NoError(t, p.gateway.d.Registry().Register(paramWrite, okHandler(wire.StatusSuccess), RequireSecured(secsession.MaskAll)))

	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, paramWrite, nil, SendOptions{ResponseRequired: true}, capture(&results)))
	require.Len(t, results, 1)
	assert.Equal(t, wire.StatusAuthFailed, results[0].Status)
}

func TestReplayRejected(t *testing.T) {
	for _, secured := range []bool{false, true} {
		name := "unsecured"
		if secured {
			name = "secured"
		}
		t.Run(name, func(t *testing.T) {
			p := newPair(t, Config{})
			if secured {
				p.secure()
			}
			calls := 0
			require.NoError(t, p.gateway.d.Registry().Register(pingDesc, HandlerFunc(func(context.Context, *Request) *Response {
				calls++
				return nil
			})))

			var captured []byte
			p.device.pipe.Intercept(func(frame []byte) []byte {
				captured = append([]byte(nil), frame...)
				return frame
			})
			require.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, nil, SendOptions{Secure: secured}, nil))
			require.Equal(t, 1, calls)

			p.gateway.d.Receive(deviceAddr, captured)
			assert.Equal(t, 1, calls)
			assert.Equal(t, 1, p.gateway.d.Stats().Replays)
		})
	}
}

func TestTamperedSecuredHeaderRejected(t *testing.T) {
	pingNotify := wire.Descriptor{Class: wire.ClassKeepAlive, ID: wire.IDKeepAlivePing, Opcode: wire.OpNotify}

	tests := []struct {
		name   string
		mutate func(frame []byte)
	}{
		{"Payload", func(f []byte) { f[len(f)-1] ^= 0x01 }},
		{"NotifyToWrite", func(f []byte) { f[2] = f[2]&^0x03 | byte(wire.OpWrite) }},
		{"NotifyToRead", func(f []byte) { f[2] = f[2]&^0x03 | byte(wire.OpRead) }},
		{"Class", func(f []byte) { f[1] ^= 0x01 }},
		{"Sequence", func(f []byte) { f[7] ^= 0x01 }},
		{"ResponseRequired", func(f []byte) { f[3] ^= 0x20 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(t, Config{})
			p.secure()
			calls := 0
			count := HandlerFunc(func(context.Context, *Request) *Response {
				calls++
				return &Response{Status: wire.StatusSuccess}
			})
			for _, desc := range []wire.Descriptor{pingDesc, pingNotify, {Class: pingDesc.Class, ID: pingDesc.ID, Opcode: wire.OpRead}} {
				require.NoError(t, p.gateway.d.Registry().Register(desc, count))
			}

			p.device.pipe.Intercept(func(frame []byte) []byte {
				out := append([]byte(nil), frame...)
				tt.mutate(out)
				return out
			})
			require.NoError(t, p.device.d.Send(gatewayAddr, pingNotify, []byte{7}, SendOptions{Secure: true}, nil))

			assert.Zero(t, calls)
			assert.Equal(t, 1, p.gateway.d.Stats().AuthFailures)
			assert.Equal(t, 0, p.gateway.pipe.Sent())
		})
	}
}

func TestTamperedResponseStatusRejected(t *testing.T) {
	p := newPair(t, Config{})
	p.secure()
	require.NoError(t, p.gateway.d.Registry().Register(paramRead, okHandler(wire.StatusInvalidParameter)))

	// Byte after version, priority and option mask is the status.
	p.gateway.pipe.Intercept(func(frame []byte) []byte {
		out := append([]byte(nil), frame...)
		out[wire.HeaderSize+wire.ExtHeaderMinSize] = byte(wire.StatusSuccess)
		return out
	})

	var results []Result
	opts := SendOptions{ResponseRequired: true, Secure: true, TTL: time.Second}
	require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

	assert.Empty(t, results)
	assert.Equal(t, 1, p.device.d.Stats().AuthFailures)
	assert.Equal(t, 1, p.device.d.Pending())
}

func TestResponseSecurityMustMatchCommand(t *testing.T) {
	for _, secured := range []bool{true, false} {
		name := "SecuredCommand"
		if !secured {
			name = "UnsecuredCommand"
		}
		t.Run(name, func(t *testing.T) {
			p := newPair(t, Config{})
			p.secure()

			var seq uint32
			p.device.pipe.Intercept(func(frame []byte) []byte {
				h, _, err := wire.DecodeHeader(frame)
				require.NoError(t, err)
				seq = h.Seq
				return nil
			})

			var results []Result
			opts := SendOptions{ResponseRequired: true, Secure: secured, TTL: time.Second}
			require.NoError(t, p.device.d.Send(gatewayAddr, paramRead, nil, opts, capture(&results)))

			respond := func(secure bool, status wire.Status) {
				h := wire.Header{
					Class:   paramRead.Class,
					ID:      paramRead.ID,
					Opcode:  wire.OpResponse,
					Secured: secure,
					Seq:     seq,
					Ext:     &wire.ExtHeader{Options: wire.OptStatus, Status: status},
				}
				payload := []byte{0x0b}
				if secure {
					sealed, err := p.gateway.d.sessions[deviceAddr].SealFrame(&h, payload, secsession.MaskAll)
					require.NoError(t, err)
					payload = sealed
				}
				raw, err := wire.EncodeFrame(&wire.Frame{Header: h, Payload: payload})
				require.NoError(t, err)
				p.device.d.Receive(gatewayAddr, raw)
			}

			// A response whose protection differs from the command is rejected
			// and leaves the command pending.
			respond(!secured, wire.StatusSuccess)
			assert.Empty(t, results)
			assert.Equal(t, 1, p.device.d.Stats().AuthFailures)
			assert.Equal(t, 1, p.device.d.Pending())

			respond(secured, wire.StatusInvalidParameter)
			require.Len(t, results, 1)
			assert.NoError(t, results[0].Err)
			assert.Equal(t, wire.StatusInvalidParameter, results[0].Status)
			assert.Equal(t, []byte{0x0b}, results[0].Payload)
		})
	}
}

func TestSecuredReplayAfterEvictionRejected(t *testing.T) {
	p := newPair(t, Config{})
	p.gateway.d.cfg.Replay = replay.Config{Capacity: 4}
	p.secure()
	calls := 0
	require.NoError(t, p.gateway.d.Registry().Register(pingDesc, HandlerFunc(func(context.Context, *Request) *Response {
		calls++
		return nil
	})))

	var first []byte
	p.device.pipe.Intercept(func(frame []byte) []byte {
		if first == nil {
			first = append([]byte(nil), frame...)
		}
		return frame
	})
	for i := 0; i < 6; i++ {
		require.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, []byte{byte(i)}, SendOptions{Secure: true}, nil))
	}
	require.Equal(t, 6, calls)
	require.Equal(t, uint32(2), p.gateway.d.guards[deviceAddr].CounterFloor())

	p.gateway.d.Receive(deviceAddr, first)
	assert.Equal(t, 6, calls)
	assert.Equal(t, 1, p.gateway.d.Stats().Replays)
}

func TestSecuredFrameWithoutSession(t *testing.T) {
	p := newPair(t, Config{})
	p.device.d.SetSession(gatewayAddr, &testSealer{key: []byte("k")})

	require.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, nil, SendOptions{Secure: true}, nil))
	assert.Equal(t, 1, p.gateway.d.Stats().AuthFailures)
	assert.False(t, p.gateway.d.HasSession(deviceAddr))

	p.device.d.ClearSession(gatewayAddr)
	assert.False(t, p.device.d.HasSession(gatewayAddr))
}

func TestMalformedFrame(t *testing.T) {
	p := newPair(t, Config{})
	p.gateway.d.Receive(deviceAddr, []byte{0x01})
	assert.Equal(t, 1, p.gateway.d.Stats().Malformed)
}

func TestTransmitNonTransportErrorCompletes(t *testing.T) {
	p := newPair(t, Config{})
	p.device.d.SetSession(gatewayAddr, failingSealer{})

	var results []Result
	require.NoError(t, p.device.d.Send(gatewayAddr, pingDesc, nil, SendOptions{Secure: true, ResponseRequired: true}, capture(&results)))
	require.Len(t, results, 1)
	assert.True(t, errcode.Is(results[0].Err, errcode.KindSecurity))
	assert.Equal(t, 0, p.device.queue.Len())
}

type failingSealer struct{}

func (failingSealer) SealFrame(*wire.Header, []byte, secsession.CryptMask) ([]byte, error) {
	return nil, errcode.Security("encrypt", errors.New("session not ready"))
}

func (failingSealer) OpenFrame(*wire.Header, []byte, secsession.CryptMask) ([]byte, uint32, error) {
	return nil, 0, errcode.Security("decrypt", errors.New("session not ready"))
}

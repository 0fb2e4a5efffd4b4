package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// ErrAlreadyRegistered is returned when a handler slot is taken.
var ErrAlreadyRegistered = errors.New("handler already registered")

// Request is an inbound command after decryption and the replay check.
type Request struct {
	Source  link.Address
	Header  *wire.Header
	Payload []byte

	// Secured is true when the frame was authenticated under a session.
	Secured bool
}

// Descriptor returns the command descriptor of the request.
func (r *Request) Descriptor() wire.Descriptor {
	return r.Header.Descriptor()
}

// Response is a handler's reply. A nil *Response sends nothing.
type Response struct {
	Status  wire.Status
	Payload []byte

	// Ext carries optional extended-header fields. The status option is
	// always set on the wire.
	Ext *wire.ExtHeader
}

// StatusResponse returns a payload-less response.
func StatusResponse(s wire.Status) *Response {
	return &Response{Status: s}
}

// Handler handles one command slot.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// InvalidOperation answers commands with no registered handler.
var InvalidOperation Handler = HandlerFunc(func(context.Context, *Request) *Response {
	return StatusResponse(wire.StatusUnsupported)
})

// RegisterOption configures a handler slot.
type RegisterOption func(*slot)

// RequireSecured rejects unsecured requests with StatusAuthFailed and
// requires the sealed mask to cover mask.
func RequireSecured(mask secsession.CryptMask) RegisterOption {
	return func(s *slot) {
		s.secured = true
		s.mask = mask
	}
}

type slot struct {
	desc    wire.Descriptor
	handler Handler
	secured bool
	mask    secsession.CryptMask
}

// Registry maps (class, id) to one handler slot per opcode.
type Registry struct {
	slots   map[wire.CommandKey]*[wire.NumOpcodes]*slot
	invalid Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:   make(map[wire.CommandKey]*[wire.NumOpcodes]*slot),
		invalid: InvalidOperation,
	}
}

// Register installs h for desc. At most one handler is registered per
// (class, id, opcode).
func (r *Registry) Register(desc wire.Descriptor, h Handler, opts ...RegisterOption) error {
	if err := desc.Validate(); err != nil {
		return errcode.Programmer("register", err)
	}
	if desc.Opcode == wire.OpResponse {
		return errcode.Programmer("register", fmt.Errorf("%s: responses complete pending commands", desc))
	}
	if h == nil {
		return errcode.Programmer("register", fmt.Errorf("%s: nil handler", desc))
	}

	row := r.slots[desc.Key()]
	if row == nil {
		row = new([wire.NumOpcodes]*slot)
		r.slots[desc.Key()] = row
	}
	if row[desc.Opcode] != nil {
		return errcode.Programmer("register", fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc))
	}

	s := &slot{desc: desc, handler: h}
	for _, opt := range opts {
		opt(s)
	}
	row[desc.Opcode] = s
	return nil
}

// Unregister removes the handler for desc.
func (r *Registry) Unregister(desc wire.Descriptor) bool {
	row := r.slots[desc.Key()]
	if row == nil || !desc.Opcode.IsValid() || row[desc.Opcode] == nil {
		return false
	}
	row[desc.Opcode] = nil
	if *row == ([wire.NumOpcodes]*slot{}) {
		delete(r.slots, desc.Key())
	}
	return true
}

// SetInvalidHandler replaces the handler for unregistered commands.
func (r *Registry) SetInvalidHandler(h Handler) {
	if h == nil {
		h = InvalidOperation
	}
	r.invalid = h
}

func (r *Registry) lookup(class, id uint16, op wire.Opcode) *slot {
	if !op.IsValid() {
		return nil
	}
	row := r.slots[wire.CommandKey{Class: class, ID: id}]
	if row == nil {
		return nil
	}
	return row[op]
}

// Lookup returns the handler registered for (class, id, op).
func (r *Registry) Lookup(class, id uint16, op wire.Opcode) (Handler, bool) {
	s := r.lookup(class, id, op)
	if s == nil {
		return nil, false
	}
	return s.handler, true
}

// requiredMask returns the mask an inbound secured request must carry.
func (r *Registry) requiredMask(h *wire.Header) secsession.CryptMask {
	if s := r.lookup(h.Class, h.ID, h.Opcode); s != nil {
		return s.mask
	}
	return 0
}

// Descriptors returns every registered descriptor in (class, id, opcode)
// order.
func (r *Registry) Descriptors() []wire.Descriptor {
	var out []wire.Descriptor
	for _, row := range r.slots {
		for _, s := range row {
			if s != nil {
				out = append(out, s.desc)
			}
		}
	}
	slices.SortFunc(out, func(a, b wire.Descriptor) int {
		return cmp.Or(cmp.Compare(a.Class, b.Class), cmp.Compare(a.ID, b.ID), cmp.Compare(a.Opcode, b.Opcode))
	})
	return out
}

// Dispatch runs the handler for req, or the invalid-operation handler.
// A handler that requires a secured request answers an unsecured one
// with StatusAuthFailed without running.
func (r *Registry) Dispatch(ctx context.Context, req *Request) *Response {
	s := r.lookup(req.Header.Class, req.Header.ID, req.Header.Opcode)
	if s == nil {
		return r.invalid.Handle(ctx, req)
	}
	if s.secured && !req.Secured {
		return StatusResponse(wire.StatusAuthFailed)
	}
	return s.handler.Handle(ctx, req)
}

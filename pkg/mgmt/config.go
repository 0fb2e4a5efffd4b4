package mgmt

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Configuration errors.
var (
	ErrParamExists  = errors.New("configuration parameter already registered")
	ErrUnknownParam = errors.New("unknown configuration parameter")
	ErrOutOfRange   = errors.New("value out of range")
)

// ConfigParam is one numeric configuration parameter.
type ConfigParam interface {
	// Validate checks a candidate value without applying it.
	Validate(v uint32) error

	// Set applies a validated value.
	Set(v uint32) error

	// Get returns the current value.
	Get() uint32

	// Response encodes the payload answering a get or set of id.
	Response(id uint16) ([]byte, error)
}

// Resetter is implemented by parameters that return to a default on
// factory reset.
type Resetter interface {
	Reset()
}

// ConfigRegistry binds configuration ids to parameters.
type ConfigRegistry struct {
	params map[uint16]ConfigParam

	// values holds the persisted value of every parameter that has been
	// set, including ids not registered yet.
	values map[uint16]uint32
	onSet  func()
}

func newConfigRegistry(onSet func()) *ConfigRegistry {
	return &ConfigRegistry{
		params: make(map[uint16]ConfigParam),
		values: make(map[uint16]uint32),
		onSet:  onSet,
	}
}

// Register binds p to id. A persisted value for id is applied if it
// still validates.
func (r *ConfigRegistry) Register(id uint16, p ConfigParam) error {
	if p == nil {
		return errcode.Programmer("config.Register", fmt.Errorf("param %d: nil", id))
	}
	if _, ok := r.params[id]; ok {
		return errcode.Programmer("config.Register", fmt.Errorf("%w: %d", ErrParamExists, id))
	}
	r.params[id] = p

	if v, ok := r.values[id]; ok {
		if p.Validate(v) == nil {
			_ = p.Set(v)
		} else {
			delete(r.values, id)
		}
	}
	return nil
}

// Lookup returns the parameter bound to id.
func (r *ConfigRegistry) Lookup(id uint16) (ConfigParam, bool) {
	p, ok := r.params[id]
	return p, ok
}

// IDs returns the registered ids in ascending order.
func (r *ConfigRegistry) IDs() []uint16 {
	return slices.Sorted(maps.Keys(r.params))
}

// Values returns a copy of the persisted values.
func (r *ConfigRegistry) Values() map[uint16]uint32 {
	if len(r.values) == 0 {
		return nil
	}
	return maps.Clone(r.values)
}

// Get reads id and returns the response payload.
func (r *ConfigRegistry) Get(id uint16) ([]byte, wire.Status) {
	p, ok := r.params[id]
	if !ok {
		return nil, wire.StatusUnsupported
	}
	payload, err := p.Response(id)
	if err != nil {
		return nil, wire.StatusBusy
	}
	return payload, wire.StatusSuccess
}

// Set validates and applies v. A value that fails validation leaves the
// parameter and the persisted configuration untouched.
func (r *ConfigRegistry) Set(id uint16, v uint32) ([]byte, wire.Status) {
	p, ok := r.params[id]
	if !ok {
		return nil, wire.StatusUnsupported
	}
	if err := p.Validate(v); err != nil {
		return nil, wire.StatusInvalidParameter
	}
	if err := p.Set(v); err != nil {
		return nil, wire.StatusRejected
	}
	r.values[id] = v
	if r.onSet != nil {
		r.onSet()
	}
	payload, err := p.Response(id)
	if err != nil {
		return nil, wire.StatusBusy
	}
	return payload, wire.StatusSuccess
}

func (r *ConfigRegistry) restore(values map[uint16]uint32) {
	maps.Copy(r.values, values)
}

// reset drops persisted values and returns resettable parameters to their
// defaults.
func (r *ConfigRegistry) reset() {
	clear(r.values)
	for _, p := range r.params {
		if rs, ok := p.(Resetter); ok {
			rs.Reset()
		}
	}
}

// NumericParam is a ConfigParam with an inclusive range.
type NumericParam struct {
	Min, Max uint32

	value   uint32
	initial uint32
	onSet   func(v uint32)
}

// NewNumericParam creates a parameter holding initial. onSet, if not nil,
// runs after every successful Set and Reset.
func NewNumericParam(initial, minValue, maxValue uint32, onSet func(v uint32)) *NumericParam {
	return &NumericParam{
		Min:     minValue,
		Max:     maxValue,
		value:   initial,
		initial: initial,
		onSet:   onSet,
	}
}

// Validate checks the range.
func (p *NumericParam) Validate(v uint32) error {
	if v < p.Min || v > p.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v, p.Min, p.Max)
	}
	return nil
}

// Set stores v.
func (p *NumericParam) Set(v uint32) error {
	p.value = v
	if p.onSet != nil {
		p.onSet(v)
	}
	return nil
}

// Get returns the value.
func (p *NumericParam) Get() uint32 {
	return p.value
}

// Response encodes a ParamValue.
func (p *NumericParam) Response(id uint16) ([]byte, error) {
	return wire.Marshal(ParamValue{ID: id, Value: p.value})
}

// Reset restores the initial value.
func (p *NumericParam) Reset() {
	_ = p.Set(p.initial)
}

package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// AnyAddress in a PolicyKey matches every local or remote address.
const AnyAddress = link.Broadcast

// ErrInvalidPolicy is returned for unusable policy parameters.
var ErrInvalidPolicy = errors.New("invalid policy")

// PolicyKey selects the policy for an outbound command.
type PolicyKey struct {
	Local            link.Address
	Remote           link.Address
	Descriptor       wire.Descriptor
	ResponseRequired bool
}

// PolicyParams govern an outbound command.
type PolicyParams struct {
	// TTL bounds the command from first transmission to completion.
	TTL time.Duration

	// Retries is the number of retransmissions after the first attempt.
	Retries int

	// UseMessageParams lets per-call SendOptions override TTL and Retries.
	UseMessageParams bool

	// SuppressDuplicateFiltering allows several pending commands for the
	// same (remote, class, id).
	SuppressDuplicateFiltering bool
}

// AttemptTimeout is the per-attempt timeout, TTL / (Retries+1).
func (p PolicyParams) AttemptTimeout() time.Duration {
	return p.TTL / time.Duration(p.Retries+1)
}

// Validate checks that every attempt gets a positive timeout.
func (p PolicyParams) Validate() error {
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl %v", ErrInvalidPolicy, p.TTL)
	}
	if p.Retries < 0 {
		return fmt.Errorf("%w: retries %d", ErrInvalidPolicy, p.Retries)
	}
	if p.AttemptTimeout() <= 0 {
		return fmt.Errorf("%w: ttl %v too short for %d retries", ErrInvalidPolicy, p.TTL, p.Retries)
	}
	return nil
}

// PolicyTable is the outbound policy configuration. It is built once at
// startup and only read afterwards.
type PolicyTable struct {
	entries map[PolicyKey]PolicyParams
}

// NewPolicyTable creates an empty table.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{entries: make(map[PolicyKey]PolicyParams)}
}

// Set adds or replaces an entry.
func (t *PolicyTable) Set(key PolicyKey, p PolicyParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %w", key.Descriptor, err)
	}
	t.entries[key] = p
	return nil
}

// Len returns the number of entries.
func (t *PolicyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Lookup finds the entry for key, trying an exact match, then AnyAddress
// for the remote, then for both addresses.
func (t *PolicyTable) Lookup(key PolicyKey) (PolicyParams, bool) {
	if t == nil {
		return PolicyParams{}, false
	}
	if p, ok := t.entries[key]; ok {
		return p, true
	}
	key.Remote = AnyAddress
	if p, ok := t.entries[key]; ok {
		return p, true
	}
	key.Local = AnyAddress
	p, ok := t.entries[key]
	return p, ok
}

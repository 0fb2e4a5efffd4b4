package replay

import (
	"encoding/binary"
	"errors"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"lukechampine.com/blake3"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
)

// ErrDuplicateOrStale is returned by Check for rejected frames.
var ErrDuplicateOrStale = errors.New("replay: duplicate or stale frame")

// Defaults.
const (
	// DefaultCapacity is the default number of retained entries.
	DefaultCapacity = 64

	// DefaultWindow is the default staleness window.
	DefaultWindow = 5 * time.Minute

	// TagLen is the number of tag bytes retained per entry.
	TagLen = 4
)

// Entry is an accepted frame identifier.
type Entry struct {
	Seq     uint32
	Tag     [TagLen]byte
	TimeRef time.Time

	// counter marks entries accepted by CheckCounter.
	counter bool
}

// Config configures a Guard.
type Config struct {
	// Capacity is the ring size. Defaults to DefaultCapacity.
	Capacity int

	// Window is how far a frame may predate the oldest retained entry.
	// Defaults to DefaultWindow.
	Window time.Duration
}

// Guard is the replay cache. It is owned by the processing loop.
type Guard struct {
	ring   []Entry
	head   int // index of the oldest entry
	count  int
	window time.Duration

	// floor is the reference used while the ring is empty.
	floor time.Time

	// counterFloor is the highest counter evicted from the ring. Counters
	// at or below it are rejected.
	counterFloor uint32

	filter   *cuckoo.Filter
	degraded bool
}

// New creates a guard.
func New(cfg Config) *Guard {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Guard{
		ring:   make([]Entry, cfg.Capacity),
		window: cfg.Window,
		filter: cuckoo.NewFilter(uint(cfg.Capacity * 2)),
	}
}

// Reinit drops all entries and sets the time reference used until the
// first frame is accepted.
func (g *Guard) Reinit(timeRef time.Time) {
	clear(g.ring)
	g.head = 0
	g.count = 0
	g.floor = timeRef
	g.counterFloor = 0
	g.filter.Reset()
	g.degraded = false
}

// Len returns the number of retained entries.
func (g *Guard) Len() int {
	return g.count
}

// Capacity returns the ring size.
func (g *Guard) Capacity() int {
	return len(g.ring)
}

// Check accepts or rejects a frame. An accepted frame is recorded,
// evicting the oldest entry when the ring is full.
func (g *Guard) Check(timeRef time.Time, seq uint32, tag []byte) error {
	e := Entry{Seq: seq, TimeRef: timeRef}
	copy(e.Tag[:], tag)
	return g.check(e)
}

// CheckCounter is Check for frames whose sequence is the sender's
// authenticated session counter. Counters never repeat within a session,
// so any counter at or below the highest one evicted from the ring is
// rejected, and a frame stays rejected after it leaves the ring.
func (g *Guard) CheckCounter(timeRef time.Time, counter uint32, tag []byte) error {
	if counter <= g.counterFloor && g.counterFloor > 0 {
		return errcode.Security("replay check", ErrDuplicateOrStale)
	}
	e := Entry{Seq: counter, TimeRef: timeRef, counter: true}
	copy(e.Tag[:], tag)
	return g.check(e)
}

// CounterFloor returns the highest evicted counter.
func (g *Guard) CounterFloor() uint32 {
	return g.counterFloor
}

func (g *Guard) check(e Entry) error {
	timeRef := e.TimeRef

	if timeRef.Before(g.oldest().Add(-g.window)) {
		return errcode.Security("replay check", ErrDuplicateOrStale)
	}

	key := entryKey(e)
	if (g.degraded || g.filter.Lookup(key[:])) && g.contains(e) {
		return errcode.Security("replay check", ErrDuplicateOrStale)
	}

	g.insert(e, key)
	return nil
}

func (g *Guard) oldest() time.Time {
	if g.count == 0 {
		return g.floor
	}
	return g.ring[g.head].TimeRef
}

func (g *Guard) contains(e Entry) bool {
	for i := 0; i < g.count; i++ {
		r := &g.ring[(g.head+i)%len(g.ring)]
		if r.Seq == e.Seq && r.Tag == e.Tag {
			return true
		}
	}
	return false
}

func (g *Guard) insert(e Entry, key [4 + TagLen]byte) {
	if g.count == len(g.ring) {
		old := g.ring[g.head]
		if old.counter && old.Seq > g.counterFloor {
			g.counterFloor = old.Seq
		}
		oldKey := entryKey(old)
		g.filter.Delete(oldKey[:])
		g.ring[g.head] = e
		g.head = (g.head + 1) % len(g.ring)
	} else {
		g.ring[(g.head+g.count)%len(g.ring)] = e
		g.count++
	}

	// A full filter stops answering negatives reliably, so fall back to
	// scanning until the next Reinit.
	if !g.filter.Insert(key[:]) {
		g.degraded = true
	}
}

func entryKey(e Entry) [4 + TagLen]byte {
	var k [4 + TagLen]byte
	binary.BigEndian.PutUint32(k[:4], e.Seq)
	copy(k[4:], e.Tag[:])
	return k
}

// Fingerprint returns a tag for frames that carry no authentication tag,
// derived from the frame bytes.
func Fingerprint(frame []byte) []byte {
	sum := blake3.Sum256(frame)
	return sum[:TagLen]
}

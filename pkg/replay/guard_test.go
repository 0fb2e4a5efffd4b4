package replay

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tagFor(seq uint32) []byte {
	tag := make([]byte, 16)
	binary.BigEndian.PutUint32(tag, seq*2654435761)
	return tag
}

func TestReplayRejected(t *testing.T) {
	g := New(Config{Capacity: 8})
	g.Reinit(epoch)

	if err := g.Check(epoch, 1, tagFor(1)); err != nil {
		t.Fatalf("Check() first = %v, want nil", err)
	}

	err := g.Check(epoch.Add(time.Second), 1, tagFor(1))
	if !errors.Is(err, ErrDuplicateOrStale) {
		t.Errorf("Check() replay = %v, want ErrDuplicateOrStale", err)
	}
	if errcode.KindOf(err) != errcode.KindSecurity {
		t.Errorf("KindOf() = %v, want SECURITY", errcode.KindOf(err))
	}
}

func TestSameSequenceDifferentTag(t *testing.T) {
	g := New(Config{Capacity: 8})
	g.Reinit(epoch)

	if err := g.Check(epoch, 1, tagFor(1)); err != nil {
		t.Fatal(err)
	}
	if err := g.Check(epoch, 1, tagFor(2)); err != nil {
		t.Errorf("Check() same seq, new tag = %v, want nil", err)
	}
}

func TestIncreasingSequenceAcceptedUpToCapacity(t *testing.T) {
	const capacity = 32
	g := New(Config{Capacity: capacity})
	g.Reinit(epoch)

	for seq := uint32(1); seq <= capacity; seq++ {
		if err := g.Check(epoch, seq, tagFor(seq)); err != nil {
			t.Fatalf("Check(seq=%d) = %v, want nil", seq, err)
		}
	}
	if g.Len() != capacity {
		t.Errorf("Len() = %d, want %d", g.Len(), capacity)
	}

	// Every retained pair is still rejected.
	for seq := uint32(1); seq <= capacity; seq++ {
		if err := g.Check(epoch, seq, tagFor(seq)); err == nil {
			t.Errorf("Check(seq=%d) replay accepted", seq)
		}
	}
}

func TestEvictionOfOldest(t *testing.T) {
	g := New(Config{Capacity: 4})
	g.Reinit(epoch)

	for seq := uint32(1); seq <= 5; seq++ {
		if err := g.Check(epoch, seq, tagFor(seq)); err != nil {
			t.Fatal(err)
		}
	}
	if g.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", g.Len())
	}

	// seq 1 was evicted and is no longer remembered.
	if err := g.Check(epoch, 1, tagFor(1)); err != nil {
		t.Errorf("Check() evicted entry = %v, want nil", err)
	}
	// seq 5 is retained.
	if err := g.Check(epoch, 5, tagFor(5)); err == nil {
		t.Error("Check() retained entry accepted")
	}
}

func TestEvictedCounterStaysRejected(t *testing.T) {
	g := New(Config{Capacity: 4})
	g.Reinit(epoch)

	for c := uint32(1); c <= 6; c++ {
		if err := g.CheckCounter(epoch, c, tagFor(c)); err != nil {
			t.Fatalf("CheckCounter(%d) = %v, want nil", c, err)
		}
	}
	if g.CounterFloor() != 2 {
		t.Fatalf("CounterFloor() = %d, want 2", g.CounterFloor())
	}

	tests := []struct {
		name    string
		counter uint32
		wantErr bool
	}{
		{"Evicted", 1, true},
		{"EvictedFloor", 2, true},
		{"Retained", 5, true},
		{"Fresh", 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckCounter(epoch, tt.counter, tagFor(tt.counter))
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCounter(%d) error = %v, wantErr %v", tt.counter, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDuplicateOrStale) {
				t.Errorf("CheckCounter(%d) error = %v, want ErrDuplicateOrStale", tt.counter, err)
			}
		})
	}
}

func TestCounterOutOfOrderWithinRing(t *testing.T) {
	g := New(Config{Capacity: 4})
	g.Reinit(epoch)

	for _, c := range []uint32{3, 1, 4} {
		if err := g.CheckCounter(epoch, c, tagFor(c)); err != nil {
			t.Fatalf("CheckCounter(%d) = %v, want nil", c, err)
		}
	}
	// 2 was never seen and nothing has been evicted.
	if err := g.CheckCounter(epoch, 2, tagFor(2)); err != nil {
		t.Errorf("CheckCounter(2) late arrival = %v, want nil", err)
	}
}

func TestUncountedEvictionKeepsFloor(t *testing.T) {
	g := New(Config{Capacity: 2})
	g.Reinit(epoch)

	_ = g.Check(epoch, 100, tagFor(100))
	_ = g.Check(epoch, 101, tagFor(101))
	_ = g.CheckCounter(epoch, 1, tagFor(1))
	if g.CounterFloor() != 0 {
		t.Errorf("CounterFloor() after evicting plain entries = %d, want 0", g.CounterFloor())
	}
}

func TestReinitResetsCounterFloor(t *testing.T) {
	g := New(Config{Capacity: 2})
	g.Reinit(epoch)
	for c := uint32(1); c <= 3; c++ {
		_ = g.CheckCounter(epoch, c, tagFor(c))
	}
	g.Reinit(epoch)
	if g.CounterFloor() != 0 {
		t.Fatalf("CounterFloor() after Reinit = %d, want 0", g.CounterFloor())
	}
	if err := g.CheckCounter(epoch, 1, tagFor(1)); err != nil {
		t.Errorf("CheckCounter(1) in new session = %v, want nil", err)
	}
}

func TestStaleRejected(t *testing.T) {
	g := New(Config{Capacity: 8, Window: time.Minute})
	g.Reinit(epoch)

	if err := g.Check(epoch.Add(10*time.Minute), 1, tagFor(1)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		timeRef time.Time
		wantErr bool
	}{
		{"WithinWindow", epoch.Add(9*time.Minute + 30*time.Second), false},
		{"AtWindowEdge", epoch.Add(9 * time.Minute), false},
		{"PastWindow", epoch.Add(8 * time.Minute), true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := uint32(100 + i)
			err := g.Check(tt.timeRef, seq, tagFor(seq))
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStaleAgainstReinitReference(t *testing.T) {
	g := New(Config{Capacity: 8, Window: time.Minute})
	g.Reinit(epoch)

	err := g.Check(epoch.Add(-2*time.Minute), 1, tagFor(1))
	if !errors.Is(err, ErrDuplicateOrStale) {
		t.Errorf("Check() before reinit reference = %v, want ErrDuplicateOrStale", err)
	}
}

func TestReinitForgets(t *testing.T) {
	g := New(Config{Capacity: 8})
	g.Reinit(epoch)
	_ = g.Check(epoch, 1, tagFor(1))

	g.Reinit(epoch.Add(time.Hour))
	if g.Len() != 0 {
		t.Errorf("Len() after Reinit = %d, want 0", g.Len())
	}
	if err := g.Check(epoch.Add(time.Hour), 1, tagFor(1)); err != nil {
		t.Errorf("Check() after Reinit = %v, want nil", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("frame-a"))
	b := Fingerprint([]byte("frame-b"))
	if len(a) != TagLen {
		t.Fatalf("len(Fingerprint()) = %d, want %d", len(a), TagLen)
	}
	if string(a) == string(b) {
		t.Error("Fingerprint() equal for different frames")
	}
	if string(a) != string(Fingerprint([]byte("frame-a"))) {
		t.Error("Fingerprint() not deterministic")
	}
}

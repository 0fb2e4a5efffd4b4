package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

func commandEvent(dir Direction, seq uint32) Event {
	h := &wire.Header{
		Class:            wire.ClassConfig,
		ID:               wire.IDConfigParam,
		Opcode:           wire.OpWrite,
		Secured:          true,
		ResponseRequired: true,
		Seq:              seq,
	}
	return Event{
		Timestamp: time.Unix(1_700_000_000, 123456789),
		SessionID: "3b1f0c2e-9a77-4d0e-8f3c-1f5b7a1e2c44",
		Direction: dir,
		Layer:     LayerWire,
		Category:  CategoryMessage,
		LocalRole: RoleGateway,
		Remote:    "0x00000102",
		Command:   NewCommandEvent(h, 12),
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	ev := commandEvent(DirectionIn, 42)

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}

	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp = %v, want %v (nanoseconds kept)", got.Timestamp, ev.Timestamp)
	}
	if got.Command == nil {
		t.Fatal("Command = nil")
	}
	if got.Command.Seq != 42 || !got.Command.Secured || got.Command.Name() != "Config.Param" {
		t.Errorf("Command = %+v", got.Command)
	}
	if got.LocalRole != RoleGateway {
		t.Errorf("LocalRole = %v, want GATEWAY", got.LocalRole)
	}
}

func TestNewCommandEventStatus(t *testing.T) {
	h := &wire.Header{
		Class:  wire.ClassJoin,
		ID:     wire.IDJoinRequest,
		Opcode: wire.OpResponse,
		Ext:    &wire.ExtHeader{Options: wire.OptStatus, Status: wire.StatusRejected},
	}
	ce := NewCommandEvent(h, 0)
	if ce.Status == nil || *ce.Status != wire.StatusRejected {
		t.Errorf("Status = %v, want REJECTED", ce.Status)
	}

	h.Ext.Options = 0
	if ce := NewCommandEvent(h, 0); ce.Status != nil {
		t.Errorf("Status = %v, want nil without OptStatus", *ce.Status)
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	fe := NewFrameEvent(make([]byte, MaxFrameData+10))
	if fe.Size != MaxFrameData+10 || len(fe.Data) != MaxFrameData || !fe.Truncated {
		t.Errorf("NewFrameEvent() = size %d, data %d, truncated %v", fe.Size, len(fe.Data), fe.Truncated)
	}

	fe = NewFrameEvent([]byte{1, 2, 3})
	if fe.Truncated || len(fe.Data) != 3 {
		t.Errorf("NewFrameEvent(short) = %+v", fe)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "device.lrlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	logger.Log(commandEvent(DirectionOut, 1))
	logger.Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerService,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityRegistration,
			OldState: "STARTED",
			NewState: "COMPLETED",
		},
	})
	logger.Log(commandEvent(DirectionIn, 2))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Logging after close is ignored.
	logger.Log(commandEvent(DirectionIn, 3))
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	in := DirectionIn
	r, err := NewFilteredReader(path, Filter{Direction: &in})
	if err != nil {
		t.Fatalf("NewFilteredReader() error = %v", err)
	}
	defer r.Close()

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Command == nil || ev.Command.Seq != 2 {
		t.Errorf("Next() = %+v, want inbound seq 2", ev.Command)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestReaderFilter(t *testing.T) {
	ev := commandEvent(DirectionIn, 1)
	wireLayer := LayerWire
	linkLayer := LayerLink
	later := ev.Timestamp.Add(time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"Empty", Filter{}, true},
		{"Session", Filter{SessionID: ev.SessionID}, true},
		{"OtherSession", Filter{SessionID: "other"}, false},
		{"Remote", Filter{Remote: "0x00000102"}, true},
		{"OtherRemote", Filter{Remote: "0x00000103"}, false},
		{"Layer", Filter{Layer: &wireLayer}, true},
		{"OtherLayer", Filter{Layer: &linkLayer}, false},
		{"StartInclusive", Filter{TimeStart: &ev.Timestamp}, true},
		{"EndExclusive", Filter{TimeEnd: &ev.Timestamp}, false},
		{"BeforeEnd", Filter{TimeEnd: &later}, true},
		{"Serial", Filter{DeviceSerial: "0102"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.matches(ev); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(slogger).Log(commandEvent(DirectionIn, 9))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	want := map[string]any{
		"direction": "IN",
		"layer":     "WIRE",
		"role":      "GATEWAY",
		"command":   "Config.Param",
		"opcode":    "Write",
		"seq":       float64(9),
		"remote":    "0x00000102",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s: got %v, want %v", k, entry[k], v)
		}
	}
}

func TestSlogAdapterSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(slogger).Log(Event{
		Category: CategorySecurity,
		Security: &SecurityEvent{Reason: SecurityReplay, Detail: "seq 7"},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["reason"] != "REPLAY" || entry["detail"] != "seq 7" {
		t.Errorf("entry = %v", entry)
	}
}

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func TestMultiLogger(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(commandEvent(DirectionOut, 1))
	m.Log(commandEvent(DirectionOut, 2))

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("events = %d, %d, want 2, 2", len(a.events), len(b.events))
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) is not NoopLogger")
	}
	c := &captureLogger{}
	if OrNoop(c) != Logger(c) {
		t.Error("OrNoop(c) did not return c")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionOut.String(), "OUT"},
		{LayerLink.String(), "LINK"},
		{CategorySecurity.String(), "SECURITY"},
		{RoleDevice.String(), "DEVICE"},
		{StateEntityClockSync.String(), "CLOCK_SYNC"},
		{SecurityNoSession.String(), "NO_SESSION"},
		{Layer(9).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFileLoggerBadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileLogger(filepath.Join(file, "sub", "x.lrlog")); err == nil {
		t.Error("NewFileLogger() under a regular file succeeded")
	}
}

package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

func TestLoadDevice(t *testing.T) {
	cfg, err := Load("testdata/device.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Role != RoleDevice {
		t.Errorf("Role = %q, want %q", cfg.Role, RoleDevice)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want %v", cfg.SlogLevel(), slog.LevelDebug)
	}
	if cfg.Registration.Timeout != 30*time.Second {
		t.Errorf("Registration.Timeout = %v, want 30s", cfg.Registration.Timeout)
	}
	if !cfg.Registration.AutoStart {
		t.Error("Registration.AutoStart = false, want true")
	}
	if cfg.Dispatch.SendTimeout != dispatch.DefaultSendTimeout {
		t.Errorf("Dispatch.SendTimeout = %v, want default %v", cfg.Dispatch.SendTimeout, dispatch.DefaultSendTimeout)
	}

	local, err := cfg.LocalAddress()
	if err != nil || local != link.Unassigned {
		t.Errorf("LocalAddress() = %v, %v, want unassigned", local, err)
	}
	peers, err := cfg.UDPPeers()
	if err != nil {
		t.Fatalf("UDPPeers() error = %v", err)
	}
	if peers[0x00000001] != "127.0.0.1:4790" {
		t.Errorf("UDPPeers() = %v", peers)
	}

	aeads, kdfs := cfg.Suites()
	if len(aeads) != 1 || aeads[0] != secsession.AEADChaCha20Poly1305 {
		t.Errorf("AEADs = %v", aeads)
	}
	if len(kdfs) != 2 || kdfs[0] != secsession.KDFBLAKE3 || kdfs[1] != secsession.KDFHKDFSHA256 {
		t.Errorf("KDFs = %v", kdfs)
	}

	m := cfg.Management()
	if m.Gateway != 0x00000001 {
		t.Errorf("Management().Gateway = %v, want 0x00000001", m.Gateway)
	}
	if !m.Secure || m.KeepAliveInterval != 10*time.Minute || m.JoinJitter != 0.25 {
		t.Errorf("Management() = %+v", m)
	}
	if len(m.SuspendIntervals) != 2 || m.SuspendIntervals[1] != 2*time.Minute {
		t.Errorf("SuspendIntervals = %v", m.SuspendIntervals)
	}
}

func TestPolicyTable(t *testing.T) {
	cfg, err := Load("testdata/device.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	table, err := cfg.PolicyTable()
	if err != nil {
		t.Fatalf("PolicyTable() error = %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}

	join := dispatch.PolicyKey{
		Local:            0x00000100,
		Remote:           0x00000001,
		Descriptor:       wire.Descriptor{Class: wire.ClassJoin, ID: wire.IDJoinRequest, Opcode: wire.OpWrite},
		ResponseRequired: true,
	}
	p, ok := table.Lookup(join)
	if !ok {
		t.Fatal("Lookup(join) found nothing")
	}
	if p.TTL != 12*time.Second || p.Retries != 2 || p.UseMessageParams {
		t.Errorf("join policy = %+v", p)
	}

	sync := dispatch.PolicyKey{
		Local:            dispatch.AnyAddress,
		Remote:           0x00000001,
		Descriptor:       wire.Descriptor{Class: wire.ClassClockSync, ID: wire.IDClockSyncTime, Opcode: wire.OpRead},
		ResponseRequired: true,
	}
	p, ok = table.Lookup(sync)
	if !ok || !p.UseMessageParams || p.Retries != 1 {
		t.Errorf("Lookup(sync) = %+v, %v", p, ok)
	}
}

func TestParseGatewayDefaults(t *testing.T) {
	cfg, err := Parse([]byte("role: gateway\ncredentials: creds/gw\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	local, err := cfg.LocalAddress()
	if err != nil || local.String() != DefaultGatewayAddress {
		t.Errorf("LocalAddress() = %v, %v, want %s", local, err, DefaultGatewayAddress)
	}
	first, err := cfg.FirstAddress()
	if err != nil || first != 0x00000100 {
		t.Errorf("FirstAddress() = %v, %v", first, err)
	}
	if cfg.Mgmt.MaxJoinRetries != 5 {
		t.Errorf("MaxJoinRetries = %d, want 5", cfg.Mgmt.MaxJoinRetries)
	}
	if cfg.Link.MQTT.TopicPrefix != link.DefaultTopicPrefix {
		t.Errorf("TopicPrefix = %q", cfg.Link.MQTT.TopicPrefix)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing credentials", "role: device\n", "Credentials"},
		{"bad role", "role: router\ncredentials: c\n", "Role"},
		{"bad level", "credentials: c\nlog: {level: loud}\n", "Level"},
		{"mqtt without broker", "credentials: c\nlink: {type: mqtt}\n", "broker"},
		{"serial without port", "credentials: c\nlink: {type: serial}\n", "port"},
		{"bad peer", "credentials: c\npeer: nowhere\n", "parse address"},
		{"broadcast peer", "credentials: c\npeer: \"0xffffffff\"\n", "not a gateway"},
		{"bad jitter", "credentials: c\nmgmt: {join_jitter: 2}\n", "JoinJitter"},
		{"no suspend intervals", "credentials: c\nmgmt: {suspend_intervals: []}\n", "SuspendIntervals"},
		{"backoff max below initial", "credentials: c\nmgmt: {join_backoff: {initial: 10s, max: 1s}}\n", "Max"},
		{"bad aead", "credentials: c\nsession: {aeads: [des]}\n", "AEADs"},
		{"unknown command", "credentials: c\ndispatch: {policies: [{command: Nope.Nope, opcode: write, ttl: 1s}]}\n", "unknown command"},
		{"response opcode", "credentials: c\ndispatch: {policies: [{command: Join.Request, opcode: response, ttl: 1s}]}\n", "invalid opcode"},
		{"zero ttl", "credentials: c\ndispatch: {policies: [{command: Join.Request, opcode: write}]}\n", "TTL"},
		{"store without path", "credentials: c\nstore: {backend: file, path: \"\"}\n", "store.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("role: [device"))
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("Parse() error = %v, want parse error", err)
	}
}

func TestNewLoggerTo(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	var buf strings.Builder
	cfg.NewLoggerTo(&buf).Info("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("output = %q, want JSON record", buf.String())
	}
	buf.Reset()
	cfg.NewLoggerTo(&buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buf.String())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("testdata/missing.yaml"); err == nil {
		t.Error("Load() succeeded for missing file")
	}
}

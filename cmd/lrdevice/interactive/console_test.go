package interactive

import (
	"context"
	"strings"
	"testing"

	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
)

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		in   string
		want mgmt.SyncState
	}{
		{"network", mgmt.SyncNetwork},
		{"NET", mgmt.SyncNetwork},
		{"oneshot", mgmt.SyncOneShot},
		{"clear", mgmt.SyncClear},
	}
	for _, tt := range tests {
		got, err := parseSyncMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseSyncMode(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseSyncMode("gps"); err == nil {
		t.Error("parseSyncMode(gps) succeeded")
	}
}

func TestExecWithoutDevice(t *testing.T) {
	tests := []struct {
		line     string
		want     string
		wantQuit bool
	}{
		{"", "", false},
		{"help", "Device Commands", false},
		{"bogus", "Unknown command: bogus", false},
		{"register", "device not ready", false},
		{"sync", "usage: sync", false},
		{"sync gps", "unknown sync mode", false},
		{"keepalive 1.5s", "whole number of seconds", false},
		{"get x", "invalid parameter id", false},
		{"get 1", "device not ready", false},
		{"quit", "Exiting", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var out strings.Builder
			c := &Console{out: &out}
			if quit := c.exec(context.Background(), tt.line); quit != tt.wantQuit {
				t.Errorf("exec(%q) quit = %v, want %v", tt.line, quit, tt.wantQuit)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("exec(%q) output = %q, want %q", tt.line, out.String(), tt.want)
			}
		})
	}
}

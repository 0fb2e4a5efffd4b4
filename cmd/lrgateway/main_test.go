package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/config"
)

func TestLoadCredentialsMergesRevocations(t *testing.T) {
	dir := t.TempDir()
	creds := testGatewayCredentials(t)
	if err := cert.WriteGatewayDir(dir, creds); err != nil {
		t.Fatalf("WriteGatewayDir() error = %v", err)
	}

	cfg := config.Default()
	cfg.Role = config.RoleGateway
	cfg.Credentials = dir
	cfg.Gateway.Revoked = []string{"0a0b0c"}

	got, err := loadCredentials(cfg)
	if err != nil {
		t.Fatalf("loadCredentials() error = %v", err)
	}
	if !got.Revoked.Revoked([]byte{0x0a, 0x0b, 0x0c}) {
		t.Error("configured serial not revoked")
	}

	cfg.Gateway.Revoked = []string{"zz"}
	if _, err := loadCredentials(cfg); err == nil || !strings.Contains(err.Error(), "gateway.revoked") {
		t.Errorf("loadCredentials() error = %v, want revoked serial error", err)
	}
}

func TestLoadCredentialsMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials = filepath.Join(t.TempDir(), "nothing")
	if _, err := loadCredentials(cfg); err == nil {
		t.Error("loadCredentials() succeeded without a manifest")
	}
}

func TestConsoleWithoutGateway(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"devices", "gateway not ready"},
		{"get 0x100", "usage: get"},
		{"get 0x100 1", "gateway not ready"},
		{"set 0x100 1 nope", "invalid value"},
		{"sync 0x100 gps", "unknown sync mode"},
		{"reset nowhere", "parse address"},
		{"frobnicate", "Unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var out strings.Builder
			c := &Console{out: &out}
			if c.exec(context.Background(), tt.line) {
				t.Fatalf("exec(%q) quit", tt.line)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("exec(%q) output = %q, want %q", tt.line, out.String(), tt.want)
			}
		})
	}
}

func testGatewayCredentials(t *testing.T) *cert.GatewayCredentials {
	t.Helper()
	root, err := cert.NewAuthority()
	if err != nil {
		t.Fatalf("NewAuthority() error = %v", err)
	}
	key, err := cert.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return &cert.GatewayCredentials{
		IdentityKey:   key,
		RootPublicKey: root.PublicKey(),
	}
}

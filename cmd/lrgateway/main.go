// Command lrgateway runs a gateway node.
//
// The gateway answers secure session handshakes, assigns device
// addresses, persists its device table and serves join, keep-alive and
// clock sync requests. On a UDP link it advertises itself over mDNS so
// devices can find it without a static peer table.
//
// Usage:
//
//	lrgateway [flags]
//
// Flags:
//
//	-config string     Configuration file (default "lrgateway.yaml")
//	-log-level string  Override the configured log level
//	-interactive       Open the interactive console
//	-version           Print the version and exit
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/lrmgmt/lrmgmt-go/internal/node"
	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/config"
	"github.com/lrmgmt/lrmgmt-go/pkg/discovery"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/service"
	"github.com/lrmgmt/lrmgmt-go/pkg/version"
)

var (
	configPath  = flag.String("config", "lrgateway.yaml", "Configuration file")
	logLevel    = flag.String("log-level", "", "Override the configured log level: debug, info, warn, error")
	interact    = flag.Bool("interactive", false, "Open the interactive console")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("lrgateway", version.String())
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lrgateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Role != config.RoleGateway {
		return fmt.Errorf("%s: role is %q, want %q", *configPath, cfg.Role, config.RoleGateway)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var console *Console
	var out io.Writer = os.Stderr
	if *interact {
		console, err = NewConsole()
		if err != nil {
			return err
		}
		out = console.Stdout()
	}
	logger := cfg.NewLoggerTo(out)
	logger.Info("starting", "version", version.String(), "config", *configPath, "link", cfg.Link.Type)

	creds, err := loadCredentials(cfg)
	if err != nil {
		return err
	}
	plog, closeLog, err := node.OpenProtocolLog(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := node.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	peers, err := cfg.UDPPeers()
	if err != nil {
		return err
	}
	policies, err := cfg.PolicyTable()
	if err != nil {
		return err
	}
	local, err := cfg.LocalAddress()
	if err != nil {
		return err
	}
	first, err := cfg.FirstAddress()
	if err != nil {
		return err
	}

	dial, err := node.Dialer(cfg, node.DialOptions{
		Peers: peers,
		OnBroker: func(up bool) {
			logger.Info("broker connectivity", "up", up)
		},
		Logger:         logger,
		ProtocolLogger: plog,
	})
	if err != nil {
		return err
	}
	lnk := node.NewSupervisedLink(node.SupervisedConfig{Dial: dial, Local: local, Logger: logger})
	if err := lnk.Connect(ctx); err != nil {
		return fmt.Errorf("open link: %w", err)
	}

	queue := eventq.New(eventq.Config{Logger: logger})
	aeads, kdfs := cfg.Suites()
	gw, err := service.NewGateway(service.GatewayConfig{
		Queue:        queue,
		Link:         lnk,
		Credentials:  creds,
		Store:        store,
		AEADs:        aeads,
		KDFs:         kdfs,
		FirstAddress: first,
		GroupID:      cfg.Gateway.GroupID,
		AuxID:        cfg.Gateway.AuxID,
		Secure:       cfg.Mgmt.Secure,
		Policies:     policies,
		Replay:       cfg.ReplayConfig(),
		DefaultTTL:   cfg.Dispatch.DefaultTTL,
		SendTimeout:  cfg.Dispatch.SendTimeout,
		OnDevice: func(rec persistence.DeviceRecord) {
			logger.Info("device registered", "serial", rec.Serial, "address", link.Address(rec.Address))
		},
		Logger:         logger,
		ProtocolLogger: plog,
	})
	if err != nil {
		_ = lnk.Close()
		return err
	}
	defer gw.Close()
	logger.Info("gateway ready", "address", local, "devices", len(gw.Devices()))

	if cfg.Discovery.Enabled && cfg.Link.Type == config.LinkUDP {
		adv, err := advertise(cfg, local, logger)
		if err != nil {
			logger.Warn("mDNS advertising failed", "err", err)
		} else {
			defer adv.Stop()
		}
	}

	queueErr := make(chan error, 1)
	go func() { queueErr <- queue.Run(ctx) }()

	if console != nil {
		console.Attach(gw, queue)
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := <-queueErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadCredentials reads the manifest and merges the configured
// revocations into it.
func loadCredentials(cfg *config.Config) (*cert.GatewayCredentials, error) {
	creds, err := cert.NewFileStore(cfg.Credentials).GatewayCredentials()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds.Revoked == nil {
		creds.Revoked = cert.NewRevocationList()
	}
	for _, s := range cfg.Gateway.Revoked {
		serial, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("gateway.revoked: serial %q: %w", s, err)
		}
		creds.Revoked.Add(serial)
	}
	return creds, nil
}

func advertise(cfg *config.Config, local link.Address, logger *slog.Logger) (*discovery.Advertiser, error) {
	name := cfg.Discovery.Instance
	if name == "" {
		name = "lrgw-" + uuid.NewString()[:8]
	}
	port := discovery.DefaultPort
	if _, p, err := net.SplitHostPort(cfg.Link.UDP.Listen); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			port = n
		}
	}

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
	err := adv.Advertise(&discovery.GatewayInfo{
		Name:    name,
		Address: local,
		Port:    uint16(port),
		Version: version.Protocol,
		GroupID: cfg.Gateway.GroupID,
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}

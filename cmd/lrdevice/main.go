// Command lrdevice runs an endpoint node.
//
// The node loads its credential manifest, opens the configured link
// (UDP, MQTT or a radio modem on a serial port), registers with its
// gateway and then keeps the management core running: join, keep-alive,
// clock sync and remote configuration.
//
// Usage:
//
//	lrdevice [flags]
//
// Flags:
//
//	-config string     Configuration file (default "lrdevice.yaml")
//	-log-level string  Override the configured log level
//	-interactive       Open the interactive console
//	-version           Print the version and exit
//
// Examples:
//
//	# Register over UDP and keep running
//	lrdevice -config /etc/lrmgmt/device.yaml
//
//	# Drive registration by hand
//	lrdevice -config device.yaml -interactive -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lrmgmt/lrmgmt-go/cmd/lrdevice/interactive"
	"github.com/lrmgmt/lrmgmt-go/internal/node"
	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/config"
	"github.com/lrmgmt/lrmgmt-go/pkg/connection"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/registration"
	"github.com/lrmgmt/lrmgmt-go/pkg/service"
	"github.com/lrmgmt/lrmgmt-go/pkg/version"
)

var (
	configPath  = flag.String("config", "lrdevice.yaml", "Configuration file")
	logLevel    = flag.String("log-level", "", "Override the configured log level: debug, info, warn, error")
	interact    = flag.Bool("interactive", false, "Open the interactive console")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("lrdevice", version.String())
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lrdevice:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Role != config.RoleDevice {
		return fmt.Errorf("%s: role is %q, want %q", *configPath, cfg.Role, config.RoleDevice)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var console *interactive.Console
	var out io.Writer = os.Stderr
	if *interact {
		console, err = interactive.New()
		if err != nil {
			return err
		}
		out = console.Stdout()
	}
	logger := cfg.NewLoggerTo(out)
	logger.Info("starting", "version", version.String(), "config", *configPath, "link", cfg.Link.Type)

	creds, err := cert.NewFileStore(cfg.Credentials).DeviceCredentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
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

	peers, err := node.ResolvePeers(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("resolve gateway: %w", err)
	}
	policies, err := cfg.PolicyTable()
	if err != nil {
		return err
	}
	gateway, err := cfg.PeerAddress()
	if err != nil {
		return err
	}
	local, err := cfg.LocalAddress()
	if err != nil {
		return err
	}

	queue := eventq.New(eventq.Config{Logger: logger})

	// dev is set before the queue runs; network events only touch it
	// from the queue.
	var dev *service.Device
	netState := func(up bool) {
		queue.Post(func() {
			if dev == nil || !dev.Mgmt().Paired() {
				return
			}
			if up {
				dev.Mgmt().OnNetworkState(mgmt.NetSynced)
			} else {
				dev.Mgmt().OnNetworkState(mgmt.NetLost)
			}
		})
	}

	dial, err := node.Dialer(cfg, node.DialOptions{
		Peers:          peers,
		OnBroker:       netState,
		Logger:         logger,
		ProtocolLogger: plog,
	})
	if err != nil {
		return err
	}
	lnk := node.NewSupervisedLink(node.SupervisedConfig{
		Dial:  dial,
		Local: local,
		OnStateChange: func(_, next connection.State) {
			switch next {
			case connection.StateConnected:
				netState(true)
			case connection.StateReconnecting:
				netState(false)
			}
		},
		Logger: logger,
	})
	if err := lnk.Connect(ctx); err != nil {
		return fmt.Errorf("open link: %w", err)
	}

	aeads, kdfs := cfg.Suites()
	mc := cfg.Management()
	mc.OnJoin = func(r mgmt.JoinResult) {
		if r.Err != nil {
			logger.Warn("join failed", "code", r.Code, "retries", r.Retries, "err", r.Err)
			return
		}
		logger.Info("joined", "group", dev.Mgmt().GroupID(), "aux", dev.Mgmt().AuxID())
	}
	mc.OnClockSync = func(offset time.Duration) {
		logger.Info("clock corrected", "offset", offset)
	}
	mc.OnFactoryReset = func() {
		logger.Warn("factory reset complete")
	}

	dev, err = service.NewDevice(service.DeviceConfig{
		Queue:               queue,
		Link:                lnk,
		Credentials:         creds,
		Gateway:             gateway,
		Store:               store,
		AEADs:               aeads,
		KDFs:                kdfs,
		RegistrationTimeout: cfg.Registration.Timeout,
		Policies:            policies,
		Replay:              cfg.ReplayConfig(),
		DefaultTTL:          cfg.Dispatch.DefaultTTL,
		SendTimeout:         cfg.Dispatch.SendTimeout,
		Mgmt:                mc,
		OnRegistration:      reportRegistration(logger),
		Logger:              logger,
		ProtocolLogger:      plog,
	})
	if err != nil {
		_ = lnk.Close()
		return err
	}
	defer dev.Close()

	queue.Post(func() {
		if dev.Mgmt().Paired() {
			logger.Info("restored pairing", "address", dev.Mgmt().Address())
			dev.Mgmt().StartKeepAlive()
			dev.Mgmt().OnNetworkState(mgmt.NetSynced)
			return
		}
		if cfg.Registration.AutoStart {
			if err := dev.Register(); err != nil {
				logger.Warn("registration not started", "err", err)
			}
		}
	})

	queueErr := make(chan error, 1)
	go func() { queueErr <- queue.Run(ctx) }()

	if console != nil {
		console.Attach(dev, queue)
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := <-queueErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func reportRegistration(logger *slog.Logger) func(registration.Outcome) {
	return func(o registration.Outcome) {
		attrs := []any{
			"state", o.State,
			"key_refresh", o.KeyRefresh,
			"attempts", o.Attempts,
			"duration", o.FinishedAt.Sub(o.StartedAt),
		}
		if o.Err != nil {
			logger.Warn("registration finished", append(attrs, "err", o.Err)...)
			return
		}
		logger.Info("registration finished", attrs...)
	}
}

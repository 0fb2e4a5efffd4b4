package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lrmgmt/lrmgmt-go/pkg/config"
	"github.com/lrmgmt/lrmgmt-go/pkg/discovery"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
)

// OpenStore opens the configured state store. The none backend yields a
// nil store.
func OpenStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreFile:
		return persistence.NewFileStore(cfg.Store.Path), nil
	case config.StoreBolt:
		s, err := persistence.NewBoltStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// OpenProtocolLog returns the protocol logger. Events always go to the
// operational logger at debug level, and to the CBOR file when one is
// configured. The returned function closes the file.
func OpenProtocolLog(cfg *config.Config, logger *slog.Logger) (log.Logger, func() error, error) {
	adapter := log.NewSlogAdapter(logger)
	if cfg.Log.Protocol == "" {
		return adapter, func() error { return nil }, nil
	}
	fl, err := log.NewFileLogger(cfg.Log.Protocol)
	if err != nil {
		return nil, nil, fmt.Errorf("open protocol log: %w", err)
	}
	return log.NewMultiLogger(fl, adapter), fl.Close, nil
}

// ResolvePeers returns the UDP peer table. With discovery enabled, a
// device looks its gateway up over mDNS and adds the endpoint found.
func ResolvePeers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[link.Address]string, error) {
	peers, err := cfg.UDPPeers()
	if err != nil {
		return nil, err
	}
	if !cfg.Discovery.Enabled || cfg.Role != config.RoleDevice || cfg.Link.Type != config.LinkUDP {
		return peers, nil
	}
	gw, err := cfg.PeerAddress()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Discovery.Timeout)
	defer cancel()
	svc, err := discovery.NewBrowser(discovery.BrowserConfig{Logger: logger}).FindGateway(ctx, gw)
	if err != nil {
		return nil, err
	}
	ep, ok := svc.UDPEndpoint()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no address", discovery.ErrNotFound, svc.Name)
	}
	logger.Info("gateway discovered", "name", svc.Name, "address", svc.Address, "endpoint", ep)
	peers[gw] = ep
	return peers, nil
}

// DialOptions are the runtime inputs of Dialer.
type DialOptions struct {
	// Peers is the UDP peer table.
	Peers map[link.Address]string

	// OnBroker reports MQTT broker connectivity.
	OnBroker func(up bool)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Dialer returns a LinkDialer for the configured link type.
func Dialer(cfg *config.Config, opts DialOptions) (LinkDialer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lc := cfg.Link

	switch lc.Type {
	case config.LinkUDP:
		return func(_ context.Context, local link.Address, _ func(error)) (link.NetworkInterface, error) {
			return link.ListenUDP(link.UDPConfig{
				Listen:       lc.UDP.Listen,
				Peers:        opts.Peers,
				BroadcastTo:  lc.UDP.Broadcast,
				Local:        local,
				MaxFrameSize: lc.MaxFrameSize,
				Logger:       logger,
			})
		}, nil

	case config.LinkMQTT:
		clientID := lc.MQTT.ClientID
		if clientID == "" {
			// Unassigned devices share an address, so the address cannot
			// name the session.
			clientID = "lrmgmt-" + uuid.NewString()
		}
		return func(_ context.Context, local link.Address, _ func(error)) (link.NetworkInterface, error) {
			return link.DialMQTT(link.MQTTConfig{
				Broker:             lc.MQTT.Broker,
				ClientID:           clientID,
				Username:           lc.MQTT.Username,
				Password:           lc.MQTT.Password,
				TopicPrefix:        lc.MQTT.TopicPrefix,
				Local:              local,
				OnConnectionChange: opts.OnBroker,
				Logger:             logger,
			})
		}, nil

	case config.LinkSerial:
		return func(_ context.Context, local link.Address, lost func(error)) (link.NetworkInterface, error) {
			return link.OpenSerial(link.SerialConfig{
				Port:           lc.Serial.Port,
				BaudRate:       lc.Serial.Baud,
				MaxFrameSize:   lc.MaxFrameSize,
				Local:          local,
				OnLost:         lost,
				Logger:         logger,
				ProtocolLogger: opts.ProtocolLogger,
			})
		}, nil

	default:
		return nil, fmt.Errorf("%w: link type %q", config.ErrInvalid, lc.Type)
	}
}

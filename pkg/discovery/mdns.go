package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/version"
)

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface. Empty means all.
	Interface string

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	Logger *slog.Logger
}

// Advertiser announces a gateway with zeroconf.
type Advertiser struct {
	cfg    AdvertiserConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Advertiser{cfg: cfg, logger: logger.With("component", "discovery")}
}

// Advertise starts or replaces the gateway announcement.
func (a *Advertiser) Advertise(info *GatewayInfo) error {
	if err := ValidateInstanceName(info.Name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}
	txt := TXTRecordsToStrings(EncodeGatewayTXT(info))

	server, err := zeroconf.Register(
		info.Name,
		ServiceType,
		Domain,
		port,
		txt,
		interfaces(a.cfg.Interface),
		zeroconf.TTL(uint32(a.cfg.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register gateway service: %w", err)
	}
	a.server = server
	a.logger.Info("advertising gateway", "name", info.Name, "address", info.Address, "port", port)
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one interface. Empty means all.
	Interface string

	Logger *slog.Logger
}

// Browser looks for gateways with zeroconf.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger
}

// NewBrowser creates a browser.
func NewBrowser(cfg BrowserConfig) *Browser {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Browser{cfg: cfg, logger: logger.With("component", "discovery")}
}

// Browse emits every compatible gateway once per instance name. The
// channel is closed when ctx ends.
func (b *Browser) Browse(ctx context.Context) (<-chan *GatewayService, error) {
	out := make(chan *GatewayService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.cfg.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)

		seen := make(map[string]*GatewayService)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := gatewayFromEntry(entry.Instance, entry.HostName, entry.Port, entry.Text, entry.AddrIPv4, entry.AddrIPv6)
				if err != nil {
					b.logger.Debug("ignoring service", "instance", entry.Instance, "err", err)
					continue
				}
				if existing, found := seen[svc.Name]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				seen[svc.Name] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
			b.logger.Warn("browse failed", "err", err)
		}
	}()

	return out, nil
}

// FindGateway returns the first compatible gateway. want selects a
// specific link address; Unassigned accepts any.
func (b *Browser) FindGateway(ctx context.Context, want link.Address) (*GatewayService, error) {
	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if want == link.Unassigned || svc.Address == want {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
		}
	}
}

func gatewayFromEntry(instance, host string, port int, text []string, ipSets ...[]net.IP) (*GatewayService, error) {
	info, err := DecodeGatewayTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil, err
	}
	if !version.CompatibleString(info.Version) {
		return nil, fmt.Errorf("%w: %s", ErrIncompatible, info.Version)
	}
	info.Name = instance
	info.Port = uint16(port)

	var addrs []string
	for _, ips := range ipSets {
		for _, ip := range ips {
			addrs = append(addrs, ip.String())
		}
	}
	return &GatewayService{GatewayInfo: *info, Host: host, Addresses: addrs}, nil
}

func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

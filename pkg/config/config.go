package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lrmgmt/lrmgmt-go/pkg/connection"
	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/registration"
	"github.com/lrmgmt/lrmgmt-go/pkg/replay"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Roles.
const (
	RoleDevice  = "device"
	RoleGateway = "gateway"
)

// Link types.
const (
	LinkUDP    = "udp"
	LinkMQTT   = "mqtt"
	LinkSerial = "serial"
)

// Store backends.
const (
	StoreFile = "file"
	StoreBolt = "bolt"
	StoreNone = "none"
)

// DefaultGatewayAddress is the gateway's link address unless configured.
const DefaultGatewayAddress = "0x00000001"

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the node configuration file.
type Config struct {
	Role string `yaml:"role" validate:"required,oneof=device gateway"`

	// Credentials is the directory holding the credential manifest.
	Credentials string `yaml:"credentials" validate:"required"`

	// Address is the local link address. Devices start unassigned.
	Address string `yaml:"address"`

	// Peer is the gateway address a device talks to.
	Peer string `yaml:"peer"`

	Log          LogConfig          `yaml:"log"`
	Link         LinkConfig         `yaml:"link"`
	Store        StoreConfig        `yaml:"store"`
	Session      SessionConfig      `yaml:"session"`
	Registration RegistrationConfig `yaml:"registration"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Mgmt         MgmtConfig         `yaml:"mgmt"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
}

// LogConfig selects operational and protocol logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`

	// Protocol is the path of the CBOR protocol log. Empty disables it.
	Protocol string `yaml:"protocol"`
}

// LinkConfig selects the network interface.
type LinkConfig struct {
	Type         string       `yaml:"type" validate:"required,oneof=udp mqtt serial"`
	MaxFrameSize int          `yaml:"max_frame_size" validate:"gte=0,lte=65535"`
	UDP          UDPConfig    `yaml:"udp"`
	MQTT         MQTTConfig   `yaml:"mqtt"`
	Serial       SerialConfig `yaml:"serial"`
}

// UDPConfig configures the short-range IP link.
type UDPConfig struct {
	Listen    string            `yaml:"listen"`
	Peers     map[string]string `yaml:"peers"`
	Broadcast string            `yaml:"broadcast"`
}

// MQTTConfig configures the MQTT backhaul.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// SerialConfig configures the radio modem UART.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud" validate:"gte=0"`
}

// StoreConfig selects where identifiers are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file bolt none"`
	Path    string `yaml:"path"`
}

// SessionConfig lists the suites offered during the handshake, in
// preference order.
type SessionConfig struct {
	AEADs []string `yaml:"aeads" validate:"dive,oneof=aes-256-gcm chacha20-poly1305"`
	KDFs  []string `yaml:"kdfs" validate:"dive,oneof=hkdf-sha256 blake3"`
}

// RegistrationConfig configures the registration controller.
type RegistrationConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// AutoStart begins registration at startup when not yet paired.
	AutoStart bool `yaml:"auto_start"`
}

// DispatchConfig configures the command dispatcher.
type DispatchConfig struct {
	DefaultTTL     time.Duration  `yaml:"default_ttl" validate:"gt=0"`
	SendTimeout    time.Duration  `yaml:"send_timeout" validate:"gt=0"`
	ReplayCapacity int            `yaml:"replay_capacity" validate:"gte=0"`
	ReplayWindow   time.Duration  `yaml:"replay_window" validate:"gte=0"`
	Policies       []PolicyConfig `yaml:"policies" validate:"dive"`
}

// PolicyConfig is one outbound retry policy entry.
type PolicyConfig struct {
	// Command is "Class.Command", e.g. "Join.Request".
	Command string `yaml:"command" validate:"required"`
	Opcode  string `yaml:"opcode" validate:"required"`

	// Local and Remote are link addresses. Empty or "*" matches any.
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`

	ResponseRequired           bool          `yaml:"response_required"`
	TTL                        time.Duration `yaml:"ttl" validate:"gt=0"`
	Retries                    int           `yaml:"retries" validate:"gte=0,lte=255"`
	UseMessageParams           bool          `yaml:"use_message_params"`
	SuppressDuplicateFiltering bool          `yaml:"suppress_duplicate_filtering"`
}

// MgmtConfig configures the management core.
type MgmtConfig struct {
	Secure            bool            `yaml:"secure"`
	KeepAlive         time.Duration   `yaml:"keep_alive" validate:"gte=0"`
	ResyncDelay       time.Duration   `yaml:"resync_delay" validate:"gt=0"`
	JoinDelay         time.Duration   `yaml:"join_delay" validate:"gt=0"`
	JoinJitter        float64         `yaml:"join_jitter" validate:"gte=0,lte=1"`
	JoinBackoff       BackoffConfig   `yaml:"join_backoff"`
	MaxJoinRetries    int             `yaml:"max_join_retries" validate:"gte=1"`
	SyncInterval      time.Duration   `yaml:"sync_interval" validate:"gt=0"`
	SuspendIntervals  []time.Duration `yaml:"suspend_intervals" validate:"min=1,dive,gt=0"`
	FactoryResetDelay time.Duration   `yaml:"factory_reset_delay" validate:"gt=0"`
}

// BackoffConfig paces retries.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" validate:"gt=0"`
	Max        time.Duration `yaml:"max" validate:"gtefield=Initial"`
	Multiplier float64       `yaml:"multiplier" validate:"gte=1"`
	Jitter     float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// GatewayConfig configures the gateway role.
type GatewayConfig struct {
	// FirstAddress is the first address handed to devices.
	FirstAddress string `yaml:"first_address"`

	// GroupID and AuxID are assigned to joining devices.
	GroupID uint32 `yaml:"group_id"`
	AuxID   uint32 `yaml:"aux_id"`

	// Revoked lists device serials refused during provisioning.
	Revoked []string `yaml:"revoked"`
}

// DiscoveryConfig configures mDNS discovery of the gateway on the UDP link.
type DiscoveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Instance string        `yaml:"instance"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Role: RoleDevice,
		Peer: DefaultGatewayAddress,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Link: LinkConfig{
			Type: LinkUDP,
			UDP:  UDPConfig{Listen: ":4790"},
			MQTT: MQTTConfig{TopicPrefix: link.DefaultTopicPrefix},
			Serial: SerialConfig{
				Baud: 115200,
			},
		},
		Store: StoreConfig{
			Backend: StoreFile,
			Path:    "state",
		},
		Session: SessionConfig{
			AEADs: []string{"aes-256-gcm", "chacha20-poly1305"},
			KDFs:  []string{"hkdf-sha256", "blake3"},
		},
		Registration: RegistrationConfig{
			Timeout: registration.DefaultTimeout,
		},
		Dispatch: DispatchConfig{
			DefaultTTL:  dispatch.DefaultTTL,
			SendTimeout: dispatch.DefaultSendTimeout,
		},
		Mgmt: MgmtConfig{
			KeepAlive:   15 * time.Minute,
			ResyncDelay: mgmt.DefaultResyncDelay,
			JoinDelay:   mgmt.DefaultJoinDelay,
			JoinJitter:  mgmt.DefaultJoinJitter,
			JoinBackoff: BackoffConfig{
				Initial:    connection.InitialBackoff,
				Max:        connection.MaxBackoff,
				Multiplier: connection.BackoffMultiplier,
				Jitter:     connection.JitterFactor,
			},
			MaxJoinRetries:    mgmt.DefaultMaxJoinRetries,
			SyncInterval:      mgmt.DefaultSyncInterval,
			SuspendIntervals:  append([]time.Duration(nil), mgmt.DefaultSuspendIntervals...),
			FactoryResetDelay: mgmt.DefaultFactoryResetDelay,
		},
		Gateway: GatewayConfig{
			FirstAddress: "0x00000100",
		},
		Discovery: DiscoveryConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Role == RoleGateway && cfg.Address == "" {
		cfg.Address = DefaultGatewayAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.validateSemantics(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) validateSemantics() error {
	if _, err := c.LocalAddress(); err != nil {
		return err
	}
	if c.Role == RoleDevice {
		peer, err := c.PeerAddress()
		if err != nil {
			return err
		}
		if peer == link.Unassigned || peer == link.Broadcast {
			return fmt.Errorf("peer %s is not a gateway address", peer)
		}
	}
	if c.Role == RoleGateway {
		if _, err := link.ParseAddress(c.Gateway.FirstAddress); err != nil {
			return err
		}
	}

	switch c.Link.Type {
	case LinkMQTT:
		if c.Link.MQTT.Broker == "" {
			return errors.New("link.mqtt.broker is required")
		}
	case LinkSerial:
		if c.Link.Serial.Port == "" {
			return errors.New("link.serial.port is required")
		}
	case LinkUDP:
		if c.Link.UDP.Listen == "" {
			return errors.New("link.udp.listen is required")
		}
		if _, err := c.UDPPeers(); err != nil {
			return err
		}
	}

	if c.Store.Backend != StoreNone && c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if _, err := c.PolicyTable(); err != nil {
		return err
	}
	return nil
}

// LocalAddress parses Address. An empty address is Unassigned.
func (c *Config) LocalAddress() (link.Address, error) {
	if c.Address == "" {
		return link.Unassigned, nil
	}
	return link.ParseAddress(c.Address)
}

// PeerAddress parses Peer.
func (c *Config) PeerAddress() (link.Address, error) {
	return link.ParseAddress(c.Peer)
}

// FirstAddress parses Gateway.FirstAddress.
func (c *Config) FirstAddress() (link.Address, error) {
	return link.ParseAddress(c.Gateway.FirstAddress)
}

// UDPPeers parses the static UDP peer table.
func (c *Config) UDPPeers() (map[link.Address]string, error) {
	peers := make(map[link.Address]string, len(c.Link.UDP.Peers))
	for k, v := range c.Link.UDP.Peers {
		a, err := link.ParseAddress(k)
		if err != nil {
			return nil, err
		}
		peers[a] = v
	}
	return peers, nil
}

// SlogLevel maps Log.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the operational logger writing to stderr.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stderr)
}

// NewLoggerTo builds the operational logger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Suites maps the configured suite names.
func (c *Config) Suites() ([]secsession.AEADID, []secsession.KDFID) {
	var aeads []secsession.AEADID
	for _, name := range c.Session.AEADs {
		switch name {
		case "aes-256-gcm":
			aeads = append(aeads, secsession.AEADAES256GCM)
		case "chacha20-poly1305":
			aeads = append(aeads, secsession.AEADChaCha20Poly1305)
		}
	}
	var kdfs []secsession.KDFID
	for _, name := range c.Session.KDFs {
		switch name {
		case "hkdf-sha256":
			kdfs = append(kdfs, secsession.KDFHKDFSHA256)
		case "blake3":
			kdfs = append(kdfs, secsession.KDFBLAKE3)
		}
	}
	return aeads, kdfs
}

// ReplayConfig returns the replay guard settings.
func (c *Config) ReplayConfig() replay.Config {
	return replay.Config{
		Capacity: c.Dispatch.ReplayCapacity,
		Window:   c.Dispatch.ReplayWindow,
	}
}

// PolicyTable builds the outbound policy table.
func (c *Config) PolicyTable() (*dispatch.PolicyTable, error) {
	table := dispatch.NewPolicyTable()
	for i, p := range c.Dispatch.Policies {
		key, params, err := p.entry()
		if err != nil {
			return nil, fmt.Errorf("dispatch.policies[%d]: %w", i, err)
		}
		if err := table.Set(key, params); err != nil {
			return nil, fmt.Errorf("dispatch.policies[%d]: %w", i, err)
		}
	}
	return table, nil
}

func (p PolicyConfig) entry() (dispatch.PolicyKey, dispatch.PolicyParams, error) {
	cmd, ok := wire.LookupCommand(p.Command)
	if !ok {
		return dispatch.PolicyKey{}, dispatch.PolicyParams{}, fmt.Errorf("unknown command %q", p.Command)
	}
	op, ok := wire.ParseOpcode(p.Opcode)
	if !ok || op == wire.OpResponse {
		return dispatch.PolicyKey{}, dispatch.PolicyParams{}, fmt.Errorf("invalid opcode %q", p.Opcode)
	}
	local, err := policyAddress(p.Local)
	if err != nil {
		return dispatch.PolicyKey{}, dispatch.PolicyParams{}, err
	}
	remote, err := policyAddress(p.Remote)
	if err != nil {
		return dispatch.PolicyKey{}, dispatch.PolicyParams{}, err
	}
	key := dispatch.PolicyKey{
		Local:            local,
		Remote:           remote,
		Descriptor:       wire.Descriptor{Class: cmd.Class, ID: cmd.ID, Opcode: op},
		ResponseRequired: p.ResponseRequired,
	}
	params := dispatch.PolicyParams{
		TTL:                        p.TTL,
		Retries:                    p.Retries,
		UseMessageParams:           p.UseMessageParams,
		SuppressDuplicateFiltering: p.SuppressDuplicateFiltering,
	}
	return key, params, nil
}

func policyAddress(s string) (link.Address, error) {
	if s == "" || s == "*" {
		return dispatch.AnyAddress, nil
	}
	return link.ParseAddress(s)
}

// Backoff returns the connection backoff settings.
func (b BackoffConfig) Backoff() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
		Jitter:     b.Jitter,
	}
}

// Management returns the management core timing settings. The caller
// fills in the queue, sender, registry, store and callbacks.
func (c *Config) Management() mgmt.Config {
	peer, _ := c.PeerAddress()
	return mgmt.Config{
		Gateway:           peer,
		Secure:            c.Mgmt.Secure,
		JoinDelay:         c.Mgmt.JoinDelay,
		JoinJitter:        c.Mgmt.JoinJitter,
		JoinBackoff:       c.Mgmt.JoinBackoff.Backoff(),
		MaxJoinRetries:    c.Mgmt.MaxJoinRetries,
		KeepAliveInterval: c.Mgmt.KeepAlive,
		ResyncDelay:       c.Mgmt.ResyncDelay,
		SyncInterval:      c.Mgmt.SyncInterval,
		SuspendIntervals:  append([]time.Duration(nil), c.Mgmt.SuspendIntervals...),
		FactoryResetDelay: c.Mgmt.FactoryResetDelay,
	}
}

package link

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Frames are published to <prefix>/frames/<dst>/<src>, addresses as
// eight hex digits. Each endpoint subscribes to its own address and to
// Broadcast.
const (
	DefaultTopicPrefix = "lrmgmt"
	mqttQoS            = 1
)

// MQTTConfig configures an MQTT backhaul link.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// Local is the initial local address.
	Local Address

	// ConnectTimeout defaults to 10s.
	ConnectTimeout time.Duration

	// OnConnectionChange reports broker connectivity. The client
	// reconnects on its own.
	OnConnectionChange func(up bool)

	Logger *slog.Logger
}

// MQTTLink carries frames through an MQTT broker.
type MQTTLink struct {
	client  pahomqtt.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	local    Address
	receiver Receiver
	closed   bool
}

// FrameTopic returns the topic a frame from src to dst is published on.
func FrameTopic(prefix string, dst, src Address) string {
	return fmt.Sprintf("%s/frames/%08x/%08x", prefix, uint32(dst), uint32(src))
}

// ParseFrameTopic extracts (dst, src) from a frame topic.
func ParseFrameTopic(prefix, topic string) (dst, src Address, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/frames/")
	if !ok {
		return 0, 0, fmt.Errorf("link: topic %q outside %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("link: malformed topic %q", topic)
	}
	d, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("link: topic %q: %w", topic, err)
	}
	s, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("link: topic %q: %w", topic, err)
	}
	return Address(d), Address(s), nil
}

// DialMQTT connects to the broker and subscribes for the local address.
func DialMQTT(cfg MQTTConfig) (*MQTTLink, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "lrmgmt-" + cfg.Local.String()
	}
	l := newMQTTLink(cfg)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			l.logger.Info("MQTT connected")
			l.subscribe()
			if cfg.OnConnectionChange != nil {
				cfg.OnConnectionChange(true)
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			l.logger.Warn("MQTT connection lost", "err", err)
			if cfg.OnConnectionChange != nil {
				cfg.OnConnectionChange(false)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	l.client = pahomqtt.NewClient(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(l.timeout) {
		return nil, fmt.Errorf("link: mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("link: mqtt connect: %w", err)
	}
	return l, nil
}

func newMQTTLink(cfg MQTTConfig) *MQTTLink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MQTTLink{
		prefix:  cfg.TopicPrefix,
		timeout: cfg.ConnectTimeout,
		logger:  logger.With("component", "mqtt-link"),
		local:   cfg.Local,
	}
}

func (l *MQTTLink) subscribe() {
	l.mu.Lock()
	local := l.local
	l.mu.Unlock()

	filters := map[string]byte{
		fmt.Sprintf("%s/frames/%08x/+", l.prefix, uint32(local)):     mqttQoS,
		fmt.Sprintf("%s/frames/%08x/+", l.prefix, uint32(Broadcast)): mqttQoS,
	}
	token := l.client.SubscribeMultiple(filters, l.onMessage)
	if token.WaitTimeout(l.timeout) && token.Error() != nil {
		l.logger.Error("MQTT subscribe failed", "err", token.Error())
	}
}

func (l *MQTTLink) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	_, src, err := ParseFrameTopic(l.prefix, msg.Topic())
	if err != nil {
		l.logger.Debug("ignoring message", "err", err)
		return
	}
	l.deliver(src, msg.Payload())
}

func (l *MQTTLink) deliver(src Address, frame []byte) {
	l.mu.Lock()
	recv := l.receiver
	local := l.local
	closed := l.closed
	l.mu.Unlock()

	// Our own broadcasts come back through the broker.
	if closed || recv == nil || src == local {
		return
	}
	recv(src, append([]byte(nil), frame...))
}

// Send publishes the frame and waits for the broker to acknowledge it.
func (l *MQTTLink) Send(ctx context.Context, dst Address, frame []byte, _ bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	src := l.local
	l.mu.Unlock()

	token := l.client.Publish(FrameTopic(l.prefix, dst, src), mqttQoS, false, frame)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetReceiver installs the inbound callback.
func (l *MQTTLink) SetReceiver(r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = r
}

// LocalAddress returns the local address.
func (l *MQTTLink) LocalAddress() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

// SetLocalAddress moves the subscription to a new address.
func (l *MQTTLink) SetLocalAddress(a Address) {
	l.mu.Lock()
	old := l.local
	l.local = a
	l.mu.Unlock()

	if old == a || l.client == nil || !l.client.IsConnected() {
		return
	}
	l.client.Unsubscribe(fmt.Sprintf("%s/frames/%08x/+", l.prefix, uint32(old)))
	l.subscribe()
}

// Close disconnects from the broker.
func (l *MQTTLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.client != nil {
		l.client.Disconnect(1000)
	}
	return nil
}

var _ NetworkInterface = (*MQTTLink)(nil)

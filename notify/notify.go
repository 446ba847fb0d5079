// Package notify publishes the saved port set to an MQTT broker so other
// components can follow configuration changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timzifer/mbusdconf/config"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
	"github.com/timzifer/mbusdconf/internal/logging"
)

const defaultTimeout = 5 * time.Second

// Publisher announces a saved configuration.
type Publisher interface {
	Publish(ctx context.Context, ports []config.PortSection) error
	Close()
}

type noop struct{}

// Noop returns a Publisher that does nothing.
func Noop() Publisher { return noop{} }

func (noop) Publish(context.Context, []config.PortSection) error { return nil }
func (noop) Close()                                              {}

// Enabled reports whether p actually delivers notifications.
func Enabled(p Publisher) bool {
	if p == nil {
		return false
	}
	_, disabled := p.(noop)
	return !disabled
}

// Port is the published view of one section.
type Port struct {
	Name string `json:"name,omitempty"`
	config.PortSection
}

// Message is the payload published after a save.
type Message struct {
	SavedAt time.Time `json:"saved_at"`
	Enabled int       `json:"enabled"`
	Ports   []Port    `json:"ports"`
}

// NewMessage builds the payload for ports.
func NewMessage(ports []config.PortSection, now time.Time) Message {
	msg := Message{SavedAt: now.UTC(), Ports: make([]Port, 0, len(ports))}
	for _, p := range ports {
		if p.Enable {
			msg.Enabled++
		}
		msg.Ports = append(msg.Ports, Port{Name: p.Name, PortSection: p})
	}
	return msg
}

// MQTTPublisher publishes messages with paho.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg internalconfig.NotifyConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt: topic is required")
	}
	logger = logging.Component(logger, "notify").With().Str("broker", cfg.Broker).Logger()
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mbusdconf-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	if cfg.Auth != nil {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return &MQTTPublisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Publish sends the port set and waits for the broker to acknowledge it.
func (p *MQTTPublisher) Publish(ctx context.Context, ports []config.PortSection) error {
	payload, err := json.Marshal(NewMessage(ports, p.now()))
	if err != nil {
		return fmt.Errorf("mqtt: encode payload: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish failed: %w", err)
	}
	p.logger.Debug().Str("topic", p.topic).Int("ports", len(ports)).Msg("configuration published")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

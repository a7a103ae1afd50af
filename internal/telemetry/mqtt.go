// Package telemetry publishes engine and output statistics to an MQTT
// broker.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

// Client is the subset of mqtt.Client used by the emitter and the
// control handler.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker   string // host:port, or a full URL with scheme
	ClientID string
	Retry    RetryConfig
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Emitter publishes payloads and keeps per-topic counts.
type Emitter struct {
	client Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
}

// NewEmitter wraps an already connected client.
func NewEmitter(client Client) *Emitter {
	return &Emitter{
		client:    client,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker, retrying with backoff, and returns an emitter
// with auto-reconnect enabled.
func Connect(ctx context.Context, o Options) (*Emitter, error) {
	if o.Broker == "" {
		return nil, errors.New("telemetry: broker address is required")
	}
	if o.ClientID == "" {
		o.ClientID = "frame-lifecycle"
	}
	if o.Retry == (RetryConfig{}) {
		o.Retry = DefaultRetryConfig()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(o.Broker))
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("telemetry: mqtt connection established", "broker", o.Broker, "client_id", o.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect", "broker", o.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	err := Retry(ctx, o.Retry, "mqtt "+o.Broker, func(context.Context) error {
		token := client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connection timeout")
		}
		return token.Error()
	})
	if err != nil {
		return nil, err
	}
	return NewEmitter(client), nil
}

// Publish sends payload at QoS 0 and waits for the token.
func (e *Emitter) Publish(topic string, payload []byte) error {
	if !e.client.IsConnected() {
		e.fail()
		return ErrNotConnected
	}

	token := e.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.fail()
		return fmt.Errorf("telemetry: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("telemetry: publish to %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("telemetry: published", "topic", topic, "size", len(payload))
	return nil
}

func (e *Emitter) fail() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Disconnect closes the connection with a 250ms grace period.
func (e *Emitter) Disconnect() {
	if e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.client.IsConnected(),
		Published: maps.Clone(e.published),
		Errors:    e.errors,
	}
}

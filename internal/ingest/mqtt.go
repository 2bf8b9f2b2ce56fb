// Package ingest feeds vehicle telemetry from an MQTT broker into the
// fleet controller.
//
// Vehicles publish JSON readings to smartmove/vehicles/{id}/telemetry. The
// subscriber decodes each message and hands it to a Sink, normally
// fleet.Controller.SendTelemetry, which only enqueues. Malformed messages
// are logged and dropped; nothing is published back.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roach88/smartmove/internal/domain"
)

// DefaultTopic is the shared subscription for all vehicles.
const DefaultTopic = "smartmove/vehicles/+/telemetry"

// DefaultTimeout bounds connect, subscribe and unsubscribe round trips.
const DefaultTimeout = 10 * time.Second

// Sink receives decoded readings. *fleet.Controller implements it.
type Sink interface {
	SendTelemetry(t domain.Telemetry) error
}

// Config configures a Subscriber.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Stats counts messages seen by a Subscriber.
type Stats struct {
	Received uint64
	Accepted uint64
	Rejected uint64
}

// Subscriber consumes telemetry messages from one MQTT subscription.
//
// Thread-safety: paho invokes handlers from its own goroutines; the
// counters are atomic and the Sink must be safe for concurrent use.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	qos     byte
	sink    Sink
	timeout time.Duration

	subscribed atomic.Bool
	received   atomic.Uint64
	accepted   atomic.Uint64
	rejected   atomic.Uint64
}

// New creates a subscriber with a paho client for cfg. The client
// reconnects automatically and resubscribes after each reconnect.
func New(cfg Config, sink Sink) *Subscriber {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("smartmove-%d", time.Now().UnixNano())
	}

	s := &Subscriber{topic: topic, qos: cfg.QoS, sink: sink, timeout: DefaultTimeout}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(true). // per-vehicle readings must reach the queue in order
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			if s.subscribed.Load() {
				if err := s.subscribe(); err != nil {
					slog.Error("mqtt resubscribe failed", "topic", s.topic, "error", err)
				}
			}
		})

	s.client = mqtt.NewClient(opts)
	return s
}

// NewWithClient wraps an existing client. Used by tests and by callers
// that manage their own connection options.
func NewWithClient(client mqtt.Client, topic string, qos byte, sink Sink) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, topic: topic, qos: qos, sink: sink, timeout: DefaultTimeout}
}

// Run connects, subscribes, and blocks until ctx is cancelled. It then
// unsubscribes and disconnects. Connection and subscription failures are
// returned immediately.
func (s *Subscriber) Run(ctx context.Context) error {
	if !s.client.IsConnected() {
		if err := s.wait(s.client.Connect()); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	}

	if err := s.subscribe(); err != nil {
		s.client.Disconnect(250)
		return err
	}
	s.subscribed.Store(true)
	slog.Info("telemetry ingest subscribed", "topic", s.topic, "qos", s.qos)

	<-ctx.Done()

	s.subscribed.Store(false)
	if err := s.wait(s.client.Unsubscribe(s.topic)); err != nil {
		slog.Warn("mqtt unsubscribe failed", "topic", s.topic, "error", err)
	}
	s.client.Disconnect(250)

	st := s.Stats()
	slog.Info("telemetry ingest stopped",
		"received", st.Received, "accepted", st.Accepted, "rejected", st.Rejected)
	return nil
}

// Stats returns a snapshot of the message counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
	}
}

func (s *Subscriber) subscribe() error {
	if err := s.wait(s.client.Subscribe(s.topic, s.qos, s.handle)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.topic, err)
	}
	return nil
}

func (s *Subscriber) wait(token mqtt.Token) error {
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("timed out after %s", s.timeout)
	}
	return token.Error()
}

// handle is the paho message callback.
func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	s.received.Add(1)

	t, err := decodeMessage(msg.Topic(), msg.Payload())
	if err != nil {
		s.rejected.Add(1)
		slog.Warn("telemetry message rejected", "topic", msg.Topic(), "error", err)
		return
	}

	if err := s.sink.SendTelemetry(t); err != nil {
		s.rejected.Add(1)
		slog.Warn("telemetry not accepted", "vehicle_id", t.VehicleID, "error", err)
		return
	}
	s.accepted.Add(1)
}

// decodeMessage parses a telemetry payload. The vehicle id may come from
// the payload, the topic, or both; when both are present they must agree.
func decodeMessage(topic string, payload []byte) (domain.Telemetry, error) {
	var t domain.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return domain.Telemetry{}, fmt.Errorf("decode payload: %w", err)
	}

	fromTopic := vehicleFromTopic(topic)
	t.VehicleID = strings.TrimSpace(t.VehicleID)
	switch {
	case t.VehicleID == "" && fromTopic == "":
		return domain.Telemetry{}, fmt.Errorf("no vehicle id in topic %q or payload", topic)
	case t.VehicleID == "":
		t.VehicleID = fromTopic
	case fromTopic != "" && fromTopic != t.VehicleID:
		return domain.Telemetry{}, fmt.Errorf("payload vehicle %q does not match topic vehicle %q", t.VehicleID, fromTopic)
	}
	return t, nil
}

// vehicleFromTopic extracts {id} from smartmove/vehicles/{id}/telemetry.
func vehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "smartmove" && parts[1] == "vehicles" && parts[3] == "telemetry" {
		return parts[2]
	}
	return ""
}

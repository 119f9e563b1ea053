package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	qosAtLeastOnce = 1
	inboundLanes   = 16
	laneDepth      = 64
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// MQTT is a Bus over an MQTT broker. Inbound messages are QoS 1 and acked
// only when the handler returns nil. Messages from one device are handled one
// at a time in the order the broker delivered them.
type MQTT struct {
	client mqtt.Client
	log    *zap.Logger
	lanes  *Lanes

	mu   sync.Mutex
	subs map[string]Handler
}

// NewMQTT connects to the broker and returns a ready bus.
func NewMQTT(ctx context.Context, cfg MQTTConfig, log *zap.Logger) (*MQTT, error) {
	b := &MQTT{log: log, subs: map[string]Handler{}, lanes: NewLanes(inboundLanes, laneDepth, DeviceKey)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		b.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = mqtt.NewClient(opts)
	if err := wait(ctx, b.client.Connect()); err != nil {
		b.lanes.Close()
		return nil, err
	}
	return b, nil
}

// Publish encodes v as JSON and publishes it with QoS 1.
func (b *MQTT) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wait(ctx, b.client.Publish(topic, qosAtLeastOnce, false, payload))
}

// Subscribe registers h for topic and keeps it across reconnects.
func (b *MQTT) Subscribe(topic string, h Handler) error {
	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()
	return b.subscribe(topic, h)
}

func (b *MQTT) subscribe(topic string, h Handler) error {
	// paho calls this in receive order; the lane keeps that order per device
	// while other devices proceed.
	tok := b.client.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		b.lanes.Dispatch(msg.Payload(), func() {
			if err := h(context.Background(), msg.Topic(), msg.Payload()); err != nil {
				b.log.Warn("message left unacked",
					zap.String("topic", msg.Topic()), zap.Uint16("message_id", msg.MessageID()), zap.Error(err))
				return
			}
			msg.Ack()
		})
	})
	return wait(context.Background(), tok)
}

func (b *MQTT) resubscribe() {
	b.mu.Lock()
	subs := make(map[string]Handler, len(b.subs))
	for t, h := range b.subs {
		subs[t] = h
	}
	b.mu.Unlock()
	for topic, h := range subs {
		if err := b.subscribe(topic, h); err != nil {
			b.log.Error("resubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Close disconnects, allowing in-flight work a short grace period.
func (b *MQTT) Close() {
	b.client.Disconnect(250)
	b.lanes.Close()
}

// Healthy reports whether the client is connected.
func (b *MQTT) Healthy() bool {
	return b.client.IsConnectionOpen()
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("mqtt: operation timed out")
	}
}

// Package bus carries JSON messages between edge devices and the server.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Topics used by the attendance protocol.
const (
	TopicCheckInRequest  = "attendance/check-in/request"
	TopicCheckOutRequest = "attendance/check-out/request"
)

// CheckInResponse is the ack topic for a device.
func CheckInResponse(deviceID string) string {
	return fmt.Sprintf("attendance/check-in/response/%s", deviceID)
}

// CheckOutResponse is the check-out ack topic for a device.
func CheckOutResponse(deviceID string) string {
	return fmt.Sprintf("attendance/check-out/response/%s", deviceID)
}

// Control is the topic a device listens on for mode changes.
func Control(deviceID string) string {
	return fmt.Sprintf("devices/%s/control", deviceID)
}

// Handler processes one inbound payload. Returning an error leaves the message
// unacknowledged so the broker redelivers it.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Bus publishes and subscribes to topics.
type Bus interface {
	Publish(ctx context.Context, topic string, v any) error
	Subscribe(topic string, h Handler) error
}

// Memory is an in-process bus that delivers synchronously. Published payloads
// are recorded per topic.
type Memory struct {
	mu        sync.Mutex
	handlers  map[string][]Handler
	published map[string][][]byte
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{handlers: map[string][]Handler{}, published: map[string][][]byte{}}
}

// Publish encodes v and delivers it to subscribers of topic.
func (m *Memory) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.published[topic] = append(m.published[topic], payload)
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.mu.Unlock()
	for _, h := range hs {
		if err := h(ctx, topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers h for an exact topic.
func (m *Memory) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], h)
	return nil
}

// Published returns the payloads sent to topic so far.
func (m *Memory) Published(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.published[topic]...)
}

// Deliver injects a raw inbound payload as if it arrived from the broker.
func (m *Memory) Deliver(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.mu.Unlock()
	for _, h := range hs {
		if err := h(ctx, topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// wireMessage is the envelope sent over the broadcast socket so a
// receiving process can redeliver to its own topic subscribers.
type wireMessage struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// BroadcastFabric fans messages out over a UDP socket so sibling
// processes on the same host can subscribe to the same topics, while
// also dispatching to any handlers registered in-process.
type BroadcastFabric struct {
	mu          sync.RWMutex
	addr        string
	conn        *net.UDPConn
	connected   bool
	subscribers map[string]map[string]Handler
	metrics     fabricMetrics
	stopCh      chan struct{}
}

// NewBroadcastFabric creates a BroadcastFabric bound to addr (e.g.
// "localhost:7946").
func NewBroadcastFabric(addr string, metrics fabricMetrics) (*BroadcastFabric, error) {
	if addr == "" {
		return nil, fmt.Errorf("broadcast fabric requires an address")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &BroadcastFabric{
		addr:        addr,
		subscribers: make(map[string]map[string]Handler),
		metrics:     metrics,
	}, nil
}

func (f *BroadcastFabric) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connected {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", f.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve broadcast address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind broadcast socket: %w", err)
	}

	f.conn = conn
	f.connected = true
	f.stopCh = make(chan struct{})
	go f.receiveLoop(conn, f.stopCh)
	return nil
}

func (f *BroadcastFabric) receiveLoop(conn *net.UDPConn, stopCh chan struct{}) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				slog.Warn("broadcast fabric read failed", "error", err)
				return
			}
		}

		var msg wireMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			slog.Warn("broadcast fabric received malformed message", "error", err)
			continue
		}
		f.dispatchLocal(msg.Topic, msg.Payload)
	}
}

func (f *BroadcastFabric) dispatchLocal(topic string, payload []byte) {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.subscribers[topic]))
	for _, h := range f.subscribers[topic] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(topic, payload)
		f.metrics.RecordDeliver("broadcast", topic)
	}
}

func (f *BroadcastFabric) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil
	}
	close(f.stopCh)
	err := f.conn.Close()
	f.connected = false
	return err
}

func (f *BroadcastFabric) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *BroadcastFabric) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.RLock()
	conn := f.conn
	addr := f.addr
	f.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("broadcast fabric not connected")
	}

	data, err := json.Marshal(wireMessage{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast envelope: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve broadcast address: %w", err)
	}
	if _, err := conn.WriteToUDP(data, udpAddr); err != nil {
		return fmt.Errorf("broadcast send failed: %w", err)
	}

	f.metrics.RecordPublish("broadcast", topic)
	f.dispatchLocal(topic, payload)
	return nil
}

func (f *BroadcastFabric) Subscribe(_ context.Context, topic string, handler Handler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[topic] == nil {
		f.subscribers[topic] = make(map[string]Handler)
	}
	subID := uuid.NewString()
	f.subscribers[topic][subID] = handler
	return subID, nil
}

func (f *BroadcastFabric) Unsubscribe(_ context.Context, topic, subID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.subscribers[topic]; ok {
		delete(subs, subID)
	}
	return nil
}

var _ Fabric = (*BroadcastFabric)(nil)

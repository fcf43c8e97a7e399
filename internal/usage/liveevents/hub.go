package liveevents

import (
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var ErrHubUnavailable = errors.New("hub_unavailable")

// ConsumeEvent is published for every consumption decision of a tenant.
type ConsumeEvent struct {
	TenantID   snowflake.ID `json:"tenant_id"`
	Dimension  string       `json:"dimension"`
	Amount     int64        `json:"amount"`
	Current    int64        `json:"current"`
	Limit      int64        `json:"limit"`
	Allowed    bool         `json:"allowed"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Hub fans consume events out to per-tenant subscribers and keeps a short
// replay buffer while a tenant has at least one subscriber.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []ConsumeEvent
	subs   map[uint64]chan ConsumeEvent
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	tenantID snowflake.ID
	id       uint64
	ch       chan ConsumeEvent
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish never blocks; slow subscribers miss events.
func (h *Hub) Publish(event ConsumeEvent) {
	if h == nil || event.TenantID == 0 {
		return
	}
	h.mu.RLock()
	stream := h.streams[event.TenantID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan ConsumeEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a subscription plus the buffered events seen so far.
func (h *Hub) Subscribe(tenantID snowflake.ID) (*Subscription, []ConsumeEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}

	stream := h.ensureStream(tenantID)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan ConsumeEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]ConsumeEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:      h,
		tenantID: tenantID,
		id:       id,
		ch:       ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(tenantID snowflake.ID) *stream {
	h.mu.RLock()
	current := h.streams[tenantID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[tenantID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan ConsumeEvent)}
		h.streams[tenantID] = current
	}
	return current
}

func (h *Hub) unsubscribe(tenantID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream := h.streams[tenantID]
	if stream == nil {
		return
	}
	stream.mu.Lock()
	delete(stream.subs, id)
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, tenantID)
	}
}

func (s *Subscription) Events() <-chan ConsumeEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.tenantID, s.id)
	})
}

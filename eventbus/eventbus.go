// Package eventbus implements the produced event bus (spec.md §6 "Event bus,
// produced"): step_started/step_completed/step_failed/execution_completed/
// execution_error events, fanned out to in-process subscribers and,
// optionally, real external subscribers over a websocket (SPEC_FULL.md §2.2
// domain-stack table: gorilla/websocket, grounded on the noldarim pack
// sample's real-time-updates use of the same library).
package eventbus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

// EventType is the closed set of event names spec.md §6 enumerates.
type EventType string

const (
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionError    EventType = "execution_error"
)

// Event carries execution id, agent id, step index, step id, step name,
// duration, and either result or error (spec.md §6).
type Event struct {
	Type        EventType     `json:"type"`
	ExecutionID string        `json:"executionId"`
	AgentID     string        `json:"agentId"`
	StepIndex   int           `json:"stepIndex,omitempty"`
	StepID      string        `json:"stepId,omitempty"`
	StepName    string        `json:"stepName,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Result      interface{}   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Bus is the produced event-bus interface the Orchestrator publishes to.
type Bus interface {
	Publish(ev Event)
}

// Subscription is a live handle returned by InMemoryBus.Subscribe; Close
// stops delivery and releases the channel.
type Subscription struct {
	C     <-chan Event
	close func()
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() { s.close() }

// InMemoryBus fans out events to any number of in-process subscribers over
// buffered channels; a slow or closed subscriber never blocks Publish — a
// full buffer just drops the event for that subscriber (ground: gomind's
// async_task.go fire-and-forget event delivery pattern, generalized from a
// single callback to a subscriber set).
type InMemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger core.Logger
}

// NewInMemoryBus creates an empty in-memory event bus.
func NewInMemoryBus(logger core.Logger) *InMemoryBus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &InMemoryBus{subs: map[int]chan Event{}, logger: logger}
}

// Subscribe registers a new buffered-channel subscriber.
func (b *InMemoryBus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 32
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		close: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		},
	}
}

// Publish implements Bus: delivers ev to every live subscriber without
// blocking on a full channel.
func (b *InMemoryBus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("eventbus: subscriber buffer full, dropping event", map[string]interface{}{
				"subscriber_id": id, "event_type": ev.Type, "execution_id": ev.ExecutionID,
			})
		}
	}
}

// WebSocketBroadcaster upgrades HTTP connections to websockets and forwards
// every published event as a JSON text frame to all connected clients —
// the "real external subscribers" half of spec.md §6's event bus
// (SPEC_FULL.md §6 "gorilla/websocket broadcaster for real external
// subscribers").
type WebSocketBroadcaster struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*websocket.Conn]bool
	logger   core.Logger
}

// NewWebSocketBroadcaster creates a broadcaster accepting any origin — the
// hosting application is expected to front this with its own auth/CORS
// layer, matching gomind's cors.go separation of concerns.
func NewWebSocketBroadcaster(logger core.Logger) *WebSocketBroadcaster {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WebSocketBroadcaster{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    map[*websocket.Conn]bool{},
		logger:   logger,
	}
}

// ServeHTTP upgrades the connection and keeps it registered until it closes.
func (w *WebSocketBroadcaster) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("eventbus: websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	w.mu.Lock()
	w.conns[conn] = true
	w.mu.Unlock()

	// Drain (and discard) inbound frames just to detect client disconnects;
	// this broadcaster is publish-only.
	go func() {
		defer w.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (w *WebSocketBroadcaster) remove(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conns, conn)
	conn.Close()
}

// Publish implements Bus by broadcasting ev as JSON to every connected
// websocket client; a write failure drops that client.
func (w *WebSocketBroadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(w.conns, conn)
			conn.Close()
		}
	}
}

// MultiBus fans one Publish call out to several buses — typically an
// InMemoryBus (for in-process step progress UIs) plus a WebSocketBroadcaster
// (for the dashboard, spec.md §1 "user-facing dashboards").
type MultiBus []Bus

func (m MultiBus) Publish(ev Event) {
	for _, b := range m {
		b.Publish(ev)
	}
}

var (
	_ Bus = (*InMemoryBus)(nil)
	_ Bus = (*WebSocketBroadcaster)(nil)
	_ Bus = MultiBus(nil)
)

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ratecal/internal/calibration"
	"ratecal/internal/infrastructure"
)

// Message types sent to clients
const (
	TypeConnection    = "connection"
	TypeRunProgress   = "run:progress"
	TypeRunStage      = "run:stage"
	TypeRunCompleted  = "run:completed"
	TypeRunFailed     = "run:failed"
	broadcastCapacity = 256
)

// Message is the envelope written to every websocket client.
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type envelope struct {
	runID   string
	payload []byte
}

// Hub maintains the set of active clients and fans run progress out to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	totalConnections int64
	messagesSent     int64
	messagesDropped  int64

	// Control
	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithHubMetrics counts broadcast events.
func WithHubMetrics(m *infrastructure.BusinessMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Hub{
		broadcast:  make(chan envelope, broadcastCapacity),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the hub loop. It is safe to call more than once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub's main loop. Start calls it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "client closed")

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.totalConnections++
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("run_id", client.runID),
		slog.String("remote_addr", client.remoteAddr))

	data, err := json.Marshal(Message{
		Type:  TypeConnection,
		RunID: client.runID,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.id,
		},
		Timestamp: time.Now().Format(time.RFC3339),
		TraceID:   client.traceID,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.WarnContext(ctx, "Failed to send connection message - client buffer full",
			slog.String("client_id", client.id))
	}
}

// removeClient closes the client's send channel exactly once, guarded by
// map membership.
func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.InfoContext(client.context(), "Client unregistered",
		slog.String("reason", reason),
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(env.runID) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	var sent, failed int
	for _, client := range targets {
		select {
		case client.send <- env.payload:
			sent++
		default:
			failed++
			h.removeClient(client, "send buffer full")
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(sent)
	h.mu.Unlock()

	if failed > 0 {
		h.logger.Warn("Some clients failed to receive broadcast",
			slog.String("run_id", env.runID),
			slog.Int("success_count", sent),
			slog.Int("fail_count", failed))
	}
}

// BroadcastProgress sends a calibration progress event to every client
// watching runID or watching all runs. It never blocks the caller; events
// are dropped when the hub is saturated or stopped.
func (h *Hub) BroadcastProgress(runID string, event calibration.ProgressEvent) {
	msg := Message{
		Type:      messageType(event.Kind),
		RunID:     runID,
		Data:      event,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling progress message",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.broadcast <- envelope{runID: runID, payload: data}:
		if h.metrics != nil {
			h.metrics.WebSocketEvents.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("event.kind", event.Kind)))
		}
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast queue full, dropping progress event",
			slog.String("run_id", runID),
			slog.String("kind", event.Kind))
	}
}

func messageType(kind string) string {
	switch kind {
	case calibration.EventStageStarted, calibration.EventStageCompleted:
		return TypeRunStage
	case calibration.EventRunCompleted:
		return TypeRunCompleted
	case calibration.EventRunFailed:
		return TypeRunFailed
	default:
		return TypeRunProgress
	}
}

// Register adds a client to the hub. A stopped hub closes the client instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends the hub loop and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	wasRunning := h.running
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	if wasRunning {
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// GetHubMetrics returns current hub metrics
func (h *Hub) GetHubMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.messagesDropped,
		"broadcast_queue":   len(h.broadcast),
	}
}

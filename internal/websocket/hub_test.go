package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/calibration"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(hub *Hub, runID string) *Client {
	return NewClient(hub, NewMockConnection(), runID, DefaultTiming(), testLogger())
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.id)
		return Message{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("client %s got unexpected message %s", c.id, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func register(t *testing.T, hub *Hub, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		hub.Register(c)
		msg := receive(t, c)
		require.Equal(t, TypeConnection, msg.Type)
	}
	require.Equal(t, len(clients), hub.ClientCount())
}

func TestHubStartStop(t *testing.T) {
	hub := NewHub(testLogger())

	hub.Start()
	hub.Start()
	assert.True(t, hub.running)

	hub.Stop()
	hub.Stop()
	assert.False(t, hub.running)

	// A stopped hub is not restarted.
	hub.Start()
	assert.False(t, hub.running)
}

func TestHubWithNilLogger(t *testing.T) {
	hub := NewHub(nil)
	assert.NotNil(t, hub.logger)
}

func TestHubClientRegistration(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	client := newTestClient(hub, "run-1")
	hub.Register(client)

	msg := receive(t, client)
	assert.Equal(t, TypeConnection, msg.Type)
	assert.Equal(t, "run-1", msg.RunID)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connected", data["status"])
	assert.Equal(t, client.ID(), data["client_id"])
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.send
	assert.False(t, open)

	// Unregistering twice is harmless.
	hub.Unregister(client)
}

func TestHubBroadcastProgressFiltersByRun(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	first := newTestClient(hub, "run-1")
	second := newTestClient(hub, "run-2")
	all := newTestClient(hub, "")
	register(t, hub, first, second, all)

	hub.BroadcastProgress("run-1", calibration.ProgressEvent{
		Kind:      calibration.EventStageCompleted,
		State:     calibration.StateSequentialStage,
		Stage:     1,
		Stages:    2,
		Variables: []string{"region"},
		Deviation: 0.01,
	})

	for _, c := range []*Client{first, all} {
		msg := receive(t, c)
		assert.Equal(t, TypeRunStage, msg.Type)
		assert.Equal(t, "run-1", msg.RunID)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, calibration.EventStageCompleted, data["kind"])
		assert.Equal(t, []interface{}{"region"}, data["variables"])
	}
	assertSilent(t, second)

	metrics := hub.GetHubMetrics()
	assert.Equal(t, int64(2), metrics["messages_sent"])
	assert.Equal(t, 3, metrics["active_clients"])
}

func TestMessageType(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{calibration.EventRunStarted, TypeRunProgress},
		{calibration.EventEvaluation, TypeRunProgress},
		{calibration.EventStageStarted, TypeRunStage},
		{calibration.EventStageCompleted, TypeRunStage},
		{calibration.EventRunCompleted, TypeRunCompleted},
		{calibration.EventRunFailed, TypeRunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, messageType(tt.kind))
		})
	}
}

func TestHubClientDisconnectOnFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	slow := newTestClient(hub, "run-1")
	slow.send = make(chan []byte, 1)
	hub.Register(slow)
	// The connection message fills the buffer.
	assert.Eventually(t, func() bool { return len(slow.send) == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastProgress("run-1", calibration.ProgressEvent{Kind: calibration.EventEvaluation})

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHubBroadcastDropsWhenNotRunning(t *testing.T) {
	hub := NewHub(testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < broadcastCapacity+10; i++ {
			hub.BroadcastProgress("run-1", calibration.ProgressEvent{Kind: calibration.EventEvaluation})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastProgress blocked")
	}
	assert.Equal(t, int64(10), hub.GetHubMetrics()["messages_dropped"])
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()

	client := newTestClient(hub, "")
	register(t, hub, client)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-client.send
	assert.False(t, open)

	late := newTestClient(hub, "")
	hub.Register(late)
	_, open = <-late.send
	assert.False(t, open)

	hub.Unregister(late)
	hub.BroadcastProgress("run-1", calibration.ProgressEvent{Kind: calibration.EventRunCompleted})
}

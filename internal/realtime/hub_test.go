package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func decisionEvent(tenant string, verdict decision.Verdict, score *float64) *Event {
	return &Event{
		Type:      EventDecision,
		Timestamp: time.Now(),
		Decision: &decision.Decision{
			ID:       "dec_test",
			TenantID: tenant,
			Verdict:  verdict,
			Score:    score,
		},
	}
}

func scorePtr(v float64) *float64 { return &v }

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllDecisions(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllDecisions: true}}

	event := decisionEvent("ten_a", decision.VerdictAllow, scorePtr(0.1))
	if !h.shouldSend(client, event) {
		t.Error("AllDecisions client should receive all events")
	}
}

func TestShouldSend_TenantFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Tenants: []string{"ten_a"},
	}}

	if !h.shouldSend(client, decisionEvent("ten_a", decision.VerdictAllow, nil)) {
		t.Error("Should receive own tenant's decisions")
	}
	if h.shouldSend(client, decisionEvent("ten_b", decision.VerdictAllow, nil)) {
		t.Error("Should NOT receive another tenant's decisions")
	}
}

func TestShouldSend_VerdictFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Verdicts: []string{"DENY", "CHALLENGE"},
	}}

	if !h.shouldSend(client, decisionEvent("ten_a", decision.VerdictDeny, nil)) {
		t.Error("Should receive DENY decisions")
	}
	if !h.shouldSend(client, decisionEvent("ten_a", decision.VerdictChallenge, nil)) {
		t.Error("Should receive CHALLENGE decisions")
	}
	if h.shouldSend(client, decisionEvent("ten_a", decision.VerdictAllow, nil)) {
		t.Error("Should NOT receive ALLOW decisions")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinScore: 0.5,
	}}

	if !h.shouldSend(client, decisionEvent("ten_a", decision.VerdictDeny, scorePtr(0.9))) {
		t.Error("Should receive high-score decision")
	}
	if h.shouldSend(client, decisionEvent("ten_a", decision.VerdictAllow, scorePtr(0.1))) {
		t.Error("Should NOT receive low-score decision")
	}
	// Unscored decisions (degraded model path) pass the score filter.
	if !h.shouldSend(client, decisionEvent("ten_a", decision.VerdictDeny, nil)) {
		t.Error("Unscored decision should pass the score filter")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllDecisions
	client := &Client{sub: Subscription{}}

	event := decisionEvent("ten_a", decision.VerdictAllow, nil)
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NilDecision(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{Tenants: []string{"ten_a"}}}

	event := &Event{Type: EventDecision, Timestamp: time.Now()}
	if h.shouldSend(client, event) {
		t.Error("Event without a decision should not match a filtered subscription")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(decisionEvent("ten_a", decision.VerdictAllow, nil))
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllDecisions: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllDecisions: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastDecision(&decision.Decision{
		ID:       "dec_1",
		TenantID: "ten_a",
		Verdict:  decision.VerdictDeny,
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants denials
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Verdicts: []string{"DENY"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// An allow should be filtered out
	h.Broadcast(decisionEvent("ten_a", decision.VerdictAllow, nil))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive ALLOW decision")
	default:
		// Good - filtered out
	}

	// A deny should be received
	h.Broadcast(decisionEvent("ten_a", decision.VerdictDeny, nil))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive DENY decision")
	}
}

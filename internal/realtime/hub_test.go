package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true, MinScore: 99}}

	event := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{OverallScore: 10}}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{EventTypes: []EventType{EventSessionCreated}}}

	if !h.shouldSend(client, &Event{Type: EventSessionCreated}) {
		t.Error("Should receive session_created events")
	}
	if h.shouldSend(client, &Event{Type: EventAnalysisCompleted}) {
		t.Error("Should NOT receive analysis_completed events")
	}
}

func TestShouldSend_OwnerFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Owners: []string{"ops-team"}}}

	mine := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{Owner: "ops-team"}}
	other := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{Owner: "someone"}}
	session := &Event{Type: EventSessionCreated, Data: SessionCreated{Owner: "ops-team"}}
	adhoc := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{}}

	if !h.shouldSend(client, mine) {
		t.Error("Should match on owner")
	}
	if h.shouldSend(client, other) {
		t.Error("Should NOT match other owners")
	}
	if !h.shouldSend(client, session) {
		t.Error("Should match session owner")
	}
	if !h.shouldSend(client, adhoc) {
		t.Error("Ownerless ad-hoc runs should pass the owner filter")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinScore: 40}}

	risky := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{OverallScore: 55}}
	calm := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{OverallScore: 10}}
	session := &Event{Type: EventSessionCreated, Data: SessionCreated{Owner: "x"}}

	if !h.shouldSend(client, risky) {
		t.Error("Should receive risky analysis")
	}
	if h.shouldSend(client, calm) {
		t.Error("Should NOT receive low-score analysis")
	}
	if !h.shouldSend(client, session) {
		t.Error("MinScore filter should only apply to analyses")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, &Event{Type: EventAnalysisCompleted}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_UnknownData(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Owners: []string{"ops-team"}}}

	event := &Event{Type: EventSessionCreated, Data: "string data"}
	if !h.shouldSend(client, event) {
		t.Error("Data without an owner should pass the owner filter")
	}
}

func TestShouldSend_OwnerScopeCannotBeWidened(t *testing.T) {
	h := testHub()
	client := &Client{owner: "ops", sub: Subscription{AllEvents: true}}

	mine := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{Owner: "ops"}}
	theirs := &Event{Type: EventSessionCreated, Data: SessionCreated{SessionID: "as_2", Owner: "finance"}}
	unowned := &Event{Type: EventAnalysisCompleted, Data: AnalysisSummary{Total: 3}}

	if !h.shouldSend(client, mine) {
		t.Error("Scoped client should receive its own owner's events")
	}
	if h.shouldSend(client, theirs) {
		t.Error("Scoped client must not receive another owner's events")
	}
	if h.shouldSend(client, unowned) {
		t.Error("Scoped client must not receive admin snapshot runs")
	}
}

func TestHandleScopedWebSocket_RequiresOwner(t *testing.T) {
	h := testHub()
	w := httptest.NewRecorder()
	h.HandleScopedWebSocket(w, httptest.NewRequest("GET", "/v1/analysis/stream", nil), "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest("GET", "http://api.example.com/v1/analysis/stream", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	same := checkOrigin("")
	if !same(req("")) {
		t.Error("Non-browser clients should be allowed")
	}
	if !same(req("https://api.example.com")) {
		t.Error("Same-host origin should be allowed")
	}
	if same(req("https://evil.example.com")) {
		t.Error("Foreign origin should be rejected")
	}

	dash := checkOrigin("https://dash.example.com")
	if !dash(req("https://dash.example.com")) {
		t.Error("Configured origin should be allowed")
	}
	if !checkOrigin("*")(req("https://anything.example.com")) {
		t.Error("Wildcard should allow any origin")
	}

	list := checkOrigin("https://a.example.com, https://b.example.com")
	if !list(req("https://b.example.com")) {
		t.Error("Second origin in the list should be allowed")
	}
	if list(req("https://c.example.com")) {
		t.Error("Unlisted origin should be rejected")
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

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_PublishAnalysisToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.PublishAnalysis(AnalysisSummary{Total: 4, High: 1, OverallScore: 45, OverallLevel: "MEDIUM"})

	select {
	case msg := <-client.send:
		var ev struct {
			Type EventType       `json:"type"`
			Data AnalysisSummary `json:"data"`
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Type != EventAnalysisCompleted || ev.Data.Total != 4 || ev.Data.OverallLevel != "MEDIUM" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventSessionCreated}},
	}
	h.register <- client

	h.PublishAnalysis(AnalysisSummary{Total: 1})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive analysis event")
	default:
	}

	h.PublishSession(SessionCreated{SessionID: "as_1", Owner: "ops"})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"session_created"`) {
			t.Errorf("unexpected message %s", msg)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive session event")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	slow := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- slow

	h.PublishAnalysis(AnalysisSummary{Total: 1})
	time.Sleep(100 * time.Millisecond)

	if n := h.Stats()["connectedClients"].(int); n != 0 {
		t.Errorf("Expected slow client to be dropped, %d still connected", n)
	}
	if _, open := <-slow.send; open {
		t.Error("Expected slow client's send channel to be closed")
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
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// Wait for registration before publishing.
	deadline := time.Now().Add(time.Second)
	for h.Stats()["connectedClients"].(int) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	h.PublishSession(SessionCreated{SessionID: "as_42", Owner: "ops", ExpiresAt: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"as_42"`) {
		t.Errorf("unexpected message %s", msg)
	}
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/v1/analysis/stream", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after shutdown, got %d", w.Code)
	}
}

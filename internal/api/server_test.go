package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/control"
	"github.com/nerrad567/gray-logic-relay/internal/events"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/link"
	"github.com/nerrad567/gray-logic-relay/internal/session"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeLink struct{ state link.State }

func (f fakeLink) Current() link.State { return f.state }

type fakeSession struct{ snap session.Snapshot }

func (f fakeSession) Snapshot() session.Snapshot { return f.snap }

type fakeOutput struct{ status control.Status }

func (f fakeOutput) Status() control.Status { return f.status }

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

type fakeEvents struct {
	filter audit.Filter
	result *audit.ListResult
	err    error
}

func (f *fakeEvents) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	return f.result, f.err
}

func testDeps() Deps {
	return Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:     config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger: logging.Discard(),
		Node:   "porch",
		Link: fakeLink{state: link.State{
			Connected: true,
			Address:   netip.MustParseAddr("192.168.4.20"),
		}},
		Session: fakeSession{snap: session.Snapshot{State: "connected", ClientID: "esp32_mqtt", Subscribes: 2}},
		Output:  fakeOutput{status: control.Status{Level: control.High, State: "high", Applied: 3}},
		Version: "test",
	}
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.WS, deps.Logger)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doGet(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %s response: %v (%s)", path, err, rec.Body.String())
	}
	return rec, body
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_RequiresDeps(t *testing.T) {
	deps := testDeps()
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger succeeded")
	}

	deps = testDeps()
	deps.Session = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without session succeeded")
	}
}

func TestStartClose(t *testing.T) {
	deps := testDeps()
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Hub() == nil {
		t.Error("Hub() = nil after Start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "all healthy", checks: map[string]HealthChecker{"mqtt": fakeCheck{}, "database": fakeCheck{}}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "one failing", checks: map[string]HealthChecker{"mqtt": fakeCheck{err: errors.New("not connected")}, "database": fakeCheck{}}, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Checks = tt.checks
			rec, body := doGet(t, testServer(t, deps), "/api/v1/health")

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	rec, body := doGet(t, testServer(t, testDeps()), "/api/v1/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	lnk, _ := body["link"].(map[string]any)
	if lnk["connected"] != true || lnk["address"] != "192.168.4.20" {
		t.Errorf("link = %v", lnk)
	}
	sess, _ := body["session"].(map[string]any)
	if sess["state"] != "connected" || sess["subscribes"] != float64(2) {
		t.Errorf("session = %v", sess)
	}
	out, _ := body["output"].(map[string]any)
	if out["level"] != "high" || out["applied"] != float64(3) {
		t.Errorf("output = %v", out)
	}
	if body["node"] != "porch" {
		t.Errorf("node = %v, want porch", body["node"])
	}
}

func TestHandleListEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec, _ := doGet(t, testServer(t, testDeps()), "/api/v1/events")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("code = %d, want 503", rec.Code)
		}
	})

	t.Run("passes filter", func(t *testing.T) {
		lister := &fakeEvents{result: &audit.ListResult{Entries: []audit.Entry{{ID: "evt-1", Type: "link.up"}}, Total: 1, Limit: 10}}
		deps := testDeps()
		deps.Events = lister

		rec, body := doGet(t, testServer(t, deps), "/api/v1/events?type=link.up&source=link&since=2026-03-01T12:00:00Z&limit=10&offset=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200", rec.Code)
		}
		want := audit.Filter{Type: "link.up", Source: "link", Since: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Limit: 10, Offset: 5}
		if !lister.filter.Since.Equal(want.Since) || lister.filter.Type != want.Type || lister.filter.Source != want.Source ||
			lister.filter.Limit != want.Limit || lister.filter.Offset != want.Offset {
			t.Errorf("filter = %+v, want %+v", lister.filter, want)
		}
		if body["total"] != float64(1) {
			t.Errorf("total = %v, want 1", body["total"])
		}
	})

	badQueries := []string{"since=yesterday", "limit=abc", "offset=-1"}
	for _, q := range badQueries {
		t.Run("bad "+q, func(t *testing.T) {
			deps := testDeps()
			deps.Events = &fakeEvents{result: &audit.ListResult{}}
			rec, body := doGet(t, testServer(t, deps), "/api/v1/events?"+q)
			if rec.Code != http.StatusBadRequest || body["code"] != ErrCodeBadRequest {
				t.Errorf("code = %d body = %v, want 400 bad_request", rec.Code, body)
			}
		})
	}

	t.Run("repository error", func(t *testing.T) {
		deps := testDeps()
		deps.Events = &fakeEvents{err: errors.New("disk I/O error")}
		rec, _ := doGet(t, testServer(t, deps), "/api/v1/events")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("code = %d, want 500", rec.Code)
		}
	})
}

// =============================================================================
// WebSocket Tests
// =============================================================================

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := testServer(t, testDeps())
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"session.connected"}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("response = %+v, want response to id 1", resp)
	}

	// Not subscribed: dropped.
	srv.Hub().Broadcast(string(events.LinkUp), nil)
	if err := srv.Hub().HandleEvent(context.Background(), events.Event{Type: events.SessionConnected, Source: "session"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != "session.connected" {
		t.Errorf("event = %+v, want session.connected", msg)
	}
}

func TestWebSocket_Wildcard(t *testing.T) {
	srv := testServer(t, testDeps())
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, Payload: WSSubscribePayload{Channels: []string{WSChannelAll}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readWS(t, conn)

	srv.Hub().Broadcast("pin.set", map[string]string{"level": "high"})
	if msg := readWS(t, conn); msg.EventType != "pin.set" {
		t.Errorf("EventType = %q, want pin.set", msg.EventType)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv := testServer(t, testDeps())
	conn := dialWS(t, srv)

	tests := []struct {
		send     any
		wantType string
	}{
		{send: WSMessage{Type: WSTypePing, ID: "p"}, wantType: WSTypePong},
		{send: WSMessage{Type: "reboot"}, wantType: WSTypeError},
		{send: WSMessage{Type: WSTypeSubscribe}, wantType: WSTypeError},
	}
	for _, tt := range tests {
		if err := conn.WriteJSON(tt.send); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
		if msg := readWS(t, conn); msg.Type != tt.wantType {
			t.Errorf("reply to %+v = %q, want %q", tt.send, msg.Type, tt.wantType)
		}
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv := testServer(t, testDeps())
	dialWS(t, srv)

	deadline := time.Now().Add(time.Second)
	for srv.Hub().ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.Hub().ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"polymarket-bot/internal/bus"
)

func testHandlers(origins []string) *Handlers {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandlers(NewState(), NewHub(logger), origins, logger)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := testHandlers(nil)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	h := testHandlers(nil)
	h.state.Apply(bus.Event{Type: bus.DrawdownHalt})

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Halted {
		t.Error("snapshot should reflect applied events")
	}
	if snap.EventsApplied != 1 {
		t.Errorf("events applied = %d, want 1", snap.EventsApplied)
	}
}

func TestCheckOriginPolicy(t *testing.T) {
	t.Parallel()

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	// Empty allow-list: only non-browser clients (no Origin header) pass.
	strict := testHandlers(nil)
	if !strict.upgrader.CheckOrigin(req("")) {
		t.Error("missing Origin header should pass")
	}
	if strict.upgrader.CheckOrigin(req("http://evil.example")) {
		t.Error("cross-origin browser should be refused")
	}

	listed := testHandlers([]string{"http://dash.example"})
	if !listed.upgrader.CheckOrigin(req("http://dash.example")) {
		t.Error("listed origin should pass")
	}
	if listed.upgrader.CheckOrigin(req("http://evil.example")) {
		t.Error("unlisted origin should be refused")
	}

	open := testHandlers([]string{"*"})
	if !open.upgrader.CheckOrigin(req("http://anywhere.example")) {
		t.Error("wildcard should admit any origin")
	}
}

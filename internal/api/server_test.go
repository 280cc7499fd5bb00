package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	cfg     *config.Config
	bus     *events.EventBus
	manager *server.Manager
	handler http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Items.Path = filepath.Join(dir, "items.dat")
	cfg.Logging.Directory = filepath.Join(dir, "logs")
	cfg.Automation.AutoReconnect = false
	cfg.API.Token = token
	cfg.API.RateLimitRPS = 0

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	m := server.NewManager(context.Background(), server.Options{Config: cfg, Bus: bus})
	t.Cleanup(m.Shutdown)

	s := NewServer(cfg, bus, m)
	return &fixture{cfg: cfg, bus: bus, manager: m, handler: s.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestPing(t *testing.T) {
	f := newFixture(t, "secret")
	code, body := f.do(t, http.MethodGet, "/api/public/ping", nil, "")
	if code != http.StatusOK || body["service"] != "mori" {
		t.Fatalf("code=%d body=%v", code, body)
	}
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t, "secret")
	if code, _ := f.do(t, http.MethodGet, "/api/bots", nil, ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/bots", nil, "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/bots", nil, "secret"); code != http.StatusOK {
		t.Fatalf("good token: code=%d", code)
	}
}

func TestBotLifecycle(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/bots", map[string]any{"name": "farmer"}, "")
	if code != http.StatusCreated {
		t.Fatalf("create: code=%d body=%v", code, body)
	}
	id, _ := body["id"].(string)
	if id == "" || body["name"] != "farmer" || body["status"] != "FetchingServerData" {
		t.Fatalf("create body=%v", body)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/bots", map[string]any{"name": "farmer"}, ""); code != http.StatusConflict {
		t.Fatalf("duplicate: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots", map[string]any{"name": "x", "growid": "g"}, ""); code != http.StatusBadRequest {
		t.Fatalf("growid without password: code=%d", code)
	}

	code, body = f.do(t, http.MethodGet, "/api/bots", nil, "")
	if code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("list: code=%d body=%v", code, body)
	}

	if code, body = f.do(t, http.MethodGet, "/api/bots/farmer", nil, ""); code != http.StatusOK || body["id"] != id {
		t.Fatalf("get by name: code=%d body=%v", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/api/bots/"+id+"/inventory", nil, "")
	if code != http.StatusOK || body["item_count"] != float64(0) {
		t.Fatalf("inventory: code=%d body=%v", code, body)
	}
	if code, _ = f.do(t, http.MethodGet, "/api/bots/"+id+"/world", nil, ""); code != http.StatusConflict {
		t.Fatalf("world outside a world: code=%d", code)
	}

	if code, _ = f.do(t, http.MethodDelete, "/api/bots/"+id, nil, ""); code != http.StatusOK {
		t.Fatalf("remove: code=%d", code)
	}
	if code, _ = f.do(t, http.MethodGet, "/api/bots/"+id, nil, ""); code != http.StatusNotFound {
		t.Fatalf("get after remove: code=%d", code)
	}
	if code, _ = f.do(t, http.MethodDelete, "/api/bots/"+id, nil, ""); code != http.StatusNotFound {
		t.Fatalf("second remove: code=%d", code)
	}
}

func TestActionsNeedConnection(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.manager.Create(server.BotSpec{Name: "b"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	code, body := f.do(t, http.MethodPost, "/api/bots/b/say", map[string]any{"message": "hi"}, "")
	if code != http.StatusConflict || !strings.Contains(body["error"].(string), "not connected") {
		t.Fatalf("say: code=%d body=%v", code, body)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots/b/move", map[string]any{"direction": "sideways"}, ""); code != http.StatusBadRequest {
		t.Fatalf("bad direction: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots/b/warp", map[string]any{}, ""); code != http.StatusBadRequest {
		t.Fatalf("warp without world: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots/b/collect", nil, ""); code != http.StatusConflict {
		t.Fatalf("collect outside a world: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots/b/disconnect", nil, ""); code != http.StatusConflict {
		t.Fatalf("disconnect idle bot: code=%d", code)
	}
}

func TestMoveOffset(t *testing.T) {
	tests := []struct {
		dir    string
		tiles  int
		dx, dy int
		ok     bool
	}{
		{"up", 0, 0, -1, true},
		{"DOWN", 3, 0, 3, true},
		{"left", 2, -2, 0, true},
		{"right", 1, 1, 0, true},
		{"north", 1, 0, 0, false},
	}
	for _, tt := range tests {
		dx, dy, ok := moveOffset(tt.dir, tt.tiles)
		if dx != tt.dx || dy != tt.dy || ok != tt.ok {
			t.Fatalf("moveOffset(%q, %d) = %d, %d, %v", tt.dir, tt.tiles, dx, dy, ok)
		}
	}
}

func TestScriptRunAndStop(t *testing.T) {
	f := newFixture(t, "")
	inst, err := f.manager.Create(server.BotSpec{Name: "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	src := `log("up"); while true do sleep(5) end`
	code, _ := f.do(t, http.MethodPost, "/api/bots/b/script", map[string]any{"name": "loop.lua", "source": src}, "")
	if code != http.StatusAccepted {
		t.Fatalf("run: code=%d", code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(inst.Session.Runtime.Logs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("script never logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/bots/b/script", map[string]any{"source": src}, ""); code != http.StatusConflict {
		t.Fatalf("second run: code=%d", code)
	}

	code, body := f.do(t, http.MethodDelete, "/api/bots/b/script", nil, "")
	if code != http.StatusOK || body["script"] != "loop.lua" {
		t.Fatalf("stop: code=%d body=%v", code, body)
	}
	if inst.Engine.Running() {
		t.Fatal("script still running")
	}

	code, body = f.do(t, http.MethodGet, "/api/bots/b/logs?source=memory", nil, "")
	if code != http.StatusOK {
		t.Fatalf("logs: code=%d", code)
	}
	logs, _ := body["logs"].([]any)
	found := false
	for _, l := range logs {
		if l == "up" {
			found = true
		}
	}
	if !found {
		t.Fatalf("script log missing: %v", logs)
	}
}

func TestConfigMasksSecrets(t *testing.T) {
	f := newFixture(t, "tok")
	f.cfg.AddBot(config.BotConfig{Name: "main", GrowID: "g", Password: "hunter2"})

	code, body := f.do(t, http.MethodGet, "/api/config", nil, "tok")
	if code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "hunter2") || strings.Contains(string(raw), `"tok"`) {
		t.Fatalf("secret leaked: %s", raw)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, "")
	inst, err := f.manager.Create(server.BotSpec{Name: "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/bots/" + inst.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is made after the upgrade, so keep logging until a
	// line arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				inst.Session.Log("streamed")
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev events.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Source != inst.ID {
			t.Fatalf("event from %s", ev.Source)
		}
		if ev.Type == events.EventLog {
			return
		}
	}
}

func TestReadRecentLogEntries(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("mori_2026-01-01.log", `{"level":"info","message":"old"}`+"\n")
	write("mori_2026-01-02.log", `{"level":"info","time":"t","message":"a","bot":"b1","addr":"x"}`+"\n"+"plain line\n"+`{"level":"warn","message":"c"}`+"\n")

	entries, err := readRecentLogEntries(dir, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "plain line" || entries[1].Level != "warn" {
		t.Fatalf("entries=%+v", entries)
	}

	entries, _ = readRecentLogEntries(dir, 10)
	if entries[0].Bot != "b1" || entries[0].Fields["addr"] != "x" {
		t.Fatalf("first=%+v", entries[0])
	}
}

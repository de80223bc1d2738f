package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vesa/pulseboard/internal/alerts"
	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/config"
	"github.com/vesa/pulseboard/internal/models"
	"github.com/vesa/pulseboard/internal/session"
	"github.com/vesa/pulseboard/internal/telemetry"
)

type steadyRand struct{}

func (steadyRand) Float64() float64 { return 0.5 }
func (steadyRand) IntN(int) int     { return 0 }

type fixture struct {
	sess   *session.Session
	clk    *clock.Fake
	engine *gin.Engine
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	seed := telemetry.DefaultSeed()

	db, err := OpenDB(&config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "api.db")}, log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	book := alerts.NewBook(db)
	if err := book.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := book.Seed(ctx, seed.Alerts); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sess := session.New(session.Deps{
		Store:  telemetry.NewStore(seed, steadyRand{}, clk),
		Book:   book,
		Rand:   steadyRand{},
		Clock:  clk,
		Logger: log,
	}, session.Options{})
	t.Cleanup(sess.Close)

	auth, err := NewAuth("test-secret", "admin", "s3cret")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	token, err := auth.GenerateJWT("admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &fixture{sess: sess, clk: clk, engine: New(sess, auth, log).Engine(), token: token}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out.Data
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	if w := f.do(t, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/containers", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated containers = %d", w.Code)
	}

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "missing fields", body: `{"username":"admin"}`, want: http.StatusBadRequest},
		{name: "wrong password", body: `{"username":"admin","password":"nope"}`, want: http.StatusUnauthorized},
		{name: "wrong user", body: `{"username":"root","password":"s3cret"}`, want: http.StatusUnauthorized},
		{name: "ok", body: `{"username":"admin","password":"s3cret"}`, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/login", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
			if tc.want == http.StatusOK && !strings.Contains(w.Body.String(), `"token"`) {
				t.Fatalf("no token in %s", w.Body.String())
			}
		})
	}
}

func TestTokenFromQuery(t *testing.T) {
	f := newFixture(t)
	token := f.token
	f.token = ""
	if w := f.do(t, http.MethodGet, "/api/metrics?token="+token, ""); w.Code != http.StatusOK {
		t.Fatalf("query token = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/metrics?token=garbage", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad query token = %d", w.Code)
	}
}

func TestTelemetryEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/containers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("containers = %d", w.Code)
	}
	if got := decode[[]map[string]any](t, w); len(got) != 6 {
		t.Fatalf("got %d containers", len(got))
	}

	w = f.do(t, http.MethodGet, "/api/containers/postgres", "")
	if rec := decode[map[string]any](t, w); rec["name"] != "PostgreSQL" {
		t.Fatalf("container = %v", rec)
	}
	if w := f.do(t, http.MethodGet, "/api/containers/ghost", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown container = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/metrics", "")
	m := decode[map[string]any](t, w)
	if cpu := m["cpu"].(map[string]any); cpu["usage"] != 67.0 {
		t.Fatalf("metrics = %v", m)
	}

	w = f.do(t, http.MethodGet, "/api/overview", "")
	o := decode[session.Overview](t, w)
	if o.RunningContainers != 5 || o.Alerts.Total != 6 {
		t.Fatalf("overview = %+v", o)
	}
}

func TestContainerActionTickets(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/containers/nats/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit = %d: %s", w.Code, w.Body.String())
	}
	tk := decode[session.Ticket](t, w)
	if tk.State != session.TicketPending {
		t.Fatalf("ticket = %+v", tk)
	}
	if w := f.do(t, http.MethodPost, "/api/containers/nats/stop", ""); w.Code != http.StatusConflict {
		t.Fatalf("duplicate submit = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/containers/ghost/stop", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown container = %d", w.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.clk.Timers() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("action never armed its timer")
		}
		time.Sleep(time.Millisecond)
	}
	f.clk.Advance(session.DefaultActionLatency)

	for {
		w = f.do(t, http.MethodGet, "/api/actions/"+tk.ID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("ticket lookup = %d", w.Code)
		}
		if got := decode[session.Ticket](t, w); got.State == session.TicketDone {
			if got.Result == nil || got.Result.Status != "running" {
				t.Fatalf("result = %+v", got.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticket never finished")
		}
		time.Sleep(time.Millisecond)
	}
	if w := f.do(t, http.MethodGet, "/api/actions/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown ticket = %d", w.Code)
	}
}

func TestLogEndpoints(t *testing.T) {
	f := newFixture(t)
	f.sess.TickLogs()
	f.sess.TickLogs()

	w := f.do(t, http.MethodGet, "/api/logs?container=web-frontend&level=all", "")
	if got := decode[[]map[string]any](t, w); len(got) != 2 {
		t.Fatalf("logs = %v", got)
	}
	if w := f.do(t, http.MethodGet, "/api/logs?level=fatal", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad level = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/logs?q=web%20frontend", ""); len(decode[[]map[string]any](t, w)) != 2 {
		t.Fatalf("search by display name failed: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/logs/export", "")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("export = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if strings.Count(w.Body.String(), "\n") != 2 || !strings.Contains(w.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("export body %q", w.Body.String())
	}

	if w := f.do(t, http.MethodPut, "/api/logs/live-tail", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing toggle = %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/logs/live-tail", `{"enabled":false}`); w.Code != http.StatusOK || f.sess.LiveTail() {
		t.Fatalf("pause live tail = %d, live=%v", w.Code, f.sess.LiveTail())
	}

	if w := f.do(t, http.MethodDelete, "/api/logs", ""); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/logs", "")
	if got := decode[[]map[string]any](t, w); len(got) != 0 {
		t.Fatalf("logs after clear = %v", got)
	}
}

func TestAlertEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/alerts", "")
	v := decode[alerts.View](t, w)
	if v.Summary.Total != 6 || len(v.All) != 6 {
		t.Fatalf("alerts = %+v", v.Summary)
	}
	derivedID := v.All[5].ID

	w = f.do(t, http.MethodPost, "/api/alerts", `{"type":"critical","title":"Disk failure","description":"sda offline"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	created := decode[map[string]any](t, w)
	id := created["id"].(string)

	if w := f.do(t, http.MethodPost, "/api/alerts", `{"type":"fatal","title":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad severity = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/alerts/"+id+"/ack", ""); w.Code != http.StatusOK {
		t.Fatalf("ack = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/alerts/"+derivedID+"/ack", ""); w.Code != http.StatusOK {
		t.Fatalf("ack derived = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/alerts/"+derivedID, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("dismiss derived = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/alerts/"+id, ""); w.Code != http.StatusOK {
		t.Fatalf("dismiss = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/alerts/"+id, ""); w.Code != http.StatusNotFound {
		t.Fatalf("second dismiss = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/alerts", "")
	v = decode[alerts.View](t, w)
	if v.Summary.Total != 6 || v.Summary.Unacknowledged != 4 {
		t.Fatalf("alerts after changes = %+v", v.Summary)
	}

	for _, on := range []bool{false, true} {
		body := fmt.Sprintf(`{"enabled":%t}`, on)
		w := f.do(t, http.MethodPut, "/api/alerts/notifications", body)
		if w.Code != http.StatusOK {
			t.Fatalf("notifications toggle = %d", w.Code)
		}
		got := decode[map[string]bool](t, w)
		if got["notifications"] != on || got["webhook_configured"] {
			t.Fatalf("toggle %v answered %v", on, got)
		}
		if f.sess.Notifications() != on {
			t.Fatalf("session notifications = %v, want %v", f.sess.Notifications(), on)
		}
	}
}

func TestConcurrentAlertRequests(t *testing.T) {
	f := newFixture(t)
	stopped := alerts.DerivedID(alerts.RuleContainers, models.SeverityWarning)
	if w := f.do(t, http.MethodPost, "/api/alerts/"+stopped+"/ack", ""); w.Code != http.StatusOK {
		t.Fatalf("ack = %d", w.Code)
	}

	const clients = 16
	codes := make(chan int, clients*10)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				codes <- f.do(t, http.MethodGet, path, "").Code
			}
		}([]string{"/api/alerts", "/api/overview"}[i%2])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			f.sess.TickTelemetry()
		}
	}()
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("concurrent request answered %d", code)
		}
	}
}

func TestSubmitAfterCloseUnavailable(t *testing.T) {
	f := newFixture(t)
	f.sess.Close()
	if w := f.do(t, http.MethodPost, "/api/containers/redis/stop", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("submit after close = %d: %s", w.Code, w.Body.String())
	}
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream?token=" + f.token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first Frame
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if len(first.Containers) != 6 || first.Alerts.Summary.Total != 6 {
		t.Fatalf("first frame = %+v", first)
	}

	f.clk.Advance(time.Hour)
	f.sess.TickTelemetry()
	var next Frame
	if err := ws.ReadJSON(&next); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !next.LastUpdate.After(first.LastUpdate) {
		t.Fatalf("second frame not newer: %v vs %v", next.LastUpdate, first.LastUpdate)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil); err == nil {
		t.Fatal("stream without token should be rejected")
	}
}

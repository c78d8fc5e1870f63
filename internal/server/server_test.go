package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/store"
)

type testServer struct {
	URL    string
	Token  string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	handler, stopHooks, err := New(Config{
		Store:    s,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			stopHooks()
			srv.Shutdown(context.Background())
			ln.Close()
			s.Close()
		},
	}
	t.Cleanup(ts.close)

	res, body := ts.do(t, http.MethodPost, "/v0/auth/dev/login", map[string]string{"subject": "tester"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, body)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	ts.Token = login.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.Token)
	}
	res, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func sampleActivity() map[string]any {
	return map[string]any{
		"identifier": "medication.ibuprofen",
		"type":       "intervention",
		"title":      "Ibuprofen",
		"text":       "200mg with food",
		"schedule": map[string]any{
			"type":        "daily",
			"start":       "2026-01-05",
			"occurrences": []int{2},
		},
	}
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	ts.Token = ""
	res, _ := ts.do(t, http.MethodGet, "/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	ts.Token = ""
	res, body := ts.do(t, http.MethodGet, "/v0/activities", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d body=%s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestActivityLifecycle(t *testing.T) {
	ts := newTestServer(t)

	res, body := ts.do(t, http.MethodPost, "/v0/activities", sampleActivity())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}
	var created domain.Activity
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Identifier != "medication.ibuprofen" || created.CreatedAt == "" {
		t.Fatalf("unexpected activity: %+v", created)
	}

	res, body = ts.do(t, http.MethodPost, "/v0/activities", sampleActivity())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: %d %s", res.StatusCode, body)
	}

	res, body = ts.do(t, http.MethodGet, "/v0/activities?type=intervention", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, body)
	}
	var items []domain.Activity
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(items))
	}

	res, body = ts.do(t, http.MethodPatch, "/v0/activities/medication.ibuprofen/end-date", map[string]string{"end_date": "2026-01-01"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("end before start: %d %s", res.StatusCode, body)
	}

	res, _ = ts.do(t, http.MethodDelete, "/v0/activities/medication.ibuprofen", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", res.StatusCode)
	}
	res, _ = ts.do(t, http.MethodGet, "/v0/activities/medication.ibuprofen", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", res.StatusCode)
	}
}

func TestEventFlow(t *testing.T) {
	ts := newTestServer(t)
	if res, body := ts.do(t, http.MethodPost, "/v0/activities", sampleActivity()); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}

	res, body := ts.do(t, http.MethodGet, "/v0/events?date=2026-01-10", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, body)
	}
	var groups [][]domain.Event
	if err := json.Unmarshal(body, &groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("expected one group of 2 events, got %s", body)
	}

	res, body = ts.do(t, http.MethodPut, "/v0/activities/medication.ibuprofen/events/2026-01-10/0",
		map[string]any{"state": "completed"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update event: %d %s", res.StatusCode, body)
	}
	var e domain.Event
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.State != domain.EventCompleted {
		t.Fatalf("state = %s", e.State)
	}

	res, body = ts.do(t, http.MethodGet, "/v0/adherence?from=2026-01-10&to=2026-01-10", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("adherence: %d %s", res.StatusCode, body)
	}
	var days []DayStatusResponse
	if err := json.Unmarshal(body, &days); err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || days[0].Completed != 1 || days[0].Total != 2 {
		t.Fatalf("unexpected adherence: %s", body)
	}

	res, body = ts.do(t, http.MethodGet, "/v0/changes", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes: %d %s", res.StatusCode, body)
	}
	var changes []map[string]any
	if err := json.Unmarshal(body, &changes); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 feed rows, got %s", body)
	}
}

func TestUpdateEventBadDate(t *testing.T) {
	ts := newTestServer(t)
	if res, body := ts.do(t, http.MethodPost, "/v0/activities", sampleActivity()); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}
	res, body := ts.do(t, http.MethodPut, "/v0/activities/medication.ibuprofen/events/not-a-date/0",
		map[string]any{"state": "completed"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", res.StatusCode, body)
	}
}

func TestWebhookDispatcherDeliversAndStops(t *testing.T) {
	s, err := store.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })

	var delivered atomic.Int64
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	})}
	go hookSrv.Serve(ln)
	t.Cleanup(func() {
		hookSrv.Shutdown(context.Background())
		ln.Close()
	})

	d := &webhookDispatcher{
		store:    s,
		webhooks: []config.WebhookConfig{{URL: "http://" + ln.Addr().String()}},
		client:   &http.Client{Timeout: time.Second},
		interval: 20 * time.Millisecond,
		stop:     make(chan struct{}),
		cursors:  map[int]int64{0: 0},
	}
	go d.run()

	sched, err := domain.DailySchedule(domain.NewDate(2026, time.January, 5), 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := domain.NewIntervention("medication.ibuprofen", "Ibuprofen", "200mg with food", sched)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddActivity(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no webhook delivery")
		}
		time.Sleep(10 * time.Millisecond)
	}

	close(d.stop)
	time.Sleep(50 * time.Millisecond)
	before := delivered.Load()

	b, err := domain.NewIntervention("exercise.knee-stretch", "Knee stretches", "Hold 30 seconds", sched)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddActivity(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := delivered.Load(); got != before {
		t.Fatalf("dispatcher delivered after stop: %d then %d", before, got)
	}
}

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/friendsofgo/errors"

	"palmcal/internal/config"
	"palmcal/internal/model"
	"palmcal/internal/pipeline"
)

type fakeSyncer struct {
	res     pipeline.Result
	err     error
	started chan struct{}
	block   chan struct{}
	ctxErr  error
}

func (f *fakeSyncer) Run(ctx context.Context) (pipeline.Result, error) {
	f.ctxErr = ctx.Err()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.res, f.err
}

type fakeLister struct {
	records []model.AppointmentRecord
}

func (f fakeLister) List(context.Context) ([]model.AppointmentRecord, error) {
	return f.records, nil
}

func testConfig(auth bool) *config.Config {
	cfg := config.DefaultConfig()
	if auth {
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "palm", Password: "pilot"}
	}
	return cfg
}

func do(t *testing.T, h http.Handler, method, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.SetBasicAuth("palm", "pilot")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig(true), &fakeSyncer{}, fakeLister{})
	if rec := do(t, s.Handler(), http.MethodGet, "/health", false); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig(true), &fakeSyncer{}, fakeLister{})
	if rec := do(t, s.Handler(), http.MethodGet, "/api/status", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/api/status", true); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}

	open := NewServer(testConfig(false), &fakeSyncer{}, fakeLister{})
	if rec := do(t, open.Handler(), http.MethodGet, "/api/status", false); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth configured, got %d", rec.Code)
	}
}

func TestSyncAndStatus(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{res: pipeline.Result{RunID: "run-1", Kept: 4}}
	s := NewServer(testConfig(false), syncer, fakeLister{})

	var before statusResponse
	rec := do(t, s.Handler(), http.MethodGet, "/api/status", false)
	if err := json.Unmarshal(rec.Body.Bytes(), &before); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if before.Last != nil {
		t.Fatalf("status before any sync should be empty: %+v", before)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/api/sync", false); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/sync should be rejected, got %d", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodPost, "/api/sync", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync failed: %d %s", rec.Code, rec.Body.String())
	}

	var after statusResponse
	rec = do(t, s.Handler(), http.MethodGet, "/api/status", false)
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if after.Last == nil || after.Last.RunID != "run-1" || after.Last.Kept != 4 {
		t.Fatalf("unexpected status: %+v", after.Last)
	}

	syncer.err = errors.New("feed down")
	syncer.res = pipeline.Result{RunID: "run-2", Error: "feed down"}
	if rec := do(t, s.Handler(), http.MethodPost, "/api/sync", false); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on failed sync, got %d", rec.Code)
	}
	if last, _ := s.LastResult(); last.RunID != "run-2" {
		t.Fatalf("failed run not recorded: %+v", last)
	}
}

func TestSyncInProgress(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{started: make(chan struct{}), block: make(chan struct{})}
	s := NewServer(testConfig(false), syncer, fakeLister{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background())
		done <- err
	}()

	select {
	case <-syncer.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first sync never started")
	}
	if _, err := s.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if rec := do(t, s.Handler(), http.MethodPost, "/api/sync", false); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while syncing, got %d", rec.Code)
	}

	close(syncer.block)
	if err := <-done; err != nil {
		t.Fatalf("first sync returned error: %v", err)
	}
}

func TestSyncOutlivesRequest(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{res: pipeline.Result{RunID: "run-3"}}
	s := NewServer(testConfig(false), syncer, fakeLister{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if syncer.ctxErr != nil {
		t.Fatalf("sync saw cancelled request context: %v", syncer.ctxErr)
	}
}

func TestAppointments(t *testing.T) {
	t.Parallel()

	lister := fakeLister{records: []model.AppointmentRecord{{
		Start:         time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		End:           time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Description:   "Standup",
		Alarm:         true,
		AlarmAdvance:  0,
		RepeatType:    model.RepeatDaily,
		RepeatForever: true,
		Exceptions:    []time.Time{time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
	}}}
	s := NewServer(testConfig(false), &fakeSyncer{}, lister)

	rec := do(t, s.Handler(), http.MethodGet, "/api/appointments", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp appointmentsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Appointments) != 1 {
		t.Fatalf("unexpected appointments: %+v", resp)
	}
	got := resp.Appointments[0]
	if got.Start != "2024-03-05T09:00:00" || got.Repeat != "daily forever" {
		t.Fatalf("unexpected appointment: %+v", got)
	}
	if got.AlarmMinutes == nil || *got.AlarmMinutes != 0 {
		t.Fatalf("at-start alarm lost: %+v", got.AlarmMinutes)
	}
	if len(got.Exceptions) != 1 || got.Exceptions[0] != "2024-03-06" {
		t.Fatalf("unexpected exceptions: %v", got.Exceptions)
	}
}

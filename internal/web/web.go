// Package web serves the status API of serve mode.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/gorilla/mux"

	"palmcal/internal/appt"
	"palmcal/internal/config"
	appLog "palmcal/internal/log"
	"palmcal/internal/model"
	"palmcal/internal/pipeline"
)

// ErrSyncInProgress is returned when a sync is requested while one runs.
var ErrSyncInProgress = errors.New("web: sync already in progress")

// Syncer runs one sync.
type Syncer interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// Lister returns the appointments currently in the datebook.
type Lister interface {
	List(ctx context.Context) ([]model.AppointmentRecord, error)
}

// Server exposes health, last sync result, datebook contents and a manual
// sync trigger. It also serializes syncs started by the scheduler.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	lister Lister
	router *mux.Router

	// baseCtx bounds manual syncs; it outlives individual requests.
	baseCtx context.Context
	syncMu  sync.Mutex

	lastMu sync.RWMutex
	last   *pipeline.Result
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, syncer Syncer, lister Lister) *Server {
	s := &Server{
		cfg:     cfg,
		syncer:  syncer,
		lister:  lister,
		router:  mux.NewRouter(),
		baseCtx: context.Background(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	if s.basicAuthEnabled() {
		api.Use(s.basicAuthMiddleware)
	}
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/appointments", s.handleAppointments).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards the API routes; /health stays open.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="palmcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Sync runs one sync unless another is in progress and records its result.
func (s *Server) Sync(ctx context.Context) (pipeline.Result, error) {
	if !s.syncMu.TryLock() {
		return pipeline.Result{}, ErrSyncInProgress
	}
	defer s.syncMu.Unlock()

	res, err := s.syncer.Run(ctx)
	s.lastMu.Lock()
	s.last = &res
	s.lastMu.Unlock()
	return res, err
}

// LastResult returns the result of the most recent sync.
func (s *Server) LastResult() (pipeline.Result, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return pipeline.Result{}, false
	}
	return *s.last, true
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully. Syncs triggered over HTTP run under ctx rather than the
// request, so a client hanging up does not abort a transfer.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown http server")
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.LastResult()
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Last: &res})
}

func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	records, err := s.lister.List(r.Context())
	if err != nil {
		appLog.Error("list appointments failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	resp := appointmentsResponse{Appointments: make([]appointmentJSON, 0, len(records))}
	for _, rec := range records {
		resp.Appointments = append(resp.Appointments, toJSON(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	res, err := s.Sync(s.baseCtx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type statusResponse struct {
	Last *pipeline.Result `json:"last,omitempty"`
}

type appointmentsResponse struct {
	Appointments []appointmentJSON `json:"appointments"`
}

type appointmentJSON struct {
	Description  string   `json:"description"`
	Note         string   `json:"note,omitempty"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	AllDay       bool     `json:"all_day"`
	AlarmMinutes *int     `json:"alarm_minutes,omitempty"`
	Repeat       string   `json:"repeat"`
	Exceptions   []string `json:"exceptions,omitempty"`
}

// toJSON renders record fields as zone-less calendar values.
func toJSON(rec model.AppointmentRecord) appointmentJSON {
	const layout = "2006-01-02T15:04:05"
	out := appointmentJSON{
		Description: rec.Description,
		Note:        rec.Note,
		Start:       rec.Start.Format(layout),
		End:         rec.End.Format(layout),
		AllDay:      rec.AllDay,
		Repeat:      appt.DescribeRepeat(rec),
	}
	if rec.Alarm {
		advance := rec.AlarmAdvance
		out.AlarmMinutes = &advance
	}
	for _, ex := range rec.Exceptions {
		out.Exceptions = append(out.Exceptions, ex.Format(time.DateOnly))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// Package httpapi exposes the alert engine over HTTP: run a batch,
// acknowledge a critical alert, liveness and Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"locatealert/internal/alert"
	"locatealert/internal/batch"
	"locatealert/internal/dispatch"
	logx "locatealert/pkg/logx"
)

const (
	defaultAddr       = "127.0.0.1:8080"
	maxBodyBytes      = 64 << 10
	corsAllowHeaders  = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods  = "GET, POST, OPTIONS"
	defaultReadHeader = 10 * time.Second
)

type Config struct {
	Addr string
	// Token, when set, is required as a bearer token on POST routes.
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Pprof mounts net/http/pprof under /debug, behind the token.
	Pprof bool
}

// Runner runs one alert batch.
type Runner interface {
	Run(ctx context.Context) (dispatch.Summary, error)
}

// Acknowledger confirms a critical alert on behalf of a user.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ackID, userID string) (alert.Acknowledgement, error)
}

type Server struct {
	cfg    Config
	runner Runner
	acks   Acknowledger
	health func() any
	log    logx.Logger
	router chi.Router
}

// New builds the router. health may be nil; its result is embedded in the
// /healthz body.
func New(cfg Config, runner Runner, acks Acknowledger, health func() any, log logx.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		acks:   acks,
		health: health,
		log:    log.With(logx.String("comp", "http")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(s.accessLog)

	r.Get("/healthz", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/", s.runHandler)
		r.Post("/run", s.runHandler)
		r.Post("/acknowledgements/{id}/ack", s.ackHandler)
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type runResponse struct {
	Success        bool     `json:"success"`
	TicketsChecked int      `json:"ticketsChecked"`
	AlertsSent     int      `json:"alertsSent"`
	AlertsFailed   int      `json:"alertsFailed"`
	Errors         []string `json:"errors"`
	ExpiredTickets int      `json:"expiredTickets"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	// A client hanging up does not abort a batch; the batch has its own timeout.
	sum, err := s.runner.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, batch.ErrRunning) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	errs := sum.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, runResponse{
		Success:        true,
		TicketsChecked: sum.TicketsChecked,
		AlertsSent:     sum.AlertsSent,
		AlertsFailed:   sum.AlertsFailed,
		Errors:         errs,
		ExpiredTickets: sum.ExpiredTickets,
	})
}

type ackRequest struct {
	UserID string `json:"userId"`
}

type ackResponse struct {
	ID             string     `json:"id"`
	AlertID        string     `json:"alertId"`
	UserID         string     `json:"userId"`
	Status         string     `json:"status"`
	AckDeadline    time.Time  `json:"ackDeadline"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

func (s *Server) ackHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"userId\": \"...\"}"})
		return
	}

	a, err := s.acks.Acknowledge(r.Context(), id, req.UserID)
	switch {
	case errors.Is(err, alert.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "acknowledgement not found"})
		return
	case errors.Is(err, alert.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "acknowledgement is already " + strings.ToLower(string(a.Status))})
		return
	case err != nil:
		s.log.Error("acknowledge failed", logx.String("ack", id), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{
		ID:             a.ID,
		AlertID:        a.AlertID,
		UserID:         a.UserID,
		Status:         string(a.Status),
		AckDeadline:    a.AckDeadline,
		AcknowledgedAt: a.AcknowledgedAt,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["details"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

// Serve listens on cfg.Addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeader,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http stopped")
	return nil
}

// Package web provides an HTTP status and control server for the boxing-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/status"
)

// Commander is the control surface exposed under /api/.
type Commander interface {
	Connect(ctx context.Context, device string) error
	Disconnect() error
	Reset() error
	Calibrate() error
}

// Server serves the status page and control API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	cmd        Commander
	device     string
	logger     *slog.Logger
}

// New creates a Server that reads state from tracker and sends commands to
// cmd. defaultDevice is dialed when /api/connect names no device. A nil cmd
// disables the control API.
func New(addr string, tracker *status.Tracker, cmd Commander, defaultDevice string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tracker: tracker, cmd: cmd, device: defaultDevice, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/session.json", s.handleSession)
	mux.HandleFunc("/api/connect", s.post(s.handleConnect))
	mux.HandleFunc("/api/disconnect", s.post(s.handleDisconnect))
	mux.HandleFunc("/api/reset", s.post(s.handleReset))
	mux.HandleFunc("/api/calibrate", s.post(s.handleCalibrate))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.cmd != nil); err != nil {
		s.logger.Warn("web: render failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatSessionJSON(snap))
}

// apiResult is the body of every /api/ response.
type apiResult struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) post(h func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cmd == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		err := h(r)
		code := http.StatusOK
		res := apiResult{OK: err == nil}
		if err != nil {
			code = statusCode(err)
			res.Error = err.Error()
			s.logger.Info("web: command rejected", "path", r.URL.Path, "error", err)
		}
		res.State = string(s.tracker.Snapshot().View.Connection.State)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(res)
	}
}

func (s *Server) handleConnect(r *http.Request) error {
	device := r.FormValue("device")
	if device == "" {
		device = s.device
	}
	// The dial outlives a client that hangs up; Disconnect aborts it.
	return s.cmd.Connect(context.WithoutCancel(r.Context()), device)
}

func (s *Server) handleDisconnect(*http.Request) error { return s.cmd.Disconnect() }
func (s *Server) handleReset(*http.Request) error      { return s.cmd.Reset() }
func (s *Server) handleCalibrate(*http.Request) error  { return s.cmd.Calibrate() }

func statusCode(err error) int {
	switch {
	case errors.Is(err, controller.ErrBusy),
		errors.Is(err, controller.ErrResetNotAllowed),
		errors.Is(err, controller.ErrNotStreaming),
		errors.Is(err, controller.ErrAborted):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

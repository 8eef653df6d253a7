// Package web exposes a running fuzzing session over HTTP. The server
// serves progress, reports and the model description as JSON and
// accepts pause and resume actions; Client is the matching API client
// used by the command line tools.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kittyfuzz/kitty/fuzz"
	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/store"
)

// Fuzzer is the engine surface the web interface needs. Both the
// server and the client fuzzer satisfy it.
type Fuzzer interface {
	Stats() fuzz.Stats
	Pause()
	Resume()
	Paused() bool
	Report(testID int) (*report.Report, error)
	ReportSummaries() ([]store.ReportSummary, error)
	TemplateInfo() []*model.FieldInfo
	Stages() []string
}

// Server serves the web interface of one fuzzing session.
type Server struct {
	fz     Fuzzer
	logger *slog.Logger
	router *mux.Router
}

// NewServer returns a web interface over fz. A nil logger falls back
// to the default logger.
func NewServer(fz Fuzzer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{fz: fz, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats.json", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/report_list.json", s.handleReportList).Methods(http.MethodGet)
	api.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/template_info.json", s.handleTemplateInfo).Methods(http.MethodGet)
	api.HandleFunc("/stages.json", s.handleStages).Methods(http.MethodGet)
	// Actions accept GET as well, so the index page can link them.
	api.HandleFunc("/action/pause", s.handlePause).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/action/resume", s.handleResume).Methods(http.MethodGet, http.MethodPost)
}

// Handler returns the HTTP handler of the interface, for mounting in
// tests or a larger mux.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves the interface on addr until ctx ends, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("web interface listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("web interface: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web interface shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.fz.Stats())
}

func (s *Server) handleReportList(w http.ResponseWriter, _ *http.Request) {
	sums, err := s.fz.ReportSummaries()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sums == nil {
		sums = []store.ReportSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reports": sums})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("report_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("bad report_id"))
		return
	}
	rep, err := s.fz.Report(id)
	if errors.Is(err, store.ErrReportNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTemplateInfo(w http.ResponseWriter, _ *http.Request) {
	infos := s.fz.TemplateInfo()
	if infos == nil {
		infos = []*model.FieldInfo{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": infos})
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	stages := s.fz.Stages()
	if stages == nil {
		stages = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.fz.Pause()
	s.logger.Info("pause requested over the web interface")
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.fz.Resume()
	s.logger.Info("resume requested over the web interface")
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>kitty session {{.SessionID}}</title></head>
<body>
<h1>Session {{.SessionID}}</h1>
<p>Test {{.CurrentIndex}} of {{.EndIndex}}{{if .Paused}} (paused){{end}}</p>
<p>Failures: {{.FailureCount}}</p>
<p>Current template: {{.CurrentTest.Template}}</p>
<p>See <a href="/api/stats.json">stats</a>,
<a href="/api/report_list.json">reports</a>,
<a href="/api/template_info.json">templates</a>.</p>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.fz.Stats()); err != nil {
		s.logger.Error("render index", slog.Any("error", err))
	}
}

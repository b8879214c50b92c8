// Panel HTTP server
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package panel

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/metrics"
	"axiscope-panel/pkg/offsets"
)

// Server exposes a Panel over HTTP.
type Server struct {
	panel   *Panel
	logger  *log.Logger
	started time.Time
	mux     *http.ServeMux
}

// NewServer creates the HTTP front end of p.
func NewServer(p *Panel) *Server {
	s := &Server{
		panel:   p,
		logger:  log.GetLogger("http"),
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handlePage)
	s.mux.HandleFunc("GET /fragment/tools", s.handleFragment)

	s.mux.HandleFunc("POST /api/reference", s.handleReference)
	s.mux.HandleFunc("POST /api/capture", s.handleCapture)
	s.mux.HandleFunc("POST /api/override", s.handleOverride)
	s.mux.HandleFunc("POST /api/fetch-axis", s.handleFetchAxis)
	s.mux.HandleFunc("POST /api/calibration/tool", s.handleCalibrationTool)
	s.mux.HandleFunc("POST /api/calibration/all", s.handleCalibrationAll)
	s.mux.HandleFunc("POST /api/calibration/method", s.handleCalibrationMethod)
	s.mux.HandleFunc("POST /api/calibrate", s.handleCalibrate)
	s.mux.HandleFunc("POST /api/toolchange", s.handleToolChange)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.Handle("GET /ws", s.panel.Hub())
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(StaticFS())))
	s.mux.Handle("/metrics", metrics.Handler(s.panel.Metrics().Registry()))
	s.mux.Handle("/health", metrics.HealthHandler(s.started, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.panel.Ping(ctx)
	}))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		// The upgrader needs the original writer to hijack.
		s.mux.ServeHTTP(w, r)
		return
	}
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(sw, r)
	s.logger.WithFields(log.Fields{
		"method":  r.Method,
		"path":    r.URL.Path,
		"status":  sw.status,
		"elapsed": time.Since(start).Round(time.Microsecond),
	}).Debug("request")
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Response helpers

func (s *Server) writeFragment(w http.ResponseWriter, status int) {
	html, err := ToolsHTML(s.panel.State().View())
	if err != nil {
		s.logger.WithError(err).Error("render tool list")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(html))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	entry := s.logger.WithFields(log.Fields{"path": r.URL.Path, "status": status}).WithError(err)
	if status >= 500 {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	http.Error(w, err.Error(), status)
}

func formInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.InvalidInputError(key, raw)
	}
	return n, nil
}

func formBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.InvalidInputError(key, raw)
	}
	return b, nil
}

// formFloat reads a typed position. Empty means 0, i.e. not entered.
func formFloat(r *http.Request, key string) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.InvalidInputError(key, raw)
	}
	return v, nil
}

func formAxis(r *http.Request) (offsets.Axis, error) {
	return offsets.ParseAxis(r.FormValue("axis"))
}

// Page handlers

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if !s.panel.State().Loaded() {
		// The page renders a placeholder when this fails; the poller retries.
		s.panel.Refresh(r.Context())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderPage(w, s.panel.State().View()); err != nil {
		s.logger.WithError(err).Error("render page")
	}
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	s.writeFragment(w, http.StatusOK)
}

// Action handlers

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	tool, err := formInt(r, "tool")
	if err == nil {
		err = s.panel.State().SetReference(tool)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.panel.Capture(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	tool, err := formInt(r, "tool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	axis, err := formAxis(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := formFloat(r, "value")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.panel.State().SetOverride(tool, axis, value); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleFetchAxis(w http.ResponseWriter, r *http.Request) {
	tool, err := formInt(r, "tool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	axis, err := formAxis(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.panel.FetchAxis(r.Context(), tool, axis); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleCalibrationTool(w http.ResponseWriter, r *http.Request) {
	tool, err := formInt(r, "tool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	checked, err := formBool(r, "checked")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.panel.State().SetCalibrationTool(tool, checked); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleCalibrationAll(w http.ResponseWriter, r *http.Request) {
	checked, err := formBool(r, "checked")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.panel.State().SetCalibrationAll(checked)
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleCalibrationMethod(w http.ResponseWriter, r *http.Request) {
	m, err := offsets.ParseZCalc(r.FormValue("method"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.panel.State().SetZCalc(m)
	s.writeFragment(w, http.StatusOK)
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	res, err := s.panel.Calibrate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Command-Id", res.ID)
	s.writeFragment(w, http.StatusAccepted)
}

func (s *Server) handleToolChange(w http.ResponseWriter, r *http.Request) {
	tool, err := formInt(r, "tool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.panel.ToolChange(tool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Command-Id", res.ID)
	s.writeFragment(w, http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.panel.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeFragment(w, http.StatusOK)
}

// Package api serves the installation's telemetry over HTTP and accepts
// detections from the person-detection collaborator.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/kinetic/internal/control"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/presence"
	"github.com/banshee-data/kinetic/internal/scheduler"
	"github.com/banshee-data/kinetic/internal/timeutil"
	"github.com/banshee-data/kinetic/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

// StatusSource reports the device status.
type StatusSource interface {
	Status() device.Status
}

// Journal is the read side of the event journal.
type Journal interface {
	RecentExecutions(limit int) ([]db.Execution, error)
	RecentTransitions(limit int) ([]db.TransitionRecord, error)
}

// TaskLister reports background task state.
type TaskLister interface {
	Tasks() []scheduler.TaskInfo
}

// Options are the optional collaborators of a Server.
type Options struct {
	Device  StatusSource
	Journal Journal
	Tasks   TaskLister
	Clock   timeutil.Clock
	// Reload re-reads the configuration file and applies it.
	Reload func() error
}

// Server is the HTTP surface of one installation.
type Server struct {
	inst *control.Installation
	opts Options
}

// NewServer returns a server for inst. A nil Options.Clock uses the real
// clock.
func NewServer(inst *control.Installation, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{inst: inst, opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. Detection posts
// arrive many times a second and are not logged when they succeed.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		if r.URL.Path == "/api/detections" && lrw.statusCode < 300 {
			return
		}
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the public API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/device", s.showDevice)
	mux.HandleFunc("/api/behaviors", s.listBehaviors)
	mux.HandleFunc("/api/window", s.showWindow)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/api/detections", s.postDetections)
	mux.HandleFunc("/api/executions", s.listExecutions)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/tasks", s.listTasks)
	mux.HandleFunc("/api/reload", s.handleReload)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d, ok := s.inst.Diagnostics()
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "no control tick has run yet")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Device == nil {
		writeJSONError(w, http.StatusNotFound, "no device configured")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Device.Status())
}

func (s *Server) listBehaviors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.inst.Behaviors())
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.inst.Snapshots())
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, modeRequest{Mode: s.inst.Mode()})
	case http.MethodPost, http.MethodPut:
		var req modeRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Mode == "" {
			writeJSONError(w, http.StatusBadRequest, "mode is required")
			return
		}
		s.inst.SetMode(req.Mode)
		writeJSON(w, http.StatusOK, modeRequest{Mode: s.inst.Mode()})
	default:
		methodNotAllowed(w)
	}
}

type positionJSON struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// detectionsRequest is one camera frame from the detector. At is optional
// and defaults to the time of receipt; a future At is capped to it.
type detectionsRequest struct {
	Camera    string         `json:"camera"`
	Positions []positionJSON `json:"positions"`
	At        *time.Time     `json:"at,omitempty"`
}

func (s *Server) postDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req detectionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Camera == "" {
		writeJSONError(w, http.StatusBadRequest, "camera is required")
		return
	}

	positions := make([]presence.Position, len(req.Positions))
	for i, p := range req.Positions {
		if p.Z != nil {
			positions[i] = presence.Pos3D(p.X, p.Y, *p.Z)
		} else {
			positions[i] = presence.Pos2D(p.X, p.Y)
		}
	}
	// a detector clock running ahead must not keep detections fresh forever
	at := s.opts.Clock.Now()
	if req.At != nil && req.At.Before(at) {
		at = *req.At
	}

	err := s.inst.Observe(req.Camera, positions, at)
	switch {
	case errors.Is(err, control.ErrUnknownCamera):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, presence.ErrMixedDimensions):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(positions)})
	}
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Journal == nil {
		writeJSONError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	executions, err := s.opts.Journal.RecentExecutions(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list executions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Journal == nil {
		writeJSONError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	transitions, err := s.opts.Journal.RecentTransitions(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list transitions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Tasks == nil {
		writeJSON(w, http.StatusOK, []scheduler.TaskInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Tasks.Tasks())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, version.Get())
}

// reloadResult is returned to clients when a reload request is processed.
type reloadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.opts.Reload == nil {
		writeJSONError(w, http.StatusNotImplemented, "reload is not available")
		return
	}
	if err := s.opts.Reload(); err != nil {
		writeJSON(w, http.StatusBadRequest, reloadResult{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reloadResult{Success: true, Message: "configuration reloaded"})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

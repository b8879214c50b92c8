// Package moonrakertest provides an in-process fake of the printer
// firmware API with a toolchanger and the axiscope module, for tests and
// for running the panel without a printer.
package moonrakertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/offsets"
)

// Tool is one simulated tool.
type Tool struct {
	Number int
	Offset offsets.Pair
	// Trigger is the Z switch trigger height reported when this tool is probed.
	Trigger float64
}

// Name returns the tool's printer object name.
func (t Tool) Name() string {
	return "tool T" + strconv.Itoa(t.Number)
}

// Config describes the simulated printer.
type Config struct {
	Tools      []Tool
	ActiveTool int
	Position   offsets.Position

	// Axiscope enables the axiscope printer object.
	Axiscope    bool
	ZCalcMethod string
	ZTrimCount  int
	DefaultRef  int
}

// DefaultConfig returns a four-tool printer with T0 mounted.
func DefaultConfig() Config {
	return Config{
		Tools: []Tool{
			{Number: 0, Trigger: 1.742},
			{Number: 1, Offset: offsets.Pair{X: 0.125, Y: -0.250}, Trigger: 1.801},
			{Number: 2, Offset: offsets.Pair{X: -0.310, Y: 0.045}, Trigger: 1.695},
			{Number: 3, Offset: offsets.Pair{X: 0.052, Y: 0.198}, Trigger: 1.760},
		},
		ActiveTool:  0,
		Position:    offsets.Position{X: 150, Y: 150, Z: 10},
		Axiscope:    true,
		ZCalcMethod: "median",
		ZTrimCount:  1,
	}
}

type probeResult struct {
	ZTrigger float64
	ZOffset  float64
	LastRun  float64
	RefTool  int
}

type failure struct {
	status  int
	message string
}

// Server is a fake firmware API. It implements http.Handler.
type Server struct {
	mu       sync.Mutex
	cfg      Config
	tools    map[int]*Tool
	active   int
	position offsets.Position
	absolute bool
	saved    map[string]savedState
	probes   map[int]probeResult
	lastRef  int
	scripts  []string
	queries  [][]string
	failures map[string]failure
	onQuery  func(objects []string)
	onScript func(script string)

	started time.Time
	logger  *log.Logger
	handler http.Handler
}

type savedState struct {
	absolute bool
}

// New creates a fake firmware.
func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		tools:    make(map[int]*Tool, len(cfg.Tools)),
		active:   cfg.ActiveTool,
		position: cfg.Position,
		absolute: true,
		saved:    make(map[string]savedState),
		probes:   make(map[int]probeResult),
		lastRef:  -1,
		failures: make(map[string]failure),
		started:  time.Now(),
		logger:   log.GetLogger("fakefw"),
	}
	for i := range cfg.Tools {
		t := cfg.Tools[i]
		s.tools[t.Number] = &t
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	s.handler = corsMiddleware(s.failureMiddleware(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// FailPath makes every request to path answer with status and message
// until cleared with status 0.
func (s *Server) FailPath(path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = failure{status: status, message: message}
}

// OnQuery installs a hook run before each object query is answered,
// outside the server lock. Tests use it to delay responses.
func (s *Server) OnQuery(fn func(objects []string)) {
	s.mu.Lock()
	s.onQuery = fn
	s.mu.Unlock()
}

// OnScript installs a hook run before each G-code script executes,
// outside the server lock.
func (s *Server) OnScript(fn func(script string)) {
	s.mu.Lock()
	s.onScript = fn
	s.mu.Unlock()
}

// Scripts returns every script received, in order.
func (s *Server) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Queries returns the object names of every query received, in order.
func (s *Server) Queries() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.queries...)
}

// ActiveTool returns the mounted tool.
func (s *Server) ActiveTool() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveTool mounts tool n without running pickup hooks.
func (s *Server) SetActiveTool(n int) {
	s.mu.Lock()
	s.active = n
	s.mu.Unlock()
}

// Position returns the toolhead position.
func (s *Server) Position() offsets.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// SetPosition moves the toolhead.
func (s *Server) SetPosition(p offsets.Position) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
}

// SetProbeResult stores a probe result for tool n.
func (s *Server) SetProbeResult(n int, trigger, offset float64) {
	s.mu.Lock()
	s.probes[n] = probeResult{ZTrigger: trigger, ZOffset: offset, LastRun: s.eventtime(), RefTool: s.lastRef}
	s.mu.Unlock()
}

// ProbeOffset returns the stored z_offset of tool n.
func (s *Server) ProbeOffset(n int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.probes[n]
	return r.ZOffset, ok
}

func (s *Server) eventtime() float64 {
	return float64(time.Since(s.started).Milliseconds()) / 1000.0
}

// HTTP handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": map[string]any{
		"klippy_connected":  true,
		"klippy_state":      "ready",
		"components":        []string{"klippy_apis"},
		"moonraker_version": "fake",
	}})
}

func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	var objects map[string][]string
	var order []string

	switch r.Method {
	case http.MethodGet:
		objects = make(map[string][]string)
		for _, part := range strings.Split(r.URL.RawQuery, "&") {
			if part == "" {
				continue
			}
			name, attrs, _ := strings.Cut(part, "=")
			name, err := url.QueryUnescape(name)
			if err != nil {
				s.writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			attrs, _ = url.QueryUnescape(attrs)
			if _, dup := objects[name]; !dup {
				order = append(order, name)
			}
			objects[name] = splitAttrs(attrs)
		}
	case http.MethodPost:
		var params struct {
			Objects map[string][]string `json:"objects"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		objects = params.Objects
		for name := range objects {
			order = append(order, name)
		}
		sort.Strings(order)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, order)
	hook := s.onQuery
	s.mu.Unlock()
	if hook != nil {
		hook(order)
	}

	s.mu.Lock()
	status := make(map[string]any, len(objects))
	for name, attrs := range objects {
		if st := s.objectStatus(name); st != nil {
			status[name] = filterAttrs(st, attrs)
		}
	}
	eventtime := s.eventtime()
	s.mu.Unlock()

	s.writeJSON(w, map[string]any{"result": map[string]any{
		"eventtime": eventtime,
		"status":    status,
	}})
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	var script string
	switch r.Method {
	case http.MethodGet:
		script = r.URL.Query().Get("script")
	case http.MethodPost:
		var params struct {
			Script string `json:"script"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		script = params.Script
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.TrimSpace(script) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'script' parameter")
		return
	}

	s.mu.Lock()
	hook := s.onScript
	s.mu.Unlock()
	if hook != nil {
		hook(script)
	}

	if err := s.Execute(script); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

// objectStatus returns the full status of a printer object, or nil.
// Caller holds s.mu.
func (s *Server) objectStatus(name string) map[string]any {
	switch name {
	case "toolchanger":
		nums := s.toolNumbers()
		names := make([]string, len(nums))
		for i, n := range nums {
			names[i] = s.tools[n].Name()
		}
		return map[string]any{
			"status":       "ready",
			"tool_names":   names,
			"tool_numbers": nums,
			"tool_number":  s.active,
		}
	case "toolhead":
		return map[string]any{
			"position":   []float64{s.position.X, s.position.Y, s.position.Z, 0},
			"homed_axes": "xyz",
		}
	case "axiscope":
		if !s.cfg.Axiscope {
			return nil
		}
		results := make(map[string]any, len(s.probes))
		for n, r := range s.probes {
			results[strconv.Itoa(n)] = map[string]any{
				"z_trigger": r.ZTrigger,
				"z_offset":  r.ZOffset,
				"last_run":  r.LastRun,
				"ref_tool":  r.RefTool,
			}
		}
		var ref any
		if s.lastRef >= 0 {
			ref = s.lastRef
		}
		return map[string]any{
			"probe_results":  results,
			"has_cfg_data":   true,
			"has_switch_pos": true,
			"z_calc_method":  s.cfg.ZCalcMethod,
			"z_trim_count":   s.cfg.ZTrimCount,
			"ref_tool":       ref,
		}
	}
	for _, t := range s.tools {
		if t.Name() == name {
			return map[string]any{
				"name":           "T" + strconv.Itoa(t.Number),
				"tool_number":    t.Number,
				"gcode_x_offset": t.Offset.X,
				"gcode_y_offset": t.Offset.Y,
				"gcode_z_offset": 0.0,
				"active":         t.Number == s.active,
			}
		}
	}
	return nil
}

func (s *Server) toolNumbers() []int {
	nums := make([]int, 0, len(s.tools))
	for n := range s.tools {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func splitAttrs(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func filterAttrs(st map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return st
	}
	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if v, ok := st[a]; ok {
			out[a] = v
		}
	}
	return out
}

func (s *Server) failureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.failures[r.URL.Path]
		s.mu.Unlock()
		if ok {
			s.writeJSONError(w, f.status, f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets a browser page on another origin call the fake.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
		},
	})
}

// String summarises the simulated printer for logs.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("fake firmware: %d tools, active T%d, axiscope=%v", len(s.tools), s.active, s.cfg.Axiscope)
}

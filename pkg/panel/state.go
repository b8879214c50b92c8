// Panel state
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package panel

import (
	"sort"
	"sync"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/moonraker"
	"axiscope-panel/pkg/offsets"
)

// Tool is one tool as last read from the firmware.
type Tool struct {
	Number  int
	Name    string
	Current offsets.Pair
}

// Snapshot is the result of one firmware refresh.
type Snapshot struct {
	Tools    []Tool
	Active   int
	Axiscope moonraker.AxiscopeStatus
}

// State is the operator-facing state of the panel. All access goes
// through its methods.
type State struct {
	mu sync.Mutex

	loaded   bool
	tools    []Tool // firmware order
	active   int
	axiscope moonraker.AxiscopeStatus

	prior     *int
	captured  *offsets.Position
	overrides map[int]offsets.Pair
	// unchecked holds tools removed from the calibration run; new tools
	// start checked.
	unchecked map[int]bool
	zcalc     offsets.ZCalcMethod

	issued  uint64
	applied uint64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		active:    -1,
		overrides: make(map[int]offsets.Pair),
		unchecked: make(map[int]bool),
		zcalc:     offsets.ZCalcConfig,
		axiscope:  moonraker.AxiscopeStatus{ProbeResults: map[int]moonraker.ProbeResult{}},
	}
}

// BeginRefresh issues the sequence number for a new refresh.
func (s *State) BeginRefresh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// ApplyRefresh installs snap unless a refresh issued later has already
// been applied. It reports whether snap was applied.
func (s *State) ApplyRefresh(seq uint64, snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	s.loaded = true
	s.tools = append([]Tool(nil), snap.Tools...)
	s.active = snap.Active
	s.axiscope = snap.Axiscope
	if s.axiscope.ProbeResults == nil {
		s.axiscope.ProbeResults = map[int]moonraker.ProbeResult{}
	}
	return true
}

// ApplyPoll installs a periodic axiscope status and active tool. It
// reports whether the active tool changed.
func (s *State) ApplyPoll(as moonraker.AxiscopeStatus, active int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if as.ProbeResults == nil {
		as.ProbeResults = map[int]moonraker.ProbeResult{}
	}
	s.axiscope = as
	changed := s.loaded && active != s.active
	s.active = active
	return changed
}

// Loaded reports whether a refresh has succeeded.
func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *State) numbers() []int {
	nums := make([]int, len(s.tools))
	for i, t := range s.tools {
		nums[i] = t.Number
	}
	return nums
}

func (s *State) has(n int) bool {
	for _, t := range s.tools {
		if t.Number == n {
			return true
		}
	}
	return false
}

func (s *State) reference() int {
	return offsets.DefaultReference(s.numbers(), s.prior)
}

// Reference returns the current reference tool.
func (s *State) Reference() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reference()
}

// Active returns the mounted tool, or -1.
func (s *State) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetReference makes n the reference and forces it into the
// calibration selection. Overrides typed for n are cleared since the
// reference row has no inputs.
func (s *State) SetReference(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.NoToolsLoadedError()
	}
	if !s.has(n) {
		return errors.InvalidToolError(n)
	}
	s.prior = &n
	delete(s.unchecked, n)
	delete(s.overrides, n)
	return nil
}

func (s *State) canCapture() error {
	if !s.loaded {
		return errors.NoToolsLoadedError()
	}
	if ref := s.reference(); ref != s.active {
		return errors.NotCapturableError(ref, s.active)
	}
	return nil
}

// CanCapture checks that the reference tool is mounted.
func (s *State) CanCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCapture()
}

// Capture stores p as the captured reference position.
func (s *State) Capture(p offsets.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canCapture(); err != nil {
		return err
	}
	s.captured = &p
	return nil
}

// Captured returns the captured position, or nil.
func (s *State) Captured() *offsets.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured == nil {
		return nil
	}
	p := *s.captured
	return &p
}

func (s *State) checkOverrideTool(n int) error {
	if !s.loaded {
		return errors.NoToolsLoadedError()
	}
	if !s.has(n) || n == s.reference() {
		return errors.InvalidToolError(n)
	}
	return nil
}

// SetOverride stores a typed position for one axis of a non-reference
// tool. 0 clears it.
func (s *State) SetOverride(n int, axis offsets.Axis, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOverrideTool(n); err != nil {
		return err
	}
	s.overrides[n] = s.overrides[n].Set(axis, v)
	return nil
}

// CanFetch checks that n is a mounted non-reference tool.
func (s *State) CanFetch(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOverrideTool(n); err != nil {
		return err
	}
	if n != s.active {
		return errors.ToolNotActiveError(n, s.active)
	}
	return nil
}

// Override returns the typed positions of tool n.
func (s *State) Override(n int) offsets.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides[n]
}

// SetCalibrationTool checks or unchecks n. The reference stays checked.
func (s *State) SetCalibrationTool(n int, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.NoToolsLoadedError()
	}
	if !s.has(n) {
		return errors.InvalidToolError(n)
	}
	if checked || n == s.reference() {
		delete(s.unchecked, n)
	} else {
		s.unchecked[n] = true
	}
	return nil
}

// SetCalibrationAll checks or unchecks every tool except the reference.
func (s *State) SetCalibrationAll(checked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.reference()
	for _, n := range s.numbers() {
		if checked || n == ref {
			delete(s.unchecked, n)
		} else {
			s.unchecked[n] = true
		}
	}
}

// SetZCalc remembers the Z calculation selection.
func (s *State) SetZCalc(m offsets.ZCalcMethod) {
	s.mu.Lock()
	s.zcalc = m
	s.mu.Unlock()
}

func (s *State) selection() []int {
	var out []int
	for _, n := range s.numbers() {
		if !s.unchecked[n] {
			out = append(out, n)
		}
	}
	return offsets.WithReference(out, s.reference())
}

// CalibrationSelection returns the checked tools, ascending, always
// including the reference.
func (s *State) CalibrationSelection() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection()
}

// CalibrationCommand builds the calibration line for the current
// selection.
func (s *State) CalibrationCommand() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || len(s.tools) == 0 {
		return "", errors.NoToolsLoadedError()
	}
	if !s.axiscope.Present {
		return "", errors.NoAxiscopeError()
	}
	return offsets.CalibrationCommand(s.selection(), s.reference(), s.zcalc), nil
}

// ToolChange builds the tool change for n.
func (s *State) ToolChange(n int, feeds offsets.Feeds) (offsets.ToolChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return offsets.ToolChange{}, errors.NoToolsLoadedError()
	}
	if !s.has(n) {
		return offsets.ToolChange{}, errors.InvalidToolError(n)
	}
	tc := offsets.ToolChange{
		Tool:      n,
		Reference: s.reference(),
		Override:  s.overrides[n],
		Feeds:     feeds,
	}
	if s.captured != nil {
		p := *s.captured
		tc.Captured = &p
	}
	return tc, nil
}

// ToolView is one rendered tool row.
type ToolView struct {
	Number      int
	Name        string
	IsReference bool
	IsActive    bool
	Current     offsets.Pair
	Override    offsets.Pair
	Raw         offsets.Pair
	New         offsets.Pair
	ZTrigger    *float64
	ZOffset     *float64
}

// CalibrationOption is one tool checkbox of the calibration panel.
type CalibrationOption struct {
	Number    int
	Checked   bool
	Reference bool
}

// View is everything the templates render, computed under one lock.
type View struct {
	Loaded       bool
	Active       int
	Reference    int
	Captured     *offsets.Position
	Tools        []ToolView
	Axiscope     bool
	ConfigMethod string
	ZCalc        offsets.ZCalcMethod
	Calibration  []CalibrationOption
	AllChecked   bool
}

// View derives the rendered view from the state.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := s.reference()
	v := View{
		Loaded:       s.loaded,
		Active:       s.active,
		Reference:    ref,
		Axiscope:     s.axiscope.Present,
		ConfigMethod: s.axiscope.ZCalcMethod,
		ZCalc:        s.zcalc,
	}
	if s.captured != nil {
		p := *s.captured
		v.Captured = &p
	}

	inputs := make([]offsets.ToolInput, len(s.tools))
	for i, t := range s.tools {
		inputs[i] = offsets.ToolInput{Number: t.Number, Current: t.Current, Override: s.overrides[t.Number]}
	}
	rec := offsets.Reconcile(inputs, ref, s.captured)

	for i, t := range s.tools {
		tv := ToolView{
			Number:      t.Number,
			Name:        t.Name,
			IsReference: t.Number == ref,
			IsActive:    t.Number == s.active,
			Current:     t.Current,
			Override:    s.overrides[t.Number],
			Raw:         rec[i].Raw,
			New:         rec[i].New,
		}
		if r, ok := s.axiscope.ProbeResults[t.Number]; ok {
			tv.ZTrigger, tv.ZOffset = r.ZTrigger, r.ZOffset
		}
		v.Tools = append(v.Tools, tv)
	}

	selected := s.selection()
	nums := s.numbers()
	sort.Ints(nums)
	v.AllChecked = len(nums) > 0
	for _, n := range nums {
		opt := CalibrationOption{Number: n, Reference: n == ref}
		for _, sel := range selected {
			if sel == n {
				opt.Checked = true
			}
		}
		if !opt.Checked {
			v.AllChecked = false
		}
		v.Calibration = append(v.Calibration, opt)
	}
	return v
}

// ProbeView is the per-tool Z data pushed by the poller.
type ProbeView struct {
	Tool     int      `json:"tool"`
	ZTrigger *float64 `json:"z_trigger,omitempty"`
	ZOffset  *float64 `json:"z_offset,omitempty"`
}

// Probes returns the probe results of the known tools, ascending.
func (s *State) Probes() []ProbeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProbeView
	for _, n := range s.axiscope.ProbedTools() {
		if !s.has(n) {
			continue
		}
		r := s.axiscope.ProbeResults[n]
		out = append(out, ProbeView{Tool: n, ZTrigger: r.ZTrigger, ZOffset: r.ZOffset})
	}
	return out
}

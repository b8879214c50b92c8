package moonraker

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"axiscope-panel/pkg/offsets"
)

// Printer object names used by the panel.
const (
	ObjectToolchanger = "toolchanger"
	ObjectAxiscope    = "axiscope"
	ObjectToolhead    = "toolhead"
)

// Toolchanger is the toolchanger object status.
type Toolchanger struct {
	ToolNames   []string
	ToolNumbers []int
	// ActiveTool is -1 when no tool is mounted.
	ActiveTool int
}

// ToolName returns the object name of tool n, or "".
func (tc Toolchanger) ToolName(n int) string {
	for i, num := range tc.ToolNumbers {
		if num == n && i < len(tc.ToolNames) {
			return tc.ToolNames[i]
		}
	}
	return ""
}

// Has reports whether tool n exists.
func (tc Toolchanger) Has(n int) bool {
	for _, num := range tc.ToolNumbers {
		if num == n {
			return true
		}
	}
	return false
}

// ProbeResult is one tool's last Z probe. Nil fields were not reported
// as numbers.
type ProbeResult struct {
	ZTrigger *float64
	ZOffset  *float64
	LastRun  float64
	RefTool  int
}

// AxiscopeStatus is the axiscope object status. Present is false when
// the firmware has no axiscope module.
type AxiscopeStatus struct {
	Present      bool
	ZCalcMethod  string
	ZTrimCount   int
	HasSwitchPos bool
	HasCfgData   bool
	RefTool      int
	ProbeResults map[int]ProbeResult
}

// Toolchanger queries the toolchanger object.
func (c *Client) Toolchanger(ctx context.Context) (Toolchanger, error) {
	st, err := c.QueryObjects(ctx, Obj(ObjectToolchanger))
	if err != nil {
		return Toolchanger{}, err
	}
	return ParseToolchanger(st[ObjectToolchanger]), nil
}

// ActiveTool queries only toolchanger.tool_number.
func (c *Client) ActiveTool(ctx context.Context) (int, error) {
	st, err := c.QueryObjects(ctx, Obj(ObjectToolchanger, "tool_number"))
	if err != nil {
		return -1, err
	}
	return toInt(st[ObjectToolchanger]["tool_number"], -1), nil
}

// ParseToolchanger reads a raw toolchanger status. Names and numbers
// are paired by index; extra entries on either side are dropped.
func ParseToolchanger(st Status) Toolchanger {
	tc := Toolchanger{
		ToolNames:  toStrings(st["tool_names"]),
		ActiveTool: toInt(st["tool_number"], -1),
	}
	if list, ok := st["tool_numbers"].([]any); ok {
		for _, v := range list {
			tc.ToolNumbers = append(tc.ToolNumbers, toInt(v, 0))
		}
	}
	n := min(len(tc.ToolNames), len(tc.ToolNumbers))
	tc.ToolNames, tc.ToolNumbers = tc.ToolNames[:n], tc.ToolNumbers[:n]
	return tc
}

// ToolOffsets queries the given tool objects and returns their current
// gcode X/Y offsets by object name. Missing tools report zero offsets.
func (c *Client) ToolOffsets(ctx context.Context, names []string) (map[string]offsets.Pair, error) {
	out := make(map[string]offsets.Pair, len(names))
	if len(names) == 0 {
		return out, nil
	}
	objs := make([]Object, len(names))
	for i, n := range names {
		objs[i] = Obj(n)
	}
	st, err := c.QueryObjects(ctx, objs...)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		out[n] = offsets.Pair{
			X: toFloat(st[n]["gcode_x_offset"]),
			Y: toFloat(st[n]["gcode_y_offset"]),
		}
	}
	return out, nil
}

// Axiscope queries the axiscope object.
func (c *Client) Axiscope(ctx context.Context) (AxiscopeStatus, error) {
	st, err := c.QueryObjects(ctx, Obj(ObjectAxiscope))
	if err != nil {
		return AxiscopeStatus{}, err
	}
	raw, ok := st[ObjectAxiscope]
	if !ok {
		return AxiscopeStatus{ProbeResults: map[int]ProbeResult{}}, nil
	}
	return ParseAxiscope(raw), nil
}

// ParseAxiscope reads a raw axiscope status.
func ParseAxiscope(st Status) AxiscopeStatus {
	as := AxiscopeStatus{
		Present:      true,
		ZCalcMethod:  strings.ToLower(toString(st["z_calc_method"])),
		ZTrimCount:   toInt(st["z_trim_count"], 0),
		HasSwitchPos: toBool(st["has_switch_pos"]),
		HasCfgData:   toBool(st["has_cfg_data"]),
		RefTool:      toInt(st["ref_tool"], -1),
		ProbeResults: map[int]ProbeResult{},
	}
	results, _ := st["probe_results"].(map[string]any)
	for key, v := range results {
		tool, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		r, _ := v.(map[string]any)
		as.ProbeResults[tool] = ProbeResult{
			ZTrigger: numberPtr(r["z_trigger"]),
			ZOffset:  numberPtr(r["z_offset"]),
			LastRun:  toFloat(r["last_run"]),
			RefTool:  toInt(r["ref_tool"], -1),
		}
	}
	return as
}

// ProbedTools returns the tools with probe results, ascending.
func (as AxiscopeStatus) ProbedTools() []int {
	tools := make([]int, 0, len(as.ProbeResults))
	for t := range as.ProbeResults {
		tools = append(tools, t)
	}
	sort.Ints(tools)
	return tools
}

// ToolheadPosition queries toolhead.position.
func (c *Client) ToolheadPosition(ctx context.Context) (offsets.Position, error) {
	st, err := c.QueryObjects(ctx, Obj(ObjectToolhead, "position"))
	if err != nil {
		return offsets.Position{}, err
	}
	pos, _ := st[ObjectToolhead]["position"].([]any)
	var p offsets.Position
	if len(pos) > 0 {
		p.X = toFloat(pos[0])
	}
	if len(pos) > 1 {
		p.Y = toFloat(pos[1])
	}
	if len(pos) > 2 {
		p.Z = toFloat(pos[2])
	}
	return p, nil
}

// Lenient coercion: anything missing or non-numeric reads as zero.

func toFloat(v any) float64 {
	if p := numberPtr(v); p != nil {
		return *p
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func numberPtr(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return nil
		}
	default:
		return nil
	}
	return &f
}

func toInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return fallback
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

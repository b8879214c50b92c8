package offsets

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"axiscope-panel/pkg/errors"
)

// ZCalcMethod is the aggregation used to combine Z probe samples.
type ZCalcMethod string

const (
	// ZCalcConfig defers to the method set in axiscope.cfg.
	ZCalcConfig  ZCalcMethod = "config"
	ZCalcMedian  ZCalcMethod = "median"
	ZCalcAverage ZCalcMethod = "average"
	ZCalcTrimmed ZCalcMethod = "trimmed"
)

// ZCalcMethods lists the selectable methods in dropdown order.
var ZCalcMethods = []ZCalcMethod{ZCalcConfig, ZCalcMedian, ZCalcAverage, ZCalcTrimmed}

// Label returns the human-readable name used in the dropdown.
func (m ZCalcMethod) Label() string {
	switch m {
	case ZCalcMedian:
		return "Median"
	case ZCalcAverage:
		return "Average"
	case ZCalcTrimmed:
		return "Trimmed mean"
	}
	return "Config"
}

// ParseZCalc normalises a method name. Empty means ZCalcConfig. The
// firmware aliases avg, mean, trim and trimmed_mean are accepted.
func ParseZCalc(s string) (ZCalcMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "config":
		return ZCalcConfig, nil
	case "median":
		return ZCalcMedian, nil
	case "average", "avg", "mean":
		return ZCalcAverage, nil
	case "trimmed", "trim", "trimmed_mean":
		return ZCalcTrimmed, nil
	}
	return "", errors.InvalidInputError("z_calc method", s)
}

// CalibrationCommand builds the CALIBRATE_ALL_Z_OFFSETS line. Selected
// tools are sent ascending; the reference is put first when it was not
// selected. ZCalcConfig leaves Z_CALC out so the firmware default applies.
func CalibrationCommand(selected []int, reference int, method ZCalcMethod) string {
	tools := lo.Uniq(selected)
	sort.Ints(tools)
	if !lo.Contains(tools, reference) {
		tools = append([]int{reference}, tools...)
	}

	var sb strings.Builder
	sb.WriteString("CALIBRATE_ALL_Z_OFFSETS TOOLS=")
	sb.WriteString(strings.Join(lo.Map(tools, func(t int, _ int) string {
		return strconv.Itoa(t)
	}), ","))
	if method != ZCalcConfig && method != "" {
		sb.WriteString(" Z_CALC=")
		sb.WriteString(string(method))
	}
	sb.WriteString(" REF=")
	sb.WriteString(strconv.Itoa(reference))
	return sb.String()
}

// Feeds are the tool-change move feed rates in mm/min.
type Feeds struct {
	Z  float64
	XY float64
}

// DefaultFeeds returns the feed rates used by the original panel.
func DefaultFeeds() Feeds {
	return Feeds{Z: 3000, XY: 12000}
}

// ToolChange describes one tool-change request.
type ToolChange struct {
	Tool      int
	Reference int
	Captured  *Position
	Override  Pair
	Feeds     Feeds
}

// Script returns the G-code lines for the tool change. Without a capture
// only the pickup hooks and T<n> run. With one, the new tool then moves
// to the captured Z and X/Y, or to its own overrides when it is not the
// reference and both are non-zero.
func (tc ToolChange) Script() []string {
	lines := []string{
		"AXISCOPE_BEFORE_PICKUP_GCODE",
		"T" + strconv.Itoa(tc.Tool),
		"AXISCOPE_AFTER_PICKUP_GCODE",
	}
	if tc.Captured == nil {
		return lines
	}

	feeds := tc.Feeds
	if feeds.Z <= 0 || feeds.XY <= 0 {
		feeds = DefaultFeeds()
	}

	x, y := tc.Captured.X, tc.Captured.Y
	if tc.Tool != tc.Reference && tc.Override.X != 0 && tc.Override.Y != 0 {
		x, y = tc.Override.X, tc.Override.Y
	}

	return append(lines,
		"SAVE_GCODE_STATE NAME=RESTORE_POS",
		"G90",
		fmt.Sprintf("G0 Z%s F%s", Format3(tc.Captured.Z), formatFeed(feeds.Z)),
		fmt.Sprintf("G0 X%s Y%s F%s", Format3(x), Format3(y), formatFeed(feeds.XY)),
		"RESTORE_GCODE_STATE NAME=RESTORE_POS",
	)
}

func formatFeed(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

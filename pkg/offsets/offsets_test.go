package offsets

import (
	"reflect"
	"strings"
	"testing"

	"axiscope-panel/pkg/errors"
)

func intPtr(v int) *int { return &v }

func TestDefaultReference(t *testing.T) {
	tests := []struct {
		name  string
		tools []int
		prior *int
		want  int
	}{
		{"zero present", []int{3, 0, 1}, nil, 0},
		{"lowest when no zero", []int{5, 2, 9}, nil, 2},
		{"empty", nil, nil, 0},
		{"valid prior wins", []int{0, 1, 2}, intPtr(2), 2},
		{"stale prior ignored", []int{0, 1}, intPtr(7), 0},
		{"stale prior lowest", []int{4, 3}, intPtr(0), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultReference(tt.tools, tt.prior); got != tt.want {
				t.Errorf("DefaultReference(%v) = %d, want %d", tt.tools, got, tt.want)
			}
		})
	}
}

func TestSignFlip(t *testing.T) {
	tests := map[float64]float64{7: -7, -3: 3, 3: -3, 0: 0, -0.5: 0.5}
	for in, want := range tests {
		if got := SignFlip(in); got != want {
			t.Errorf("SignFlip(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRound3(t *testing.T) {
	if got := Format3(-0.0001); got != "0.000" {
		t.Errorf("expected negative zero to format as 0.000, got %s", got)
	}
	if got := Format3(1.23456); got != "1.235" {
		t.Errorf("Format3(1.23456) = %s", got)
	}
	if got := Format3(-7); got != "-7.000" {
		t.Errorf("Format3(-7) = %s", got)
	}
}

func TestRawOffset(t *testing.T) {
	captured := &Position{X: 10, Y: 20, Z: 5}

	if got := RawOffset(captured, AxisX, 1, 2); got != -7 {
		t.Errorf("raw = %v, want -7", got)
	}
	if got := RawOffset(captured, AxisX, 1, 0); got != 0 {
		t.Errorf("zero override: raw = %v, want 0", got)
	}
	if got := RawOffset(nil, AxisX, 1, 2); got != 0 {
		t.Errorf("no capture: raw = %v, want 0", got)
	}
	// 20 - 0.5 - 25 = -5.5 flips to 5.5
	if got := RawOffset(captured, AxisY, 0.5, 25); got != 5.5 {
		t.Errorf("y raw = %v, want 5.5", got)
	}
	// current offset is rounded before the subtraction
	if got := RawOffset(captured, AxisX, 1.00049, 2); got != -7 {
		t.Errorf("rounded current: raw = %v, want -7", got)
	}
}

func TestReconcile(t *testing.T) {
	captured := &Position{X: 10, Y: 20, Z: 5}
	tools := []ToolInput{
		{Number: 0},
		{Number: 1, Current: Pair{X: 1, Y: 1}, Override: Pair{X: 2, Y: 25}},
		{Number: 2, Current: Pair{X: 0.25}, Override: Pair{X: 9}},
	}

	got := Reconcile(tools, 0, captured)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].New != (Pair{}) {
		t.Errorf("reference must display zero, got %+v", got[0].New)
	}
	if got[1].New != (Pair{X: -7, Y: 6}) {
		t.Errorf("T1 new = %+v", got[1].New)
	}
	// 10 - 0.25 - 9 = 0.75 -> -0.75; y has no override
	if got[2].New != (Pair{X: -0.75}) {
		t.Errorf("T2 new = %+v", got[2].New)
	}

	again := Reconcile(tools, 0, captured)
	if !reflect.DeepEqual(got, again) {
		t.Error("reconcile must be idempotent")
	}
}

func TestReconcileSubtractsReferenceRaw(t *testing.T) {
	captured := &Position{X: 10, Y: 20}
	tools := []ToolInput{
		{Number: 0, Override: Pair{X: 2}}, // raw x = -8
		{Number: 1, Override: Pair{X: 4}}, // raw x = -6
	}

	got := Reconcile(tools, 1, captured)
	if got[1].New != (Pair{}) {
		t.Errorf("reference T1 must display zero, got %+v", got[1].New)
	}
	if got[1].Raw.X != -6 {
		t.Errorf("reference raw kept, got %v", got[1].Raw.X)
	}
	if got[0].New.X != -2 {
		t.Errorf("T0 relative x = %v, want -2", got[0].New.X)
	}
}

func TestWithReference(t *testing.T) {
	if got := WithReference([]int{2, 1, 2}, 0); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("WithReference = %v", got)
	}
	if got := WithReference(nil, 3); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("WithReference(nil) = %v", got)
	}
}

func TestParseAxis(t *testing.T) {
	if a, err := ParseAxis("Y"); err != nil || a != AxisY {
		t.Errorf("ParseAxis(Y) = %v, %v", a, err)
	}
	_, err := ParseAxis("z")
	if !errors.Is(err, errors.ErrInvalidAxis) {
		t.Errorf("expected invalid axis error, got %v", err)
	}
}

func TestParseZCalc(t *testing.T) {
	tests := map[string]ZCalcMethod{
		"":             ZCalcConfig,
		"Config":       ZCalcConfig,
		"median":       ZCalcMedian,
		"avg":          ZCalcAverage,
		"mean":         ZCalcAverage,
		"trim":         ZCalcTrimmed,
		"trimmed_mean": ZCalcTrimmed,
		" TRIMMED ":    ZCalcTrimmed,
	}
	for in, want := range tests {
		got, err := ParseZCalc(in)
		if err != nil || got != want {
			t.Errorf("ParseZCalc(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseZCalc("mode"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestCalibrationCommand(t *testing.T) {
	tests := []struct {
		name     string
		selected []int
		ref      int
		method   ZCalcMethod
		want     string
	}{
		{"reference auto-included", []int{1, 2}, 0, ZCalcConfig,
			"CALIBRATE_ALL_Z_OFFSETS TOOLS=0,1,2 REF=0"},
		{"method override", []int{0, 1}, 0, ZCalcMedian,
			"CALIBRATE_ALL_Z_OFFSETS TOOLS=0,1 Z_CALC=median REF=0"},
		{"unsorted input", []int{2, 0, 1}, 0, ZCalcTrimmed,
			"CALIBRATE_ALL_Z_OFFSETS TOOLS=0,1,2 Z_CALC=trimmed REF=0"},
		{"missing reference prepended", []int{1, 2}, 3, ZCalcAverage,
			"CALIBRATE_ALL_Z_OFFSETS TOOLS=3,1,2 Z_CALC=average REF=3"},
		{"nothing selected", nil, 1, ZCalcConfig,
			"CALIBRATE_ALL_Z_OFFSETS TOOLS=1 REF=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalibrationCommand(tt.selected, tt.ref, tt.method); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestCalibrationCommandConfigOmitsZCalc(t *testing.T) {
	if got := CalibrationCommand([]int{0}, 0, ZCalcConfig); strings.Contains(got, "Z_CALC") {
		t.Errorf("config method must not send Z_CALC: %q", got)
	}
}

func TestToolChangeScriptNoCapture(t *testing.T) {
	got := ToolChange{Tool: 2, Override: Pair{X: 1, Y: 1}}.Script()
	want := []string{"AXISCOPE_BEFORE_PICKUP_GCODE", "T2", "AXISCOPE_AFTER_PICKUP_GCODE"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestToolChangeScriptCaptured(t *testing.T) {
	captured := &Position{X: 150.5, Y: 100, Z: 10.25}
	base := []string{
		"AXISCOPE_BEFORE_PICKUP_GCODE",
		"T1",
		"AXISCOPE_AFTER_PICKUP_GCODE",
		"SAVE_GCODE_STATE NAME=RESTORE_POS",
		"G90",
		"G0 Z10.250 F3000",
	}
	tests := []struct {
		name string
		tc   ToolChange
		move string
	}{
		{"captured position", ToolChange{Tool: 1, Captured: captured},
			"G0 X150.500 Y100.000 F12000"},
		{"both overrides", ToolChange{Tool: 1, Captured: captured, Override: Pair{X: 151, Y: 99.5}},
			"G0 X151.000 Y99.500 F12000"},
		{"one override zero", ToolChange{Tool: 1, Captured: captured, Override: Pair{X: 151}},
			"G0 X150.500 Y100.000 F12000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := append(append([]string{}, base...), tt.move, "RESTORE_GCODE_STATE NAME=RESTORE_POS")
			if got := tt.tc.Script(); !reflect.DeepEqual(got, want) {
				t.Errorf("got  %v\nwant %v", got, want)
			}
		})
	}
}

func TestToolChangeReferenceIgnoresOverride(t *testing.T) {
	tc := ToolChange{
		Tool:      0,
		Reference: 0,
		Captured:  &Position{X: 1, Y: 2, Z: 3},
		Override:  Pair{X: 9, Y: 9},
		Feeds:     Feeds{Z: 600, XY: 6000},
	}
	lines := tc.Script()
	if lines[5] != "G0 Z3.000 F600" {
		t.Errorf("z move = %q", lines[5])
	}
	if lines[6] != "G0 X1.000 Y2.000 F6000" {
		t.Errorf("xy move = %q", lines[6])
	}
}

func TestAggregate(t *testing.T) {
	samples := []float64{1.0, 1.2, 0.9, 5.0, 1.1}
	tests := []struct {
		method ZCalcMethod
		trim   int
		want   float64
	}{
		{ZCalcMedian, 0, 1.1},
		{ZCalcConfig, 0, 1.1},
		{ZCalcAverage, 0, 1.84},
		{ZCalcTrimmed, 1, 1.1},
		{ZCalcTrimmed, 0, 1.84},
		{ZCalcTrimmed, 3, 1.1},
	}
	for _, tt := range tests {
		got := Aggregate(samples, tt.method, tt.trim)
		if Round3(got) != tt.want {
			t.Errorf("Aggregate(%s, trim=%d) = %v, want %v", tt.method, tt.trim, got, tt.want)
		}
	}
	if got := Aggregate([]float64{1, 2}, ZCalcMedian, 0); got != 1.5 {
		t.Errorf("even median = %v", got)
	}
	if got := Aggregate(nil, ZCalcAverage, 0); got != 0 {
		t.Errorf("empty = %v", got)
	}
}

func TestCalibrationOrder(t *testing.T) {
	order, ref, ok := CalibrationOrder([]int{2, 1, 9, 1}, []int{0, 1, 2}, 0)
	if !ok || ref != 0 || !reflect.DeepEqual(order, []int{0, 2, 1}) {
		t.Errorf("order = %v ref = %d ok = %v", order, ref, ok)
	}

	order, ref, _ = CalibrationOrder(nil, []int{3, 1, 2}, 7)
	if ref != 1 || !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("fallback: order = %v ref = %d", order, ref)
	}

	if _, _, ok := CalibrationOrder([]int{9}, []int{0, 1}, 0); ok {
		t.Error("expected no valid tools")
	}
	if _, _, ok := CalibrationOrder(nil, nil, 0); ok {
		t.Error("expected no tools available")
	}
}

func TestZOffsets(t *testing.T) {
	triggers := map[int]float64{0: 1.5, 1: 1.75, 2: 1.25}
	got := ZOffsets([]int{0, 1, 2}, triggers, 0)
	want := map[int]float64{0: 0, 1: 0.25, 2: -0.25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

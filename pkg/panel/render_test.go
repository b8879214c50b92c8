package panel

import (
	"strings"
	"testing"

	"axiscope-panel/pkg/moonraker"
	"axiscope-panel/pkg/offsets"
)

func TestRenderHelpers(t *testing.T) {
	if got := zfmt(nil, "-"); got != "-" {
		t.Errorf("zfmt(nil) = %q", got)
	}
	if got := zfmt(floatPtr(1.8004), "-"); got != "1.800" {
		t.Errorf("zfmt = %q", got)
	}
	if got := optf3(0); got != "" {
		t.Errorf("optf3(0) = %q", got)
	}
	if got := optf3(-12.25); got != "-12.25" {
		t.Errorf("optf3 = %q", got)
	}
	if got := cfgLabel(""); got != "Config (axiscope.cfg: unknown)" {
		t.Errorf("cfgLabel = %q", got)
	}
}

func TestRenderToolsWithoutAxiscope(t *testing.T) {
	s := NewState()
	s.ApplyRefresh(s.BeginRefresh(), Snapshot{
		Active: 1,
		Tools:  []Tool{{Number: 0}, {Number: 1}},
	})
	html, err := ToolsHTML(s.View())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`class="z-fields mt-2 d-none"`,
		`id="calibrate-all-btn" data-action="calibrate" disabled`,
		`Config (axiscope.cfg: unknown)`,
		`id="capture-pos" data-action="capture" disabled`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("fragment missing %q", want)
		}
	}
}

func TestRenderProbeResults(t *testing.T) {
	s := NewState()
	s.ApplyRefresh(s.BeginRefresh(), Snapshot{
		Active: 0,
		Tools:  []Tool{{Number: 0}, {Number: 1}},
		Axiscope: moonraker.AxiscopeStatus{
			Present:     true,
			ZCalcMethod: "trimmed",
			ProbeResults: map[int]moonraker.ProbeResult{
				0: {ZTrigger: floatPtr(1.742)},
				1: {ZTrigger: floatPtr(1.801), ZOffset: floatPtr(0.059)},
			},
		},
	})
	s.SetZCalc(offsets.ZCalcConfig)
	html, err := ToolsHTML(s.View())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`<span id="T0-z-trigger"><small>1.742</small>`,
		`id="T1-z-trigger"><small>1.801</small>`,
		`id="T1-z-new"><small>0.059</small>`,
		`<option value="config" selected>Config (axiscope.cfg: trimmed)</option>`,
		`btn btn-primary w-100`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("fragment missing %q", want)
		}
	}
}

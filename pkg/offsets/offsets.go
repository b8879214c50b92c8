// Tool offset reconciliation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package offsets holds the tool-offset arithmetic of the panel: the
// default reference rule, raw and relative X/Y offsets, and the firmware
// command strings built from them. Everything here is pure.
package offsets

import (
	"math"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"axiscope-panel/pkg/errors"
)

// Axis names one of the two capture-driven axes.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Axes lists the reconciled axes in display order.
var Axes = []Axis{AxisX, AxisY}

// ParseAxis accepts "x" or "y" in either case.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	}
	return "", errors.InvalidAxisError(s)
}

// Position is a machine position in mm.
type Position struct {
	X, Y, Z float64
}

// Get returns the value for axis a.
func (p Position) Get(a Axis) float64 {
	if a == AxisY {
		return p.Y
	}
	return p.X
}

// Pair is a per-axis X/Y value.
type Pair struct {
	X, Y float64
}

// Get returns the value for axis a.
func (p Pair) Get(a Axis) float64 {
	if a == AxisY {
		return p.Y
	}
	return p.X
}

// Set returns p with axis a replaced by v.
func (p Pair) Set(a Axis, v float64) Pair {
	if a == AxisY {
		p.Y = v
	} else {
		p.X = v
	}
	return p
}

// Round3 rounds to three decimals. Negative zero becomes zero so it
// formats as "0.000".
func Round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}

// Format3 formats v with three decimals.
func Format3(v float64) string {
	return strconv.FormatFloat(Round3(v), 'f', 3, 64)
}

// SignFlip maps negative values to their magnitude and everything else
// to its negation, following the firmware's offset sign convention.
func SignFlip(v float64) float64 {
	if v < 0 {
		return math.Abs(v)
	}
	return -v
}

// RawOffset computes one axis of a tool's raw offset from the captured
// reference position, the tool's current firmware offset and the
// position typed for it. A zero typed value or a missing capture yields 0.
func RawOffset(captured *Position, axis Axis, current, typed float64) float64 {
	if typed == 0 || captured == nil {
		return 0
	}
	return Round3(SignFlip((captured.Get(axis) - Round3(current)) - typed))
}

// DefaultReference picks the reference tool: prior if it is still one
// of tools, else tool 0 if present, else the lowest number. An empty
// tool list yields 0.
func DefaultReference(tools []int, prior *int) int {
	if prior != nil && lo.Contains(tools, *prior) {
		return *prior
	}
	if len(tools) == 0 || lo.Contains(tools, 0) {
		return 0
	}
	return lo.Min(tools)
}

// ToolInput carries what reconciliation needs to know about one tool.
type ToolInput struct {
	Number   int
	Current  Pair // firmware gcode_x/y_offset
	Override Pair // typed positions, 0 = not entered
}

// Reconciled is the derived offset view of one tool.
type Reconciled struct {
	Number int
	Raw    Pair
	New    Pair // relative to the reference, rounded
}

// Reconcile computes raw and reference-relative offsets for every tool.
// The reference displays exactly zero on both axes. The result is a pure
// function of its inputs and keeps the input order.
func Reconcile(tools []ToolInput, reference int, captured *Position) []Reconciled {
	out := make([]Reconciled, len(tools))
	var refRaw Pair
	for i, t := range tools {
		out[i].Number = t.Number
		for _, a := range Axes {
			out[i].Raw = out[i].Raw.Set(a, RawOffset(captured, a, t.Current.Get(a), t.Override.Get(a)))
		}
		if t.Number == reference {
			refRaw = out[i].Raw
		}
	}
	for i := range out {
		if out[i].Number == reference {
			continue
		}
		for _, a := range Axes {
			out[i].New = out[i].New.Set(a, Round3(out[i].Raw.Get(a)-refRaw.Get(a)))
		}
	}
	return out
}

// WithReference returns selected sorted ascending without duplicates,
// with reference added when missing.
func WithReference(selected []int, reference int) []int {
	out := lo.Uniq(append(append([]int(nil), selected...), reference))
	sort.Ints(out)
	return out
}

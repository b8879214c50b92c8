package offsets

import (
	"sort"

	"github.com/samber/lo"
)

// Aggregate combines probe samples with method. ZCalcConfig behaves as
// median. A trimmed mean with trim <= 0 is a plain mean, and one with
// too few samples to trim falls back to the median.
func Aggregate(samples []float64, method ZCalcMethod, trim int) float64 {
	if len(samples) == 0 {
		return 0
	}
	switch method {
	case ZCalcAverage:
		return mean(samples)
	case ZCalcTrimmed:
		if trim <= 0 {
			return mean(samples)
		}
		if len(samples) <= 2*trim {
			return median(samples)
		}
		s := sorted(samples)
		return mean(s[trim : len(s)-trim])
	}
	return median(samples)
}

func sorted(v []float64) []float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return s
}

func mean(v []float64) float64 {
	return lo.Sum(v) / float64(len(v))
}

func median(v []float64) float64 {
	s := sorted(v)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// CalibrationOrder resolves the tools a calibration run probes. Unknown
// and duplicate requested tools are dropped. An empty request means all
// available tools. A reference that is not available falls back to the
// lowest available tool. The reference is always probed first. ok is
// false when nothing remains to probe.
func CalibrationOrder(requested, available []int, reference int) (order []int, ref int, ok bool) {
	avail := lo.Uniq(available)
	sort.Ints(avail)
	if len(avail) == 0 {
		return nil, reference, false
	}
	if len(requested) == 0 {
		requested = avail
	}
	ref = reference
	if !lo.Contains(avail, ref) {
		ref = avail[0]
	}

	picked := lo.Uniq(lo.Filter(requested, func(t int, _ int) bool {
		return lo.Contains(avail, t)
	}))
	if len(picked) == 0 {
		return nil, ref, false
	}
	order = append([]int{ref}, lo.Without(picked, ref)...)
	return order, ref, true
}

// ZOffsets re-references probe triggers to the reference: its offset is
// 0 and every other tool gets trigger - reference trigger. Tools probed
// before the reference trigger is known get 0.
func ZOffsets(order []int, triggers map[int]float64, ref int) map[int]float64 {
	out := make(map[int]float64, len(order))
	refTrigger, haveRef := 0.0, false
	for _, t := range order {
		trig, ok := triggers[t]
		if !ok {
			continue
		}
		switch {
		case t == ref:
			refTrigger, haveRef = trig, true
			out[t] = 0
		case haveRef:
			out[t] = trig - refTrigger
		default:
			out[t] = 0
		}
	}
	return out
}

package config

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Section is one [name] block of a cfg file. Reads are recorded so that
// options nobody asked for can be reported as likely typos.
type Section struct {
	name    string
	options map[string]string

	mu   sync.Mutex
	read map[string]bool
}

func newSection(name string, options map[string]string) *Section {
	s := &Section{
		name:    name,
		options: make(map[string]string, len(options)),
		read:    make(map[string]bool),
	}
	for k, v := range options {
		s.options[strings.ToLower(k)] = v
	}
	return s
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// GetUnusedOptions returns the options never read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	unused := lo.Reject(lo.Keys(s.options), func(k string, _ int) bool { return s.read[k] })
	slices.Sort(unused)
	return unused
}

// lookup parses one option. An absent or empty option yields the first
// fallback, or a missing-option error without one.
func lookup[T any](s *Section, option, kind string, parse func(string) (T, error), fallback []T) (T, error) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.read[key] = true
	raw := strings.TrimSpace(s.options[key])
	s.mu.Unlock()

	var zero T
	if raw == "" {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, missingOption(s.name, option)
	}
	v, err := parse(raw)
	if err != nil {
		return zero, badValue(s.name, option, raw, kind)
	}
	return v, nil
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return lookup(s, option, "string", func(v string) (string, error) { return v, nil }, fallback)
}

// GetFloat returns a numeric option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return lookup(s, option, "number", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	}, fallback)
}

// FloatBounds limits GetFloatWithBounds. Nil fields are unchecked.
type FloatBounds struct {
	MinVal *float64 // v >= MinVal
	Above  *float64 // v > Above
}

// GetFloatWithBounds is GetFloat with a range check. Fallbacks are
// checked too.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, outOfRange(s.name, option, v, "is below the minimum "+strconv.FormatFloat(*bounds.MinVal, 'f', -1, 64))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, outOfRange(s.name, option, v, "must be above "+strconv.FormatFloat(*bounds.Above, 'f', -1, 64))
	}
	return v, nil
}

// GetChoice returns an option that must match one of choices, ignoring
// case. The canonical spelling from choices is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	c, ok := lo.Find(choices, func(c string) bool { return strings.EqualFold(c, v) })
	if !ok {
		return "", badChoice(s.name, option, v, choices)
	}
	return c, nil
}

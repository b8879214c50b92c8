// Package config reads Klipper-style cfg files with access tracking, and
// loads the panel's [axiscope_panel] section from them.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config provides access to a configuration file with access tracking.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{sections: make(map[string]*Section)}
}

// Load reads a configuration file and returns a Config.
// Supports [include path] directives relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives
// are rejected since there is no base directory.
func LoadString(data string) (*Config, error) {
	c := New()
	err := c.parse(strings.NewReader(data), "<string>", func(string) error {
		return fmt.Errorf("config: include not supported in string config")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	return c.parse(f, path, func(spec string) error {
		glob := filepath.Join(dir, spec)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("config: invalid include pattern %q: %w", spec, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return fmt.Errorf("config: include file does not exist: %s", glob)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := c.parseFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	})
}

// parse reads sections from r. Options before the first section and
// lines without a ':' or '=' separator are ignored, as Klipper does.
func (c *Config) parse(r io.Reader, name string, include func(spec string) error) error {
	var current string
	var options map[string]string
	flush := func() {
		if current != "" {
			c.addSection(current, options)
		}
		current, options = "", nil
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// SAVE_CONFIG blocks are "#*#"-prefixed config.
		if strings.HasPrefix(line, "#*#") {
			line = strings.TrimSpace(line[3:])
		} else if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, name)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				spec = strings.TrimSpace(spec)
				if spec == "" {
					return fmt.Errorf("config: empty include at line %d in %s", lineNum, name)
				}
				if err := include(spec); err != nil {
					return err
				}
				continue
			}
			current = header
			options = make(map[string]string)
			continue
		}

		if current == "" {
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		options[key] = strings.TrimSpace(line[sep+1:])
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", name, err)
	}
	return nil
}

// addSection adds a section, merging options into an existing one.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sec, ok := c.sections[name]
	if !ok {
		return nil, missingSection(name)
	}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists, or nil if not.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sections[name]
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns all section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"axiscope-panel/pkg/errors"
)

// PanelSection is the config section holding panel settings.
const PanelSection = "axiscope_panel"

// PanelConfig holds the settings of one panel process.
type PanelConfig struct {
	// PrinterURL is the firmware API base, e.g. http://192.168.1.50
	PrinterURL string

	// Listen is the panel's HTTP listen address.
	Listen string

	// PollInterval is the period of the probe-result poll.
	PollInterval time.Duration

	// RequestTimeout bounds each firmware query.
	RequestTimeout time.Duration

	// CommandTimeout bounds a G-code script, which the firmware only
	// acknowledges once it has run.
	CommandTimeout time.Duration

	// Feed rates (mm/min) for the tool-change move to the captured position.
	ZFeedrate  float64
	XYFeedrate float64

	LogLevel  string
	LogFormat string
	LogFile   string

	// Unused lists options present in the section but never read.
	Unused []string
}

// DefaultPanelConfig returns the settings used when no file is given.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		Listen:         ":8080",
		PollInterval:   2 * time.Second,
		RequestTimeout: 5 * time.Second,
		CommandTimeout: 10 * time.Minute,
		ZFeedrate:      3000,
		XYFeedrate:     12000,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadPanelConfig loads the panel section from a cfg file. An empty
// path yields the defaults.
func LoadPanelConfig(path string) (PanelConfig, error) {
	if path == "" {
		return DefaultPanelConfig(), nil
	}
	c, err := Load(path)
	if err != nil {
		return PanelConfig{}, err
	}
	return ParsePanelConfig(c)
}

// ParsePanelConfig reads [axiscope_panel] from c. A missing section
// yields the defaults.
func ParsePanelConfig(c *Config) (PanelConfig, error) {
	pc := DefaultPanelConfig()
	sec := c.GetSectionOptional(PanelSection)
	if sec == nil {
		return pc, nil
	}

	var err error
	if pc.PrinterURL, err = sec.Get("printer_url", ""); err != nil {
		return pc, err
	}
	pc.PrinterURL = NormalizePrinterURL(pc.PrinterURL)
	if pc.Listen, err = sec.Get("listen", pc.Listen); err != nil {
		return pc, err
	}

	zero := 0.0
	poll, err := sec.GetFloatWithBounds("poll_interval", FloatBounds{Above: &zero}, pc.PollInterval.Seconds())
	if err != nil {
		return pc, err
	}
	pc.PollInterval = seconds(poll)

	timeout, err := sec.GetFloatWithBounds("request_timeout", FloatBounds{Above: &zero}, pc.RequestTimeout.Seconds())
	if err != nil {
		return pc, err
	}
	pc.RequestTimeout = seconds(timeout)

	cmdTimeout, err := sec.GetFloatWithBounds("command_timeout", FloatBounds{Above: &zero}, pc.CommandTimeout.Seconds())
	if err != nil {
		return pc, err
	}
	pc.CommandTimeout = seconds(cmdTimeout)

	if pc.ZFeedrate, err = sec.GetFloatWithBounds("z_feedrate", FloatBounds{Above: &zero}, pc.ZFeedrate); err != nil {
		return pc, err
	}
	if pc.XYFeedrate, err = sec.GetFloatWithBounds("xy_feedrate", FloatBounds{Above: &zero}, pc.XYFeedrate); err != nil {
		return pc, err
	}

	if pc.LogLevel, err = sec.GetChoice("log_level", []string{"debug", "info", "warn", "error"}, pc.LogLevel); err != nil {
		return pc, err
	}
	if pc.LogFormat, err = sec.GetChoice("log_format", []string{"text", "json"}, pc.LogFormat); err != nil {
		return pc, err
	}
	if pc.LogFile, err = sec.Get("log_file", ""); err != nil {
		return pc, err
	}

	pc.Unused = sec.GetUnusedOptions()
	return pc, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Validate checks the settings needed to serve the panel.
func (pc PanelConfig) Validate() error {
	if pc.PrinterURL == "" {
		return errors.ConfigValidationError(PanelSection, "printer_url", "must be specified (or pass --printer)")
	}
	u, err := url.Parse(pc.PrinterURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.ConfigValidationError(PanelSection, "printer_url",
			fmt.Sprintf("%q is not an http(s) URL", pc.PrinterURL))
	}
	if pc.Listen == "" {
		return errors.ConfigValidationError(PanelSection, "listen", "must not be empty")
	}
	return nil
}

// NormalizePrinterURL prefixes bare hosts ("192.168.1.50:7125") with http://
// and strips a trailing slash.
func NormalizePrinterURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// Diff compares pc with next and splits the changed options into those
// applied at runtime and those needing a restart.
func (pc PanelConfig) Diff(next PanelConfig) (reloadable, restart []string) {
	if pc.LogLevel != next.LogLevel {
		reloadable = append(reloadable, "log_level")
	}
	if pc.ZFeedrate != next.ZFeedrate {
		reloadable = append(reloadable, "z_feedrate")
	}
	if pc.XYFeedrate != next.XYFeedrate {
		reloadable = append(reloadable, "xy_feedrate")
	}
	if pc.PollInterval != next.PollInterval {
		reloadable = append(reloadable, "poll_interval")
	}
	if pc.PrinterURL != next.PrinterURL {
		restart = append(restart, "printer_url")
	}
	if pc.Listen != next.Listen {
		restart = append(restart, "listen")
	}
	if pc.RequestTimeout != next.RequestTimeout {
		restart = append(restart, "request_timeout")
	}
	if pc.CommandTimeout != next.CommandTimeout {
		restart = append(restart, "command_timeout")
	}
	if pc.LogFormat != next.LogFormat {
		restart = append(restart, "log_format")
	}
	if pc.LogFile != next.LogFile {
		restart = append(restart, "log_file")
	}
	return reloadable, restart
}

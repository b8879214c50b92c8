package config

import (
	"fmt"
	"strings"

	"axiscope-panel/pkg/errors"
)

// optionError reports a bad option as CONFIG_OPTION with the section and
// option in its context.
func optionError(section, option, format string, args ...any) error {
	msg := fmt.Sprintf("[%s] %s: %s", section, option, fmt.Sprintf(format, args...))
	return errors.New(errors.ErrConfigOption, msg).
		SetContext("section", section).
		SetContext("option", option)
}

func missingOption(section, option string) error {
	return optionError(section, option, "must be specified")
}

func missingSection(section string) error {
	return errors.New(errors.ErrConfigOption, fmt.Sprintf("section [%s] not found", section)).
		SetContext("section", section)
}

func badValue(section, option, raw, kind string) error {
	return optionError(section, option, "%q is not a valid %s", raw, kind)
}

func outOfRange(section, option string, v float64, rule string) error {
	return optionError(section, option, "%g %s", v, rule)
}

func badChoice(section, option, raw string, choices []string) error {
	return optionError(section, option, "%q is not one of %s", raw, strings.Join(choices, ", "))
}

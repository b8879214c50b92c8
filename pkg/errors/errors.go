// Unified error handling for the axiscope panel
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Firmware API errors
	ErrFirmwareRequest ErrorCode = "FIRMWARE_REQUEST"
	ErrFirmwareStatus  ErrorCode = "FIRMWARE_STATUS"
	ErrFirmwareDecode  ErrorCode = "FIRMWARE_DECODE"

	// Operator input errors
	ErrInvalidTool   ErrorCode = "INVALID_TOOL"
	ErrInvalidAxis   ErrorCode = "INVALID_AXIS"
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrNotCapturable ErrorCode = "NOT_CAPTURABLE"
	ErrToolNotActive ErrorCode = "TOOL_NOT_ACTIVE"
	ErrNoToolsLoaded ErrorCode = "NO_TOOLS_LOADED"
	ErrNoAxiscope    ErrorCode = "NO_AXISCOPE"
)

// PanelError is the error type shared by the panel packages.
type PanelError struct {
	Code    ErrorCode
	Message string

	// Err wraps the underlying error
	Err error

	// Context provides additional context (endpoint, tool, option...)
	Context map[string]interface{}
}

// Error implements the error interface
func (e *PanelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PanelError) Unwrap() error {
	return e.Err
}

// SetContext adds additional context
func (e *PanelError) SetContext(key string, value interface{}) *PanelError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new PanelError
func New(code ErrorCode, message string) *PanelError {
	return &PanelError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *PanelError {
	return &PanelError{Code: code, Message: message, Err: err}
}

// Firmware errors

// FirmwareRequestError reports a transport failure talking to the firmware.
func FirmwareRequestError(endpoint string, err error) *PanelError {
	return Wrap(err, ErrFirmwareRequest, "request to "+endpoint+" failed").
		SetContext("endpoint", endpoint)
}

// FirmwareStatusError reports a non-2xx firmware response.
func FirmwareStatusError(endpoint string, status int, message string) *PanelError {
	msg := fmt.Sprintf("%s returned %d", endpoint, status)
	if message != "" {
		msg += ": " + message
	}
	return New(ErrFirmwareStatus, msg).
		SetContext("endpoint", endpoint).
		SetContext("status", status)
}

// FirmwareDecodeError reports an unparseable firmware response.
func FirmwareDecodeError(endpoint string, err error) *PanelError {
	return Wrap(err, ErrFirmwareDecode, "decode "+endpoint+" response").
		SetContext("endpoint", endpoint)
}

// Input errors

// InvalidToolError reports a tool number that is not in the current tool list.
func InvalidToolError(tool int) *PanelError {
	return New(ErrInvalidTool, fmt.Sprintf("unknown tool T%d", tool)).
		SetContext("tool", tool)
}

// InvalidAxisError reports an axis other than x or y.
func InvalidAxisError(axis string) *PanelError {
	return New(ErrInvalidAxis, fmt.Sprintf("invalid axis %q (expected x or y)", axis))
}

// InvalidInputError reports a malformed form value.
func InvalidInputError(field, value string) *PanelError {
	return New(ErrInvalidInput, fmt.Sprintf("invalid %s %q", field, value)).
		SetContext("field", field)
}

// NotCapturableError reports a capture attempted while the reference tool is not active.
func NotCapturableError(reference, active int) *PanelError {
	return New(ErrNotCapturable, fmt.Sprintf("reference tool T%d must be active to capture (active: T%d)", reference, active))
}

// ToolNotActiveError reports an operation that needs tool mounted.
func ToolNotActiveError(tool, active int) *PanelError {
	return New(ErrToolNotActive, fmt.Sprintf("tool T%d is not active (active: T%d)", tool, active)).
		SetContext("tool", tool)
}

// NoToolsLoadedError reports an operation attempted before the first
// successful tool refresh.
func NoToolsLoadedError() *PanelError {
	return New(ErrNoToolsLoaded, "no tools loaded from the printer")
}

// NoAxiscopeError reports a calibration request while the firmware has no
// axiscope module.
func NoAxiscopeError() *PanelError {
	return New(ErrNoAxiscope, "axiscope module not available")
}

// Config errors

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option, reason string) *PanelError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetContext("section", section).
		SetContext("option", option)
}

// Is checks if err, or any error it wraps, is a PanelError with the given code.
func Is(err error, code ErrorCode) bool {
	var pe *PanelError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsFirmware checks if error came from the firmware API
func IsFirmware(err error) bool {
	return Is(err, ErrFirmwareRequest) ||
		Is(err, ErrFirmwareStatus) ||
		Is(err, ErrFirmwareDecode)
}

// IsInput checks if error was caused by operator input
func IsInput(err error) bool {
	return Is(err, ErrInvalidTool) ||
		Is(err, ErrInvalidAxis) ||
		Is(err, ErrInvalidInput)
}

// HTTPStatus maps an error to the status the panel answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInput(err):
		return http.StatusBadRequest
	case Is(err, ErrNotCapturable), Is(err, ErrToolNotActive),
		Is(err, ErrNoToolsLoaded), Is(err, ErrNoAxiscope):
		return http.StatusConflict
	case IsFirmware(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

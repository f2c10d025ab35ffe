// Package apperrors provides a unified structured-error type for the
// gatekeeper pipeline, covering the error categories the pipeline
// distinguishes: stage failures, malformed messages, AI transient and
// parse failures, and configuration errors.
package apperrors

import "fmt"

// Code identifies a category of pipeline error.
type Code string

const (
	CodeStageFailure    Code = "STAGE_FAILURE"
	CodeMalformed       Code = "MALFORMED_MESSAGE"
	CodeAITransient     Code = "AI_TRANSIENT"
	CodeAIParseFailure  Code = "AI_PARSE_FAILURE"
	CodeConfiguration   Code = "CONFIGURATION_ERROR"
)

// PipelineError is a structured error carrying a Code for counters and
// log fields, alongside the underlying cause.
type PipelineError struct {
	Code    Code
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// New creates a PipelineError with no underlying cause.
func New(code Code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// Wrap creates a PipelineError wrapping an existing error.
func Wrap(code Code, message string, err error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Err: err}
}

package chartsynth

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for specific failure types
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeTransport     = "TRANSPORT_ERROR"
	ErrCodeExtraction    = "EXTRACTION_FAILURE"
	ErrCodePersistence   = "PERSISTENCE_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeToolExecution = "TOOL_EXECUTION_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeCancelled     = "EXECUTION_CANCELLED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// PipelineError is the typed error for all pipeline failures. The facade
// never lets a partial internal error escape un-typed; everything terminates
// in a PipelineReport or one of these.
type PipelineError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeNotFound)
	Stage   string // The stage where the error occurred (e.g., "orchestrating")
	Message string // A human-readable message
	Cause   error  // The underlying error, if any

	// Extraction diagnostics: tools actually invoked before the failure.
	ToolCallCount int
	ToolsInvoked  []string

	// Not-found diagnostics: sibling ids that do exist in the dashboard.
	MissingID  string
	SiblingIDs []string
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PipelineError.
func NewError(code, stage, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *PipelineError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewTransportError(stage string, cause error) *PipelineError {
	return NewError(ErrCodeTransport, stage, "model runtime call failed", cause)
}

// NewExtractionError reports that an orchestration run produced no usable
// chart fragment. It carries the tools actually invoked so a failed run is
// diagnosable, never a silent empty success.
func NewExtractionError(toolsInvoked []string) *PipelineError {
	msg := "no chart fragment produced"
	if len(toolsInvoked) > 0 {
		msg = fmt.Sprintf("no chart fragment produced after %d tool call(s): %s",
			len(toolsInvoked), strings.Join(toolsInvoked, ", "))
	}
	return &PipelineError{
		Code:          ErrCodeExtraction,
		Stage:         "extracting",
		Message:       msg,
		ToolCallCount: len(toolsInvoked),
		ToolsInvoked:  toolsInvoked,
	}
}

func NewPersistenceError(stage string, cause error) *PipelineError {
	return NewError(ErrCodePersistence, stage, "persistence write failed", cause)
}

// NewNotFoundError reports a missing widget and lists the sibling widget ids
// that do exist in the dashboard. Debuggability over terseness.
func NewNotFoundError(stage, missingID string, siblingIDs []string) *PipelineError {
	msg := fmt.Sprintf("widget '%s' not found", missingID)
	if len(siblingIDs) > 0 {
		msg = fmt.Sprintf("widget '%s' not found; dashboard has widgets [%s]",
			missingID, strings.Join(siblingIDs, ", "))
	}
	return &PipelineError{
		Code:       ErrCodeNotFound,
		Stage:      stage,
		Message:    msg,
		MissingID:  missingID,
		SiblingIDs: siblingIDs,
	}
}

func NewToolExecutionError(stage, toolName string, cause error) *PipelineError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewConfigurationError(message string, cause error) *PipelineError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *PipelineError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewInternalError(stage, message string, cause error) *PipelineError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsNotFound reports whether err is (or wraps) a not-found pipeline error.
func IsNotFound(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == ErrCodeNotFound
}

// IsExtractionFailure reports whether err is an extraction failure, distinct
// from a transport error.
func IsExtractionFailure(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == ErrCodeExtraction
}

// IsValidation reports whether err is an input validation error.
func IsValidation(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == ErrCodeValidation
}

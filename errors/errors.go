package errors

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeRuntime    ErrorType = "RUNTIME"
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeSystem     ErrorType = "SYSTEM"
	ErrorTypeNetwork    ErrorType = "NETWORK"
	ErrorTypeUser       ErrorType = "USER"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityDebug   ErrorSeverity = "DEBUG"
	SeverityInfo    ErrorSeverity = "INFO"
	SeverityWarning ErrorSeverity = "WARNING"
	SeverityError   ErrorSeverity = "ERROR"
	SeverityFatal   ErrorSeverity = "FATAL"
)

// ErrorKind is the bridge-level classification surfaced to callers.
type ErrorKind string

const (
	KindDatasetNotFound     ErrorKind = "DatasetNotFoundError"
	KindPackageMissing      ErrorKind = "PackageMissingError"
	KindMalformedIdentifier ErrorKind = "MalformedIdentifierError"
	KindReference           ErrorKind = "ReferenceError"
	KindInterpreterRuntime  ErrorKind = "InterpreterRuntimeError"
	KindInitialization      ErrorKind = "InitializationError"
	KindTimeout             ErrorKind = "TimeoutError"
)

// Error codes used by the constructors below
const (
	CodeDatasetNotFound     = "DATASET_NOT_FOUND"
	CodePackageMissing      = "PACKAGE_MISSING"
	CodeMalformedIdentifier = "MALFORMED_IDENTIFIER"
	CodeReference           = "REFERENCE_ERROR"
	CodeInterpreterRuntime  = "R_RUNTIME_ERROR"
	CodeInitialization      = "INITIALIZATION_FAILED"
	CodeTimeout             = "EXECUTION_TIMEOUT"
)

// LanguageR is the language tag attached to guest errors.
const LanguageR = "r"

// ExecutionError represents a structured error with detailed information
type ExecutionError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Language   string                 `json:"language,omitempty"`
	Kind       ErrorKind              `json:"kind,omitempty"`
	Package    string                 `json:"package,omitempty"`
	Output     string                 `json:"output,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   ErrorSeverity          `json:"severity"`
	Type       ErrorType              `json:"type"`
	Cause      error                  `json:"-"`
	Wrapped    []error                `json:"-"`
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	// Format: [TYPE][CODE] message
	return fmt.Sprintf("[%s][%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *ExecutionError) Is(target error) bool {
	if other, ok := target.(*ExecutionError); ok {
		return e.Code == other.Code && e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *ExecutionError) WithContext(key string, value interface{}) *ExecutionError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithLanguage sets the language for the error
func (e *ExecutionError) WithLanguage(language string) *ExecutionError {
	e.Language = language
	return e
}

// WithSeverity sets the severity level for the error
func (e *ExecutionError) WithSeverity(severity ErrorSeverity) *ExecutionError {
	e.Severity = severity
	return e
}

// WithKind sets the bridge classification
func (e *ExecutionError) WithKind(kind ErrorKind) *ExecutionError {
	e.Kind = kind
	return e
}

// WithOutput attaches console output captured before the failure
func (e *ExecutionError) WithOutput(output string) *ExecutionError {
	e.Output = output
	return e
}

// Wrap wraps another error
func (e *ExecutionError) Wrap(err error) *ExecutionError {
	e.Cause = err
	if e.Wrapped == nil {
		e.Wrapped = make([]error, 0)
	}
	e.Wrapped = append(e.Wrapped, err)
	return e
}

// NewExecutionError creates a new execution error
func NewExecutionError(code, message string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Severity:  SeverityError,
		Type:      ErrorTypeSystem,
		Context:   make(map[string]interface{}),
	}
}

// NewRuntimeError creates a new runtime error
func NewRuntimeError(language, code, message string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		Language:  language,
		Timestamp: time.Now(),
		Severity:  SeverityError,
		Type:      ErrorTypeRuntime,
		Context:   make(map[string]interface{}),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Severity:  SeverityWarning,
		Type:      ErrorTypeValidation,
		Context:   make(map[string]interface{}),
	}
}

// NewSystemError creates a new system error
func NewSystemError(code, message string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Severity:  SeverityError,
		Type:      ErrorTypeSystem,
		Context:   make(map[string]interface{}),
	}
}

// NewUserError creates a new user error
func NewUserError(code, message string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Severity:  SeverityInfo,
		Type:      ErrorTypeUser,
		Context:   make(map[string]interface{}),
	}
}

// NewDatasetNotFound reports a catalog name that does not exist
func NewDatasetNotFound(name string) *ExecutionError {
	return NewUserError(CodeDatasetNotFound, fmt.Sprintf("dataset '%s' not found in catalog", name)).
		WithKind(KindDatasetNotFound).
		WithContext("dataset", name)
}

// NewPackageMissing reports a package the guest could not load
func NewPackageMissing(pkg, message string) *ExecutionError {
	e := NewRuntimeError(LanguageR, CodePackageMissing, message).WithKind(KindPackageMissing)
	e.Package = pkg
	return e
}

// NewMalformedIdentifier reports an invalid or zero-length identifier in guest code
func NewMalformedIdentifier(message string) *ExecutionError {
	return NewRuntimeError(LanguageR, CodeMalformedIdentifier, message).WithKind(KindMalformedIdentifier)
}

// NewReferenceError reports an undefined object or function
func NewReferenceError(message string) *ExecutionError {
	return NewRuntimeError(LanguageR, CodeReference, message).WithKind(KindReference)
}

// NewInterpreterRuntime is the catch-all for guest failures
func NewInterpreterRuntime(message string) *ExecutionError {
	return NewRuntimeError(LanguageR, CodeInterpreterRuntime, message).WithKind(KindInterpreterRuntime)
}

// NewInitializationError reports an interpreter that failed to start
func NewInitializationError(message string, cause error) *ExecutionError {
	e := NewSystemError(CodeInitialization, message).
		WithKind(KindInitialization).
		WithSeverity(SeverityFatal)
	if cause != nil {
		_ = e.Wrap(cause)
	}
	return e
}

// NewTimeoutError reports an evaluation stopped by its deadline after
// running for elapsed
func NewTimeoutError(elapsed time.Duration) *ExecutionError {
	return NewRuntimeError(LanguageR, CodeTimeout, fmt.Sprintf("evaluation timed out after %s and the interpreter was restarted", elapsed)).
		WithKind(KindTimeout)
}

// WrapError wraps an existing error into an ExecutionError
func WrapError(err error, code, message string) *ExecutionError {
	execErr := NewExecutionError(code, message)
	_ = execErr.Wrap(err)
	return execErr
}

// AsExecutionError finds the first ExecutionError in the chain
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if stderrors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}

// KindOf returns the classification of err, or the empty kind when err
// carries none.
func KindOf(err error) ErrorKind {
	if execErr, ok := AsExecutionError(err); ok {
		return execErr.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ClassifiedError is the value surfaced in execution results
type ClassifiedError struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

// Error implements the error interface
func (c *ClassifiedError) Error() string {
	return c.Display()
}

// Display renders the message with a single leading "Error: " prefix
func (c *ClassifiedError) Display() string {
	return NormalizeMessage("Error: " + c.Message)
}

// Classify converts any error into a ClassifiedError. Unclassified
// errors become InterpreterRuntimeError.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if execErr, ok := AsExecutionError(err); ok && execErr.Kind != "" {
		return &ClassifiedError{Kind: execErr.Kind, Message: NormalizeMessage(execErr.Message)}
	}
	return &ClassifiedError{Kind: KindInterpreterRuntime, Message: NormalizeMessage(err.Error())}
}

var repeatedErrorPrefix = regexp.MustCompile(`^\s*(?:Error\s*:\s*)+`)

// NormalizeMessage collapses repeated leading "Error:" prefixes into one.
// Messages without the prefix are only trimmed.
func NormalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	loc := repeatedErrorPrefix.FindStringIndex(msg)
	if loc == nil {
		return msg
	}
	rest := strings.TrimSpace(msg[loc[1]:])
	if rest == "" {
		return "Error:"
	}
	return "Error: " + rest
}

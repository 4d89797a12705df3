package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeLLM represents language model and embedding errors
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeLoader represents encyclopedia fetch/parse errors
	ErrorTypeLoader ErrorType = "loader"
	// ErrorTypeIngest represents ingestion pipeline errors
	ErrorTypeIngest ErrorType = "ingest"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Category exposes the error type to IsErrorType through embedding.
func (e *BaseError) Category() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// LLM Errors

// ErrLLMNoResponse is returned when the model returns no choices
var ErrLLMNoResponse = NewBaseError(ErrorTypeLLM, "no response from LLM", nil)

// ErrLLMRequestFailed is returned when a chat or embedding request fails
type ErrLLMRequestFailed struct {
	*BaseError
	Model     string
	Attempts  int
	Retryable bool
}

func NewLLMRequestFailed(model string, attempts int, retryable bool, err error) *ErrLLMRequestFailed {
	return &ErrLLMRequestFailed{
		BaseError: NewBaseError(ErrorTypeLLM, fmt.Sprintf("LLM request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
		Retryable: retryable,
	}
}

// ErrLLMInvalidOutput is returned when structured output cannot be decoded
type ErrLLMInvalidOutput struct {
	*BaseError
	Schema string
}

func NewLLMInvalidOutput(schema string, err error) *ErrLLMInvalidOutput {
	return &ErrLLMInvalidOutput{
		BaseError: NewBaseError(ErrorTypeLLM, fmt.Sprintf("invalid structured output for %s", schema), err),
		Schema:    schema,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", operation), err),
		Operation: operation,
	}
}

// Loader Errors

// ErrLoaderFetchFailed is returned when the encyclopedia source cannot be read
type ErrLoaderFetchFailed struct {
	*BaseError
	URL string
}

func NewLoaderFetchFailed(url string, err error) *ErrLoaderFetchFailed {
	return &ErrLoaderFetchFailed{
		BaseError: NewBaseError(ErrorTypeLoader, fmt.Sprintf("failed to fetch %s", url), err),
		URL:       url,
	}
}

// Ingest Errors

// ErrIngestStageFailed is returned when one stage of the pipeline fails
type ErrIngestStageFailed struct {
	*BaseError
	Stage string
}

func NewIngestStageFailed(stage string, err error) *ErrIngestStageFailed {
	return &ErrIngestStageFailed{
		BaseError: NewBaseError(ErrorTypeIngest, fmt.Sprintf("ingest stage failed: %s", stage), err),
		Stage:     stage,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type categorized interface {
	Category() ErrorType
}

// IsErrorType reports whether any error in err's chain has the given type.
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if c, ok := err.(categorized); ok && c.Category() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	var llmErr *ErrLLMRequestFailed
	if stderrors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	var connErr *ErrGraphConnectionFailed
	if stderrors.As(err, &connErr) {
		return true
	}
	var fetchErr *ErrLoaderFetchFailed
	return stderrors.As(err, &fetchErr)
}

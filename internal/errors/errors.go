package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// GraphMissing indicates no persisted graph exists for the requested kind
	GraphMissing ErrorCode = "GRAPH_MISSING"
	// KindInvalid indicates an unknown graph kind was requested
	KindInvalid ErrorCode = "KIND_INVALID"
	// FactsMissing indicates the fact store database was not found
	FactsMissing ErrorCode = "FACTS_MISSING"
	// SchemaCorrupt indicates the graph database schema is damaged
	SchemaCorrupt ErrorCode = "SCHEMA_CORRUPT"
	// FunctionNotFound indicates no CFG data exists for a function
	FunctionNotFound ErrorCode = "FUNCTION_NOT_FOUND"
	// NodeNotFound indicates a node id does not exist in the graph
	NodeNotFound ErrorCode = "NODE_NOT_FOUND"
	// BudgetExceeded indicates a traversal hit its max_depth/max_paths ceiling
	BudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Command     string `json:"command,omitempty"`
	Safe        bool   `json:"safe,omitempty"`
	Description string `json:"description,omitempty"`
}

// LatticeError represents a graph-engine error with code, message, and suggestions
type LatticeError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new LatticeError
func New(code ErrorCode, message string, cause error) *LatticeError {
	return &LatticeError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes[code],
	}
}

// Error implements the error interface
func (e *LatticeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *LatticeError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *LatticeError) WithDetails(details interface{}) *LatticeError {
	e.Details = details
	return e
}

// suggestedFixes maps error codes to fix actions surfaced to the caller
var suggestedFixes = map[ErrorCode][]FixAction{
	GraphMissing: {
		{
			Command:     "lattice graph build",
			Safe:        true,
			Description: "Build and persist dependency graphs from the fact store",
		},
	},
	FactsMissing: {
		{
			Command:     "lattice graph build --facts <path>",
			Safe:        true,
			Description: "Point the builder at an indexed fact database",
		},
	},
	FunctionNotFound: {
		{
			Command:     "lattice cfg --file <file>",
			Safe:        true,
			Description: "List functions with control-flow data for a file",
		},
	},
}

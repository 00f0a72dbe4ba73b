// Package query implements the filter query language: a tokenizer,
// recursive-descent parser, DNF normalizer with hard complexity limits, and
// a JSON-form converter, producing the filter.EventFilter set the event
// store evaluates.
package query

import "fmt"

// Error is the query-language error taxonomy. Code is one of the sentinel
// kinds the API's central error mapping understands; Param names the
// request field the error should be attributed to (always "q", for both
// string and structured JSON queries).
type Error struct {
	Code    string
	Param   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, param, format string, args ...interface{}) *Error {
	return &Error{Code: code, Param: param, Message: fmt.Sprintf(format, args...)}
}

const (
	CodeInvalidParameter       = "invalid_parameter"
	CodeQueryTooComplex        = "query_too_complex"
	CodeTooManyFilters         = "too_many_filters"
	CodeUnknownKey             = "unknown_key"
	CodeMissingValue           = "missing_value"
	CodeInvalidValue           = "invalid_value"
	CodeUnbalancedParens       = "unbalanced_parens"
	CodeUnbalancedBraces       = "unbalanced_braces"
	CodeUnbalancedQuotes       = "unbalanced_quotes"
	CodeUnexpectedToken        = "unexpected_token"
	CodeConflictingQualifiers  = "conflicting_qualifiers"
	CodeDuplicateTopicPosition = "duplicate_topic_position"
	CodeMissingDependency      = "missing_dependency"
)

// Limits enforced at parse time, per the grammar's hard bounds.
const (
	MaxQueryBytes   = 1024
	MaxAtoms        = 20
	MaxDepth        = 4
	MaxFilters      = 20
)

// Package errors provides standardized error handling for the underwriting
// workers and their BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Rule set / DSL errors
const (
	ErrCodeRuleSetSchemaInvalid  ErrorCode = "RULESET_SCHEMA_INVALID"
	ErrCodePredicateInvalid      ErrorCode = "PREDICATE_INVALID"
	ErrCodeUnsupportedDSLVersion ErrorCode = "UNSUPPORTED_DSL_VERSION"
	ErrCodeRuleSetNotFound       ErrorCode = "RULESET_NOT_FOUND"
)

// Pricing errors
const (
	ErrCodeMatrixOutOfRange ErrorCode = "MATRIX_OUT_OF_RANGE"
	ErrCodeInvalidPremium   ErrorCode = "INVALID_PREMIUM"
	ErrCodeMatrixEmpty      ErrorCode = "MATRIX_EMPTY"
	ErrCodeTermNotAvailable ErrorCode = "TERM_NOT_AVAILABLE"
)

// Evaluation errors
const (
	ErrCodeEligibilityFailed ErrorCode = "ELIGIBILITY_FAILED"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeEvaluationTimeout ErrorCode = "EVALUATION_TIMEOUT"
)

// Infrastructure errors
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeAuditIndexFailed         ErrorCode = "AUDIT_INDEX_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeBrokerUnavailable        ErrorCode = "BROKER_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// IsCode reports whether err is a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	if e.ErrorVariables != nil {
		for k, v := range e.ErrorVariables {
			vars[k] = v
		}
	}

	return vars
}

// ConvertToBPMNError maps a StandardError onto the workflow error contract.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   GetRetryCount(stdErr.Code),
	}
}

// GetRetryCount returns how many workflow retries a code deserves.
// Domain decisions are never retryable; infrastructure hiccups are.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryTimeout, ErrCodeQueryExecutionFailed, ErrCodeBrokerUnavailable:
		return 3
	case ErrCodeCacheUnavailable, ErrCodeAuditIndexFailed, ErrCodeNotificationSendFailed:
		return 2
	case ErrCodeEvaluationTimeout:
		return 1
	default:
		return 0
	}
}

// GetErrorCategory buckets codes for logging and alerting.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeRuleSetSchemaInvalid, ErrCodePredicateInvalid, ErrCodeUnsupportedDSLVersion, ErrCodeRuleSetNotFound:
		return "rule_set"
	case ErrCodeMatrixOutOfRange, ErrCodeInvalidPremium, ErrCodeMatrixEmpty, ErrCodeTermNotAvailable:
		return "pricing"
	case ErrCodeEligibilityFailed, ErrCodeInvalidInput, ErrCodeEvaluationTimeout:
		return "evaluation"
	default:
		return "infrastructure"
	}
}

// ==========================
// 3. Error Constructors
// ==========================

// NewRuleSetSchemaError creates a non-retryable rule set validation error.
// The rejected rule set is skipped, not the whole evaluation run.
func NewRuleSetSchemaError(ruleSetID string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRuleSetSchemaInvalid,
		Message:   "Rule set failed schema validation",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"ruleSetId": ruleSetID},
		Timestamp: time.Now().UTC(),
	}
}

// NewPredicateInvalidError creates a non-retryable predicate validation error.
func NewPredicateInvalidError(ruleName string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePredicateInvalid,
		Message:   "Rule predicate is invalid",
		Details:   fmt.Sprintf("rule: %s, error: %s", ruleName, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedDSLVersionError creates a non-retryable version error.
func NewUnsupportedDSLVersionError(version int) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedDSLVersion,
		Message:   "Unsupported rule predicate version",
		Details:   fmt.Sprintf("version: %d", version),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRuleSetNotFoundError creates a non-retryable lookup error.
func NewRuleSetNotFoundError(carrierID, scope string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRuleSetNotFound,
		Message:   "No rule set found",
		Details:   fmt.Sprintf("carrierId: %s, scope: %s", carrierID, scope),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatrixOutOfRangeError creates a non-retryable pricing bounds error.
// Ages and faces outside the known grid are never extrapolated.
func NewMatrixOutOfRangeError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatrixOutOfRange,
		Message:   "Requested point is outside the premium matrix range",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPremiumError flags a computed premium that failed sanity
// validation. Logged distinctly because it usually means bad matrix data.
func NewInvalidPremiumError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPremium,
		Message:   "Computed premium failed sanity validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatrixEmptyError creates a non-retryable pricing error for products
// with no usable matrix rows.
func NewMatrixEmptyError(productID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatrixEmpty,
		Message:   "No premium matrix rows for product",
		Details:   fmt.Sprintf("productId: %s", productID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTermNotAvailableError creates a non-retryable term mismatch error.
func NewTermNotAvailableError(productID string, termYears int) *StandardError {
	return &StandardError{
		Code:      ErrCodeTermNotAvailable,
		Message:   "Requested term is not offered by product",
		Details:   fmt.Sprintf("productId: %s, termYears: %d", productID, termYears),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEligibilityFailedError records a hard knockout. Expected and
// non-exceptional; it only excludes the one candidate.
func NewEligibilityFailedError(productID, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEligibilityFailed,
		Message:   "Candidate failed eligibility",
		Details:   reason,
		Retryable: false,
		Metadata:  map[string]interface{}{"productId": productID},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError creates a non-retryable input validation error.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid evaluation input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEvaluationTimeoutError creates a retryable timeout error.
func NewEvaluationTimeoutError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEvaluationTimeout,
		Message:   "Evaluation run timed out",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(queryType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("queryType: %s", queryType),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache error. Callers fall
// back to the database on this code.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditIndexFailedError creates a retryable audit sink error. Audit
// failures never abort an evaluation.
func NewAuditIndexFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditIndexFailed,
		Message:   "Failed to index decision audit record",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Failed to send referral notification",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBrokerUnavailableError creates a retryable workflow engine error.
func NewBrokerUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBrokerUnavailable,
		Message:   fmt.Sprintf("Zeebe operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

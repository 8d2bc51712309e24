// Package errors provides standardized error handling for the onboarding pipeline
// and its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Onboarding taxonomy
const (
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrCodeAccountConflict       ErrorCode = "ACCOUNT_CONFLICT"
	ErrCodeTimeout               ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNetwork               ErrorCode = "NETWORK_ERROR"
	ErrCodeProvider              ErrorCode = "PROVIDER_ERROR"
	ErrCodePersistenceCorruption ErrorCode = "PERSISTENCE_CORRUPTION"

	ErrCodeConsentWriteFailed ErrorCode = "CONSENT_WRITE_FAILED"
	ErrCodeRequestInFlight    ErrorCode = "REQUEST_IN_FLIGHT"
	ErrCodeStepNotAdvanceable ErrorCode = "STEP_NOT_ADVANCEABLE"
	ErrCodeFlowNotFound       ErrorCode = "FLOW_NOT_FOUND"

	ErrCodeAlreadyRegistered  ErrorCode = "ALREADY_REGISTERED"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"

	ErrCodeDatabaseInsertFailed   ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeExternalService        ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// Messages shown to the advertiser.
const (
	MessageAccountConflict = "This email already has an account. Please log in or reset your password."
	MessageRetry           = "Something went wrong. Please try again in a few seconds."
	MessageTimeout         = "Request timed out. Please try again in a few seconds."
	MessageFixFields       = "Fill all required fields."
)

// FieldError names a single missing or invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fields    []FieldError           `json:"fields,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
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
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError creates a non-retryable error listing every failing field.
func NewValidationError(fields []FieldError) *StandardError {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   strings.Join(names, ", "),
		Retryable: false,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
}

// NewAccountConflictError is returned when an e-mail exists with a different password.
func NewAccountConflictError(email string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAccountConflict,
		Message:   MessageAccountConflict,
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyRegisteredError is the identity provider's signal that sign-up found an existing user.
func NewAlreadyRegisteredError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadyRegistered,
		Message:   "Email already registered",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidCredentialsError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidCredentials,
		Message:   "Invalid login credentials",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTimeoutError creates a retryable timeout error. The remote operation may have
// partially completed.
func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNetworkError creates a retryable transport-level error.
func NewNetworkError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetwork,
		Message:   fmt.Sprintf("Network error calling '%s'", service),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderError carries the verification or payment provider's business failure message.
func NewProviderError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProvider,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewPersistenceCorruptionError(flowID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceCorruption,
		Message:   "Stored onboarding progress is unreadable",
		Details:   fmt.Sprintf("flowId: %s, error: %s", flowID, errDetails(err)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConsentWriteFailedError is fatal to the legal consent step.
func NewConsentWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConsentWriteFailed,
		Message:   "Consent could not be recorded",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewRequestInFlightError(flowID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestInFlight,
		Message:   "A request for this step is already in progress",
		Details:   fmt.Sprintf("flowId: %s", flowID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewStepNotAdvanceableError(step string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStepNotAdvanceable,
		Message:   "This step cannot be advanced from here",
		Details:   fmt.Sprintf("step: %s", step),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewFlowNotFoundError(flowID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFlowNotFound,
		Message:   "Onboarding flow not found",
		Details:   fmt.Sprintf("flowId: %s", flowID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable database write error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database write operation failed",
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, errDetails(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return &StandardError{
		Code:      "BUSINESS_RULE_VIOLATION",
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      "AUTHENTICATION_ERROR",
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for a Zeebe job failing with code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNetwork,
		ErrCodeDatabaseInsertFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in its chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// UserMessage renders err for the advertiser. Only account conflicts and provider
// failures carry an actionable message.
func UserMessage(err error) string {
	stdErr, ok := AsStandardError(err)
	if !ok {
		return MessageRetry
	}
	switch stdErr.Code {
	case ErrCodeAccountConflict, ErrCodeProvider:
		return stdErr.Message
	case ErrCodeValidationFailed:
		return MessageFixFields
	case ErrCodeTimeout:
		return MessageTimeout
	default:
		return MessageRetry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "ACCOUNT") || strings.Contains(codeStr, "REGISTERED") || strings.Contains(codeStr, "CREDENTIALS"):
		return "IDENTITY"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "CONSENT"):
		return "STORAGE"
	case strings.Contains(codeStr, "PROVIDER"):
		return "VERIFICATION"
	case strings.Contains(codeStr, "TIMEOUT") || strings.Contains(codeStr, "NETWORK") || strings.Contains(codeStr, "EXTERNAL"):
		return "TRANSPORT"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "STEP"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

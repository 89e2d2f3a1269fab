// Package errors defines the typed error taxonomy shared by every subsystem.
// Error codes are stable string identifiers that appear verbatim in HTTP
// responses and audit details.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Code identifies a class of failure.
type Code string

const (
	// Generic
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"

	// Identity
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeAuthorizationFailed  Code = "AUTHORIZATION_FAILED"
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"

	// Kafka transport
	CodeKafkaConnection Code = "KAFKA_CONNECTION_ERROR"
	CodeKafkaTimeout    Code = "KAFKA_TIMEOUT_ERROR"
	CodeKafkaAuthn      Code = "KAFKA_AUTHN_ERROR"
	CodeKafkaAuthz      Code = "KAFKA_AUTHZ_ERROR"

	// Topic
	CodeTopicNotFound           Code = "TOPIC_NOT_FOUND"
	CodeTopicAlreadyExists      Code = "TOPIC_ALREADY_EXISTS"
	CodeTopicCreationFailed     Code = "TOPIC_CREATION_FAILED"
	CodeTopicDeletionFailed     Code = "TOPIC_DELETION_FAILED"
	CodeTopicConfigUpdateFailed Code = "TOPIC_CONFIG_UPDATE_FAILED"
	CodeInvalidTopicConfig      Code = "INVALID_TOPIC_CONFIG"

	// Cluster
	CodeClusterNotFound           Code = "CLUSTER_NOT_FOUND"
	CodeClusterNotAvailable       Code = "CLUSTER_NOT_AVAILABLE"
	CodeConnectionFailed          Code = "CONNECTION_FAILED"
	CodeClusterProvisioningFailed Code = "CLUSTER_PROVISIONING_FAILED"
	CodeClusterDeprovisionFailed  Code = "CLUSTER_DEPROVISIONING_FAILED"
	CodeClusterHealthCheckFailed  Code = "CLUSTER_HEALTH_CHECK_FAILED"
	CodeInsufficientResources     Code = "INSUFFICIENT_RESOURCES"

	// Storage
	CodeStorageConnectionFailed Code = "STORAGE_CONNECTION_FAILED"
	CodeStorageOperationFailed  Code = "STORAGE_OPERATION_FAILED"
	CodeMigrationFailed         Code = "MIGRATION_FAILED"

	// Provider
	CodeProviderNotFound      Code = "PROVIDER_NOT_FOUND"
	CodeProviderInitFailed    Code = "PROVIDER_INITIALIZATION_FAILED"
	CodeProviderOperationFail Code = "PROVIDER_OPERATION_FAILED"

	// Marketplace
	CodeServiceNotFound       Code = "SERVICE_NOT_FOUND"
	CodePlanNotFound          Code = "PLAN_NOT_FOUND"
	CodeInstanceNotFound      Code = "INSTANCE_NOT_FOUND"
	CodeInstanceAlreadyExists Code = "INSTANCE_ALREADY_EXISTS"
	CodeBindingNotFound       Code = "BINDING_NOT_FOUND"
	CodeBindingAlreadyExists  Code = "BINDING_ALREADY_EXISTS"
	CodeOperationInProgress   Code = "OPERATION_IN_PROGRESS"
	CodeNotSupported          Code = "NOT_SUPPORTED"

	// Flow control
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeRequestThrottled  Code = "REQUEST_THROTTLED"

	// Cleanup / scheduler
	CodeCleanupConflict   Code = "CLEANUP_CONFLICT"
	CodeCleanupFailed     Code = "CLEANUP_FAILED"
	CodeSchedulerError    Code = "SCHEDULER_ERROR"
	CodeTaskNotFound      Code = "TASK_NOT_FOUND"
	CodeTaskAlreadyExists Code = "TASK_ALREADY_EXISTS"
	CodeExecutionNotFound Code = "EXECUTION_NOT_FOUND"
)

// Error is the canonical error value carried across subsystem boundaries.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// yields a nil result so call sites can wrap unconditionally.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, code Code, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail returns the error with one structured detail attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails merges the given details into the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// CodeOf extracts the taxonomy code from err, walking the wrap chain.
// Unclassified errors report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As extracts the typed error from a wrap chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// nonRetryable holds the codes that never benefit from another attempt.
var nonRetryable = map[Code]struct{}{
	CodeValidation:            {},
	CodeAuthenticationFailed:  {},
	CodeAuthorizationFailed:   {},
	CodeTopicAlreadyExists:    {},
	CodeInstanceAlreadyExists: {},
	CodeTopicNotFound:         {},
	CodeInstanceNotFound:      {},
}

// IsRetryable reports whether the failure class may succeed on retry.
// Unclassified errors are treated as retryable transient failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, fixed := nonRetryable[CodeOf(err)]
	return !fixed
}

// httpStatus maps each code to its canonical transport status.
var httpStatus = map[Code]int{
	CodeInternal:      http.StatusInternalServerError,
	CodeValidation:    http.StatusBadRequest,
	CodeConfiguration: http.StatusInternalServerError,

	CodeAuthenticationFailed: http.StatusUnauthorized,
	CodeAuthorizationFailed:  http.StatusForbidden,
	CodeInvalidAPIKey:        http.StatusUnauthorized,

	CodeKafkaConnection: http.StatusServiceUnavailable,
	CodeKafkaTimeout:    http.StatusGatewayTimeout,
	CodeKafkaAuthn:      http.StatusUnauthorized,
	CodeKafkaAuthz:      http.StatusForbidden,

	CodeTopicNotFound:           http.StatusNotFound,
	CodeTopicAlreadyExists:      http.StatusConflict,
	CodeTopicCreationFailed:     http.StatusInternalServerError,
	CodeTopicDeletionFailed:     http.StatusInternalServerError,
	CodeTopicConfigUpdateFailed: http.StatusInternalServerError,
	CodeInvalidTopicConfig:      http.StatusBadRequest,

	CodeClusterNotFound:           http.StatusNotFound,
	CodeClusterNotAvailable:       http.StatusServiceUnavailable,
	CodeConnectionFailed:          http.StatusServiceUnavailable,
	CodeClusterProvisioningFailed: http.StatusInternalServerError,
	CodeClusterDeprovisionFailed:  http.StatusInternalServerError,
	CodeClusterHealthCheckFailed:  http.StatusServiceUnavailable,
	CodeInsufficientResources:     http.StatusInsufficientStorage,

	CodeStorageConnectionFailed: http.StatusServiceUnavailable,
	CodeStorageOperationFailed:  http.StatusInternalServerError,
	CodeMigrationFailed:         http.StatusInternalServerError,

	CodeProviderNotFound:      http.StatusNotFound,
	CodeProviderInitFailed:    http.StatusInternalServerError,
	CodeProviderOperationFail: http.StatusInternalServerError,

	CodeServiceNotFound:       http.StatusBadRequest,
	CodePlanNotFound:          http.StatusBadRequest,
	CodeInstanceNotFound:      http.StatusGone,
	CodeInstanceAlreadyExists: http.StatusConflict,
	CodeBindingNotFound:       http.StatusNotFound,
	CodeBindingAlreadyExists:  http.StatusConflict,
	CodeOperationInProgress:   http.StatusUnprocessableEntity,
	CodeNotSupported:          http.StatusUnprocessableEntity,

	CodeRateLimitExceeded: http.StatusTooManyRequests,
	CodeRequestThrottled:  http.StatusTooManyRequests,

	CodeCleanupConflict:   http.StatusConflict,
	CodeCleanupFailed:     http.StatusInternalServerError,
	CodeSchedulerError:    http.StatusInternalServerError,
	CodeTaskNotFound:      http.StatusNotFound,
	CodeTaskAlreadyExists: http.StatusConflict,
	CodeExecutionNotFound: http.StatusNotFound,
}

// HTTPStatus returns the canonical status for the code, defaulting to 500.
func HTTPStatus(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// maskedValue replaces sensitive detail values on the wire.
const maskedValue = "***MASKED***"

var sensitiveKeyFragments = []string{"password", "secret", "key", "token", "credential"}

// Mask returns a copy of details with values under sensitive keys replaced.
// Nested maps are masked recursively.
func Mask(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = maskedValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Mask(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

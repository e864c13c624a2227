// Package errors defines the service error taxonomy shared by the relayer,
// the reconciliation watcher and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers are expected to react.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindTransientChain     Kind = "transient_chain"
	KindExecutionRevert    Kind = "execution_revert"
	KindPersistence        Kind = "persistence"
	KindConfiguration      Kind = "configuration"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindInternal           Kind = "internal"
)

// Code is a stable machine-readable identifier returned to API callers.
type Code string

const (
	CodeMissingParameters  Code = "MISSING_PARAMETERS"
	CodeInvalidParameter   Code = "INVALID_PARAMETER"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeIntentExpired      Code = "INTENT_EXPIRED"
	CodeNonceMismatch      Code = "NONCE_MISMATCH"
	CodeRelayerUnderfunded Code = "RELAYER_UNDERFUNDED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeChainUnavailable   Code = "CHAIN_UNAVAILABLE"
	CodeUnavailable        Code = "TEMPORARILY_UNAVAILABLE"
	CodeExecutionReverted  Code = "EXECUTION_REVERTED"
	CodePersistence        Code = "PERSISTENCE_ERROR"
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// ServiceError is an error that carries enough context to be rendered to an
// API caller without leaking internals.
type ServiceError struct {
	Code       Code           `json:"code"`
	Kind       Kind           `json:"-"`
	Message    string         `json:"error"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if repeated later.
func (e *ServiceError) Retryable() bool {
	switch e.Kind {
	case KindTransientChain, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

// WithDetails returns the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is matches on Code so sentinel-style comparisons work across wrapping.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code Code, status int, msg string, err error) *ServiceError {
	return &ServiceError{Code: code, Kind: kind, Message: msg, HTTPStatus: status, Err: err}
}

// =============================================================================
// Constructors
// =============================================================================

// MissingParameters reports absent request fields.
func MissingParameters(fields ...string) *ServiceError {
	e := newError(KindValidation, CodeMissingParameters, http.StatusBadRequest, "Missing parameters", nil)
	if len(fields) > 0 {
		e.WithDetails("fields", fields)
	}
	return e
}

// InvalidParameter reports a malformed request field.
func InvalidParameter(field, reason string) *ServiceError {
	return newError(KindValidation, CodeInvalidParameter, http.StatusBadRequest,
		fmt.Sprintf("invalid %s: %s", field, reason), nil).WithDetails("field", field)
}

// InvalidSignature reports a signature that does not recover to the executor.
func InvalidSignature(err error) *ServiceError {
	return newError(KindValidation, CodeInvalidSignature, http.StatusBadRequest, "Invalid signature", err)
}

// IntentExpired reports an intent whose deadline has passed.
func IntentExpired(deadline int64) *ServiceError {
	return newError(KindValidation, CodeIntentExpired, http.StatusBadRequest, "Intent deadline has passed", nil).
		WithDetails("deadline", deadline)
}

// NonceMismatch reports a nonce that is not the executor's current counter.
func NonceMismatch(executor string, presented uint64) *ServiceError {
	return newError(KindValidation, CodeNonceMismatch, http.StatusConflict, "Nonce already used or out of order", nil).
		WithDetails("executor", executor).
		WithDetails("nonce", presented)
}

// RelayerUnderfunded reports that the relayer account cannot pay for gas.
func RelayerUnderfunded(balance, minimum string) *ServiceError {
	return newError(KindResourceExhaustion, CodeRelayerUnderfunded, http.StatusServiceUnavailable, "Relayer out of funds", nil).
		WithDetails("balance_wei", balance).
		WithDetails("minimum_wei", minimum)
}

// RateLimitExceeded reports a rejected rate-limit check.
func RateLimitExceeded(reason string) *ServiceError {
	return newError(KindResourceExhaustion, CodeRateLimited, http.StatusTooManyRequests, reason, nil)
}

// TransientChain wraps an RPC failure that may succeed on retry.
func TransientChain(op string, err error) *ServiceError {
	return newError(KindTransientChain, CodeChainUnavailable, http.StatusBadGateway,
		fmt.Sprintf("chain %s failed", op), err)
}

// Transient wraps a retryable read failure outside the chain, such as the
// nonce counter being unreachable.
func Transient(op string, err error) *ServiceError {
	return newError(KindTransientChain, CodeUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("%s temporarily unavailable", op), err)
}

// ExecutionReverted reports a transaction included on-chain with a failure status.
func ExecutionReverted(txHash string) *ServiceError {
	return newError(KindExecutionRevert, CodeExecutionReverted, http.StatusInternalServerError, "Tx Reverted on-chain", nil).
		WithDetails("tx_hash", txHash)
}

// Persistence wraps a database failure.
func Persistence(op string, err error) *ServiceError {
	return newError(KindPersistence, CodePersistence, http.StatusInternalServerError,
		fmt.Sprintf("failed to %s", op), err)
}

// Configuration reports missing or invalid process configuration.
func Configuration(msg string) *ServiceError {
	return newError(KindConfiguration, CodeConfiguration, http.StatusInternalServerError, msg, nil)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return newError(KindNotFound, CodeNotFound, http.StatusNotFound,
		fmt.Sprintf("%s not found", resource), nil).WithDetails("id", id)
}

// Unauthorized reports a missing or wrong credential.
func Unauthorized(msg string) *ServiceError {
	return newError(KindUnauthorized, CodeUnauthorized, http.StatusUnauthorized, msg, nil)
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *ServiceError {
	return newError(KindInternal, CodeInternal, http.StatusInternalServerError, msg, err)
}

// =============================================================================
// Helpers
// =============================================================================

// As extracts a ServiceError from an error chain.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// KindOf returns the error kind, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Package apperr holds the error taxonomy shared by every layer of the staking
// pipeline. Errors carry a Kind for routing and a Code for callers that need
// to branch on the precise reason.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups failures by who can act on them.
type Kind string

const (
	KindValidation   Kind = "VALIDATION_ERROR"
	KindWallet       Kind = "WALLET_ERROR"
	KindNetwork      Kind = "NETWORK_ERROR"
	KindDeployment   Kind = "DEPLOYMENT_ERROR"
	KindBundler      Kind = "BUNDLER_ERROR"
	KindHashMismatch Kind = "HASH_MISMATCH"
)

// Codes refine a Kind. They are stable and safe to expose over the API.
const (
	// validation
	CodeAmountNotPositive   = "AMOUNT_NOT_POSITIVE"
	CodeBelowMinimum        = "BELOW_MINIMUM"
	CodeNoStake             = "NO_STAKE"
	CodeExceedsStake        = "EXCEEDS_STAKE"
	CodeStillLocked         = "STILL_LOCKED"
	CodeNoRewards           = "NO_REWARDS"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeContractMissing     = "CONTRACT_MISSING"

	// wallet
	CodeUserRejected      = "USER_REJECTED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeUnsupportedMethod = "UNSUPPORTED_METHOD"
	CodeWalletUnavailable = "WALLET_UNAVAILABLE"
	CodeOwnerMismatch     = "OWNER_MISMATCH"
	CodeUnknownChain      = "UNKNOWN_CHAIN"

	// network
	CodeUnreachable   = "UNREACHABLE"
	CodeTimeout       = "TIMEOUT"
	CodeChainMismatch = "CHAIN_MISMATCH"
	CodeRPCFailure    = "RPC_FAILURE"

	// deployment
	CodeFactoryInvalid            = "FACTORY_INVALID"
	CodeImplementationUnsupported = "IMPLEMENTATION_UNSUPPORTED"
	CodeDegradedMode              = "DEGRADED_MODE"
	CodeDeploymentFailed          = "DEPLOYMENT_FAILED"

	// bundler
	CodeBadNonce            = "BAD_NONCE"
	CodeBadSignature        = "BAD_SIGNATURE"
	CodeGasTooLow           = "GAS_TOO_LOW"
	CodeInsufficientPrefund = "INSUFFICIENT_PREFUND"
	CodeInitCodeFailed      = "INIT_CODE_FAILED"
	CodeRejected            = "REJECTED"
	CodeExecutionReverted   = "EXECUTION_REVERTED"

	// hash mismatch
	CodeDigestMismatch = "DIGEST_MISMATCH"
	CodeSignerMismatch = "SIGNER_MISMATCH"
)

// Error is the structured failure returned across package boundaries.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and, when set on the target, by Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// HTTPStatus maps the kind to the status the gateway responds with.
func (e *Error) HTTPStatus() int {
	if e.Code == CodeNotFound {
		return http.StatusNotFound
	}
	switch e.Kind {
	case KindValidation, KindWallet:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindBundler:
		return http.StatusBadGateway
	case KindDeployment:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns e after attaching key=value to its details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code, message string, cause error, retryable bool) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Err:       cause,
		Retryable: retryable,
	}
}

func Validation(code, message string) *Error {
	return newError(KindValidation, code, message, nil, false)
}

func Validationf(code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, fmt.Sprintf(format, args...), nil, false)
}

func Wallet(code, message string, cause error) *Error {
	return newError(KindWallet, code, message, cause, code == CodeUserRejected)
}

func Network(code, message string, cause error) *Error {
	return newError(KindNetwork, code, message, cause, true)
}

func Deployment(code, message string, cause error) *Error {
	return newError(KindDeployment, code, message, cause, false)
}

func Bundler(code, message string, cause error) *Error {
	return newError(KindBundler, code, message, cause, code == CodeGasTooLow || code == CodeBadNonce)
}

// HashMismatch is always a defect in the builder, never something a user can fix.
func HashMismatch(code, message string) *Error {
	return newError(KindHashMismatch, code, message, nil, false)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of err, or "" when err carries no classification.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

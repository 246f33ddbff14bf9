package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeRateLimit     Code = "RATE_LIMITED"

	// Flow protocol codes.
	CodeInvalidCode       Code = "INVALID_CODE"
	CodeScanTimeout       Code = "SCAN_TIMEOUT"
	CodeCameraUnavailable Code = "CAMERA_UNAVAILABLE"
	CodeCaptureInProgress Code = "CAPTURE_IN_PROGRESS"
	CodeResolverRace      Code = "RESOLVER_RACE"
	CodeCommitFailed      Code = "COMMIT_FAILED"
	CodeCommitInFlight    Code = "COMMIT_IN_FLIGHT"
	CodeFlowCancelled     Code = "FLOW_CANCELLED"
	CodeFlowInvariant     Code = "FLOW_INVARIANT"
	CodeStepLocked        Code = "STEP_LOCKED"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		Retryable:     true,
		PublicMessage: "too many requests",
	},
	CodeInvalidCode: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "code not recognised for this flow",
		DetailsAllowed: true,
	},
	CodeScanTimeout: {
		HTTPStatus:    http.StatusRequestTimeout,
		Retryable:     true,
		PublicMessage: "no code detected, try again",
	},
	CodeCameraUnavailable: {
		HTTPStatus:    http.StatusServiceUnavailable,
		PublicMessage: "no camera available, enter the code manually",
	},
	CodeCaptureInProgress: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "a scan is already in progress",
	},
	CodeResolverRace: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "stale lookup result",
	},
	CodeCommitFailed: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "could not complete the transaction, retry",
		DetailsAllowed: true,
	},
	CodeCommitInFlight: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "transaction already being submitted",
	},
	CodeFlowCancelled: {
		HTTPStatus:    http.StatusGone,
		PublicMessage: "flow was cancelled",
	},
	CodeFlowInvariant: {
		HTTPStatus:    http.StatusInternalServerError,
		PublicMessage: "internal server error",
	},
	CodeStepLocked: {
		HTTPStatus:     http.StatusPreconditionFailed,
		PublicMessage:  "previous steps are incomplete",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in the chain carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Credential errors
// 13000-13099: Session errors
// 13100-13199: Remote service errors (execution, persistence)

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Credential Errors (11000-11999) ==========

	MalformedCredential ErrorCode = 11000
	TokenInvalid        ErrorCode = 11004

	// ========== Session Errors (13000-13099) ==========

	SessionNotFound      ErrorCode = 13000
	SessionExists        ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	Busy                 ErrorCode = 13004
	InvalidState         ErrorCode = 13005
	SubmissionConflict   ErrorCode = 13006

	// ========== Remote Service Errors (13100-13199) ==========

	ServiceError     ErrorCode = 13100
	SubmissionFailed ErrorCode = 13101
	PersistFailed    ErrorCode = 13102
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	CacheError:          "Cache operation failed",
	ValidationFailed:    "Validation failed",
	RequiredFieldEmpty:  "Required field is empty",

	// Credential
	MalformedCredential: "Candidate credential is malformed",
	TokenInvalid:        "Invalid token",

	// Session
	SessionNotFound:      "Session not found",
	SessionExists:        "Session already exists",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	Busy:                 "Operation already in progress",
	InvalidState:         "Operation not allowed in current session state",
	SubmissionConflict:   "Session already submitted",

	// Remote
	ServiceError:     "Remote service failed, please retry",
	SubmissionFailed: "Submission failed, please retry",
	PersistFailed:    "Failed to save code",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether the caller may retry the same operation manually.
func (c ErrorCode) Retryable() bool {
	switch c {
	case Busy, TooManyRequests, ServiceError, SubmissionFailed, PersistFailed, ServiceUnavailable, Timeout:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c >= 11000 && c < 12000: // Credential errors
		return 401
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SessionNotFound:
		return 404
	case c == Busy, c == SessionExists, c == InvalidState, c == SubmissionConflict:
		return 409
	case c == CodeTooLarge:
		return 413
	case c == TooManyRequests:
		return 429
	case c >= 13100 && c < 13200: // Remote service errors
		return 502
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}

// Package errors provides structured error handling for the storage cascade.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Tier errors
	CodeTierUnavailable Code = "TIER_UNAVAILABLE"
	CodeNotSignedIn     Code = "NOT_SIGNED_IN"

	// Remote transport errors
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"
	CodeRemoteStatus   Code = "REMOTE_STATUS"
	CodeRemoteDecode   Code = "REMOTE_DECODE"

	// Secure value errors
	CodeEncryptFailed Code = "ENCRYPT_FAILED"
	CodeDecryptFailed Code = "DECRYPT_FAILED"
)

// Unavailable reports whether the code means a tier could not serve a request
// at all, as opposed to the request itself being wrong.
func (c Code) Unavailable() bool {
	switch c {
	case CodeTierUnavailable, CodeNotSignedIn, CodeRetryExhausted:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidArgument:
		return codes.InvalidArgument

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// Unavailable - a backend could not be reached
	case CodeTierUnavailable,
		CodeRetryExhausted:
		return codes.Unavailable

	// Unauthenticated - remote sign-in missing
	case CodeNotSignedIn:
		return codes.Unauthenticated

	// FailedPrecondition - the stored value or key material doesn't allow the operation
	case CodeEncryptFailed,
		CodeDecryptFailed:
		return codes.FailedPrecondition

	// Remote answered but the payload or status was unusable
	case CodeRemoteStatus,
		CodeRemoteDecode:
		return codes.Aborted

	default:
		return codes.Internal
	}
}

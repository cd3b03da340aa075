package cerrors

import "github.com/palantir/stacktrace"

type ErrorType string

const (
	ErrorTypeNonUserFriendly ErrorType = "NON_USER_FRIENDLY_ERROR"
	ErrorTypeGeneric         ErrorType = "GENERIC_ERROR"
	ErrorTypeInvalidPolicy   ErrorType = "INVALID_POLICY_ERROR"
	ErrorTypeApply           ErrorType = "APPLY_ERROR"
	ErrorTypeMissingArtifact ErrorType = "MISSING_ARTIFACT_ERROR"
)

type userFriendly interface {
	UserFriendly() bool
	ErrorType() ErrorType
}

// IsUserFriendly returns true if err is marked as safe to present to the operator
func IsUserFriendly(err error) bool {
	ufe, ok := err.(userFriendly)
	return ok && ufe.UserFriendly()
}

// GetErrorType returns the type of error if the error is user-friendly
func GetErrorType(err error) ErrorType {
	if ufe, ok := err.(userFriendly); ok {
		return ufe.ErrorType()
	}
	return ErrorTypeNonUserFriendly
}

// GetRootCauseAndErrorCode unwinds the stacktrace propagation chain and
// returns the message to show and the type of the innermost error
func GetRootCauseAndErrorCode(err error) (string, ErrorType) {
	rootCause := stacktrace.RootCause(err)
	errorType := GetErrorType(rootCause)
	if !IsUserFriendly(rootCause) {
		return err.Error(), errorType
	}
	return rootCause.Error(), errorType
}

// IsType reports whether the root cause of err carries the given type
func IsType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return GetErrorType(stacktrace.RootCause(err)) == errorType
}

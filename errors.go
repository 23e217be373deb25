package accounts

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateUsername = "duplicate_username"
	TextCodeDuplicateEmail    = "duplicate_email"
	TextCodeUnknownEmail      = "unknown_email"
	TextCodeUnknownUser       = "unknown_user"
	TextCodeAccountInactive   = "account_inactive"
	TextCodeInvalidCode       = "invalid_code"
	TextCodeAlreadyActivated  = "already_activated"
	TextCodeCodeExpired       = "expired"
	TextCodeTokenExpired      = "AUTH_TOKEN_EXPIRED"
	TextCodeTokenMalformed    = "AUTH_TOKEN_MALFORMED"
)

// ErrDuplicateUsername is returned when a username is already taken.
var ErrDuplicateUsername = errors.New("that username is already taken", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateUsername).
	WithCode(errors.CodeConflict)

// ErrDuplicateEmail is returned when an address is registered to any user.
var ErrDuplicateEmail = errors.New("that e-mail address has already been registered", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(errors.CodeConflict)

// ErrUnknownEmail is returned when an address is not registered.
var ErrUnknownEmail = errors.New("unknown e-mail address", errors.CategoryNotFound).
	WithTextCode(TextCodeUnknownEmail).
	WithCode(errors.CodeNotFound)

// ErrUnknownUser flags a data integrity problem: an e-mail row whose
// owning user row is missing.
var ErrUnknownUser = errors.New("unknown account associated to that e-mail address", errors.CategoryInternal).
	WithTextCode(TextCodeUnknownUser).
	WithCode(errors.CodeInternal)

// ErrMismatchedHashAndPassword is the password verification failure.
var ErrMismatchedHashAndPassword = errors.New("invalid credentials provided", errors.CategoryAuth).
	WithTextCode("AUTH_INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// ErrAccountInactive is returned when the login e-mail has not been confirmed.
var ErrAccountInactive = errors.New("account has not been activated yet", errors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(errors.CodeForbidden)

// ErrTooManyLoginAttempts is returned during the login cool down window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode("AUTH_TOO_MANY_ATTEMPTS").
	WithCode(errors.CodeUnauthorized)

// ErrInvalidActivationCode is returned for codes that do not exist or are
// presented to the wrong workflow.
var ErrInvalidActivationCode = errors.New("invalid activation code", errors.CategoryNotFound).
	WithTextCode(TextCodeInvalidCode).
	WithCode(errors.CodeNotFound)

// ErrActivationConsumed is returned when a code was already activated.
// Activation is terminal; there is no un-consume.
var ErrActivationConsumed = errors.New("that activation code has already been activated", errors.CategoryConflict).
	WithTextCode(TextCodeAlreadyActivated).
	WithCode(errors.CodeConflict)

// ErrActivationExpired is returned when a code is past its TTL.
var ErrActivationExpired = errors.New("that activation code is expired", errors.CategoryValidation).
	WithTextCode(TextCodeCodeExpired).
	WithCode(errors.CodeBadRequest)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = errors.New("value should not be an empty string", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = errors.New("unable to map claims", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for expired session tokens.
var ErrTokenExpired = errors.New("authentication token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for session tokens we cannot parse.
var ErrTokenMalformed = errors.New("authentication token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsUniqueViolation detects storage-level unique constraint conflicts so
// check-then-insert races surface as conflicts instead of silent duplicates.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

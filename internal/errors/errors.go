package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Error kinds for the session service. Every error returned across a package
// boundary wraps exactly one of these so callers can branch with errors.Is.
var (
	// Input errors
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("already registered")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrLockedOut          = errors.New("account is locked")

	// Token errors
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenInvalidClaims    = errors.New("token claims are invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenAlreadyRevoked   = errors.New("token already revoked")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrInternal    = errors.New("internal error")
)

// oops codes attached to wrapped errors.
const (
	CodeValidation     = "VALIDATION_FAILED"
	CodeDuplicate      = "DUPLICATE"
	CodeAuthentication = "AUTHENTICATION_FAILED"
	CodeToken          = "TOKEN_REJECTED"
	CodeNotFound       = "NOT_FOUND"
	CodePersistence    = "PERSISTENCE_FAILED"
	CodeInternal       = "INTERNAL"
)

var tokenKinds = []error{
	ErrTokenMalformed,
	ErrTokenSignatureInvalid,
	ErrTokenInvalidClaims,
	ErrTokenExpired,
	ErrTokenNotFound,
	ErrTokenAlreadyRevoked,
}

// FieldError is a single field level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the field messages of a rejected request.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Error() string {
	msgs := v.Messages()
	if len(msgs) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, "; ")
}

func (v *ValidationError) Unwrap() error {
	return ErrValidation
}

// Messages returns the field messages in the order they were added.
func (v *ValidationError) Messages() []string {
	msgs := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		msgs = append(msgs, f.Message)
	}
	return msgs
}

// LockedOutError reports a lockout together with the whole minutes left.
type LockedOutError struct {
	RemainingMinutes int
}

func (l *LockedOutError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minutes", l.RemainingMinutes)
}

func (l *LockedOutError) Unwrap() error {
	return ErrLockedOut
}

// DuplicateError names the unique attribute that is already taken.
type DuplicateError struct {
	Field   string
	Message string
}

func (d *DuplicateError) Error() string {
	return ErrDuplicate.Error() + ": " + d.Message
}

func (d *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// Validation builds a ValidationError from the given field messages.
func Validation(fields ...FieldError) error {
	return oops.Code(CodeValidation).Wrap(&ValidationError{Fields: fields})
}

// Duplicate reports that a unique attribute is already registered.
func Duplicate(field, message string) error {
	return oops.Code(CodeDuplicate).
		With("field", field).
		Wrap(&DuplicateError{Field: field, Message: message})
}

// Authentication wraps one of ErrInvalidCredentials, ErrAccountInactive or ErrLockedOut.
func Authentication(kind error) error {
	return oops.Code(CodeAuthentication).Wrap(kind)
}

// LockedOut builds a lockout rejection carrying the remaining minutes.
func LockedOut(remainingMinutes int) error {
	return oops.Code(CodeAuthentication).
		With("remaining_minutes", remainingMinutes).
		Wrap(&LockedOutError{RemainingMinutes: remainingMinutes})
}

// Token wraps a token kind, optionally with the underlying cause.
func Token(kind error, cause error) error {
	if cause == nil {
		return oops.Code(CodeToken).Wrap(kind)
	}
	return oops.Code(CodeToken).Wrap(fmt.Errorf("%w: %w", kind, cause))
}

// Persistence marks err as a store failure for the named operation.
func Persistence(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return oops.Code(CodePersistence).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrPersistence, err))
}

// Internal marks err as an unexpected failure.
func Internal(err error, operation string) error {
	if err == nil {
		return nil
	}
	return oops.Code(CodeInternal).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrInternal, err))
}

// IsTokenError reports whether err is any of the token kinds.
func IsTokenError(err error) bool {
	for _, kind := range tokenKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsAuthenticationError reports whether err is an authentication rejection.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrLockedOut)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single import.
func New(text string) error {
	return errors.New(text)
}

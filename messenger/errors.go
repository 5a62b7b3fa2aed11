package messenger

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Code string

const (
	CodeInvalidParticipants Code = "INVALID_PARTICIPANTS"
	CodeForbidden           Code = "FORBIDDEN"
	CodeForbiddenSender     Code = "FORBIDDEN_SENDER"
	CodeEmptyContent        Code = "EMPTY_CONTENT"
	CodeContentTooLong      Code = "CONTENT_TOO_LONG"
	CodeNotFound            Code = "NOT_FOUND"
	CodeTransientConflict   Code = "TRANSIENT_CONFLICT"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so wrapped variants still
// satisfy errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrap(sentinel *Error, cause error) error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Cause: cause}
}

var (
	ErrInvalidParticipants  = newError(CodeInvalidParticipants, "a conversation needs two distinct registered users")
	ErrForbidden            = newError(CodeForbidden, "not a participant of this conversation")
	ErrForbiddenSender      = newError(CodeForbiddenSender, "sender is not a participant of this conversation")
	ErrEmptyContent         = newError(CodeEmptyContent, "message content is empty")
	ErrContentTooLong       = newError(CodeContentTooLong, "message content is too long")
	ErrConversationNotFound = newError(CodeNotFound, "conversation not found")
	ErrTransientConflict    = newError(CodeTransientConflict, "conversation creation kept conflicting")
)

// CodeOf extracts the domain code of err, or "" for storage and other
// unclassified failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

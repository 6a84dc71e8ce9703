// Package apperr defines the error kinds returned by the document pipeline.
//
// Every error produced by the core carries one kind so callers can branch with
// errors.Is without parsing messages:
//
//	if errors.Is(err, apperr.ErrIndexNotFound) { ... }
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrUnreadableDocument = errors.New("unreadable document")
	ErrEncryptedDocument  = errors.New("encrypted document")
	ErrIndexNotFound      = errors.New("index not found")
	ErrIndexMismatch      = errors.New("index mismatch")
	ErrExternalService    = errors.New("external service error")
	ErrFormat             = errors.New("format error")
	ErrIO                 = errors.New("io error")
)

// Error attaches the failing operation and the session/file it concerned.
type Error struct {
	Kind      error
	Op        string
	SessionID string
	File      string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.SessionID != "" {
		b.WriteString(" [session=" + e.SessionID + "]")
	}
	if e.File != "" {
		b.WriteString(" [file=" + e.File + "]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	// an encrypted document is also an unreadable one
	if e.Kind == ErrEncryptedDocument {
		errs = append(errs, ErrUnreadableDocument)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func Validation(op, msg string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Err: errors.New(msg)}
}

func Unreadable(op, sessionID, file string, err error) *Error {
	return &Error{Kind: ErrUnreadableDocument, Op: op, SessionID: sessionID, File: file, Err: err}
}

func Encrypted(op, sessionID, file string) *Error {
	return &Error{Kind: ErrEncryptedDocument, Op: op, SessionID: sessionID, File: file}
}

func IndexNotFound(op, sessionID, path string) *Error {
	return &Error{Kind: ErrIndexNotFound, Op: op, SessionID: sessionID, File: path}
}

// IndexMismatch reports a persisted index whose recorded shape disagrees with
// its contents or with what the caller expects.
func IndexMismatch(op, sessionID, path string, err error) *Error {
	return &Error{Kind: ErrIndexMismatch, Op: op, SessionID: sessionID, File: path, Err: err}
}

func External(op string, err error) *Error {
	return &Error{Kind: ErrExternalService, Op: op, Err: err}
}

func Format(op string, err error) *Error {
	return &Error{Kind: ErrFormat, Op: op, Err: err}
}

func IO(op, sessionID, path string, err error) *Error {
	return &Error{Kind: ErrIO, Op: op, SessionID: sessionID, File: path, Err: err}
}

// WithSession returns a copy of err tagged with sessionID when err is an *Error
// that has none yet. Other errors are returned unchanged.
func WithSession(err error, sessionID string) error {
	var e *Error
	if !errors.As(err, &e) || e.SessionID != "" {
		return err
	}
	cp := *e
	cp.SessionID = sessionID
	return &cp
}

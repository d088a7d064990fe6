package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind separates failures worth retrying from failures that retrying cannot fix.
type ErrorKind string

const (
	KindTransient ErrorKind = "TRANSIENT"
	KindPermanent ErrorKind = "PERMANENT"
)

// StageError carries the retry classification of a failed external call.
type StageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewTransient marks err as retryable.
func NewTransient(op string, err error) error {
	return &StageError{Kind: KindTransient, Op: op, Err: err}
}

// NewPermanent marks err as not retryable.
func NewPermanent(op string, err error) error {
	return &StageError{Kind: KindPermanent, Op: op, Err: err}
}

// Permanentf builds a permanent error from a format string.
func Permanentf(op, format string, args ...any) error {
	return NewPermanent(op, fmt.Errorf(format, args...))
}

// Classify returns the kind of err. Postgres data exceptions are permanent
// since the same row will fail again; anything else unclassified is transient.
func Classify(err error) ErrorKind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	if IsDataException(err) {
		return KindPermanent
	}
	return KindTransient
}

// IsDataException reports a Postgres class 22 error: a value that does not
// fit its column, a bad encoding, an out of range number.
func IsDataException(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22")
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == KindPermanent
}

// ClassifyStatus maps an HTTP status code returned by an upstream service.
// 408, 429 and 5xx are transient; every other 4xx is permanent.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

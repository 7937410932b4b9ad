package storage

import (
	"errors"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrConstraint = errors.New("constraint violated")
	ErrClosed     = errors.New("store closed")
)

// Config configures the record store.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "postgres": Postgres reachable via DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only
	MaxOpenConns int           // postgres only
}

// InvalidQueryError reports a filter or patch that does not fit the schema.
// It is returned before the store is touched.
type InvalidQueryError struct {
	Table  string
	Column string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("invalid query on %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("invalid query on %s: %s", e.Table, e.Reason)
}

// StorageError reports a failed store operation. The collection is unchanged.
type StorageError struct {
	Op    string
	Table string
	Err   error
	Stack []byte
}

func newStorageError(op, table string, err error) *StorageError {
	return &StorageError{Op: op, Table: table, Err: err, Stack: goerrors.Wrap(err, 2).Stack()}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsInvalidQuery reports whether err is an *InvalidQueryError.
func IsInvalidQuery(err error) bool {
	var q *InvalidQueryError
	return errors.As(err, &q)
}

// IsStorageError reports whether err is a *StorageError.
func IsStorageError(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}

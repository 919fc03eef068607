// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFeedUnavailable = errors.New("feed unavailable")
	ErrDataNotFound    = errors.New("data not found")
	ErrDatabaseError   = errors.New("database error")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrReplayEmpty     = errors.New("no snapshots available for replay")
	ErrTimeout         = errors.New("operation timed out")
)

// ParseError reports a malformed price string. The offending quote is
// skipped by callers, never fatal.
type ParseError struct {
	Pair string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error [%s]: %q: %v", e.Pair, e.Raw, e.Err)
	}
	return fmt.Sprintf("parse error [%s]: %q", e.Pair, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(pair, raw string, err error) *ParseError {
	return &ParseError{Pair: pair, Raw: raw, Err: err}
}

// FeedError represents a failed poll of the observation source. A failed
// poll skips the cycle; it does not mark the feed stalled.
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error [%s]: %v", e.Op, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a new FeedError.
func NewFeedError(op string, err error) *FeedError {
	return &FeedError{Op: op, Err: err}
}

// PersistenceError represents a failed durability operation. Mutations are
// never partially applied when it is returned.
type PersistenceError struct {
	Op     string
	Entity string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Op, e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, entity string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Entity: entity, Err: err}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

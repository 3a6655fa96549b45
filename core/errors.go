package core

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports bad input shape or range.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewFieldError is a shortcut for a ValidationError on a single field.
func NewFieldError(field, msg string) error {
	return &ValidationError{errors.New(msg), []FieldError{{Field: field, Error: msg}}}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return "validation failed"
	}
	return err.Err.Error()
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	message string
}

func NewNotFoundError(msg string) *NotFoundError {
	return &NotFoundError{message: msg}
}

func (err NotFoundError) Error() string { return err.message }

// ConflictError reports a uniqueness violation (e.g. duplicate fund code).
type ConflictError struct {
	message string
}

func NewConflictError(msg string) *ConflictError {
	return &ConflictError{message: msg}
}

func (err ConflictError) Error() string { return err.message }

// InvalidStateError reports an operation that is illegal for the current status.
type InvalidStateError struct {
	message string
}

func NewInvalidStateError(format string, args ...interface{}) error {
	return &InvalidStateError{message: fmt.Sprintf(format, args...)}
}

func (err InvalidStateError) Error() string { return err.message }

// PreconditionFailedError reports an entity that must be settled before the operation.
type PreconditionFailedError struct {
	message string
}

func NewPreconditionFailedError(format string, args ...interface{}) error {
	return &PreconditionFailedError{message: fmt.Sprintf(format, args...)}
}

func (err PreconditionFailedError) Error() string { return err.message }

// InsufficientFundsError reports a debit that would overdraw a fund without authorization.
type InsufficientFundsError struct {
	FundID  string
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (err InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, debit %s", err.Balance.String(), err.Amount.Abs().String())
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsInvalidState is also true for a PreconditionFailedError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	if errors.As(err, &target) {
		return true
	}
	return IsPreconditionFailed(err)
}

func IsPreconditionFailed(err error) bool {
	var target *PreconditionFailedError
	return errors.As(err, &target)
}

func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

package common

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("invalid order")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrNoLiquidity    = errors.New("no liquidity")
	ErrConfiguration  = errors.New("invalid configuration")
)

// ValidationError describes the first rule a malformed order broke.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type DuplicateOrderError struct {
	OrderID string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateOrder, e.OrderID)
}

func (e *DuplicateOrderError) Is(target error) bool {
	return target == ErrDuplicateOrder
}

// ConfigurationError is returned for missing or out of range run
// parameters such as a non-positive starting cash.
type ConfigurationError struct {
	Param  string
	Reason string
}

func NewConfigurationError(param, reason string) *ConfigurationError {
	return &ConfigurationError{Param: param, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Param, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

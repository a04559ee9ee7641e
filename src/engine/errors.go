package engine

import "errors"

var (
	ErrBundleNotFound = errors.New("bundle not found")
	ErrBundleExists   = errors.New("bundle already exists")

	// ErrCast is returned when a filter value cannot be cast to the declared field type.
	ErrCast = errors.New("cast failed")

	ErrUnknownOperator = errors.New("unknown query operator")

	ErrConstraintViolation = errors.New("constraint violation")
)

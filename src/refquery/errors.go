package refquery

import "errors"

// ErrCollectionNotRegistered is returned when a reference field points at a bundle the registry does not know.
var ErrCollectionNotRegistered = errors.New("referenced collection is not registered")

// ErrMaxDepthExceeded stops subquery recursion on circular references.
var ErrMaxDepthExceeded = errors.New("maximum reference resolution depth exceeded")

// ErrInvalidSubFilter is returned when a reference key holds a value that is neither an identifier nor a filter.
var ErrInvalidSubFilter = errors.New("value cannot be used as a sub-filter")

// ErrUnknownMiddleware rejects a middleware name that is not a hookable operation.
var ErrUnknownMiddleware = errors.New("unknown middleware")

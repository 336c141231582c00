package doccache

import "errors"

// ErrInvalidConfig is returned at construction time for invalid parameters
// such as a non-positive capacity or an empty namespace. It is never
// recovered internally.
var ErrInvalidConfig = errors.New("doccache: invalid configuration")

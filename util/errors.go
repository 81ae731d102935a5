// Package util provides utility functions for the chunkfs filesystem.
package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Codec errors
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrIncompressible = errors.New("data is incompressible")
	ErrSizeMismatch   = errors.New("decoded size does not match expected size")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Metadata errors
	ErrExpectedFile = errors.New("expected file, got directory")
)

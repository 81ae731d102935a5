package chunkfs

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors for package chunkfs.
// These errors can be checked with errors.Is() for specific error handling.
var (
	ErrNotFound      = errors.New("logical file not found")
	ErrAlreadyExists = errors.New("logical file already exists")
	ErrNotWritable   = errors.New("handle not opened for writing")
	ErrIOFailure     = errors.New("chunk I/O failure")
	ErrInvalidState  = errors.New("handle is closed")
	ErrStorageLocked = errors.New("backing directory is in use by another process")
	ErrIsDirectory   = errors.New("is a directory")

	// ErrChunkBusy is returned by Compress for a chunk held open by a
	// writer. The writer re-enqueues the chunk when it lets go.
	ErrChunkBusy = errors.New("chunk is open for writing")
)

// ioFailure wraps a disk error so that both ErrIOFailure and the original
// error (and its errno) stay reachable through errors.Is.
func ioFailure(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w: %w", op, path, ErrIOFailure, err)
}

// IsDiskFull reports whether err was caused by the backing device running
// out of space, as opposed to a permission or other I/O failure.
func IsDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

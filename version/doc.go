// Package version reports the chunkfs version and build metadata.
//
// Values come from -ldflags when the release build sets them:
//
//	-ldflags "-X github.com/dendrascience/chunkfs/version.Version=v1.0.0 -X github.com/dendrascience/chunkfs/version.Commit=abc123 -X github.com/dendrascience/chunkfs/version.Date=2026-01-01T00:00:00Z"
//
// and otherwise from the VCS settings the Go toolchain embeds in the binary.
package version

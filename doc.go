// Package main provides the chunkfs command-line interface.
//
// chunkfs is a FUSE filesystem that stores each file as a series of 1 MiB
// chunk files in a backing directory and compresses chunks that have gone
// idle. Incremental backups of the backing directory then only pick up
// the chunks a change actually touched.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a backing directory at a mountpoint
//   - compact: Compress idle chunks offline
//   - validate: Check a backing directory for layout problems
//   - stat: Summarize a backing directory
//   - seed: Generate test files
package main

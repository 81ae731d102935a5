// Package util holds the pieces of chunkfs that do not depend on the chunk
// layout itself.
//
// Codecs:
//   - zstd and lz4 compressors behind the Codec interface
//   - compressed images carry a one byte codec tag so chunks written with
//     different codecs can be read back by the same mount
//
// Configuration and logging:
//   - YAML Config with defaults and validation
//   - NewLogger builds the logrus logger shared by the mount and the compactor
//
// Metadata:
//   - the JSON document stored in every meta marker
//
// Inodes:
//   - stable inode numbers for logical paths across lookups and renames
package util

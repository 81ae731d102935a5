// Package chunkfs implements a FUSE filesystem that stores every logical
// file as a sequence of fixed size chunk files in a backing directory.
//
// A logical file "report.bin" is kept on disk as:
//   - report.bin.chunk$$$$: the meta marker; its presence means the file exists
//   - report.bin.chunk0000, report.bin.chunk0001, ...: 1 MiB chunks, the last one possibly shorter
//   - report.bin.chunk0001.blz: a compressed chunk that replaced its plain file
//
// Full chunks that have not been written for a while are compressed in the
// background by a Compressor and decompressed transparently on access.
// Because only changed chunks are rewritten, backup tools that work on the
// backing directory transfer little more than what actually changed.
//
// The main entry points are OpenStorage, which locks a backing directory,
// and NewFS, which exposes a Storage through bazil.org/fuse.
package chunkfs

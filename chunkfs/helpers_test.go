package chunkfs

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestCompressor returns a running compressor whose idle threshold is
// long enough that the worker never compresses anything on its own.
func newTestCompressor(t *testing.T, mutate ...func(*CompressorOptions)) *Compressor {
	t.Helper()
	opts := DefaultCompressorOptions()
	opts.IdleThreshold = time.Hour
	opts.PollInterval = 10 * time.Millisecond
	opts.Logger = quietLogger()
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewCompressor(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// newManualCompressor returns a compressor with its worker already
// stopped, so tests can drive processNext themselves.
func newManualCompressor(t *testing.T, mutate ...func(*CompressorOptions)) *Compressor {
	t.Helper()
	c := newTestCompressor(t, mutate...)
	require.NoError(t, c.Close())
	return c
}

// compressible returns n bytes that every codec shrinks a lot.
func compressible(n int) []byte {
	pattern := []byte("chunkfs test data 0123456789abcdef\n")
	return bytes.Repeat(pattern, n/len(pattern)+1)[:n]
}

func random(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// writeChunkFile writes a raw backing chunk, bypassing ChunkedFile.
func writeChunkFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, chunkFileMode))
}

func makeOld(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

// createFile creates a logical file at prefix holding data.
func createFile(t *testing.T, c *Compressor, prefix string, data []byte) {
	t.Helper()
	f, err := OpenFile(c, prefix, ModeCreate, true)
	require.NoError(t, err)
	n, err := f.Write(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
}

// readAll reads the whole logical file at prefix.
func readAll(t *testing.T, c *Compressor, prefix string) []byte {
	t.Helper()
	f, err := OpenFile(c, prefix, ModeOpen, false)
	require.NoError(t, err)
	defer f.Close()
	length, err := f.Length()
	require.NoError(t, err)
	buf := make([]byte, length)
	n, err := f.Read(buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

// requireOneFormPerChunk checks that every chunk below length exists in
// exactly one form and that no chunk lies beyond the last one.
func requireOneFormPerChunk(t *testing.T, prefix string, length int64) {
	t.Helper()
	states, err := chunkStates(prefix)
	require.NoError(t, err)
	maxIdx := max((length-1)/ChunkSize, 0)
	for idx := int64(0); idx*ChunkSize < length; idx++ {
		st := states[idx]
		require.True(t, st.plain != st.compressed, "chunk %d: plain=%v compressed=%v", idx, st.plain, st.compressed)
	}
	for idx := range states {
		require.LessOrEqual(t, idx, maxIdx, "chunk %d beyond the end", idx)
	}
}

// patterned returns compressible bytes with a position marker every few
// KiB, so misplaced chunk data shows up in comparisons.
func patterned(n int) []byte {
	b := compressible(n)
	for i := 0; i < n; i += 4093 {
		b[i] = byte(i / 4093)
	}
	return b
}

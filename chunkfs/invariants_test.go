package chunkfs

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressAll(t *testing.T, c *Compressor, prefix string, length int64) {
	t.Helper()
	for idx := int64(0); idx*ChunkSize < length; idx++ {
		require.NoError(t, c.Compress(ChunkPath(prefix, idx)))
	}
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 5*ChunkSize + 137}
	for _, n := range sizes {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			c := newTestCompressor(t)
			prefix := filepath.Join(t.TempDir(), "roundtrip")
			data := patterned(n)
			createFile(t, c, prefix, data)
			assert.True(t, bytes.Equal(data, readAll(t, c, prefix)), "plain chunks")

			compressAll(t, c, prefix, int64(n))
			requireOneFormPerChunk(t, prefix, int64(n))
			assert.True(t, bytes.Equal(data, readAll(t, c, prefix)), "after compaction")
		})
	}
}

func TestSetLength_LengthInvariant(t *testing.T) {
	const initial = 2*ChunkSize + 100
	lengths := []int64{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, initial, 3 * ChunkSize, 4*ChunkSize + 7}
	for _, l := range lengths {
		t.Run(fmt.Sprintf("L=%d", l), func(t *testing.T) {
			c := newTestCompressor(t)
			prefix := filepath.Join(t.TempDir(), "sized")
			data := patterned(initial)
			createFile(t, c, prefix, data)
			compressAll(t, c, prefix, initial)

			f, err := OpenFile(c, prefix, ModeOpen, true)
			require.NoError(t, err)
			require.NoError(t, f.SetLength(l))
			require.NoError(t, f.Close())

			g, err := OpenFile(c, prefix, ModeOpen, false)
			require.NoError(t, err)
			info, err := g.Info()
			require.NoError(t, err)
			require.NoError(t, g.Close())
			assert.Equal(t, l, info.Length)
			requireOneFormPerChunk(t, prefix, l)

			want := make([]byte, l)
			copy(want, data)
			assert.True(t, bytes.Equal(want, readAll(t, c, prefix)))
		})
	}
}

func TestCompaction_OneFormPerChunk(t *testing.T) {
	c := newTestCompressor(t, func(o *CompressorOptions) {
		o.IdleThreshold = 0
		o.PollInterval = time.Millisecond
	})
	prefix := filepath.Join(t.TempDir(), "mixed")
	data := patterned(4*ChunkSize + 10)
	copy(data[2*ChunkSize:3*ChunkSize], random(t, ChunkSize))
	createFile(t, c, prefix, data)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))

	requireOneFormPerChunk(t, prefix, int64(len(data)))
	states, err := chunkStates(prefix)
	require.NoError(t, err)
	for _, idx := range []int64{0, 1, 3} {
		assert.True(t, states[idx].compressed, "chunk %d compressed", idx)
	}
	assert.True(t, states[2].plain, "random chunk stays plain")
	assert.True(t, states[4].plain, "short chunk stays plain")
	assert.True(t, bytes.Equal(data, readAll(t, c, prefix)))
}

func TestCompaction_TwoMebibyteScenario(t *testing.T) {
	c := newManualCompressor(t)
	prefix := filepath.Join(t.TempDir(), "zzz")
	data := bytes.Repeat([]byte{0x7A}, 2*ChunkSize)
	createFile(t, c, prefix, data)

	assert.Equal(t, int64(ChunkSize), fileSize(t, ChunkPath(prefix, 0)))
	assert.Equal(t, int64(ChunkSize), fileSize(t, ChunkPath(prefix, 1)))
	refs, err := listChunkFiles(prefix)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	f, err := OpenFile(c, prefix, ModeOpen, true)
	require.NoError(t, err)
	length, err := f.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(2097152), length)

	tail := random(t, 10)
	_, err = f.Write(tail, length)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for idx := int64(0); idx < 3; idx++ {
		makeOld(t, ChunkPath(prefix, idx))
	}
	for c.processNext() {
	}

	assert.False(t, exists(ChunkPath(prefix, 0)))
	assert.True(t, exists(CompressedPath(ChunkPath(prefix, 0))))
	assert.True(t, exists(CompressedPath(ChunkPath(prefix, 1))))
	assert.True(t, exists(ChunkPath(prefix, 2)), "partial chunk is never compressed")
	assert.False(t, exists(CompressedPath(ChunkPath(prefix, 2))))
	assert.Equal(t, 0, c.Len())

	assert.True(t, bytes.Equal(append(data, tail...), readAll(t, c, prefix)))
}

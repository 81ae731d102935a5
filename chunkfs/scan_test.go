package chunkfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBackingName(t *testing.T) {
	tests := []struct {
		name       string
		logical    string
		index      int64
		compressed bool
		meta       bool
		ok         bool
	}{
		{name: "a.txt.chunk$$$$", logical: "a.txt", meta: true, ok: true},
		{name: "a.txt.chunk0000", logical: "a.txt", ok: true},
		{name: "a.txt.chunk0012.blz", logical: "a.txt", index: 12, compressed: true, ok: true},
		{name: "x.chunk0001.chunk0003", logical: "x.chunk0001", index: 3, ok: true},
		{name: "big.chunk12345", logical: "big", index: 12345, ok: true},
		{name: "a.txt.chunk12", ok: false},
		{name: "a.txt.chunkabcd", ok: false},
		{name: ".chunk0000", ok: false},
		{name: ".chunk$$$$", ok: false},
		{name: ".chunkfs.lock", ok: false},
		{name: "readme", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logical, index, compressed, meta, ok := splitBackingName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.logical, logical)
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.compressed, compressed)
			assert.Equal(t, tt.meta, meta)
		})
	}
}

func touch(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, MetaPath("good"), 0)
	touch(t, dir, ChunkPath("good", 0), ChunkSize)
	touch(t, dir, CompressedPath(ChunkPath("good", 1)), 100)
	touch(t, dir, ChunkPath("good", 2), 7)
	touch(t, dir, MetaPath("empty"), 0)
	touch(t, dir, "unrelated.txt", 3)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zdir"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0o755))

	families, subdirs, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"adir", "zdir"}, subdirs)
	require.Len(t, families, 2)

	empty, good := families[0], families[1]
	assert.Equal(t, "empty", empty.Name)
	assert.True(t, empty.HasMeta)
	assert.Empty(t, empty.Chunks)
	assert.Zero(t, empty.LogicalSize())
	assert.Empty(t, empty.Problems())

	assert.Equal(t, "good", good.Name)
	assert.Equal(t, filepath.Join(dir, "good"), good.Prefix())
	assert.Equal(t, []int64{0, 1, 2}, good.Indices())
	assert.Equal(t, int64(2*ChunkSize+7), good.LogicalSize())
	assert.Equal(t, int64(ChunkSize+100+7), good.PhysicalSize())
	assert.Empty(t, good.Problems())
}

func TestFamily_Problems(t *testing.T) {
	tests := []struct {
		name   string
		family Family
		want   []Problem
	}{
		{
			name: "orphan",
			family: Family{Chunks: map[int64]ChunkInfo{
				0: {Plain: true, Size: 4},
			}},
			want: []Problem{{Kind: ProblemOrphan, Index: -1}},
		},
		{
			name: "both forms",
			family: Family{HasMeta: true, Chunks: map[int64]ChunkInfo{
				0: {Plain: true, Size: ChunkSize, Compressed: true, CompressedSize: 10},
			}},
			want: []Problem{{Kind: ProblemBothForms, Index: 0}},
		},
		{
			name: "gap",
			family: Family{HasMeta: true, Chunks: map[int64]ChunkInfo{
				0: {Plain: true, Size: ChunkSize},
				2: {Plain: true, Size: 1},
			}},
			want: []Problem{{Kind: ProblemGap, Index: 1}},
		},
		{
			name: "short chunk",
			family: Family{HasMeta: true, Chunks: map[int64]ChunkInfo{
				0: {Plain: true, Size: 10},
				1: {Compressed: true},
			}},
			want: []Problem{{Kind: ProblemShortChunk, Index: 0}},
		},
		{
			name: "oversized",
			family: Family{HasMeta: true, Chunks: map[int64]ChunkInfo{
				0: {Plain: true, Size: ChunkSize + 1},
			}},
			want: []Problem{{Kind: ProblemOversized, Index: 0}},
		},
		{
			name: "short last chunk is fine",
			family: Family{HasMeta: true, Chunks: map[int64]ChunkInfo{
				0: {Compressed: true},
				1: {Plain: true, Size: 1},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.family.Problems())
		})
	}
}

func TestProblem_String(t *testing.T) {
	assert.Equal(t, "orphan", Problem{Kind: ProblemOrphan, Index: -1}.String())
	assert.Equal(t, "gap at chunk 0003", Problem{Kind: ProblemGap, Index: 3}.String())
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	touch(t, root, MetaPath("top"), 0)
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	touch(t, sub, MetaPath("inner"), 0)
	touch(t, sub, ChunkPath("inner", 0), 5)

	var seen []string
	require.NoError(t, Walk(root, func(f Family) error {
		rel, err := filepath.Rel(root, f.Prefix())
		require.NoError(t, err)
		seen = append(seen, rel)
		return nil
	}))
	assert.ElementsMatch(t, []string{"top", filepath.Join("sub", "inner")}, seen)
}

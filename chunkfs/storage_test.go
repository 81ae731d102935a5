package chunkfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := OpenStorage(t.TempDir(), newTestCompressor(t), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storeFile(t *testing.T, s *Storage, name string, data []byte) {
	t.Helper()
	f, err := s.Open(name, ModeCreate, true)
	require.NoError(t, err)
	_, err = f.Write(data, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestOpenStorage_Lock(t *testing.T) {
	root := t.TempDir()
	c := newTestCompressor(t)

	s, err := OpenStorage(root, c, quietLogger())
	require.NoError(t, err)

	_, err = OpenStorage(root, c, quietLogger())
	assert.ErrorIs(t, err, ErrStorageLocked)

	require.NoError(t, s.Close())
	s2, err := OpenStorage(root, c, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestOpenStorage_Errors(t *testing.T) {
	c := newTestCompressor(t)

	_, err := OpenStorage(filepath.Join(t.TempDir(), "missing"), c, nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = OpenStorage(file, c, nil)
	assert.Error(t, err)

	_, err = OpenStorage(t.TempDir(), nil, nil)
	assert.Error(t, err)
}

func TestStorage_BackingPath(t *testing.T) {
	s := newTestStorage(t)
	root := s.Root()

	tests := []struct {
		name string
		want string
	}{
		{"", root},
		{"/", root},
		{"a.txt", filepath.Join(root, "a.txt")},
		{"/dir/a.txt", filepath.Join(root, "dir", "a.txt")},
		{"dir//./b", filepath.Join(root, "dir", "b")},
		{"../../etc/passwd", filepath.Join(root, "etc", "passwd")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.BackingPath(tt.name), tt.name)
	}
}

func TestStorage_ReadDir(t *testing.T) {
	s := newTestStorage(t)
	storeFile(t, s, "b.txt", []byte("b"))
	storeFile(t, s, "a.txt", []byte("a"))
	require.NoError(t, s.Mkdir("sub"))
	storeFile(t, s, "sub/inner", []byte("inner"))
	// Chunks with no marker and foreign files stay hidden.
	writeChunkFile(t, ChunkPath(s.BackingPath("ghost"), 0), []byte("boo"))
	require.NoError(t, os.WriteFile(s.BackingPath("notes"), nil, 0o644))

	entries, err := s.ReadDir("")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{
		{Name: "sub", IsDir: true},
		{Name: "a.txt"},
		{Name: "b.txt"},
	}, entries)

	entries, err = s.ReadDir("sub")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{{Name: "inner"}}, entries)

	_, err = s.ReadDir("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_Stat(t *testing.T) {
	s := newTestStorage(t)
	storeFile(t, s, "f", []byte("12345"))
	require.NoError(t, s.Mkdir("d"))

	info, err := s.Stat("f")
	require.NoError(t, err)
	assert.Equal(t, "f", info.Name)
	assert.Equal(t, int64(5), info.Length)
	assert.False(t, info.IsDir)

	info, err = s.Stat("d")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.True(t, info.Mode.IsDir())

	_, err = s.Stat("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_OpenDirectory(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Mkdir("d"))
	_, err := s.Open("d", ModeOpenOrCreate, true)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestStorage_Remove(t *testing.T) {
	s := newTestStorage(t)
	storeFile(t, s, "f", compressible(ChunkSize+1))
	require.NoError(t, s.Compressor().Compress(ChunkPath(s.BackingPath("f"), 0)))

	require.NoError(t, s.Remove("f"))
	assert.False(t, s.Exists("f"))
	assert.ErrorIs(t, s.Remove("f"), ErrNotFound)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LockFileName, entries[0].Name())
}

func TestStorage_Rename(t *testing.T) {
	s := newTestStorage(t)
	storeFile(t, s, "a", []byte("first"))
	storeFile(t, s, "b", []byte("second"))

	assert.ErrorIs(t, s.Rename("a", "b", false), ErrAlreadyExists)
	require.NoError(t, s.Rename("a", "b", true))
	assert.False(t, s.Exists("a"))

	f, err := s.Open("b", ModeOpen, false)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 16)
	n, err := f.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	assert.ErrorIs(t, s.Rename("missing", "c", false), ErrNotFound)
	assert.NoError(t, s.Rename("b", "/b", false), "same path is a no-op")
}

func TestStorage_RenameDirectory(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Mkdir("src"))
	storeFile(t, s, "src/f", []byte("x"))
	require.NoError(t, s.Mkdir("taken"))

	assert.ErrorIs(t, s.Rename("src", "taken", false), ErrAlreadyExists)
	require.NoError(t, s.Rename("src", "dst", false))
	assert.False(t, s.Exists("src"))
	assert.True(t, s.Exists("dst/f"))

	storeFile(t, s, "file", []byte("y"))
	assert.ErrorIs(t, s.Rename("dst", "file", true), ErrAlreadyExists)
}

func TestStorage_Dirs(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Mkdir("d"))
	assert.ErrorIs(t, s.Mkdir("d"), ErrAlreadyExists)
	storeFile(t, s, "f", nil)
	assert.ErrorIs(t, s.Mkdir("f"), ErrAlreadyExists)

	storeFile(t, s, "d/child", []byte("c"))
	assert.Error(t, s.Rmdir("d"), "directory is not empty")
	require.NoError(t, s.Remove("d/child"))
	require.NoError(t, s.Rmdir("d"))
	assert.False(t, s.Exists("d"))

	assert.ErrorIs(t, s.Rmdir("d"), ErrNotFound)
	assert.Error(t, s.Rmdir(""))
}

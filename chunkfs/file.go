package chunkfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dendrascience/chunkfs/util"
)

// OpenMode says what OpenFile does when the logical file does or does not
// exist.
type OpenMode int

const (
	// ModeOpen requires the file to exist.
	ModeOpen OpenMode = iota
	// ModeCreateNew requires the file not to exist and creates it.
	ModeCreateNew
	// ModeCreate creates the file, truncating it if it exists.
	ModeCreate
	// ModeOpenOrCreate opens the file, creating it if needed.
	ModeOpenOrCreate
	// ModeTruncate requires the file to exist and truncates it.
	ModeTruncate
	// ModeAppend opens the file, creating it if needed.
	ModeAppend
)

func (m OpenMode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeCreateNew:
		return "create-new"
	case ModeCreate:
		return "create"
	case ModeOpenOrCreate:
		return "open-or-create"
	case ModeTruncate:
		return "truncate"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

func (m OpenMode) truncates() bool { return m == ModeCreate || m == ModeTruncate }

func (m OpenMode) creates() bool {
	return m == ModeCreateNew || m == ModeCreate || m == ModeOpenOrCreate || m == ModeAppend
}

// FileInfo describes a logical file or a directory.
type FileInfo struct {
	Name     string
	Mode     os.FileMode
	IsDir    bool
	Length   int64
	Created  time.Time
	Accessed time.Time
	Modified time.Time
}

// chunkReader is the read slot: an open plain chunk or a decompressed
// chunk held in memory.
type chunkReader interface {
	io.ReaderAt
	io.Closer
}

type memChunk struct {
	*bytes.Reader
	data []byte
}

func (m *memChunk) Close() error { return nil }

type readSlot struct {
	index int64
	r     chunkReader
}

type writeSlot struct {
	index int64
	path  string
	file  *os.File
}

// ChunkedFile is an open handle on one logical file. It keeps at most one
// chunk open for reading and one for writing. A ChunkedFile is not safe
// for concurrent use; callers serialize access per handle.
type ChunkedFile struct {
	prefix   string
	c        *Compressor
	writable bool
	closed   bool
	deleted  bool

	read  readSlot
	write writeSlot

	length      int64
	lengthKnown bool
	wrote       bool

	// Deferred metadata, written to the meta marker on Close.
	mode     *os.FileMode
	created  *time.Time
	accessed *time.Time
	modified *time.Time
}

// OpenFile opens the logical file whose backing files share prefix.
func OpenFile(c *Compressor, prefix string, mode OpenMode, write bool) (*ChunkedFile, error) {
	meta := MetaPath(prefix)
	exists, err := fileExists(meta)
	if err != nil {
		return nil, ioFailure("stat meta marker", meta, err)
	}
	switch {
	case !exists && !mode.creates():
		return nil, ErrNotFound
	case exists && mode == ModeCreateNew:
		return nil, ErrAlreadyExists
	}

	f := &ChunkedFile{
		prefix:   prefix,
		c:        c,
		writable: write,
		read:     readSlot{index: -1},
		write:    writeSlot{index: -1},
	}

	if write && exists && !mode.truncates() {
		f.prefix = canonicalPrefix(prefix)
	}
	// Chunks left behind without a marker belong to no file.
	if mode.truncates() || !exists {
		if err := f.deleteChunks(); err != nil {
			return nil, err
		}
		f.length, f.lengthKnown = 0, true
	}
	if !exists {
		if err := util.NewMetadata(filepath.Base(prefix), time.Now()).Save(meta); err != nil {
			return nil, ioFailure("create meta marker", meta, err)
		}
		f.length, f.lengthKnown = 0, true
	}
	return f, nil
}

// canonicalPrefix returns prefix with its base name spelled the way the
// meta marker is spelled on disk. On case-insensitive backing stores the
// caller's spelling may differ.
func canonicalPrefix(prefix string) string {
	dir, base := filepath.Split(prefix)
	listDir := dir
	if listDir == "" {
		listDir = "."
	}
	entries, err := os.ReadDir(listDir)
	if err != nil {
		return prefix
	}
	want := base + MetaFileExtension
	for _, e := range entries {
		if e.Name() == want {
			return prefix
		}
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), want) {
			return dir + strings.TrimSuffix(e.Name(), MetaFileExtension)
		}
	}
	return prefix
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Prefix returns the backing path prefix of the file.
func (f *ChunkedFile) Prefix() string { return f.prefix }

// Name returns the logical file name.
func (f *ChunkedFile) Name() string { return filepath.Base(f.prefix) }

// Writable reports whether the handle was opened with write intent.
func (f *ChunkedFile) Writable() bool { return f.writable }

func (f *ChunkedFile) usable() error {
	if f.closed {
		return ErrInvalidState
	}
	return nil
}

// Exists reports whether the meta marker is present.
func (f *ChunkedFile) Exists() bool {
	ok, _ := fileExists(MetaPath(f.prefix))
	return ok
}

// Length returns the logical length: the sum of plain chunk sizes, with
// each compressed-only chunk counting as ChunkSize. The value is computed
// once per handle and then maintained by the handle's own writes.
func (f *ChunkedFile) Length() (int64, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	if f.lengthKnown {
		return f.length, nil
	}
	states, err := chunkStates(f.prefix)
	if err != nil {
		return 0, ioFailure("list chunks", f.prefix, err)
	}
	var n int64
	for _, st := range states {
		n += st.logicalSize()
	}
	f.length, f.lengthKnown = n, true
	return n, nil
}

// resolve turns a negative position into an offset from the end.
func (f *ChunkedFile) resolve(pos int64) (int64, error) {
	if pos >= 0 {
		return pos, nil
	}
	length, err := f.Length()
	if err != nil {
		return 0, err
	}
	return max(length+pos, 0), nil
}

// Read fills p from logical position pos and returns the number of bytes
// read. It stops early at the end of the file; reading at or past the end
// returns 0 and a nil error.
func (f *ChunkedFile) Read(p []byte, pos int64) (int, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	pos, err := f.resolve(pos)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		idx, off := ChunkIndexOf(pos), ChunkOffsetOf(pos)
		r, err := f.ensureRead(idx)
		if err != nil {
			return n, err
		}
		want := int(min(int64(len(p)-n), ChunkSize-off))
		m, err := r.ReadAt(p[n:n+want], off)
		n += m
		pos += int64(m)
		if err != nil && err != io.EOF {
			return n, ioFailure("read chunk", ChunkPath(f.prefix, idx), err)
		}
		if m < want {
			break
		}
	}
	return n, nil
}

func (f *ChunkedFile) ensureRead(idx int64) (chunkReader, error) {
	if f.read.r != nil && f.read.index == idx {
		return f.read.r, nil
	}
	if err := f.closeReadSlot(); err != nil {
		return nil, err
	}

	path := ChunkPath(f.prefix, idx)
	unlock := f.c.locks.lock(path)
	defer unlock()

	file, err := os.Open(path)
	if err == nil {
		f.read = readSlot{index: idx, r: file}
		return file, nil
	}
	if !os.IsNotExist(err) {
		return nil, ioFailure("open chunk", path, err)
	}
	data, err := f.c.decompressed(path)
	if err != nil {
		return nil, err
	}
	mc := &memChunk{Reader: bytes.NewReader(data), data: data}
	f.read = readSlot{index: idx, r: mc}
	return mc, nil
}

// Write writes p at logical position pos. Writing beyond the current
// length first extends the file with zeros.
func (f *ChunkedFile) Write(p []byte, pos int64) (int, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	if !f.writable {
		return 0, ErrNotWritable
	}
	if f.deleted {
		return 0, ErrNotFound
	}
	if len(p) == 0 {
		return 0, nil
	}
	length, err := f.Length()
	if err != nil {
		return 0, err
	}
	if pos < 0 {
		pos = max(length+pos, 0)
	}
	if pos > length {
		if err := f.resize(pos); err != nil {
			return 0, err
		}
	}

	f.wrote = true
	n := 0
	for n < len(p) {
		idx, off := ChunkIndexOf(pos), ChunkOffsetOf(pos)
		w, err := f.ensureWrite(idx)
		if err != nil {
			return n, err
		}
		want := int(min(int64(len(p)-n), ChunkSize-off))
		m, err := w.WriteAt(p[n:n+want], off)
		n += m
		pos += int64(m)
		if pos > f.length {
			f.length = pos
		}
		if err != nil {
			return n, ioFailure("write chunk", f.write.path, err)
		}
	}
	return n, nil
}

func (f *ChunkedFile) ensureWrite(idx int64) (*os.File, error) {
	if f.write.file != nil && f.write.index == idx {
		return f.write.file, nil
	}
	if err := f.closeWriteSlot(true); err != nil {
		return nil, err
	}

	path := ChunkPath(f.prefix, idx)
	unlock := f.c.locks.lock(path)
	defer unlock()

	if err := f.materialize(idx, path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, chunkFileMode)
	if err != nil {
		return nil, ioFailure("open chunk", path, err)
	}
	f.c.pin(path)
	f.write = writeSlot{index: idx, path: path, file: file}

	// An in-memory copy of this chunk no longer reflects what is on disk.
	if _, ok := f.read.r.(*memChunk); ok && f.read.index == idx {
		f.closeReadSlot()
	}
	return file, nil
}

// materialize turns a compressed-only chunk back into a plain file. The
// caller holds the chunk lock.
func (f *ChunkedFile) materialize(idx int64, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return ioFailure("stat chunk", path, err)
	}
	compressed := CompressedPath(path)
	if _, err := os.Stat(compressed); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioFailure("stat compressed chunk", compressed, err)
	}

	var data []byte
	if mc, ok := f.read.r.(*memChunk); ok && f.read.index == idx && len(mc.data) == ChunkSize {
		data = mc.data
	} else {
		var err error
		if data, err = f.c.decompressed(path); err != nil {
			return err
		}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return ioFailure("materialize chunk", path, err)
	}
	return f.c.DeleteCompressedFile(path)
}

func (f *ChunkedFile) closeReadSlot() error {
	r := f.read.r
	f.read = readSlot{index: -1}
	if r == nil {
		return nil
	}
	return r.Close()
}

// closeWriteSlot closes the open write chunk. With enqueue set the chunk
// is handed to the compactor, starting its idle timer.
func (f *ChunkedFile) closeWriteSlot(enqueue bool) error {
	w := f.write
	f.write = writeSlot{index: -1}
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	f.c.release(w.path, enqueue && err == nil)
	return ioFailure("close chunk", w.path, err)
}

// SetLength truncates or extends the file to length bytes. Extension is
// zero filled.
func (f *ChunkedFile) SetLength(length int64) error {
	if err := f.usable(); err != nil {
		return err
	}
	if !f.writable {
		return ErrNotWritable
	}
	if f.deleted {
		return ErrNotFound
	}
	if length < 0 {
		return fmt.Errorf("set length %s: negative length %d", f.prefix, length)
	}
	f.wrote = true
	return f.resize(length)
}

func (f *ChunkedFile) resize(length int64) error {
	maxIdx := max((length-1)/ChunkSize, 0)
	last := length - maxIdx*ChunkSize

	if f.write.file != nil && f.write.index > maxIdx {
		if err := f.closeWriteSlot(false); err != nil {
			return err
		}
	}
	if err := f.closeReadSlot(); err != nil {
		return err
	}

	states, err := chunkStates(f.prefix)
	if err != nil {
		return ioFailure("list chunks", f.prefix, err)
	}
	for idx := range states {
		if idx <= maxIdx {
			continue
		}
		if err := f.removeChunk(idx); err != nil {
			return err
		}
	}
	for idx := int64(0); idx <= maxIdx; idx++ {
		size := int64(ChunkSize)
		if idx == maxIdx {
			size = last
		}
		if err := f.resizeChunk(idx, size, states[idx]); err != nil {
			return err
		}
	}
	f.length, f.lengthKnown = length, true
	return nil
}

func (f *ChunkedFile) resizeChunk(idx, size int64, st chunkState) error {
	path := ChunkPath(f.prefix, idx)
	unlock := f.c.locks.lock(path)
	defer unlock()

	if !st.plain && st.compressed && size == ChunkSize {
		return nil
	}
	if st.plain && st.size == size {
		return nil
	}
	if err := f.materialize(idx, path); err != nil {
		return err
	}
	if f.write.file != nil && f.write.index == idx {
		if err := f.write.file.Truncate(size); err != nil {
			return ioFailure("truncate chunk", path, err)
		}
		return nil
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, chunkFileMode)
	if err != nil {
		return ioFailure("open chunk", path, err)
	}
	err = file.Truncate(size)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ioFailure("truncate chunk", path, err)
	}
	if size == ChunkSize {
		f.c.Enqueue(path)
	}
	return nil
}

// removeChunk deletes both forms of chunk idx and drops it from the queue.
func (f *ChunkedFile) removeChunk(idx int64) error {
	path := ChunkPath(f.prefix, idx)
	unlock := f.c.locks.lock(path)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		unlock()
		return ioFailure("remove chunk", path, err)
	}
	err = f.c.DeleteCompressedFile(path)
	unlock()
	f.c.Forget(path)
	return err
}

func (f *ChunkedFile) deleteChunks() error {
	if err := f.closeWriteSlot(false); err != nil {
		return err
	}
	if err := f.closeReadSlot(); err != nil {
		return err
	}
	refs, err := listChunkFiles(f.prefix)
	if err != nil {
		return ioFailure("list chunks", f.prefix, err)
	}
	seen := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.index] {
			continue
		}
		seen[ref.index] = true
		if err := f.removeChunk(ref.index); err != nil {
			return err
		}
	}
	return nil
}

// Flush syncs the write chunk to disk and releases both slots.
func (f *ChunkedFile) Flush() error {
	if err := f.usable(); err != nil {
		return err
	}
	if f.write.file != nil {
		if err := f.write.file.Sync(); err != nil {
			return ioFailure("sync chunk", f.write.path, err)
		}
	}
	return errors.Join(f.closeWriteSlot(true), f.closeReadSlot())
}

// releaseSlots closes both slots without queueing the write chunk. It is
// used before the file's backing paths change underneath the handle.
func (f *ChunkedFile) releaseSlots() error {
	return errors.Join(f.closeWriteSlot(false), f.closeReadSlot())
}

// relocate points the handle at a new prefix after its files were moved.
func (f *ChunkedFile) relocate(prefix string) {
	f.releaseSlots()
	f.prefix = prefix
}

// Rename moves the meta marker and every chunk file to newPrefix. The
// destination must not exist.
func (f *ChunkedFile) Rename(newPrefix string) error {
	if err := f.usable(); err != nil {
		return err
	}
	if f.deleted {
		return ErrNotFound
	}
	if exists, err := fileExists(MetaPath(newPrefix)); err != nil {
		return ioFailure("stat meta marker", MetaPath(newPrefix), err)
	} else if exists {
		return ErrAlreadyExists
	}
	if err := f.releaseSlots(); err != nil {
		return err
	}

	refs, err := listChunkFiles(f.prefix)
	if err != nil {
		return ioFailure("list chunks", f.prefix, err)
	}
	oldMeta, newMeta := MetaPath(f.prefix), MetaPath(newPrefix)
	if err := os.Rename(oldMeta, newMeta); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return ioFailure("rename meta marker", oldMeta, err)
	}

	seen := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.index] {
			continue
		}
		seen[ref.index] = true
		oldPlain := ChunkPath(f.prefix, ref.index)
		newPlain := ChunkPath(newPrefix, ref.index)
		full, err := f.moveChunk(oldPlain, newPlain)
		if err != nil {
			return err
		}
		// Old entries would find nothing; full plain chunks stay eligible
		// under their new name.
		f.c.Forget(oldPlain)
		if full {
			f.c.EnqueueIfAbsent(newPlain, newPlain)
		}
	}

	f.prefix = newPrefix
	m, err := util.LoadMetadata(newMeta)
	if err != nil {
		return ioFailure("read meta marker", newMeta, err)
	}
	m.Name = filepath.Base(newPrefix)
	if err := m.Save(newMeta); err != nil {
		return ioFailure("write meta marker", newMeta, err)
	}
	return nil
}

// moveChunk moves whichever forms of a chunk exist once its lock is held,
// so a compaction finishing in between cannot strand the compressed form
// under the old name. full reports a plain chunk of ChunkSize bytes.
func (f *ChunkedFile) moveChunk(oldPlain, newPlain string) (full bool, err error) {
	unlock := f.c.locks.lock(oldPlain)
	defer unlock()

	info, err := os.Stat(oldPlain)
	switch {
	case err == nil:
		if err := os.Rename(oldPlain, newPlain); err != nil {
			return false, ioFailure("rename chunk", oldPlain, err)
		}
		full = info.Size() == ChunkSize
	case !os.IsNotExist(err):
		return false, ioFailure("stat chunk", oldPlain, err)
	}

	oldCompressed := CompressedPath(oldPlain)
	if err := os.Rename(oldCompressed, CompressedPath(newPlain)); err != nil && !os.IsNotExist(err) {
		return false, ioFailure("rename chunk", oldCompressed, err)
	}
	if f.c.cache != nil {
		f.c.cache.Remove(oldPlain)
	}
	return full, nil
}

// Delete removes every chunk file and then the meta marker. The handle
// stays open with length zero; writes through it fail with ErrNotFound.
func (f *ChunkedFile) Delete() error {
	if err := f.usable(); err != nil {
		return err
	}
	if err := f.deleteChunks(); err != nil {
		return err
	}
	meta := MetaPath(f.prefix)
	if err := os.Remove(meta); err != nil && !os.IsNotExist(err) {
		return ioFailure("remove meta marker", meta, err)
	}
	f.markDeleted()
	return nil
}

// markDeleted turns the handle into one on a removed file. It is used
// when the file was deleted through another handle.
func (f *ChunkedFile) markDeleted() {
	f.releaseSlots()
	f.deleted = true
	f.length, f.lengthKnown = 0, true
	f.mode, f.created, f.accessed, f.modified = nil, nil, nil, nil
	f.wrote = false
}

// SetMode records new permission bits, applied on Close.
func (f *ChunkedFile) SetMode(mode os.FileMode) error {
	if err := f.usable(); err != nil {
		return err
	}
	mode = mode.Perm()
	f.mode = &mode
	return nil
}

// SetTimes records new timestamps, applied on Close. Zero values leave the
// corresponding time unchanged.
func (f *ChunkedFile) SetTimes(created, accessed, modified time.Time) error {
	if err := f.usable(); err != nil {
		return err
	}
	if !created.IsZero() {
		f.created = &created
	}
	if !accessed.IsZero() {
		f.accessed = &accessed
	}
	if !modified.IsZero() {
		f.modified = &modified
	}
	return nil
}

func (f *ChunkedFile) applyOverrides(m *util.Metadata) {
	if f.mode != nil {
		m.Mode = *f.mode
	}
	if f.created != nil {
		m.Created = *f.created
	}
	if f.accessed != nil {
		m.Accessed = *f.accessed
	}
	if f.modified != nil {
		m.Modified = *f.modified
	} else if f.wrote {
		m.Modified = time.Now()
	}
}

// Info returns the file's metadata with any pending overrides applied.
func (f *ChunkedFile) Info() (FileInfo, error) {
	if err := f.usable(); err != nil {
		return FileInfo{}, err
	}
	meta := MetaPath(f.prefix)
	m, err := util.LoadMetadata(meta)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, ioFailure("read meta marker", meta, err)
	}
	f.applyOverrides(&m)
	length, err := f.Length()
	if err != nil {
		return FileInfo{}, err
	}
	name := f.Name()
	if m.Name != "" && strings.EqualFold(m.Name, name) {
		name = m.Name
	}
	return FileInfo{
		Name:     name,
		Mode:     m.Mode,
		Length:   length,
		Created:  m.Created,
		Accessed: m.Accessed,
		Modified: m.Modified,
	}, nil
}

// Close releases both slots, writes deferred metadata to the meta marker
// and invalidates the handle. Closing a closed handle is a no-op.
func (f *ChunkedFile) Close() error {
	if f.closed {
		return nil
	}
	errs := []error{f.closeWriteSlot(true), f.closeReadSlot()}
	if !f.deleted && (f.mode != nil || f.created != nil || f.accessed != nil || f.modified != nil || f.wrote) {
		errs = append(errs, f.saveMetadata())
	}
	f.closed = true
	return errors.Join(errs...)
}

func (f *ChunkedFile) saveMetadata() error {
	meta := MetaPath(f.prefix)
	m, err := util.LoadMetadata(meta)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioFailure("read meta marker", meta, err)
	}
	f.applyOverrides(&m)
	if err := m.Save(meta); err != nil {
		return ioFailure("write meta marker", meta, err)
	}
	return nil
}

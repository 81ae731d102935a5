package chunkfs

import (
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/chunkfs/util"
	"github.com/sirupsen/logrus"
)

// FS exposes a Storage as a FUSE filesystem.
type FS struct {
	storage *Storage
	inodes  *util.InodeTable
	log     logrus.FieldLogger

	mu      sync.Mutex
	handles map[string]map[*Handle]struct{} // open handles by logical path
}

// NewFS creates the FUSE view of storage.
func NewFS(storage *Storage, logger logrus.FieldLogger) *FS {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FS{
		storage: storage,
		inodes:  util.NewInodeTable(),
		log:     logger.WithField("component", "fuse"),
		handles: make(map[string]map[*Handle]struct{}),
	}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: ""}, nil
}

// binding says how an attribute change reaches the file: through a
// handle that already has it open for writing, or through a temporary
// handle opened for the change.
type binding interface{ isBinding() }

type bound struct{ h *Handle }

type unbound struct{}

func (bound) isBinding()   {}
func (unbound) isBinding() {}

// bind returns an open handle on p, preferring writable ones. With
// needWrite set, read-only handles are not considered.
func (f *FS) bind(p string, needWrite bool) binding {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reader *Handle
	for h := range f.handles[p] {
		if h.file.Writable() {
			return bound{h}
		}
		reader = h
	}
	if reader != nil && !needWrite {
		return bound{reader}
	}
	return unbound{}
}

func (f *FS) track(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.handles[h.path]
	if set == nil {
		set = make(map[*Handle]struct{})
		f.handles[h.path] = set
	}
	set[h] = struct{}{}
}

func (f *FS) untrack(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.handles[h.path]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(f.handles, h.path)
	}
}

// openHandles returns the handles open on p or anything below it.
func (f *FS) openHandles(p string) []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Handle
	for hp, set := range f.handles {
		if hp != p && !isBelow(hp, p) {
			continue
		}
		for h := range set {
			out = append(out, h)
		}
	}
	return out
}

func isBelow(p, dir string) bool {
	return dir == "" || (len(p) > len(dir) && p[len(dir)] == '/' && p[:len(dir)] == dir)
}

// orphan marks handles whose file was removed underneath them and stops
// tracking them, so later writes fail instead of leaving stray chunks.
func (f *FS) orphan(handles []*Handle) {
	for _, h := range handles {
		f.untrack(h)
		h.mu.Lock()
		h.file.markDeleted()
		h.mu.Unlock()
	}
}

func (f *FS) newHandle(p string, file *ChunkedFile) *Handle {
	h := &Handle{fs: f, path: p, file: file}
	f.track(h)
	return h
}

// stat returns the attributes of p, consulting an open handle first so
// pending metadata changes are visible.
func (f *FS) stat(p string) (FileInfo, error) {
	if b, ok := f.bind(p, false).(bound); ok {
		b.h.mu.Lock()
		info, err := b.h.file.Info()
		b.h.mu.Unlock()
		if err == nil {
			return info, nil
		}
	}
	return f.storage.Stat(p)
}

func (f *FS) fillAttr(p string, info FileInfo, a *fuse.Attr) {
	a.Inode = f.inodes.Get(p)
	a.Mode = info.Mode
	a.Atime = info.Accessed
	a.Mtime = info.Modified
	a.Ctime = info.Modified
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
	if info.IsDir {
		a.Mode = os.ModeDir | info.Mode.Perm()
		a.Nlink = 2
		return
	}
	a.Nlink = 1
	a.Size = uint64(info.Length)
	a.Blocks = (a.Size + 511) / 512
	a.BlockSize = ChunkSize
}

// toErrno maps package errors onto the errno FUSE reports to callers.
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fuse.ENOENT
	case errors.Is(err, syscall.ENOTEMPTY):
		return fuse.Errno(syscall.ENOTEMPTY)
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, os.ErrExist):
		return fuse.EEXIST
	case errors.Is(err, ErrIsDirectory):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, ErrNotWritable), errors.Is(err, ErrInvalidState):
		return fuse.Errno(syscall.EBADF)
	case IsDiskFull(err):
		return fuse.Errno(syscall.ENOSPC)
	case errors.Is(err, os.ErrPermission):
		return fuse.EPERM
	default:
		return fuse.EIO
	}
}

// Dir is a directory node
type Dir struct {
	fs   *FS
	path string
}

func (d *Dir) child(name string) string { return path.Join(d.path, name) }

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := d.fs.storage.Stat(d.path)
	if err != nil {
		return toErrno(err)
	}
	d.fs.fillAttr(d.path, info, a)
	return nil
}

// Lookup resolves a name to a file or directory node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := d.child(name)
	info, err := d.fs.storage.Stat(p)
	if err != nil {
		return nil, toErrno(err)
	}
	if info.IsDir {
		return &Dir{fs: d.fs, path: p}, nil
	}
	return &File{fs: d.fs, path: p}, nil
}

// ReadDirAll lists logical files and subdirectories
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.storage.ReadDir(d.path)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		de := fuse.Dirent{
			Inode: d.fs.inodes.Get(d.child(e.Name)),
			Name:  e.Name,
			Type:  fuse.DT_File,
		}
		if e.IsDir {
			de.Type = fuse.DT_Dir
		}
		dirents = append(dirents, de)
	}
	return dirents, nil
}

// Create creates and opens a logical file
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	p := d.child(req.Name)
	file, err := d.fs.storage.Open(p, modeFromFlags(req.Flags|fuse.OpenCreate), !req.Flags.IsReadOnly())
	if err != nil {
		return nil, nil, toErrno(err)
	}
	if perm := req.Mode.Perm(); perm != 0 {
		file.SetMode(perm &^ req.Umask.Perm())
	}
	info, err := file.Info()
	if err != nil {
		file.Close()
		return nil, nil, toErrno(err)
	}
	d.fs.fillAttr(p, info, &resp.Attr)
	resp.Flags |= fuse.OpenDirectIO
	return &File{fs: d.fs, path: p}, d.fs.newHandle(p, file), nil
}

// Mkdir creates a directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	p := d.child(req.Name)
	if err := d.fs.storage.Mkdir(p); err != nil {
		return nil, toErrno(err)
	}
	return &Dir{fs: d.fs, path: p}, nil
}

// Remove removes a file or an empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	p := d.child(req.Name)
	var err error
	if req.Dir {
		err = d.fs.storage.Rmdir(p)
	} else {
		open := d.fs.openHandles(p)
		for _, h := range open {
			h.mu.Lock()
			h.file.releaseSlots()
			h.mu.Unlock()
		}
		err = d.fs.storage.Remove(p)
		if err == nil {
			d.fs.orphan(open)
		}
	}
	if err != nil {
		return toErrno(err)
	}
	d.fs.inodes.Forget(p)
	return nil
}

// Rename moves a file or directory, replacing an existing file
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.EIO
	}
	oldPath, newPath := d.child(req.OldName), target.child(req.NewName)
	if oldPath == newPath {
		return nil
	}

	open := d.fs.openHandles(oldPath)
	var replaced []*Handle
	sameFile := d.fs.storage.BackingPath(oldPath) == d.fs.storage.BackingPath(newPath)
	for _, h := range d.fs.openHandles(newPath) {
		if h.path == newPath && !sameFile {
			replaced = append(replaced, h)
		}
	}
	for _, h := range append(open, replaced...) {
		h.mu.Lock()
		h.file.releaseSlots()
		h.mu.Unlock()
	}
	if err := d.fs.storage.Rename(oldPath, newPath, true); err != nil {
		return toErrno(err)
	}
	d.fs.orphan(replaced)

	for _, h := range open {
		d.fs.untrack(h)
		h.mu.Lock()
		h.path = newPath + h.path[len(oldPath):]
		h.file.relocate(d.fs.storage.BackingPath(h.path))
		h.mu.Unlock()
		d.fs.track(h)
	}
	d.fs.inodes.Rename(oldPath, newPath)
	d.fs.log.WithFields(logrus.Fields{"from": oldPath, "to": newPath}).Debug("rename")
	return nil
}

// File is a logical file node
type File struct {
	fs   *FS
	path string
}

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.fs.stat(f.path)
	if err != nil {
		return toErrno(err)
	}
	f.fs.fillAttr(f.path, info, a)
	return nil
}

// Open opens a handle on the file
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	file, err := f.fs.storage.Open(f.path, modeFromFlags(req.Flags), !req.Flags.IsReadOnly())
	if err != nil {
		return nil, toErrno(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return f.fs.newHandle(f.path, file), nil
}

// Setattr applies size, mode and time changes
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := f.applySetattr(req); err != nil {
		return toErrno(err)
	}
	return f.Attr(ctx, &resp.Attr)
}

func (f *File) applySetattr(req *fuse.SetattrRequest) error {
	if !req.Valid.Size() && !req.Valid.Mode() && !req.Valid.Atime() && !req.Valid.Mtime() {
		return nil
	}

	var file *ChunkedFile
	switch b := f.fs.bind(f.path, req.Valid.Size()).(type) {
	case bound:
		b.h.mu.Lock()
		defer b.h.mu.Unlock()
		file = b.h.file
	case unbound:
		tmp, err := f.fs.storage.Open(f.path, ModeOpen, req.Valid.Size())
		if err != nil {
			return err
		}
		defer tmp.Close()
		file = tmp
	}

	if req.Valid.Size() {
		if err := file.SetLength(int64(req.Size)); err != nil {
			return err
		}
	}
	if req.Valid.Mode() {
		if err := file.SetMode(req.Mode); err != nil {
			return err
		}
	}
	var atime, mtime time.Time
	if req.Valid.Atime() {
		atime = req.Atime
	}
	if req.Valid.AtimeNow() {
		atime = time.Now()
	}
	if req.Valid.Mtime() {
		mtime = req.Mtime
	}
	if req.Valid.MtimeNow() {
		mtime = time.Now()
	}
	if !atime.IsZero() || !mtime.IsZero() {
		return file.SetTimes(time.Time{}, atime, mtime)
	}
	return nil
}

// Fsync flushes every writable handle open on the file
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	if b, ok := f.fs.bind(f.path, true).(bound); ok {
		b.h.mu.Lock()
		defer b.h.mu.Unlock()
		return toErrno(b.h.file.Flush())
	}
	return nil
}

// Handle is an open file. Requests on one handle are serialized.
type Handle struct {
	fs   *FS
	path string

	mu   sync.Mutex
	file *ChunkedFile
}

// Read reads from the logical file
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, req.Size)
	n, err := h.file.Read(buf, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write writes to the logical file
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.Write(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		h.fs.log.WithField("file", h.path).WithError(err).Warn("write failed")
		return toErrno(err)
	}
	return nil
}

// Flush releases the handle's open chunks
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return toErrno(h.file.Flush())
}

// Release closes the handle and writes pending metadata
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.fs.untrack(h)
	h.mu.Lock()
	defer h.mu.Unlock()
	return toErrno(h.file.Close())
}

// modeFromFlags maps open(2) flags onto an OpenMode.
func modeFromFlags(flags fuse.OpenFlags) OpenMode {
	create := flags&fuse.OpenCreate != 0
	switch {
	case create && flags&fuse.OpenExclusive != 0:
		return ModeCreateNew
	case create && flags&fuse.OpenTruncate != 0:
		return ModeCreate
	case create:
		return ModeOpenOrCreate
	case flags&fuse.OpenTruncate != 0:
		return ModeTruncate
	case flags&fuse.OpenAppend != 0:
		return ModeAppend
	default:
		return ModeOpen
	}
}

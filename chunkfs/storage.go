package chunkfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// LockFileName is created in the backing root and held with an exclusive
// lock while a Storage is open.
const LockFileName = ".chunkfs.lock"

// DirEntry is one entry of a logical directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Storage maps logical paths onto a backing directory. Logical paths use
// forward slashes and are relative to the root; "" and "/" name the root.
type Storage struct {
	root string
	c    *Compressor
	lock *flock.Flock
	log  logrus.FieldLogger
}

// OpenStorage takes the backing directory lock and returns a Storage over
// root. It fails with ErrStorageLocked if another process holds the lock.
func OpenStorage(root string, c *Compressor, logger logrus.FieldLogger) (*Storage, error) {
	if c == nil {
		return nil, fmt.Errorf("open storage %s: nil compressor", root)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open storage %s: not a directory", abs)
	}

	lock := flock.New(filepath.Join(abs, LockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", abs, err)
	}
	if !held {
		return nil, fmt.Errorf("%s: %w", abs, ErrStorageLocked)
	}

	return &Storage{
		root: abs,
		c:    c,
		lock: lock,
		log:  logger.WithField("root", abs),
	}, nil
}

// Close releases the directory lock. Open handles are not affected.
func (s *Storage) Close() error {
	return s.lock.Unlock()
}

// Root returns the absolute backing directory.
func (s *Storage) Root() string { return s.root }

// Compressor returns the compactor shared by every handle of the storage.
func (s *Storage) Compressor() *Compressor { return s.c }

// BackingPath maps a logical path to its backing prefix or directory.
func (s *Storage) BackingPath(name string) string {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:]))
}

func (s *Storage) isDir(name string) bool {
	info, err := os.Stat(s.BackingPath(name))
	return err == nil && info.IsDir()
}

// Open opens a logical file.
func (s *Storage) Open(name string, mode OpenMode, write bool) (*ChunkedFile, error) {
	if s.isDir(name) {
		return nil, fmt.Errorf("open %s: %w", name, ErrIsDirectory)
	}
	f, err := OpenFile(s.c, s.BackingPath(name), mode, write)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"file": name, "mode": mode, "write": write}).Trace("opened")
	return f, nil
}

// Exists reports whether name is a logical file or a directory.
func (s *Storage) Exists(name string) bool {
	if s.isDir(name) {
		return true
	}
	ok, _ := fileExists(MetaPath(s.BackingPath(name)))
	return ok
}

// Stat describes a logical file or directory.
func (s *Storage) Stat(name string) (FileInfo, error) {
	p := s.BackingPath(name)
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return FileInfo{
			Name:     info.Name(),
			Mode:     os.ModeDir | info.Mode().Perm(),
			IsDir:    true,
			Created:  info.ModTime(),
			Accessed: info.ModTime(),
			Modified: info.ModTime(),
		}, nil
	}
	f, err := OpenFile(s.c, p, ModeOpen, false)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	return f.Info()
}

// Remove deletes a logical file.
func (s *Storage) Remove(name string) error {
	f, err := OpenFile(s.c, s.BackingPath(name), ModeOpen, true)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Delete(); err != nil {
		return err
	}
	s.log.WithField("file", name).Debug("removed")
	return nil
}

// Rename moves a logical file or directory. An existing destination file
// is removed first when replace is set; an existing destination directory
// is always an error.
func (s *Storage) Rename(oldName, newName string, replace bool) error {
	src, dst := s.BackingPath(oldName), s.BackingPath(newName)
	if src == dst {
		return nil
	}

	if s.isDir(newName) {
		return ErrAlreadyExists
	}
	if s.isDir(oldName) {
		if ok, _ := fileExists(MetaPath(dst)); ok {
			return ErrAlreadyExists
		}
		if err := os.Rename(src, dst); err != nil {
			return ioFailure("rename directory", src, err)
		}
		return nil
	}

	f, err := OpenFile(s.c, src, ModeOpen, true)
	if err != nil {
		return err
	}
	defer f.Close()

	if ok, _ := fileExists(MetaPath(dst)); ok {
		if !replace {
			return ErrAlreadyExists
		}
		if err := s.Remove(newName); err != nil {
			return err
		}
	}
	if err := f.Rename(dst); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"from": oldName, "to": newName}).Debug("renamed")
	return nil
}

// Mkdir creates a directory.
func (s *Storage) Mkdir(name string) error {
	if s.Exists(name) {
		return ErrAlreadyExists
	}
	p := s.BackingPath(name)
	if err := os.Mkdir(p, 0o755); err != nil {
		return ioFailure("mkdir", p, err)
	}
	return nil
}

// Rmdir removes an empty directory.
func (s *Storage) Rmdir(name string) error {
	if !s.isDir(name) {
		return ErrNotFound
	}
	p := s.BackingPath(name)
	if p == s.root {
		return fmt.Errorf("rmdir: cannot remove the storage root")
	}
	if err := os.Remove(p); err != nil {
		return ioFailure("rmdir", p, err)
	}
	return nil
}

// ReadDir lists the logical files and subdirectories of a directory.
// Chunk files appear only through their logical file; chunks without a
// meta marker are hidden.
func (s *Storage) ReadDir(name string) ([]DirEntry, error) {
	p := s.BackingPath(name)
	families, subdirs, err := ScanDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, ioFailure("read directory", p, err)
	}
	entries := make([]DirEntry, 0, len(families)+len(subdirs))
	for _, d := range subdirs {
		entries = append(entries, DirEntry{Name: d, IsDir: true})
	}
	for _, fam := range families {
		if fam.HasMeta {
			entries = append(entries, DirEntry{Name: fam.Name})
		}
	}
	return entries, nil
}

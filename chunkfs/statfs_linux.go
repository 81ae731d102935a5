//go:build linux

package chunkfs

import (
	"context"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// Statfs reports the capacity of the backing device
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := unix.Statfs(f.storage.Root(), &st); err != nil {
		return toErrno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Frsize = uint32(st.Frsize)
	// Names carry the meta marker suffix on disk.
	resp.Namelen = uint32(max(st.Namelen-int64(len(MetaFileExtension)), 0))
	return nil
}

package chunkfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// chunkFileMode is the permission of every backing chunk file.
const chunkFileMode = 0o644

// ChunkSize is the logical span of every chunk file. Only the last chunk
// of a logical file may be shorter.
const ChunkSize = 1 << 20

const (
	// ChunkExtension separates the logical name from the chunk index.
	ChunkExtension = ".chunk"
	// MetaFileExtension names the meta marker. It shares the chunk
	// stem so a directory listing keeps a file's pieces together.
	MetaFileExtension = ".chunk$$$$"
	// CompressedFileExtension is appended to a chunk path for its
	// compressed sibling.
	CompressedFileExtension = ".blz"
)

// ChunkPath returns the backing path of chunk index for a logical prefix.
// Indices are zero padded to four digits so lexical and numeric order
// agree for 0..9999.
func ChunkPath(prefix string, index int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, ChunkExtension, index)
}

// MetaPath returns the meta marker path for a logical prefix.
func MetaPath(prefix string) string {
	return prefix + MetaFileExtension
}

// CompressedPath returns the compressed sibling of a plain chunk path.
func CompressedPath(chunkPath string) string {
	return chunkPath + CompressedFileExtension
}

// ChunkIndexOf returns the chunk holding logical position.
func ChunkIndexOf(position int64) int64 {
	return position / ChunkSize
}

// ChunkOffsetOf returns position's offset inside its chunk.
func ChunkOffsetOf(position int64) int64 {
	return position % ChunkSize
}

// chunkRef is one backing file of a chunk family.
type chunkRef struct {
	path       string
	index      int64
	compressed bool
}

// parseChunkSuffix parses what follows "<name>.chunk" in a backing file
// name: an index of at least four digits and an optional compressed
// extension. The meta marker and foreign files do not parse.
func parseChunkSuffix(suffix string) (index int64, compressed bool, ok bool) {
	digits, compressed := strings.CutSuffix(suffix, CompressedFileExtension)
	if len(digits) < 4 {
		return 0, false, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false, false
		}
	}
	index, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return index, compressed, true
}

// listChunkFiles returns every plain and compressed chunk file of prefix.
// It matches names starting with "<base>.chunk" and drops the meta marker
// and anything whose suffix is not a chunk index.
func listChunkFiles(prefix string) ([]chunkRef, error) {
	dir, base := filepath.Split(prefix)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	stem := base + ChunkExtension
	var refs []chunkRef
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem) || strings.HasSuffix(name, MetaFileExtension) {
			continue
		}
		index, compressed, ok := parseChunkSuffix(name[len(stem):])
		if !ok {
			continue
		}
		refs = append(refs, chunkRef{
			path:       filepath.Join(dir, name),
			index:      index,
			compressed: compressed,
		})
	}
	return refs, nil
}

// chunkState is the physical state of one chunk index.
type chunkState struct {
	plain      bool
	size       int64
	compressed bool
}

// logicalSize is the number of logical bytes the chunk contributes.
// A transient plain+compressed pair counts once, by its plain file.
func (s chunkState) logicalSize() int64 {
	if s.plain {
		return s.size
	}
	if s.compressed {
		return ChunkSize
	}
	return 0
}

// chunkStates stats every chunk file of prefix, keyed by index.
func chunkStates(prefix string) (map[int64]chunkState, error) {
	refs, err := listChunkFiles(prefix)
	if err != nil {
		return nil, err
	}
	states := make(map[int64]chunkState, len(refs))
	for _, ref := range refs {
		st := states[ref.index]
		if ref.compressed {
			st.compressed = true
		} else {
			info, err := os.Stat(ref.path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			st.plain = true
			st.size = info.Size()
		}
		states[ref.index] = st
	}
	return states, nil
}

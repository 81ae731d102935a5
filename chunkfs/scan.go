package chunkfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ChunkInfo is the on-disk state of one chunk index of a family.
type ChunkInfo struct {
	Plain          bool
	Size           int64
	Compressed     bool
	CompressedSize int64
}

// Family groups the backing files of one logical name in a directory:
// the meta marker and every plain and compressed chunk.
type Family struct {
	Dir     string
	Name    string
	HasMeta bool
	Chunks  map[int64]ChunkInfo
}

// Prefix returns the backing path prefix of the family.
func (f Family) Prefix() string { return filepath.Join(f.Dir, f.Name) }

// Indices returns the chunk indices present, in ascending order.
func (f Family) Indices() []int64 {
	idx := make([]int64, 0, len(f.Chunks))
	for i := range f.Chunks {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}

// LogicalSize is the length the family presents when mounted.
func (f Family) LogicalSize() int64 {
	var n int64
	for _, c := range f.Chunks {
		n += chunkState{plain: c.Plain, size: c.Size, compressed: c.Compressed}.logicalSize()
	}
	return n
}

// PhysicalSize is the number of bytes the chunk files occupy.
func (f Family) PhysicalSize() int64 {
	var n int64
	for _, c := range f.Chunks {
		if c.Plain {
			n += c.Size
		}
		if c.Compressed {
			n += c.CompressedSize
		}
	}
	return n
}

// ProblemKind classifies a layout inconsistency.
type ProblemKind int

const (
	// ProblemOrphan is a set of chunks with no meta marker.
	ProblemOrphan ProblemKind = iota
	// ProblemBothForms is a chunk with a plain file and a compressed
	// sibling, left behind by an interrupted compaction.
	ProblemBothForms
	// ProblemGap is a missing chunk below the last one.
	ProblemGap
	// ProblemShortChunk is a chunk other than the last that is smaller
	// than ChunkSize.
	ProblemShortChunk
	// ProblemOversized is a chunk larger than ChunkSize.
	ProblemOversized
)

func (k ProblemKind) String() string {
	switch k {
	case ProblemOrphan:
		return "orphan"
	case ProblemBothForms:
		return "both-forms"
	case ProblemGap:
		return "gap"
	case ProblemShortChunk:
		return "short-chunk"
	case ProblemOversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// Problem is one inconsistency found in a family.
type Problem struct {
	Kind  ProblemKind
	Index int64
}

func (p Problem) String() string {
	if p.Kind == ProblemOrphan {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s at chunk %04d", p.Kind, p.Index)
}

// Problems checks the family against the chunk layout rules.
func (f Family) Problems() []Problem {
	var problems []Problem
	if !f.HasMeta && len(f.Chunks) > 0 {
		problems = append(problems, Problem{Kind: ProblemOrphan, Index: -1})
	}
	indices := f.Indices()
	if len(indices) == 0 {
		return problems
	}
	last := indices[len(indices)-1]
	for i := int64(0); i <= last; i++ {
		c, ok := f.Chunks[i]
		switch {
		case !ok:
			problems = append(problems, Problem{Kind: ProblemGap, Index: i})
			continue
		case c.Plain && c.Compressed:
			problems = append(problems, Problem{Kind: ProblemBothForms, Index: i})
		}
		switch {
		case c.Plain && c.Size > ChunkSize:
			problems = append(problems, Problem{Kind: ProblemOversized, Index: i})
		case c.Plain && i < last && c.Size < ChunkSize:
			problems = append(problems, Problem{Kind: ProblemShortChunk, Index: i})
		}
	}
	return problems
}

// splitBackingName splits a backing file name into its logical name and
// what kind of file it is. ok is false for files that are not part of the
// chunk layout.
func splitBackingName(name string) (logical string, index int64, compressed, meta, ok bool) {
	if logical, found := strings.CutSuffix(name, MetaFileExtension); found && logical != "" {
		return logical, 0, false, true, true
	}
	i := strings.LastIndex(name, ChunkExtension)
	if i <= 0 {
		return "", 0, false, false, false
	}
	index, compressed, ok = parseChunkSuffix(name[i+len(ChunkExtension):])
	if !ok {
		return "", 0, false, false, false
	}
	return name[:i], index, compressed, false, true
}

// ScanDir groups the backing files of dir into families and lists its
// subdirectories. Files outside the chunk layout are ignored.
func ScanDir(dir string) ([]Family, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]*Family)
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
			continue
		}
		logical, index, compressed, meta, ok := splitBackingName(e.Name())
		if !ok {
			continue
		}
		fam := byName[logical]
		if fam == nil {
			fam = &Family{Dir: dir, Name: logical, Chunks: make(map[int64]ChunkInfo)}
			byName[logical] = fam
		}
		if meta {
			fam.HasMeta = true
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, err
		}
		c := fam.Chunks[index]
		if compressed {
			c.Compressed = true
			c.CompressedSize = info.Size()
		} else {
			c.Plain = true
			c.Size = info.Size()
		}
		fam.Chunks[index] = c
	}

	families := make([]Family, 0, len(byName))
	for _, fam := range byName {
		families = append(families, *fam)
	}
	slices.SortFunc(families, func(a, b Family) int { return strings.Compare(a.Name, b.Name) })
	slices.Sort(subdirs)
	return families, subdirs, nil
}

// Walk calls fn for every family under root, directory by directory.
func Walk(root string, fn func(Family) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		families, _, err := ScanDir(path)
		if err != nil {
			return err
		}
		for _, fam := range families {
			if err := fn(fam); err != nil {
				return err
			}
		}
		return nil
	})
}

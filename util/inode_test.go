package util

import (
	"sync"
	"testing"
)

func TestInodeTable_RootIsOne(t *testing.T) {
	tbl := NewInodeTable()
	if got := tbl.Get(""); got != 1 {
		t.Errorf("root inode = %d, want 1", got)
	}
	tbl.Forget("")
	if got := tbl.Get(""); got != 1 {
		t.Errorf("root inode after Forget = %d, want 1", got)
	}
}

func TestInodeTable_StableAndIncrementing(t *testing.T) {
	tbl := NewInodeTable()
	a := tbl.Get("a.txt")
	b := tbl.Get("b.txt")

	if a != 2 {
		t.Errorf("first inode = %d, want 2", a)
	}
	if b != a+1 {
		t.Errorf("second inode = %d, want %d", b, a+1)
	}
	if again := tbl.Get("a.txt"); again != a {
		t.Errorf("Get is not stable: got %d, want %d", again, a)
	}
}

func TestInodeTable_ForgetAllocatesNew(t *testing.T) {
	tbl := NewInodeTable()
	old := tbl.Get("gone.bin")
	tbl.Forget("gone.bin")

	if tbl.Len() != 1 {
		t.Errorf("Len after Forget = %d, want 1", tbl.Len())
	}
	if fresh := tbl.Get("gone.bin"); fresh == old {
		t.Errorf("recreated path reused inode %d", old)
	}
}

func TestInodeTable_RenameMovesSubtree(t *testing.T) {
	tbl := NewInodeTable()
	dir := tbl.Get("docs")
	child := tbl.Get("docs/report.pdf")
	deep := tbl.Get("docs/2024/q1.csv")
	sibling := tbl.Get("docs-old/x")

	tbl.Rename("docs", "archive/docs")

	tests := []struct {
		path string
		want uint64
	}{
		{"archive/docs", dir},
		{"archive/docs/report.pdf", child},
		{"archive/docs/2024/q1.csv", deep},
		{"docs-old/x", sibling},
	}
	for _, tt := range tests {
		if got := tbl.Get(tt.path); got != tt.want {
			t.Errorf("Get(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
	if got := tbl.Get("docs/report.pdf"); got == child {
		t.Errorf("old path still maps to the moved inode %d", child)
	}
}

func TestInodeTable_RenameReplacesDestination(t *testing.T) {
	tbl := NewInodeTable()
	src := tbl.Get("new.txt")
	tbl.Get("old.txt")

	tbl.Rename("new.txt", "old.txt")

	if got := tbl.Get("old.txt"); got != src {
		t.Errorf("destination inode = %d, want source inode %d", got, src)
	}
}

func TestInodeTable_Concurrent(t *testing.T) {
	tbl := NewInodeTable()
	numGoroutines := 50
	paths := []string{"a", "b", "c", "d/e", "d/f"}

	results := make([][]uint64, numGoroutines)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func() {
			defer wg.Done()
			for _, p := range paths {
				results[g] = append(results[g], tbl.Get(p))
			}
		}()
	}
	wg.Wait()

	for g := 1; g < numGoroutines; g++ {
		for i := range paths {
			if results[g][i] != results[0][i] {
				t.Fatalf("goroutine %d saw inode %d for %q, goroutine 0 saw %d", g, results[g][i], paths[i], results[0][i])
			}
		}
	}
	if tbl.Len() != len(paths)+1 {
		t.Errorf("Len = %d, want %d", tbl.Len(), len(paths)+1)
	}
}

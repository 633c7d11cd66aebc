package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/archiveproof/archiveproof/internal/hasher"
)

func TestAppendAssignsDenseIndices(t *testing.T) {
	db := New()
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		idx, err := db.Append(name, hasher.HashBytes([]byte(name)))
		if err != nil {
			t.Fatal(err)
		}
		if idx != uint64(i) {
			t.Fatalf("Append(%q) index = %d, want %d", name, idx, i)
		}
	}
	if db.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", db.Count())
	}
}

func TestAppendRejectsInvalidFilename(t *testing.T) {
	db := New()
	if _, err := db.Append("", hasher.HashBytes([]byte("x"))); err == nil {
		t.Fatal("expected error for empty filename")
	}
	if db.Count() != 0 {
		t.Fatal("rejected append must not mutate count")
	}
}

func TestEmptyDatabaseSemantics(t *testing.T) {
	db := New()
	if _, ok := db.Root(); ok {
		t.Fatal("Root() on empty database should report false")
	}
	if _, ok := db.Proof(0); ok {
		t.Fatal("Proof(0) on empty database should report false")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	db := New()
	for _, name := range []string{"h.txt", "w.txt", "!.txt"} {
		if _, err := db.Append(name, hasher.HashBytes([]byte(name))); err != nil {
			t.Fatal(err)
		}
	}
	wantRoot, _ := db.Root()

	path := filepath.Join(t.TempDir(), "db.bin")
	if err := db.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	gotRoot, ok := loaded.Root()
	if !ok || gotRoot != wantRoot {
		t.Fatalf("loaded root = %x,%v, want %x,true", gotRoot, ok, wantRoot)
	}
	if loaded.Count() != db.Count() {
		t.Fatalf("loaded count = %d, want %d", loaded.Count(), db.Count())
	}
	for i := uint64(0); i < db.Count(); i++ {
		wantEntry, _ := db.Entry(i)
		gotEntry, _ := loaded.Entry(i)
		if diff := cmp.Diff(wantEntry, gotEntry); diff != "" {
			t.Errorf("entry %d mismatch (-want +got):\n%s", i, diff)
		}
		wantProof, _ := db.Proof(i)
		gotProof, _ := loaded.Proof(i)
		if diff := cmp.Diff(wantProof, gotProof); diff != "" {
			t.Errorf("proof %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.bin")
	if err := os.WriteFile(path, []byte("not a zstd stream"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error loading corrupt database file")
	}
}

package builder

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDedupFilesLinksIdenticalContent(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a", "bin", "sh")
	b := filepath.Join(root, "b", "bin", "sh")
	writeFile(t, a, "identical-content")
	writeFile(t, b, "identical-content")

	linked, reclaimed, err := DedupFiles([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if linked != 1 {
		t.Fatalf("expected 1 file linked, got %d", linked)
	}
	if reclaimed != int64(len("identical-content")) {
		t.Fatalf("expected reclaimed bytes to equal file size, got %d", reclaimed)
	}

	infoA, err := os.Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	infoB, err := os.Stat(b)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(infoA, infoB) {
		t.Fatal("expected identical files to be hardlinked together")
	}
}

func TestDedupFilesLeavesDifferentContentAlone(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a", "data")
	b := filepath.Join(root, "b", "data")
	writeFile(t, a, "one")
	writeFile(t, b, "two")

	linked, _, err := DedupFiles([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if linked != 0 {
		t.Fatalf("expected no links for differing content, got %d", linked)
	}
}

func TestDedupFilesIdempotentWhenAlreadyLinked(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a", "data")
	b := filepath.Join(root, "b", "data")
	writeFile(t, a, "same")
	writeFile(t, b, "same")

	if _, _, err := DedupFiles([]string{root}); err != nil {
		t.Fatal(err)
	}
	linked, _, err := DedupFiles([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if linked != 0 {
		t.Fatalf("expected second dedup pass to find nothing new, got %d", linked)
	}
}

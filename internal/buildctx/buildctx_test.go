package buildctx

import (
	"os"
	"testing"
)

func TestEnvironListSortedAndDeterministic(t *testing.T) {
	c := New(t.TempDir(), t.TempDir())
	c.SetEnv("B", "2")
	c.SetEnv("A", "1")
	got := c.EnvironList()
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Fatalf("expected sorted [A=1 B=2], got %v", got)
	}
}

func TestUnsetEnvRemoves(t *testing.T) {
	c := New(t.TempDir(), t.TempDir())
	c.SetEnv("X", "1")
	c.UnsetEnv("X")
	if len(c.Environ()) != 0 {
		t.Fatalf("expected empty environ after unset, got %v", c.Environ())
	}
}

func TestTeardownListIsReversed(t *testing.T) {
	c := New(t.TempDir(), t.TempDir())
	c.AddTeardown("/a")
	c.AddTeardown("/b")
	c.AddTeardown("/c")
	got := c.TeardownList()
	want := []string{"/c", "/b", "/a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("teardown order mismatch: got %v want %v", got, want)
		}
	}
}

func TestMarkFeaturedOnlyOnce(t *testing.T) {
	c := New(t.TempDir(), t.TempDir())
	if !c.MarkFeatured("pip") {
		t.Fatal("first MarkFeatured should return true")
	}
	if c.MarkFeatured("pip") {
		t.Fatal("second MarkFeatured for the same feature should return false")
	}
}

func TestCacheDirCreatesDirectory(t *testing.T) {
	c := New(t.TempDir(), t.TempDir())
	dir, err := c.CacheDir("apt")
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory", dir)
	}
}

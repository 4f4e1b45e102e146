package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/store"
	"github.com/vagga-go/vagga/internal/version"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	s := store.New(t.TempDir())
	return New(s)
}

func TestBuildRunsStepsOnFirstCall(t *testing.T) {
	d := newTestDriver(t)
	c := &version.Container{
		Name: "devel",
		Setup: []buildstep.Step{
			&buildstep.EnsureDir{Path: "usr"},
		},
	}

	res, err := d.Build(c, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Built {
		t.Fatal("expected first build to run")
	}
	if _, err := os.Stat(filepath.Join(res.RootFS, "usr")); err != nil {
		t.Fatalf("expected step side effect in root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.RootFS, "proc")); err != nil {
		t.Fatalf("expected standard dirs ensured: %v", err)
	}
}

func TestBuildSkipsWhenAlreadyCached(t *testing.T) {
	d := newTestDriver(t)
	c := &version.Container{Name: "devel"}

	first, err := d.Build(c, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Build(c, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Built {
		t.Fatal("expected second build to be skipped as cached")
	}
	if second.Hash != first.Hash {
		t.Fatalf("expected stable hash across calls, got %s vs %s", first.Hash, second.Hash)
	}
}

func TestBuildForceRebuildsEvenWhenCached(t *testing.T) {
	d := newTestDriver(t)
	c := &version.Container{Name: "devel"}

	if _, err := d.Build(c, false); err != nil {
		t.Fatal(err)
	}
	res, err := d.Build(c, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Built {
		t.Fatal("expected forced rebuild to run again")
	}
}

func TestEnsureFailsWhenNeverBuilt(t *testing.T) {
	d := newTestDriver(t)
	if _, err := d.Ensure("missing"); err == nil {
		t.Fatal("expected error for a container that was never built")
	}
}

func TestEnsureResolvesExistingPointer(t *testing.T) {
	d := newTestDriver(t)
	c := &version.Container{Name: "devel"}
	built, err := d.Build(c, false)
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.Ensure("devel")
	if err != nil {
		t.Fatal(err)
	}
	if res.Hash != built.Hash {
		t.Fatalf("expected Ensure to resolve the same hash, got %s vs %s", res.Hash, built.Hash)
	}
}

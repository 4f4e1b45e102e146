package distro

import (
	"errors"
	"testing"
)

type fakeCtx struct {
	root string
	runs [][]string
}

func (f *fakeCtx) RootDir() string { return f.root }
func (f *fakeCtx) Run(args ...string) error {
	f.runs = append(f.runs, args)
	return nil
}
func (f *fakeCtx) CacheDir(name string) (string, error) {
	return "/tmp/cache/" + name, nil
}

func TestBoxSetOnceThenOverlap(t *testing.T) {
	var b Box
	u := NewUbuntu("jammy", "")
	if err := b.Set(u); err != nil {
		t.Fatalf("first Set should succeed: %v", err)
	}
	if err := b.Set(NewAlpine("3.19", "")); err == nil {
		t.Fatal("second Set should fail with ErrDistroOverlap")
	} else {
		var overlap *ErrDistroOverlap
		if !errors.As(err, &overlap) {
			t.Fatalf("expected ErrDistroOverlap, got %T: %v", err, err)
		}
	}
}

func TestBoxGetBeforeSetIsNoDistro(t *testing.T) {
	var b Box
	if _, err := b.Get(); !errors.Is(err, ErrNoDistro) {
		t.Fatalf("expected ErrNoDistro, got %v", err)
	}
}

func TestUbuntuEnablesUniverseOnceAndRefreshesAptAfter(t *testing.T) {
	u := NewUbuntu("jammy", "http://example.invalid/ubuntu")
	ctx := &fakeCtx{root: t.TempDir()}

	installed, err := u.EnsurePackages(ctx, []string{"git"})
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) == 0 {
		t.Fatal("expected git to be installed from universe")
	}
	if !u.universeAdded {
		t.Fatal("expected universe to be enabled")
	}

	// a second feature requiring universe must not re-enable it or
	// refresh apt a second time beyond the one forced by enabling it
	runsAfterFirst := len(ctx.runs)
	if _, err := u.EnsurePackages(ctx, []string{"git"}); err != nil {
		t.Fatal(err)
	}
	if len(ctx.runs)-runsAfterFirst != 1 {
		t.Fatalf("expected exactly one more apt-get install run, got %d", len(ctx.runs)-runsAfterFirst)
	}
}

func TestAsWrongDistroType(t *testing.T) {
	var b Box
	if err := b.Set(NewAlpine("3.19", "")); err != nil {
		t.Fatal(err)
	}
	if _, err := As[*Ubuntu](&b); err == nil {
		t.Fatal("expected ErrWrongDistro when asserting Alpine as *Ubuntu")
	}
	if u, err := As[*Alpine](&b); err != nil || u == nil {
		t.Fatalf("expected successful As[*Alpine], got %v, %v", u, err)
	}
}

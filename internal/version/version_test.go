package version

import (
	"testing"

	"github.com/vagga-go/vagga/internal/buildstep"
)

func TestShortIsDeterministic(t *testing.T) {
	build := func() *Container {
		return &Container{
			Name: "test",
			UIDs: [][2]uint32{{0, 65535}},
			GIDs: [][2]uint32{{0, 65535}},
			Setup: []buildstep.Step{
				&buildstep.UbuntuBase{Codename: "jammy"},
				&buildstep.Install{Packages: []string{"curl"}},
			},
		}
	}
	a, err := Short(build())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Short(build())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected deterministic short version, got %s != %s", a, b)
	}
	if len(a) != 8 {
		t.Fatalf("expected 8-char short version, got %d chars", len(a))
	}
}

func TestDifferentPackagesChangeVersion(t *testing.T) {
	base := &Container{
		Setup: []buildstep.Step{&buildstep.Install{Packages: []string{"curl"}}},
	}
	other := &Container{
		Setup: []buildstep.Step{&buildstep.Install{Packages: []string{"wget"}}},
	}
	a, _ := Long(base)
	b, _ := Long(other)
	if a == b {
		t.Fatal("expected different package lists to produce different versions")
	}
}

func TestDebugProducesReadableLog(t *testing.T) {
	c := &Container{Setup: []buildstep.Step{&buildstep.Sh{Script: "echo hi"}}}
	hash, log, err := Debug(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 64 {
		t.Fatalf("expected 64-char hash, got %d", len(hash))
	}
	if log == "" {
		t.Fatal("expected non-empty debug log")
	}
}

package buildstep

import (
	"testing"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
)

func TestHashStepsOrderSensitive(t *testing.T) {
	a := []Step{&Sh{Script: "one"}, &Sh{Script: "two"}}
	b := []Step{&Sh{Script: "two"}, &Sh{Script: "one"}}

	da, db := digest.New(false), digest.New(false)
	if err := HashSteps(a, da); err != nil {
		t.Fatal(err)
	}
	if err := HashSteps(b, db); err != nil {
		t.Fatal(err)
	}
	if da.ResultHex() == db.ResultHex() {
		t.Fatal("reordering steps must change the hash")
	}
}

func TestEnvStepSetsContextEnviron(t *testing.T) {
	ctx := buildctx.New(t.TempDir(), t.TempDir())
	step := &Env{Vars: map[string]string{"FOO": "bar"}}
	if err := step.Build(ctx, false); err != nil {
		t.Fatal(err)
	}
	if ctx.Environ()["FOO"] != "bar" {
		t.Fatalf("expected FOO=bar in environ, got %v", ctx.Environ())
	}
}

func TestInstallWithNoDistroFails(t *testing.T) {
	ctx := buildctx.New(t.TempDir(), t.TempDir())
	step := &Install{Packages: []string{"curl"}}
	if err := step.Build(ctx, false); err == nil {
		t.Fatal("expected an error when installing with no distribution claimed")
	}
}

func TestUbuntuBaseClaimsDistroOnDryRun(t *testing.T) {
	ctx := buildctx.New(t.TempDir(), t.TempDir())
	step := &UbuntuBase{Codename: "jammy"}
	if err := step.Build(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !ctx.Distro.IsSet() {
		t.Fatal("expected distribution to be claimed even on a dry run")
	}
}

func TestCollectDownloadsSkipsNonDownloaders(t *testing.T) {
	steps := []Step{&Sh{Script: "x"}, &Install{Packages: []string{"curl"}}}
	if got := CollectDownloads(steps); len(got) != 0 {
		t.Fatalf("expected no downloads from these step kinds, got %v", got)
	}
}

func TestSubContainerHashFailsUntilResolved(t *testing.T) {
	step := &SubContainer{ContainerName: "base"}
	d := digest.New(false)
	err := step.Hash(d)
	if err == nil {
		t.Fatal("expected an error hashing an unresolved Container step")
	}
	if _, ok := err.(*ErrNotReady); !ok {
		t.Fatalf("expected *ErrNotReady, got %T", err)
	}

	step.Version = "abc123"
	if err := step.Hash(digest.New(false)); err != nil {
		t.Fatalf("expected hashing to succeed once Version is resolved: %v", err)
	}
}

func TestSubContainerDependsOnContainer(t *testing.T) {
	step := &SubContainer{ContainerName: "base"}
	var s SubContainerStep = step
	if s.DependsOnContainer() != "base" {
		t.Fatalf("expected DependsOnContainer to return %q, got %q", "base", s.DependsOnContainer())
	}
}

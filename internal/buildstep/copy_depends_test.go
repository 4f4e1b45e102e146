package buildstep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
)

func TestDependsHashChangesWithFileContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "VERSION")
	os.WriteFile(path, []byte("1"), 0644)

	step := &Depends{Path: "VERSION", ProjectRoot: root}
	d1 := digest.New(false)
	if err := step.Hash(d1); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(path, []byte("2"), 0644)
	d2 := digest.New(false)
	if err := step.Hash(d2); err != nil {
		t.Fatal(err)
	}

	if d1.ResultHex() == d2.ResultHex() {
		t.Fatal("expected touching the depended-on file to change the hash")
	}
}

func TestDependsHashWalksDirectoryContents(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755)
	os.WriteFile(filepath.Join(root, "src", "pkg", "a.go"), []byte("package pkg"), 0644)

	step := &Depends{Path: "src", ProjectRoot: root}
	d1 := digest.New(false)
	if err := step.Hash(d1); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(root, "src", "pkg", "a.go"), []byte("package pkg2"), 0644)
	d2 := digest.New(false)
	if err := step.Hash(d2); err != nil {
		t.Fatal(err)
	}

	if d1.ResultHex() == d2.ResultHex() {
		t.Fatal("expected a changed file under the dependency directory to change the hash")
	}
}

func TestCopyBuildWritesFilteredTree(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "app"), 0755)
	os.WriteFile(filepath.Join(root, "app", "main.go"), []byte("package main"), 0644)
	os.MkdirAll(filepath.Join(root, "app", ".git"), 0755)
	os.WriteFile(filepath.Join(root, "app", ".git", "HEAD"), []byte("ref: refs/heads/main"), 0644)

	ctx := buildctx.New(t.TempDir(), t.TempDir())
	step := &Copy{Source: "app", Dest: "/work", Ignore: []string{".git/"}, ProjectRoot: root}
	if err := step.Build(ctx, false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(ctx.RootDir(), "work", "main.go")); err != nil {
		t.Fatalf("expected main.go copied into root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ctx.RootDir(), "work", ".git")); !os.IsNotExist(err) {
		t.Fatal("expected .git excluded by the ignore rule")
	}
}

func TestCopyHashChangesWhenSourceContentChanges(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "app"), 0755)
	os.WriteFile(filepath.Join(root, "app", "main.go"), []byte("package main"), 0644)

	step := &Copy{Source: "app", Dest: "/work", ProjectRoot: root}
	d1 := digest.New(false)
	if err := step.Hash(d1); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(root, "app", "main.go"), []byte("package main2"), 0644)
	d2 := digest.New(false)
	if err := step.Hash(d2); err != nil {
		t.Fatal(err)
	}

	if d1.ResultHex() == d2.ResultHex() {
		t.Fatal("expected changed source content to change the Copy step's hash")
	}
}

func TestCopyBuildSingleFile(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "config.toml"), []byte("[x]\n"), 0644)

	ctx := buildctx.New(t.TempDir(), t.TempDir())
	step := &Copy{Source: "config.toml", Dest: "/etc/app/config.toml", ProjectRoot: root}
	if err := step.Build(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(ctx.RootDir(), "etc", "app", "config.toml")); err != nil {
		t.Fatalf("expected config.toml copied: %v", err)
	}
}

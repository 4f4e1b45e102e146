// Package builder drives a container definition through the
// hash-then-build protocol and commits the result to the on-disk
// store: compute the version hash, skip the build entirely if that
// version already exists (unless forced), otherwise run every setup
// step against a fresh build context and atomically publish the
// result (spec.md §4.H).
package builder

import (
	"fmt"
	"os"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/store"
	"github.com/vagga-go/vagga/internal/version"
)

// Driver builds containers into a Store, mirroring the original's
// `build_container`/`link_container`/`ensure_container` trio.
type Driver struct {
	Store *store.Store
}

func New(s *store.Store) *Driver {
	return &Driver{Store: s}
}

// Result describes the outcome of a Build call.
type Result struct {
	// Name is the container's friendly name.
	Name string
	// Hash is the short version identifier the built root is stored
	// under.
	Hash string
	// RootFS is the absolute path to the container's filesystem root.
	RootFS string
	// Built is true when this call actually ran the setup steps;
	// false when an existing cached version satisfied the request.
	Built bool
}

// Build computes c's version hash and, unless a matching root already
// exists in the store (or force is set), runs its setup steps to
// produce one, committing the result and repointing the friendly-name
// symlink — the Go equivalent of `build_container` followed
// unconditionally by `link_container`, since every successful build in
// this implementation also updates the pointer.
func (b *Driver) Build(c *version.Container, force bool) (*Result, error) {
	hash, err := version.Short(c)
	if err != nil {
		return nil, fmt.Errorf("computing version for %s: %w", c.Name, err)
	}

	if !force && b.Store.Exists(c.Name, hash) {
		if err := b.Store.UpdatePointer(c.Name, hash); err != nil {
			return nil, err
		}
		return &Result{Name: c.Name, Hash: hash, RootFS: b.Store.RootFS(c.Name, hash), Built: false}, nil
	}

	tmpRoot, err := b.prepareTmpRoot(c.Name, hash)
	if err != nil {
		return nil, err
	}

	srcRoot := b.Store.RootPath(c.Name, hash) + ".tmp"
	ctx := buildctx.New(tmpRoot, b.Store.RootPath(c.Name, hash)+".cache")
	guard := &buildstep.Guard{Ctx: ctx}
	if err := guard.Run(c.Setup, true); err != nil {
		os.RemoveAll(srcRoot)
		return nil, fmt.Errorf("building %s: %w", c.Name, err)
	}

	for _, dir := range []string{"proc", "sys", "dev", "work", "tmp", "etc"} {
		if err := os.MkdirAll(ctx.RootDir()+"/"+dir, 0755); err != nil {
			os.RemoveAll(srcRoot)
			return nil, fmt.Errorf("ensuring %s: %w", dir, err)
		}
	}

	if err := b.Store.Commit(c.Name, hash, srcRoot); err != nil {
		os.RemoveAll(srcRoot)
		return nil, err
	}

	return &Result{Name: c.Name, Hash: hash, RootFS: b.Store.RootFS(c.Name, hash), Built: true}, nil
}

// prepareTmpRoot creates the "<name>.<hash>.tmp/root" directory a
// build runs against, clearing out any leftovers from a previous
// interrupted attempt first.
func (b *Driver) prepareTmpRoot(name, hash string) (string, error) {
	tmpContainer := b.Store.RootPath(name, hash) + ".tmp"
	if err := os.RemoveAll(tmpContainer); err != nil {
		return "", fmt.Errorf("clearing stale tmp dir: %w", err)
	}
	root := tmpContainer + "/root"
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("creating tmp root: %w", err)
	}
	return root, nil
}

// Ensure resolves a container's currently-built root without
// recomputing its version hash, for use when the caller has disabled
// up-to-date checking (the original's `ensure_container` with
// `version_check` off): it trusts the friendly-name pointer as-is and
// fails if the container was never built.
func (b *Driver) Ensure(name string) (*Result, error) {
	hash, err := b.Store.ResolvePointer(name)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("container %s not found: not yet built", name)
	}
	return &Result{Name: name, Hash: hash, RootFS: b.Store.RootFS(name, hash), Built: false}, nil
}

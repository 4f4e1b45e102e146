package builder

import (
	"fmt"
	"os"
	"path/filepath"
)

// MakeTransient returns a hard-linked writable copy of the named
// container's already-built root for version hash, placed under
// "<store>/.transient/<name>.<pid>/root": one-shot runs that mutate
// files (package installs for a throwaway shell, say) get a private
// view without touching the committed root, and the copy is reclaimed
// by removing its directory once the run exits (spec.md §6's
// ".transient/" filesystem-layout entry).
func (b *Driver) MakeTransient(name string, hash string, pid int) (string, error) {
	src := b.Store.RootFS(name, hash)
	destRoot := filepath.Join(b.Store.Root, ".transient", fmt.Sprintf("%s.%d", name, pid))
	dest := filepath.Join(destRoot, "root")
	if err := os.RemoveAll(destRoot); err != nil {
		return "", fmt.Errorf("clearing stale transient dir: %w", err)
	}
	if err := hardlinkTree(src, dest); err != nil {
		os.RemoveAll(destRoot)
		return "", fmt.Errorf("hardlinking transient copy of %s: %w", name, err)
	}
	return dest, nil
}

// RemoveTransient deletes a transient copy created by MakeTransient,
// once its one-shot run has exited.
func (b *Driver) RemoveTransient(name string, pid int) error {
	destRoot := filepath.Join(b.Store.Root, ".transient", fmt.Sprintf("%s.%d", name, pid))
	return os.RemoveAll(destRoot)
}

// hardlinkTree recreates src's directory structure at dest, hard
// linking every regular file and recreating symlinks, so the copy
// shares disk blocks with src until a file in dest is replaced.
func hardlinkTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", path, err)
			}
			return os.Symlink(link, target)
		default:
			return os.Link(path, target)
		}
	})
}

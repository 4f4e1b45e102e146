package buildstep

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
	"github.com/vagga-go/vagga/internal/distro"
	"github.com/vagga-go/vagga/internal/pathfilter"
)

// Install installs packages using whichever distribution was claimed
// earlier in the same setup list.
type Install struct {
	Packages []string
}

func (s *Install) Name() string { return "Install" }

func (s *Install) Hash(d *digest.Digest) error {
	d.StringList("packages", s.Packages)
	return nil
}

func (s *Install) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	dist, err := ctx.Distro.Get()
	if err != nil {
		return err
	}
	return dist.Install(ctx, s.Packages)
}

// Sh runs a shell snippet via /bin/sh -c.
type Sh struct {
	Script string
}

func (s *Sh) Name() string { return "Sh" }

func (s *Sh) Hash(d *digest.Digest) error {
	d.Field("script", s.Script)
	return nil
}

func (s *Sh) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	return ctx.Run("/bin/sh", "-c", s.Script)
}

// Cmd runs an argv directly, without a shell.
type Cmd struct {
	Argv []string
}

func (s *Cmd) Name() string { return "Cmd" }

func (s *Cmd) Hash(d *digest.Digest) error {
	d.StringList("argv", s.Argv)
	return nil
}

func (s *Cmd) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	return ctx.Run(s.Argv...)
}

// Env sets environment variables visible to every later step and
// baked into the final container's runtime environment.
type Env struct {
	Vars map[string]string
}

func (s *Env) Name() string { return "Env" }

func (s *Env) Hash(d *digest.Digest) error {
	d.StringSet("env", s.Vars)
	return nil
}

func (s *Env) Build(ctx *buildctx.Context, dryRun bool) error {
	for k, v := range s.Vars {
		ctx.SetEnv(k, v)
	}
	return nil
}

// EnsureDir creates a directory (and its parents) inside the
// container root if it does not already exist.
type EnsureDir struct {
	Path string
}

func (s *EnsureDir) Name() string { return "EnsureDir" }

func (s *EnsureDir) Hash(d *digest.Digest) error {
	d.Path("path", s.Path)
	return nil
}

func (s *EnsureDir) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	full := filepath.Join(ctx.RootDir(), s.Path)
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", s.Path, err)
	}
	return nil
}

// Remove deletes a path (recursively) from the container root when the
// step runs; a later step in the same list may create it again.
type Remove struct {
	Path string
}

func (s *Remove) Name() string { return "Remove" }

func (s *Remove) Hash(d *digest.Digest) error {
	d.Path("path", s.Path)
	return nil
}

func (s *Remove) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	full := filepath.Join(ctx.RootDir(), s.Path)
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("remove %s: %w", s.Path, err)
	}
	return nil
}

// CacheDirs pairs directories inside the container with named cache
// directories under the build context's cache root (e.g. package
// manager caches). Build creates both directories, records the
// container path for teardown and logs the pairing; it does not mount
// the cache directory over the container path, so files written there
// stay in the container root.
type CacheDirs struct {
	Dirs map[string]string // container path -> cache name
}

func (s *CacheDirs) Name() string { return "CacheDirs" }

func (s *CacheDirs) Hash(d *digest.Digest) error {
	// cache directories don't change build output, only where state is
	// stored, so they intentionally do not participate in the hash
	return nil
}

func (s *CacheDirs) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	for containerPath, cacheName := range s.Dirs {
		cacheDir, err := ctx.CacheDir(cacheName)
		if err != nil {
			return err
		}
		full := filepath.Join(ctx.RootDir(), containerPath)
		if err := os.MkdirAll(full, 0755); err != nil {
			return fmt.Errorf("cache dir %s: %w", containerPath, err)
		}
		ctx.AddTeardown(full)
		ctx.Log(fmt.Sprintf("cache dir %s -> %s", containerPath, cacheDir))
	}
	return nil
}

// Depends declares that this container's cached identity must change
// whenever a named file or directory outside the container definition
// changes, without otherwise affecting the build. Path is resolved
// against ProjectRoot (the vagga.yaml's directory) when relative; Hash
// walks it itself with pathfilter rather than trusting a
// caller-supplied digest, so a touched dependency is detected however
// ProjectRoot gets threaded in.
type Depends struct {
	Path        string
	ProjectRoot string
}

func (s *Depends) Name() string { return "Depends" }

func (s *Depends) resolvedPath() string {
	if s.ProjectRoot != "" && !filepath.IsAbs(s.Path) {
		return filepath.Join(s.ProjectRoot, s.Path)
	}
	return s.Path
}

func (s *Depends) Hash(d *digest.Digest) error {
	d.Path("path", s.Path)
	full := s.resolvedPath()
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("depends %s: %w", s.Path, err)
	}
	if !info.IsDir() {
		f, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("depends %s: %w", s.Path, err)
		}
		defer f.Close()
		return d.File(s.Path, f)
	}
	pf, err := pathfilter.NewGlob(nil)
	if err != nil {
		return err
	}
	return pf.Walk(full, func(rel string, de os.DirEntry, m pathfilter.Match) error {
		d.Field("depends-entry", rel)
		if de.IsDir() {
			return nil
		}
		f, err := os.Open(filepath.Join(full, rel))
		if err != nil {
			return err
		}
		defer f.Close()
		return d.File(rel, f)
	})
}

func (s *Depends) Build(ctx *buildctx.Context, dryRun bool) error {
	return nil
}

// Copy copies a file or directory from the project tree into the
// container root, honoring the same pathfilter Ignore rules used to
// decide what contributes to the hash in the first place so the two
// never disagree.
type Copy struct {
	Source      string
	Dest        string
	Ignore      []string
	ProjectRoot string
}

func (s *Copy) Name() string { return "Copy" }

func (s *Copy) resolvedSource() string {
	if s.ProjectRoot != "" && !filepath.IsAbs(s.Source) {
		return filepath.Join(s.ProjectRoot, s.Source)
	}
	return s.Source
}

// ignoreFilter compiles Ignore as gitignore-style globs in which every
// entry is an ignore rule: whatever an entry matches is left out.
func (s *Copy) ignoreFilter() (*pathfilter.PathFilter, error) {
	rules := make([]string, len(s.Ignore))
	for i, r := range s.Ignore {
		rules[i] = "!" + r
	}
	return pathfilter.NewGlob(rules)
}

func (s *Copy) Hash(d *digest.Digest) error {
	d.Path("dest", s.Dest)
	d.StringList("ignore", s.Ignore)
	full := s.resolvedSource()
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("copy %s: %w", s.Source, err)
	}
	if !info.IsDir() {
		f, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("copy %s: %w", s.Source, err)
		}
		defer f.Close()
		return d.File(filepath.Base(full), f)
	}
	pf, err := s.ignoreFilter()
	if err != nil {
		return err
	}
	return pf.Walk(full, func(rel string, de os.DirEntry, m pathfilter.Match) error {
		d.Field("copy-entry", rel)
		if de.IsDir() {
			return nil
		}
		f, err := os.Open(filepath.Join(full, rel))
		if err != nil {
			return err
		}
		defer f.Close()
		return d.File(rel, f)
	})
}

func (s *Copy) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	full := s.resolvedSource()
	destFull := filepath.Join(ctx.RootDir(), s.Dest)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("copy %s: %w", s.Source, err)
	}
	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(destFull), 0755); err != nil {
			return fmt.Errorf("copy %s: %w", s.Source, err)
		}
		return copyFile(full, destFull, info.Mode())
	}
	if err := os.MkdirAll(destFull, 0755); err != nil {
		return fmt.Errorf("copy %s: %w", s.Source, err)
	}
	pf, err := s.ignoreFilter()
	if err != nil {
		return err
	}
	return pf.Walk(full, func(rel string, de os.DirEntry, m pathfilter.Match) error {
		srcPath := filepath.Join(full, rel)
		dstPath := filepath.Join(destFull, rel)
		info, err := de.Info()
		if err != nil {
			return err
		}
		if de.IsDir() {
			return os.MkdirAll(dstPath, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			return os.Symlink(target, dstPath)
		}
		return copyFile(srcPath, dstPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// UbuntuBase claims the distribution slot as Ubuntu and bootstraps its
// initial root filesystem.
type UbuntuBase struct {
	Codename string
	Mirror   string
}

func (s *UbuntuBase) Name() string { return "Ubuntu" }

func (s *UbuntuBase) Hash(d *digest.Digest) error {
	d.Field("codename", s.Codename)
	d.OptString("mirror", s.Mirror, s.Mirror != "")
	return nil
}

func (s *UbuntuBase) Build(ctx *buildctx.Context, dryRun bool) error {
	u := distro.NewUbuntu(s.Codename, s.Mirror)
	if err := ctx.Distro.Set(u); err != nil {
		return err
	}
	ctx.SetEnv("DEBIAN_FRONTEND", "noninteractive")
	ctx.SetEnv("LANG", "en_US.UTF-8")
	ctx.SetEnv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	if dryRun {
		return nil
	}
	return u.Bootstrap(ctx)
}

// AlpineBase claims the distribution slot as Alpine and bootstraps its
// initial root filesystem.
type AlpineBase struct {
	Version string
	Mirror  string
}

func (s *AlpineBase) Name() string { return "Alpine" }

func (s *AlpineBase) Hash(d *digest.Digest) error {
	d.Field("version", s.Version)
	d.OptString("mirror", s.Mirror, s.Mirror != "")
	return nil
}

func (s *AlpineBase) Build(ctx *buildctx.Context, dryRun bool) error {
	a := distro.NewAlpine(s.Version, s.Mirror)
	if err := ctx.Distro.Set(a); err != nil {
		return err
	}
	ctx.SetEnv("LANG", "en_US.UTF-8")
	ctx.SetEnv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	if dryRun {
		return nil
	}
	return a.Bootstrap(ctx)
}

// Text writes literal file contents into the container root.
type Text struct {
	Files map[string]string // container path -> content
}

func (s *Text) Name() string { return "Text" }

func (s *Text) Hash(d *digest.Digest) error {
	d.StringSet("files", s.Files)
	return nil
}

func (s *Text) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	for path, content := range s.Files {
		full := filepath.Join(ctx.RootDir(), path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("text %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return fmt.Errorf("text %s: %w", path, err)
		}
	}
	return nil
}

// SubContainer embeds another container's already-built filesystem
// into this one (the "Container" setup step). ContainerName is the
// name to resolve and order builds by; RootFS and Version are filled
// in by the driver once the referenced container has been built, not
// by the YAML decoder, since that's the only point with access to the
// rest of the configuration and the store.
type SubContainer struct {
	ContainerName string
	Version       string // referenced container's resolved short hash
	RootFS        string // referenced container's built "root" directory
}

func (s *SubContainer) Name() string { return "Container" }

// DependsOnContainer implements SubContainerStep.
func (s *SubContainer) DependsOnContainer() string { return s.ContainerName }

func (s *SubContainer) Hash(d *digest.Digest) error {
	if s.Version == "" {
		return &ErrNotReady{ContainerName: s.ContainerName}
	}
	d.Field("container", s.ContainerName)
	d.Field("container_version", s.Version)
	return nil
}

func (s *SubContainer) Build(ctx *buildctx.Context, dryRun bool) error {
	if s.RootFS == "" {
		return &ErrNotReady{ContainerName: s.ContainerName}
	}
	if dryRun {
		return nil
	}
	cmd := exec.Command("cp", "-a", s.RootFS+"/.", ctx.RootDir())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("copying container %s: %w", s.ContainerName, err)
	}
	return nil
}

// ErrNotReady is returned by SubContainer's Hash or Build when the
// referenced container hasn't been resolved yet: the driver must build
// it first and fill in Version/RootFS before retrying (spec.md's "New"
// hash failure kind, scenario S5).
type ErrNotReady struct {
	ContainerName string
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("container %q not yet built", e.ContainerName)
}

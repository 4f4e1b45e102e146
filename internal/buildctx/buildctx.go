// Package buildctx implements the mutable per-build context threaded
// through every build step: the claimed distribution, the container's
// environment map, cache directories, a teardown list of mounts made
// during the build, and a transition log used for diagnostics
// (spec.md §4.E).
package buildctx

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/vagga-go/vagga/internal/distro"
)

// Context is the build-time state shared by every step of a single
// container build.
type Context struct {
	Distro distro.Box

	root      string
	cacheRoot string
	environ   map[string]string
	mounts    []string // mount points to tear down, in reverse order
	featured  map[string]bool
	log       []string
}

// New creates a Context rooted at root (the directory that will
// become the container's "/"), with per-build caches under cacheRoot.
func New(root, cacheRoot string) *Context {
	return &Context{
		root:      root,
		cacheRoot: cacheRoot,
		environ:   map[string]string{},
		featured:  map[string]bool{},
	}
}

// RootDir returns the path that will become the container's root
// filesystem once the build commits. Implements distro.BuildContext.
func (c *Context) RootDir() string { return c.root }

// Run executes a command on the host with the context's environment
// (EnvironList) and the caller's working directory, recording the
// invocation in the transition log. It does not chroot into or change
// directory to the build root.
func (c *Context) Run(args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("buildctx: Run called with no arguments")
	}
	c.Log(fmt.Sprintf("run: %v", args))
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = c.EnvironList()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %v: %w", args, err)
	}
	return nil
}

// CacheDir returns (creating if necessary) a per-build-step cache
// directory under the context's shared cache root, e.g. for apt or
// apk package caches shared across container rebuilds.
func (c *Context) CacheDir(name string) (string, error) {
	dir := filepath.Join(c.cacheRoot, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return dir, nil
}

// SetEnv sets an environment variable that will be visible to every
// subsequent step's Run and baked into the final container's runtime
// environment.
func (c *Context) SetEnv(key, value string) {
	c.environ[key] = value
}

// UnsetEnv removes a variable set earlier in the build.
func (c *Context) UnsetEnv(key string) {
	delete(c.environ, key)
}

// Environ returns a copy of the accumulated environment map.
func (c *Context) Environ() map[string]string {
	out := make(map[string]string, len(c.environ))
	for k, v := range c.environ {
		out[k] = v
	}
	return out
}

// EnvironList returns the environment as "KEY=VALUE" strings sorted
// by key, suitable for exec.Cmd.Env; sorting keeps Run invocations
// reproducible across Go map iteration order.
func (c *Context) EnvironList() []string {
	keys := make([]string, 0, len(c.environ))
	for k := range c.environ {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.environ[k])
	}
	return out
}

// AddTeardown records a mount point created during the build so it can
// be unmounted, in reverse order, once the build finishes or fails.
func (c *Context) AddTeardown(mountPoint string) {
	c.mounts = append(c.mounts, mountPoint)
}

// TeardownList returns the recorded mount points in the reverse order
// they should be unmounted.
func (c *Context) TeardownList() []string {
	out := make([]string, len(c.mounts))
	for i, m := range c.mounts {
		out[len(out)-1-i] = m
	}
	return out
}

// MarkFeatured records that a step requiring the named feature (e.g.
// "pip", "nodejs") has already run, so repeated Depends/EnsurePackages
// calls for the same feature across steps don't redo setup work.
func (c *Context) MarkFeatured(feature string) bool {
	if c.featured[feature] {
		return false
	}
	c.featured[feature] = true
	return true
}

// Log appends a line to the build's transition log, read back with
// TransitionLog.
func (c *Context) Log(line string) {
	c.log = append(c.log, line)
}

// TransitionLog returns every line recorded via Log, in order.
func (c *Context) TransitionLog() []string {
	out := make([]string, len(c.log))
	copy(out, c.log)
	return out
}

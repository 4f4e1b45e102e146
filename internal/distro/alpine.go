package distro

import "fmt"

const defaultAlpineMirror = "http://dl-cdn.alpinelinux.org/alpine"

// Alpine is a musl/apk-based Distribution. Unlike Ubuntu it has no
// universe-style secondary repository to lazily enable, but it does
// lazily enable the "edge" testing repository the same way, the first
// time a package requires it.
type Alpine struct {
	Version string // e.g. "3.19", or "edge"
	Mirror  string

	edgeEnabled bool
	indexFresh  bool
}

func NewAlpine(version, mirror string) *Alpine {
	if mirror == "" {
		mirror = defaultAlpineMirror
	}
	return &Alpine{Version: version, Mirror: mirror}
}

func (a *Alpine) Name() string { return "Alpine " + a.Version }

func (a *Alpine) Bootstrap(ctx BuildContext) error {
	cache, err := ctx.CacheDir("apk")
	if err != nil {
		return fmt.Errorf("alpine bootstrap: %w", err)
	}
	repo := a.Mirror + "/v" + a.Version + "/main"
	return ctx.Run("apk", "--arch=x86_64",
		"--cache-dir="+cache,
		"-X", repo, "-U", "--allow-untrusted",
		"--root", ctx.RootDir(), "--initdb",
		"add", "alpine-baselayout", "busybox", "musl-utils")
}

func (a *Alpine) refreshIndexOnce(ctx BuildContext) error {
	if a.indexFresh {
		return nil
	}
	if err := ctx.Run("apk", "--root", ctx.RootDir(), "update"); err != nil {
		return fmt.Errorf("apk update: %w", err)
	}
	a.indexFresh = true
	return nil
}

func (a *Alpine) enableEdgeOnce(ctx BuildContext) error {
	if a.edgeEnabled {
		return nil
	}
	edge := a.Mirror + "/edge/testing"
	if err := ctx.Run("sh", "-c",
		fmt.Sprintf("echo %s >> %s/etc/apk/repositories", edge, ctx.RootDir())); err != nil {
		return fmt.Errorf("enabling edge/testing: %w", err)
	}
	a.edgeEnabled = true
	a.indexFresh = false
	return nil
}

func (a *Alpine) Install(ctx BuildContext, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	if err := a.refreshIndexOnce(ctx); err != nil {
		return err
	}
	args := append([]string{"apk", "--root", ctx.RootDir(), "add"}, packages...)
	return ctx.Run(args...)
}

var edgePackages = map[string][]string{
	"nodejs-lts": {"nodejs"},
}

func (a *Alpine) EnsurePackages(ctx BuildContext, features []string) ([]string, error) {
	var toInstall []string
	needsEdge := false
	for _, f := range features {
		pkgs, ok := edgePackages[f]
		if !ok {
			continue
		}
		toInstall = append(toInstall, pkgs...)
		needsEdge = true
	}
	if needsEdge {
		if err := a.enableEdgeOnce(ctx); err != nil {
			return nil, err
		}
	}
	if len(toInstall) == 0 {
		return nil, nil
	}
	if err := a.Install(ctx, toInstall); err != nil {
		return nil, err
	}
	return toInstall, nil
}

func (a *Alpine) Finish(ctx BuildContext) error {
	return ctx.Run("sh", "-c", "rm -rf "+ctx.RootDir()+"/var/cache/apk/*")
}

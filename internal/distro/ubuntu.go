package distro

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultUbuntuMirror = "http://archive.ubuntu.com/ubuntu"

// Ubuntu is a Debian-family Distribution backed by debootstrap and
// apt. Its set-once flags mirror the original builder's Ubuntu step:
// the apt package list is refreshed lazily, at most once per build,
// and the universe repository is enabled lazily, at most once, the
// first time a package requires it.
type Ubuntu struct {
	Codename string
	Mirror   string

	aptRefreshed  bool
	universeAdded bool
}

// NewUbuntu constructs an Ubuntu distribution for the given codename
// (e.g. "jammy", "noble"). If mirror is empty, defaultUbuntuMirror is
// used.
func NewUbuntu(codename, mirror string) *Ubuntu {
	if mirror == "" {
		mirror = defaultUbuntuMirror
	}
	return &Ubuntu{Codename: codename, Mirror: mirror}
}

func (u *Ubuntu) Name() string { return "Ubuntu " + u.Codename }

func (u *Ubuntu) Bootstrap(ctx BuildContext) error {
	cache, err := ctx.CacheDir("debootstrap")
	if err != nil {
		return fmt.Errorf("ubuntu bootstrap: %w", err)
	}
	return ctx.Run("debootstrap",
		"--variant=minbase",
		"--cache-dir="+cache,
		u.Codename, ctx.RootDir(), u.Mirror)
}

func (u *Ubuntu) refreshAptOnce(ctx BuildContext) error {
	if u.aptRefreshed {
		return nil
	}
	if err := ctx.Run("apt-get", "update"); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	u.aptRefreshed = true
	return nil
}

func (u *Ubuntu) enableUniverseOnce(ctx BuildContext) error {
	if u.universeAdded {
		return nil
	}
	sourcesDir := filepath.Join(ctx.RootDir(), "etc/apt/sources.list.d")
	if err := os.MkdirAll(sourcesDir, 0755); err != nil {
		return fmt.Errorf("enabling universe: %w", err)
	}
	entry := fmt.Sprintf("deb %s %s universe\n", u.Mirror, u.Codename)
	path := filepath.Join(sourcesDir, "universe.list")
	if err := os.WriteFile(path, []byte(entry), 0644); err != nil {
		return fmt.Errorf("enabling universe: %w", err)
	}
	u.universeAdded = true
	// enabling a new repo always requires a fresh package list
	u.aptRefreshed = false
	return nil
}

func (u *Ubuntu) Install(ctx BuildContext, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	if err := u.refreshAptOnce(ctx); err != nil {
		return err
	}
	args := append([]string{"apt-get", "install", "--no-install-recommends", "-y"}, packages...)
	return ctx.Run(args...)
}

// universePackages lists packages known to live only in the universe
// component, keyed by the feature name that needs them.
var universePackages = map[string][]string{
	"git":    {"git"},
	"nodejs": {"nodejs", "npm"},
}

func (u *Ubuntu) EnsurePackages(ctx BuildContext, features []string) ([]string, error) {
	var toInstall []string
	needsUniverse := false
	for _, f := range features {
		pkgs, ok := universePackages[f]
		if !ok {
			continue
		}
		toInstall = append(toInstall, pkgs...)
		needsUniverse = true
	}
	if needsUniverse {
		if err := u.enableUniverseOnce(ctx); err != nil {
			return nil, err
		}
	}
	if len(toInstall) == 0 {
		return nil, nil
	}
	if err := u.Install(ctx, toInstall); err != nil {
		return nil, err
	}
	return toInstall, nil
}

func (u *Ubuntu) Finish(ctx BuildContext) error {
	listsDir := filepath.Join(ctx.RootDir(), "var/lib/apt/lists")
	entries, err := os.ReadDir(listsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cleaning apt lists: %w", err)
	}
	for _, e := range entries {
		if e.Name() == "lock" || e.Name() == "partial" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(listsDir, e.Name())); err != nil {
			return fmt.Errorf("cleaning apt lists: %w", err)
		}
	}
	return nil
}

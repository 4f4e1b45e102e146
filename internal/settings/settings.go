// Package settings loads vagga's layered settings.yaml: the
// VAGGA_SETTINGS environment variable, then ~/.config/vagga/settings.yaml,
// then ~/.vagga.yaml, then built-in defaults, exactly in that order of
// precedence (spec.md's settings layer).
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the user-level configuration that influences every
// build and run, independent of any single project's vagga.yaml.
type Settings struct {
	UbuntuMirror    string `yaml:"ubuntu-mirror,omitempty"`
	AlpineMirror    string `yaml:"alpine-mirror,omitempty"`
	StorageDir      string `yaml:"storage-dir,omitempty"`
	CacheDir        string `yaml:"cache-dir,omitempty"`
	SiteSettings    string `yaml:"site-settings,omitempty"`
	HardlinkCopyDir string `yaml:"hardlink-copy-dir,omitempty"`
	ProxyEnv        *bool  `yaml:"proxy-env,omitempty"`
}

// Resolved is the fully resolved, default-filled settings a build
// actually runs with.
type Resolved struct {
	UbuntuMirror    string
	AlpineMirror    string
	StorageDir      string
	CacheDir        string
	HardlinkCopyDir string
	ProxyEnv        bool
}

const (
	defaultUbuntuMirror = "http://archive.ubuntu.com/ubuntu"
	defaultAlpineMirror = "http://dl-cdn.alpinelinux.org/alpine"
)

// candidatePaths returns the settings file locations to try, most to
// least specific: $VAGGA_SETTINGS, ~/.config/vagga/settings.yaml,
// ~/.vagga.yaml.
func candidatePaths() []string {
	var out []string
	if p := os.Getenv("VAGGA_SETTINGS"); p != "" {
		out = append(out, p)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(configDir, "vagga", "settings.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".vagga.yaml"))
	}
	return out
}

// Load reads the first settings file that exists among the candidate
// paths, in precedence order, and merges it over the zero value.
// Returns an empty Settings (not an error) if none exist.
func Load() (*Settings, error) {
	for _, path := range candidatePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var s Settings
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &s, nil
	}
	return &Settings{}, nil
}

// Resolve loads the layered settings and fills in defaults for any
// field left unset, mirroring an env > file > default chain where
// "env" here is whole-file selection via VAGGA_SETTINGS rather than
// per-field environment variables.
func Resolve() (*Resolved, error) {
	s, err := Load()
	if err != nil {
		return nil, err
	}
	return &Resolved{
		UbuntuMirror:    resolveString(s.UbuntuMirror, defaultUbuntuMirror),
		AlpineMirror:    resolveString(s.AlpineMirror, defaultAlpineMirror),
		StorageDir:      resolveString(s.StorageDir, ".vagga"),
		CacheDir:        resolveString(s.CacheDir, defaultCacheDir()),
		HardlinkCopyDir: s.HardlinkCopyDir,
		ProxyEnv:        resolveBool(s.ProxyEnv, true),
	}, nil
}

func resolveString(val, def string) string {
	if val != "" {
		return val
	}
	return def
}

func resolveBool(val *bool, def bool) bool {
	if val != nil {
		return *val
	}
	return def
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "vagga")
	}
	return "/tmp/vagga-cache"
}

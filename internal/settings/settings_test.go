package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromVaggaSettingsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("ubuntu-mirror: http://example.invalid/ubuntu\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VAGGA_SETTINGS", path)

	s, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if s.UbuntuMirror != "http://example.invalid/ubuntu" {
		t.Fatalf("expected mirror from VAGGA_SETTINGS file, got %q", s.UbuntuMirror)
	}
}

func TestResolveFillsDefaults(t *testing.T) {
	t.Setenv("VAGGA_SETTINGS", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	r, err := Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if r.UbuntuMirror != defaultUbuntuMirror {
		t.Fatalf("expected default ubuntu mirror, got %q", r.UbuntuMirror)
	}
	if !r.ProxyEnv {
		t.Fatal("expected proxy-env to default to true")
	}
}

func TestProxyEnvExplicitFalseOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	os.WriteFile(path, []byte("proxy-env: false\n"), 0644)
	t.Setenv("VAGGA_SETTINGS", path)

	r, err := Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if r.ProxyEnv {
		t.Fatal("expected explicit proxy-env: false to be honored")
	}
}

package netns

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRuntimeDirPrefersXDG(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	dir := RuntimeDir(1000)
	if dir != "/run/user/1000/vagga" {
		t.Fatalf("expected XDG-based dir, got %s", dir)
	}
}

func TestRuntimeDirFallsBackToTmp(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	dir := RuntimeDir(1000)
	if dir != "/tmp/vagga-1000" {
		t.Fatalf("expected /tmp fallback, got %s", dir)
	}
}

func TestPathsAlreadyCreatedFalseWhenMissing(t *testing.T) {
	p := NewPaths(t.TempDir())
	if p.AlreadyCreated() {
		t.Fatal("expected fresh runtime dir to report not-created")
	}
}

func TestPathsAlreadyCreatedTrueWhenNetNSExists(t *testing.T) {
	dir := t.TempDir()
	p := NewPaths(dir)
	f, err := os.Create(filepath.Join(dir, "netns"))
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if !p.AlreadyCreated() {
		t.Fatal("expected AlreadyCreated to detect existing netns file")
	}
}

func TestDefaultBridgeMatchesFixedAddressing(t *testing.T) {
	b := DefaultBridge()
	if b.Interface != "vagga" || b.HostIP != "172.18.255.1" || b.GuestIP != "172.18.255.2/30" {
		t.Fatalf("unexpected bridge addressing: %+v", b)
	}
}

func TestDefaultRouteInterfaceNeverEmpty(t *testing.T) {
	if DefaultRouteInterface() == "" {
		t.Fatal("expected a non-empty interface name, even as a fallback")
	}
}

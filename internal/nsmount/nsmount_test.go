//go:build linux

package nsmount

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestCloneFlagsAlwaysIncludesMountNamespace(t *testing.T) {
	flags := Flags{}.cloneFlags()
	if flags&uintptr(unix.CLONE_NEWNS) == 0 {
		t.Fatal("expected CLONE_NEWNS to always be set")
	}
	if flags&uintptr(unix.CLONE_NEWPID) != 0 {
		t.Fatal("did not ask for PID namespace, should not be set")
	}
}

func TestCloneFlagsAdditive(t *testing.T) {
	flags := Flags{PID: true, Net: true}.cloneFlags()
	want := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWNET)
	if flags != want {
		t.Fatalf("got %x want %x", flags, want)
	}
	if flags&uintptr(unix.CLONE_NEWUTS) != 0 {
		t.Fatal("did not ask for UTS namespace, should not be set")
	}
}

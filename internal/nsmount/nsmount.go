//go:build linux

// Package nsmount builds the sandbox a container runs in: a fresh
// mount namespace (plus, for full containers, PID/UTS/IPC/net
// namespaces), the bind mounts that assemble the container root, and
// the pivot_root dance that makes it "/" for the supervised process
// (spec.md §4.G).
package nsmount

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Flags selects which namespaces to unshare when entering a sandbox.
// Mount namespace isolation is always implied; the rest are additive,
// mirroring the clone-flag combination used for full (non-userns-only)
// containers.
type Flags struct {
	PID bool
	UTS bool
	IPC bool
	Net bool
}

// cloneFlags returns the unshare(2) flag word for f, always including
// CLONE_NEWNS so the caller gets a private mount table.
func (f Flags) cloneFlags() uintptr {
	flags := uintptr(unix.CLONE_NEWNS)
	if f.PID {
		flags |= unix.CLONE_NEWPID
	}
	if f.UTS {
		flags |= unix.CLONE_NEWUTS
	}
	if f.IPC {
		flags |= unix.CLONE_NEWIPC
	}
	if f.Net {
		flags |= unix.CLONE_NEWNET
	}
	return flags
}

// Unshare detaches the calling thread into new namespaces per Flags.
// Callers must have already locked the calling goroutine to its OS
// thread (runtime.LockOSThread) before calling this, since namespace
// membership is per-thread.
func Unshare(f Flags) error {
	if err := unix.Unshare(int(f.cloneFlags())); err != nil {
		return fmt.Errorf("unshare: %w", err)
	}
	return nil
}

// MakePrivate recursively marks target (and everything under it) as a
// private mount, so bind mounts made afterward don't propagate back
// to the parent namespace.
func MakePrivate(target string) error {
	if err := unix.Mount("none", target, "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("making %s private: %w", target, err)
	}
	return nil
}

// BindMount bind-mounts source at target. If readonly, a second
// remount pass applies MS_RDONLY, since the kernel doesn't honor
// read-only bind mounts in a single mount(2) call.
func BindMount(source, target string, readonly bool) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", source, target, err)
	}
	if readonly {
		if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return fmt.Errorf("remount %s readonly: %w", target, err)
		}
	}
	return nil
}

// MountProc mounts a fresh procfs at target. The MS_NOSUID|MS_NOEXEC|
// MS_NODEV flags match the hardening every modern container runtime
// applies to a sandboxed /proc.
func MountProc(target string) error {
	flags := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV)
	if err := unix.Mount("proc", target, "proc", flags, ""); err != nil {
		return fmt.Errorf("mount proc at %s: %w", target, err)
	}
	return nil
}

// MountTmpfs mounts a tmpfs at target with the given mount options
// string (e.g. "size=64m,mode=0755").
func MountTmpfs(target, options string) error {
	if err := unix.Mount("tmpfs", target, "tmpfs", 0, options); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", target, err)
	}
	return nil
}

// Unmount lazily detaches target, tolerating "not mounted" so
// teardown can run unconditionally over a list of candidate mount
// points built up during setup.
func Unmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		if err == unix.EINVAL {
			return nil
		}
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// PivotRoot moves the current root to putOld (which must be a
// directory under newRoot) and makes newRoot the new "/", the same
// pattern every mount-namespace-based container runtime uses instead
// of chroot so the old root can be fully unmounted afterward.
func PivotRoot(newRoot, putOld string) error {
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return fmt.Errorf("pivot_root %s %s: %w", newRoot, putOld, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir after pivot_root: %w", err)
	}
	return nil
}

// UnmountOldRoot lazily detaches the old root mount point left behind
// by PivotRoot, at the path it was moved to (e.g. "/.oldroot").
func UnmountOldRoot(putOld string) error {
	return Unmount(putOld)
}

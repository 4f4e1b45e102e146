// Package sandbox assembles the unprivileged namespace a container
// runs in and hands control to the configured command: a fresh user
// namespace mapped via internal/idmap, the additional namespaces a
// full (non-userns-only) run isolates, and the bind-mount/pivot_root
// dance that makes a built container's root filesystem "/" for the
// process that becomes its pid 1 (spec.md §4.G/§4.I).
//
// Entering these namespaces from a running Go program means re-exec'ing
// this same binary (os.Executable) under a fresh clone rather than
// unshare()-ing the calling goroutine's thread in place: CLONE_NEWPID
// only takes effect for children created after the call, and the
// mapping newuidmap/newgidmap (internal/idmap) write has to target a
// concrete pid. The mapping itself is applied by the re-exec'd child
// to its own pid right after the clone, which the kernel permits for
// the process's own real uid/gid (the Singleton/root case) and for
// any subuid/subgid range an /etc/subuid entry grants it (the general
// case, via the setuid newuidmap/newgidmap helpers) — so no
// synchronization with the parent is needed once Command has embedded
// the resolved Mapping into the child's environment. Platform-specific
// halves live in sandbox_linux.go and sandbox_other.go.
package sandbox

import (
	"os/exec"

	"github.com/vagga-go/vagga/internal/idmap"
)

// Flags selects which namespaces, besides the mount and user
// namespaces every sandboxed run isolates, this run also isolates.
type Flags struct {
	PID bool
	UTS bool
	IPC bool
	Net bool
}

// Spec describes the sandbox one command execution runs inside.
type Spec struct {
	// RootFS is the built container's filesystem root.
	RootFS string
	// ProjectDir, if non-empty, is bind-mounted at "/work" inside the
	// sandbox.
	ProjectDir string
	Flags      Flags
	// Mapping is the uid/gid mapping the cloned child applies to
	// itself immediately after entering the new user namespace.
	Mapping *idmap.Mapping
	// IsRoot is true when the invoking user is already root, in which
	// case Mapping is applied by writing /proc/self/{uid,gid}_map
	// directly rather than through the newuidmap/newgidmap helpers.
	IsRoot bool
}

// Command builds the not-yet-started *exec.Cmd for the hidden
// "_enter_sandbox" re-exec that assembles spec's sandbox and execs
// argv as its pid 1. The caller decides how to run it: Run starts and
// waits for it directly; internal/supervisor instead runs several such
// commands concurrently as a child group.
func Command(spec Spec, argv []string, cmdDir string, environ []string) (*exec.Cmd, error) {
	return buildCommand(spec, argv, cmdDir, environ)
}

// Run starts and waits for a single sandboxed command, returning its
// exit code.
func Run(spec Spec, argv []string, cmdDir string, environ []string) (int, error) {
	return run(spec, argv, cmdDir, environ)
}

// EnterAndExec is the body of the hidden "_enter_sandbox" re-exec: it
// assumes the calling process is the freshly cloned child Command
// described, applies its uid/gid mapping to itself, assembles the
// sandbox (bind mounts, pivot_root), and execs argv as pid 1.
func EnterAndExec(argv []string) error {
	return enterAndExec(argv)
}

// Package runengine resolves a configured command against a built
// container and execs it inside the sandbox: working directory
// resolution, environment composition, PATH search, and the
// configurable PID-1 behavior a freshly unshared pid namespace needs
// (spec.md §4.I).
package runengine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// PID1Mode controls what runs as pid 1 inside the container's new pid
// namespace.
type PID1Mode int

const (
	// ExecDirect: the command itself becomes pid 1.
	ExecDirect PID1Mode = iota
	// Wait: a minimal supervisor is pid 1, waits for the command, and
	// exits with its status.
	Wait
	// WaitAllChildren: like Wait, but also reaps any orphaned
	// grandchildren before exiting.
	WaitAllChildren
)

// PropagatedHostVars lists the host environment variables carried
// into every container run before any container- or command-defined
// overlay is applied.
var PropagatedHostVars = []string{
	"TERM",
	"HTTP_PROXY", "HTTPS_PROXY", "FTP_PROXY", "ALL_PROXY", "NO_PROXY",
	"http_proxy", "https_proxy", "ftp_proxy", "all_proxy", "no_proxy",
}

const defaultPath = "/sbin:/bin:/usr/sbin:/usr/bin:/usr/local/sbin:/usr/local/bin"

// Plan is a fully resolved command ready to exec inside a sandbox.
type Plan struct {
	Argv    []string
	Dir     string
	Environ []string
	PID1    PID1Mode
}

// ErrCommandNotFound is returned when the executable isn't an
// explicit path and can't be found on PATH, listing every directory
// searched.
type ErrCommandNotFound struct {
	Name  string
	Tried []string
}

func (e *ErrCommandNotFound) Error() string {
	return fmt.Sprintf("command %q not found, tried: %s", e.Name, strings.Join(e.Tried, ", "))
}

// ResolveWorkdir turns a command-configured working directory into an
// absolute in-container path: a relative path is anchored at /work
// (where the run engine bind-mounts the project directory), an
// absolute path is used as-is.
func ResolveWorkdir(configured string) string {
	if configured == "" {
		return "/work"
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join("/work", configured)
}

// ComposeEnviron builds the final in-container environment: the
// propagated host variables the run engine was started with, then the
// container's own Environ, then the command's Environ, each layer
// overriding the last, falling back to defaultPath if nothing set
// PATH.
func ComposeEnviron(hostEnviron map[string]string, containerEnv, commandEnv map[string]string) []string {
	merged := map[string]string{}
	for _, key := range PropagatedHostVars {
		if v, ok := hostEnviron[key]; ok && v != "" {
			merged[key] = v
		}
	}
	for k, v := range containerEnv {
		merged[k] = v
	}
	for k, v := range commandEnv {
		merged[k] = v
	}
	if _, ok := merged["PATH"]; !ok {
		merged["PATH"] = defaultPath
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// ResolveExecutable finds the absolute path to run argv[0] as: used
// as-is if it already contains a slash, otherwise searched across
// every directory in path (":"-separated), returning
// ErrCommandNotFound listing every directory tried if none has it.
func ResolveExecutable(name, path string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	var tried []string
	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			continue
		}
		tried = append(tried, dir)
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", &ErrCommandNotFound{Name: name, Tried: tried}
}

// Build resolves a full Plan from a command's configured argv and
// environment, the container's own environment, and the current host
// environment, ready to be handed to Exec.
func Build(argv []string, dir string, hostEnviron, containerEnv, commandEnv map[string]string, mode PID1Mode) (*Plan, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	environ := ComposeEnviron(hostEnviron, containerEnv, commandEnv)

	path := defaultPath
	for _, kv := range environ {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}

	resolved, err := ResolveExecutable(argv[0], path)
	if err != nil {
		return nil, err
	}

	full := append([]string{resolved}, argv[1:]...)
	return &Plan{
		Argv:    full,
		Dir:     ResolveWorkdir(dir),
		Environ: environ,
		PID1:    mode,
	}, nil
}

// Exec runs the plan as described by its PID1Mode: ExecDirect changes
// to the plan's Dir and replaces the current process image entirely
// (syscall.Exec, the command becomes pid 1 directly); Wait and
// WaitAllChildren spawn the command as a child in Dir and block until
// it (and, for WaitAllChildren, every reapable orphan) has exited,
// returning its exit code.
func Exec(p *Plan) (int, error) {
	switch p.PID1 {
	case ExecDirect:
		if err := os.Chdir(p.Dir); err != nil {
			return -1, fmt.Errorf("chdir %s: %w", p.Dir, err)
		}
		err := syscall.Exec(p.Argv[0], p.Argv, p.Environ)
		return -1, fmt.Errorf("exec %s: %w", p.Argv[0], err)
	default:
		cmd := exec.Command(p.Argv[0], p.Argv[1:]...)
		cmd.Dir = p.Dir
		cmd.Env = p.Environ
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return -1, fmt.Errorf("starting %s: %w", p.Argv[0], err)
		}
		err := cmd.Wait()
		code := exitCode(err)
		if p.PID1 == WaitAllChildren {
			// The primary child is already reaped by cmd.Wait() above, so
			// this can only pick up grandchildren it forked and abandoned;
			// reaping it here too would race cmd.Wait() for the same pid.
			reapOrphans()
		}
		return code, nil
	}
}

// reapOrphans repeatedly wait4(-1)s for any reapable child until none
// remain, the pid-1 responsibility a "wait-all-children" mode takes on
// for processes the command itself forked and abandoned.
func reapOrphans() {
	for {
		var status syscall.WaitStatus
		_, err := syscall.Wait4(-1, &status, 0, nil)
		if err != nil {
			return
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

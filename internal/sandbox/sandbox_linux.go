//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vagga-go/vagga/internal/idmap"
	"github.com/vagga-go/vagga/internal/nsmount"
	"github.com/vagga-go/vagga/internal/runengine"
)

const (
	envRootFS     = "VAGGA_SANDBOX_ROOTFS"
	envProjectDir = "VAGGA_SANDBOX_PROJECTDIR"
	envCmdDir     = "VAGGA_SANDBOX_CMDDIR"
	envIsRoot     = "VAGGA_SANDBOX_ISROOT"
	envSingleton  = "VAGGA_SANDBOX_SINGLETON"
	envUID        = "VAGGA_SANDBOX_UID"
	envGID        = "VAGGA_SANDBOX_GID"
	envUIDTuples  = "VAGGA_SANDBOX_UIDTUPLES"
	envGIDTuples  = "VAGGA_SANDBOX_GIDTUPLES"
)

func cloneFlags(f Flags) uintptr {
	flags := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWNS)
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

// buildCommand prepares the re-exec without starting it. The mapping is
// carried in the environment rather than applied by the parent after
// Start, because newuidmap/newgidmap (and the direct /proc/self write
// for the root/singleton case) are permitted to target the calling
// process's own pid - the clone has already placed that process in the
// fresh user namespace by the time it reads its environment, so no
// handshake with the parent is required.
func buildCommand(spec Spec, argv []string, cmdDir string, environ []string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolving own executable: %w", err)
	}

	cmd := exec.Command(self, append([]string{"_enter_sandbox"}, argv...)...)
	env := append(append([]string{}, environ...),
		envRootFS+"="+spec.RootFS,
		envProjectDir+"="+spec.ProjectDir,
		envCmdDir+"="+cmdDir,
	)
	if spec.Mapping != nil {
		env = append(env, encodeMapping(spec.Mapping, spec.IsRoot)...)
	}
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags(spec.Flags),
	}
	return cmd, nil
}

func run(spec Spec, argv []string, cmdDir string, environ []string) (int, error) {
	cmd, err := buildCommand(spec, argv, cmdDir, environ)
	if err != nil {
		return -1, err
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("sandbox: starting sandboxed child: %w", err)
	}
	err = cmd.Wait()
	return exitCode(err), nil
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

func encodeMapping(m *idmap.Mapping, isRoot bool) []string {
	env := []string{
		envUID + "=" + strconv.Itoa(int(m.UID)),
		envGID + "=" + strconv.Itoa(int(m.GID)),
		envUIDTuples + "=" + encodeTuples(m.UIDTuples),
		envGIDTuples + "=" + encodeTuples(m.GIDTuples),
	}
	if m.Singleton {
		env = append(env, envSingleton+"=1")
	}
	if isRoot {
		env = append(env, envIsRoot+"=1")
	}
	return env
}

func encodeTuples(tuples []idmap.Tuple) string {
	parts := make([]string, len(tuples))
	for i, t := range tuples {
		parts[i] = fmt.Sprintf("%d:%d:%d", t.Inside, t.Outside, t.Count)
	}
	return strings.Join(parts, ",")
}

func decodeTuples(s string) []idmap.Tuple {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	out := make([]idmap.Tuple, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ":")
		if len(parts) != 3 {
			continue
		}
		inside, _ := strconv.Atoi(parts[0])
		outside, _ := strconv.Atoi(parts[1])
		count, _ := strconv.Atoi(parts[2])
		out = append(out, idmap.Tuple{Inside: uint32(inside), Outside: uint32(outside), Count: uint32(count)})
	}
	return out
}

func mappingFromEnv() (*idmap.Mapping, bool) {
	uidStr, ok := os.LookupEnv(envUID)
	if !ok {
		return nil, false
	}
	uid, _ := strconv.Atoi(uidStr)
	gid, _ := strconv.Atoi(os.Getenv(envGID))
	m := &idmap.Mapping{
		Singleton: os.Getenv(envSingleton) == "1",
		UID:       uint32(uid),
		GID:       uint32(gid),
		UIDTuples: decodeTuples(os.Getenv(envUIDTuples)),
		GIDTuples: decodeTuples(os.Getenv(envGIDTuples)),
	}
	return m, true
}

func enterAndExec(argv []string) error {
	rootfs := os.Getenv(envRootFS)
	if rootfs == "" {
		return fmt.Errorf("sandbox: %s not set", envRootFS)
	}
	projectDir := os.Getenv(envProjectDir)
	cmdDir := os.Getenv(envCmdDir)
	isRoot := os.Getenv(envIsRoot) == "1"

	if mapping, ok := mappingFromEnv(); ok {
		if err := idmap.ApplyForked(os.Getpid(), mapping, isRoot); err != nil {
			return fmt.Errorf("sandbox: applying uid/gid mapping: %w", err)
		}
	}

	if err := nsmount.MakePrivate("/"); err != nil {
		return err
	}
	if err := nsmount.BindMount(rootfs, rootfs, false); err != nil {
		return fmt.Errorf("sandbox: bind-mounting container root: %w", err)
	}
	if err := nsmount.MountProc(filepath.Join(rootfs, "proc")); err != nil {
		return fmt.Errorf("sandbox: mounting proc: %w", err)
	}
	if projectDir != "" {
		work := filepath.Join(rootfs, "work")
		if err := os.MkdirAll(work, 0755); err != nil {
			return fmt.Errorf("sandbox: preparing /work: %w", err)
		}
		if err := nsmount.BindMount(projectDir, work, false); err != nil {
			return fmt.Errorf("sandbox: bind-mounting project dir: %w", err)
		}
	}

	oldRoot := filepath.Join(rootfs, ".oldroot")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return fmt.Errorf("sandbox: preparing pivot target: %w", err)
	}
	if err := nsmount.PivotRoot(rootfs, oldRoot); err != nil {
		return err
	}
	if err := nsmount.UnmountOldRoot("/.oldroot"); err != nil {
		return err
	}

	environ := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				environ[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for _, k := range []string{envRootFS, envProjectDir, envCmdDir, envIsRoot, envSingleton, envUID, envGID, envUIDTuples, envGIDTuples} {
		delete(environ, k)
	}

	plan, err := runengine.Build(argv, cmdDir, environ, nil, nil, runengine.ExecDirect)
	if err != nil {
		return err
	}
	_, err = runengine.Exec(plan)
	return err
}

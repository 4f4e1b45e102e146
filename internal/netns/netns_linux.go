//go:build linux

package netns

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/vagga-go/vagga/internal/nsmount"
)

// SpawnGatewayHelper starts the hidden "_netns_helper" re-exec of self,
// which unshares fresh user and network namespaces and then blocks on
// its sync pipe. The caller wires the returned pid's veth end and
// namespace files while the helper waits, then closes the returned
// pipe to let it exit, mirroring the vagga_setup_netns gateway helper
// the original wrapper spawns before running its "ip"/"mount" commands
// as sudo (original_source's launcher/network.rs create_netns).
func SpawnGatewayHelper(self string) (*exec.Cmd, *os.File, error) {
	syncR, syncW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("netns: creating sync pipe: %w", err)
	}
	cmd := exec.Command(self, "_netns_helper")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{syncR}

	if err := cmd.Start(); err != nil {
		syncR.Close()
		syncW.Close()
		return nil, nil, fmt.Errorf("netns: starting gateway helper: %w", err)
	}
	syncR.Close()
	return cmd, syncW, nil
}

// RunGatewayHelper is the body of the hidden "_netns_helper" re-exec.
func RunGatewayHelper() error {
	if err := unix.Unshare(unix.CLONE_NEWUSER | unix.CLONE_NEWNET); err != nil {
		return fmt.Errorf("netns: unsharing namespaces: %w", err)
	}
	sync := os.NewFile(3, "netns-sync")
	if sync != nil {
		var buf [1]byte
		sync.Read(buf[:])
		sync.Close()
	}
	return nil
}

// BindMountNetNS bind-mounts pid's network namespace file at target,
// the persistent handle later `vagga` invocations rejoin through.
func BindMountNetNS(pid int, target string) error {
	return nsmount.BindMount(fmt.Sprintf("/proc/%d/ns/net", pid), target, false)
}

// BindMountUserNS bind-mounts pid's user namespace file at target.
func BindMountUserNS(pid int, target string) error {
	return nsmount.BindMount(fmt.Sprintf("/proc/%d/ns/user", pid), target, false)
}

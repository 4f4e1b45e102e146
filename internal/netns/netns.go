// Package netns manages the gateway network namespace that gives
// vagga containers a private 172.18.x.x network: creating the veth
// pair between the host and the gateway's net namespace, and the NAT
// rules (MASQUERADE, per-port DNAT) for its traffic (spec.md §4.K).
package netns

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	bridgeInterface = "vagga"
	guestNetwork    = "172.18.255.0/30"
	hostIPNet       = "172.18.255.1/30"
	hostIP          = "172.18.255.1"
	guestIPNet      = "172.18.255.2/30"
)

// RuntimeDir returns the directory holding the bind-mounted namespace
// files vagga creates (…/netns, …/userns), namespaced by the real
// uid so multiple users on one host don't collide.
func RuntimeDir(euid int) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "vagga")
	}
	return fmt.Sprintf("/tmp/vagga-%d", euid)
}

// Paths are the well-known bind-mount targets for the persistent
// namespace files, under RuntimeDir.
type Paths struct {
	NetNS  string
	UserNS string
}

func NewPaths(runtimeDir string) Paths {
	return Paths{
		NetNS:  filepath.Join(runtimeDir, "netns"),
		UserNS: filepath.Join(runtimeDir, "userns"),
	}
}

// AlreadyCreated reports whether the namespace files already exist,
// meaning a previous `vagga _create_netns` call succeeded and this one
// should refuse to clobber it.
func (p Paths) AlreadyCreated() bool {
	if _, err := os.Stat(p.NetNS); err == nil {
		return true
	}
	if _, err := os.Stat(p.UserNS); err == nil {
		return true
	}
	return false
}

// Bridge describes the host-side veth endpoint that forms the gateway
// half of the container network.
type Bridge struct {
	Interface string
	HostIPNet string
	HostIP    string
	GuestIP   string
}

// DefaultBridge returns vagga's fixed gateway network layout — a
// single /30 shared by every container run through the one gateway
// namespace, matching the original's fixed-address scheme (there is
// only ever one gateway namespace per host, so there is no need to
// allocate a fresh subnet per container).
func DefaultBridge() Bridge {
	return Bridge{
		Interface: bridgeInterface,
		HostIPNet: hostIPNet,
		HostIP:    hostIP,
		GuestIP:   guestIPNet,
	}
}

// run executes a host networking command (ip, iptables-restore, ...),
// used instead of a raw netlink binding since the original also
// shells out to `ip` rather than linking libnl-equivalent bindings.
func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s %v: %w", name, args, err)
	}
	return nil
}

// CreateVethPair creates a veth pair named guestEnd/hostEnd and moves
// guestEnd into the network namespace at nsPath.
func CreateVethPair(hostEnd, guestEnd, nsPath string) error {
	if err := run("ip", "link", "add", hostEnd, "type", "veth", "peer", "name", guestEnd); err != nil {
		return err
	}
	return run("ip", "link", "set", guestEnd, "netns", nsPath)
}

// ConfigureHostSide assigns the gateway address to the host end of
// the veth pair and brings it up. IPv4 forwarding is enabled
// separately, by EnableMasquerade.
func ConfigureHostSide(hostEnd string, b Bridge) error {
	if err := run("ip", "addr", "add", b.HostIPNet, "dev", hostEnd); err != nil {
		return err
	}
	return run("ip", "link", "set", hostEnd, "up")
}

// ConfigureGuestSide must run inside the target network namespace
// (after setns); it assigns the guest address, brings up loopback and
// the guest veth end, and adds a default route via the gateway.
func ConfigureGuestSide(guestEnd string, b Bridge) error {
	if err := run("ip", "addr", "add", b.GuestIP, "dev", guestEnd); err != nil {
		return err
	}
	if err := run("ip", "link", "set", "lo", "up"); err != nil {
		return err
	}
	if err := run("ip", "link", "set", guestEnd, "up"); err != nil {
		return err
	}
	return run("ip", "route", "add", "default", "via", b.HostIP)
}

// EnableMasquerade adds a MASQUERADE rule so guest traffic appears to
// originate from the host on its way out, unless `iptables -C` finds
// the same rule already present, and enables the kernel's IPv4
// forwarding sysctl (without which MASQUERADE is a no-op).
func EnableMasquerade(outInterface string) error {
	if err := os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1\n"), 0644); err != nil {
		return fmt.Errorf("enabling ip_forward: %w", err)
	}
	if exec.Command("iptables", "-t", "nat", "-C", "POSTROUTING",
		"-s", guestNetwork, "-o", outInterface, "-j", "MASQUERADE").Run() == nil {
		return nil
	}
	return run("iptables", "-t", "nat", "-A", "POSTROUTING",
		"-s", guestNetwork, "-o", outInterface, "-j", "MASQUERADE")
}

// DisableMasquerade removes the MASQUERADE rule EnableMasquerade adds,
// used when tearing the gateway namespace down.
func DisableMasquerade(outInterface string) error {
	return run("iptables", "-t", "nat", "-D", "POSTROUTING",
		"-s", guestNetwork, "-o", outInterface, "-j", "MASQUERADE")
}

// DNAT forwards hostPort on the host to guestPort at guestIP by
// appending a PREROUTING DNAT rule.
func DNAT(hostPort, guestPort int, guestIP string) error {
	return run("iptables", "-t", "nat", "-A", "PREROUTING",
		"-p", "tcp", "--dport", fmt.Sprint(hostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", guestIP, guestPort))
}

// RemoveDNAT undoes a DNAT rule added by DNAT when port forwarding
// guard is torn down.
func RemoveDNAT(hostPort, guestPort int, guestIP string) error {
	return run("iptables", "-t", "nat", "-D", "PREROUTING",
		"-p", "tcp", "--dport", fmt.Sprint(hostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", guestIP, guestPort))
}

// DefaultRouteInterface returns the interface the host's default route
// goes out on, the MASQUERADE target EnableMasquerade needs. Falls
// back to "eth0" if none can be parsed, rather than failing gateway
// setup outright.
func DefaultRouteInterface() string {
	out, err := exec.Command("ip", "route", "show", "default").Output()
	if err != nil {
		return "eth0"
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return "eth0"
}

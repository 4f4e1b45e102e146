//go:build !linux

package netns

import (
	"fmt"
	"os"
	"os/exec"
)

func SpawnGatewayHelper(self string) (*exec.Cmd, *os.File, error) {
	return nil, nil, fmt.Errorf("netns: gateway namespace setup requires linux namespaces")
}

func RunGatewayHelper() error {
	return fmt.Errorf("netns: gateway namespace setup requires linux namespaces")
}

func BindMountNetNS(pid int, target string) error {
	return fmt.Errorf("netns: gateway namespace setup requires linux namespaces")
}

func BindMountUserNS(pid int, target string) error {
	return fmt.Errorf("netns: gateway namespace setup requires linux namespaces")
}

//go:build !linux

package sandbox

import (
	"fmt"
	"os/exec"
)

func buildCommand(spec Spec, argv []string, cmdDir string, environ []string) (*exec.Cmd, error) {
	return nil, fmt.Errorf("sandbox: container sandboxing requires linux namespaces")
}

func run(spec Spec, argv []string, cmdDir string, environ []string) (int, error) {
	return -1, fmt.Errorf("sandbox: container sandboxing requires linux namespaces")
}

func enterAndExec(argv []string) error {
	return fmt.Errorf("sandbox: container sandboxing requires linux namespaces")
}

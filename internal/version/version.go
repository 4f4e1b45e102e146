// Package version computes a container's content-addressed version
// hash by walking its setup step list in hash-only mode (spec.md
// §4.F). The digest never touches the filesystem or runs a command —
// every step's Hash method must be a pure function of its own
// configuration plus whatever cfg-wide state it needs (e.g. a
// subcontainer step hashing the referenced container's own version).
package version

import (
	"fmt"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/digest"
)

// Container is the minimal view of a container definition needed to
// compute its version: its id-range requests, its setup step list,
// and any declared data directories that participate in its identity.
type Container struct {
	Name     string
	UIDs     [][2]uint32
	GIDs     [][2]uint32
	Setup    []buildstep.Step
	DataDirs []string
}

// ErrContainerNotFound is returned when a step (most commonly a
// subcontainer reference) names a container that doesn't exist in the
// resolved configuration.
type ErrContainerNotFound struct {
	Name string
}

func (e *ErrContainerNotFound) Error() string {
	return fmt.Sprintf("container not found: %q", e.Name)
}

// StepError wraps a failure to hash one particular step with that
// step's name, mirroring the original's practice of tagging version
// errors with which setup step caused them.
type StepError struct {
	StepName string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepName, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func all(c *Container, debug bool) (*digest.Digest, error) {
	d := digest.New(debug)

	d.Ranges("uids", c.UIDs)
	d.Ranges("gids", c.GIDs)

	if err := buildstep.HashSteps(c.Setup, d); err != nil {
		return nil, err
	}

	if len(c.DataDirs) > 0 {
		d.StringList("data_dirs", c.DataDirs)
	}

	return d, nil
}

// Short returns the 8-hex-character version identifier used as a
// container root directory suffix.
func Short(c *Container) (string, error) {
	d, err := all(c, false)
	if err != nil {
		return "", err
	}
	return d.Short(), nil
}

// Long returns the full 64-hex-character version identifier.
func Long(c *Container) (string, error) {
	d, err := all(c, false)
	if err != nil {
		return "", err
	}
	return d.ResultHex(), nil
}

// Debug returns the long hash together with the human-readable
// transition log recorded while hashing, for `vagga _version_hash
// --debug`.
func Debug(c *Container) (hash string, log string, err error) {
	d, err := all(c, true)
	if err != nil {
		return "", "", err
	}
	return d.ResultHex(), d.DebugText(), nil
}

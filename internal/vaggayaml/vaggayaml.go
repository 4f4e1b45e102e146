// Package vaggayaml loads a project's vagga.yaml into a minimal
// descriptor shape: container names, their uid/gid range requests,
// and the raw ordered list of setup step descriptors, plus declared
// commands. Translating a step descriptor into a concrete
// buildstep.Step is the caller's job (internal/builder); this package
// intentionally does not define the full builder-step YAML schema or
// recipe DSL, which spec.md names as out of scope for this module —
// see DESIGN.md.
package vaggayaml

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level parsed shape of vagga.yaml.
type Config struct {
	Containers map[string]*ContainerYAML `yaml:"containers"`
	Commands   map[string]*CommandYAML   `yaml:"commands"`
	Minimum    string                    `yaml:"minimum-vagga,omitempty"`
}

// ContainerYAML is one entry under "containers:".
type ContainerYAML struct {
	Setup    []StepYAML        `yaml:"setup"`
	UIDs     []RangeYAML       `yaml:"uids,omitempty"`
	GIDs     []RangeYAML       `yaml:"gids,omitempty"`
	Environ  map[string]string `yaml:"environ,omitempty"`
	DataDirs []string          `yaml:"data-dirs,omitempty"`
}

// RangeYAML is a "start-end" or bare "start" id range entry.
type RangeYAML struct {
	Start uint32
	End   uint32
}

// UnmarshalYAML accepts a bare scalar ("1000") meaning a single id, a
// "start-end" scalar ("0-65535"), or a mapping {start, end}.
func (r *RangeYAML) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if lo, hi, ok := strings.Cut(value.Value, "-"); ok {
			start, err := strconv.ParseUint(lo, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid id range %q: %w", value.Value, err)
			}
			end, err := strconv.ParseUint(hi, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid id range %q: %w", value.Value, err)
			}
			r.Start, r.End = uint32(start), uint32(end)
			return nil
		}
		var n uint32
		if err := value.Decode(&n); err != nil {
			return err
		}
		r.Start, r.End = n, n
		return nil
	}
	var aux struct {
		Start uint32 `yaml:"start"`
		End   uint32 `yaml:"end"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.Start, r.End = aux.Start, aux.End
	return nil
}

// StepYAML is one raw entry in a container's "setup:" list: exactly
// one of its fields is expected to be populated, keyed by the builder
// name it names ("Ubuntu", "Install", "Sh", ...). Left as a raw
// string-keyed map rather than a fixed struct so new builder kinds can
// be added by internal/builder without changing this package.
type StepYAML map[string]yaml.Node

// CommandYAML is one entry under "commands:". A command either runs a
// single line in a single container (Run non-empty), or supervises a
// group of children declared under Children, each its own container
// and run line, following original_source's config/command.rs
// SuperviseInfo/ChildCommandInfo shape.
type CommandYAML struct {
	Container   string                `yaml:"container,omitempty"`
	Run         []string              `yaml:"run,omitempty"`
	Description string                `yaml:"description,omitempty"`
	Mode        string                `yaml:"mode,omitempty"`
	Children    map[string]*ChildYAML `yaml:"children,omitempty"`
}

// ChildYAML is one entry under a supervise command's "children:".
type ChildYAML struct {
	Container string   `yaml:"container"`
	Run       []string `yaml:"run"`
}

// Supervise reports whether cmd is a supervise command (has children)
// rather than a single-container run command.
func (c *CommandYAML) Supervise() bool {
	return len(c.Children) > 0
}

// SuperviseMode values, mirroring original_source's SuperviseMode enum.
const (
	ModeWaitAll       = "wait-all"
	ModeStopOnFailure = "stop-on-failure"
	ModeRestart       = "restart"
)

// EffectiveMode returns Mode, defaulting to ModeWaitAll when unset.
func (c *CommandYAML) EffectiveMode() string {
	if c.Mode == "" {
		return ModeWaitAll
	}
	return c.Mode
}

// Load reads and parses a vagga.yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Container looks up a container by name, returning ErrContainerNotFound
// if it isn't declared.
func (c *Config) Container(name string) (*ContainerYAML, error) {
	cont, ok := c.Containers[name]
	if !ok {
		return nil, &ErrContainerNotFound{Name: name}
	}
	return cont, nil
}

// Command looks up a command by name, returning ErrCommandNotFound if
// it isn't declared.
func (c *Config) Command(name string) (*CommandYAML, error) {
	cmd, ok := c.Commands[name]
	if !ok {
		return nil, &ErrCommandNotFound{Name: name}
	}
	return cmd, nil
}

// ErrContainerNotFound is returned by Container for an undeclared name.
type ErrContainerNotFound struct{ Name string }

func (e *ErrContainerNotFound) Error() string {
	return fmt.Sprintf("container not found in vagga.yaml: %q", e.Name)
}

// ErrCommandNotFound is returned by Command for an undeclared name.
type ErrCommandNotFound struct{ Name string }

func (e *ErrCommandNotFound) Error() string {
	return fmt.Sprintf("command not found in vagga.yaml: %q", e.Name)
}

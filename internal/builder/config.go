package builder

import (
	"fmt"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/vaggayaml"
	"github.com/vagga-go/vagga/internal/version"
	"gopkg.in/yaml.v3"
)

// DecodeSteps translates a container's raw setup-step list (as loaded
// by internal/vaggayaml) into the concrete buildstep.Step values the
// Driver and version hasher operate on. Each entry names exactly one
// recognized builder kind. projectRoot anchors any step that reads
// from the host tree (Depends, Copy) when it names a relative path;
// it may be "" for callers (tests, sub-container resolution) that
// never exercise those steps.
func DecodeSteps(raw []vaggayaml.StepYAML, projectRoot string) ([]buildstep.Step, error) {
	steps := make([]buildstep.Step, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return nil, fmt.Errorf("setup step %d: expected exactly one builder key, got %d", i, len(entry))
		}
		for kind, node := range entry {
			step, err := decodeStep(kind, node, projectRoot)
			if err != nil {
				return nil, fmt.Errorf("setup step %d (%s): %w", i, kind, err)
			}
			steps = append(steps, step)
		}
	}
	return steps, nil
}

func decodeStep(kind string, node yaml.Node, projectRoot string) (buildstep.Step, error) {
	switch kind {
	case "Ubuntu":
		var codename string
		if err := node.Decode(&codename); err != nil {
			return nil, err
		}
		return &buildstep.UbuntuBase{Codename: codename}, nil

	case "Alpine":
		var ver string
		if err := node.Decode(&ver); err != nil {
			return nil, err
		}
		return &buildstep.AlpineBase{Version: ver}, nil

	case "Install":
		var packages []string
		if err := node.Decode(&packages); err != nil {
			return nil, err
		}
		return &buildstep.Install{Packages: packages}, nil

	case "Sh":
		var script string
		if err := node.Decode(&script); err != nil {
			return nil, err
		}
		return &buildstep.Sh{Script: script}, nil

	case "Cmd":
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return nil, err
		}
		return &buildstep.Cmd{Argv: argv}, nil

	case "Env":
		var vars map[string]string
		if err := node.Decode(&vars); err != nil {
			return nil, err
		}
		return &buildstep.Env{Vars: vars}, nil

	case "EnsureDir":
		var path string
		if err := node.Decode(&path); err != nil {
			return nil, err
		}
		return &buildstep.EnsureDir{Path: path}, nil

	case "Remove":
		var path string
		if err := node.Decode(&path); err != nil {
			return nil, err
		}
		return &buildstep.Remove{Path: path}, nil

	case "CacheDirs":
		var dirs map[string]string
		if err := node.Decode(&dirs); err != nil {
			return nil, err
		}
		return &buildstep.CacheDirs{Dirs: dirs}, nil

	case "Depends":
		var path string
		if err := node.Decode(&path); err != nil {
			return nil, err
		}
		return &buildstep.Depends{Path: path, ProjectRoot: projectRoot}, nil

	case "Copy":
		var fields struct {
			Source string   `yaml:"source"`
			Dest   string   `yaml:"path"`
			Ignore []string `yaml:"ignore-regex,flow"`
		}
		if err := node.Decode(&fields); err != nil {
			return nil, err
		}
		return &buildstep.Copy{Source: fields.Source, Dest: fields.Dest, Ignore: fields.Ignore, ProjectRoot: projectRoot}, nil

	case "Container":
		var name string
		if err := node.Decode(&name); err != nil {
			return nil, err
		}
		return &buildstep.SubContainer{ContainerName: name}, nil

	case "Text":
		var files map[string]string
		if err := node.Decode(&files); err != nil {
			return nil, err
		}
		return &buildstep.Text{Files: files}, nil

	case "OCIImage":
		if node.Kind == yaml.ScalarNode {
			var ref string
			if err := node.Decode(&ref); err != nil {
				return nil, err
			}
			return &buildstep.OCIImage{Ref: ref}, nil
		}
		var fields struct {
			Ref     string `yaml:"ref"`
			TarPath string `yaml:"tar_path"`
		}
		if err := node.Decode(&fields); err != nil {
			return nil, err
		}
		return &buildstep.OCIImage{Ref: fields.Ref, TarPath: fields.TarPath}, nil

	default:
		return nil, fmt.Errorf("unknown builder kind %q", kind)
	}
}

// ContainerFromYAML assembles a version.Container from a parsed
// vagga.yaml entry, decoding its setup steps along the way. projectRoot
// is the directory vagga.yaml lives in, used to resolve Depends/Copy
// source paths.
func ContainerFromYAML(name string, c *vaggayaml.ContainerYAML, projectRoot string) (*version.Container, error) {
	steps, err := DecodeSteps(c.Setup, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", name, err)
	}

	cont := &version.Container{
		Name:     name,
		Setup:    steps,
		DataDirs: c.DataDirs,
	}
	for _, r := range c.UIDs {
		cont.UIDs = append(cont.UIDs, [2]uint32{r.Start, r.End})
	}
	for _, r := range c.GIDs {
		cont.GIDs = append(cont.GIDs, [2]uint32{r.Start, r.End})
	}
	return cont, nil
}

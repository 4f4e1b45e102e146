package builder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/store"
	"github.com/vagga-go/vagga/internal/version"
)

func containerSet(defs map[string]*version.Container) func(string) (*version.Container, error) {
	return func(name string) (*version.Container, error) {
		c, ok := defs[name]
		if !ok {
			return nil, &version.ErrContainerNotFound{Name: name}
		}
		return c, nil
	}
}

func TestResolveBuildOrderPutsDependenciesFirst(t *testing.T) {
	defs := map[string]*version.Container{
		"base": {Name: "base", Setup: []buildstep.Step{&buildstep.Sh{Script: "true"}}},
		"app": {Name: "app", Setup: []buildstep.Step{
			&buildstep.SubContainer{ContainerName: "base"},
			&buildstep.Sh{Script: "true"},
		}},
	}
	order, err := resolveBuildOrder("app", containerSet(defs))
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "base" || order[1] != "app" {
		t.Fatalf("expected [base app], got %v", order)
	}
}

func TestResolveBuildOrderDetectsCycle(t *testing.T) {
	defs := map[string]*version.Container{
		"a": {Name: "a", Setup: []buildstep.Step{&buildstep.SubContainer{ContainerName: "b"}}},
		"b": {Name: "b", Setup: []buildstep.Step{&buildstep.SubContainer{ContainerName: "a"}}},
	}
	_, err := resolveBuildOrder("a", containerSet(defs))
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	var cycle *ErrDependencyCycle
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *ErrDependencyCycle, got %T", err)
	}
}

func TestBuildWithDependenciesBuildsBaseBeforeEmbedder(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)

	defs := map[string]*version.Container{
		"base": {Name: "base", Setup: []buildstep.Step{&buildstep.Sh{Script: "true"}}},
		"app": {Name: "app", Setup: []buildstep.Step{
			&buildstep.SubContainer{ContainerName: "base"},
		}},
	}

	res, err := New(s).BuildWithDependencies("app", containerSet(defs), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "app" {
		t.Fatalf("expected result for app, got %s", res.Name)
	}
	if !s.Exists("base", mustHash(t, defs["base"])) {
		t.Fatal("expected base to have been built and committed first")
	}
	if _, err := os.Stat(filepath.Join(res.RootFS)); err != nil {
		t.Fatalf("expected app rootfs to exist: %v", err)
	}
}

func mustHash(t *testing.T, c *version.Container) string {
	t.Helper()
	h, err := version.Short(c)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

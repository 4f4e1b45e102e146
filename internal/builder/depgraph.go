package builder

import (
	"fmt"
	"strings"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/version"
)

// ErrDependencyCycle reports a cycle found while resolving the build
// order of "Container" step references between containers.
type ErrDependencyCycle struct {
	Cycle []string
}

func (e *ErrDependencyCycle) Error() string {
	return fmt.Sprintf("circular container dependency: %s", strings.Join(e.Cycle, " -> "))
}

// resolveBuildOrder walks name's "Container" setup steps transitively
// and returns every container that must be built, leaves first,
// ending with name itself. load resolves a container's definition by
// name; it's called at most once per distinct name.
func resolveBuildOrder(name string, load func(string) (*version.Container, error)) ([]string, error) {
	var order []string
	visited := map[string]bool{}
	visiting := map[string]bool{}

	var visit func(n string, path []string) error
	visit = func(n string, path []string) error {
		if visited[n] {
			return nil
		}
		if visiting[n] {
			return &ErrDependencyCycle{Cycle: append(append([]string{}, path...), n)}
		}
		visiting[n] = true
		cont, err := load(n)
		if err != nil {
			return err
		}
		nextPath := append(append([]string{}, path...), n)
		for _, step := range cont.Setup {
			if sc, ok := step.(buildstep.SubContainerStep); ok {
				if err := visit(sc.DependsOnContainer(), nextPath); err != nil {
					return err
				}
			}
		}
		visiting[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	if err := visit(name, nil); err != nil {
		return nil, err
	}
	return order, nil
}

// BuildWithDependencies resolves name's transitive "Container" step
// references, builds each in leaves-first order, and resolves every
// SubContainer step's Version/RootFS to its dependency's just-built
// result before that dependency's embedder is itself built. force only
// applies to name; dependencies already cached are left alone.
func (b *Driver) BuildWithDependencies(name string, load func(string) (*version.Container, error), force bool) (*Result, error) {
	order, err := resolveBuildOrder(name, load)
	if err != nil {
		return nil, err
	}

	built := map[string]*Result{}
	for _, n := range order {
		cont, err := load(n)
		if err != nil {
			return nil, err
		}
		for _, step := range cont.Setup {
			sc, ok := step.(*buildstep.SubContainer)
			if !ok {
				continue
			}
			dep, ok := built[sc.ContainerName]
			if !ok {
				return nil, fmt.Errorf("resolving %s: dependency %s not built yet", n, sc.ContainerName)
			}
			sc.Version = dep.Hash
			sc.RootFS = dep.RootFS
		}
		res, err := b.Build(cont, force && n == name)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", n, err)
		}
		built[n] = res
	}
	return built[name], nil
}

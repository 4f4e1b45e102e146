// Package buildstep defines the build step protocol (spec.md §4.D):
// every configured action in a container's setup list (installing
// packages, copying files, running a command, embedding a
// subcontainer, ...) implements Step; HashSteps feeds a step list into
// a version digest, and a Guard runs the steps' Build methods in order.
package buildstep

import (
	"fmt"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
)

// Step is one action in a container's setup list.
type Step interface {
	// Name identifies the step kind for logging and error messages,
	// e.g. "Install", "Sh", "Ubuntu".
	Name() string

	// Hash contributes this step's identity to the running digest.
	// Two steps that hash identically are assumed to produce
	// identical results, so Hash must include every input that can
	// change the step's output.
	Hash(d *digest.Digest) error

	// Build executes the step against ctx. When dryRun is true, the
	// step must update any ctx state it owns (environment variables,
	// the claimed distribution, package bookkeeping) without touching
	// the filesystem or invoking external commands. Guard.Run calls it
	// this way when asked not to build; the Container step
	// (SubContainer) does not replay the referenced container's steps,
	// it copies that container's built root.
	Build(ctx *buildctx.Context, dryRun bool) error
}

// DependentStep is implemented by steps whose presence makes an
// earlier or later step in the same list redundant or required. No
// step in this package implements it.
type DependentStep interface {
	// IsDependentOn reports whether this step requires feature to have
	// already been ensured in the build context.
	IsDependentOn(feature string) bool
}

// SubContainerStep is implemented by a step that embeds another
// container's built filesystem (the "Container" setup step).
// DependsOnContainer names the container to build first and order
// this one's build after, mirroring the original's
// `is_dependent_on() -> Option<&str>`.
type SubContainerStep interface {
	DependsOnContainer() string
}

// Downloader is implemented by steps that fetch remote content
// (OCIImage) so CollectDownloads can list every URL a step list
// needs. Guard.Run does not fetch them; each step's Build does its own
// fetching.
type Downloader interface {
	// Downloads returns the URLs this step needs fetched before Build
	// runs.
	Downloads() []string
}

// Guard runs a step list's Build methods in order against Ctx. It does
// not hash the steps or fetch their downloads; HashSteps and
// CollectDownloads are separate functions for that.
type Guard struct {
	Ctx *buildctx.Context
}

// HashSteps runs Hash across every step in order, accumulating into d;
// it frames each step with d.Command(step.Name()) itself so that two
// step lists of different length or order never accidentally collide.
func HashSteps(steps []Step, d *digest.Digest) error {
	for _, s := range steps {
		d.Command(s.Name())
		if err := s.Hash(d); err != nil {
			return fmt.Errorf("hashing step %s: %w", s.Name(), err)
		}
	}
	return nil
}

// CollectDownloads gathers the union of every Downloader step's URLs,
// in step order.
func CollectDownloads(steps []Step) []string {
	var out []string
	for _, s := range steps {
		if d, ok := s.(Downloader); ok {
			out = append(out, d.Downloads()...)
		}
	}
	return out
}

// Run executes every step against g.Ctx in order. build controls
// whether steps perform real filesystem/process side effects (true
// for a top-level container build, false when replaying a
// subcontainer's steps just to update build-context bookkeeping).
func (g *Guard) Run(steps []Step, build bool) error {
	for _, s := range steps {
		if err := s.Build(g.Ctx, !build); err != nil {
			return fmt.Errorf("step %s: %w", s.Name(), err)
		}
	}
	return nil
}

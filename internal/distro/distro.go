// Package distro implements the pluggable Linux distribution slot a
// build context carries: the first base-image step (Ubuntu, Alpine,
// ...) claims the slot, and every later step that needs to install
// packages goes through whichever distribution claimed it (spec.md
// §4.D/§4.E).
package distro

import "fmt"

// Distribution is the interface every concrete base-image kind
// implements. Bootstrap runs once, when the base step claims the
// slot; Install and EnsurePackages run for every subsequent
// install-like step.
type Distribution interface {
	// Name returns the human-readable distribution name used in error
	// messages and version hash fields.
	Name() string

	// Bootstrap downloads/unpacks the initial root filesystem for this
	// distribution into the build context.
	Bootstrap(ctx BuildContext) error

	// Finish runs distribution-specific cleanup at the end of a build
	// (package cache eviction, apt list caching, etc).
	Finish(ctx BuildContext) error

	// Install installs the named packages using this distribution's
	// package manager.
	Install(ctx BuildContext, packages []string) error

	// EnsurePackages installs the packages this distribution maps to
	// each named feature (e.g. "git", "nodejs") and reports which ones
	// it installed. It does not check whether they are already
	// installed, so a repeated call installs them again.
	EnsurePackages(ctx BuildContext, features []string) ([]string, error)
}

// BuildContext is the minimal slice of the build context a
// Distribution implementation needs; internal/buildctx.Context
// satisfies it.
type BuildContext interface {
	RootDir() string
	Run(args ...string) error
	CacheDir(name string) (string, error)
}

// ErrNoDistro is returned by operations that need a distribution when
// none has been set yet.
var ErrNoDistro = fmt.Errorf("no distribution has been set for this container yet")

// ErrDistroOverlap is returned when a second base-image step tries to
// claim the distribution slot after one has already been set.
type ErrDistroOverlap struct {
	Existing string
	Attempt  string
}

func (e *ErrDistroOverlap) Error() string {
	return fmt.Sprintf("cannot set distribution %q: %q is already set for this container", e.Attempt, e.Existing)
}

// ErrWrongDistro is returned when a step built for one distribution
// (e.g. an Ubuntu-only step) runs against a build context whose distribution is
// a different one (e.g. Alpine).
type ErrWrongDistro struct {
	Wanted string
	Actual string
}

func (e *ErrWrongDistro) Error() string {
	return fmt.Sprintf("this step requires distribution %q, but %q was set for this container", e.Wanted, e.Actual)
}

// Box holds at most one Distribution for the lifetime of a build; the
// first Set call wins, mirroring the original's "downcast a boxed
// trait object, error if it's already a concrete type" DistroBox
// pattern, expressed in Go as a plain nil-check since Go interfaces
// don't need reflection tricks to do the equivalent.
type Box struct {
	d Distribution
}

// Set claims the slot for d, or returns ErrDistroOverlap if another
// distribution already claimed it.
func (b *Box) Set(d Distribution) error {
	if b.d != nil {
		return &ErrDistroOverlap{Existing: b.d.Name(), Attempt: d.Name()}
	}
	b.d = d
	return nil
}

// Get returns the claimed distribution, or ErrNoDistro if none has
// been set.
func (b *Box) Get() (Distribution, error) {
	if b.d == nil {
		return nil, ErrNoDistro
	}
	return b.d, nil
}

// IsSet reports whether a distribution has already claimed the slot.
func (b *Box) IsSet() bool {
	return b.d != nil
}

// As type-asserts the claimed distribution to T, returning
// ErrWrongDistro if the claimed distribution is a different concrete
// type.
func As[T Distribution](b *Box) (T, error) {
	var zero T
	if b.d == nil {
		return zero, ErrNoDistro
	}
	if t, ok := b.d.(T); ok {
		return t, nil
	}
	return zero, &ErrWrongDistro{Wanted: fmt.Sprintf("%T", zero), Actual: b.d.Name()}
}

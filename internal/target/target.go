// Package target defines the capability contracts any dependency or target
// kind must satisfy to participate in the engine: identity, existence,
// modification witness, and match strategy.
//
// Concrete kinds (local file, directory prefix, remote object, another
// task, a custom predicate) are adapters over this contract; the core never
// imports a concrete kind directly.
package target

import (
	"context"

	"github.com/anvil-build/anvil/internal/witness"
)

// MatchStrategy selects how a dependency key is compared against a target
// key when the match index resolves producer/consumer edges.
type MatchStrategy int

const (
	// Exact requires byte-for-byte key equality.
	Exact MatchStrategy = iota
	// Prefix matches when the target key is a path-segment prefix of the
	// dependency key (or vice versa, depending on the query direction).
	Prefix
	// Custom delegates the comparison to the target's Matches method.
	Custom
)

// String renders the strategy for logging.
func (m MatchStrategy) String() string {
	switch m {
	case Exact:
		return "EXACT"
	case Prefix:
		return "PREFIX"
	case Custom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// Dependency is the uniform contract any dependency kind must satisfy.
//
// Implementations must be safe to call from multiple goroutines when the
// engine runs in parallel mode; the engine never mutates a Dependency.
type Dependency interface {
	// Key returns the dependency's stable string identity.
	Key() string

	// Exists reports whether the resource currently exists.
	Exists(ctx context.Context) (bool, error)

	// Witness returns an opaque, comparable value describing the resource's
	// current state.
	Witness(ctx context.Context) (witness.Witness, error)

	// ModifiedSince reports whether the resource has changed relative to a
	// previously stored witness.
	ModifiedSince(ctx context.Context, stored witness.Witness) (bool, error)

	// MatchStrategy reports how this dependency's key should be compared
	// against target keys when resolving producer edges.
	MatchStrategy() MatchStrategy

	// Matches is consulted only when MatchStrategy() == Custom; other
	// strategies may return false unconditionally.
	Matches(otherKey string) bool
}

// Target is the uniform contract any declared task output must satisfy.
type Target interface {
	// Key returns the target's stable string identity.
	Key() string

	// Exists reports whether the target is currently present.
	Exists(ctx context.Context) (bool, error)

	// MatchStrategy reports how this target's key should be compared
	// against dependency keys.
	MatchStrategy() MatchStrategy

	// Matches is consulted only when MatchStrategy() == Custom.
	Matches(depKey string) bool
}

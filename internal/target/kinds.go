package target

import (
	"context"
	"os"
	"strings"

	"github.com/anvil-build/anvil/internal/witness"
)

// FileDependency is a local file dependency, keyed by absolute path.
// Grounded on the teacher's InputResolver (scriptweaver/internal/core),
// generalized from "always hashed for a cache key" to "witnessed and
// compared against a stored witness".
type FileDependency struct {
	Path string
}

func (d FileDependency) Key() string { return d.Path }

func (d FileDependency) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(d.Path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d FileDependency) Witness(ctx context.Context) (witness.Witness, error) {
	return witness.FileWitness(d.Path)
}

func (d FileDependency) ModifiedSince(ctx context.Context, stored witness.Witness) (bool, error) {
	cur, err := d.Witness(ctx)
	if err != nil {
		return false, err
	}
	return !cur.Equal(stored), nil
}

func (d FileDependency) MatchStrategy() MatchStrategy { return Exact }
func (d FileDependency) Matches(string) bool          { return false }

// FileTarget mirrors FileDependency as a declared output.
type FileTarget struct {
	Path string
}

func (t FileTarget) Key() string { return t.Path }

func (t FileTarget) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(t.Path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (t FileTarget) MatchStrategy() MatchStrategy { return Exact }
func (t FileTarget) Matches(string) bool          { return false }

// DirPrefixDependency is a directory-prefix dependency; its key must end in
// "/" per spec.md §3. It matches any dependency key that shares its prefix.
type DirPrefixDependency struct {
	Prefix string // must end in "/"
}

func (d DirPrefixDependency) Key() string { return d.Prefix }

func (d DirPrefixDependency) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(strings.TrimSuffix(d.Prefix, "/"))
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d DirPrefixDependency) Witness(ctx context.Context) (witness.Witness, error) {
	return witness.DirPrefixWitness(strings.TrimSuffix(d.Prefix, "/"))
}

func (d DirPrefixDependency) ModifiedSince(ctx context.Context, stored witness.Witness) (bool, error) {
	cur, err := d.Witness(ctx)
	if err != nil {
		return false, err
	}
	return !cur.Equal(stored), nil
}

func (d DirPrefixDependency) MatchStrategy() MatchStrategy { return Prefix }
func (d DirPrefixDependency) Matches(string) bool          { return false }

// DirPrefixTarget declares a directory-prefix output, honoring longest-prefix
// priority in the match index.
type DirPrefixTarget struct {
	Prefix string // must end in "/"
}

func (t DirPrefixTarget) Key() string { return t.Prefix }

func (t DirPrefixTarget) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(strings.TrimSuffix(t.Prefix, "/"))
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (t DirPrefixTarget) MatchStrategy() MatchStrategy { return Prefix }
func (t DirPrefixTarget) Matches(string) bool          { return false }

// TaskDependency references another task's completion ("task:<name>").
// Its real witness is the producer's definition hash plus its committed
// saved-values hash (witness.TaskWitness) so that changing a producer's
// saved value invalidates a task_dep consumer even when the consumer's own
// direct inputs are unchanged (spec.md §4.1's getargs scenario). Computing
// that requires the admitted task graph and the state store, neither of
// which this type has access to on its own, so Witness/ModifiedSince here
// are only the no-graph fallback; internal/uptodate.Engine bypasses them
// and resolves the real witness itself once SetGraph has been called.
type TaskDependency struct {
	TaskName string
}

func (d TaskDependency) Key() string { return "task:" + d.TaskName }

func (d TaskDependency) Exists(ctx context.Context) (bool, error) { return true, nil }

func (d TaskDependency) Witness(ctx context.Context) (witness.Witness, error) {
	return witness.Witness{}, nil
}

func (d TaskDependency) ModifiedSince(ctx context.Context, stored witness.Witness) (bool, error) {
	return false, nil
}

func (d TaskDependency) MatchStrategy() MatchStrategy { return Exact }
func (d TaskDependency) Matches(string) bool          { return false }

// GroupTarget declares a task's own "task:<name>" key as a target so other
// tasks can depend on it via TaskDependency; groups have no filesystem
// presence so Exists always reports true once admitted.
type GroupTarget struct {
	TaskName string
}

func (t GroupTarget) Key() string                  { return "task:" + t.TaskName }
func (t GroupTarget) Exists(context.Context) (bool, error) { return true, nil }
func (t GroupTarget) MatchStrategy() MatchStrategy  { return Exact }
func (t GroupTarget) Matches(string) bool           { return false }

// CalcPredicate is the callable shape accepted for a CustomDependency's
// state evaluation: it returns a witness value (e.g. a serialized query
// result) and lets the caller's up-to-date predicate compare it.
type CalcPredicate func(ctx context.Context) (string, error)

// CustomDependency wraps a user-supplied predicate as a dependency whose
// witness is the predicate's string output, and whose match strategy is
// delegated to a caller-supplied matcher (spec.md §3, "custom kinds
// kind://...").
type CustomDependency struct {
	KeyValue string
	Calc     CalcPredicate
	Matcher  func(otherKey string) bool
}

func (d CustomDependency) Key() string { return d.KeyValue }

func (d CustomDependency) Exists(ctx context.Context) (bool, error) {
	if d.Calc == nil {
		return false, nil
	}
	_, err := d.Calc(ctx)
	return err == nil, err
}

func (d CustomDependency) Witness(ctx context.Context) (witness.Witness, error) {
	if d.Calc == nil {
		return witness.Witness{}, nil
	}
	v, err := d.Calc(ctx)
	if err != nil {
		return witness.Witness{}, err
	}
	return witness.CalcWitness(v), nil
}

func (d CustomDependency) ModifiedSince(ctx context.Context, stored witness.Witness) (bool, error) {
	cur, err := d.Witness(ctx)
	if err != nil {
		return false, err
	}
	return !cur.Equal(stored), nil
}

func (d CustomDependency) MatchStrategy() MatchStrategy { return Custom }

func (d CustomDependency) Matches(otherKey string) bool {
	if d.Matcher == nil {
		return false
	}
	return d.Matcher(otherKey)
}

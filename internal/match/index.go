// Package match implements the prefix/exact/custom match index of
// spec.md §4.2: it resolves a dependency key to its producing task
// (find_producer) and, symmetrically, resolves a freshly published target
// key to the generators whose declared input patterns could match it
// (affected_generators).
//
// Grounded on the teacher's scriptweaver/internal/core resolver family for
// the overall "resolve a key against declared inputs" shape, generalized
// from a single file-glob resolver to the three-strategy priority index
// spec.md requires, with longest-prefix resolution over a segment trie and
// custom-kind glob support via bmatcuk/doublestar (SPEC_FULL.md §10).
package match

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/anvil-build/anvil/internal/target"
)

// GeneratorID identifies a registered generator for the generator-side
// index (spec.md §4.5).
type GeneratorID string

// Index resolves keys against a set of registered (target, owner) pairs in
// exact > longest-prefix > custom priority order. It is safe for
// concurrent reads once registration for the current admitted batch has
// finished (spec.md §5: "written only during task admission; concurrent
// readers observe a consistent snapshot per admitted batch").
type Index[Owner comparable] struct {
	exact  map[string][]Owner
	prefix *prefixNode[Owner]
	custom []customEntry[Owner]
}

type customEntry[Owner comparable] struct {
	t     target.Target
	owner Owner
}

type prefixNode[Owner comparable] struct {
	children map[string]*prefixNode[Owner]
	owners   []Owner
}

func newPrefixNode[Owner comparable]() *prefixNode[Owner] {
	return &prefixNode[Owner]{children: map[string]*prefixNode[Owner]{}}
}

// NewIndex creates an empty index.
func NewIndex[Owner comparable]() *Index[Owner] {
	return &Index[Owner]{
		exact:  map[string][]Owner{},
		prefix: newPrefixNode[Owner](),
	}
}

// Register appends one (target, owner) pair to the index. The index is
// append-only during a session; there is no unregister (spec.md §4.2).
func (idx *Index[Owner]) Register(t target.Target, owner Owner) {
	switch t.MatchStrategy() {
	case target.Exact:
		idx.exact[t.Key()] = append(idx.exact[t.Key()], owner)
	case target.Prefix:
		idx.insertPrefix(t.Key(), owner)
	default:
		idx.custom = append(idx.custom, customEntry[Owner]{t: t, owner: owner})
	}
}

func (idx *Index[Owner]) insertPrefix(key string, owner Owner) {
	segments := pathSegments(key)
	node := idx.prefix
	for _, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			child = newPrefixNode[Owner]()
			node.children[seg] = child
		}
		node = child
	}
	node.owners = append(node.owners, owner)
}

// Resolve returns the owners matching key under the exact > longest-prefix
// > custom priority rule. Within the custom bucket, only the first
// declaration-order match is returned (spec.md §4.2: "the first match by
// priority wins"); within prefix, all owners registered at the longest
// matching depth are returned.
func (idx *Index[Owner]) Resolve(key string) []Owner {
	if owners, ok := idx.exact[key]; ok && len(owners) > 0 {
		return owners
	}

	if owners := idx.resolvePrefix(key); len(owners) > 0 {
		return owners
	}

	for _, entry := range idx.custom {
		if entry.t.Matches(key) {
			return []Owner{entry.owner}
		}
	}
	return nil
}

func (idx *Index[Owner]) resolvePrefix(key string) []Owner {
	segments := pathSegments(key)
	node := idx.prefix
	var best []Owner
	for _, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			break
		}
		node = child
		if len(node.owners) > 0 {
			best = node.owners
		}
	}
	return best
}

func pathSegments(key string) []string {
	trimmed := strings.Trim(key, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ProducerIndex is the target-side index: find_producer(dep_key).
type ProducerIndex = Index[string]

// NewProducerIndex creates an empty target-side index.
func NewProducerIndex() *ProducerIndex { return NewIndex[string]() }

// FindProducer resolves depKey to at most one owning task name, per
// spec.md §4.2 ("Option<task_name>"): when the winning bucket holds more
// than one owner (a prefix tie at the same depth), the first registered
// one is returned.
func FindProducer(idx *ProducerIndex, depKey string) (string, bool) {
	owners := idx.Resolve(depKey)
	if len(owners) == 0 {
		return "", false
	}
	return owners[0], true
}

// GeneratorIndex is the generator-side index: affected_generators(key).
type GeneratorIndex = Index[GeneratorID]

// NewGeneratorIndex creates an empty generator-side index.
func NewGeneratorIndex() *GeneratorIndex { return NewIndex[GeneratorID]() }

// AffectedGenerators resolves a newly published key to the generators
// whose declared input pattern matches it.
func AffectedGenerators(idx *GeneratorIndex, publishedKey string) []GeneratorID {
	return idx.Resolve(publishedKey)
}

// GlobPattern is a Custom-strategy target.Target backed by a doublestar
// glob, for generators that declare input patterns rather than exact or
// prefix keys (spec.md §4.5).
type GlobPattern struct {
	Pattern string
}

func (p GlobPattern) Key() string { return p.Pattern }

func (p GlobPattern) Exists(ctx context.Context) (bool, error) {
	return true, nil
}

func (p GlobPattern) MatchStrategy() target.MatchStrategy { return target.Custom }

func (p GlobPattern) Matches(otherKey string) bool {
	ok, err := doublestar.Match(p.Pattern, otherKey)
	if err != nil {
		return false
	}
	return ok
}

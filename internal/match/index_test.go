package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/target"
)

func TestFindProducer_ExactBeatsPrefix(t *testing.T) {
	idx := NewProducerIndex()
	idx.Register(target.DirPrefixTarget{Prefix: "build/"}, "build-all")
	idx.Register(target.FileTarget{Path: "build/out.bin"}, "build-bin")

	owner, ok := FindProducer(idx, "build/out.bin")
	require.True(t, ok)
	require.Equal(t, "build-bin", owner)
}

func TestFindProducer_LongestPrefixWins(t *testing.T) {
	idx := NewProducerIndex()
	idx.Register(target.DirPrefixTarget{Prefix: "build/"}, "build-all")
	idx.Register(target.DirPrefixTarget{Prefix: "build/bin/"}, "build-bin-dir")

	owner, ok := FindProducer(idx, "build/bin/app")
	require.True(t, ok)
	require.Equal(t, "build-bin-dir", owner)
}

func TestFindProducer_CustomIsLinearScanInDeclarationOrder(t *testing.T) {
	idx := NewProducerIndex()
	idx.Register(GlobPattern{Pattern: "**/*.go"}, "first")
	idx.Register(GlobPattern{Pattern: "internal/**/*.go"}, "second")

	owner, ok := FindProducer(idx, "internal/match/index.go")
	require.True(t, ok)
	require.Equal(t, "first", owner)
}

func TestFindProducer_NoMatchReturnsFalse(t *testing.T) {
	idx := NewProducerIndex()
	idx.Register(target.FileTarget{Path: "a.txt"}, "owner")

	_, ok := FindProducer(idx, "b.txt")
	require.False(t, ok)
}

func TestAffectedGenerators_ResolvesAcrossStrategies(t *testing.T) {
	idx := NewGeneratorIndex()
	idx.Register(target.DirPrefixTarget{Prefix: "src/"}, GeneratorID("watch-src"))
	idx.Register(GlobPattern{Pattern: "**/*.proto"}, GeneratorID("proto-gen"))

	gens := AffectedGenerators(idx, "src/pkg/file.go")
	require.Equal(t, []GeneratorID{"watch-src"}, gens)

	gens = AffectedGenerators(idx, "api/v1/service.proto")
	require.Equal(t, []GeneratorID{"proto-gen"}, gens)
}

func TestIndex_CrossSchemeKeysNeverMatch(t *testing.T) {
	idx := NewProducerIndex()
	idx.Register(target.DirPrefixTarget{Prefix: "build/"}, "owner")

	_, ok := FindProducer(idx, "task:build")
	require.False(t, ok)
}

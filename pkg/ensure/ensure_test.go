package ensure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainSpecs_SevenChainsScopedToNamespace(t *testing.T) {
	specs := ChainSpecs("netA")
	assert.Len(t, specs, 7)
	for _, s := range specs {
		assert.Contains(t, s.Chain, "netA-")
		assert.NotContains(t, s.JumpFrom, "netA")
	}
}

func TestChainSpecs_CoversExpectedTables(t *testing.T) {
	byTable := map[string][]string{}
	for _, s := range ChainSpecs("ns") {
		byTable[s.Table] = append(byTable[s.Table], s.Chain)
	}
	assert.ElementsMatch(t, []string{"ns-POSTROUTING", "ns-PREROUTING"}, byTable["nat"])
	assert.ElementsMatch(t, []string{"ns-PREROUTING"}, byTable["raw"])
	assert.ElementsMatch(t, []string{"ns-OUTPUT", "ns-POSTROUTING"}, byTable["mangle"])
	assert.ElementsMatch(t, []string{"ns-FORWARD", "ns-INPUT"}, byTable["filter"])
}

func TestContainsLine_MatchesFirstFieldOnly(t *testing.T) {
	out := "netA (id: 0)\nnetB\n"
	assert.True(t, containsLine(out, "netA"))
	assert.True(t, containsLine(out, "netB"))
	assert.False(t, containsLine(out, "net"))
	assert.False(t, containsLine(out, "id:"))
}

func TestTempDirs(t *testing.T) {
	base, router := TempDirs("netA")
	assert.Contains(t, base, "networktools-netA")
	assert.Contains(t, router, "networktools-netA")
	assert.Contains(t, router, "router")
}

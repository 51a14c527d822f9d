package ospfparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Fixture(t *testing.T) {
	input := "area 0.0.0.0\n" +
		"\trouter 1.1.1.1\n" +
		"\t\tdistance 10\n" +
		"\t\tstubnet 10.0.0.0/30 metric 100\n" +
		"\t\texternal 0.0.0.0/0 metric 20 metric2 via 1.1.1.2 tag 7\n"

	state := Parse(input)
	routers, ok := state.AreaRouters["0.0.0.0"]
	require.True(t, ok)
	require.Len(t, routers, 1)

	r := routers[0]
	assert.Equal(t, "1.1.1.1", r.RouterID)
	assert.Equal(t, 10, r.Distance)
	require.Len(t, r.StubNets, 1)
	assert.Equal(t, "10.0.0.0/30", r.StubNets[0].Prefix)
	assert.Equal(t, 100, r.StubNets[0].Metric)

	require.Len(t, r.Externals, 1)
	ext := r.Externals[0]
	assert.Equal(t, "0.0.0.0/0", ext.Prefix)
	assert.Equal(t, 20, ext.Metric)
	assert.Equal(t, 2, ext.MetricType)
	assert.Equal(t, "1.1.1.2", ext.Via)
	assert.Equal(t, "7", ext.Tag)
	assert.Empty(t, state.OtherASBRs)
}

func TestParse_OtherASBRsAndMultipleRouters(t *testing.T) {
	input := "area 0.0.0.0\n" +
		"\trouter 1.1.1.1\n" +
		"\t\tdistance 10\n" +
		"\trouter 2.2.2.2\n" +
		"\t\tdistance 20\n" +
		"\t\trouter 3.3.3.3 metric 5\n" +
		"\t\tvlink 4.4.4.4 metric 7\n" +
		"other ASBRs\n" +
		"\trouter 9.9.9.9\n" +
		"\t\txrouter 8.8.8.8 metric 3\n" +
		"\t\txnetwork 192.0.2.0/24 metric 15\n" +
		"\t\tnssa-ext 203.0.113.0/24 metric 1 via 9.9.9.8\n"

	state := Parse(input)
	require.Len(t, state.AreaRouters["0.0.0.0"], 2)
	second := state.AreaRouters["0.0.0.0"][1]
	assert.Equal(t, "2.2.2.2", second.RouterID)
	require.Len(t, second.Routers, 1)
	assert.Equal(t, "3.3.3.3", second.Routers[0].RouterID)
	assert.Equal(t, 5, second.Routers[0].Metric)
	require.Len(t, second.VLinks, 1)
	assert.Equal(t, "4.4.4.4", second.VLinks[0].RouterID)
	assert.Equal(t, 7, second.VLinks[0].Metric)

	require.Len(t, state.OtherASBRs, 1)
	asbr := state.OtherASBRs[0]
	assert.Equal(t, "9.9.9.9", asbr.RouterID)
	require.Len(t, asbr.XRouters, 1)
	assert.Equal(t, "8.8.8.8", asbr.XRouters[0].RouterID)
	require.Len(t, asbr.XNetworks, 1)
	assert.Equal(t, "192.0.2.0/24", asbr.XNetworks[0].Prefix)
	require.Len(t, asbr.NSSAExt, 1)
	assert.Equal(t, 1, asbr.NSSAExt[0].MetricType)
	assert.Equal(t, "9.9.9.8", asbr.NSSAExt[0].Via)
}

func TestParse_EmptyInput(t *testing.T) {
	state := Parse("")
	assert.Empty(t, state.AreaRouters)
	assert.Empty(t, state.OtherASBRs)
}

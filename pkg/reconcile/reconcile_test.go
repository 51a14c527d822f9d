package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"networktools/pkg/model"
)

func TestClampInt(t *testing.T) {
	assert.Equal(t, 1, clampInt(-5, 1, 65535))
	assert.Equal(t, 65535, clampInt(100000, 1, 65535))
	assert.Equal(t, 500, clampInt(500, 1, 65535))
}

func TestCostForPeer_DefaultsTo1000(t *testing.T) {
	p := model.RemotePeerInfo{}
	assert.Equal(t, 1000, costForPeer(p, 0))
}

func TestCostForPeer_ExtraCostAndOffset(t *testing.T) {
	p := model.RemotePeerInfo{Extra: &model.PeerExtra{OSPF: &model.PeerOSPFExtra{Cost: 50, Offset: 10}}}
	assert.Equal(t, 60, costForPeer(p, 0))
}

func TestCostForPeer_MeasuredPingOverridesBaseButNotOffset(t *testing.T) {
	p := model.RemotePeerInfo{Extra: &model.PeerExtra{OSPF: &model.PeerOSPFExtra{Cost: 50, Offset: 10}}}
	assert.Equal(t, 35, costForPeer(p, 25.0))
}

func TestCostForPeer_ClampsToFloor(t *testing.T) {
	p := model.RemotePeerInfo{Extra: &model.PeerExtra{OSPF: &model.PeerOSPFExtra{Cost: 5, Offset: -100}}}
	assert.Equal(t, 1, costForPeer(p, 0))
}

func TestCostForPeer_ClampsToCeiling(t *testing.T) {
	p := model.RemotePeerInfo{Extra: &model.PeerExtra{OSPF: &model.PeerOSPFExtra{Cost: 70000, Offset: 0}}}
	assert.Equal(t, 65535, costForPeer(p, 0))
}

func TestModeOfProvider(t *testing.T) {
	assert.Equal(t, model.UnderlayServer, modeOfProvider(model.ProviderGostRelayServer))
	assert.Equal(t, model.UnderlayClient, modeOfProvider(model.ProviderGostRelayClient))
}

func TestUnderlayNeedsRecreate_ModeChanged(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayClient, ListenPort: 100, ServerPort: 200, ServerIP: "1.2.3.4"}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayServer, ListenPort: 100}
	assert.True(t, underlayNeedsRecreate(local, desired))
}

func TestUnderlayNeedsRecreate_ListenPortChanged(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayClient, ListenPort: 100, ServerPort: 200, ServerIP: "1.2.3.4"}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayClient, ListenPort: 101, ServerPort: 200, ServerAddr: "1.2.3.4"}
	assert.True(t, underlayNeedsRecreate(local, desired))
}

func TestUnderlayNeedsRecreate_ServerChanged(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayClient, ListenPort: 100, ServerPort: 200, ServerIP: "1.2.3.4"}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayClient, ListenPort: 100, ServerPort: 201, ServerAddr: "1.2.3.4"}
	assert.True(t, underlayNeedsRecreate(local, desired))

	desired2 := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayClient, ListenPort: 100, ServerPort: 200, ServerAddr: "5.6.7.8"}
	assert.True(t, underlayNeedsRecreate(local, desired2))
}

func TestUnderlayNeedsRecreate_ServerModeIgnoresServerFields(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayServer, ListenPort: 100}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayServer, ListenPort: 100}
	assert.False(t, underlayNeedsRecreate(local, desired))
}

func TestUnderlayNeedsRecreate_NoChange(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayClient, ListenPort: 100, ServerPort: 200, ServerIP: "1.2.3.4"}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayClient, ListenPort: 100, ServerPort: 200, ServerAddr: "1.2.3.4"}
	assert.False(t, underlayNeedsRecreate(local, desired))
}

func TestUnderlayNeedsRecreate_EmptyServerAddrDoesNotForceRecreate(t *testing.T) {
	local := model.LocalUnderlayState{Mode: model.UnderlayClient, ListenPort: 100, ServerPort: 200, ServerIP: "1.2.3.4"}
	desired := &model.PeerUnderlayExtra{Provider: model.ProviderGostRelayClient, ListenPort: 100, ServerPort: 200}
	assert.False(t, underlayNeedsRecreate(local, desired))
}

func TestRouterIDFromNodeID(t *testing.T) {
	assert.Equal(t, "", routerIDFromNodeID(0))
	assert.Equal(t, "0.1.2.3", routerIDFromNodeID(0x010203))
	assert.Equal(t, "0.0.0.1", routerIDFromNodeID(1))
}

func TestTrimLine(t *testing.T) {
	assert.Equal(t, "abc", trimLine("abc\n"))
	assert.Equal(t, "abc", trimLine("abc\r\n"))
	assert.Equal(t, "abc", trimLine("abc"))
	assert.Equal(t, "", trimLine("\n"))
}

func TestPeerTag(t *testing.T) {
	assert.Equal(t, "#peer_ns-3#", peerTag("ns-3"))
}

func TestFindPrivateKey(t *testing.T) {
	pairs := []model.WireGuardKeyPair{
		{Private: "priv1", Public: "pub1"},
		{Private: "priv2", Public: "pub2"},
	}
	priv, ok := findPrivateKey(pairs, "pub2")
	assert.True(t, ok)
	assert.Equal(t, "priv2", priv)

	_, ok = findPrivateKey(pairs, "missing")
	assert.False(t, ok)
}

func TestToTelemetryEntry(t *testing.T) {
	r := model.RouterInfo{
		RouterID: "1.2.3.4",
		Distance: 2,
		VLinks:   []model.VLink{{RouterID: "5.6.7.8", Metric: 10}},
		Routers:  []model.RouterRef{{RouterID: "9.9.9.9", Metric: 20}},
		StubNets: []model.Network{{Prefix: "10.0.0.0/24", Metric: 5}},
		Externals: []model.External{
			{Prefix: "0.0.0.0/0", Metric: 100, MetricType: 2, Via: "1.1.1.1", Tag: "0"},
		},
	}
	entry := toTelemetryEntry(r)
	assert.Equal(t, "1.2.3.4", entry.RouterID)
	assert.Equal(t, 2, entry.Distance)
	assert.Equal(t, "5.6.7.8", entry.VLinks[0].RouterID)
	assert.Equal(t, 10, entry.VLinks[0].Metric)
	assert.Equal(t, "9.9.9.9", entry.Routers[0].RouterID)
	assert.Equal(t, "10.0.0.0/24", entry.StubNets[0].Network)
	assert.Equal(t, 5, entry.StubNets[0].Metric)
	assert.Equal(t, "0.0.0.0/0", entry.Externals[0].Network)
	assert.Equal(t, 2, entry.Externals[0].MetricType)
	assert.Equal(t, "1.1.1.1", entry.Externals[0].Via)
}

func TestToTelemetryPayload(t *testing.T) {
	state := model.OSPFState{
		AreaRouters: map[string][]model.RouterInfo{
			"0": {{RouterID: "1.1.1.1", Distance: 1}},
		},
		OtherASBRs: []model.RouterInfo{{RouterID: "2.2.2.2", Distance: 3}},
	}
	payload := toTelemetryPayload(state)
	assert.Len(t, payload.AreaRouters["0"], 1)
	assert.Equal(t, "1.1.1.1", payload.AreaRouters["0"][0].RouterID)
	assert.Len(t, payload.OtherASBRs, 1)
	assert.Equal(t, "2.2.2.2", payload.OtherASBRs[0].RouterID)
}

package linkmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVethAddressing_HostAndNsSides(t *testing.T) {
	host, ns, err := VethAddressing("10.0.0.0/30")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1/30", host)
	assert.Equal(t, "10.0.0.2/30", ns)
}

func TestVethAddressing_NonAlignedNetworkIsMasked(t *testing.T) {
	host, ns, err := VethAddressing("10.0.0.5/30")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5/30", host)
	assert.Equal(t, "10.0.0.6/30", ns)
}

func TestVethAddressing_RejectsNonSlash30(t *testing.T) {
	_, _, err := VethAddressing("10.0.0.0/24")
	assert.Error(t, err)
}

func TestVethAddressing_RejectsIPv6(t *testing.T) {
	_, _, err := VethAddressing("2001:db8::/30")
	assert.Error(t, err)
}

func TestResolveEndpoint_LiteralIPv4(t *testing.T) {
	ep, err := resolveEndpoint("198.51.100.9:51820")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9:51820", ep)
}

func TestResolveEndpoint_LiteralIPv6Bracketed(t *testing.T) {
	ep, err := resolveEndpoint("[2001:db8::1]:51820")
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:51820", ep)
}

func TestNoneToEmpty(t *testing.T) {
	assert.Equal(t, "", noneToEmpty("(none)"))
	assert.Equal(t, "", noneToEmpty("off"))
	assert.Equal(t, "abc", noneToEmpty("abc"))
}

func TestFwmarkOr0(t *testing.T) {
	assert.Equal(t, 0, fwmarkOr0("off"))
	assert.Equal(t, 42, fwmarkOr0("42"))
}

func TestParseAddrShow(t *testing.T) {
	jsonText := `[{"ifname":"netA-7","mtu":1420,"addr_info":[{"family":"inet","local":"10.0.0.1","prefixlen":30}]}]`
	state, err := parseAddrShow("netA-7", jsonText)
	require.NoError(t, err)
	assert.Equal(t, "netA-7", state.Name)
	assert.Equal(t, 1420, state.MTU)
	assert.Equal(t, "10.0.0.1/30", state.AddressV4)
}

func TestParseAddrShow_NotFound(t *testing.T) {
	_, err := parseAddrShow("missing", `[]`)
	assert.Error(t, err)
}

func TestParseWireguardPeerFields(t *testing.T) {
	fields := []string{"PUBKEY", "(none)", "198.51.100.9:51820", "0.0.0.0/0", "1700000000", "100", "200", "25"}
	peer := parseWireguardPeerFields(fields)
	assert.Equal(t, "PUBKEY", peer.PublicKey)
	assert.Equal(t, "198.51.100.9:51820", peer.Endpoint)
	assert.Equal(t, []string{"0.0.0.0/0"}, peer.AllowedIPs)
	assert.Equal(t, int64(100), peer.ReceiveBytes)
	assert.Equal(t, int64(200), peer.TransmitBytes)
	assert.Equal(t, 25, peer.Keepalive)
	assert.False(t, peer.LatestHandshake.IsZero())
}

func TestParseWireguardPeerFields_NoHandshakeOrKeepalive(t *testing.T) {
	fields := []string{"PUBKEY", "(none)", "(none)", "(none)", "0", "0", "0", "off"}
	peer := parseWireguardPeerFields(fields)
	assert.True(t, peer.LatestHandshake.IsZero())
	assert.Equal(t, 0, peer.Keepalive)
	assert.Nil(t, peer.AllowedIPs)
}

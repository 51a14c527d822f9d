package iptables

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChainExistsConflict(t *testing.T) {
	assert.True(t, isChainExistsConflict("iptables: Chain already exists."))
	assert.False(t, isChainExistsConflict("iptables: something else."))
}

func TestIsRuleAbsent(t *testing.T) {
	assert.True(t, isRuleAbsent("iptables: Bad rule (does a matching rule exist in that chain?)."))
	assert.True(t, isRuleAbsent("iptables: No chain/target/match by that name."))
	assert.False(t, isRuleAbsent("iptables: Permission denied."))
}

func TestParseSave_IgnoresHeadersAndComments(t *testing.T) {
	text := `*nat
:PREROUTING ACCEPT [0:0]
:POSTROUTING ACCEPT [0:0]
# generated by iptables-save
-A netA-POSTROUTING -o eth0 -j MASQUERADE
-A netA-POSTROUTING -s 10.0.0.0/30 -d 10.0.0.0/30 -m comment --comment #local_veth# -j ACCEPT
COMMIT
*filter
:INPUT ACCEPT [0:0]
-A netA-INPUT -p udp --dport 51820 -m comment --comment #peer_netA-7# -j ACCEPT
COMMIT
`
	dump := ParseSave(text)
	assert.Len(t, dump["nat"], 2)
	assert.Len(t, dump["filter"], 1)
	assert.Equal(t, "netA-POSTROUTING", dump["nat"][0].Chain)
	assert.Contains(t, dump["nat"][0].Args, "MASQUERADE")
}

func TestDump_RulesTagged(t *testing.T) {
	text := `*nat
-A netA-POSTROUTING -s 10.0.0.0/30 -d 10.0.0.0/30 -m comment --comment #local_veth# -j ACCEPT
-A netA-POSTROUTING -o eth0 -j MASQUERADE
COMMIT
`
	dump := ParseSave(text)
	tagged := dump.RulesTagged("nat", "netA-POSTROUTING", "#local_veth#")
	assert.Len(t, tagged, 1)
	assert.Contains(t, tagged[0].Raw, "ACCEPT")
}

func TestDump_RulesTagged_PeerTagDoesNotMatchOtherPeers(t *testing.T) {
	text := `*filter
-A netA-INPUT -p udp --dport 51820 -m comment --comment #peer_netA-7# -j ACCEPT
-A netA-INPUT -p udp --dport 51821 -m comment --comment #peer_netA-8# -j ACCEPT
COMMIT
`
	dump := ParseSave(text)
	tagged := dump.RulesTagged("filter", "netA-INPUT", "#peer_netA-7#")
	assert.Len(t, tagged, 1)
	assert.Contains(t, tagged[0].Raw, "51820")
}

package model

import "strconv"

// RemoteNodeInfo is the node-level desired state fetched each tick from
// GET /api/v1/node/config. Fields the core does not consume are dropped on
// decode, not modeled here.
type RemoteNodeInfo struct {
	ExitNode bool            `json:"exitNode"`
	VethCIDR string          `json:"vethCIDR,omitempty"`
	OSPF     *RemoteNodeOSPF `json:"ospf,omitempty"`
}

// RemoteNodeOSPF is the area this node's veth side should join when a veth
// is present.
type RemoteNodeOSPF struct {
	Area int    `json:"area"`
	Cost int    `json:"cost"`
	Auth string `json:"auth,omitempty"`
}

// HasVethCIDR is the one predicate for veth desirability: empty string and
// absence mean the same thing, everywhere in this codebase.
func (n RemoteNodeInfo) HasVethCIDR() bool {
	return n.VethCIDR != ""
}

// RemotePeerInfo is one desired peer link fetched from GET /api/v1/node/peers.
type RemotePeerInfo struct {
	ID            int        `json:"id"`
	PublicKey     string     `json:"publicKey"` // selects a local private key from the key pool
	PeerPublicKey string     `json:"peerPublicKey"`
	AddressCIDR   string     `json:"addressCIDR"` // this node's side of the /30 link network
	ListenPort    int        `json:"listenPort"`  // 0 = dynamic, no INPUT rule needed
	MTU           int        `json:"mtu"`
	Keepalive     int        `json:"keepalive"`
	Endpoint      string     `json:"endpoint"` // host:port or [v6]:port
	Extra         *PeerExtra `json:"extra,omitempty"`
}

// PeerExtra is the free-form, per-peer JSON blob from the wire. A parse
// failure on one peer's extra must not invalidate the whole batch: callers
// decode it themselves and leave Extra nil on failure.
type PeerExtra struct {
	OSPF     *PeerOSPFExtra     `json:"ospf,omitempty"`
	Underlay *PeerUnderlayExtra `json:"underlay,omitempty"`
}

// PeerOSPFExtra carries the ping-derived cost inputs for one peer link.
type PeerOSPFExtra struct {
	Cost   int    `json:"cost"`
	Ping   bool   `json:"ping"`
	Offset int    `json:"offset"`
	Auth   string `json:"auth,omitempty"`
}

// UnderlayProvider names the relay implementation requested for a peer.
type UnderlayProvider string

const (
	ProviderGostRelayClient UnderlayProvider = "gost_relay_client"
	ProviderGostRelayServer UnderlayProvider = "gost_relay_server"
)

// PeerUnderlayExtra describes the relay worker a peer wants placed in front
// of its WireGuard endpoint.
type PeerUnderlayExtra struct {
	Provider   UnderlayProvider `json:"provider"`
	ListenPort int              `json:"listenPort,omitempty"`
	ServerAddr string           `json:"serverAddr,omitempty"` // host of the relay server (port is ServerPort); empty = resolve from peer endpoint
	ServerPort int              `json:"serverPort,omitempty"`
}

// IfaceName returns the deterministic WireGuard interface name for this
// peer under the given namespace.
func (p RemotePeerInfo) IfaceName(namespace string) string {
	return namespace + "-" + strconv.Itoa(p.ID)
}

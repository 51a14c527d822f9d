package model

import "time"

// ObservedInterfaceState is the parsed result of `ip -j addr show <name>`.
type ObservedInterfaceState struct {
	Name      string
	MTU       int
	AddressV4 string // "a.b.c.d/nn", empty if none assigned
}

// ObservedWireGuardPeer is one entry of a `wg show ... dump`.
type ObservedWireGuardPeer struct {
	PublicKey       string
	Endpoint        string // absent -> ""
	AllowedIPs      []string
	LatestHandshake time.Time // zero value if never
	ReceiveBytes    int64
	TransmitBytes   int64
	Keepalive       int // seconds, 0 if off
}

// ObservedWireGuardState is the parsed runtime state of one WireGuard
// interface, keyed by peer public key.
type ObservedWireGuardState struct {
	PrivateKey string
	PublicKey  string
	ListenPort int
	FwMark     int
	Peers      map[string]ObservedWireGuardPeer
}

// Package linkmgr creates, inspects, and destroys the kernel network devices
// this agent owns: WireGuard interfaces, veth pairs, dummy and GRE links.
// Every mutation shells out through pkg/procexec; nothing here talks to
// netlink directly, so the same privilege-escalation and namespace-entry
// rules apply to every kernel touch.
package linkmgr

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"networktools/pkg/agentlog"
	"networktools/pkg/model"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("linkmgr")

// Manager operates on devices inside a single namespace. An empty Namespace
// targets the root namespace, used for host-side device halves such as the
// veth "{base}0" end.
type Manager struct {
	Namespace string
}

func New(namespace string) *Manager {
	return &Manager{Namespace: namespace}
}

func (m *Manager) run(argv []string, stdin []byte) (string, error) {
	return procexec.RunChecked(procexec.SudoWrap(argv), stdin)
}

func (m *Manager) runNS(argv []string, stdin []byte) (string, error) {
	return procexec.RunChecked(procexec.SudoWrap(procexec.NsWrap(m.Namespace, argv)), stdin)
}

// CreateWireguard adds a WireGuard device in the root namespace, moves it
// into ns, assigns addrCIDR, and sets mtu. Creating in root before the move
// anchors the device's UDP socket in the root namespace, which is what lets
// encrypted traffic reach peers over the host uplink.
func (m *Manager) CreateWireguard(name, addrCIDR string, mtu int) error {
	if _, err := m.run([]string{"ip", "link", "add", name, "type", "wireguard"}, nil); err != nil {
		return fmt.Errorf("create wireguard %s: %w", name, err)
	}
	agentlog.DevicesChanged.Inc()
	if _, err := m.run([]string{"ip", "link", "set", name, "netns", m.Namespace}, nil); err != nil {
		return fmt.Errorf("move %s to ns %s: %w", name, m.Namespace, err)
	}
	if addrCIDR != "" {
		if _, err := m.runNS([]string{"ip", "addr", "add", addrCIDR, "dev", name}, nil); err != nil {
			return fmt.Errorf("assign address %s on %s: %w", addrCIDR, name, err)
		}
	}
	if mtu > 0 {
		if _, err := m.runNS([]string{"ip", "link", "set", name, "mtu", strconv.Itoa(mtu)}, nil); err != nil {
			return fmt.Errorf("set mtu %d on %s: %w", mtu, name, err)
		}
	}
	return nil
}

// WireguardAssignment is the set of runtime parameters `wg set` can take for
// one interface/peer pairing.
type WireguardAssignment struct {
	PrivateKey string
	ListenPort int    // 0 = leave as-is / kernel chooses
	PeerPublic string // "" = interface-level only, no peer stanza
	Endpoint   string // host:port, resolved to a literal IP before use
	Keepalive  int
	AllowedIPs []string
}

// AssignWireguard writes the private key to a one-shot temp file consumed by
// `wg set ... private-key <file>`, resolving Endpoint to a literal IP first.
// The temp file is removed on every exit path, success or failure.
func (m *Manager) AssignWireguard(name string, a WireguardAssignment) error {
	keyFile, err := writeOneShotSecret(a.PrivateKey)
	if err != nil {
		return fmt.Errorf("stage private key: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(keyFile); rmErr != nil && !os.IsNotExist(rmErr) {
			agentlog.BestEffort(log, "unlink wg key tempfile", rmErr)
		}
	}()

	argv := []string{"wg", "set", name, "private-key", keyFile}
	if a.ListenPort > 0 {
		argv = append(argv, "listen-port", strconv.Itoa(a.ListenPort))
	}
	if a.PeerPublic != "" {
		argv = append(argv, "peer", a.PeerPublic)
		if a.Endpoint != "" {
			ep, err := resolveEndpoint(a.Endpoint)
			if err != nil {
				return fmt.Errorf("resolve endpoint %q: %w", a.Endpoint, err)
			}
			argv = append(argv, "endpoint", ep)
		}
		if len(a.AllowedIPs) > 0 {
			argv = append(argv, "allowed-ips", strings.Join(a.AllowedIPs, ","))
		}
		if a.Keepalive > 0 {
			argv = append(argv, "persistent-keepalive", strconv.Itoa(a.Keepalive))
		}
	}
	if _, err := m.runNS(argv, nil); err != nil {
		return fmt.Errorf("wg set %s: %w", name, err)
	}
	return nil
}

// SetKeepalive issues a standalone `wg set ... peer ... persistent-keepalive`
// call, used when only the keepalive differs from the desired value.
func (m *Manager) SetKeepalive(name, peerPublic string, seconds int) error {
	_, err := m.runNS([]string{"wg", "set", name, "peer", peerPublic, "persistent-keepalive", strconv.Itoa(seconds)}, nil)
	return err
}

func writeOneShotSecret(contents string) (string, error) {
	f, err := os.CreateTemp("", "networktools-wgkey-"+uuid.NewString())
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := os.Chmod(f.Name(), 0o600); err != nil {
		return "", err
	}
	if _, err := f.WriteString(contents); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// resolveEndpoint turns "host:port" into a literal IP:port, preferring IPv4,
// wrapping IPv6 in brackets.
func resolveEndpoint(endpoint string) (string, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return net.JoinHostPort(v4.String(), port), nil
		}
		return "[" + ip.String() + "]:" + port, nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", err
	}
	var v4, v6 string
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil && v4 == "" {
			v4 = ip.String()
		} else if v6 == "" {
			v6 = ip.String()
		}
	}
	if v4 != "" {
		return net.JoinHostPort(v4, port), nil
	}
	if v6 != "" {
		return "[" + v6 + "]:" + port, nil
	}
	return "", fmt.Errorf("no addresses resolved for %s", host)
}

// UpWireguard brings the interface up.
func (m *Manager) UpWireguard(name string) error {
	_, err := m.runNS([]string{"ip", "link", "set", name, "up"}, nil)
	return err
}

// VethAddressing computes the host and namespace /30 addresses for a given
// link network: host = network+1, ns = network+2, the only two usable hosts
// in a /30.
func VethAddressing(cidr string) (hostCIDR, nsCIDR string, err error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", "", err
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones != 2 {
		return "", "", fmt.Errorf("veth addressing requires a /30, got %s", cidr)
	}
	network := ipnet.IP.Mask(ipnet.Mask).To4()
	if network == nil {
		return "", "", fmt.Errorf("veth addressing requires IPv4, got %s", cidr)
	}
	host := addOffset(network, 1)
	ns := addOffset(network, 2)
	return fmt.Sprintf("%s/30", host), fmt.Sprintf("%s/30", ns), nil
}

func addOffset(base net.IP, offset byte) string {
	out := make(net.IP, len(base))
	copy(out, base)
	out[len(out)-1] += offset
	return out.String()
}

// CreateVeth creates a veth pair "{baseName}0" (host side) and
// "{baseName}1" (ns side), assigning host=net+1/30 and ns=net+2/30, and
// brings both up.
func (m *Manager) CreateVeth(baseName, cidr string) error {
	hostCIDR, nsCIDR, err := VethAddressing(cidr)
	if err != nil {
		return err
	}
	hostName, nsName := baseName+"0", baseName+"1"
	if _, err := m.run([]string{"ip", "link", "add", hostName, "type", "veth", "peer", "name", nsName}, nil); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", hostName, nsName, err)
	}
	agentlog.DevicesChanged.Inc()
	if _, err := m.run([]string{"ip", "link", "set", nsName, "netns", m.Namespace}, nil); err != nil {
		return fmt.Errorf("move %s to ns %s: %w", nsName, m.Namespace, err)
	}
	if _, err := m.run([]string{"ip", "addr", "add", hostCIDR, "dev", hostName}, nil); err != nil {
		return fmt.Errorf("assign %s on %s: %w", hostCIDR, hostName, err)
	}
	if _, err := m.runNS([]string{"ip", "addr", "add", nsCIDR, "dev", nsName}, nil); err != nil {
		return fmt.Errorf("assign %s on %s: %w", nsCIDR, nsName, err)
	}
	if _, err := m.run([]string{"ip", "link", "set", hostName, "up"}, nil); err != nil {
		return fmt.Errorf("up %s: %w", hostName, err)
	}
	if _, err := m.runNS([]string{"ip", "link", "set", nsName, "up"}, nil); err != nil {
		return fmt.Errorf("up %s: %w", nsName, err)
	}
	return nil
}

// Exists reports whether a device is present, via `ip link show`.
func (m *Manager) Exists(name string) bool {
	res, err := procexec.Run(procexec.SudoWrap(procexec.NsWrap(m.Namespace, []string{"ip", "link", "show", name})), nil)
	return err == nil && res.ExitCode == 0
}

// TryDestroy deletes name iff present. Used for WireGuard interfaces, veth
// host sides, and any other device this package creates.
func (m *Manager) TryDestroy(name string) error {
	if !m.Exists(name) {
		return nil
	}
	if _, err := m.runNS([]string{"ip", "link", "del", name}, nil); err != nil {
		return err
	}
	agentlog.DevicesChanged.Inc()
	return nil
}

// CreateDummy adds a dummy interface, useful as a stable loopback-style
// anchor address inside the namespace.
func (m *Manager) CreateDummy(name, addrCIDR string) error {
	if _, err := m.runNS([]string{"ip", "link", "add", name, "type", "dummy"}, nil); err != nil {
		return fmt.Errorf("create dummy %s: %w", name, err)
	}
	if addrCIDR != "" {
		if _, err := m.runNS([]string{"ip", "addr", "add", addrCIDR, "dev", name}, nil); err != nil {
			return fmt.Errorf("assign %s on %s: %w", addrCIDR, name, err)
		}
	}
	_, err := m.runNS([]string{"ip", "link", "set", name, "up"}, nil)
	return err
}

// CreateGRE adds a GRE tunnel between local and remote endpoints.
func (m *Manager) CreateGRE(name, local, remote, addrCIDR string) error {
	if _, err := m.runNS([]string{"ip", "tunnel", "add", name, "mode", "gre", "local", local, "remote", remote}, nil); err != nil {
		return fmt.Errorf("create gre %s: %w", name, err)
	}
	if addrCIDR != "" {
		if _, err := m.runNS([]string{"ip", "addr", "add", addrCIDR, "dev", name}, nil); err != nil {
			return fmt.Errorf("assign %s on %s: %w", addrCIDR, name, err)
		}
	}
	_, err := m.runNS([]string{"ip", "link", "set", name, "up"}, nil)
	return err
}

// GetInterfaceState parses `ip -j addr show <name>`, retrying once after a
// 3s sleep on JSON decode failure: `ip -j` output can be truncated while a
// device is mid-configuration.
func (m *Manager) GetInterfaceState(name string) (model.ObservedInterfaceState, error) {
	out, err := m.runNS([]string{"ip", "-j", "addr", "show", name}, nil)
	if err != nil {
		return model.ObservedInterfaceState{}, err
	}
	state, perr := parseAddrShow(name, out)
	if perr == nil {
		return state, nil
	}
	time.Sleep(3 * time.Second)
	out, err = m.runNS([]string{"ip", "-j", "addr", "show", name}, nil)
	if err != nil {
		return model.ObservedInterfaceState{}, err
	}
	return parseAddrShow(name, out)
}

// addrShowEntry mirrors the subset of `ip -j addr show` JSON this agent
// reads: interface name, MTU, and the primary IPv4 address.
type addrShowEntry struct {
	IfName   string `json:"ifname"`
	Mtu      int    `json:"mtu"`
	AddrInfo []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

func parseAddrShow(name, jsonText string) (model.ObservedInterfaceState, error) {
	var entries []addrShowEntry
	if err := json.Unmarshal([]byte(jsonText), &entries); err != nil {
		return model.ObservedInterfaceState{}, fmt.Errorf("parse ip -j addr show %s: %w", name, err)
	}
	if len(entries) == 0 {
		return model.ObservedInterfaceState{}, fmt.Errorf("ip -j addr show %s: interface not found", name)
	}
	e := entries[0]
	state := model.ObservedInterfaceState{Name: e.IfName, MTU: e.Mtu}
	for _, a := range e.AddrInfo {
		if a.Family == "inet" {
			state.AddressV4 = fmt.Sprintf("%s/%d", a.Local, a.PrefixLen)
			break
		}
	}
	return state, nil
}

// DumpAllWireguard parses `wg show all dump`, tab-separated, into one
// ObservedWireGuardState per interface keyed by interface name. Interface
// lines have 5 fields (ifname + 4), peer lines have 9 (ifname + 8); fwmark
// "off" -> 0, endpoint/preshared/keepalive "(none)"/"off" -> absent.
func (m *Manager) DumpAllWireguard() (map[string]model.ObservedWireGuardState, error) {
	out, err := m.runNS([]string{"wg", "show", "all", "dump"}, nil)
	if err != nil {
		return nil, fmt.Errorf("wg show all dump: %w", err)
	}
	states := map[string]model.ObservedWireGuardState{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 1 {
			continue
		}
		ifname := fields[0]
		rest := fields[1:]
		switch len(rest) {
		case 4:
			states[ifname] = model.ObservedWireGuardState{
				PrivateKey: noneToEmpty(rest[0]),
				PublicKey:  noneToEmpty(rest[1]),
				ListenPort: atoiOr0(rest[2]),
				FwMark:     fwmarkOr0(rest[3]),
				Peers:      map[string]model.ObservedWireGuardPeer{},
			}
		case 8:
			st, ok := states[ifname]
			if !ok {
				st = model.ObservedWireGuardState{Peers: map[string]model.ObservedWireGuardPeer{}}
			}
			peer := parseWireguardPeerFields(rest)
			st.Peers[peer.PublicKey] = peer
			states[ifname] = st
		}
	}
	return states, nil
}

// DumpWireguard is the single-interface variant of DumpAllWireguard: `wg show
// <name> dump` omits the interface-name column, so the interface line has 4
// fields and peer lines have 8.
func (m *Manager) DumpWireguard(name string) (model.ObservedWireGuardState, error) {
	out, err := m.runNS([]string{"wg", "show", name, "dump"}, nil)
	if err != nil {
		return model.ObservedWireGuardState{}, fmt.Errorf("wg show %s dump: %w", name, err)
	}
	state := model.ObservedWireGuardState{Peers: map[string]model.ObservedWireGuardPeer{}}
	first := true
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if first {
			first = false
			if len(fields) >= 4 {
				state.PrivateKey = noneToEmpty(fields[0])
				state.PublicKey = noneToEmpty(fields[1])
				state.ListenPort = atoiOr0(fields[2])
				state.FwMark = fwmarkOr0(fields[3])
			}
			continue
		}
		if len(fields) >= 8 {
			peer := parseWireguardPeerFields(fields)
			state.Peers[peer.PublicKey] = peer
		}
	}
	return state, nil
}

func parseWireguardPeerFields(f []string) model.ObservedWireGuardPeer {
	peer := model.ObservedWireGuardPeer{
		PublicKey: noneToEmpty(f[0]),
		Endpoint:  noneToEmpty(f[2]),
	}
	if aips := noneToEmpty(f[3]); aips != "" {
		peer.AllowedIPs = strings.Split(aips, ",")
	}
	if hs := atoiOr0(f[4]); hs > 0 {
		peer.LatestHandshake = time.Unix(int64(hs), 0)
	}
	peer.ReceiveBytes = atoi64Or0(f[5])
	peer.TransmitBytes = atoi64Or0(f[6])
	if ka := noneToEmpty(f[7]); ka != "" {
		peer.Keepalive = atoiOr0(ka)
	}
	return peer
}

func noneToEmpty(s string) string {
	if s == "(none)" || s == "off" {
		return ""
	}
	return s
}

func fwmarkOr0(s string) int {
	if s == "off" {
		return 0
	}
	return atoiOr0(s)
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atoi64Or0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

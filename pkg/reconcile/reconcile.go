// Package reconcile is the sync loop at the heart of the agent: one tick
// takes the local observed state (kernel devices, iptables, WireGuard
// runtime, persisted records) and the desired state fetched from the
// controller, and issues the minimal imperative operations needed to make
// the node match intent. Every stage is idempotent and tolerates partial
// completion of a previous tick, so the loop converges under drift: a
// deleted rule or interface is restored on the next pass, a stale one is
// destroyed.
package reconcile

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"networktools/pkg/agentlog"
	"networktools/pkg/container"
	"networktools/pkg/controller"
	"networktools/pkg/ensure"
	"networktools/pkg/iptables"
	"networktools/pkg/linkmgr"
	"networktools/pkg/model"
	"networktools/pkg/ospfparse"
	"networktools/pkg/pingagg"
	"networktools/pkg/procexec"
	"networktools/pkg/relayworker"
	"networktools/pkg/routerconfig"
	"networktools/pkg/store"
)

var log = agentlog.WithComponent("reconcile")

const (
	localVethTag = "#local_veth#"
	defaultMTU   = 1420
	tickInterval = 60 * time.Second
)

func peerTag(ifname string) string { return "#peer_" + ifname + "#" }

// Reconciler holds the dependencies one tick needs. Namespace/EthName come
// from the node's persisted settings at the start of every tick; InstallDir
// is the process-wide $INSTALL_DIR used by the relay-worker manager.
type Reconciler struct {
	Store      *store.Store
	Controller *controller.Client
	InstallDir string
}

// DoSyncOnce runs one full reconciliation pass: prerequisites, key pool,
// desired-state fetch, exit-node/veth/peer/underlay diffs, routing config
// regeneration, telemetry. It aborts at the first error; the caller's loop
// logs it and restarts cleanly on the next tick.
func (r *Reconciler) DoSyncOnce(ctx context.Context) error {
	settings, ok, err := r.Store.GetNodeSettings()
	if err != nil {
		return fmt.Errorf("load node settings: %w", err)
	}
	if !ok {
		return fmt.Errorf("node settings not initialized, run init first")
	}
	ns := settings.Namespace

	if err := ensure.All(ns); err != nil {
		return fmt.Errorf("ensure prerequisites: %w", err)
	}

	pubKeys, err := r.syncKeyPool()
	if err != nil {
		return fmt.Errorf("sync key pool: %w", err)
	}
	if err := r.Controller.SyncWireGuardKeys(pubKeys); err != nil {
		return fmt.Errorf("report key pool: %w", err)
	}

	nodeInfo, err := r.Controller.GetNodeConfig()
	if err != nil {
		return fmt.Errorf("fetch node config: %w", err)
	}
	peers, err := r.Controller.GetNodePeers()
	if err != nil {
		return fmt.Errorf("fetch node peers: %w", err)
	}

	// Agent-owned chains and the host-side device halves live in the root
	// namespace; only device state inside the netns needs the ns-scoped
	// manager.
	rootIpt := iptables.New("")
	nsLinks := linkmgr.New(ns)
	rootLinks := linkmgr.New("")

	if err := diffExitNode(rootIpt, ns, settings.EthName, nodeInfo.ExitNode); err != nil {
		return fmt.Errorf("exit-node diff: %w", err)
	}

	if err := diffVeth(nsLinks, rootLinks, rootIpt, ns, settings.EthName, nodeInfo); err != nil {
		return fmt.Errorf("veth diff: %w", err)
	}

	if err := r.diffPeers(ctx, nsLinks, rootIpt, ns, peers); err != nil {
		return fmt.Errorf("peer diff: %w", err)
	}

	if err := r.renderRoutingConfig(ctx, ns, settings, nodeInfo, peers); err != nil {
		return fmt.Errorf("routing config: %w", err)
	}

	if err := r.collectTelemetry(ctx, nsLinks, ns, peers); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// syncKeyPool tops the local WireGuard key pool up to model.DefaultKeyPoolSize
// and returns every public key currently held. The controller assigns peers
// against this pool, so the private halves must exist before any assignment
// can arrive.
func (r *Reconciler) syncKeyPool() ([]string, error) {
	keys, err := r.Store.GetAllWireGuardKeys()
	if err != nil {
		return nil, err
	}
	for len(keys) < model.DefaultKeyPoolSize {
		pair, err := generateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate wireguard key: %w", err)
		}
		if err := r.Store.CreateWireGuardKey(pair); err != nil {
			return nil, err
		}
		keys = append(keys, pair)
	}
	pubKeys := make([]string, len(keys))
	for i, k := range keys {
		pubKeys[i] = k.Public
	}
	return pubKeys, nil
}

func generateKeyPair() (model.WireGuardKeyPair, error) {
	priv, err := procexec.RunChecked([]string{"wg", "genkey"}, nil)
	if err != nil {
		return model.WireGuardKeyPair{}, err
	}
	priv = trimLine(priv)
	pub, err := procexec.RunChecked([]string{"wg", "pubkey"}, []byte(priv))
	if err != nil {
		return model.WireGuardKeyPair{}, err
	}
	return model.WireGuardKeyPair{Private: priv, Public: trimLine(pub)}, nil
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// diffExitNode reconciles the masquerade rule against the desired exit-node
// flag: append when the node should masquerade egress, delete when not.
func diffExitNode(rootIpt *iptables.Manager, ns, eth string, exitNode bool) error {
	args := []string{"-o", eth, "-j", "MASQUERADE"}
	if exitNode {
		return rootIpt.AppendIfMissing("nat", ns+"-POSTROUTING", args...)
	}
	return rootIpt.DeleteIfPresent("nat", ns+"-POSTROUTING", args...)
}

// diffVeth reconciles the local exit veth pair and its tagged rules against
// the desired veth CIDR. Destroy runs device-first so the rule purge works
// from a dump that reflects the post-destroy kernel state; create runs
// device-first so rules never reference a missing interface.
func diffVeth(nsLinks, rootLinks *linkmgr.Manager, rootIpt *iptables.Manager, ns, eth string, nodeInfo model.RemoteNodeInfo) error {
	vethNsName := ns + "-veth1"
	observed := nsLinks.Exists(vethNsName)
	desired := nodeInfo.HasVethCIDR()

	switch {
	case observed && !desired:
		if err := rootLinks.TryDestroy(ns + "-veth0"); err != nil {
			return err
		}
		dump, err := rootIpt.DumpAll()
		if err != nil {
			return err
		}
		for _, chain := range []struct{ table, chain string }{
			{"nat", ns + "-POSTROUTING"},
			{"filter", ns + "-FORWARD"},
			{"filter", ns + "-INPUT"},
		} {
			if err := rootIpt.DeleteTagged(chain.table, chain.chain, localVethTag, dump); err != nil {
				return err
			}
		}
		return nil

	case !observed && desired:
		if err := nsLinks.CreateVeth(ns+"-veth", nodeInfo.VethCIDR); err != nil {
			return err
		}
		uplink, err := rootLinks.GetInterfaceState(eth)
		if err != nil {
			return fmt.Errorf("read uplink %s address: %w", eth, err)
		}
		uplinkIP, _, err := net.ParseCIDR(uplink.AddressV4)
		if err != nil {
			return fmt.Errorf("uplink %s has no usable IPv4 address: %w", eth, err)
		}
		rules := []struct {
			table, chain string
			args         []string
		}{
			{"nat", ns + "-POSTROUTING", []string{"-s", nodeInfo.VethCIDR, "-d", nodeInfo.VethCIDR, "-j", "ACCEPT"}},
			{"nat", ns + "-POSTROUTING", []string{"-s", nodeInfo.VethCIDR, "!", "-d", "224.0.0.0/4", "-j", "SNAT", "--to-source", uplinkIP.String()}},
			{"filter", ns + "-FORWARD", []string{"-i", vethNsName, "-j", "ACCEPT"}},
			{"filter", ns + "-FORWARD", []string{"-o", vethNsName, "-j", "ACCEPT"}},
			{"filter", ns + "-INPUT", []string{"-p", "ospf", "-j", "ACCEPT"}},
		}
		for _, r := range rules {
			args := append(append([]string(nil), r.args...), "-m", "comment", "--comment", localVethTag)
			if err := rootIpt.AppendIfMissing(r.table, r.chain, args...); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// diffPeers reconciles one WireGuard interface per remote peer, its underlay
// relay worker, and destroys stale peer interfaces that no longer appear in
// the desired peer set.
func (r *Reconciler) diffPeers(ctx context.Context, nsLinks *linkmgr.Manager, rootIpt *iptables.Manager, ns string, peers []model.RemotePeerInfo) error {
	wgStates, err := nsLinks.DumpAllWireguard()
	if err != nil {
		return fmt.Errorf("dump wireguard state: %w", err)
	}
	marked := make(map[string]bool, len(peers))

	for _, p := range peers {
		ifname := p.IfaceName(ns)
		marked[ifname] = true

		if _, exists := wgStates[ifname]; !exists {
			if err := r.createPeerInterface(nsLinks, rootIpt, ns, ifname, p); err != nil {
				return fmt.Errorf("create peer interface %s: %w", ifname, err)
			}
		} else if err := r.syncKeepaliveIfNoUnderlay(nsLinks, ifname, p, wgStates[ifname]); err != nil {
			return fmt.Errorf("sync keepalive %s: %w", ifname, err)
		}

		if err := r.reconcileUnderlay(nsLinks, ns, ifname, p); err != nil {
			return fmt.Errorf("reconcile underlay %s: %w", ifname, err)
		}
	}

	for ifname := range wgStates {
		if marked[ifname] {
			continue
		}
		if err := nsLinks.TryDestroy(ifname); err != nil {
			return fmt.Errorf("destroy stale peer %s: %w", ifname, err)
		}
		dump, err := rootIpt.DumpAll()
		if err != nil {
			return err
		}
		if err := rootIpt.DeleteTagged("filter", ns+"-INPUT", peerTag(ifname), dump); err != nil {
			return err
		}
		if err := r.Store.DeleteLocalUnderlayState(ifname); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) createPeerInterface(nsLinks *linkmgr.Manager, rootIpt *iptables.Manager, ns, ifname string, p model.RemotePeerInfo) error {
	pairs, err := r.Store.GetAllWireGuardKeys()
	if err != nil {
		return err
	}
	private, ok := findPrivateKey(pairs, p.PublicKey)
	if !ok {
		return fmt.Errorf("no private key in pool for public key %s", p.PublicKey)
	}

	mtu := p.MTU
	if mtu == 0 {
		mtu = defaultMTU
	}
	if err := nsLinks.CreateWireguard(ifname, p.AddressCIDR, mtu); err != nil {
		return err
	}
	if err := nsLinks.AssignWireguard(ifname, linkmgr.WireguardAssignment{
		PrivateKey: private,
		ListenPort: p.ListenPort,
		PeerPublic: p.PeerPublicKey,
		Endpoint:   p.Endpoint,
		Keepalive:  p.Keepalive,
		AllowedIPs: []string{"0.0.0.0/0"},
	}); err != nil {
		return err
	}
	if err := nsLinks.UpWireguard(ifname); err != nil {
		return err
	}
	if p.ListenPort != 0 {
		if err := rootIpt.AppendIfMissing("filter", ns+"-INPUT", "-p", "udp", "--dport", strconv.Itoa(p.ListenPort), "-j", "ACCEPT", "-m", "comment", "--comment", peerTag(ifname)); err != nil {
			return err
		}
	}
	return nil
}

func findPrivateKey(pairs []model.WireGuardKeyPair, public string) (string, bool) {
	for _, p := range pairs {
		if p.Public == public {
			return p.Private, true
		}
	}
	return "", false
}

// syncKeepaliveIfNoUnderlay issues a standalone keepalive update when no
// underlay relay is desired for this peer and the observed value differs.
// A peer with an active underlay skips this sync: with a client-mode relay
// its keepalive is re-applied only when the relay is created or recreated,
// and with a server-mode relay it is not updated after interface creation.
func (r *Reconciler) syncKeepaliveIfNoUnderlay(nsLinks *linkmgr.Manager, ifname string, p model.RemotePeerInfo, observed model.ObservedWireGuardState) error {
	if p.Extra != nil && p.Extra.Underlay != nil {
		return nil
	}
	peer, ok := observed.Peers[p.PeerPublicKey]
	if ok && peer.Keepalive == p.Keepalive {
		return nil
	}
	return nsLinks.SetKeepalive(ifname, p.PeerPublicKey, p.Keepalive)
}

// reconcileUnderlay drives one peer's relay-worker state machine: the four
// (stored, desired) combinations map to no-op, create, stop+delete, or a
// recreate when mode or relevant parameters changed.
func (r *Reconciler) reconcileUnderlay(nsLinks *linkmgr.Manager, ns, ifname string, p model.RemotePeerInfo) error {
	local, hasLocal, err := r.Store.GetLocalUnderlayState(ifname)
	if err != nil {
		return err
	}
	desired := p.Extra != nil && p.Extra.Underlay != nil

	switch {
	case !hasLocal && !desired:
		return nil
	case !hasLocal && desired:
		return r.createUnderlay(nsLinks, ns, ifname, p)
	case hasLocal && !desired:
		relayworker.New(ns, r.InstallDir).Stop(local)
		return r.Store.DeleteLocalUnderlayState(ifname)
	default:
		if !underlayNeedsRecreate(local, p.Extra.Underlay) {
			return nil
		}
		relayworker.New(ns, r.InstallDir).Stop(local)
		if err := r.Store.DeleteLocalUnderlayState(ifname); err != nil {
			return err
		}
		return r.createUnderlay(nsLinks, ns, ifname, p)
	}
}

func underlayNeedsRecreate(local model.LocalUnderlayState, desired *model.PeerUnderlayExtra) bool {
	if local.Mode != modeOfProvider(desired.Provider) {
		return true
	}
	if local.ListenPort != desired.ListenPort {
		return true
	}
	if local.Mode == model.UnderlayClient {
		if local.ServerPort != desired.ServerPort {
			return true
		}
		if desired.ServerAddr != "" && local.ServerIP != desired.ServerAddr {
			return true
		}
	}
	return false
}

func modeOfProvider(p model.UnderlayProvider) model.UnderlayMode {
	if p == model.ProviderGostRelayServer {
		return model.UnderlayServer
	}
	return model.UnderlayClient
}

func (r *Reconciler) createUnderlay(nsLinks *linkmgr.Manager, ns, ifname string, p model.RemotePeerInfo) error {
	extra := p.Extra.Underlay
	relayMgr := relayworker.New(ns, r.InstallDir)

	switch extra.Provider {
	case model.ProviderGostRelayServer:
		wgState, err := nsLinks.DumpWireguard(ifname)
		if err != nil {
			return fmt.Errorf("read wireguard listen port for %s: %w", ifname, err)
		}
		state, err := relayMgr.StartServer(extra.ListenPort, wgState.ListenPort)
		if err != nil {
			return err
		}
		return r.Store.SetLocalUnderlayState(ifname, state)

	default: // model.ProviderGostRelayClient
		dst := extra.ServerAddr
		if dst == "" {
			resolved, err := resolvePeerHost(p.Endpoint)
			if err != nil {
				return fmt.Errorf("resolve peer endpoint %q: %w", p.Endpoint, err)
			}
			dst = resolved
		}
		state, err := relayMgr.StartClient(extra.ListenPort, dst, extra.ServerPort)
		if err != nil {
			return err
		}
		if err := r.Store.SetLocalUnderlayState(ifname, state); err != nil {
			return err
		}
		pairs, err := r.Store.GetAllWireGuardKeys()
		if err != nil {
			return err
		}
		private, ok := findPrivateKey(pairs, p.PublicKey)
		if !ok {
			return fmt.Errorf("no private key in pool for public key %s", p.PublicKey)
		}
		return nsLinks.AssignWireguard(ifname, linkmgr.WireguardAssignment{
			PrivateKey: private,
			PeerPublic: p.PeerPublicKey,
			Endpoint:   fmt.Sprintf("127.0.0.1:%d", extra.ListenPort),
			Keepalive:  p.Keepalive,
			AllowedIPs: []string{"0.0.0.0/0"},
		})
	}
}

func resolvePeerHost(endpoint string) (string, error) {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}

// renderRoutingConfig computes per-peer OSPF costs from fresh ping
// measurements, renders the routing-daemon config, writes it atomically into
// the container bind mount, and reloads the daemon.
func (r *Reconciler) renderRoutingConfig(ctx context.Context, ns string, settings model.NodeSettings, nodeInfo model.RemoteNodeInfo, peers []model.RemotePeerInfo) error {
	ifnames := make([]string, 0, len(peers))
	for _, p := range peers {
		ifnames = append(ifnames, p.IfaceName(ns))
	}
	pings := pingagg.Measure(ctx, ns, ifnames)

	var localInterfaceCIDRs []string
	directInterfaces := make([]string, 0, len(peers)+1)
	areaZero := map[string]model.OSPFInterfaceConfig{}
	bfdConfig := map[string]model.BFDInterfaceConfig{}

	for _, p := range peers {
		ifname := p.IfaceName(ns)
		directInterfaces = append(directInterfaces, ifname)

		_, ipnet, err := net.ParseCIDR(p.AddressCIDR)
		if err != nil {
			return fmt.Errorf("peer %d address %q: %w", p.ID, p.AddressCIDR, err)
		}
		if ones, bits := ipnet.Mask.Size(); ones == bits {
			return fmt.Errorf("peer %d address %q is a /32, link networks need two usable hosts", p.ID, p.AddressCIDR)
		}
		localInterfaceCIDRs = append(localInterfaceCIDRs, ipnet.String())

		cost := costForPeer(p, pings[ifname])
		var auth string
		if p.Extra != nil && p.Extra.OSPF != nil {
			auth = p.Extra.OSPF.Auth
		}
		areaZero[ifname] = model.OSPFInterfaceConfig{Area: 0, Cost: cost, Type: "ptp", Auth: auth}
		bfdConfig[ifname] = model.BFDInterfaceConfig{IntervalMs: 1000, IdleMs: 5000, Multiplier: 5}
	}

	ospfAreaConfig := map[string]map[string]model.OSPFInterfaceConfig{"0": areaZero}
	if nodeInfo.HasVethCIDR() && nodeInfo.OSPF != nil {
		vethIface := ns + "-veth1"
		directInterfaces = append(directInterfaces, vethIface)
		areaID := strconv.Itoa(nodeInfo.OSPF.Area)
		if ospfAreaConfig[areaID] == nil {
			ospfAreaConfig[areaID] = map[string]model.OSPFInterfaceConfig{}
		}
		ospfAreaConfig[areaID][vethIface] = model.OSPFInterfaceConfig{
			Area: nodeInfo.OSPF.Area,
			Cost: nodeInfo.OSPF.Cost,
			Type: "ptp",
			Auth: nodeInfo.OSPF.Auth,
		}
	}

	spec := model.RouterConfigSpec{
		RouterID:               routerIDFromNodeID(settings.NodeID),
		DirectInterfaceNames:   directInterfaces,
		OSPFImportExcludeCIDRs: localInterfaceCIDRs,
		OSPFAreaConfig:         ospfAreaConfig,
		BFDConfig:              bfdConfig,
		Timestamp:              time.Now().UTC().Format(time.RFC3339),
	}
	text := routerconfig.Render(spec)

	tmpPath := filepath.Join(os.TempDir(), uuid.NewString())
	if err := os.WriteFile(tmpPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("stage rendered config: %w", err)
	}
	defer os.Remove(tmpPath)

	_, routerDir := ensure.TempDirs(ns)
	dst := filepath.Join(routerDir, "bird.conf")
	if _, err := procexec.RunChecked(procexec.SudoWrap([]string{"mv", tmpPath, dst}), nil); err != nil {
		return fmt.Errorf("install rendered config: %w", err)
	}

	if err := ensure.Container(ns); err != nil {
		return fmt.Errorf("ensure router container: %w", err)
	}
	if err := container.New(ns).Reload(); err != nil {
		return fmt.Errorf("reload router config: %w", err)
	}
	return nil
}

// costForPeer derives the OSPF cost for one peer link: base is the measured
// ping in ms when available, else the declared cost, else 1000; the declared
// offset is added and the result clamped to the valid OSPF cost range.
func costForPeer(p model.RemotePeerInfo, measuredPing float64) int {
	base := 1000.0
	offset := 0
	if p.Extra != nil && p.Extra.OSPF != nil {
		base = float64(p.Extra.OSPF.Cost)
		offset = p.Extra.OSPF.Offset
	}
	if measuredPing > 0 {
		base = measuredPing
	}
	return clampInt(int(base)+offset, 1, 65535)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// routerIDFromNodeID derives a stable, IPv4-shaped OSPF router ID from the
// node's assigned cluster ID, since the routing daemon needs a dotted-quad
// identity distinct from any interface address.
func routerIDFromNodeID(nodeID int64) string {
	if nodeID == 0 {
		return ""
	}
	n := uint32(nodeID)
	return fmt.Sprintf("0.%d.%d.%d", byte(n>>16), byte(n>>8), byte(n))
}

// collectTelemetry re-measures ping over a fresh window, reports per-peer
// link telemetry, and, when the router container is up, parses and reports
// the OSPF LSDB.
func (r *Reconciler) collectTelemetry(ctx context.Context, nsLinks *linkmgr.Manager, ns string, peers []model.RemotePeerInfo) error {
	ifnames := make([]string, 0, len(peers))
	for _, p := range peers {
		if nsLinks.Exists(p.IfaceName(ns)) {
			ifnames = append(ifnames, p.IfaceName(ns))
		}
	}
	pings := pingagg.Measure(ctx, ns, ifnames)

	links := make([]controller.LinkTelemetry, 0, len(peers))
	for _, p := range peers {
		ifname := p.IfaceName(ns)
		pingMs := -1.0
		if v, ok := pings[ifname]; ok {
			pingMs = v
			agentlog.PingSamples.WithLabelValues(ifname).Set(v)
		}
		var rx, tx int64
		if wgState, err := nsLinks.DumpWireguard(ifname); err == nil {
			if peer, ok := wgState.Peers[p.PeerPublicKey]; ok {
				rx, tx = peer.ReceiveBytes, peer.TransmitBytes
			}
		}
		links = append(links, controller.LinkTelemetry{ID: p.ID, Ping: pingMs, RX: rx, TX: tx})
	}
	if err := r.Controller.PostLinkTelemetry(links); err != nil {
		return fmt.Errorf("post link telemetry: %w", err)
	}

	containerMgr := container.New(ns)
	info, ok, err := containerMgr.Inspect()
	if err != nil || !ok || info.Status != "running" {
		return nil
	}
	lsdbText, err := procexec.RunChecked(procexec.SudoWrap([]string{"podman", "exec", info.ID, "birdc", "show", "ospf", "state", "all"}), nil)
	if err != nil {
		return fmt.Errorf("read ospf lsdb: %w", err)
	}
	state := ospfparse.Parse(lsdbText)
	return r.Controller.PostRouterTelemetry(toTelemetryPayload(state))
}

func toTelemetryPayload(state model.OSPFState) controller.RouterTelemetryPayload {
	areaRouters := make(map[string][]controller.RouterTelemetryEntry, len(state.AreaRouters))
	for area, routers := range state.AreaRouters {
		entries := make([]controller.RouterTelemetryEntry, len(routers))
		for i, r := range routers {
			entries[i] = toTelemetryEntry(r)
		}
		areaRouters[area] = entries
	}
	other := make([]controller.RouterTelemetryEntry, len(state.OtherASBRs))
	for i, r := range state.OtherASBRs {
		other[i] = toTelemetryEntry(r)
	}
	return controller.RouterTelemetryPayload{AreaRouters: areaRouters, OtherASBRs: other}
}

func toTelemetryEntry(r model.RouterInfo) controller.RouterTelemetryEntry {
	entry := controller.RouterTelemetryEntry{RouterID: r.RouterID, Distance: r.Distance}
	for _, v := range r.VLinks {
		entry.VLinks = append(entry.VLinks, controller.RouterTelemetryRef{RouterID: v.RouterID, Metric: v.Metric})
	}
	for _, v := range r.Routers {
		entry.Routers = append(entry.Routers, controller.RouterTelemetryRef{RouterID: v.RouterID, Metric: v.Metric})
	}
	for _, v := range r.StubNets {
		entry.StubNets = append(entry.StubNets, controller.RouterTelemetryNetwork{Network: v.Prefix, Metric: v.Metric})
	}
	for _, v := range r.XNetworks {
		entry.XNetworks = append(entry.XNetworks, controller.RouterTelemetryNetwork{Network: v.Prefix, Metric: v.Metric})
	}
	for _, v := range r.XRouters {
		entry.XRouters = append(entry.XRouters, controller.RouterTelemetryRef{RouterID: v.RouterID, Metric: v.Metric})
	}
	for _, v := range r.Externals {
		entry.Externals = append(entry.Externals, controller.RouterTelemetryExternal{Network: v.Prefix, Metric: v.Metric, MetricType: v.MetricType, Via: v.Via, Tag: v.Tag})
	}
	for _, v := range r.NSSAExt {
		entry.NSSAExt = append(entry.NSSAExt, controller.RouterTelemetryExternal{Network: v.Prefix, Metric: v.Metric, MetricType: v.MetricType, Via: v.Via, Tag: v.Tag})
	}
	return entry
}

// Cleanup performs the full startup sweep: every WireGuard device in the
// namespace and the host-side exit veth are destroyed, every agent-owned
// iptables chain plus the in-namespace FORWARD chain is flushed, and the
// router container is shut down with its temp dir purged. Every step is
// best-effort so one stale/missing object cannot block the rest.
func Cleanup(ns string) {
	nsLinks := linkmgr.New(ns)
	if wgStates, err := nsLinks.DumpAllWireguard(); err == nil {
		for ifname := range wgStates {
			agentlog.BestEffort(log, "destroy "+ifname, nsLinks.TryDestroy(ifname))
		}
	} else {
		agentlog.BestEffort(log, "dump wireguard state for cleanup", err)
	}
	agentlog.BestEffort(log, "destroy "+ns+"-veth0", linkmgr.New("").TryDestroy(ns+"-veth0"))

	rootIpt := iptables.New("")
	for _, c := range ensure.ChainSpecs(ns) {
		rootIpt.Flush(c.Table, c.Chain)
	}
	iptables.New(ns).Flush("filter", "FORWARD")

	base, _ := ensure.TempDirs(ns)
	container.New(ns).Shutdown(base, true)
}

// Run is the service-loop wrapper: cleanup sweep, 1s settle, then DoSyncOnce
// every 60s until ctx is cancelled. Every tick's error is logged and the
// loop continues.
func Run(ctx context.Context, r *Reconciler, ns string) error {
	Cleanup(ns)
	select {
	case <-time.After(1 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		start := time.Now()
		if err := r.DoSyncOnce(ctx); err != nil {
			agentlog.TickFailures.Inc()
			log.Error().Err(err).Msg("reconciliation tick failed")
		}
		agentlog.TickDuration.Observe(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package ensure is the idempotent create-if-missing layer: netns, the
// agent's iptables chain scaffolding, forwarding sysctls, temp dirs, and the
// routing-daemon container. Every helper is safe to call every tick; it
// only acts when the target state is missing.
package ensure

import (
	"fmt"
	"os"
	"path/filepath"

	"networktools/pkg/agentlog"
	"networktools/pkg/container"
	"networktools/pkg/iptables"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("ensure")

// ChainSpec is one agent-owned chain and the builtin it jumps from. All of
// these live in the root namespace's tables; the "{ns}-" prefix marks
// ownership, not placement.
type ChainSpec struct {
	Table    string
	Chain    string // "{ns}-XXXX"
	JumpFrom string // builtin chain in the same table
}

// ChainSpecs returns the seven agent-owned chains, scoped to ns. Also used
// by the startup cleanup sweep to flush every agent-owned chain.
func ChainSpecs(ns string) []ChainSpec {
	return []ChainSpec{
		{"nat", ns + "-POSTROUTING", "POSTROUTING"},
		{"nat", ns + "-PREROUTING", "PREROUTING"},
		{"raw", ns + "-PREROUTING", "PREROUTING"},
		{"mangle", ns + "-OUTPUT", "OUTPUT"},
		{"mangle", ns + "-POSTROUTING", "POSTROUTING"},
		{"filter", ns + "-FORWARD", "FORWARD"},
		{"filter", ns + "-INPUT", "INPUT"},
	}
}

// Namespace creates the netns iff it does not already exist.
func Namespace(ns string) error {
	res, err := procexec.Run(procexec.SudoWrap([]string{"ip", "netns", "list"}), nil)
	if err != nil {
		return fmt.Errorf("list netns: %w", err)
	}
	if containsLine(res.Stdout, ns) {
		return nil
	}
	if _, err := procexec.RunChecked(procexec.SudoWrap([]string{"ip", "netns", "add", ns}), nil); err != nil {
		return fmt.Errorf("create netns %s: %w", ns, err)
	}
	log.Info().Str("ns", ns).Msg("netns created")
	return nil
}

func containsLine(output, target string) bool {
	for _, line := range splitNonEmptyLines(output) {
		if firstField(line) == target {
			return true
		}
	}
	return false
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func firstField(line string) string {
	for i, c := range line {
		if c == ' ' || c == '\t' {
			return line[:i]
		}
	}
	return line
}

// IptablesScaffolding creates every agent-owned chain in the root namespace
// and inserts the jump rule that routes the matching builtin chain into it,
// both idempotently. The jump is inserted at position 1 so agent rules see
// traffic before anything else in the builtin chain.
func IptablesScaffolding(ns string) error {
	mgr := iptables.New("")
	for _, spec := range ChainSpecs(ns) {
		if err := mgr.CreateChain(spec.Table, spec.Chain); err != nil {
			return fmt.Errorf("create chain %s/%s: %w", spec.Table, spec.Chain, err)
		}
		if err := mgr.InsertIfMissing(spec.Table, spec.JumpFrom, "-j", spec.Chain); err != nil {
			return fmt.Errorf("jump %s/%s -> %s: %w", spec.Table, spec.JumpFrom, spec.Chain, err)
		}
	}
	return nil
}

// Forwarding enables net.ipv4.ip_forward=1 in both the root namespace and ns.
func Forwarding(ns string) error {
	if _, err := procexec.RunChecked(procexec.SudoWrap([]string{"sysctl", "-w", "net.ipv4.ip_forward=1"}), nil); err != nil {
		return fmt.Errorf("enable root forwarding: %w", err)
	}
	argv := procexec.SudoWrap(procexec.NsWrap(ns, []string{"sysctl", "-w", "net.ipv4.ip_forward=1"}))
	if _, err := procexec.RunChecked(argv, nil); err != nil {
		return fmt.Errorf("enable ns %s forwarding: %w", ns, err)
	}
	return nil
}

// TempDirs returns the agent's temp directory for ns and its router/
// subdirectory, which is bind-mounted read-only into the router container.
func TempDirs(ns string) (base, router string) {
	base = filepath.Join(os.TempDir(), "networktools-"+ns)
	router = filepath.Join(base, "router")
	return base, router
}

// EnsureTempDirs creates both temp directories iff missing.
func EnsureTempDirs(ns string) error {
	_, router := TempDirs(ns)
	if err := os.MkdirAll(router, 0o755); err != nil {
		return fmt.Errorf("create temp dirs for %s: %w", ns, err)
	}
	return nil
}

// mtuClampTag is the iptables comment tag marking the agent's TCPMSS rule.
const mtuClampTag = "#mtu_clamp#"

// MTUClamp ensures the TCPMSS clamping rule is present in the namespace's
// builtin FORWARD chain. This is the one rule that lives inside the netns:
// it clamps MSS on traffic the routing daemon forwards between tunnels.
func MTUClamp(ns string) error {
	mgr := iptables.New(ns)
	return mgr.AppendIfMissing("filter", "FORWARD",
		"-p", "tcp", "--tcp-flags", "SYN,RST", "SYN",
		"-j", "TCPMSS", "--clamp-mss-to-pmtu",
		"-m", "comment", "--comment", mtuClampTag,
	)
}

// Container ensures the routing-daemon container exists and is running:
// absent containers are created and launched, stopped ones relaunched.
func Container(ns string) error {
	mgr := container.New(ns)
	info, ok, err := mgr.Inspect()
	if err != nil {
		return fmt.Errorf("inspect container for %s: %w", ns, err)
	}
	if ok && info.Status == "running" {
		return nil
	}
	if ok {
		if err := mgr.Launch(info.ID); err != nil {
			return fmt.Errorf("relaunch router container for %s: %w", ns, err)
		}
		return nil
	}
	base, _ := TempDirs(ns)
	if err := mgr.Start(base); err != nil {
		return fmt.Errorf("start router container for %s: %w", ns, err)
	}
	return nil
}

// All runs every prerequisite ensure step in order, short-circuiting on the
// first failure.
func All(ns string) error {
	if err := Namespace(ns); err != nil {
		return err
	}
	if err := IptablesScaffolding(ns); err != nil {
		return err
	}
	if err := Forwarding(ns); err != nil {
		return err
	}
	if err := EnsureTempDirs(ns); err != nil {
		return err
	}
	if err := MTUClamp(ns); err != nil {
		return err
	}
	return nil
}

// Package iptables manages chain existence and rule membership through the
// iptables/iptables-save CLIs. Rules the agent authors carry a comment tag
// so they can be found and deleted later without tracking rule handles.
package iptables

import (
	"fmt"
	"strings"

	"networktools/pkg/agentlog"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("iptables")

// Manager issues iptables operations. Netns selects the network namespace
// the commands execute in; empty means the root namespace, which is where
// the agent-owned "{ns}-*" chains live (the namespace prefix in the chain
// name encodes ownership, not placement).
type Manager struct {
	Netns string
}

func New(netns string) *Manager {
	return &Manager{Netns: netns}
}

func (m *Manager) argv(args ...string) []string {
	return procexec.SudoWrap(procexec.NsWrap(m.Netns, append([]string{"iptables"}, args...)))
}

func (m *Manager) run(args ...string) (string, error) {
	return procexec.RunChecked(m.argv(args...), nil)
}

// Kernel error-string predicates. Substring-matching stderr is brittle, so
// both checks live here and nowhere else.
func isChainExistsConflict(stderr string) bool {
	return strings.Contains(stderr, "Chain already exists")
}

func isRuleAbsent(stderr string) bool {
	return strings.Contains(stderr, "Bad rule") || strings.Contains(stderr, "No chain/target/match")
}

// ChainExists reports whether chain exists in table.
func (m *Manager) ChainExists(table, chain string) (bool, error) {
	res, err := procexec.Run(m.argv("-t", table, "-nL", chain), nil)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// CreateChain creates chain in table, tolerating "Chain already exists" as
// success.
func (m *Manager) CreateChain(table, chain string) error {
	res, err := procexec.Run(m.argv("-t", table, "-N", chain), nil)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !isChainExistsConflict(res.Stderr) {
		return &procexec.ProcessError{Argv: m.argv("-t", table, "-N", chain), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// RuleExists checks rule membership via `-C`, mapping the two known
// "rule doesn't exist" kernel error strings to false and anything else to a
// hard error.
func (m *Manager) RuleExists(table, chain string, ruleArgs ...string) (bool, error) {
	argv := append([]string{"-t", table, "-C", chain}, ruleArgs...)
	res, err := procexec.Run(m.argv(argv...), nil)
	if err != nil {
		return false, err
	}
	if res.ExitCode == 0 {
		return true, nil
	}
	if isRuleAbsent(res.Stderr) {
		return false, nil
	}
	return false, &procexec.ProcessError{Argv: m.argv(argv...), ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// AppendIfMissing appends the rule iff RuleExists reports false.
func (m *Manager) AppendIfMissing(table, chain string, ruleArgs ...string) error {
	exists, err := m.RuleExists(table, chain, ruleArgs...)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	argv := append([]string{"-t", table, "-A", chain}, ruleArgs...)
	if _, err := m.run(argv...); err != nil {
		return err
	}
	agentlog.RulesChanged.Inc()
	log.Debug().Str("table", table).Str("chain", chain).Strs("rule", ruleArgs).Msg("iptables rule appended")
	return nil
}

// InsertIfMissing inserts the rule at position 1 iff it is not already
// present.
func (m *Manager) InsertIfMissing(table, chain string, ruleArgs ...string) error {
	exists, err := m.RuleExists(table, chain, ruleArgs...)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	argv := append([]string{"-t", table, "-I", chain, "1"}, ruleArgs...)
	if _, err := m.run(argv...); err != nil {
		return err
	}
	agentlog.RulesChanged.Inc()
	log.Debug().Str("table", table).Str("chain", chain).Strs("rule", ruleArgs).Msg("iptables rule inserted")
	return nil
}

// DeleteIfPresent deletes the rule iff RuleExists reports true.
func (m *Manager) DeleteIfPresent(table, chain string, ruleArgs ...string) error {
	exists, err := m.RuleExists(table, chain, ruleArgs...)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	argv := append([]string{"-t", table, "-D", chain}, ruleArgs...)
	if _, err = m.run(argv...); err != nil {
		return err
	}
	agentlog.RulesChanged.Inc()
	return nil
}

// Flush is best-effort: it logs and swallows any failure.
func (m *Manager) Flush(table, chain string) {
	_, err := procexec.Run(m.argv("-t", table, "-F", chain), nil)
	agentlog.BestEffort(log, "iptables flush "+table+"/"+chain, err)
}

// Dump is the full parsed result of `iptables-save`: table name to the list
// of its "-A CHAIN ..." rule lines.
type Dump map[string][]Rule

// Rule is one parsed "-A <chain> <args...>" line.
type Rule struct {
	Chain string
	Args  []string
	Raw   string // full rule spec, "<chain> <args...>" joined by spaces
}

// DumpAll runs iptables-save and parses its output into a table -> rules
// map, ignoring "*"-table headers, ":"-chain-default lines, comments, and
// COMMIT.
func (m *Manager) DumpAll() (Dump, error) {
	argv := procexec.SudoWrap(procexec.NsWrap(m.Netns, []string{"iptables-save"}))
	out, err := procexec.RunChecked(argv, nil)
	if err != nil {
		return nil, err
	}
	return ParseSave(out), nil
}

// ParseSave parses the text output of `iptables-save`.
func ParseSave(text string) Dump {
	dump := Dump{}
	var table string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "*"):
			table = strings.TrimPrefix(line, "*")
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case line == "COMMIT":
			continue
		case strings.HasPrefix(line, "-A "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			chain := fields[1]
			args := fields[2:]
			dump[table] = append(dump[table], Rule{
				Chain: chain,
				Args:  args,
				Raw:   strings.Join(fields[1:], " "),
			})
		}
	}
	return dump
}

// RulesTagged returns every rule in table/chain whose args contain the given
// comment tag, e.g. "#local_veth#" or "#peer_netA-7#".
func (d Dump) RulesTagged(table, chain, tag string) []Rule {
	var out []Rule
	for _, r := range d[table] {
		if r.Chain != chain {
			continue
		}
		for _, a := range r.Args {
			if strings.Contains(a, tag) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// DeleteTagged deletes every rule in table/chain carrying tag, replaying the
// exact rule spec from the dump. Callers capture the dump after the
// device-level change that precedes the purge, so the delete sees exactly
// the rules the kernel still holds.
func (m *Manager) DeleteTagged(table, chain, tag string, dump Dump) error {
	for _, r := range dump.RulesTagged(table, chain, tag) {
		if err := m.DeleteIfPresent(table, chain, r.Args...); err != nil {
			return fmt.Errorf("delete tagged rule %s/%s %q: %w", table, chain, r.Raw, err)
		}
	}
	return nil
}

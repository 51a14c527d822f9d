// Package routerconfig renders a BIRD-style OSPFv2 + BFD text configuration
// from a structured model.RouterConfigSpec. The output is built with a
// strings.Builder and a final reindent pass rather than text/template, so
// identical inputs always produce byte-identical text.
package routerconfig

import (
	"fmt"
	"sort"
	"strings"

	"networktools/pkg/model"
)

// Render produces the full configuration text for spec.
func Render(spec model.RouterConfigSpec) string {
	var b strings.Builder

	if spec.Timestamp != "" {
		fmt.Fprintf(&b, "# generated %s", spec.Timestamp)
		if spec.GitVersion != "" {
			fmt.Fprintf(&b, " (%s)", spec.GitVersion)
		}
		b.WriteString("\n")
	}

	if spec.RouterID != "" {
		fmt.Fprintf(&b, "router id %s;\n", spec.RouterID)
	}
	if spec.DisableLogging {
		b.WriteString("log \"/dev/null\" all;\n")
	}
	if spec.DebugProtocols != "" {
		fmt.Fprintf(&b, "debug protocols { %s };\n", spec.DebugProtocols)
	}

	renderFilter(&b, "import", "ospf_import", spec.OSPFImportExcludeCIDRs)
	renderFilter(&b, "export", "ospf_export", spec.OSPFExportExcludeCIDRs)

	renderDirect(&b, spec.DirectInterfaceNames)
	renderBFD(&b, spec.BFDConfig)
	renderOSPF(&b, spec)

	return reindent(b.String())
}

// renderFilter defines a named prefix set + filter function when the
// exclude list is non-empty, and falls back to "{direction} all" otherwise.
func renderFilter(b *strings.Builder, direction, name string, excludeCIDRs []string) {
	if len(excludeCIDRs) == 0 {
		fmt.Fprintf(b, "filter %s_filter {\n%s all;\n}\n", name, direction)
		return
	}
	sorted := append([]string(nil), excludeCIDRs...)
	sort.Strings(sorted)
	fmt.Fprintf(b, "define %s_set = [\n", name)
	for i, cidr := range sorted {
		sep := ","
		if i == len(sorted)-1 {
			sep = ""
		}
		fmt.Fprintf(b, "%s%s\n", cidr, sep)
	}
	b.WriteString("];\n")
	fmt.Fprintf(b, "filter %s_filter {\n", name)
	fmt.Fprintf(b, "if net !~ %s_set then %s;\n", name, direction)
	b.WriteString("}\n")
}

func renderDirect(b *strings.Builder, ifaces []string) {
	if len(ifaces) == 0 {
		return
	}
	b.WriteString("protocol direct {\n")
	for _, ifname := range ifaces {
		fmt.Fprintf(b, "interface \"%s\";\n", ifname)
	}
	b.WriteString("}\n")
}

func renderBFD(b *strings.Builder, cfg map[string]model.BFDInterfaceConfig) {
	if len(cfg) == 0 {
		return
	}
	b.WriteString("protocol bfd {\n")
	for _, ifname := range sortedKeys(cfg) {
		c := cfg[ifname]
		fmt.Fprintf(b, "interface \"%s\" {\n", ifname)
		if c.IntervalMs > 0 {
			fmt.Fprintf(b, "interval %dms;\n", c.IntervalMs)
		}
		if c.TxMs > 0 {
			fmt.Fprintf(b, "min tx interval %dms;\n", c.TxMs)
		}
		if c.RxMs > 0 {
			fmt.Fprintf(b, "min rx interval %dms;\n", c.RxMs)
		}
		if c.IdleMs > 0 {
			fmt.Fprintf(b, "idle tx interval %dms;\n", c.IdleMs)
		}
		if c.Multiplier > 0 {
			fmt.Fprintf(b, "multiplier %d;\n", c.Multiplier)
		}
		b.WriteString("}\n")
	}
	b.WriteString("}\n")
}

func renderOSPF(b *strings.Builder, spec model.RouterConfigSpec) {
	if len(spec.OSPFAreaConfig) == 0 {
		return
	}
	b.WriteString("protocol ospf v2 networktools_ospf {\n")
	b.WriteString("import filter ospf_import_filter;\n")
	b.WriteString("export filter ospf_export_filter;\n")
	for _, areaID := range sortedKeys(spec.OSPFAreaConfig) {
		fmt.Fprintf(b, "area %s {\n", areaID)
		ifaces := spec.OSPFAreaConfig[areaID]
		for _, ifname := range sortedKeys(ifaces) {
			renderOSPFInterface(b, ifname, ifaces[ifname], spec.BFDConfig)
		}
		b.WriteString("}\n")
	}
	b.WriteString("}\n")
}

func renderOSPFInterface(b *strings.Builder, ifname string, cfg model.OSPFInterfaceConfig, bfd map[string]model.BFDInterfaceConfig) {
	fmt.Fprintf(b, "interface \"%s\" {\n", ifname)
	if _, hasBFD := bfd[ifname]; hasBFD {
		b.WriteString("bfd yes;\n")
	}
	if cfg.Cost > 0 {
		fmt.Fprintf(b, "cost %d;\n", cfg.Cost)
	}
	if cfg.Type != "" {
		fmt.Fprintf(b, "type %s;\n", cfg.Type)
	}
	if cfg.Auth != "" {
		b.WriteString("authentication cryptographic;\n")
		fmt.Fprintf(b, "password \"%s\" { algorithm hmac sha512; };\n", cfg.Auth)
	}
	b.WriteString("}\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reindent reformats the builder's flat output with 2-space indentation by
// tracking brace depth.
func reindent(text string) string {
	var out strings.Builder
	depth := 0
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		closing := strings.HasPrefix(line, "}") || strings.HasPrefix(line, "];")
		if closing && depth > 0 {
			depth--
		}
		out.WriteString(strings.Repeat("  ", depth))
		out.WriteString(line)
		out.WriteString("\n")
		opens := strings.Count(line, "{") - strings.Count(line, "}")
		opens += strings.Count(line, "[") - strings.Count(line, "]")
		if opens > 0 {
			depth += opens
		}
	}
	return out.String()
}

// Package ospfparse turns the tab-indented text of `birdc show ospf state
// all` into a typed tree. The format is bespoke to one routing daemon and
// has no formal grammar, so a small peekable-reader recursive descent covers
// it entirely.
package ospfparse

import (
	"bufio"
	"strconv"
	"strings"

	"networktools/pkg/model"
)

// lineReader is a peekable reader over indent-tagged lines, letting the
// recursive-descent parser look one line ahead without consuming it.
type lineReader struct {
	lines []indentedLine
	pos   int
}

type indentedLine struct {
	indent int
	text   string // with leading tabs stripped
}

func newLineReader(input string) *lineReader {
	sc := bufio.NewScanner(strings.NewReader(input))
	var out []indentedLine
	for sc.Scan() {
		raw := sc.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		indent := 0
		for indent < len(raw) && raw[indent] == '\t' {
			indent++
		}
		out = append(out, indentedLine{indent: indent, text: strings.TrimSpace(raw[indent:])})
	}
	return &lineReader{lines: out}
}

func (r *lineReader) peek() (indentedLine, bool) {
	if r.pos >= len(r.lines) {
		return indentedLine{}, false
	}
	return r.lines[r.pos], true
}

func (r *lineReader) next() (indentedLine, bool) {
	l, ok := r.peek()
	if ok {
		r.pos++
	}
	return l, ok
}

// Parse parses the full `birdc show ospf state all` text: area blocks
// grouped by area ID plus an "other ASBRs" section that sits outside any
// area.
func Parse(input string) model.OSPFState {
	r := newLineReader(input)
	state := model.OSPFState{AreaRouters: map[string][]model.RouterInfo{}}

	for {
		line, ok := r.peek()
		if !ok {
			break
		}
		if line.indent != 0 {
			// Stray indented line at the top level; skip it rather than
			// getting stuck, since malformed input must not hang the parser.
			r.next()
			continue
		}
		switch {
		case strings.HasPrefix(line.text, "area "):
			r.next()
			areaID := strings.TrimSpace(strings.TrimPrefix(line.text, "area"))
			state.AreaRouters[areaID] = parseRouters(r, 1)
		case line.text == "other ASBRs":
			r.next()
			state.OtherASBRs = parseRouters(r, 1)
		default:
			r.next()
		}
	}
	return state
}

// parseRouters consumes a run of "router <id>" blocks at depth, returning
// once a line shallower than depth is seen (or input ends).
func parseRouters(r *lineReader, depth int) []model.RouterInfo {
	var routers []model.RouterInfo
	for {
		line, ok := r.peek()
		if !ok || line.indent < depth {
			return routers
		}
		if line.indent > depth || !strings.HasPrefix(line.text, "router ") {
			r.next()
			continue
		}
		r.next()
		routerID := strings.TrimSpace(strings.TrimPrefix(line.text, "router"))
		routers = append(routers, parseRouterBody(r, routerID, depth+1))
	}
}

// parseRouterBody consumes the typed detail lines belonging to one router
// block, returning once a line shallower than depth is seen.
func parseRouterBody(r *lineReader, routerID string, depth int) model.RouterInfo {
	info := model.RouterInfo{RouterID: routerID}
	for {
		line, ok := r.peek()
		if !ok || line.indent < depth {
			return info
		}
		if line.indent > depth {
			r.next()
			continue
		}
		r.next()
		fields := strings.Fields(line.text)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "distance":
			if len(fields) >= 2 {
				info.Distance, _ = strconv.Atoi(fields[1])
			}
		case "vlink":
			if len(fields) >= 2 {
				info.VLinks = append(info.VLinks, model.VLink{RouterID: fields[1], Metric: metricOf(fields)})
			}
		case "router":
			if len(fields) >= 2 {
				info.Routers = append(info.Routers, model.RouterRef{RouterID: fields[1], Metric: metricOf(fields)})
			}
		case "stubnet":
			if len(fields) >= 2 {
				info.StubNets = append(info.StubNets, model.Network{Prefix: fields[1], Metric: metricOf(fields)})
			}
		case "xnetwork":
			if len(fields) >= 2 {
				info.XNetworks = append(info.XNetworks, model.Network{Prefix: fields[1], Metric: metricOf(fields)})
			}
		case "xrouter":
			if len(fields) >= 2 {
				info.XRouters = append(info.XRouters, model.RouterRef{RouterID: fields[1], Metric: metricOf(fields)})
			}
		case "external":
			if len(fields) >= 2 {
				info.Externals = append(info.Externals, parseExternal(fields))
			}
		case "nssa-ext":
			if len(fields) >= 2 {
				info.NSSAExt = append(info.NSSAExt, parseExternal(fields))
			}
		}
	}
}

// metricOf returns the integer following the "metric" token, or 0 if absent.
func metricOf(fields []string) int {
	for i, f := range fields {
		if f == "metric" && i+1 < len(fields) {
			v, _ := strconv.Atoi(fields[i+1])
			return v
		}
	}
	return 0
}

// parseExternal handles "external"/"nssa-ext" lines:
// "<kind> <prefix> metric <n> [metric2] [via <router>] [tag <tag>]".
// metric_type is 2 iff the bare "metric2" token is present; via/tag are the
// tokens immediately following those keywords when present.
func parseExternal(fields []string) model.External {
	ext := model.External{Prefix: fields[1], MetricType: 1}
	for i := 2; i < len(fields); i++ {
		switch fields[i] {
		case "metric":
			if i+1 < len(fields) {
				ext.Metric, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "metric2":
			ext.MetricType = 2
		case "via":
			if i+1 < len(fields) {
				ext.Via = fields[i+1]
				i++
			}
		case "tag":
			if i+1 < len(fields) {
				ext.Tag = fields[i+1]
				i++
			}
		}
	}
	return ext
}

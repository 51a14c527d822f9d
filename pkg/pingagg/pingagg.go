// Package pingagg is the concurrent multi-interface ping aggregator used to
// derive OSPF link costs. Each probe is a long-running `ping -D -n -i 1 -r`
// streamed for a fixed wall-clock window and reduced with a trimmed mean,
// because the cost feed needs a stable sample set rather than a one-off RTT.
package pingagg

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"networktools/pkg/agentlog"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("pingagg")

// Window is the wall-clock duration every probe is allowed to collect
// samples for.
const Window = 10 * time.Second

// timePrefix matches the -D timestamp prefix "[1700000000.123456] " that
// precedes each ping reply line.
var timePrefix = regexp.MustCompile(`^\[\d+\.\d+\]\s+`)
var timeMs = regexp.MustCompile(`time=([0-9.]+)\s*ms`)

// Measure runs one ping prober per interface inside ns for Window, then
// reduces each interface's samples to a trimmed-mean RTT in milliseconds.
// A failure to spawn or parse one interface's prober does not abort the
// batch; that interface's result is simply absent from the returned map.
func Measure(ctx context.Context, ns string, ifnames []string) map[string]float64 {
	var wg sync.WaitGroup
	mu := sync.Mutex{}
	samples := make(map[string][]float64, len(ifnames))

	windowCtx, cancel := context.WithTimeout(ctx, Window)
	defer cancel()

	for _, ifname := range ifnames {
		ifname := ifname
		peerIP, err := peerAddress(ns, ifname)
		if err != nil {
			log.Warn().Err(err).Str("ifname", ifname).Msg("cannot derive peer address, skipping probe")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := probe(windowCtx, ns, ifname, peerIP)
			if len(got) == 0 {
				return
			}
			mu.Lock()
			samples[ifname] = got
			mu.Unlock()
		}()
	}
	wg.Wait()

	results := make(map[string]float64, len(samples))
	for ifname, s := range samples {
		if mean, ok := trimmedMean(s); ok {
			results[ifname] = mean
		}
	}
	return results
}

// peerAddress inspects the interface's IPv4 /30 and returns the address on
// the other side of the link: a /30 network has exactly two usable hosts,
// net+1 and net+2.
func peerAddress(ns, ifname string) (string, error) {
	out, err := procexec.RunChecked(procexec.SudoWrap(procexec.NsWrap(ns, []string{"ip", "-o", "-4", "addr", "show", ifname})), nil)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	var local string
	for i, f := range fields {
		if f == "inet" && i+1 < len(fields) {
			local = fields[i+1]
			break
		}
	}
	if local == "" {
		return "", fmt.Errorf("no IPv4 address on %s", ifname)
	}
	ip, ipnet, err := net.ParseCIDR(local)
	if err != nil {
		return "", fmt.Errorf("parse address %q on %s: %w", local, ifname, err)
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones != 2 {
		return "", fmt.Errorf("%s address %s is not a /30", ifname, local)
	}
	network := ipnet.IP.Mask(ipnet.Mask).To4()
	v4 := ip.To4()
	if network == nil || v4 == nil {
		return "", fmt.Errorf("%s address %s is not IPv4", ifname, local)
	}
	last := network[3]
	switch v4[3] {
	case last + 1:
		return fmt.Sprintf("%d.%d.%d.%d", network[0], network[1], network[2], last+2), nil
	case last + 2:
		return fmt.Sprintf("%d.%d.%d.%d", network[0], network[1], network[2], last+1), nil
	default:
		return "", fmt.Errorf("%s address %s is not a usable /30 host", ifname, local)
	}
}

// probe spawns one `ping -D -n -i 1 -r <peerIP>` inside ns and streams its
// stdout until ctx is cancelled, collecting parsed RTT samples. The child is
// killed unconditionally when the window expires or probe returns early, so
// no prober can outlive its aggregator.
func probe(ctx context.Context, ns, ifname, peerIP string) []float64 {
	argv := procexec.SudoWrap(procexec.NsWrap(ns, []string{"ping", "-D", "-n", "-i", "1", "-r", peerIP}))
	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Warn().Err(err).Str("ifname", ifname).Msg("ping pipe setup failed")
		return nil
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("ifname", ifname).Msg("ping spawn failed")
		return nil
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	var samples []float64
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return samples
		case line, ok := <-lines:
			if !ok {
				return samples
			}
			if ms, ok := parsePingLine(line); ok {
				samples = append(samples, ms)
			}
		}
	}
}

// parsePingLine extracts the RTT in ms from a single `ping -D` reply line
// such as "[1712345678.901234] 64 bytes from 10.0.0.2: ... time=4.21 ms".
func parsePingLine(line string) (float64, bool) {
	if !timePrefix.MatchString(line) {
		return 0, false
	}
	m := timeMs.FindStringSubmatch(line)
	if len(m) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// trimmedMean sorts samples ascending and drops floor(n*0.1) from each tail
// before averaging; if the trimmed set ends up empty it falls back to the
// untrimmed mean, and if there are no samples at all it reports absent.
func trimmedMean(samples []float64) (float64, bool) {
	n := len(samples)
	if n == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	trim := n / 10 // floor(n*0.1)
	lo, hi := trim, n-trim
	if lo >= hi {
		return average(sorted), true
	}
	return average(sorted[lo:hi]), true
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

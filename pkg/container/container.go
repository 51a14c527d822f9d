// Package container creates, starts, stops, and inspects the routing-daemon
// container: a podman container launched through a transient systemd unit so
// the host supervisor owns its restart policy rather than the agent watching
// it directly.
package container

import (
	"encoding/json"
	"fmt"
	"strings"

	"networktools/pkg/agentlog"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("container")

// Manager operates the "{ns}-router" container for one namespace.
type Manager struct {
	Namespace string
}

func New(namespace string) *Manager {
	return &Manager{Namespace: namespace}
}

func (m *Manager) containerName() string { return m.Namespace + "-router" }
func (m *Manager) unitName() string      { return "networktools-" + m.Namespace + "-router.service" }

// Info is the subset of `podman inspect` this agent consumes.
type Info struct {
	ID     string
	Status string
	Binds  []string
}

// Inspect enumerates containers and returns the one named "{ns}-router", if
// any.
func (m *Manager) Inspect() (Info, bool, error) {
	out, err := procexec.RunChecked(procexec.SudoWrap([]string{"podman", "ps", "-a", "--format", "{{.ID}} {{.Names}}"}), nil)
	if err != nil {
		return Info{}, false, fmt.Errorf("podman ps: %w", err)
	}
	id := findContainerID(out, m.containerName())
	if id == "" {
		return Info{}, false, nil
	}
	raw, err := procexec.RunChecked(procexec.SudoWrap([]string{"podman", "inspect", id}), nil)
	if err != nil {
		return Info{}, false, fmt.Errorf("podman inspect %s: %w", id, err)
	}
	info, err := parseInspect(raw)
	if err != nil {
		return Info{}, false, fmt.Errorf("parse podman inspect %s: %w", id, err)
	}
	return info, true, nil
}

func findContainerID(psOutput, name string) string {
	for _, line := range strings.Split(psOutput, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == name {
			return fields[0]
		}
	}
	return ""
}

type inspectDoc struct {
	ID    string `json:"Id"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
	HostConfig struct {
		Binds []string `json:"Binds"`
	} `json:"HostConfig"`
}

func parseInspect(raw string) (Info, error) {
	var docs []inspectDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return Info{}, err
	}
	if len(docs) == 0 {
		return Info{}, fmt.Errorf("empty inspect output")
	}
	d := docs[0]
	return Info{ID: d.ID, Status: d.State.Status, Binds: d.HostConfig.Binds}, nil
}

// Start creates the container bound to tmpDir/router and launches it via the
// host supervisor.
func (m *Manager) Start(tmpDir string) error {
	createArgv := procexec.SudoWrap([]string{
		"podman", "create",
		"--network", "ns:/var/run/netns/" + m.Namespace,
		"--cap-add", "NET_ADMIN,CAP_NET_BIND_SERVICE,NET_RAW,NET_BROADCAST",
		"-v", tmpDir + "/router:/data:ro",
		"--name", m.containerName(),
		"bird-router",
	})
	id, err := procexec.RunChecked(createArgv, nil)
	if err != nil {
		return fmt.Errorf("podman create %s: %w", m.containerName(), err)
	}
	return m.Launch(strings.TrimSpace(firstLine(id)))
}

// Launch starts an already-created container under the host supervisor. The
// previous unit instance, if any, is stopped first so a stale failed unit
// cannot block the transient-unit name.
func (m *Manager) Launch(id string) error {
	stopArgv := procexec.SudoWrap([]string{"systemctl", "stop", m.unitName()})
	_, err := procexec.Run(stopArgv, nil)
	agentlog.BestEffort(log, "stop previous container unit "+m.unitName(), err)

	runArgv := procexec.SudoWrap([]string{
		"systemd-run", "--unit=" + m.unitName(), "--collect",
		"-p", "Type=forking", "-p", "KillMode=none",
		"podman", "start", id,
	})
	if _, err := procexec.RunChecked(runArgv, nil); err != nil {
		return fmt.Errorf("launch %s via supervisor: %w", m.unitName(), err)
	}
	log.Info().Str("container", m.containerName()).Str("id", id).Msg("router container started")
	return nil
}

// Shutdown stops the supervisor unit (best-effort), force-removes the
// container, and optionally purges the temp bind directory.
func (m *Manager) Shutdown(tmpDir string, clearTemp bool) {
	stopArgv := procexec.SudoWrap([]string{"systemctl", "stop", m.unitName()})
	_, err := procexec.Run(stopArgv, nil)
	agentlog.BestEffort(log, "stop container unit "+m.unitName(), err)

	rmArgv := procexec.SudoWrap([]string{"podman", "rm", "-f", m.containerName()})
	_, err = procexec.Run(rmArgv, nil)
	agentlog.BestEffort(log, "podman rm "+m.containerName(), err)

	if clearTemp && tmpDir != "" {
		rmDirArgv := procexec.SudoWrap([]string{"rm", "-rf", tmpDir})
		_, err = procexec.Run(rmDirArgv, nil)
		agentlog.BestEffort(log, "rm temp dir "+tmpDir, err)
	}
}

// Reload tells the running bird process to reload its configuration.
func (m *Manager) Reload() error {
	info, ok, err := m.Inspect()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reload: container %s is not present", m.containerName())
	}
	argv := procexec.SudoWrap([]string{"podman", "exec", info.ID, "birdc", "configure"})
	if _, err := procexec.RunChecked(argv, nil); err != nil {
		return fmt.Errorf("birdc configure in %s: %w", m.containerName(), err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

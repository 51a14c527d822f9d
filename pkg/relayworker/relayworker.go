// Package relayworker starts and stops the supervised UDP-over-TLS relay
// processes that carry WireGuard traffic when a peer's native endpoint is
// unreachable: `gost`, launched as a transient systemd unit with a restart
// policy so the host supervisor keeps it alive. The workers run in the root
// namespace: WireGuard's UDP sockets stay there because the devices are
// created in root before being moved into the netns, so that is where a
// relay must listen and dial.
package relayworker

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"networktools/pkg/agentlog"
	"networktools/pkg/model"
	"networktools/pkg/procexec"
)

var log = agentlog.WithComponent("relayworker")

// Manager starts/stops relay workers for one namespace.
type Manager struct {
	Namespace  string
	InstallDir string // $INSTALL_DIR; gost binary lives at {InstallDir}/bin/gost
}

func New(namespace, installDir string) *Manager {
	return &Manager{Namespace: namespace, InstallDir: installDir}
}

func (m *Manager) gostPath() string {
	return filepath.Join(m.InstallDir, "bin", "gost")
}

func unitName(ns string) string {
	return fmt.Sprintf("networktools-%s-worker-%s", ns, uuid.NewString())
}

// StartClient launches a client-mode relay: a local UDP listener forwarding
// to the relay server over TLS. The paired WireGuard peer endpoint is then
// pointed at 127.0.0.1:listenPort by the caller.
func (m *Manager) StartClient(listenPort int, dstHost string, dstPort int) (model.LocalUnderlayState, error) {
	unit := unitName(m.Namespace)
	argv := procexec.SudoWrap([]string{
		"systemd-run", "--unit=" + unit, "--collect",
		"-p", "Restart=always", "-p", "RestartSec=5s",
		m.gostPath(),
		fmt.Sprintf("-L=udp://:%d?keepAlive=true&ttl=120", listenPort),
		fmt.Sprintf("-F=relay+tls://%s:%d", dstHost, dstPort),
	})
	if _, err := procexec.RunChecked(argv, nil); err != nil {
		return model.LocalUnderlayState{}, fmt.Errorf("start relay client %s: %w", unit, err)
	}
	log.Info().Str("unit", unit).Int("listen_port", listenPort).Str("dst", dstHost).Int("dst_port", dstPort).Msg("relay client started")
	return model.LocalUnderlayState{
		Mode:       model.UnderlayClient,
		UnitName:   unit,
		ListenPort: listenPort,
		ServerIP:   dstHost,
		ServerPort: dstPort,
	}, nil
}

// StartServer launches a server-mode relay: accepts relay+tls connections
// and forwards to the locally running WireGuard listen port.
func (m *Manager) StartServer(listenPort, wgListenPort int) (model.LocalUnderlayState, error) {
	unit := unitName(m.Namespace)
	argv := procexec.SudoWrap([]string{
		"systemd-run", "--unit=" + unit, "--collect",
		"-p", "Restart=always", "-p", "RestartSec=5s",
		m.gostPath(),
		fmt.Sprintf("-L=relay+tls://:%d/127.0.0.1:%d", listenPort, wgListenPort),
	})
	if _, err := procexec.RunChecked(argv, nil); err != nil {
		return model.LocalUnderlayState{}, fmt.Errorf("start relay server %s: %w", unit, err)
	}
	log.Info().Str("unit", unit).Int("listen_port", listenPort).Int("wg_listen_port", wgListenPort).Msg("relay server started")
	return model.LocalUnderlayState{
		Mode:       model.UnderlayServer,
		UnitName:   unit,
		ListenPort: listenPort,
	}, nil
}

// Stop requests the host supervisor stop the unit, best-effort if it is
// already gone.
func (m *Manager) Stop(state model.LocalUnderlayState) {
	if state.UnitName == "" {
		return
	}
	argv := procexec.SudoWrap([]string{"systemctl", "stop", state.UnitName})
	_, err := procexec.Run(argv, nil)
	agentlog.BestEffort(log, "stop relay unit "+state.UnitName, err)
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"networktools/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s
}

func TestNodeSettings_MissingReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetNodeSettings()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNodeSettings_PartialUpsert(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetNodeSettings(model.NodeSettings{Namespace: "netA", EthName: "eth0"}))

	settings, ok, err := s.GetNodeSettings()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "netA", settings.Namespace)
	require.Equal(t, "eth0", settings.EthName)
	require.Zero(t, settings.NodeID)

	require.NoError(t, s.SetNodeSettings(model.NodeSettings{NodeID: 42}))
	settings, ok, err = s.GetNodeSettings()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "netA", settings.Namespace, "unrelated field untouched by partial upsert")
	require.Equal(t, int64(42), settings.NodeID)
}

func TestWireGuardKeyPool(t *testing.T) {
	s := openTestStore(t)
	keys, err := s.GetAllWireGuardKeys()
	require.NoError(t, err)
	require.Empty(t, keys)

	priv := "YOwHgYj9OhnluNH+9AW28tEB+WIdb/DQtFpCClTL+EU="
	pub := "9mVV9ovEgkmHjJG8WNhvhR5BRgDxUZmdzMEJyTl2ui0="
	require.NoError(t, s.CreateWireGuardKey(model.WireGuardKeyPair{Private: priv, Public: pub}))

	keys, err = s.GetAllWireGuardKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, pub, keys[0].Public)
}

func TestLocalUnderlayState_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetLocalUnderlayState("netA-7")
	require.NoError(t, err)
	require.False(t, ok)

	state := model.LocalUnderlayState{Mode: model.UnderlayClient, UnitName: "networktools-netA-worker-abc", ListenPort: 1080, ServerIP: "1.2.3.4", ServerPort: 443}
	require.NoError(t, s.SetLocalUnderlayState("netA-7", state))

	got, ok, err := s.GetLocalUnderlayState("netA-7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, got)

	require.NoError(t, s.DeleteLocalUnderlayState("netA-7"))
	_, ok, err = s.GetLocalUnderlayState("netA-7")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsExpired(t *testing.T) {
	require.False(t, IsExpired(0, 1000)) // no TTL
	require.False(t, IsExpired(1001, 1000))
	require.True(t, IsExpired(1000, 1000))
	require.True(t, IsExpired(900, 1000))
}

package controller

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return New(srv.URL, priv), srv
}

func TestSign_StableForSameKeyAndInputs(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := &Client{PrivateKey: priv}

	sigA := c.sign("/api/v1/node/config", "deadbeefcafebabe", "{}")
	sigB := c.sign("/api/v1/node/config", "deadbeefcafebabe", "{}")
	require.Equal(t, sigA, sigB)

	sigC := c.sign("/api/v1/node/config", "deadbeefcafebabf", "{}")
	require.NotEqual(t, sigA, sigC)
}

func TestClientID_IsSHA256OfSPKIHex(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := &Client{PrivateKey: priv}
	id, err := c.clientID()
	require.NoError(t, err)
	require.Len(t, id, 64) // hex-encoded sha256

	der, err := x509.MarshalPKIXPublicKey(priv.Public())
	require.NoError(t, err)
	sum := sha256.Sum256(der)
	require.Equal(t, hex.EncodeToString(sum[:]), id)
}

func TestGetNodeConfig_SignsAndDecodesEnvelope(t *testing.T) {
	var gotNonce, gotSign, gotID string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotNonce = r.Header.Get("X-Client-Nonce")
		gotSign = r.Header.Get("X-Client-Sign")
		gotID = r.Header.Get("X-Client-Id")
		require.Equal(t, "/api/v1/node/config", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"config": `{"exitNode":true,"vethCIDR":"10.0.0.0/30"}`})
	})
	defer srv.Close()

	info, err := c.GetNodeConfig()
	require.NoError(t, err)
	require.True(t, info.ExitNode)
	require.Equal(t, "10.0.0.0/30", info.VethCIDR)
	require.NotEmpty(t, gotNonce)
	require.NotEmpty(t, gotSign)
	require.NotEmpty(t, gotID)
}

func TestGetNodePeers_ToleratesOneBadExtra(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"peers":[
			{"id":1,"publicKey":"a","peerPublicKey":"b","addressCIDR":"10.0.0.1/30","listenPort":51820,"extra":{"ospf":{"cost":10}}},
			{"id":2,"publicKey":"c","peerPublicKey":"d","addressCIDR":"10.0.0.5/30","listenPort":0,"extra":"not-an-object"}
		]}`))
	})
	defer srv.Close()

	peers, err := c.GetNodePeers()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	require.NotNil(t, peers[0].Extra)
	require.Equal(t, 10, peers[0].Extra.OSPF.Cost)
	require.Nil(t, peers[1].Extra)
}

func TestPost_NonTwoXXIsHardFailure(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})
	defer srv.Close()

	err := c.SyncWireGuardKeys([]string{"pub1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}

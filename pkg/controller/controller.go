// Package controller is the signed HTTPS client to the central controller.
// Every request is Ed25519-signed over a "{path}\n{nonce}\n{qs-or-body}"
// string with the node's own key; there is no shared bearer token anywhere
// in the protocol.
package controller

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"networktools/pkg/agentlog"
	"networktools/pkg/model"
)

var log = agentlog.WithComponent("controller")

// Client issues signed requests to one controller base URL using one node
// keypair.
type Client struct {
	BaseURL    string
	PrivateKey ed25519.PrivateKey
	HTTP       *http.Client
}

// New builds a Client from an already parsed key; ParsePrivateKeyPEM turns
// the persisted PEM form into one.
func New(baseURL string, privateKey ed25519.PrivateKey) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		PrivateKey: privateKey,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// nonce returns 8 random bytes hex-encoded.
func nonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sign computes the Ed25519 signature over "{path}\n{nonce}\n{payload}".
func (c *Client) sign(path, nonceHex, payload string) string {
	signingString := path + "\n" + nonceHex + "\n" + payload
	sig := ed25519.Sign(c.PrivateKey, []byte(signingString))
	return hex.EncodeToString(sig)
}

// clientID is SHA-256 hex of the SPKI-DER encoding of the public key, the
// identity the controller knows this node by.
func (c *Client) clientID() (string, error) {
	pub, ok := c.PrivateKey.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("private key has no ed25519 public half")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal spki: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Client) setSignedHeaders(req *http.Request, path, payload string) error {
	n, err := nonce()
	if err != nil {
		return err
	}
	clientID, err := c.clientID()
	if err != nil {
		return err
	}
	req.Header.Set("X-Client-Id", clientID)
	req.Header.Set("X-Client-Nonce", n)
	req.Header.Set("X-Client-Sign", c.sign(path, n, payload))
	return nil
}

// get issues a signed GET against path with the given query params, using
// the URL-encoded query string as the signed payload.
func (c *Client) get(path string, params url.Values) ([]byte, error) {
	qs := params.Encode()
	full := c.BaseURL + path
	if qs != "" {
		full += "?" + qs
	}
	req, err := http.NewRequest(http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET %s: %w", path, err)
	}
	if err := c.setSignedHeaders(req, path, qs); err != nil {
		return nil, err
	}
	return c.do(req)
}

// post issues a signed POST with a JSON body, using the JSON body bytes as
// the signed payload.
func (c *Client) post(path string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal body for %s: %w", path, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.setSignedHeaders(req, path, string(body)); err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: controller returned %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("controller request ok")
	return body, nil
}

// GetNodeConfig fetches and decodes the node-level desired state.
func (c *Client) GetNodeConfig() (model.RemoteNodeInfo, error) {
	body, err := c.get("/api/v1/node/config", nil)
	if err != nil {
		return model.RemoteNodeInfo{}, err
	}
	var wrapper struct {
		Config string `json:"config"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return model.RemoteNodeInfo{}, fmt.Errorf("decode node/config envelope: %w", err)
	}
	var info model.RemoteNodeInfo
	if err := json.Unmarshal([]byte(wrapper.Config), &info); err != nil {
		return model.RemoteNodeInfo{}, fmt.Errorf("decode node/config payload: %w", err)
	}
	return info, nil
}

// remotePeerInfoRaw mirrors the wire shape before per-peer Extra decoding,
// so one peer's malformed extra blob cannot invalidate the batch.
type remotePeerInfoRaw struct {
	ID            int             `json:"id"`
	PublicKey     string          `json:"publicKey"`
	PeerPublicKey string          `json:"peerPublicKey"`
	AddressCIDR   string          `json:"addressCIDR"`
	ListenPort    int             `json:"listenPort"`
	MTU           int             `json:"mtu"`
	Keepalive     int             `json:"keepalive"`
	Endpoint      string          `json:"endpoint"`
	Extra         json.RawMessage `json:"extra,omitempty"`
}

// GetNodePeers fetches and decodes the desired peer set. A peer whose Extra
// blob fails to parse keeps Extra nil rather than dropping the peer.
func (c *Client) GetNodePeers() ([]model.RemotePeerInfo, error) {
	body, err := c.get("/api/v1/node/peers", nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Peers []remotePeerInfoRaw `json:"peers"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode node/peers: %w", err)
	}
	out := make([]model.RemotePeerInfo, 0, len(wrapper.Peers))
	for _, raw := range wrapper.Peers {
		peer := model.RemotePeerInfo{
			ID:            raw.ID,
			PublicKey:     raw.PublicKey,
			PeerPublicKey: raw.PeerPublicKey,
			AddressCIDR:   raw.AddressCIDR,
			ListenPort:    raw.ListenPort,
			MTU:           raw.MTU,
			Keepalive:     raw.Keepalive,
			Endpoint:      raw.Endpoint,
		}
		if len(raw.Extra) > 0 {
			var extra model.PeerExtra
			if err := json.Unmarshal(raw.Extra, &extra); err == nil {
				peer.Extra = &extra
			} else {
				log.Warn().Err(err).Int("peer", raw.ID).Msg("peer extra failed to parse, treating as absent")
			}
		}
		out = append(out, peer)
	}
	return out, nil
}

// SyncWireGuardKeys reports the current public-key pool.
func (c *Client) SyncWireGuardKeys(publicKeys []string) error {
	_, err := c.post("/api/v1/node/sync_wireguard_keys", map[string]interface{}{"keys": publicKeys})
	return err
}

// LinkTelemetry is one peer link's reported measurement.
type LinkTelemetry struct {
	ID   int     `json:"id"`
	Ping float64 `json:"ping"` // -1 if no measurement
	RX   int64   `json:"rx"`
	TX   int64   `json:"tx"`
}

// PostLinkTelemetry reports per-peer-link ping/rx/tx.
func (c *Client) PostLinkTelemetry(links []LinkTelemetry) error {
	_, err := c.post("/api/v1/node/link_telemetry", map[string]interface{}{"links": links})
	return err
}

// RouterTelemetryPayload is the remote schema for OSPF LSDB telemetry,
// targeting the current "router_telemetry"/"area_routers" endpoint
// generation rather than the superseded "route_telemetry"/"area_routes"
// one.
type RouterTelemetryPayload struct {
	AreaRouters map[string][]RouterTelemetryEntry `json:"area_routers"`
	OtherASBRs  []RouterTelemetryEntry             `json:"other_asbrs"`
}

// RouterTelemetryEntry is model.RouterInfo reshaped to the controller's
// snake_case wire schema.
type RouterTelemetryEntry struct {
	RouterID  string                    `json:"router_id"`
	Distance  int                       `json:"distance"`
	VLinks    []RouterTelemetryRef      `json:"vlinks,omitempty"`
	Routers   []RouterTelemetryRef      `json:"routers,omitempty"`
	StubNets  []RouterTelemetryNetwork  `json:"stubnets,omitempty"`
	XNetworks []RouterTelemetryNetwork  `json:"xnetworks,omitempty"`
	XRouters  []RouterTelemetryRef      `json:"xrouters,omitempty"`
	Externals []RouterTelemetryExternal `json:"externals,omitempty"`
	NSSAExt   []RouterTelemetryExternal `json:"nssa_externals,omitempty"`
}

type RouterTelemetryRef struct {
	RouterID string `json:"router_id"`
	Metric   int    `json:"metric"`
}

type RouterTelemetryNetwork struct {
	Network string `json:"network"`
	Metric  int    `json:"metric"`
}

type RouterTelemetryExternal struct {
	Network    string `json:"network"`
	Metric     int    `json:"metric"`
	MetricType int    `json:"metric_type"`
	Via        string `json:"via,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// PostRouterTelemetry reports the parsed OSPF LSDB.
func (c *Client) PostRouterTelemetry(payload RouterTelemetryPayload) error {
	_, err := c.post("/api/v1/node/router_telemetry", payload)
	return err
}

// EncodePrivateKeyPEM PKCS8/PEM-encodes an Ed25519 private key, the form
// model.NodeSettings.PrivateKey is persisted in.
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal ed25519 private key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePrivateKeyPEM is the inverse of EncodePrivateKeyPEM.
func ParsePrivateKeyPEM(pemStr string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not ed25519")
	}
	return priv, nil
}

// Join performs the one-time cluster join call, returning the assigned node
// ID.
func (c *Client) Join() (int64, error) {
	body, err := c.post("/api/v1/node/join", map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	var resp struct {
		NodeID int64 `json:"nodeId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode node/join: %w", err)
	}
	return resp.NodeID, nil
}

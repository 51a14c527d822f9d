package model

// WireGuardKeyPair is one pre-generated key in the node's key pool. The
// controller selects which public keys to use for peer assignments; the
// agent must already own the matching private half before that happens.
type WireGuardKeyPair struct {
	Private string `json:"private"`
	Public  string `json:"public"`
}

// DefaultKeyPoolSize is the minimum number of pre-generated keys the pool
// is topped up to every tick.
const DefaultKeyPoolSize = 20

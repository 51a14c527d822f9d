// Package store is the single-file relational persistent store: node
// settings, the WireGuard key pool, and TTL-keyed ephemeral worker records,
// backed by a local sqlite file opened through gorm.
package store

import (
	"encoding/json"
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"networktools/pkg/model"
)

// nodeConfigRow backs the nodeconfig(key, value UNIQUE(key)) table.
type nodeConfigRow struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

// wgKeyRow backs the wgkey(private, public UNIQUE(public)) table.
type wgKeyRow struct {
	Private string `gorm:"column:private"`
	Public  string `gorm:"column:public;unique"`
}

// simpleKVRow backs the simplekv(key, value, expires UNIQUE(key)) table.
// Expires is a unix-seconds timestamp; zero means no TTL.
type simpleKVRow struct {
	Key     string `gorm:"primaryKey;column:key"`
	Value   string `gorm:"column:value"`
	Expires int64  `gorm:"column:expires"`
}

func (nodeConfigRow) TableName() string { return "nodeconfig" }
func (wgKeyRow) TableName() string      { return "wgkey" }
func (simpleKVRow) TableName() string   { return "simplekv" }

// Store wraps the gorm handle for the single-file store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the sqlite file at path and migrates its
// three tables.
func Open(path string) (*Store, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&nodeConfigRow{}, &wgKeyRow{}, &simpleKVRow{}); err != nil {
		return nil, fmt.Errorf("migrate store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// nodeSettingsKeys maps NodeSettings fields to their nodeconfig row keys.
var nodeSettingsKeys = []string{"namespace", "ethName", "privateKey", "nodeId", "domainPrefix"}

// GetNodeSettings reads every nodeconfig row and assembles a NodeSettings.
// Returns (zero value, false, nil) when no rows exist at all; callers
// decide how to fail.
func (s *Store) GetNodeSettings() (model.NodeSettings, bool, error) {
	var rows []nodeConfigRow
	if err := s.db.Find(&rows).Error; err != nil {
		return model.NodeSettings{}, false, fmt.Errorf("read nodeconfig: %w", err)
	}
	if len(rows) == 0 {
		return model.NodeSettings{}, false, nil
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	var settings model.NodeSettings
	settings.Namespace = values["namespace"]
	settings.EthName = values["ethName"]
	settings.PrivateKey = values["privateKey"]
	settings.DomainPrefix = values["domainPrefix"]
	if v, ok := values["nodeId"]; ok {
		var id int64
		fmt.Sscanf(v, "%d", &id)
		settings.NodeID = id
	}
	return settings, true, nil
}

// SetNodeSettings is a partial upsert: only non-zero fields overwrite the
// stored value, so callers can update e.g. just NodeID after a join without
// re-supplying every other field.
func (s *Store) SetNodeSettings(partial model.NodeSettings) error {
	updates := map[string]string{}
	if partial.Namespace != "" {
		updates["namespace"] = partial.Namespace
	}
	if partial.EthName != "" {
		updates["ethName"] = partial.EthName
	}
	if partial.PrivateKey != "" {
		updates["privateKey"] = partial.PrivateKey
	}
	if partial.NodeID != 0 {
		updates["nodeId"] = fmt.Sprintf("%d", partial.NodeID)
	}
	if partial.DomainPrefix != "" {
		updates["domainPrefix"] = partial.DomainPrefix
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range updates {
			row := nodeConfigRow{Key: key, Value: value}
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("upsert nodeconfig %s: %w", key, err)
			}
		}
		return nil
	})
}

// CreateWireGuardKey validates the pair with wgtypes before persisting it,
// enforcing uniqueness on the public half.
func (s *Store) CreateWireGuardKey(pair model.WireGuardKeyPair) error {
	if _, err := wgtypes.ParseKey(pair.Private); err != nil {
		return fmt.Errorf("invalid wireguard private key: %w", err)
	}
	if _, err := wgtypes.ParseKey(pair.Public); err != nil {
		return fmt.Errorf("invalid wireguard public key: %w", err)
	}
	row := wgKeyRow{Private: pair.Private, Public: pair.Public}
	if err := s.db.Clauses().Create(&row).Error; err != nil {
		return fmt.Errorf("persist wireguard key: %w", err)
	}
	return nil
}

// GetAllWireGuardKeys returns the full pre-generated key pool.
func (s *Store) GetAllWireGuardKeys() ([]model.WireGuardKeyPair, error) {
	var rows []wgKeyRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read wgkey: %w", err)
	}
	out := make([]model.WireGuardKeyPair, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.WireGuardKeyPair{Private: r.Private, Public: r.Public})
	}
	return out, nil
}

// underlayKey is the simplekv key namespace for LocalUnderlayState records.
func underlayKey(ifname string) string { return "underlay-worker-" + ifname }

// GetLocalUnderlayState reads and decodes the stored underlay record for
// ifname, if any. The agent never sets a TTL on these records, so expiry is
// not consulted here.
func (s *Store) GetLocalUnderlayState(ifname string) (model.LocalUnderlayState, bool, error) {
	var row simpleKVRow
	err := s.db.Where("key = ?", underlayKey(ifname)).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.LocalUnderlayState{}, false, nil
		}
		return model.LocalUnderlayState{}, false, fmt.Errorf("read underlay state %s: %w", ifname, err)
	}
	var state model.LocalUnderlayState
	if err := json.Unmarshal([]byte(row.Value), &state); err != nil {
		return model.LocalUnderlayState{}, false, fmt.Errorf("decode underlay state %s: %w", ifname, err)
	}
	return state, true, nil
}

// SetLocalUnderlayState upserts the JSON-encoded record for ifname.
func (s *Store) SetLocalUnderlayState(ifname string, state model.LocalUnderlayState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode underlay state %s: %w", ifname, err)
	}
	row := simpleKVRow{Key: underlayKey(ifname), Value: string(value)}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("persist underlay state %s: %w", ifname, err)
	}
	return nil
}

// DeleteLocalUnderlayState removes the record for ifname, if present.
func (s *Store) DeleteLocalUnderlayState(ifname string) error {
	if err := s.db.Where("key = ?", underlayKey(ifname)).Delete(&simpleKVRow{}).Error; err != nil {
		return fmt.Errorf("delete underlay state %s: %w", ifname, err)
	}
	return nil
}

// IsExpired reports whether a simplekv row with the given expires timestamp
// has passed, given now as unix seconds. A record is expired iff expires is
// set and has already passed; expires == 0 means no TTL, never expired.
func IsExpired(expires, now int64) bool {
	return expires != 0 && expires <= now
}

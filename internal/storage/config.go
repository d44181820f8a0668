package storage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Configuration — §6 configuration keys
// ───────────────────────────────────────────────────────────────────────────
//
// Configuration is the single YAML-loadable surface naming every tunable
// listed in §6: buffer pool size, WAL fsync policy, lock wait timeout,
// checkpoint cadence (record-count or cron), and HNSW defaults. Every field
// is optional; zero values fall back to the same defaults the rest of the
// package already applies.

// Configuration mirrors the engine's YAML config file.
type Configuration struct {
	PageSize                  int    `yaml:"page_size"`
	BufferPoolPages           int    `yaml:"buffer_pool_pages"`
	WALFsyncPolicy            string `yaml:"wal_fsync_policy"`
	LockWaitTimeoutMs         int    `yaml:"lock_wait_timeout_ms"`
	CheckpointIntervalRecords uint64 `yaml:"checkpoint_interval_records"`
	CheckpointCron            string `yaml:"checkpoint_cron"`
	HNSWDefaultM              int    `yaml:"hnsw_default_m"`
	HNSWEfConstruction        int    `yaml:"hnsw_efConstruction"`
	HNSWEfSearch              int    `yaml:"hnsw_efSearch"`
	EncryptionEnabled         bool   `yaml:"encryption_enabled"`
}

// DefaultConfiguration returns the documented §6 defaults.
func DefaultConfiguration() Configuration {
	return Configuration{
		PageSize:                  8192,
		BufferPoolPages:           1024,
		WALFsyncPolicy:            "each_commit",
		LockWaitTimeoutMs:         10000,
		CheckpointIntervalRecords: 100000,
		HNSWDefaultM:              16,
		HNSWEfConstruction:        200,
		HNSWEfSearch:              50,
		EncryptionEnabled:         false,
	}
}

// LoadConfiguration reads a YAML config file, filling unset fields with
// DefaultConfiguration's values so callers never have to special-case zero.
func LoadConfiguration(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration %s: %w", path, err)
	}
	cfg := DefaultConfiguration()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyTo folds the named §6 keys into a StorageConfig, leaving fields the
// Configuration doesn't cover (Mode, Path, EncryptionKey material, ...)
// untouched. EncryptionEnabled only records intent here; the caller still
// supplies the actual key via StorageConfig.EncryptionKey since key
// material has no place in a checked-in YAML file.
func (c *Configuration) ApplyTo(sc *StorageConfig) {
	sc.PageSize = c.PageSize
	sc.MaxCachePages = c.BufferPoolPages
	sc.WALFsyncPolicy = c.WALFsyncPolicy
	sc.LockWaitTimeout = time.Duration(c.LockWaitTimeoutMs) * time.Millisecond
	sc.CheckpointEvery = c.CheckpointIntervalRecords
}

// HNSWConfig builds an HNSWConfig seeded with this Configuration's defaults.
// CREATE INDEX ... USING hnsw(...) does not call it.
func (c *Configuration) HNSWConfig(dim int, metric VectorMetric) HNSWConfig {
	return HNSWConfig{
		Dim:            dim,
		Metric:         metric,
		M:              c.HNSWDefaultM,
		EfConstruction: c.HNSWEfConstruction,
		EfSearch:       c.HNSWEfSearch,
	}
}

package hnswdb

import "os"
import "gopkg.in/yaml.v3"


//============================================= Store Config


// Config carries the recognized options from the store's external interface.
type Config struct {
	// Threshold: minimum count_unindexed before an indexing pass is triggered.
	Threshold uint32 `yaml:"threshold"`
	// BatchSize: number of embeddings drained per indexing pass.
	BatchSize uint32 `yaml:"batch_size"`
	// NodePoolSize: number of MergedNode instances pre-allocated in the node pool.
	NodePoolSize int64 `yaml:"node_pool_size"`
	// PropCacheSize: max entries kept in the property read-through LRU cache.
	PropCacheSize int `yaml:"prop_cache_size"`
	// MaxLoads: recursion budget for a single NodeRegistry.Load call chain.
	MaxLoads int `yaml:"max_loads"`
}

// DefaultConfig mirrors the teacher's hardcoded defaults (node pool size,
// page-granularity growth) translated into the HNSW store's own knobs.
func DefaultConfig() Config {
	return Config{
		Threshold: 1000,
		BatchSize: 100,
		NodePoolSize: 100000,
		PropCacheSize: 4096,
		MaxLoads: 100000,
	}
}

// LoadConfig reads a YAML config file, falling back to DefaultConfig for any
// zero-valued field left unset by the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, readErr := os.ReadFile(path)
	if readErr != nil { return cfg, newErr(ErrIO, "reading config %s: %w", path, readErr) }

	if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
		return cfg, newErr(ErrInvalidParams, "parsing config %s: %w", path, unmarshalErr)
	}

	return cfg, nil
}

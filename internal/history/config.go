package history

import "log"

// Method names a registered backend implementation. hisv6 is the only
// one this module ships, but the façade dispatches on it by name the
// same way the original history API dispatches on dbname.
const MethodHisV6 = "hisv6"

// Defaults, named the way the teacher names its Default* constants.
const (
	DefaultCacheEntries = 1024
	DefaultSyncCount    = 10 // dirty writes between fsyncs
	DefaultStatInterval = 30 // seconds between rotation checks; 0 disables
	DefaultPairsHint    = 0  // 0 means "ask the index for its current size"
)

// Config holds everything needed to open a history database.
// HistoryDir/Method mirror the teacher's HistoryConfig shape
// (exported fields, yaml/json tags); the rest are the hisv6-specific
// knobs spec.md §3-§7 expose as HISctl selectors in the original.
type Config struct {
	HistoryDir string `yaml:"history_dir" json:"history_dir"`
	Method     string `yaml:"method" json:"method"`

	// CacheEntries is validated but not applied by Open: a handle
	// starts with no negative-lookup cache until SetCache is called.
	CacheEntries int `yaml:"cache_entries" json:"cache_entries"`

	// SyncCount is the number of dirty writes the backend tolerates
	// before it fsyncs the log and the index (HISCTLS_SYNCCOUNT).
	SyncCount int64 `yaml:"sync_count" json:"sync_count"`

	// StatInterval is how often (in seconds) the backend re-stats its
	// open files to notice external rotation. 0 disables the check.
	StatInterval int64 `yaml:"stat_interval" json:"stat_interval"`

	// PairsHint seeds initial dbz index sizing on Create. 0 means no
	// hint: a new index gets SizeForPairs' minimum size, and Expire
	// clones the current index's capacity (dbzagain-style).
	PairsHint int64 `yaml:"pairs_hint" json:"pairs_hint"`

	// IndexResidency and ExistsResidency select how the dbz index's
	// two on-disk tables are held in memory: "disk", "mem", or "mmap".
	IndexResidency  string `yaml:"index_residency" json:"index_residency"`
	ExistsResidency string `yaml:"exists_residency" json:"exists_residency"`

	// WriteThrough forces every Store to fsync the index immediately.
	WriteThrough bool `yaml:"write_through" json:"write_through"`
}

// DefaultConfig returns a usable Config with the same defaults hisv6
// ships (synccount 10, statinterval 30s, on-disk residency).
func DefaultConfig() *Config {
	return &Config{
		Method:          MethodHisV6,
		CacheEntries:    DefaultCacheEntries,
		SyncCount:       DefaultSyncCount,
		StatInterval:    DefaultStatInterval,
		PairsHint:       DefaultPairsHint,
		IndexResidency:  "disk",
		ExistsResidency: "disk",
	}
}

// ValidateConfig clamps out-of-range values and logs a warning for
// each adjustment, the same pattern the teacher's ValidateConfig uses.
func (c *Config) ValidateConfig() error {
	if c.Method == "" {
		c.Method = MethodHisV6
	}
	if c.HistoryDir == "" {
		log.Printf("WARN: HistoryDir empty, defaulting to \".\"")
		c.HistoryDir = "."
	}
	if c.CacheEntries < 0 {
		log.Printf("WARN: CacheEntries %d negative, adjusting to 0", c.CacheEntries)
		c.CacheEntries = 0
	}
	if c.SyncCount < 0 {
		log.Printf("WARN: SyncCount %d negative, adjusting to %d", c.SyncCount, DefaultSyncCount)
		c.SyncCount = DefaultSyncCount
	}
	if c.StatInterval < 0 {
		log.Printf("WARN: StatInterval %d negative, adjusting to 0 (disabled)", c.StatInterval)
		c.StatInterval = 0
	}
	if c.PairsHint < 0 {
		log.Printf("WARN: PairsHint %d negative, adjusting to 0", c.PairsHint)
		c.PairsHint = 0
	}
	switch c.IndexResidency {
	case "", "disk", "mem", "mmap":
	default:
		log.Printf("WARN: IndexResidency %q unknown, adjusting to \"disk\"", c.IndexResidency)
		c.IndexResidency = "disk"
	}
	switch c.ExistsResidency {
	case "", "disk", "mem", "mmap":
	default:
		log.Printf("WARN: ExistsResidency %q unknown, adjusting to \"disk\"", c.ExistsResidency)
		c.ExistsResidency = "disk"
	}
	if c.IndexResidency == "" {
		c.IndexResidency = "disk"
	}
	if c.ExistsResidency == "" {
		c.ExistsResidency = "disk"
	}
	return nil
}

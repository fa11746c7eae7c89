package config

import (
	"telecast/internal/logging"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   logging.Config  `json:"logging,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Redis     RedisConfig     `json:"redis,omitempty"`
	Media     MediaConfig     `json:"media,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// AdminIDs may create and inspect broadcast jobs. Everyone else only
	// receives.
	AdminIDs []int64 `json:"admin_ids"`

	// PollTimeout is a Go duration string (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RedisConfig controls the activity tracker and the fallback recipient source.
// If disabled, broadcasts simply have no fallback when the directory is empty.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`

	// ActivityTTL is how long a user counts as recently active (default "5m").
	ActivityTTL string `json:"activity_ttl,omitempty"`
}

// MediaConfig selects the media payload backend.
//
// Driver values:
//   - "none": media references never resolve; media jobs degrade to captions
//   - "file": local directory of content-addressed files
//   - "s3":   S3-compatible object store (MinIO)
type MediaConfig struct {
	Driver string `json:"driver,omitempty"`
	Dir    string `json:"dir,omitempty"`

	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// BroadcastConfig controls the distribution engine.
//
// All durations are Go duration strings (e.g. "2s", "15s").
//
// Defaults (when fields are omitted/zero):
//   - interval: "15s"
//   - rate_per_sec: 15
//   - retry_max: 3
//   - retry_backoff: "2s"
//   - batch_size: 500
//   - checkpoint_every: 500
//   - workers: 1 (sequential delivery)
//   - job_ttl: "720h" (retention for finished jobs)
type BroadcastConfig struct {
	Interval        string  `json:"interval,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	RetryMax        int     `json:"retry_max,omitempty"`
	RetryBackoff    string  `json:"retry_backoff,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	CheckpointEvery int     `json:"checkpoint_every,omitempty"`

	// Workers > 1 enables pooled delivery with a shared token-bucket limiter;
	// the aggregate send rate still respects rate_per_sec.
	Workers int `json:"workers,omitempty"`

	// Receipts toggles the per-recipient delivery receipt log. A pointer so an
	// omitted field defaults to enabled.
	Receipts *bool `json:"receipts,omitempty"`

	JobTTL string `json:"job_ttl,omitempty"`
}

func (c *BroadcastConfig) ReceiptsEnabled() bool {
	return c.Receipts == nil || *c.Receipts
}

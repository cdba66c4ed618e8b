// Package config loads Aegis's disaster-recovery configuration.
//
// Configuration is a JSON document describing the backup, replication,
// and recovery subsystems plus the region topology they operate over.
// Loading is layered: built-in defaults, then an optional JSON file,
// then AEGIS_*-prefixed environment variable overrides, following the
// same defaults->file->env precedence Open Cloud Ops uses elsewhere.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/aegis-dr/aegis/pkg/models"
)

// StorageConfig describes the object-storage backend backups are
// written to.
type StorageConfig struct {
	Type   string            `koanf:"type" json:"type"` // s3 | gcs | local
	Bucket string            `koanf:"bucket" json:"bucket"`
	Prefix string            `koanf:"prefix" json:"prefix"`
	Region string            `koanf:"region" json:"region"`
	Config map[string]string `koanf:"config" json:"config"`
}

// RetentionConfig is the tiered retention policy backups are swept
// against.
type RetentionConfig struct {
	Daily   int `koanf:"daily" json:"daily"`
	Weekly  int `koanf:"weekly" json:"weekly"`
	Monthly int `koanf:"monthly" json:"monthly"`
}

// EncryptionConfig controls at-rest encryption of backup archives.
type EncryptionConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	KeyID   string `koanf:"keyId" json:"keyId,omitempty"`
}

// BackupConfig is `disasterRecovery.backup`.
type BackupConfig struct {
	Storage    StorageConfig    `koanf:"storage" json:"storage"`
	Retention  RetentionConfig  `koanf:"retention" json:"retention"`
	Encryption EncryptionConfig `koanf:"encryption" json:"encryption"`
}

// ReplicationConfig is `disasterRecovery.replication`.
type ReplicationConfig struct {
	Enabled      bool          `koanf:"enabled" json:"enabled"`
	Regions      []string      `koanf:"regions" json:"regions"`
	SyncInterval time.Duration `koanf:"syncInterval" json:"syncInterval"`

	// ConflictResolution is `replication.conflictResolution`, nested
	// here so one Config struct carries the whole document.
	ConflictResolution models.ConflictPolicy `koanf:"conflictResolution" json:"conflictResolution"`

	// RegionTopology is `replication.regions[]`: the full per-region
	// connection/network descriptors, distinct from the plain name list
	// above which only gates which regions participate.
	RegionTopology []models.Region `koanf:"-" json:"-"`
}

// RecoveryConfig is `disasterRecovery.recovery`.
type RecoveryConfig struct {
	RTOMinutes          int           `koanf:"rto" json:"rto"`
	RPOMinutes          int           `koanf:"rpo" json:"rpo"`
	AutoFailover        bool          `koanf:"autoFailover" json:"autoFailover"`
	HealthCheckInterval time.Duration `koanf:"healthCheckInterval" json:"healthCheckInterval"`
}

// NotificationsConfig is `disasterRecovery.notifications`.
type NotificationsConfig struct {
	WebhookURL      string   `koanf:"webhookUrl" json:"webhookUrl,omitempty"`
	EmailRecipients []string `koanf:"emailRecipients" json:"emailRecipients,omitempty"`
	SlackChannel    string   `koanf:"slackChannel" json:"slackChannel,omitempty"`
}

// DisasterRecoveryConfig groups the four `disasterRecovery.*` sections.
type DisasterRecoveryConfig struct {
	Backup        BackupConfig        `koanf:"backup" json:"backup"`
	Replication   ReplicationConfig   `koanf:"replication" json:"replication"`
	Recovery      RecoveryConfig      `koanf:"recovery" json:"recovery"`
	Notifications NotificationsConfig `koanf:"notifications" json:"notifications"`
}

// Config is the root of the configuration document plus a handful of
// ambient process settings that are not part of the `disasterRecovery`
// document itself (logging, metrics, metadata store DSN).
type Config struct {
	DisasterRecovery DisasterRecoveryConfig `koanf:"disasterRecovery" json:"disasterRecovery"`

	// Regions is the canonical `replication.regions[]` topology: name,
	// primary flag, per-store connection strings, network params.
	Regions []models.Region `koanf:"regions" json:"regions"`

	LogLevel    string `koanf:"logLevel" json:"logLevel"`
	LogJSON     bool   `koanf:"logJSON" json:"logJSON"`
	MetricsAddr string `koanf:"metricsAddr" json:"metricsAddr"`

	// MetadataDSN is the Postgres connection string for the control-plane
	// store (backup/conflict/failover/recovery-plan records).
	MetadataDSN string `koanf:"metadataDSN" json:"metadataDSN"`
}

const envPrefix = "AEGIS_"

func defaultConfig() *Config {
	return &Config{
		DisasterRecovery: DisasterRecoveryConfig{
			Backup: BackupConfig{
				Storage: StorageConfig{
					Type:   "local",
					Bucket: "aegis-backups",
					Prefix: "backups",
					Config: map[string]string{"path": "/var/aegis/backups"},
				},
				Retention: RetentionConfig{Daily: 7, Weekly: 4, Monthly: 12},
				Encryption: EncryptionConfig{
					Enabled: false,
				},
			},
			Replication: ReplicationConfig{
				Enabled:            true,
				SyncInterval:       30 * time.Second,
				ConflictResolution: models.PolicyLastWriteWins,
			},
			Recovery: RecoveryConfig{
				RTOMinutes:          60,
				RPOMinutes:          15,
				AutoFailover:        false,
				HealthCheckInterval: 10 * time.Second,
			},
		},
		LogLevel:    "info",
		LogJSON:     false,
		MetricsAddr: ":9090",
	}
}

// Load reads configuration with defaults -> optional JSON file -> env
// overrides precedence and validates the result. path may be empty, in
// which case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// replication.regions[] carries full per-region descriptors; the
	// plain name list under disasterRecovery.replication.regions only
	// gates which of them are active. Keep them cross-referenced here
	// rather than forcing callers to join the two themselves.
	cfg.DisasterRecovery.Replication.RegionTopology = cfg.Regions

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the load-time invariants: exactly one primary
// region, a non-empty region set, and a recognized conflict resolution
// policy.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("config: replication.regions must not be empty")
	}

	primaries := 0
	names := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if names[r.Name] {
			return fmt.Errorf("config: duplicate region name %q", r.Name)
		}
		names[r.Name] = true
		if r.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("config: exactly one region must be primary, found %d", primaries)
	}

	switch c.DisasterRecovery.Replication.ConflictResolution {
	case models.PolicyLastWriteWins, models.PolicyTimestampBased, models.PolicyManual:
	default:
		return fmt.Errorf("config: unknown conflictResolution %q", c.DisasterRecovery.Replication.ConflictResolution)
	}

	switch c.DisasterRecovery.Backup.Storage.Type {
	case "local", "s3", "gcs":
	default:
		return fmt.Errorf("config: unknown storage.type %q", c.DisasterRecovery.Backup.Storage.Type)
	}

	if c.DisasterRecovery.Recovery.RTOMinutes <= 0 {
		return fmt.Errorf("config: disasterRecovery.recovery.rto must be positive")
	}
	if c.DisasterRecovery.Recovery.RPOMinutes <= 0 {
		return fmt.Errorf("config: disasterRecovery.recovery.rpo must be positive")
	}

	return nil
}

// PrimaryRegion returns the name of the configured primary region. The
// caller may assume Validate has already run and exactly one exists.
func (c *Config) PrimaryRegion() string {
	for _, r := range c.Regions {
		if r.Primary {
			return r.Name
		}
	}
	return ""
}

// SecondaryRegions returns every region name other than the primary.
func (c *Config) SecondaryRegions() []string {
	out := make([]string, 0, len(c.Regions))
	for _, r := range c.Regions {
		if !r.Primary {
			out = append(out, r.Name)
		}
	}
	return out
}

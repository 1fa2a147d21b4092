// Package config defines the node configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/monitor"
	"github.com/alanyoungcy/aftchain/internal/notify"
	"github.com/alanyoungcy/aftchain/internal/oracle"
	"github.com/alanyoungcy/aftchain/internal/protocol"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by AFT_* environment variables.
type Config struct {
	Node     NodeConfig            `toml:"node"`
	Chain    ChainConfig           `toml:"chain"`
	Oracle   oracle.Config         `toml:"oracle"`
	Subject  domain.SubjectProfile `toml:"subject"`
	Fees     protocol.FeeSchedule  `toml:"fees"`
	Monitor  monitor.Config        `toml:"monitor"`
	Postgres PostgresConfig        `toml:"postgres"`
	Redis    RedisConfig           `toml:"redis"`
	S3       S3Config              `toml:"s3"`
	Notify   notify.Config         `toml:"notify"`
	LogLevel string                `toml:"log_level"`
	LogFile  string                `toml:"log_file"`
}

// NodeConfig controls how the node sources blocks and runs its loops.
type NodeConfig struct {
	Name string `toml:"name"`
	// Mode is one of node, replay or archive.
	Mode            string   `toml:"mode"`
	BlockStream     string   `toml:"block_stream"`
	ResultStream    string   `toml:"result_stream"`
	BlockFile       string   `toml:"block_file"`
	PollInterval    duration `toml:"poll_interval"`
	LockTTL         duration `toml:"lock_ttl"`
	InspectInterval duration `toml:"inspect_interval"`
	DumpInterval    duration `toml:"dump_interval"`
	ArchiveInterval duration `toml:"archive_interval"`
	Project         bool     `toml:"project"`
	Archive         bool     `toml:"archive"`
	// HTTPAddr serves the ops endpoints in node mode; empty disables them.
	HTTPAddr   string `toml:"http_addr"`
	HTTPAPIKey string `toml:"http_api_key"`
}

// ChainConfig locates the genesis state.
type ChainConfig struct {
	GenesisFile string `toml:"genesis_file"`
}

// PostgresConfig holds the projection database connection.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the cold archive object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration decodes TOML strings such as "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config matching config.example.toml.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			Name:            "aftnode",
			Mode:            "node",
			BlockStream:     "aft:blocks",
			ResultStream:    "aft:results",
			PollInterval:    duration{time.Second},
			LockTTL:         duration{30 * time.Second},
			InspectInterval: duration{time.Minute},
			DumpInterval:    duration{5 * time.Minute},
			ArchiveInterval: duration{10 * time.Minute},
			Project:         true,
			Archive:         true,
			HTTPAddr:        ":9090",
		},
		Oracle:  oracle.DefaultConfig(),
		Subject: domain.DefaultSubjectProfile(),
		Fees:    protocol.DefaultFeeSchedule(),
		Monitor: monitor.DefaultConfig(),
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "aftchain",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "aftchain-archive",
			ForcePathStyle: true,
		},
		Notify: notify.Config{
			Events: []string{monitor.AlarmFeederOffline, monitor.AlarmStalePrice, monitor.AlarmInvalidStreak},
		},
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"node":    true,
	"replay":  true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Node.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown node.mode %q (valid: node, replay, archive)", c.Node.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Chain.GenesisFile == "" {
		errs = append(errs, "chain.genesis_file is required")
	}

	switch mode {
	case "node":
		if c.Node.BlockStream == "" {
			errs = append(errs, "node.block_stream is required in node mode")
		}
		if c.Node.PollInterval.Duration <= 0 {
			errs = append(errs, "node.poll_interval must be positive")
		}
		if c.Node.LockTTL.Duration < 2*c.Node.PollInterval.Duration {
			errs = append(errs, "node.lock_ttl must be at least twice node.poll_interval")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required in node mode")
		}
	case "replay", "archive":
		if c.Node.BlockFile == "" {
			errs = append(errs, fmt.Sprintf("node.block_file is required in %s mode", mode))
		}
	}

	if c.Oracle.ConfirmQuorumPercent > protocol.FullPercent {
		errs = append(errs, fmt.Sprintf("oracle.confirm_quorum_percent must not exceed %d", protocol.FullPercent))
	}
	if c.Oracle.BucketRetention > 0 && c.Oracle.BucketRetention < domain.BucketInterval {
		errs = append(errs, fmt.Sprintf("oracle.bucket_retention must be 0 or at least %d", domain.BucketInterval))
	}
	if c.Fees.VotePercent > protocol.FullPercent {
		errs = append(errs, fmt.Sprintf("fees.vote_percent must not exceed %d", protocol.FullPercent))
	}
	if c.Node.Project && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host is required when node.project is set")
	}
	if c.Node.Archive && c.S3.Bucket == "" {
		errs = append(errs, "s3.bucket is required when node.archive is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

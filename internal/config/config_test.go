package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)

	require.Equal(t, "node", cfg.Node.Mode)
	require.Equal(t, time.Second, cfg.Node.PollInterval.Duration)
	require.Equal(t, domain.DefaultSubjectProfile(), cfg.Subject)
	require.Equal(t, Defaults().Fees, cfg.Fees)
	require.Equal(t, Defaults().Oracle, cfg.Oracle)
	require.Equal(t, Defaults().Monitor, cfg.Monitor)
	require.Equal(t, "aftnode", cfg.Notify.Node)

	cfg.Chain.GenesisFile = filepath.Join("..", "..", "genesis.example.json")
	require.NoError(t, cfg.Validate())
	gen, err := cfg.LoadGenesis()
	require.NoError(t, err)
	require.Len(t, gen.Platforms, 1)
	require.Equal(t, int64(100000000000), gen.Balances["1.2.10"])
	require.Equal(t, domain.PairVisibleActive, gen.Platforms[0].Status)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "aft.toml", `
log_level = "debug"

[node]
mode = "replay"
block_file = "blocks.jsonl"

[subject]
vote_max_times = 9

[oracle]
bucket_retention = 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "replay", cfg.Node.Mode)
	require.Equal(t, uint32(9), cfg.Subject.VoteMaxTimes)
	require.Equal(t, uint32(180), cfg.Subject.DelayForJudge)
	require.Zero(t, cfg.Oracle.BucketRetention)
	require.Equal(t, uint64(5001), cfg.Oracle.ConfirmQuorumPercent)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AFT_NODE_MODE", "archive")
	t.Setenv("AFT_NODE_LOCK_TTL", "1m")
	t.Setenv("AFT_REDIS_DB", "not-a-number")
	t.Setenv("AFT_NOTIFY_EVENTS", "stale_price, ,feed_delay")
	t.Setenv("AFT_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(writeFile(t, "aft.toml", ""))
	require.NoError(t, err)
	require.Equal(t, "archive", cfg.Node.Mode)
	require.Equal(t, time.Minute, cfg.Node.LockTTL.Duration)
	require.Zero(t, cfg.Redis.DB)
	require.Equal(t, []string{"stale_price", "feed_delay"}, cfg.Notify.Events)
	require.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad mode", mutate: func(c *Config) { c.Node.Mode = "trade" }, want: "unknown node.mode"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "unknown log_level"},
		{name: "no genesis", mutate: func(c *Config) { c.Chain.GenesisFile = "" }, want: "genesis_file"},
		{name: "short lock", mutate: func(c *Config) { c.Node.LockTTL.Duration = time.Second }, want: "lock_ttl"},
		{name: "replay without file", mutate: func(c *Config) { c.Node.Mode = "replay" }, want: "block_file"},
		{name: "quorum", mutate: func(c *Config) { c.Oracle.ConfirmQuorumPercent = 20000 }, want: "confirm_quorum_percent"},
		{name: "retention", mutate: func(c *Config) { c.Oracle.BucketRetention = 60 }, want: "bucket_retention"},
		{name: "archive bucket", mutate: func(c *Config) { c.S3.Bucket = "" }, want: "s3.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Chain.GenesisFile = "genesis.json"
			require.NoError(t, cfg.Validate())
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.Notify.TelegramToken = "token"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Notify.TelegramToken)
	require.Empty(t, out.S3.SecretKey)
	require.Equal(t, "secret", cfg.Postgres.Password)

	out.Notify.Events[0] = "changed"
	require.NotEqual(t, "changed", cfg.Notify.Events[0])
}

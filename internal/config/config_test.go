package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultBundleFile, cfg.STIX.BundleFile)
	assert.Equal(t, DefaultDownloadURL, cfg.STIX.DownloadURL)
	assert.True(t, cfg.STIX.Download)
	assert.Equal(t, 5*time.Minute, cfg.STIX.DownloadTimeout)

	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.Username)
	assert.Equal(t, "stix2025", cfg.Neo4j.Password)

	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.True(t, cfg.Ingest.Progress)

	assert.False(t, cfg.Audit.Postgres.Enabled)
	assert.False(t, cfg.Audit.Redis.Enabled)
	assert.Equal(t, "attackgraph:", cfg.Audit.Redis.KeyPrefix)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("STIX_FILE", "/data/attack.json")
	t.Setenv("NEO4J_URI", "neo4j://graph:7687")
	t.Setenv("NEO4J_USER", "ingest")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/attack.json", cfg.STIX.BundleFile)
	assert.Equal(t, "neo4j://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "ingest", cfg.Neo4j.Username)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Setenv("STIX_FILE", "/legacy.json")
	t.Setenv("ATTACKGRAPH_STIX_BUNDLE_FILE", "/prefixed.json")
	t.Setenv("ATTACKGRAPH_INGEST_BATCH_SIZE", "50")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/prefixed.json", cfg.STIX.BundleFile)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
}

func TestLoad_Flags(t *testing.T) {
	t.Setenv("STIX_FILE", "/from-env.json")

	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	fs.String("bundle", "", "")
	fs.Int("batch-size", 0, "")
	fs.String("log-level", "", "")
	require.NoError(t, fs.Parse([]string{"--bundle", "/from-flag.json", "--log-level=debug"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, "/from-flag.json", cfg.STIX.BundleFile)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 500, cfg.Ingest.BatchSize, "unset flag keeps the default")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stix:
  bundle_file: /srv/enterprise-attack.json
  download: false
neo4j:
  uri: bolt://neo4j:7687
ingest:
  batch_size: 1000
audit:
  redis:
    enabled: true
    ttl: 1h
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/enterprise-attack.json", cfg.STIX.BundleFile)
	assert.False(t, cfg.STIX.Download)
	assert.Equal(t, "bolt://neo4j:7687", cfg.Neo4j.URI)
	assert.Equal(t, 1000, cfg.Ingest.BatchSize)
	assert.True(t, cfg.Audit.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Audit.Redis.TTL)
	assert.Equal(t, "localhost:6379", cfg.Audit.Redis.Addr())
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ATTACKGRAPH_INGEST_BATCH_SIZE", "0")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestValidate(t *testing.T) {
	valid := Config{
		STIX:   STIXConfig{BundleFile: "bundle.json"},
		Neo4j:  Neo4jConfig{URI: "bolt://localhost:7687"},
		Ingest: IngestConfig{BatchSize: 10},
	}
	require.NoError(t, valid.Validate())

	noBundle := valid
	noBundle.STIX.BundleFile = ""
	assert.Error(t, noBundle.Validate())

	noURI := valid
	noURI.Neo4j.URI = ""
	assert.Error(t, noURI.Validate())
}

func TestPostgresAuditConfig_DSN(t *testing.T) {
	cfg := PostgresAuditConfig{
		Host:     "db",
		Port:     5432,
		User:     "ingest",
		Password: "pw",
		DBName:   "attack_graph",
		SSLMode:  "disable",
	}
	assert.Equal(t, "postgres://ingest:pw@db:5432/attack_graph?sslmode=disable", cfg.DSN())
}

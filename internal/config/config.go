package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the ingester
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Logger LoggerConfig `mapstructure:"logger"`
	STIX   STIXConfig   `mapstructure:"stix"`
	Neo4j  Neo4jConfig  `mapstructure:"neo4j"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// STIXConfig locates the ATT&CK bundle
type STIXConfig struct {
	BundleFile      string        `mapstructure:"bundle_file"`
	DownloadURL     string        `mapstructure:"download_url"`
	Download        bool          `mapstructure:"download"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

type Neo4jConfig struct {
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
}

// IngestConfig tunes the graph builder
type IngestConfig struct {
	BatchSize int  `mapstructure:"batch_size"`
	Progress  bool `mapstructure:"progress"`
}

type AuditConfig struct {
	Postgres PostgresAuditConfig `mapstructure:"postgres"`
	Redis    RedisAuditConfig    `mapstructure:"redis"`
}

type PostgresAuditConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c PostgresAuditConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisAuditConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func (c RedisAuditConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

const (
	DefaultBundleFile  = "enterprise-attack/enterprise-attack.json"
	DefaultDownloadURL = "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "attack-graph")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)

	v.SetDefault("stix.bundle_file", DefaultBundleFile)
	v.SetDefault("stix.download_url", DefaultDownloadURL)
	v.SetDefault("stix.download", true)
	v.SetDefault("stix.download_timeout", 5*time.Minute)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "stix2025")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("neo4j.max_connections", 10)
	v.SetDefault("neo4j.max_lifetime_minutes", 60)

	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.progress", true)

	v.SetDefault("audit.postgres.enabled", false)
	v.SetDefault("audit.postgres.host", "localhost")
	v.SetDefault("audit.postgres.port", 5432)
	v.SetDefault("audit.postgres.user", "postgres")
	v.SetDefault("audit.postgres.dbname", "attack_graph")
	v.SetDefault("audit.postgres.sslmode", "disable")
	v.SetDefault("audit.postgres.max_open_conns", 2)
	v.SetDefault("audit.postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("audit.redis.enabled", false)
	v.SetDefault("audit.redis.host", "localhost")
	v.SetDefault("audit.redis.port", 6379)
	v.SetDefault("audit.redis.key_prefix", "attackgraph:")
	v.SetDefault("audit.redis.ttl", 30*24*time.Hour)
}

// Load reads configuration from an optional file, environment variables and flags.
// An explicit configPath must exist; without one a missing config file is fine.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/attack-graph")
	}

	v.SetEnvPrefix("ATTACKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names are accepted alongside the prefixed ones
	v.BindEnv("stix.bundle_file", "ATTACKGRAPH_STIX_BUNDLE_FILE", "STIX_FILE")
	v.BindEnv("neo4j.uri", "ATTACKGRAPH_NEO4J_URI", "NEO4J_URI")
	v.BindEnv("neo4j.username", "ATTACKGRAPH_NEO4J_USERNAME", "NEO4J_USER")
	v.BindEnv("neo4j.password", "ATTACKGRAPH_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	v.BindEnv("audit.postgres.password", "ATTACKGRAPH_AUDIT_POSTGRES_PASSWORD")
	v.BindEnv("audit.redis.password", "ATTACKGRAPH_AUDIT_REDIS_PASSWORD")

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// flagKeys maps CLI flag names to config keys
var flagKeys = map[string]string{
	"bundle":     "stix.bundle_file",
	"batch-size": "ingest.batch_size",
	"log-level":  "logger.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks the settings the ingester cannot run without
func (c *Config) Validate() error {
	if c.STIX.BundleFile == "" {
		return errors.New("config: stix.bundle_file is required")
	}
	if c.Neo4j.URI == "" {
		return errors.New("config: neo4j.uri is required")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	return nil
}

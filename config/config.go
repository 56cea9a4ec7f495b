package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Storage StorageConfig `mapstructure:"storage"`
	LevelDB LevelDBConfig `mapstructure:"leveldb"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type GraphConfig struct {
	RootID        string `mapstructure:"root_id"`
	DefaultBranch string `mapstructure:"default_branch"`
	Sparsity      int    `mapstructure:"sparsity"`
	// RootStrand seeds a fresh graph.
	RootStrand string `mapstructure:"root_strand"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Compression bool   `mapstructure:"compression"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("graph.root_id", "_root")
	v.SetDefault("graph.default_branch", "main")
	v.SetDefault("graph.sparsity", 4)
	v.SetDefault("graph.root_strand", "ACGTACGTACGTACGT")
	v.SetDefault("storage.backend", BackendLevelDB)
	v.SetDefault("storage.compression", true)
	v.SetDefault("leveldb.path", "data/leveldb")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "popgraph:")
}

// Load reads the config file at path, if any. Every key can be overridden
// from the environment with the POPGRAPH_ prefix, e.g. POPGRAPH_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("POPGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendLevelDB, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Graph.RootID == c.Graph.DefaultBranch {
		return fmt.Errorf("graph root id and default branch are both %q", c.Graph.RootID)
	}
	if c.Graph.RootStrand == "" {
		return fmt.Errorf("graph root strand is empty")
	}
	return nil
}

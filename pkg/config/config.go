// Package config provides a reusable loader for node configuration files and
// environment variables. It is versioned so that applications can depend on a
// stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a node process. Field names track
// the dotted keys from spec.md §6 (aleph.jobs.*, storage.*, ipfs.*, chains,
// brokers) so operators can recognize the mapping at a glance.
type Config struct {
	Jobs struct {
		PendingMessages struct {
			MaxConcurrency int `mapstructure:"max_concurrency" json:"max_concurrency"`
			MaxRetries     int `mapstructure:"max_retries" json:"max_retries"`
		} `mapstructure:"pending_messages" json:"pending_messages"`
		PendingTxs struct {
			MaxConcurrency int `mapstructure:"max_concurrency" json:"max_concurrency"`
		} `mapstructure:"pending_txs" json:"pending_txs"`
	} `mapstructure:"jobs" json:"jobs"`

	Storage struct {
		Folder        string        `mapstructure:"folder" json:"folder"`
		GracePeriod   time.Duration `mapstructure:"grace_period" json:"grace_period"`
		StoreFiles    bool          `mapstructure:"store_files" json:"store_files"`
		CacheEntries  int           `mapstructure:"cache_entries" json:"cache_entries"`
		GatewayTimeout time.Duration `mapstructure:"gateway_timeout" json:"gateway_timeout"`
	} `mapstructure:"storage" json:"storage"`

	IPFS struct {
		Enabled        bool          `mapstructure:"enabled" json:"enabled"`
		Gateway        string        `mapstructure:"gateway" json:"gateway"`
		ReconnectDelay time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay"`
		SyncTopic      string        `mapstructure:"sync_topic" json:"sync_topic"`
		PinTimeout     time.Duration `mapstructure:"pin_timeout" json:"pin_timeout"`
	} `mapstructure:"ipfs" json:"ipfs"`

	Balances struct {
		Addresses []string `mapstructure:"addresses" json:"addresses"`
		PostType  string   `mapstructure:"post_type" json:"post_type"`
	} `mapstructure:"balances" json:"balances"`

	Chains map[string]ChainConfig `mapstructure:"chains" json:"chains"`

	RabbitMQ struct {
		Host     string `mapstructure:"host" json:"host"`
		Port     int    `mapstructure:"port" json:"port"`
		Username string `mapstructure:"username" json:"username"`
		Password string `mapstructure:"password" json:"password"`
	} `mapstructure:"rabbitmq" json:"rabbitmq"`

	P2P struct {
		MQHost string `mapstructure:"mq_host" json:"mq_host"`
	} `mapstructure:"p2p" json:"p2p"`

	Redis struct {
		Host string `mapstructure:"host" json:"host"`
		Port int    `mapstructure:"port" json:"port"`
	} `mapstructure:"redis" json:"redis"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	MetricsAddr string `mapstructure:"metrics_addr" json:"metrics_addr"`
}

// ChainConfig is the per-chain integration block (spec.md §6: `<chain>.enabled`
// etc.).
type ChainConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	PackingNode  bool   `mapstructure:"packing_node" json:"packing_node"`
	SyncContract string `mapstructure:"sync_contract" json:"sync_contract"`
	IndexerURL   string `mapstructure:"indexer_url" json:"indexer_url"`
	ChainID      string `mapstructure:"chain_id" json:"chain_id"`
	PrivateKey   string `mapstructure:"private_key" json:"private_key"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns a Config populated with the defaults this repo ships with,
// used by tests and by Load before overlaying files/env.
func Default() Config {
	var c Config
	c.Jobs.PendingMessages.MaxConcurrency = 32
	c.Jobs.PendingMessages.MaxRetries = 10
	c.Jobs.PendingTxs.MaxConcurrency = 200
	c.Storage.Folder = "./data/storage"
	c.Storage.GracePeriod = 24 * time.Hour
	c.Storage.StoreFiles = true
	c.Storage.CacheEntries = 10_000
	c.Storage.GatewayTimeout = 30 * time.Second
	c.IPFS.Enabled = true
	c.IPFS.Gateway = "http://127.0.0.1:5001"
	c.IPFS.ReconnectDelay = 5 * time.Second
	c.IPFS.SyncTopic = "ccnode-sync"
	c.IPFS.PinTimeout = 120 * time.Second
	c.Logging.Level = "info"
	c.MetricsAddr = ":9090"
	return c
}

// Load reads configuration files from the given path and merges any
// environment-specific overrides, then environment variables. The result is
// stored in AppConfig and returned.
func Load(configPath, env string) (*Config, error) {
	AppConfig = Default()

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("CCNODE")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CCNODE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(EnvOrDefault("CCNODE_CONFIG_PATH", "."), EnvOrDefault("CCNODE_ENV", ""))
}

// Package config loads service configuration via viper, per spec §6.6
// ("configuration is loaded at startup... data directory, WAL rotation
// thresholds, snapshot interval, which services are enabled"): a
// layered load of file + env + defaults rather than one flag.String
// call per setting.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WALConfig controls write-ahead log rotation (spec §4.2).
type WALConfig struct {
	RotateMaxBytes   int64         `mapstructure:"rotate_max_bytes"`
	RotateMaxAge     time.Duration `mapstructure:"rotate_max_age"`
	FlushBatchSize   int           `mapstructure:"flush_batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
}

// SnapshotConfig controls periodic snapshotting (spec §4.3).
type SnapshotConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	KeepLast  int           `mapstructure:"keep_last"`
}

// ServiceConfig toggles one of the three services named in spec §2.
type ServiceConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	NodeID     int64  `mapstructure:"node_id"`
}

// Config is the root configuration document, loaded from a file named
// config.yaml (or .json/.toml) plus APP_-prefixed environment
// overrides, plus built-in defaults.
type Config struct {
	DataBaseDir string `mapstructure:"data_base_dir"`

	WAL      WALConfig      `mapstructure:"wal"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`

	Balance    ServiceConfig `mapstructure:"balance"`
	Matching   ServiceConfig `mapstructure:"matching"`
	Settlement ServiceConfig `mapstructure:"settlement"`

	// SettlementDSN is the MySQL DSN settlementservice's gorm store
	// connects to (spec §4.6's external store).
	SettlementDSN string `mapstructure:"settlement_dsn"`

	// MatchingBaseURL and BalanceBaseURL are where downstream services
	// reach MatchingCore's and BalanceCore's replay servers (spec §6.4).
	MatchingBaseURL string `mapstructure:"matching_base_url"`
	BalanceBaseURL  string `mapstructure:"balance_base_url"`

	// NatsURL is the balance-event bus balanceservice publishes to.
	NatsURL string `mapstructure:"nats_url"`

	// Symbols lists the tradable symbols MatchingCore registers at
	// startup and BalanceCore/the gateway stub resolve asset ids and
	// decimal scales from (spec §6.6, gatewaystub.Registry).
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// SymbolConfig describes one tradable symbol the way the out-of-scope
// configuration store would (spec §7's gatewaystub.SymbolInfo),
// loaded here instead since this exercise has no separate config
// service.
type SymbolConfig struct {
	SymbolID   uint32 `mapstructure:"symbol_id"`
	BaseAsset  uint32 `mapstructure:"base_asset"`
	QuoteAsset uint32 `mapstructure:"quote_asset"`
	PriceScale int    `mapstructure:"price_scale"`
	QtyScale   int    `mapstructure:"qty_scale"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("data_base_dir", "./data")

	v.SetDefault("wal.rotate_max_bytes", int64(256<<20))
	v.SetDefault("wal.rotate_max_age", time.Hour)
	v.SetDefault("wal.flush_batch_size", 1000)
	v.SetDefault("wal.flush_interval", 10*time.Millisecond)

	v.SetDefault("snapshot.interval", 5*time.Minute)
	v.SetDefault("snapshot.keep_last", 3)

	v.SetDefault("balance.enabled", true)
	v.SetDefault("balance.listen_addr", ":8081")
	v.SetDefault("balance.node_id", 1)

	v.SetDefault("matching.enabled", true)
	v.SetDefault("matching.listen_addr", ":8082")
	v.SetDefault("matching.node_id", 2)

	v.SetDefault("settlement.enabled", true)
	v.SetDefault("settlement.listen_addr", ":8083")
	v.SetDefault("settlement.node_id", 3)

	v.SetDefault("settlement_dsn", "exchange:exchange@tcp(127.0.0.1:3306)/settlement?parseTime=true")
	v.SetDefault("matching_base_url", "http://127.0.0.1:8082")
	v.SetDefault("balance_base_url", "http://127.0.0.1:8081")
	v.SetDefault("nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("symbols", []map[string]interface{}{
		{"symbol_id": 1, "base_asset": 1, "quote_asset": 2, "price_scale": 2, "qty_scale": 8},
	})
}

// Load reads configuration from configPath (if non-empty) layered with
// APP_* environment variables and the defaults above. configPath may
// point at a specific file or a directory containing "config.*".
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("app")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if configPath != "" {
		if info, statErr := os.Stat(configPath); statErr == nil && info.IsDir() {
			v.AddConfigPath(configPath)
			v.SetConfigName("config")
		} else {
			v.SetConfigFile(configPath)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Package config loads relayer configuration from a YAML file overlaid with
// environment variables.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join("config", "relayer.yaml")

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logging.Config  `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Chain     ChainConfig     `yaml:"chain"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Watcher   WatcherConfig   `yaml:"watcher"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ReadRPS throttles read-only endpoints per client IP.
	ReadRPS   int `yaml:"read_rps"`
	ReadBurst int `yaml:"read_burst"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig controls the Postgres connection.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	AutoMigrate     bool   `yaml:"auto_migrate"`
}

// RedisConfig enables the shared IP counter when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ChainConfig describes the target chain and the relayer account.
type ChainConfig struct {
	RPCURL              string        `yaml:"rpc_url"`
	ChainID             int64         `yaml:"chain_id"`
	ContractAddress     string        `yaml:"contract_address"`
	RelayerPrivateKey   string        `yaml:"relayer_private_key"`
	MinBalanceWei       string        `yaml:"min_balance_wei"`
	GasLimit            uint64        `yaml:"gas_limit"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
	DomainName          string        `yaml:"domain_name"`
	DomainVersion       string        `yaml:"domain_version"`
}

// RateLimitConfig holds the per-actor and per-IP ceilings.
type RateLimitConfig struct {
	ActorLimit    int           `yaml:"actor_limit"`
	ActorWindow   time.Duration `yaml:"actor_window"`
	IPLimit       int           `yaml:"ip_limit"`
	IPWindow      time.Duration `yaml:"ip_window"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	FailOpen      bool          `yaml:"fail_open"`
}

// WatcherConfig controls the reconciliation watcher.
type WatcherConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ReadRPS:         20,
			ReadBurst:       40,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:  logging.Config{Level: "info", Format: "json", Output: "stdout"},
		Database: DatabaseConfig{Driver: "postgres", MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 300},
		Redis:    RedisConfig{KeyPrefix: "relayer:ip:"},
		Chain: ChainConfig{
			MinBalanceWei:       "10000000000000000", // 0.01 ether
			GasLimit:            500_000,
			ConfirmTimeout:      60 * time.Second,
			ConfirmPollInterval: 2 * time.Second,
			DomainName:          "GaslessExecutor",
			DomainVersion:       "1",
		},
		RateLimit: RateLimitConfig{
			ActorLimit:    10,
			ActorWindow:   24 * time.Hour,
			IPLimit:       100,
			IPWindow:      time.Hour,
			SweepSchedule: "@hourly",
		},
		Watcher: WatcherConfig{
			Enabled:   true,
			Schedule:  "@every 1m",
			BatchSize: 20,
		},
	}
}

// Load reads path (DefaultPath when empty), tolerating a missing file, and
// then applies environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = n
		}
		return nil
	}

	str("HTTP_HOST", &c.Server.Host)
	str("DATABASE_URL", &c.Database.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("RPC_URL", &c.Chain.RPCURL)
	str("CONTRACT_ADDRESS", &c.Chain.ContractAddress)
	str("RELAYER_PRIVATE_KEY", &c.Chain.RelayerPrivateKey)
	str("MIN_BALANCE_WEI", &c.Chain.MinBalanceWei)
	str("WATCHER_AUTH_TOKEN", &c.Watcher.AuthToken)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.Server.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}

	for key, dst := range map[string]*int{
		"HTTP_PORT":        &c.Server.Port,
		"ACTOR_RATE_LIMIT": &c.RateLimit.ActorLimit,
		"IP_RATE_LIMIT":    &c.RateLimit.IPLimit,
		"WATCHER_BATCH":    &c.Watcher.BatchSize,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("CHAIN_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAIN_ID %q: %w", v, err)
		}
		c.Chain.ChainID = id
	}
	if v, ok := lookup("AUTO_MIGRATE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid AUTO_MIGRATE %q: %w", v, err)
		}
		c.Database.AutoMigrate = b
	}
	if v, ok := lookup("RATE_LIMIT_FAIL_OPEN"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_FAIL_OPEN %q: %w", v, err)
		}
		c.RateLimit.FailOpen = b
	}
	return nil
}

// Validate reports every missing or malformed required value at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn (DATABASE_URL) is required")
	}
	if c.Chain.RPCURL == "" {
		problems = append(problems, "chain.rpc_url (RPC_URL) is required")
	}
	if c.Chain.ContractAddress == "" {
		problems = append(problems, "chain.contract_address (CONTRACT_ADDRESS) is required")
	} else if !common.IsHexAddress(c.Chain.ContractAddress) {
		problems = append(problems, "chain.contract_address is not a hex address")
	}
	if c.Chain.RelayerPrivateKey == "" {
		problems = append(problems, "chain.relayer_private_key (RELAYER_PRIVATE_KEY) is required")
	} else if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.Chain.RelayerPrivateKey, "0x")); err != nil {
		problems = append(problems, "chain.relayer_private_key is not a valid secp256k1 key")
	}
	if _, err := c.Chain.MinBalance(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Chain.GasLimit == 0 {
		problems = append(problems, "chain.gas_limit must be positive")
	}
	if c.Chain.ConfirmTimeout <= 0 {
		problems = append(problems, "chain.confirm_timeout must be positive")
	}
	if c.RateLimit.ActorLimit <= 0 || c.RateLimit.IPLimit <= 0 {
		problems = append(problems, "ratelimit ceilings must be positive")
	}
	if c.RateLimit.ActorWindow <= 0 || c.RateLimit.IPWindow <= 0 {
		problems = append(problems, "ratelimit windows must be positive")
	}
	if c.Watcher.BatchSize <= 0 {
		problems = append(problems, "watcher.batch_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Complete reports whether every value needed to submit transactions is set.
func (c ChainConfig) Complete() bool {
	return c.RPCURL != "" && c.ContractAddress != "" && c.RelayerPrivateKey != ""
}

// MinBalance parses the minimum operational balance.
func (c ChainConfig) MinBalance() (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.MinBalanceWei), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("chain.min_balance_wei %q is not a non-negative integer", c.MinBalanceWei)
	}
	return v, nil
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

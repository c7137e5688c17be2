package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"memledger/core"
	"memledger/protocol/params"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the resolved daemon and client configuration.
type Config struct {
	DataDir  string
	Storage  string // "bolt" or "sqlite"
	Keystore string

	Difficulty  int
	BlockReward core.Amount

	MiningThreads       int
	MiningMaxAttempts   uint64
	MiningTimeout       time.Duration
	MiningAutoInterval  time.Duration
	MiningRewardAddress string

	APIListen      string
	APITokenAuth   bool
	IdempotencyTTL time.Duration
	Metrics        bool

	LogLevel  string
	LogFormat string

	ClientAPI     string
	ClientTimeout time.Duration
}

const envPrefix = "MEMLEDGER"

// setConfigDefaults installs every key with its default so env and file
// values bind even when no flag names them.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("storage.backend", "bolt")
	v.SetDefault("keystore", "")

	v.SetDefault("chain.difficulty", params.DefaultDifficulty)
	v.SetDefault("chain.block_reward", core.Amount(params.BlockReward).String())

	v.SetDefault("mining.threads", runtime.NumCPU())
	v.SetDefault("mining.max_attempts", params.DefaultMaxSealAttempts)
	v.SetDefault("mining.timeout", "0s")
	v.SetDefault("mining.auto_interval", "0s")
	v.SetDefault("mining.reward_address", "")

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.token_auth", false)
	v.SetDefault("api.idempotency_ttl", "10m")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("client.api", "http://"+DefaultAPIListen)
	v.SetDefault("client.timeout", "5m")
}

// newViper returns a viper reading MEMLEDGER_* environment variables, with
// "." in keys mapped to "_".
func newViper() *viper.Viper {
	v := viper.New()
	setConfigDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfigFile merges an explicit config file into v.
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// LoadConfig resolves and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:             v.GetString("data_dir"),
		Storage:             strings.ToLower(v.GetString("storage.backend")),
		Keystore:            v.GetString("keystore"),
		Difficulty:          v.GetInt("chain.difficulty"),
		MiningThreads:       v.GetInt("mining.threads"),
		MiningMaxAttempts:   v.GetUint64("mining.max_attempts"),
		MiningTimeout:       v.GetDuration("mining.timeout"),
		MiningAutoInterval:  v.GetDuration("mining.auto_interval"),
		MiningRewardAddress: v.GetString("mining.reward_address"),
		APIListen:           v.GetString("api.listen"),
		APITokenAuth:        v.GetBool("api.token_auth"),
		IdempotencyTTL:      v.GetDuration("api.idempotency_ttl"),
		Metrics:             v.GetBool("metrics.enabled"),
		LogLevel:            strings.ToLower(v.GetString("log.level")),
		LogFormat:           strings.ToLower(v.GetString("log.format")),
		ClientAPI:           strings.TrimRight(v.GetString("client.api"), "/"),
		ClientTimeout:       v.GetDuration("client.timeout"),
	}

	reward, err := core.ParseAmount(v.GetString("chain.block_reward"))
	if err != nil {
		return nil, errors.WithMessage(err, "chain.block_reward")
	}
	cfg.BlockReward = reward

	if cfg.Keystore == "" {
		cfg.Keystore = filepath.Join(cfg.DataDir, DefaultKeystoreFilename)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	switch c.Storage {
	case "bolt", "sqlite":
	default:
		return errors.Errorf("storage.backend must be bolt or sqlite, got %q", c.Storage)
	}
	if c.Difficulty < 0 || c.Difficulty > params.MaxDifficulty {
		return errors.Errorf("chain.difficulty must be in [0, %d], got %d", params.MaxDifficulty, c.Difficulty)
	}
	if c.MiningThreads < 1 {
		return errors.Errorf("mining.threads must be at least 1, got %d", c.MiningThreads)
	}
	if c.MiningMaxAttempts == 0 {
		return errors.New("mining.max_attempts must be positive")
	}
	if c.MiningTimeout < 0 || c.MiningAutoInterval < 0 {
		return errors.New("mining durations must not be negative")
	}
	if c.MiningRewardAddress != "" {
		if err := core.ValidateAddress(c.MiningRewardAddress); err != nil {
			return errors.WithMessage(err, "mining.reward_address")
		}
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.LogFormat)
	}
	if c.ClientTimeout <= 0 {
		return errors.New("client.timeout must be positive")
	}
	return nil
}

// LedgerConfig translates the chain and mining keys.
func (c *Config) LedgerConfig() LedgerConfig {
	cfg := DefaultLedgerConfig()
	cfg.Difficulty = c.Difficulty
	cfg.BlockReward = c.BlockReward
	cfg.Miner.Threads = c.MiningThreads
	cfg.Miner.MaxAttempts = c.MiningMaxAttempts
	cfg.Miner.Timeout = c.MiningTimeout
	return cfg
}

// APIConfig translates the api keys.
func (c *Config) APIConfig() APIConfig {
	return APIConfig{
		Listen:         c.APIListen,
		DataDir:        c.DataDir,
		TokenAuth:      c.APITokenAuth,
		IdempotencyTTL: c.IdempotencyTTL,
		Metrics:        c.Metrics,
	}
}

// OpenStore opens the configured storage backend under DataDir.
func (c *Config) OpenStore() (Store, error) {
	switch c.Storage {
	case "sqlite":
		return NewSQLiteStorage(c.DataDir)
	default:
		return NewBoltStorage(c.DataDir)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}

// setupLogging installs the default slog handler.
func setupLogging(c *Config) {
	level, _ := parseLogLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func (c *Config) String() string {
	return fmt.Sprintf("data_dir=%s storage=%s difficulty=%d threads=%d api=%s",
		c.DataDir, c.Storage, c.Difficulty, c.MiningThreads, c.APIListen)
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"memledger/core"
	"memledger/protocol/params"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(newViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, "bolt", cfg.Storage)
	assert.Equal(t, filepath.Join(DefaultDataDir, DefaultKeystoreFilename), cfg.Keystore)
	assert.Equal(t, params.DefaultDifficulty, cfg.Difficulty)
	assert.Equal(t, core.Amount(params.BlockReward), cfg.BlockReward)
	assert.Equal(t, params.DefaultMaxSealAttempts, cfg.MiningMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, "http://"+DefaultAPIListen, cfg.ClientAPI)
	assert.True(t, cfg.Metrics)
	assert.False(t, cfg.APITokenAuth)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("MEMLEDGER_DATA_DIR", "/tmp/ledger")
	t.Setenv("MEMLEDGER_STORAGE_BACKEND", "SQLite")
	t.Setenv("MEMLEDGER_CHAIN_DIFFICULTY", "2")
	t.Setenv("MEMLEDGER_CHAIN_BLOCK_REWARD", "12.5")
	t.Setenv("MEMLEDGER_MINING_AUTO_INTERVAL", "30s")
	t.Setenv("MEMLEDGER_API_TOKEN_AUTH", "true")

	cfg, err := LoadConfig(newViper())
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ledger", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Storage)
	assert.Equal(t, 2, cfg.Difficulty)
	assert.Equal(t, core.Amount(1_250_000_000), cfg.BlockReward)
	assert.Equal(t, 30*time.Second, cfg.MiningAutoInterval)
	assert.True(t, cfg.APITokenAuth)

	ledgerCfg := cfg.LedgerConfig()
	assert.Equal(t, 2, ledgerCfg.Difficulty)
	assert.Equal(t, cfg.BlockReward, ledgerCfg.BlockReward)
	assert.True(t, cfg.APIConfig().TokenAuth)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memledger.yaml")
	data := []byte("data_dir: ./from-file\nchain:\n  difficulty: 3\napi:\n  listen: 127.0.0.1:7000\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	v := newViper()
	require.NoError(t, readConfigFile(v, path))
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "./from-file", cfg.DataDir)
	assert.Equal(t, 3, cfg.Difficulty)
	assert.Equal(t, "127.0.0.1:7000", cfg.APIListen)

	err = readConfigFile(newViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"storage.backend", "postgres", "storage.backend"},
		{"chain.difficulty", "65", "chain.difficulty"},
		{"chain.block_reward", "1.123456789", "chain.block_reward"},
		{"mining.threads", "0", "mining.threads"},
		{"mining.reward_address", "not-an-address", "mining.reward_address"},
		{"log.level", "loud", "log.level"},
		{"log.format", "xml", "log.format"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			v := newViper()
			v.Set(tc.key, tc.value)
			_, err := LoadConfig(v)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestConfigOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := &Config{DataDir: t.TempDir(), Storage: backend}
			store, err := cfg.OpenStore()
			require.NoError(t, err)
			defer store.Close()

			_, found, err := store.GetHead()
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{DefaultRPCURL}, cfg.RPCURLs)
	assert.Empty(t, cfg.WSURL)
	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, "devnet", cfg.Cluster)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 4, cfg.BalanceConcurrency)
	assert.True(t, cfg.StopOnWorkerExit)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SOLANA_RPC_URL", "https://a.example.com, https://b.example.com,")
	os.Setenv("SOLANA_WS_URL", "wss://stream.example.com")
	os.Setenv("SOLANA_COMMITMENT", "finalized")
	os.Setenv("SOLANA_CLUSTER", "mainnet-beta")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("METRICS_ADDR", ":9090")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("FETCH_TIMEOUT", "5s")
	os.Setenv("SHUTDOWN_GRACE", "0s")
	os.Setenv("BALANCE_CONCURRENCY", "8")
	os.Setenv("STOP_ON_WORKER_EXIT", "false")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCURLs)
	assert.Equal(t, "wss://stream.example.com", cfg.WSURL)
	assert.Equal(t, "finalized", cfg.Commitment)
	assert.Equal(t, "mainnet-beta", cfg.Cluster)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, time.Duration(0), cfg.ShutdownGrace)
	assert.Equal(t, 8, cfg.BalanceConcurrency)
	assert.False(t, cfg.StopOnWorkerExit)
}

func TestLoad_InvalidValuesAccumulate(t *testing.T) {
	os.Setenv("FETCH_TIMEOUT", "soon")
	os.Setenv("BALANCE_CONCURRENCY", "many")
	os.Setenv("STOP_ON_WORKER_EXIT", "maybe")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "invalid integer")
	assert.Contains(t, err.Error(), "invalid boolean")
}

func TestLoad_InvalidCommitment(t *testing.T) {
	os.Setenv("SOLANA_COMMITMENT", "max")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_COMMITMENT must be one of")
}

func TestLoad_InvalidRPCURL(t *testing.T) {
	os.Setenv("SOLANA_RPC_URL", "ftp://api.example.com")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestValidate(t *testing.T) {
	valid := Config{
		RPCURLs:            []string{DefaultRPCURL},
		Commitment:         "confirmed",
		Cluster:            "devnet",
		FetchTimeout:       time.Second,
		BalanceConcurrency: 1,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "no rpc urls",
			mutate:  func(c *Config) { c.RPCURLs = nil },
			wantErr: "SOLANA_RPC_URL is required",
		},
		{
			name:    "http websocket url",
			mutate:  func(c *Config) { c.WSURL = "http://example.com" },
			wantErr: "SOLANA_WS_URL must be",
		},
		{
			name:    "empty cluster",
			mutate:  func(c *Config) { c.Cluster = "" },
			wantErr: "SOLANA_CLUSTER is required",
		},
		{
			name:    "zero fetch timeout",
			mutate:  func(c *Config) { c.FetchTimeout = 0 },
			wantErr: "FETCH_TIMEOUT must be positive",
		},
		{
			name:    "negative grace",
			mutate:  func(c *Config) { c.ShutdownGrace = -time.Second },
			wantErr: "SHUTDOWN_GRACE cannot be negative",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.BalanceConcurrency = 0 },
			wantErr: "BALANCE_CONCURRENCY must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://api.devnet.solana.com", want: "wss://api.devnet.solana.com"},
		{in: "http://localhost:8899", want: "ws://localhost:8899"},
		{in: "https://rpc.example.com/v1?api-key=abc", want: "wss://rpc.example.com/v1?api-key=abc"},
		{in: "wss://already.example.com", wantErr: true},
		{in: "https://", wantErr: true},
		{in: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DeriveWSURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	cfg := &Config{}
	got, err := cfg.WebsocketURL("https://api.devnet.solana.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.devnet.solana.com", got)

	cfg.WSURL = "wss://override.example.com"
	got, err = cfg.WebsocketURL("https://api.devnet.solana.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://override.example.com", got)
}

func TestLoadDotEnv(t *testing.T) {
	defer cleanupEnv()
	cleanupEnv()

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLANA_CLUSTER=testnet\nLOG_LEVEL=warn\n"), 0o600))

	// Variables already set win over the file.
	os.Setenv("LOG_LEVEL", "error")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "testnet", os.Getenv("SOLANA_CLUSTER"))
	assert.Equal(t, "error", os.Getenv("LOG_LEVEL"))

	// Missing files are not an error.
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func cleanupEnv() {
	os.Unsetenv("SOLANA_RPC_URL")
	os.Unsetenv("SOLANA_WS_URL")
	os.Unsetenv("SOLANA_COMMITMENT")
	os.Unsetenv("SOLANA_CLUSTER")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("METRICS_ADDR")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("FETCH_TIMEOUT")
	os.Unsetenv("SHUTDOWN_GRACE")
	os.Unsetenv("BALANCE_CONCURRENCY")
	os.Unsetenv("STOP_ON_WORKER_EXIT")
}

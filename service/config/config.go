package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Everything has a usable default so a bare `walletwatch monitor` works against devnet.
type Config struct {
	// Solana configuration
	RPCURLs    []string
	WSURL      string
	Commitment string
	Cluster    string

	// Observability
	LogLevel    string
	MetricsAddr string

	// Event sink; empty disables publishing
	NATSURL string

	// Session tuning
	FetchTimeout       time.Duration
	ShutdownGrace      time.Duration
	BalanceConcurrency int
	StopOnWorkerExit   bool
}

// DefaultRPCURL is the public devnet endpoint used when SOLANA_RPC_URL is unset.
const DefaultRPCURL = "https://api.devnet.solana.com"

// Commitments lists the accepted SOLANA_COMMITMENT values.
var Commitments = []string{"processed", "confirmed", "finalized"}

// LoadDotEnv loads variables from the given files into the environment without
// overriding variables that are already set. With no paths it reads ".env".
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
// All problems are reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Solana configuration
	cfg.RPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URL", DefaultRPCURL))
	cfg.WSURL = os.Getenv("SOLANA_WS_URL")
	cfg.Commitment = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")
	cfg.Cluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")

	// Observability
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.NATSURL = os.Getenv("NATS_URL")

	// Session tuning
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchTimeout = fetchTimeout
	}

	grace, err := parseDuration("SHUTDOWN_GRACE", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ShutdownGrace = grace
	}

	concurrency, err := parseInt("BALANCE_CONCURRENCY", 4)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalanceConcurrency = concurrency
	}

	stop, err := parseBool("STOP_ON_WORKER_EXIT", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StopOnWorkerExit = stop
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
// The CLI calls it again after applying flag overrides.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	for _, u := range c.RPCURLs {
		if _, err := DeriveWSURL(u); err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_URL: %w", err))
		}
	}

	if c.WSURL != "" {
		parsed, err := url.Parse(c.WSURL)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("SOLANA_WS_URL must be a ws:// or wss:// URL, got %q", c.WSURL))
		}
	}

	if !validCommitment(c.Commitment) {
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be one of %s, got %q",
			strings.Join(Commitments, ", "), c.Commitment))
	}

	if c.Cluster == "" {
		errs = append(errs, fmt.Errorf("SOLANA_CLUSTER is required"))
	}

	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive"))
	}

	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_GRACE cannot be negative"))
	}

	if c.BalanceConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BALANCE_CONCURRENCY must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// WebsocketURL returns the websocket endpoint paired with rpcURL: SOLANA_WS_URL
// when set, otherwise one derived from rpcURL.
func (c *Config) WebsocketURL(rpcURL string) (string, error) {
	if c.WSURL != "" {
		return c.WSURL, nil
	}
	return DeriveWSURL(rpcURL)
}

// DeriveWSURL maps an http(s) RPC URL onto the matching ws(s) URL.
func DeriveWSURL(rpcURL string) (string, error) {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rpcURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme in %q (want http or https)", rpcURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", rpcURL)
	}
	return parsed.String(), nil
}

func validCommitment(c string) bool {
	for _, v := range Commitments {
		if c == v {
			return true
		}
	}
	return false
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

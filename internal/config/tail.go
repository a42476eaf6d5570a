package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
)

// TailConfig holds configuration for the watchtail client.
type TailConfig struct {
	RelayURL      string
	Transport     string
	Debounce      time.Duration
	RetryDelay    time.Duration
	BufferSize    int
	Subscriptions string
	RecordDir     string
	MaxFileSizeMB int
	NotifyURL     string
	LogLevel      string
	LogFile       string
}

// LoadTail reads watchtail configuration from environment variables and an
// optional .env file.
func LoadTail() (*TailConfig, error) {
	loadDotEnv()
	cfg := &TailConfig{
		RelayURL:      getEnvOrDefault("WATCHTAIL_RELAY_URL", "http://127.0.0.1:8190"),
		Transport:     strings.ToLower(getEnvOrDefault("WATCHTAIL_TRANSPORT", TransportHTTP)),
		Debounce:      getEnvMillisOrDefault("WATCHTAIL_DEBOUNCE_MS", 500, 0),
		RetryDelay:    getEnvMillisOrDefault("WATCHTAIL_RETRY_DELAY_MS", 1000, 100),
		BufferSize:    getEnvIntOrDefault("WATCHTAIL_BUFFER_SIZE", 256),
		Subscriptions: getEnvOrDefault("WATCHTAIL_SUBSCRIPTIONS", "./config/watchtail.yaml"),
		RecordDir:     getEnvOrDefault("WATCHTAIL_RECORD_DIR", ""),
		MaxFileSizeMB: getEnvIntOrDefault("WATCHTAIL_MAX_FILE_SIZE_MB", 100),
		NotifyURL:     getEnvOrDefault("WATCHTAIL_NOTIFY_URL", ""),
		LogLevel:      strings.ToLower(getEnvOrDefault("WATCHTAIL_LOG_LEVEL", "info")),
		LogFile:       getEnvOrDefault("WATCHTAIL_LOG_FILE", "logs/watchtail.log"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that may also be changed by command-line flags.
func (c *TailConfig) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return fmt.Errorf("watchtail config: transport %q must be %q or %q", c.Transport, TransportHTTP, TransportWebSocket)
	}
	if !strings.HasPrefix(c.RelayURL, "http://") && !strings.HasPrefix(c.RelayURL, "https://") {
		return fmt.Errorf("watchtail config: relay url %q must be an http or https URL", c.RelayURL)
	}
	return nil
}

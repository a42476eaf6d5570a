package config

import (
	"strings"
	"time"
)

// RelayConfig holds configuration for the watchrelay server.
type RelayConfig struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	Kubeconfig       string
	KubeContext      string
	FlushInterval    time.Duration
	PolicyFile       string
	LogLevel         string
	LogFile          string
	ShutdownTimeout  time.Duration
}

// LoadRelay reads relay configuration from environment variables and an
// optional .env file.
func LoadRelay() (*RelayConfig, error) {
	loadDotEnv()
	cfg := &RelayConfig{
		BindAddr:         getEnvOrDefault("RELAY_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("RELAY_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback: getEnvBoolOrDefault("RELAY_PORT_AUTO_FALLBACK", true),
		Kubeconfig:       getEnvOrDefault("KUBECONFIG", ""),
		KubeContext:      getEnvOrDefault("RELAY_KUBE_CONTEXT", ""),
		FlushInterval:    getEnvMillisOrDefault("RELAY_FLUSH_INTERVAL_MS", 50, 5),
		PolicyFile:       getEnvOrDefault("RELAY_POLICY_FILE", ""),
		LogLevel:         strings.ToLower(getEnvOrDefault("RELAY_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("RELAY_LOG_FILE", "logs/watchrelay.log"),
		ShutdownTimeout:  getEnvMillisOrDefault("RELAY_SHUTDOWN_TIMEOUT_MS", 10000, 0),
	}
	return cfg, nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Reconciliation == "" {
		cfg.Reconciliation = DefaultReconciliation
	}
	if cfg.TrackerSize == 0 {
		cfg.TrackerSize = DefaultTrackerSize
	}

	b := &cfg.Broker
	if b.URL == "" {
		b.URL = DefaultBrokerURL
	}
	if b.Host == "" {
		if u, err := url.Parse(b.URL); err == nil {
			b.Host = u.Hostname()
		}
	}
	if b.HandshakeTimeout == 0 {
		b.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if b.ReconnectInterval == 0 {
		b.ReconnectInterval = DefaultReconnectInterval
	}
	if b.MessageTimeout == 0 {
		b.MessageTimeout = DefaultMessageTimeout
	}
	// PingInterval and HeartBeat: negative disables
	if b.PingInterval == 0 {
		b.PingInterval = DefaultPingInterval
	}
	if b.HeartBeat == 0 {
		b.HeartBeat = DefaultHeartBeat
	}
	if b.DispatchQueueSize == 0 {
		b.DispatchQueueSize = DefaultDispatchQueueSize
	}

	if cb := cfg.CircuitBreaker; cb != nil {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = DefaultFailureThreshold
		}
		if cb.RecoveryTimeout == 0 {
			cb.RecoveryTimeout = DefaultRecoveryTimeout
		}
		if cb.HalfOpenMaxRequests == 0 {
			cb.HalfOpenMaxRequests = DefaultHalfOpenRequests
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	api, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		return fmt.Errorf("apiBaseUrl must be an absolute http(s) URL")
	}

	broker, err := url.Parse(cfg.Broker.URL)
	if err != nil || (broker.Scheme != "ws" && broker.Scheme != "wss") || broker.Host == "" {
		return fmt.Errorf("broker.url must be an absolute ws(s) URL")
	}

	switch cfg.Reconciliation {
	case ReconcileArrival, ReconcileSequenced, ReconcileVersioned:
	default:
		return fmt.Errorf("reconciliation must be one of: arrival, sequenced, versioned")
	}

	if cfg.FetchTimeout < 0 {
		return errors.New("fetchTimeout must be non-negative")
	}
	if cfg.TrackerSize < 0 {
		return errors.New("trackerSize must be non-negative")
	}
	if cfg.Broker.HandshakeTimeout < 0 || cfg.Broker.ReconnectInterval < 0 || cfg.Broker.MessageTimeout < 0 {
		return errors.New("broker timeouts must be non-negative")
	}
	if cfg.Broker.DispatchQueueSize < 0 {
		return errors.New("broker.dispatchQueueSize must be non-negative")
	}

	if cb := cfg.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.FailureThreshold < 0 || cb.RecoveryTimeout < 0 || cb.HalfOpenMaxRequests < 0 {
			return errors.New("circuitBreaker values must be non-negative")
		}
	}

	return nil
}

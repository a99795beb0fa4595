package config

import "time"

// Reconciliation modes
const (
	ReconcileArrival   = "arrival"
	ReconcileSequenced = "sequenced"
	ReconcileVersioned = "versioned"
)

// Config represents the main configuration structure
type Config struct {
	LogLevel       string         `json:"logLevel" yaml:"logLevel"`
	APIBaseURL     string         `json:"apiBaseUrl" yaml:"apiBaseUrl"`
	FetchTimeout   int            `json:"fetchTimeout" yaml:"fetchTimeout"` // ms - per entity fetch
	Broker         BrokerConfig   `json:"broker" yaml:"broker"`
	Reconciliation string         `json:"reconciliation" yaml:"reconciliation"`
	TrackerSize    int            `json:"trackerSize" yaml:"trackerSize"` // ids remembered per binding by the reconcile policy
	CircuitBreaker *BreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
}

// BrokerConfig configures the STOMP-over-WebSocket connection
type BrokerConfig struct {
	URL               string            `json:"url" yaml:"url"`
	Host              string            `json:"host" yaml:"host"` // STOMP virtual host, defaults to the URL host
	Login             string            `json:"login" yaml:"login"`
	Passcode          string            `json:"passcode" yaml:"passcode"`
	ConnectHeaders    map[string]string `json:"connectHeaders" yaml:"connectHeaders"`
	HandshakeTimeout  int               `json:"handshakeTimeout" yaml:"handshakeTimeout"`   // ms
	ReconnectInterval int               `json:"reconnectInterval" yaml:"reconnectInterval"` // ms
	MessageTimeout    int               `json:"messageTimeout" yaml:"messageTimeout"`       // ms - read deadline
	PingInterval      int               `json:"pingInterval" yaml:"pingInterval"`           // ms - negative disables
	HeartBeat         int               `json:"heartBeat" yaml:"heartBeat"`                 // ms - STOMP heart-beat offered to the server, negative disables
	DispatchQueueSize int               `json:"dispatchQueueSize" yaml:"dispatchQueueSize"`
}

// BreakerConfig configures the circuit breaker in front of the REST API
type BreakerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	FailureThreshold    int  `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout" yaml:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests" yaml:"halfOpenMaxRequests"`
}

// Default values
const (
	DefaultLogLevel          = "info"
	DefaultAPIBaseURL        = "http://localhost:8080"
	DefaultBrokerURL         = "ws://localhost:8080/ws"
	DefaultFetchTimeout      = 10000 // ms
	DefaultHandshakeTimeout  = 10000 // ms
	DefaultReconnectInterval = 5000  // ms
	DefaultMessageTimeout    = 60000 // ms
	DefaultPingInterval      = 20000 // ms
	DefaultHeartBeat         = 10000 // ms
	DefaultDispatchQueueSize = 1024
	DefaultReconciliation    = ReconcileSequenced
	DefaultTrackerSize       = 4096
	DefaultFailureThreshold  = 5
	DefaultRecoveryTimeout   = 30000 // ms
	DefaultHalfOpenRequests  = 2
)

// GetFetchTimeoutDuration returns fetch timeout as time.Duration
func (c *Config) GetFetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Millisecond
}

// IsBreakerEnabled returns true if the circuit breaker is configured and enabled
func (c *Config) IsBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetHandshakeTimeoutDuration returns handshake timeout as time.Duration
func (b *BrokerConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(b.HandshakeTimeout) * time.Millisecond
}

// GetReconnectIntervalDuration returns reconnect interval as time.Duration
func (b *BrokerConfig) GetReconnectIntervalDuration() time.Duration {
	return time.Duration(b.ReconnectInterval) * time.Millisecond
}

// GetMessageTimeoutDuration returns the read deadline as time.Duration
func (b *BrokerConfig) GetMessageTimeoutDuration() time.Duration {
	return time.Duration(b.MessageTimeout) * time.Millisecond
}

// GetPingIntervalDuration returns ping interval as time.Duration
func (b *BrokerConfig) GetPingIntervalDuration() time.Duration {
	if b.PingInterval < 0 {
		return 0
	}
	return time.Duration(b.PingInterval) * time.Millisecond
}

// GetHeartBeatDuration returns the STOMP heart-beat as time.Duration
func (b *BrokerConfig) GetHeartBeatDuration() time.Duration {
	if b.HeartBeat < 0 {
		return 0
	}
	return time.Duration(b.HeartBeat) * time.Millisecond
}

// GetRecoveryTimeoutDuration returns recovery timeout as time.Duration
func (b *BreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(b.RecoveryTimeout) * time.Millisecond
}

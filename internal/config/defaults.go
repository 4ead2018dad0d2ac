package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr                 = ":8080"
	DefaultWSPath               = "/ws"
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultConnectTimeout       = 60 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultProviderBufferSize   = 1000
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 300 * time.Second
	DefaultReconnectMaxAttempts = 5
	DefaultEventBufferSize      = 1024
	DefaultBreakerThreshold     = 5
	DefaultBreakerResetTimeout  = 30 * time.Second
	DefaultSendRateCapacity     = 20
	DefaultSendRatePerSecond    = 10
	DefaultPresenceSweep        = 2 * time.Minute
	DefaultPresenceStaleAfter   = 5 * time.Minute
	DefaultSendBufferSize       = 256
	DefaultRealtimeSweep        = 5 * time.Minute
	DefaultRealtimeWriteWait    = 10 * time.Second
	DefaultRealtimePingInterval = 30 * time.Second
	DefaultHistoryBatchSize     = 500
	DefaultHistoryFlushInterval = 1 * time.Second
	DefaultAuthIssuer           = "wpp-agent"
	DefaultAuthAudience         = "realtime"
)

func (c *AgentConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Provider defaults
	if c.Provider.ConnectTimeout == 0 {
		c.Provider.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Provider.PingTimeout == 0 {
		c.Provider.PingTimeout = DefaultPingTimeout
	}
	if c.Provider.WriteTimeout == 0 {
		c.Provider.WriteTimeout = DefaultWriteTimeout
	}
	if c.Provider.BufferSize == 0 {
		c.Provider.BufferSize = DefaultProviderBufferSize
	}

	// Orchestrator defaults
	if c.Orchestrator.ReconnectBaseDelay == 0 {
		c.Orchestrator.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Orchestrator.ReconnectMaxDelay == 0 {
		c.Orchestrator.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Orchestrator.ReconnectMaxAttempts == 0 {
		c.Orchestrator.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Orchestrator.EventBufferSize == 0 {
		c.Orchestrator.EventBufferSize = DefaultEventBufferSize
	}
	if c.Orchestrator.BreakerThreshold == 0 {
		c.Orchestrator.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Orchestrator.BreakerResetTimeout == 0 {
		c.Orchestrator.BreakerResetTimeout = DefaultBreakerResetTimeout
	}
	if c.Orchestrator.SendRateCapacity == 0 {
		c.Orchestrator.SendRateCapacity = DefaultSendRateCapacity
	}
	if c.Orchestrator.SendRatePerSecond == 0 {
		c.Orchestrator.SendRatePerSecond = DefaultSendRatePerSecond
	}

	// Presence defaults
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultPresenceSweep
	}
	if c.Presence.StaleAfter == 0 {
		c.Presence.StaleAfter = DefaultPresenceStaleAfter
	}

	// Realtime defaults
	if c.Realtime.SendBufferSize == 0 {
		c.Realtime.SendBufferSize = DefaultSendBufferSize
	}
	if c.Realtime.SweepInterval == 0 {
		c.Realtime.SweepInterval = DefaultRealtimeSweep
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultRealtimeWriteWait
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultRealtimePingInterval
	}

	// Auth defaults
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultAuthIssuer
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = DefaultAuthAudience
	}

	// History defaults
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultHistoryBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultHistoryFlushInterval
	}
}

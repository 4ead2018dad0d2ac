package config

import "time"

// AgentConfig is the root configuration for an agent instance.
type AgentConfig struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Server       ServerConfig       `yaml:"server"`
	Database     DBConfig           `yaml:"database"`
	Provider     ProviderConfig     `yaml:"provider"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Presence     PresenceConfig     `yaml:"presence"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Auth         AuthConfig         `yaml:"auth"`
	History      HistoryConfig      `yaml:"history"`
}

// InstanceConfig identifies this agent.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WSPath          string        `yaml:"ws_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ProviderConfig holds provider gateway connection settings.
type ProviderConfig struct {
	GatewayURL     string        `yaml:"gateway_url"`
	APIKey         string        `yaml:"api_key"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// OrchestratorConfig holds session lifecycle settings.
type OrchestratorConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	EventBufferSize      int           `yaml:"event_buffer_size"`
	BreakerThreshold     int           `yaml:"breaker_threshold"`
	BreakerResetTimeout  time.Duration `yaml:"breaker_reset_timeout"`
	SendRateCapacity     int           `yaml:"send_rate_capacity"`
	SendRatePerSecond    int           `yaml:"send_rate_per_second"`
}

// PresenceConfig holds presence tracker settings.
type PresenceConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

// RealtimeConfig holds fan-out hub settings.
type RealtimeConfig struct {
	SendBufferSize int           `yaml:"send_buffer_size"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// HistoryConfig holds message history writer settings.
type HistoryConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

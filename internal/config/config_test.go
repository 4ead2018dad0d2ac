package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-agent
provider:
  gateway_url: wss://gateway.example.com/v1
database:
  host: localhost
  port: 5432
  name: test_db
  user: testuser
  password: testpass
auth:
  secret: hm-test-secret
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-agent" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-agent")
	}
	if cfg.Provider.GatewayURL != "wss://gateway.example.com/v1" {
		t.Errorf("Provider.GatewayURL = %q, want %q", cfg.Provider.GatewayURL, "wss://gateway.example.com/v1")
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-agent
database:
  host: localhost
  name: test_db
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-agent
provider:
  gateway_url: wss://gateway.example.com/v1
database:
  host: localhost
  name: test_db
  user: testuser
  password: testpass
auth:
  secret: hm-test-secret
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want default %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Orchestrator.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Orchestrator.ReconnectBaseDelay = %v, want default %v", cfg.Orchestrator.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Orchestrator.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Orchestrator.ReconnectMaxDelay = %v, want default %v", cfg.Orchestrator.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Presence.SweepInterval != DefaultPresenceSweep {
		t.Errorf("Presence.SweepInterval = %v, want default %v", cfg.Presence.SweepInterval, DefaultPresenceSweep)
	}
	if cfg.Realtime.SweepInterval != DefaultRealtimeSweep {
		t.Errorf("Realtime.SweepInterval = %v, want default %v", cfg.Realtime.SweepInterval, DefaultRealtimeSweep)
	}
}

func TestValidate(t *testing.T) {
	validDB := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}

	tests := []struct {
		name    string
		cfg     AgentConfig
		wantErr string
	}{
		{
			name:    "missing instance id",
			cfg:     AgentConfig{},
			wantErr: "instance.id is required",
		},
		{
			name: "missing database host",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
			},
			wantErr: "database.host is required",
		},
		{
			name: "missing database password",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: DBConfig{Host: "localhost", Name: "db", User: "user"},
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10},
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "missing gateway url",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: validDB,
			},
			wantErr: "provider.gateway_url is required",
		},
		{
			name: "base delay exceeds max delay",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: validDB,
				Provider: ProviderConfig{GatewayURL: "wss://gw"},
				Orchestrator: OrchestratorConfig{
					ReconnectBaseDelay:   10 * time.Minute,
					ReconnectMaxDelay:    5 * time.Second,
					ReconnectMaxAttempts: 5,
					SendRateCapacity:     1,
					SendRatePerSecond:    1,
				},
			},
			wantErr: "orchestrator.reconnect_base_delay (10m0s) cannot exceed reconnect_max_delay (5s)",
		},
		{
			name: "missing auth secret",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: validDB,
				Provider: ProviderConfig{GatewayURL: "wss://gw"},
				Orchestrator: OrchestratorConfig{
					ReconnectBaseDelay:   5 * time.Second,
					ReconnectMaxDelay:    300 * time.Second,
					ReconnectMaxAttempts: 5,
					SendRateCapacity:     20,
					SendRatePerSecond:    10,
				},
				History: HistoryConfig{BatchSize: 500},
			},
			wantErr: "auth.secret is required",
		},
		{
			name: "valid config",
			cfg: AgentConfig{
				Instance: InstanceConfig{ID: "test"},
				Database: validDB,
				Provider: ProviderConfig{GatewayURL: "wss://gw"},
				Orchestrator: OrchestratorConfig{
					ReconnectBaseDelay:   5 * time.Second,
					ReconnectMaxDelay:    300 * time.Second,
					ReconnectMaxAttempts: 5,
					SendRateCapacity:     20,
					SendRatePerSecond:    10,
				},
				Auth:    AuthConfig{Secret: "hm-test-secret"},
				History: HistoryConfig{BatchSize: 500},
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

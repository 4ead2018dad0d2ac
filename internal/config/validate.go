package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *AgentConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Provider.GatewayURL == "" {
		return errors.New("provider.gateway_url is required")
	}

	if c.Orchestrator.ReconnectMaxAttempts < 1 {
		return errors.New("orchestrator.reconnect_max_attempts must be >= 1")
	}
	if c.Orchestrator.ReconnectBaseDelay > c.Orchestrator.ReconnectMaxDelay {
		return fmt.Errorf("orchestrator.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Orchestrator.ReconnectBaseDelay, c.Orchestrator.ReconnectMaxDelay)
	}
	if c.Orchestrator.SendRateCapacity < 1 {
		return errors.New("orchestrator.send_rate_capacity must be >= 1")
	}
	if c.Orchestrator.SendRatePerSecond < 1 {
		return errors.New("orchestrator.send_rate_per_second must be >= 1")
	}

	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}

	if c.History.BatchSize < 1 {
		return errors.New("history.batch_size must be >= 1")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// client/config.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aerowind/dronesync/log"
	"github.com/aerowind/dronesync/util"
)

const (
	DefaultURL                  = "ws://localhost:8765"
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 10 * time.Second
)

type Config struct {
	// URL is the websocket endpoint of the simulation backend.
	URL string
	// AutoConnect causes NewSimClient to connect immediately.
	AutoConnect bool
	// ReconnectInterval is the delay before each retry after an abnormal
	// close.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds the number of consecutive retries
	// scheduled after abnormal closes. It is reset by a successful
	// connection and by the health supervisor.
	MaxReconnectAttempts int
	// HealthCheckInterval is the period of the health supervisor. Zero
	// means ReconnectInterval; a negative value disables the supervisor.
	HealthCheckInterval time.Duration
	// DialTimeout bounds each connection attempt. Zero means
	// DefaultDialTimeout.
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:                  DefaultURL,
		AutoConnect:          true,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
	}
}

// Validate checks the configuration and logs each problem found. The
// returned error wraps ErrInvalidConfig.
func (c Config) Validate(lg *log.Logger) error {
	var e util.ErrorLogger

	e.Push("URL")
	if u, err := url.Parse(c.URL); err != nil {
		e.Error(err)
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		e.ErrorString("%q: scheme must be \"ws\" or \"wss\"", c.URL)
	} else if u.Host == "" {
		e.ErrorString("%q: no host specified", c.URL)
	}
	e.Pop()

	if c.ReconnectInterval <= 0 {
		e.ErrorString("ReconnectInterval %s: must be positive", c.ReconnectInterval)
	}
	if c.MaxReconnectAttempts < 0 {
		e.ErrorString("MaxReconnectAttempts %d: must not be negative", c.MaxReconnectAttempts)
	}
	if c.DialTimeout < 0 {
		e.ErrorString("DialTimeout %s: must not be negative", c.DialTimeout)
	}

	if e.HaveErrors() {
		e.PrintErrors(lg)
		return fmt.Errorf("%w: %w", ErrInvalidConfig, e.Err())
	}
	return nil
}

func (c Config) healthCheckInterval() time.Duration {
	if c.HealthCheckInterval == 0 {
		return c.ReconnectInterval
	}
	return c.HealthCheckInterval
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout == 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/togglectl/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// Config defines per-phase I/O timeouts for one device connection.
type Config struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	RecvTimeout    time.Duration
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		SendTimeout:    5 * time.Second,
		RecvTimeout:    10 * time.Second,
		Limits:         frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = d.RecvTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%w: send timeout must be positive", ErrInvalidConfig)
	}
	if c.RecvTimeout <= 0 {
		return fmt.Errorf("%w: recv timeout must be positive", ErrInvalidConfig)
	}
	if c.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: max payload bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

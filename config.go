// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package silica

import (
	"fmt"
	"time"
)

// Version is reported in the startup banner and the session log.
const Version = "1.1"

// Config contains the tunables shared by Link, CardState and Card.
type Config struct {
	// StorageRetry configures retries while the block store is busy
	StorageRetry *RetryConfig
	// BlockMax is the number of 16-byte data blocks
	BlockMax int
	// MinPreambleLength is the shortest run of idle raw bytes accepted as
	// a preamble
	MinPreambleLength int
	// SettleFillers is the number of blank transfers sent before each
	// modulation toggle
	SettleFillers int
	// PollingDelay is the hold-off before answering a Polling command
	PollingDelay time.Duration
	// PersistLastError also writes the last rejected packet to the store
	PersistLastError bool
}

// DefaultConfig returns the configuration of the reference card.
func DefaultConfig() *Config {
	return &Config{
		StorageRetry:      DefaultRetryConfig(),
		BlockMax:          12,
		MinPreambleLength: 4,
		SettleFillers:     2,
		PollingDelay:      1500 * time.Microsecond,
		PersistLastError:  false,
	}
}

// Validate checks the configuration for values the card cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BlockMax < 1 || c.BlockMax > MaxBlocks:
		return fmt.Errorf("%w: BlockMax %d not in [1, %d]", ErrInvalidConfig, c.BlockMax, MaxBlocks)
	case c.MinPreambleLength < 1:
		return fmt.Errorf("%w: MinPreambleLength %d", ErrInvalidConfig, c.MinPreambleLength)
	case c.SettleFillers < 0:
		return fmt.Errorf("%w: SettleFillers %d", ErrInvalidConfig, c.SettleFillers)
	case c.PollingDelay < 0:
		return fmt.Errorf("%w: PollingDelay %v", ErrInvalidConfig, c.PollingDelay)
	}
	return nil
}

// Option configures a Config
type Option func(*Config) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(c *Config) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		*c = *cfg
		return nil
	}
}

// WithBlockMax sets the number of data blocks.
func WithBlockMax(n int) Option {
	return func(c *Config) error {
		c.BlockMax = n
		return nil
	}
}

// WithMinPreambleLength sets the shortest accepted preamble run.
func WithMinPreambleLength(n int) Option {
	return func(c *Config) error {
		c.MinPreambleLength = n
		return nil
	}
}

// WithSettleFillers sets the number of blank transfers around modulation
// toggles.
func WithSettleFillers(n int) Option {
	return func(c *Config) error {
		c.SettleFillers = n
		return nil
	}
}

// WithPollingDelay sets the Polling response hold-off.
func WithPollingDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.PollingDelay = d
		return nil
	}
}

// WithStorageRetry sets the retry policy for busy stores.
func WithStorageRetry(rc *RetryConfig) Option {
	return func(c *Config) error {
		c.StorageRetry = rc
		return nil
	}
}

// WithPersistLastError enables writing rejected packets to the store.
func WithPersistLastError(enabled bool) Option {
	return func(c *Config) error {
		c.PersistLastError = enabled
		return nil
	}
}

func applyOptions(opts []Option) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

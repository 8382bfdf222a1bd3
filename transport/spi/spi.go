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

// Package spi connects the card to an SPI controller used as the
// oversampling shift register, with a GPIO pin gating load modulation.
//
// The SPI clock runs at the chip rate (carrier / 32 for 212 kbps), so every
// transferred byte holds eight line samples. MISO carries the envelope
// detector output; MOSI drives the modulation transistor through the gate.
package spi

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	silica "github.com/ZaparooProject/go-silica"
)

const (
	// ChipRate is the 212 kbps Manchester chip rate: 13.56 MHz / 32.
	ChipRate = 423750 * physic.Hertz

	mode = spi.Mode0
)

// Config selects the SPI port and modulation pin.
type Config struct {
	// Port is a spireg name, "" for the first available port
	Port string
	// ModulationPin is a gpioreg name such as "GPIO17"
	ModulationPin string
	// Frequency is the SPI clock
	Frequency physic.Frequency
	// LSBFirst reverses every byte for controllers wired LSB first
	LSBFirst bool
	// ActiveLow drives the pin low to modulate
	ActiveLow bool
}

// DefaultConfig returns the configuration for a Raspberry Pi front end.
func DefaultConfig() *Config {
	return &Config{
		Port:          "",
		ModulationPin: "GPIO25",
		Frequency:     ChipRate,
	}
}

// Sampler is a silica.BitSampler over an SPI connection.
type Sampler struct {
	port     spi.PortCloser // Nil when the connection was supplied by the caller
	conn     spi.Conn
	portName string
	w, r     [1]byte
	lsbFirst bool
}

// NewSampler wraps an open SPI connection.
func NewSampler(conn spi.Conn, lsbFirst bool) *Sampler {
	return &Sampler{conn: conn, portName: conn.String(), lsbFirst: lsbFirst}
}

// Transfer shifts out one byte and returns the byte shifted in.
func (s *Sampler) Transfer(out byte) (byte, error) {
	if s.lsbFirst {
		out = reverseBit(out)
	}
	s.w[0] = out
	if err := s.conn.Tx(s.w[:], s.r[:]); err != nil {
		return 0, fmt.Errorf("SPI transfer on %s failed: %w", s.portName, err)
	}
	in := s.r[0]
	if s.lsbFirst {
		in = reverseBit(in)
	}
	return in, nil
}

// Close releases the SPI port when the sampler opened it.
func (s *Sampler) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// Modulator is a silica.Modulator driving a GPIO output.
type Modulator struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewModulator drives pin and switches modulation off.
func NewModulator(pin gpio.PinOut, activeLow bool) (*Modulator, error) {
	m := &Modulator{pin: pin, activeLow: activeLow}
	if err := m.Enable(false); err != nil {
		return nil, err
	}
	return m, nil
}

// Enable switches the modulation gate.
func (m *Modulator) Enable(on bool) error {
	level := gpio.Level(on != m.activeLow)
	if err := m.pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive %s: %w", m.pin.Name(), err)
	}
	return nil
}

// Open initializes the host and opens the sampler and modulator.
func Open(cfg *Config) (*Sampler, *Modulator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	pin := gpioreg.ByName(cfg.ModulationPin)
	if pin == nil {
		return nil, nil, fmt.Errorf("%w: no GPIO pin %q", silica.ErrInvalidConfig, cfg.ModulationPin)
	}
	mod, err := NewModulator(pin, cfg.ActiveLow)
	if err != nil {
		return nil, nil, err
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SPI port %s: %w", cfg.Port, err)
	}
	conn, err := port.Connect(cfg.Frequency, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	s := NewSampler(conn, cfg.LSBFirst)
	s.port = port
	return s, mod, nil
}

// reverseBit reverses the bits in a byte (LSB <-> MSB)
func reverseBit(b byte) byte {
	var result byte
	for range 8 {
		result <<= 1
		result |= b & 1
		b >>= 1
	}
	return result
}

var (
	_ silica.BitSampler = (*Sampler)(nil)
	_ silica.Modulator  = (*Modulator)(nil)
)

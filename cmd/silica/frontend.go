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

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/provision"
	"github.com/ZaparooProject/go-silica/store/eeprom"
	"github.com/ZaparooProject/go-silica/store/file"
	"github.com/ZaparooProject/go-silica/store/memory"
	"github.com/ZaparooProject/go-silica/transport/spi"
	"github.com/ZaparooProject/go-silica/transport/uart"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// defaultSnapshot identifies a freshly created image until it is
// provisioned. Service class 0 lets the configuration service reach the
// data blocks too.
var defaultSnapshot = silica.Snapshot{
	IDm:        [silica.IDmLength]byte{0x02, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
	PMm:        provision.DefaultPMm,
	SystemCode: [silica.SystemCodeLength]byte{0x88, 0xB4},
}

// openStore opens the card image store selected by cfg.
func openStore(cfg *config) (silica.BlockStore, io.Closer, error) {
	switch strings.ToLower(cfg.store) {
	case "memory":
		return memory.New(silica.NewImage(cfg.blockMax, defaultSnapshot)), nopCloser{}, nil

	case "file":
		s, err := file.OpenOrCreate(cfg.image, silica.NewImage(cfg.blockMax, defaultSnapshot), cfg.blockMax)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open card image %s: %w", cfg.image, err)
		}
		if s.BlockMax() < cfg.blockMax {
			return nil, nil, fmt.Errorf("%w: %s holds %d blocks, %d requested",
				silica.ErrInvalidConfig, cfg.image, s.BlockMax(), cfg.blockMax)
		}
		return s, nopCloser{}, nil

	case "eeprom":
		chip, err := eeprom.ChipByName(cfg.chip)
		if err != nil {
			return nil, nil, err
		}
		s, err := eeprom.Open(cfg.i2cBus, chip, uint16(cfg.eepromAddr))
		if err != nil {
			return nil, nil, err
		}
		if !s.Fits(cfg.blockMax) {
			_ = s.Close()
			return nil, nil, fmt.Errorf("%w: %s cannot hold %d blocks", silica.ErrInvalidConfig, chip.Name, cfg.blockMax)
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unsupported store: %s", cfg.store)
}

// frontEnd is the sampler, modulator and diagnostic sink the card runs on.
type frontEnd struct {
	sampler   silica.BitSampler
	modulator silica.Modulator
	sink      silica.DiagnosticSink
	closers   []io.Closer
}

func (f *frontEnd) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

func openFrontEnd(cfg *config) (*frontEnd, error) {
	fe := &frontEnd{}

	switch cfg.transport {
	case "spi":
		sampler, mod, err := spi.Open(&spi.Config{
			Port:          cfg.spiPort,
			ModulationPin: cfg.modulationPin,
			Frequency:     spi.ChipRate,
			LSBFirst:      cfg.lsbFirst,
			ActiveLow:     cfg.activeLow,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open SPI front end: %w", err)
		}
		fe.sampler, fe.modulator = sampler, mod
		fe.closers = append(fe.closers, sampler)
	case "uart":
		port := cfg.uartPort
		if port == "auto" {
			found, err := uart.FindBridge([]string{cfg.console})
			if err != nil {
				return nil, fmt.Errorf("failed to find serial bridge: %w", err)
			}
			slog.Info("Found serial bridge", "port", found)
			port = found
		}
		bridge, err := uart.Open(port, cfg.baud, cfg.activeLow)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial bridge: %w", err)
		}
		fe.sampler, fe.modulator = bridge, bridge
		fe.closers = append(fe.closers, bridge)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.transport)
	}

	if cfg.console == "" {
		fe.sink = silica.NewSlogSink(slog.Default())
		return fe, nil
	}
	console, err := uart.OpenSink(cfg.console, uart.ConsoleBaudRate)
	if err != nil {
		_ = fe.Close()
		return nil, fmt.Errorf("failed to open console: %w", err)
	}
	fe.sink = console
	fe.closers = append(fe.closers, console)
	return fe, nil
}

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

// Command silica serves a FeliCa card image through a bit-sampling front
// end: an SPI port and a GPIO pin, or a USB-serial bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/provision"
	"github.com/ZaparooProject/go-silica/transport/spi"
	"github.com/ZaparooProject/go-silica/transport/uart"
)

// writesFlag collects repeated -set command=hex arguments.
type writesFlag []provision.Write

func (w *writesFlag) String() string {
	if w == nil {
		return ""
	}
	parts := make([]string, 0, len(*w))
	for _, wr := range *w {
		parts = append(parts, wr.String())
	}
	return strings.Join(parts, ", ")
}

func (w *writesFlag) Set(v string) error {
	cmd, param, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected command=hex, got %q", v)
	}
	wr, err := provision.ParseCommand(cmd, param)
	if err != nil {
		return err
	}
	*w = append(*w, wr)
	return nil
}

type config struct {
	transport        string
	spiPort          string
	modulationPin    string
	uartPort         string
	console          string
	store            string
	image            string
	i2cBus           string
	chip             string
	logDir           string
	writes           writesFlag
	storageTimeout   time.Duration
	baud             int
	blockMax         int
	eepromAddr       uint
	selftestRounds   int
	lsbFirst         bool
	activeLow        bool
	persistLastError bool
	selftest         bool
	noMlock          bool
	debug            bool
}

// Package-level flag variables
var flags config

func init() {
	flag.StringVar(&flags.transport, "transport", "spi", "Front end: spi or uart")
	flag.StringVar(&flags.spiPort, "spi", "", "SPI port (first available if empty)")
	flag.StringVar(&flags.modulationPin, "pin", spi.DefaultConfig().ModulationPin, "GPIO pin driving load modulation")
	flag.BoolVar(&flags.lsbFirst, "lsb-first", false, "Reverse bit order of the SPI front end")
	flag.BoolVar(&flags.activeLow, "active-low", false, "Modulate by driving the pin (or RTS) low")
	flag.StringVar(&flags.uartPort, "uart", "", "Serial port of the USB bridge, or auto")
	flag.IntVar(&flags.baud, "baud", uart.DefaultBaudRate, "Baud rate of the USB bridge")
	flag.StringVar(&flags.console, "console", "", "Serial port for card diagnostics (log to stderr if empty)")
	flag.StringVar(&flags.store, "store", "file", "Card image store: file, eeprom or memory")
	flag.StringVar(&flags.image, "image", "silica.cbor", "Card image file for the file store")
	flag.StringVar(&flags.i2cBus, "i2c", "", "I2C bus of the EEPROM (first available if empty)")
	flag.StringVar(&flags.chip, "chip", "24C64", "EEPROM type")
	flag.UintVar(&flags.eepromAddr, "eeprom-addr", 0x50, "EEPROM device address")
	flag.IntVar(&flags.blockMax, "blocks", silica.DefaultConfig().BlockMax, "Number of data blocks")
	flag.DurationVar(&flags.storageTimeout, "storage-timeout", 0,
		"Give up on a busy store after this long and drop the command (0 waits until idle)")
	flag.BoolVar(&flags.persistLastError, "persist-last-error", false, "Keep the last rejected command across restarts")
	flag.Var(&flags.writes, "set", "Provision the image before serving, e.g. -set idm=0123456789ABCDEF (repeatable)")
	flag.BoolVar(&flags.selftest, "selftest", false, "Exercise the card against a simulated reader and exit")
	flag.IntVar(&flags.selftestRounds, "selftest-rounds", 3, "Write/read/verify rounds per self-test size")
	flag.BoolVar(&flags.noMlock, "no-mlock", false, "Do not lock process memory")
	flag.StringVar(&flags.logDir, "log-dir", "", "Write a session log into this directory")
	flag.BoolVar(&flags.debug, "debug", false, "Enable debug output")
}

func parseConfig() (*config, error) {
	cfg := flags
	switch cfg.transport {
	case "spi", "uart":
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.transport)
	}
	if cfg.transport == "uart" && cfg.uartPort == "" && !cfg.selftest {
		return nil, errors.New("-uart is required with -transport uart (use -uart auto to search)")
	}
	if cfg.storageTimeout < 0 {
		return nil, fmt.Errorf("negative storage timeout: %v", cfg.storageTimeout)
	}
	if cfg.eepromAddr > 0x7F {
		return nil, fmt.Errorf("EEPROM address %#x is not a 7-bit address", cfg.eepromAddr)
	}

	if cfg.debug {
		silica.SetDebugEnabled(true)
	}
	return &cfg, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	start := time.Now()
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				elapsed := time.Since(start)
				mins := int(elapsed.Minutes())
				secs := elapsed.Seconds() - float64(mins*60)
				a.Value = slog.StringValue(fmt.Sprintf("%02d:%05.2f", mins, secs))
			}
			return a
		},
	}))
}

// loadState opens the store and applies the -set writes.
func loadState(ctx context.Context, cfg *config) (*silica.CardState, io.Closer, error) {
	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	retry := silica.DefaultRetryConfig()
	if cfg.storageTimeout > 0 {
		retry = silica.BoundedRetryConfig(cfg.storageTimeout)
	}
	state, err := silica.LoadCardState(ctx, store,
		silica.WithBlockMax(cfg.blockMax),
		silica.WithStorageRetry(retry),
		silica.WithPersistLastError(cfg.persistLastError))
	if err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("failed to load card image: %w", err)
	}

	for _, w := range cfg.writes {
		if err := w.ApplyTo(ctx, state); err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		slog.Info("provisioned", "write", w.String())
	}
	return state, closer, nil
}

func run(ctx context.Context, cfg *config) error {
	state, storeCloser, err := loadState(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := storeCloser.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}()

	snap := state.Snapshot()
	slog.Info("card loaded",
		"idm", fmt.Sprintf("%X", snap.IDm),
		"pmm", fmt.Sprintf("%X", snap.PMm),
		"system", fmt.Sprintf("%X", snap.SystemCode),
		"service", fmt.Sprintf("%04X", silica.ReadWriteCode(snap.ServiceClass)))

	if cfg.selftest {
		return runSelfTest(ctx, state, cfg.selftestRounds, os.Stdout, ".")
	}

	if !cfg.noMlock {
		if err := lockMemory(); err != nil {
			slog.Warn("memory not locked, timing may suffer", "err", err)
		}
	}

	fe, err := openFrontEnd(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fe.Close(); err != nil {
			slog.Error("failed to close front end", "err", err)
		}
	}()

	link, err := silica.NewLink(fe.sampler, fe.modulator, fe.sink,
		silica.WithConfig(state.Config()))
	if err != nil {
		return err
	}
	card := silica.NewCard(link, silica.NewProcessor(state, fe.sink), fe.sink)

	slog.Info("serving", "transport", cfg.transport)
	if err := card.Serve(ctx); err != nil {
		return fmt.Errorf("card stopped: %w", err)
	}
	return nil
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.debug))

	if cfg.logDir != "" {
		path, err := silica.InitSessionLog(cfg.logDir)
		if err != nil {
			slog.Error("failed to open session log", "err", err)
			return 1
		}
		slog.Info("session log", "path", path)
		defer func() { _ = silica.CloseSessionLog() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Fprint(os.Stderr, "\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		slog.Error("silica failed", "err", err)
		return 1
	}
	return 0
}

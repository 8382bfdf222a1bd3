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

// Command silica-write configures a SiliCa card through a PC/SC reader.
//
//	silica-write idm 0123456789ABCDEF
//	silica-write 3 00112233445566778899AABBCCDDEEFF
//	silica-write dump
//	silica-write -interactive
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/provision"
	"github.com/ZaparooProject/go-silica/provision/pcsc"
)

const usage = `Usage: silica-write [flags] <command> <parameter in hex>
       silica-write [flags] dump
       silica-write [flags] -interactive

Commands:
  <num>       Write raw 16-byte data to the specified block number
  idm[_pmm]   Set IDm (and optionally PMm) of the SiliCa
  ser[vice]   Set service code of the SiliCa
  sys[tem]    Set system code of the SiliCa
  dump        Show identity, codes and the last rejected command

Example:
  silica-write idm 0123456789ABCDEF

Flags:
`

type config struct {
	reader      string
	systemCode  [silica.SystemCodeLength]byte
	args        []string
	interactive bool
	debug       bool
}

// Package-level flag variables
var (
	flagReader      string
	flagSystemCode  string
	flagInteractive bool
	flagDebug       bool
)

func init() {
	flag.StringVar(&flagReader, "reader", "", "PC/SC reader name to use (first reader if empty)")
	flag.StringVar(&flagSystemCode, "system", "FFFF", "System code to poll for")
	flag.BoolVar(&flagInteractive, "interactive", false, "Exchange raw commands typed on stdin")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.Usage = func() {
		_, _ = fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
}

func parseConfig(args []string) (*config, error) {
	cfg := &config{
		reader:      flagReader,
		args:        args,
		interactive: flagInteractive,
		debug:       flagDebug,
	}

	sys, err := hex.DecodeString(flagSystemCode)
	if err != nil || len(sys) != silica.SystemCodeLength {
		return nil, fmt.Errorf("system code must be 4 hex digits, got %q", flagSystemCode)
	}
	cfg.systemCode = [silica.SystemCodeLength]byte(sys)

	switch {
	case cfg.interactive:
	case len(args) == 1 && strings.EqualFold(args[0], "dump"):
	case len(args) == 2:
	default:
		return nil, errors.New("expected a command and a parameter")
	}

	if cfg.debug {
		silica.SetDebugEnabled(true)
	}
	return cfg, nil
}

// run performs the configured action through tx.
func run(ctx context.Context, cfg *config, tx provision.Transmitter, in io.Reader, out io.Writer) error {
	client := provision.NewClient(tx)

	if cfg.interactive {
		return provision.NewSession(client, out, os.Stderr).Run(ctx, in, cfg.systemCode)
	}

	// Validate before touching the card.
	var w provision.Write
	dump := len(cfg.args) == 1
	if !dump {
		var err error
		if w, err = provision.ParseCommand(cfg.args[0], cfg.args[1]); err != nil {
			return err
		}
	}

	target, err := client.Poll(cfg.systemCode, silica.RequestNone)
	if err != nil {
		return fmt.Errorf("no FeliCa found: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Tag found: IDm=%X PMm=%X\n", target.IDm, target.PMm)

	if dump {
		return runDump(client, out)
	}

	if err := client.Apply(w); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "Write completed")
	return nil
}

func runDump(client *provision.Client, out io.Writer) error {
	data, err := client.ReadBlocks(silica.SystemServiceCode,
		silica.BlockIdentity, silica.BlockService, silica.BlockSystemCode,
		silica.BlockLastError, silica.BlockLastError+1)
	if err != nil {
		return fmt.Errorf("unable to read configuration blocks, the tag might not be a SiliCa: %w", err)
	}

	block := func(i int) []byte { return data[i*silica.BlockSize : (i+1)*silica.BlockSize] }
	last := append(append([]byte(nil), block(3)...), block(4)...)

	_, _ = fmt.Fprintf(out, "IDm:          %s\n", silica.Packet(block(0)[:silica.IDmLength]))
	_, _ = fmt.Fprintf(out, "PMm:          %s\n", silica.Packet(block(0)[silica.IDmLength:]))
	_, _ = fmt.Fprintf(out, "Service code: %02X%02X\n", block(1)[1], block(1)[0])
	_, _ = fmt.Fprintf(out, "System code:  %s\n", silica.Packet(block(2)[:silica.SystemCodeLength]))
	if last[0] == 0 {
		_, _ = fmt.Fprintln(out, "Last error:   none")
	} else {
		n := min(int(last[0]), len(last))
		_, _ = fmt.Fprintf(out, "Last error:   %s\n", silica.Packet(last[:n]))
	}
	return nil
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig(flag.Args())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, _ = fmt.Println("Waiting for a FeliCa...")
	reader, err := pcsc.Connect(ctx, cfg.reader)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}
	defer func() {
		if err := reader.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close reader: %v\n", err)
		}
	}()
	silica.Debugf("using reader %s", reader.Name())

	if err := run(ctx, cfg, reader, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

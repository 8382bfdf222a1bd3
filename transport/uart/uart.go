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

// Package uart connects the card through a USB-serial bridge and writes
// diagnostics to a serial console.
//
// The bridge is a small microcontroller that clocks the shift register for
// the host: every byte written to it is shifted out and answered with the
// byte shifted in. RTS gates load modulation.
package uart

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

// DefaultBaudRate suits bridges running full-speed USB CDC.
const DefaultBaudRate = 2000000

// ConsoleBaudRate is the usual rate of a serial monitor.
const ConsoleBaudRate = 115200

// ErrBridgeTimeout is returned when the bridge does not answer a transfer.
var ErrBridgeTimeout = errors.New("serial bridge did not answer")

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readTimeout returns the per-transfer timeout. Windows CDC drivers batch
// replies and need longer.
func readTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

func openPort(portName string, baud int) (serial.Port, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	return port, nil
}

// Bridge is a silica.BitSampler and silica.Modulator over a serial bridge.
type Bridge struct {
	port      serial.Port
	portName  string
	w, r      [1]byte
	activeLow bool
}

// Open opens the bridge at portName and switches modulation off.
func Open(portName string, baud int, activeLow bool) (*Bridge, error) {
	port, err := openPort(portName, baud)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	b := NewBridge(port, portName, activeLow)
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("UART reset failed: %w", err)
	}
	if err := b.Enable(false); err != nil {
		_ = port.Close()
		return nil, err
	}
	return b, nil
}

// NewBridge wraps an open port. With activeLow, RTS is deasserted to
// modulate.
func NewBridge(port serial.Port, portName string, activeLow bool) *Bridge {
	return &Bridge{port: port, portName: portName, activeLow: activeLow}
}

// Transfer sends out and waits for the sampled byte.
func (b *Bridge) Transfer(out byte) (byte, error) {
	b.w[0] = out
	if n, err := b.port.Write(b.w[:]); err != nil {
		return 0, fmt.Errorf("UART write failed: %w", err)
	} else if n != 1 {
		return 0, fmt.Errorf("UART short write on %s", b.portName)
	}

	const maxRetries = 3
	for attempt := range maxRetries {
		n, err := b.port.Read(b.r[:])
		switch {
		case err != nil && isInterruptedSystemCall(err) && attempt < maxRetries-1:
			continue
		case err != nil:
			return 0, fmt.Errorf("UART read failed: %w", err)
		case n == 0:
			return 0, fmt.Errorf("%w: %s", ErrBridgeTimeout, b.portName)
		}
		return b.r[0], nil
	}
	return 0, fmt.Errorf("UART read failed after %d retries", maxRetries)
}

// Enable switches modulation through RTS.
func (b *Bridge) Enable(on bool) error {
	if err := b.port.SetRTS(on != b.activeLow); err != nil {
		return fmt.Errorf("UART set RTS failed: %w", err)
	}
	return nil
}

// Close closes the port.
func (b *Bridge) Close() error {
	if b.port != nil {
		if err := b.port.Close(); err != nil {
			return fmt.Errorf("UART close failed: %w", err)
		}
		b.port = nil
	}
	return nil
}

// SerialSink is a silica.DiagnosticSink writing lines terminated by CRLF,
// the way a serial monitor expects them. Write errors are kept, not
// returned; see Err.
type SerialSink struct {
	w      io.Writer
	closer io.Closer
	err    error
	mu     syncutil.Mutex
}

// NewSerialSink writes diagnostics to w.
func NewSerialSink(w io.Writer) *SerialSink {
	return &SerialSink{w: w}
}

// OpenSink opens a serial console at portName.
func OpenSink(portName string, baud int) (*SerialSink, error) {
	port, err := openPort(portName, baud)
	if err != nil {
		return nil, err
	}
	s := NewSerialSink(port)
	s.closer = port
	return s, nil
}

func (s *SerialSink) write(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, msg); err != nil && s.err == nil {
		s.err = fmt.Errorf("serial console write failed: %w", err)
	}
}

// Print writes msg without a line ending.
func (s *SerialSink) Print(msg string) {
	s.write(msg)
}

// Println writes msg and CRLF.
func (s *SerialSink) Println(msg string) {
	s.write(msg + "\r\n")
}

// Err returns the first write error.
func (s *SerialSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the console port when the sink opened it.
func (s *SerialSink) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

var (
	_ silica.BitSampler     = (*Bridge)(nil)
	_ silica.Modulator      = (*Bridge)(nil)
	_ silica.DiagnosticSink = (*SerialSink)(nil)
)

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

// Package eeprom stores the card image in a 24Cxx serial EEPROM on an I2C
// bus, the host-side counterpart of the microcontroller's internal EEPROM.
//
// Updates are split at page boundaries and pages whose contents already
// match are skipped. While the chip completes a write cycle it does not
// acknowledge its address; that surfaces as silica.ErrStorageBusy, and the
// caller's retry loop doubles as acknowledge polling.
package eeprom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

const (
	// DefaultAddr is the 7-bit address of a 24Cxx with A0..A2 tied low.
	DefaultAddr = 0x50

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// Chips with one address byte select 256-byte banks through the low
	// bits of the device address.
	bankSize = 256
)

// Chip describes the geometry of an EEPROM part.
type Chip struct {
	Name      string
	Size      int // Bytes
	PageSize  int // Bytes per page write
	AddrBytes int // Memory address bytes: 1 up to the 24C16, 2 from the 24C32
}

// Common parts
var (
	Chip24C02 = Chip{Name: "24C02", Size: 256, PageSize: 8, AddrBytes: 1}
	Chip24C04 = Chip{Name: "24C04", Size: 512, PageSize: 16, AddrBytes: 1}
	Chip24C08 = Chip{Name: "24C08", Size: 1024, PageSize: 16, AddrBytes: 1}
	Chip24C16 = Chip{Name: "24C16", Size: 2048, PageSize: 16, AddrBytes: 1}
	Chip24C32 = Chip{Name: "24C32", Size: 4096, PageSize: 32, AddrBytes: 2}
	Chip24C64 = Chip{Name: "24C64", Size: 8192, PageSize: 32, AddrBytes: 2}
)

var chips = []Chip{Chip24C02, Chip24C04, Chip24C08, Chip24C16, Chip24C32, Chip24C64}

// ChipByName looks up a part by name, case-insensitively.
func ChipByName(name string) (Chip, error) {
	for _, c := range chips {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Chip{}, fmt.Errorf("%w: unknown EEPROM part %q", silica.ErrInvalidConfig, name)
}

func (c Chip) validate() error {
	switch {
	case c.AddrBytes != 1 && c.AddrBytes != 2:
		return fmt.Errorf("%w: %d address bytes", silica.ErrInvalidConfig, c.AddrBytes)
	case c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("%w: page size %d", silica.ErrInvalidConfig, c.PageSize)
	case c.Size < c.PageSize || c.Size%c.PageSize != 0:
		return fmt.Errorf("%w: size %d", silica.ErrInvalidConfig, c.Size)
	case c.AddrBytes == 1 && c.Size > 8*bankSize:
		return fmt.Errorf("%w: %d bytes need two address bytes", silica.ErrInvalidConfig, c.Size)
	}
	return nil
}

// Store is a silica.BlockStore on a 24Cxx EEPROM. It is safe for concurrent
// use.
type Store struct {
	bus     i2c.Bus
	closer  i2c.BusCloser // Held so Close() can release the OS file descriptor
	busName string
	chip    Chip
	buf     []byte
	cur     []byte
	addr    uint16
	mu      syncutil.Mutex
}

// parseI2CPath extracts the bus path from a composite path.
// Accepts "/dev/i2c-1:0x50" or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// Open initializes the host, opens busName and returns a store for the chip
// at addr.
func Open(busName string, chip Chip, addr uint16) (*Store, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(parseI2CPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	_ = bus.SetSpeed(maxClockFreq) // Ignore error, continue with default speed

	s, err := New(bus, chip, addr)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	s.closer = bus
	s.busName = busName
	return s, nil
}

// New creates a store for the chip at addr on an already open bus.
func New(bus i2c.Bus, chip Chip, addr uint16) (*Store, error) {
	if err := chip.validate(); err != nil {
		return nil, err
	}
	return &Store{
		bus:     bus,
		busName: bus.String(),
		chip:    chip,
		addr:    addr,
		buf:     make([]byte, 0, chip.AddrBytes+chip.PageSize),
		cur:     make([]byte, chip.PageSize),
	}, nil
}

// Close releases the bus when the store opened it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
		s.closer = nil
	}
	return nil
}

// Chip returns the part the store was opened for.
func (s *Store) Chip() Chip {
	return s.chip
}

// Fits reports whether an image of blockMax data blocks fits the chip.
func (s *Store) Fits(blockMax int) bool {
	return silica.ImageSize(blockMax) <= s.chip.Size
}

func (s *Store) check(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > s.chip.Size {
		return fmt.Errorf("%w: %d+%d on %s", silica.ErrAddressInvalid, addr, n, s.chip.Name)
	}
	return nil
}

// target returns the device address and memory address bytes for mem.
func (s *Store) target(mem int) (uint16, []byte) {
	s.buf = s.buf[:0]
	if s.chip.AddrBytes == 2 {
		return s.addr, append(s.buf, byte(mem>>8), byte(mem))
	}
	return s.addr | uint16(mem/bankSize)&0x07, append(s.buf, byte(mem))
}

// busy reports a transaction the chip did not acknowledge.
func (s *Store) busy(op string, addr int, err error) error {
	return fmt.Errorf("%w: %s 0x%03X on %s: %w", silica.ErrStorageBusy, op, addr, s.busName, err)
}

// ReadBlock copies len(p) bytes at addr into p.
func (s *Store) ReadBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	return s.read(addr, p)
}

func (s *Store) read(addr int, p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if s.chip.AddrBytes == 1 {
			n = min(n, bankSize-addr%bankSize)
		}
		dev, prefix := s.target(addr)
		if err := s.bus.Tx(dev, prefix, p[:n]); err != nil {
			return s.busy("read", addr, err)
		}
		addr += n
		p = p[n:]
	}
	return nil
}

// UpdateBlock writes p at addr, one page write per page whose contents
// differ.
func (s *Store) UpdateBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(addr, len(p)); err != nil {
		return err
	}

	for len(p) > 0 {
		n := min(len(p), s.chip.PageSize-addr%s.chip.PageSize)
		cur := s.cur[:n]
		if err := s.read(addr, cur); err != nil {
			return err
		}
		if !bytes.Equal(cur, p[:n]) {
			dev, prefix := s.target(addr)
			if err := s.bus.Tx(dev, append(prefix, p[:n]...), nil); err != nil {
				return s.busy("write", addr, err)
			}
			silica.Debugf("eeprom: page write 0x%03X+%d", addr, n)
		}
		addr += n
		p = p[n:]
	}
	return nil
}

// ReadWord reads a little-endian word at addr.
func (s *Store) ReadWord(addr int) (uint16, error) {
	var b [2]byte
	if err := s.ReadBlock(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// UpdateWord writes v little-endian at addr.
func (s *Store) UpdateWord(addr int, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return s.UpdateBlock(addr, b[:])
}

var _ silica.BlockStore = (*Store)(nil)

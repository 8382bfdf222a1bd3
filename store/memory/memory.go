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

// Package memory provides an in-memory card image store with fault
// injection, used by the self-test and by tests of code above CardState.
package memory

import (
	"encoding/binary"
	"fmt"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

// Store keeps a card image in memory. It is safe for concurrent use.
type Store struct {
	img     []byte
	mu      syncutil.RWMutex
	busy    int
	failAt  int
	reads   int
	updates int
}

// New creates a store over a copy of img.
func New(img []byte) *Store {
	return &Store{img: append([]byte(nil), img...), failAt: -1}
}

// NewBlank creates a zeroed image sized for blockMax data blocks.
func NewBlank(blockMax int) *Store {
	return New(make([]byte, silica.ImageSize(blockMax)))
}

// Image returns a copy of the current image.
func (s *Store) Image() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.img...)
}

// InjectBusy makes the next n updates report silica.ErrStorageBusy.
func (s *Store) InjectBusy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = n
}

// FailAt makes every update covering addr fail with
// silica.ErrStorageFailed. A negative addr clears the fault.
func (s *Store) FailAt(addr int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = addr
}

// Stats returns the number of completed reads and updates.
func (s *Store) Stats() (reads, updates int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads, s.updates
}

func (s *Store) check(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > len(s.img) {
		return fmt.Errorf("%w: %d+%d in %d byte image", silica.ErrAddressInvalid, addr, n, len(s.img))
	}
	return nil
}

// ReadBlock copies len(p) bytes at addr into p.
func (s *Store) ReadBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	copy(p, s.img[addr:])
	s.reads++
	return nil
}

// UpdateBlock writes p at addr.
func (s *Store) UpdateBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	if s.busy > 0 {
		s.busy--
		return silica.ErrStorageBusy
	}
	if s.failAt >= addr && s.failAt < addr+len(p) {
		return fmt.Errorf("%w: injected fault at 0x%03X", silica.ErrStorageFailed, s.failAt)
	}
	copy(s.img[addr:], p)
	s.updates++
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

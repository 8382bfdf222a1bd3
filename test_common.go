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

//go:build !prod

package silica

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-silica/internal/testing"
)

// imageStore is a BlockStore over a byte slice with fault injection.
type imageStore struct {
	img []byte
	// busy makes the next busy update calls report ErrStorageBusy
	busy int
	// failAt makes updates touching this address fail permanently
	failAt  int
	updates int
}

func newImageStore(blockMax int) *imageStore {
	return &imageStore{img: virt.BuildCardImage(blockMax), failAt: -1}
}

func (s *imageStore) check(addr, n int) error {
	if addr < 0 || addr+n > len(s.img) {
		return fmt.Errorf("%w: %d+%d", ErrAddressInvalid, addr, n)
	}
	return nil
}

func (s *imageStore) ReadBlock(addr int, p []byte) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	copy(p, s.img[addr:])
	return nil
}

func (s *imageStore) UpdateBlock(addr int, p []byte) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	if s.busy > 0 {
		s.busy--
		return ErrStorageBusy
	}
	if s.failAt >= addr && s.failAt < addr+len(p) {
		return ErrStorageFailed
	}
	s.updates++
	copy(s.img[addr:], p)
	return nil
}

func (s *imageStore) ReadWord(addr int) (uint16, error) {
	if err := s.check(addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s.img[addr:]), nil
}

func (s *imageStore) UpdateWord(addr int, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return s.UpdateBlock(addr, b[:])
}

func (s *imageStore) snapshot() []byte {
	return append([]byte(nil), s.img...)
}

// fastRetry keeps busy-store tests quick.
func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2,
		RetryTimeout:      time.Second,
	}
}

// newTestState loads a CardState from a fresh fixture image.
func newTestState(t *testing.T, opts ...Option) (*CardState, *imageStore) {
	t.Helper()
	store := newImageStore(12)
	opts = append([]Option{WithStorageRetry(fastRetry())}, opts...)
	state, err := LoadCardState(context.Background(), store, opts...)
	require.NoError(t, err)
	return state, store
}

// newTestCard wires a card to a virtual reader.
func newTestCard(t *testing.T, opts ...Option) (*Card, *virt.VirtualReader, *imageStore, *RecordingSink) {
	t.Helper()
	state, store := newTestState(t, opts...)
	reader := virt.NewVirtualReader()
	sink := &RecordingSink{}

	link, err := NewLink(reader, reader, sink, opts...)
	require.NoError(t, err)
	link.sleep = func(time.Duration) {}

	return NewCard(link, NewProcessor(state, sink), sink), reader, store, sink
}

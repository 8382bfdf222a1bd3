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
	"context"
	"encoding/binary"
	"fmt"
)

// Card image layout. Every BlockStore backend uses these byte offsets.
const (
	AddrIDm         = 0x00
	AddrPMm         = 0x08
	AddrSystemCode  = 0x10
	AddrServiceCode = 0x12 // Little-endian word
	AddrLastError   = 0x20
	AddrBlocks      = 0x40
)

// ImageSize returns the card image size for blockMax data blocks.
func ImageSize(blockMax int) int {
	return AddrBlocks + blockMax*BlockSize
}

// BlockAddr returns the image offset of data block n.
func BlockAddr(n int) int {
	return AddrBlocks + n*BlockSize
}

// NewImage returns a card image holding snap and blockMax zeroed data
// blocks, for initializing a new store.
func NewImage(blockMax int, snap Snapshot) []byte {
	img := make([]byte, ImageSize(blockMax))
	copy(img[AddrIDm:], snap.IDm[:])
	copy(img[AddrPMm:], snap.PMm[:])
	copy(img[AddrSystemCode:], snap.SystemCode[:])
	binary.LittleEndian.PutUint16(img[AddrServiceCode:], ServiceClass(snap.ServiceClass))
	return img
}

// Snapshot is a copy of the identity and codes of a card.
type Snapshot struct {
	IDm          [IDmLength]byte
	PMm          [PMmLength]byte
	SystemCode   [SystemCodeLength]byte
	ServiceClass uint16
}

// CardState owns the card identity, codes and data blocks. Every mutation
// goes through it: the in-memory record is updated, then persisted, and
// restored if persisting fails.
//
// CardState is not safe for concurrent use; Card serializes access.
type CardState struct {
	store     BlockStore
	cfg       *Config
	cur       Snapshot
	lastError [LastErrorSize]byte
}

// LoadCardState reads the card identity, codes and (when persisted) the
// last error from store.
func LoadCardState(ctx context.Context, store BlockStore, opts ...Option) (*CardState, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &CardState{store: store, cfg: cfg}

	var head [AddrServiceCode]byte
	if err := s.retry(ctx, "load identity", AddrIDm, func() error {
		return store.ReadBlock(AddrIDm, head[:])
	}); err != nil {
		return nil, err
	}
	copy(s.cur.IDm[:], head[AddrIDm:])
	copy(s.cur.PMm[:], head[AddrPMm:])
	copy(s.cur.SystemCode[:], head[AddrSystemCode:])

	var word uint16
	if err := s.retry(ctx, "load service code", AddrServiceCode, func() error {
		var err error
		word, err = store.ReadWord(AddrServiceCode)
		return err
	}); err != nil {
		return nil, err
	}
	s.cur.ServiceClass = ServiceClass(word)

	if cfg.PersistLastError {
		if err := s.retry(ctx, "load last error", AddrLastError, func() error {
			return store.ReadBlock(AddrLastError, s.lastError[:])
		}); err != nil {
			return nil, err
		}
	}

	Debugf("card state loaded: IDm=%X PMm=%X sys=%X service=%04X",
		s.cur.IDm, s.cur.PMm, s.cur.SystemCode, s.cur.ServiceClass)
	return s, nil
}

// Config returns the configuration the state was loaded with.
func (s *CardState) Config() *Config {
	return s.cfg
}

// BlockMax returns the number of data blocks.
func (s *CardState) BlockMax() int {
	return s.cfg.BlockMax
}

// Snapshot returns a copy of the current identity and codes.
func (s *CardState) Snapshot() Snapshot {
	return s.cur
}

// IDm returns the card identifier.
func (s *CardState) IDm() [IDmLength]byte {
	return s.cur.IDm
}

// PMm returns the manufacturer parameters.
func (s *CardState) PMm() [PMmLength]byte {
	return s.cur.PMm
}

// SystemCode returns the system code in wire order.
func (s *CardState) SystemCode() [SystemCodeLength]byte {
	return s.cur.SystemCode
}

// ServiceClass returns the stored service class (attribute bits clear).
func (s *CardState) ServiceClass() uint16 {
	return s.cur.ServiceClass
}

// LastError returns the last rejected packet, zero padded.
func (s *CardState) LastError() [LastErrorSize]byte {
	return s.lastError
}

// ReadBlock copies data block n into dst.
func (s *CardState) ReadBlock(ctx context.Context, n int, dst []byte) error {
	if n < 0 || n >= s.cfg.BlockMax {
		return fmt.Errorf("%w: %d", ErrBlockOutOfRange, n)
	}
	if len(dst) < BlockSize {
		return fmt.Errorf("%w: %d byte buffer", ErrShortRecord, len(dst))
	}
	addr := BlockAddr(n)
	return s.retry(ctx, "read block", addr, func() error {
		return s.store.ReadBlock(addr, dst[:BlockSize])
	})
}

// WriteBlock persists data block n. Blocks live only in the store, so a
// failed write leaves nothing to restore.
func (s *CardState) WriteBlock(ctx context.Context, n int, data []byte) error {
	if n < 0 || n >= s.cfg.BlockMax {
		return fmt.Errorf("%w: %d", ErrBlockOutOfRange, n)
	}
	if len(data) < BlockSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRecord, len(data))
	}
	addr := BlockAddr(n)
	return s.retry(ctx, "write block", addr, func() error {
		return s.store.UpdateBlock(addr, data[:BlockSize])
	})
}

// SetIdentity replaces IDm and PMm together.
func (s *CardState) SetIdentity(ctx context.Context, idm [IDmLength]byte, pmm [PMmLength]byte) error {
	prev := s.cur
	s.cur.IDm = idm
	s.cur.PMm = pmm

	var rec [IDmLength + PMmLength]byte
	copy(rec[:], idm[:])
	copy(rec[IDmLength:], pmm[:])
	if err := s.retry(ctx, "update identity", AddrIDm, func() error {
		return s.store.UpdateBlock(AddrIDm, rec[:])
	}); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

// SetSystemCode replaces the system code.
func (s *CardState) SetSystemCode(ctx context.Context, code [SystemCodeLength]byte) error {
	prev := s.cur
	s.cur.SystemCode = code

	if err := s.retry(ctx, "update system code", AddrSystemCode, func() error {
		return s.store.UpdateBlock(AddrSystemCode, code[:])
	}); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

// SetServiceCode stores the class of code.
func (s *CardState) SetServiceCode(ctx context.Context, code uint16) error {
	prev := s.cur
	s.cur.ServiceClass = ServiceClass(code)

	class := s.cur.ServiceClass
	if err := s.retry(ctx, "update service code", AddrServiceCode, func() error {
		return s.store.UpdateWord(AddrServiceCode, class)
	}); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

// SaveLastError records a rejected packet, truncated to LastErrorSize.
// It is persisted only when the configuration asks for it.
func (s *CardState) SaveLastError(ctx context.Context, p Packet) error {
	prev := s.lastError
	s.lastError = [LastErrorSize]byte{}
	copy(s.lastError[:], p)

	if !s.cfg.PersistLastError {
		return nil
	}
	rec := s.lastError
	if err := s.retry(ctx, "update last error", AddrLastError, func() error {
		return s.store.UpdateBlock(AddrLastError, rec[:])
	}); err != nil {
		s.lastError = prev
		return err
	}
	return nil
}

// retry runs a store operation under the storage retry policy and wraps
// its final failure in a StorageError.
func (s *CardState) retry(ctx context.Context, op string, addr int, fn RetryableFunc) error {
	if err := RetryWithConfig(ctx, s.cfg.StorageRetry, fn); err != nil {
		return NewStorageError(op, addr, err)
	}
	return nil
}

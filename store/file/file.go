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

// Package file stores the card image in a file, so a card emulated on a
// host keeps its identity and blocks across restarts.
//
// The file holds a CBOR record (core deterministic encoding) with a format
// version, the block count, the image bytes and a CRC-16 of the image. Every
// update rewrites the file through a temporary file and a rename.
package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/internal/frame"
	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

// FormatVersion is the record version written by this package.
const FormatVersion = 1

type record struct {
	Version  int    `cbor:"1,keyasint"`
	BlockMax int    `cbor:"2,keyasint"`
	Image    []byte `cbor:"3,keyasint"`
	Check    uint16 `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Store is a silica.BlockStore backed by a file. It is safe for concurrent
// use within one process.
type Store struct {
	path     string
	img      []byte
	blockMax int
	mu       syncutil.Mutex
}

// Create writes img as a new card image file at path, replacing any
// existing file, and opens it.
func Create(path string, img []byte, blockMax int) (*Store, error) {
	if len(img) != silica.ImageSize(blockMax) {
		return nil, fmt.Errorf("%w: %d byte image for %d blocks", silica.ErrImageCorrupt, len(img), blockMax)
	}
	s := &Store{path: path, img: append([]byte(nil), img...), blockMax: blockMax}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads the card image file at path.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read card image: %w", err)
	}

	var rec record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", silica.ErrImageCorrupt, err)
	}
	switch {
	case rec.Version != FormatVersion:
		return nil, fmt.Errorf("%w: format version %d", silica.ErrImageCorrupt, rec.Version)
	case rec.BlockMax < 1 || rec.BlockMax > silica.MaxBlocks:
		return nil, fmt.Errorf("%w: %d blocks", silica.ErrImageCorrupt, rec.BlockMax)
	case len(rec.Image) != silica.ImageSize(rec.BlockMax):
		return nil, fmt.Errorf("%w: %d byte image for %d blocks", silica.ErrImageCorrupt, len(rec.Image), rec.BlockMax)
	case frame.CRC16(rec.Image) != rec.Check:
		return nil, fmt.Errorf("%w: checksum mismatch", silica.ErrImageCorrupt)
	}

	return &Store{path: path, img: rec.Image, blockMax: rec.BlockMax}, nil
}

// OpenOrCreate opens path, creating it from img when it does not exist.
func OpenOrCreate(path string, img []byte, blockMax int) (*Store, error) {
	s, err := Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Create(path, img, blockMax)
	}
	return s, err
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// BlockMax returns the number of data blocks in the image.
func (s *Store) BlockMax() int {
	return s.blockMax
}

// Image returns a copy of the current image.
func (s *Store) Image() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.img...)
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
	return nil
}

// UpdateBlock writes p at addr and rewrites the file. Unchanged data is not
// written. On failure the image is left as it was.
func (s *Store) UpdateBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	if string(s.img[addr:addr+len(p)]) == string(p) {
		return nil
	}

	prev := append([]byte(nil), s.img[addr:addr+len(p)]...)
	copy(s.img[addr:], p)
	if err := s.flush(); err != nil {
		copy(s.img[addr:], prev)
		return err
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

// flush writes the image to a temporary file next to path and renames it
// over path.
func (s *Store) flush() error {
	data, err := encMode.Marshal(record{
		Version:  FormatVersion,
		BlockMax: s.blockMax,
		Image:    s.img,
		Check:    frame.CRC16(s.img),
	})
	if err != nil {
		return fmt.Errorf("%w: encode image: %w", silica.ErrStorageFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", silica.ErrStorageFailed, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", silica.ErrStorageFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", silica.ErrStorageFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", silica.ErrStorageFailed, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %w", silica.ErrStorageFailed, err)
	}
	return nil
}

var _ silica.BlockStore = (*Store)(nil)

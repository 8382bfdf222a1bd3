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

package provision

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	silica "github.com/ZaparooProject/go-silica"
)

// RawBlockLimit bounds the block numbers accepted for raw writes.
const RawBlockLimit = 14

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadParameter   = errors.New("invalid parameter")
)

// Write is one configuration write: a block number under the
// configuration service and its data.
type Write struct {
	Block int
	Data  [silica.BlockSize]byte
}

func (w Write) String() string {
	return fmt.Sprintf("block %02Xh: %s", w.Block, silica.Packet(w.Data[:]))
}

// IdentityWrite sets IDm and PMm.
func IdentityWrite(idm [silica.IDmLength]byte, pmm [silica.PMmLength]byte) Write {
	w := Write{Block: silica.BlockIdentity}
	copy(w.Data[:], idm[:])
	copy(w.Data[silica.IDmLength:], pmm[:])
	return w
}

// ServiceCodeWrite sets the service code. The block holds it
// little-endian.
func ServiceCodeWrite(code uint16) Write {
	w := Write{Block: silica.BlockService}
	binary.LittleEndian.PutUint16(w.Data[:], code)
	return w
}

// SystemCodeWrite sets the system code.
func SystemCodeWrite(code [silica.SystemCodeLength]byte) Write {
	w := Write{Block: silica.BlockSystemCode}
	copy(w.Data[:], code[:])
	return w
}

// ParseCommand builds a write from a command name and a hex parameter:
//
//	<n>        raw 16-byte block n, 0 <= n < RawBlockLimit
//	idm[_pmm]  8-byte IDm, or IDm and PMm (16 bytes)
//	ser[vice]  2-byte service code, big-endian as printed
//	sys[tem]   2-byte system code
func ParseCommand(command, param string) (Write, error) {
	data, err := hexParam(param)
	if err != nil {
		return Write{}, err
	}
	command = strings.ToLower(command)

	switch {
	case isDigits(command):
		n, err := strconv.Atoi(command)
		if err != nil || n >= RawBlockLimit {
			return Write{}, fmt.Errorf("%w: block number must be between 0 and %d", ErrBadParameter, RawBlockLimit-1)
		}
		if len(data) != silica.BlockSize {
			return Write{}, fmt.Errorf("%w: data must be exactly %d bytes for raw write", ErrBadParameter, silica.BlockSize)
		}
		w := Write{Block: n}
		copy(w.Data[:], data)
		return w, nil

	case strings.HasPrefix(command, "idm"):
		var idm [silica.IDmLength]byte
		pmm := DefaultPMm
		switch len(data) {
		case silica.IDmLength:
		case silica.IDmLength + silica.PMmLength:
			copy(pmm[:], data[silica.IDmLength:])
		default:
			return Write{}, fmt.Errorf("%w: IDm must be 8 bytes, PMm optional 8 bytes", ErrBadParameter)
		}
		copy(idm[:], data)
		return IdentityWrite(idm, pmm), nil

	case strings.HasPrefix(command, "ser"):
		if len(data) != 2 {
			return Write{}, fmt.Errorf("%w: service code must be 2 bytes", ErrBadParameter)
		}
		return ServiceCodeWrite(binary.BigEndian.Uint16(data)), nil

	case strings.HasPrefix(command, "sys"):
		if len(data) != silica.SystemCodeLength {
			return Write{}, fmt.Errorf("%w: system code must be 2 bytes", ErrBadParameter)
		}
		return SystemCodeWrite([silica.SystemCodeLength]byte(data)), nil
	}
	return Write{}, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// ApplyTo performs the write directly on a card state, for provisioning a
// card image before it is served.
func (w Write) ApplyTo(ctx context.Context, state *silica.CardState) error {
	var err error
	switch w.Block {
	case silica.BlockIdentity:
		err = state.SetIdentity(ctx,
			[silica.IDmLength]byte(w.Data[:silica.IDmLength]),
			[silica.PMmLength]byte(w.Data[silica.IDmLength:]))
	case silica.BlockService:
		err = state.SetServiceCode(ctx, binary.LittleEndian.Uint16(w.Data[:]))
	case silica.BlockSystemCode:
		err = state.SetSystemCode(ctx, [silica.SystemCodeLength]byte(w.Data[:silica.SystemCodeLength]))
	default:
		err = state.WriteBlock(ctx, w.Block, w.Data[:])
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", w, err)
	}
	return nil
}

func hexParam(s string) ([]byte, error) {
	p, err := silica.ParseHexPacket(s)
	if err != nil {
		return nil, fmt.Errorf("%w: parameter must be in hex format", ErrBadParameter)
	}
	return p, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

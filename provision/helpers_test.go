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
	"bytes"
	"context"
	"errors"
	"fmt"

	silica "github.com/ZaparooProject/go-silica"
	virt "github.com/ZaparooProject/go-silica/internal/testing"
	"github.com/ZaparooProject/go-silica/store/memory"
)

// fakeACR122 answers InCommunicateThru pseudo-APDUs with a card processor,
// the way an ACR122U does with a SiliCa in its field.
type fakeACR122 struct {
	proc    *silica.Processor
	err     error
	reply   []byte // Fixed reply, overrides the card
	apdus   [][]byte
	removed bool
}

func newFakeReader() (*fakeACR122, *silica.CardState, *memory.Store) {
	store := memory.New(virt.BuildCardImage(12))
	state, err := silica.LoadCardState(context.Background(), store)
	if err != nil {
		panic(err)
	}
	return &fakeACR122{proc: silica.NewProcessor(state, nil)}, state, store
}

func (f *fakeACR122) Transmit(apdu []byte) ([]byte, error) {
	f.apdus = append(f.apdus, append([]byte(nil), apdu...))
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}

	prefix := []byte{0xFF, 0x00, 0x00, 0x00}
	if len(apdu) < 8 || !bytes.Equal(apdu[:4], prefix) || int(apdu[4]) != len(apdu)-5 ||
		apdu[5] != 0xD4 || apdu[6] != 0x42 {
		return []byte{0x6A, 0x81}, nil
	}
	if f.removed {
		return []byte{0xD5, 0x43, 0x01, 0x90, 0x00}, nil
	}

	resp := f.proc.Process(context.Background(), silica.Packet(append([]byte(nil), apdu[7:]...)))
	if resp.Absent() {
		return []byte{0xD5, 0x43, 0x01, 0x90, 0x00}, nil
	}
	out := append([]byte{0xD5, 0x43, 0x00}, resp...)
	return append(out, 0x90, 0x00), nil
}

// failingTransmitter reports a PC/SC failure on every call.
type failingTransmitter struct{}

func (failingTransmitter) Transmit(_ []byte) ([]byte, error) {
	return nil, fmt.Errorf("scard: %w", errors.New("reader unavailable"))
}

func testSystemCode() [silica.SystemCodeLength]byte {
	return [silica.SystemCodeLength]byte(virt.TestSystemCode)
}

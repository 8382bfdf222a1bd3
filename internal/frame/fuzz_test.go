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

package frame

import (
	"bytes"
	"testing"
)

// =============================================================================
// Fuzz Tests for Frame Recovery
// =============================================================================
// Raw captures come straight off the air: anything the reader, a neighbouring
// card, or the field itself puts on the line ends up here. None of these
// functions may panic on arbitrary input.
//
// Run with: go test -fuzz=FuzzFindSync -fuzztime=30s ./internal/frame/
// Run all: go test -fuzz=Fuzz -fuzztime=10s ./internal/frame/

// FuzzFindSync feeds arbitrary captures through sync detection and decoding.
func FuzzFindSync(f *testing.F) {
	f.Add([]byte{0x55, 0x55, 0x55, 0x55, 0x9A, 0x59, 0x65, 0xA6, 0x55, 0x56, 0x00}, 4)
	f.Add([]byte{0xAA, 0xAA, 0xAA, 0xAA, 0x65, 0xA6, 0x9A, 0x59, 0xFF}, 4)
	f.Add([]byte{}, 0)
	f.Add([]byte{0x55}, 1)
	f.Add([]byte{0x00, 0xFF, 0x00, 0xFF}, 0)

	f.Fuzz(func(_ *testing.T, raw []byte, minPreamble int) {
		phase, err := FindSync(raw, minPreamble)
		if err != nil {
			return
		}
		dst := make([]byte, MaxPacketLength)
		n := Decode(dst, raw, phase.StartBit(), len(raw)*8, phase.Inverted)
		_, _ = ValidatePacket(dst[:n])
	})
}

// FuzzManchesterRoundTrip checks that decode(encode(x)) is the identity at
// every bit phase.
func FuzzManchesterRoundTrip(f *testing.F) {
	f.Add([]byte{0x00}, uint8(0), false)
	f.Add([]byte{0xB2, 0x4D, 0x12, 0x34}, uint8(3), true)
	f.Add([]byte{0xFF, 0x00, 0xAA, 0x55}, uint8(7), false)

	f.Fuzz(func(t *testing.T, data []byte, phase uint8, invert bool) {
		offset := int(phase % 8)
		raw := shiftBits(Encode(nil, data), offset, invert)

		got := make([]byte, len(data))
		n := Decode(got, raw, offset, len(raw)*8, invert)
		if n != len(data) {
			t.Fatalf("decoded %d bytes, want %d", n, len(data))
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch at offset %d: got %X want %X", offset, got, data)
		}
	})
}

// FuzzCRC16 checks that appending the CRC always yields a frame that verifies.
func FuzzCRC16(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("123456789"))
	f.Add([]byte{0x06, 0x00, 0xFF, 0xFF, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		framed := AppendCRC16(append([]byte(nil), data...))
		if !CheckCRC16(framed) {
			t.Fatalf("CRC trailer does not verify for %X", data)
		}
	})
}

// shiftBits delays a raw symbol stream by offset bits, padding with the idle
// line level, and optionally inverts it.
func shiftBits(symbols []byte, offset int, invert bool) []byte {
	out := make([]byte, len(symbols)+1)
	for i, b := range symbols {
		out[i] |= b >> uint(offset)
		if offset > 0 {
			out[i+1] |= b << uint(8-offset)
		}
	}
	if invert {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out
}

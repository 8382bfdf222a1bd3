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

// NumPhases is the number of sync bit offsets recognized, 0 through 8.
// Offset 8 is the byte-aligned case seen one byte early.
const NumPhases = 9

// syncPattern matches the first Manchester-coded sync byte (0xB2) at one bit
// offset. Only the bits carrying the first half of each symbol are compared;
// the remaining bits belong to the preamble or are the complementary half.
type syncPattern struct {
	mask   byte
	first  byte
	second byte
}

var syncPatterns = [NumPhases]syncPattern{
	{mask: 0xAA, first: 0x8A, second: 0x08},
	{mask: 0x55, first: 0x45, second: 0x04},
	{mask: 0xAA, first: 0x22, second: 0x82},
	{mask: 0x55, first: 0x11, second: 0x41},
	{mask: 0xAA, first: 0x08, second: 0xA0},
	{mask: 0x55, first: 0x04, second: 0x50},
	{mask: 0xAA, first: 0x02, second: 0x28},
	{mask: 0x55, first: 0x01, second: 0x14},
	{mask: 0xAA, first: 0x00, second: 0x8A},
}

// Phase locates the payload inside a raw capture.
type Phase struct {
	Index    int  // Raw byte index of the sync pair
	Offset   int  // Bit offset within the pair, 0..8
	Inverted bool // Line polarity is inverted
}

// StartBit returns the raw bit index of the first payload bit, past the
// two sync bytes.
func (p Phase) StartBit() int {
	return (p.Index+SyncRawLength)*8 + p.Offset
}

// SyncOffset returns the bit offset whose sync pattern matches the raw byte
// pair, or -1 if none does.
func SyncOffset(b0, b1 byte) int {
	for offset, pat := range syncPatterns {
		if b0&pat.mask == pat.first && b1&pat.mask == pat.second {
			return offset
		}
	}
	return -1
}

// ResolveSync classifies a raw byte pair under both line polarities.
//
// A Manchester stream read one bit late with inverted polarity carries the
// same logical bits, so a genuine sync pair usually matches twice. The
// smaller offset is the true alignment; on a tie the true polarity wins.
func ResolveSync(b0, b1 byte) (offset int, inverted, ok bool) {
	normal := SyncOffset(b0, b1)
	flipped := SyncOffset(^b0, ^b1)

	switch {
	case normal < 0 && flipped < 0:
		return 0, false, false
	case flipped < 0, normal >= 0 && normal <= flipped:
		return normal, false, true
	default:
		return flipped, true, true
	}
}

// preambleEnd finds the first run of at least minRun idle bytes and returns
// the index just past it.
func preambleEnd(raw []byte, minRun int) (int, bool) {
	i := 0
	for i < len(raw) {
		for i < len(raw) && !IsIdle(raw[i]) {
			i++
		}
		start := i
		for i < len(raw) && IsIdle(raw[i]) {
			i++
		}
		if i-start > 0 && i-start >= minRun {
			return i, true
		}
	}
	return 0, false
}

// FindSync skips the preamble and locates the sync code in a raw capture.
// minPreamble is the shortest acceptable run of idle bytes.
func FindSync(raw []byte, minPreamble int) (Phase, error) {
	end, ok := preambleEnd(raw, minPreamble)
	if !ok {
		return Phase{}, ErrPreambleTooShort
	}

	// At offsets 7 and 8 the first sync byte still looks idle.
	for i := end - 1; i+1 < len(raw); i++ {
		offset, inverted, found := ResolveSync(raw[i], raw[i+1])
		if found {
			return Phase{Index: i, Offset: offset, Inverted: inverted}, nil
		}
	}
	return Phase{}, ErrSyncNotFound
}

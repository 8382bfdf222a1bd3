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

// manchesterTable maps a nibble to its 8-bit symbol: a one bit is sent as
// 10 and a zero bit as 01, so an all-zero nibble idles at 0x55.
var manchesterTable = [16]byte{
	0x55, 0x56, 0x59, 0x5A, 0x65, 0x66, 0x69, 0x6A,
	0x95, 0x96, 0x99, 0x9A, 0xA5, 0xA6, 0xA9, 0xAA,
}

// EncodeByte returns the two raw symbols for b, high nibble first.
func EncodeByte(b byte) (hi, lo byte) {
	return manchesterTable[b>>4], manchesterTable[b&0x0F]
}

// Encode appends the Manchester symbols for data to dst.
func Encode(dst, data []byte) []byte {
	for _, b := range data {
		hi, lo := EncodeByte(b)
		dst = append(dst, hi, lo)
	}
	return dst
}

// DecodedLength returns how many whole bytes Decode yields for the raw bit
// range [start, end).
func DecodedLength(start, end int) int {
	if start < 0 || end-start < 15 {
		return 0
	}
	// The last sample of a byte sits 14 bits after its first.
	return (end-start-15)/16 + 1
}

// Decode recovers logical bytes from raw, sampling one bit out of every two
// starting at bit index start (bit 0 is the MSB of raw[0]) and stopping before
// end. Samples are XORed with invert and packed MSB first. Only whole bytes
// are produced; the count written to dst is returned.
//
// The start offset is rarely byte aligned, so this walks the capture with a
// running byte/bit cursor instead of a symbol table.
func Decode(dst, raw []byte, start, end int, invert bool) int {
	if end > len(raw)*8 {
		end = len(raw) * 8
	}
	n := DecodedLength(start, end)
	if n > len(dst) {
		n = len(dst)
	}

	var flip byte
	if invert {
		flip = 0xFF
	}

	idx := start >> 3
	shift := uint(7 - start&7)
	for k := range n {
		var out byte
		for range 8 {
			out = out<<1 | raw[idx]>>shift&1
			// Advance two bits.
			if shift >= 2 {
				shift -= 2
			} else {
				shift += 6
				idx++
			}
		}
		dst[k] = out ^ flip
	}
	return n
}

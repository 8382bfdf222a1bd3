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

const crcPoly = 0x1021

// UpdateCRC16 feeds one byte into a running CRC-16/XMODEM value.
// Bits are processed most significant first.
func UpdateCRC16(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for range 8 {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ crcPoly
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC16 computes the CRC-16/XMODEM (poly 0x1021, init 0, no final XOR) of data.
// This is the EDC appended to every JIS X 6319-4 frame.
func CRC16(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc = UpdateCRC16(crc, b)
	}
	return crc
}

// AppendCRC16 appends the big-endian CRC of data to data.
func AppendCRC16(data []byte) []byte {
	crc := CRC16(data)
	return append(data, byte(crc>>8), byte(crc))
}

// CheckCRC16 reports whether frame, which must end with its big-endian CRC
// trailer, is intact. Running the CRC across payload and trailer yields zero
// for an undamaged frame.
func CheckCRC16(frame []byte) bool {
	if len(frame) < EDCLength {
		return false
	}
	return CRC16(frame) == 0
}

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

import "encoding/binary"

// Service code attributes. The low six bits of a service code select the
// access mode; the card stores only the class and ORs these in on output.
const (
	ServiceAttrMask      uint16 = 0x003F
	ServiceAttrReadWrite uint16 = 0x0009 // Random read/write, no encryption
	ServiceAttrReadOnly  uint16 = 0x000B // Random read-only, no encryption
)

// SystemServiceCode addresses the privileged configuration blocks.
const SystemServiceCode uint16 = 0x0009

// Privileged block numbers, reachable under SystemServiceCode
const (
	BlockIdentity   = 0x83 // IDm (8) + PMm (8)
	BlockService    = 0x84 // Service code, little-endian
	BlockSystemCode = 0x85 // System code
	BlockLastError  = 0xE0 // Last rejected packet, LastErrorBlocks blocks

	LastErrorBlocks = 2
	LastErrorSize   = LastErrorBlocks * BlockSize
)

// Block number limits
const (
	// MaxBlocks bounds BlockMax so ordinary blocks never reach the
	// privileged range.
	MaxBlocks = 0x80

	// MaxBlocksPerRequest is the most blocks one read response can carry.
	MaxBlocksPerRequest = (MaxPacketLength - readResponseHeaderLength) / BlockSize
)

// Block list element forms
const (
	blockElemShort     = 0x80 // 1 0 0 0 | order: 2-byte element
	blockElemLong      = 0x00 // 0 0 0 0 | order: 3-byte element
	blockElemShortSize = 2
	blockElemLongSize  = 3
)

// ServiceClass strips the attribute bits from a service code.
func ServiceClass(code uint16) uint16 {
	return code &^ ServiceAttrMask
}

// ReadWriteCode returns the read/write service code of a class.
func ReadWriteCode(class uint16) uint16 {
	return ServiceClass(class) | ServiceAttrReadWrite
}

// ReadOnlyCode returns the read-only service code of a class.
func ReadOnlyCode(class uint16) uint16 {
	return ServiceClass(class) | ServiceAttrReadOnly
}

// IsPrivilegedBlock reports whether n is one of the configuration blocks.
func IsPrivilegedBlock(n int) bool {
	switch n {
	case BlockIdentity, BlockService, BlockSystemCode:
		return true
	}
	return n >= BlockLastError && n < BlockLastError+LastErrorBlocks
}

// blockList holds the parsed block numbers of one request.
type blockList struct {
	blocks [MaxBlocksPerRequest]int
	n      int
	size   int // Bytes the list occupied in the packet
}

func (l *blockList) Blocks() []int {
	return l.blocks[:l.n]
}

// parseBlockList reads count elements from p. Every element must use
// service order 0: either 80 nn or 00 nn 00. It reports false for any other
// form, including a list running past the end of p.
func parseBlockList(p []byte, count int, l *blockList) bool {
	if count < 1 || count > len(l.blocks) {
		return false
	}

	pos := 0
	for i := range count {
		if pos >= len(p) {
			return false
		}
		switch p[pos] {
		case blockElemShort:
			if pos+blockElemShortSize > len(p) {
				return false
			}
			l.blocks[i] = int(p[pos+1])
			pos += blockElemShortSize
		case blockElemLong:
			if pos+blockElemLongSize > len(p) {
				return false
			}
			l.blocks[i] = int(binary.LittleEndian.Uint16(p[pos+1:]))
			pos += blockElemLongSize
		default:
			return false
		}
	}

	l.n = count
	l.size = pos
	return true
}

// AppendBlockElement appends a block list element addressing block n under
// the first service of the request, in the short form when n fits a byte.
func AppendBlockElement(dst []byte, n int) []byte {
	if n <= 0xFF {
		return append(dst, blockElemShort, byte(n))
	}
	return append(dst, blockElemLong, byte(n), byte(n>>8))
}

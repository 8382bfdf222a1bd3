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

package testing

import "encoding/binary"

// Fixture identity used throughout the tests
var (
	TestIDm        = []byte{0x01, 0x2E, 0x4C, 0xC5, 0x8A, 0x12, 0x34, 0x56}
	TestPMm        = []byte{0x00, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	TestSystemCode = []byte{0xAB, 0xCD}
)

// TestServiceCode is the read/write service of the fixture card.
const TestServiceCode uint16 = 0x1009

// Image layout, mirrored here to keep this package free of the root one
const (
	imageIDm     = 0x00
	imagePMm     = 0x08
	imageSystem  = 0x10
	imageService = 0x12
	imageBlocks  = 0x40
)

// BuildCardImage returns a card image holding the fixture identity and
// blockMax zeroed data blocks.
func BuildCardImage(blockMax int) []byte {
	img := make([]byte, imageBlocks+16*blockMax)
	copy(img[imageIDm:], TestIDm)
	copy(img[imagePMm:], TestPMm)
	copy(img[imageSystem:], TestSystemCode)
	binary.LittleEndian.PutUint16(img[imageService:], TestServiceCode&^0x3F)
	return img
}

// finish sets the length byte of a command under construction.
func finish(p []byte) []byte {
	p[0] = byte(len(p))
	return p
}

// BuildPolling creates a Polling command.
func BuildPolling(systemCode []byte, requestCode, timeSlot byte) []byte {
	return finish([]byte{0, 0x00, systemCode[0], systemCode[1], requestCode, timeSlot})
}

// BuildEcho creates an Echo command carrying payload.
func BuildEcho(payload ...byte) []byte {
	return finish(append([]byte{0, 0xF0, 0x00}, payload...))
}

func addressed(code byte, idm []byte) []byte {
	p := make([]byte, 2, 32)
	p[1] = code
	return append(p, idm...)
}

// BuildRequestResponse creates a Request Response command.
func BuildRequestResponse(idm []byte) []byte {
	return finish(addressed(0x04, idm))
}

// BuildRequestSystemCode creates a Request System Code command.
func BuildRequestSystemCode(idm []byte) []byte {
	return finish(addressed(0x0C, idm))
}

// BuildSearchServiceCode creates a Search Service Code command.
func BuildSearchServiceCode(idm []byte, index uint16) []byte {
	return finish(binary.LittleEndian.AppendUint16(addressed(0x0A, idm), index))
}

// BuildRead creates a Read Without Encryption command for one service and
// the given blocks in the short element form.
func BuildRead(idm []byte, service uint16, blocks ...int) []byte {
	p := binary.LittleEndian.AppendUint16(append(addressed(0x06, idm), 1), service)
	p = append(p, byte(len(blocks)))
	for _, n := range blocks {
		p = append(p, 0x80, byte(n))
	}
	return finish(p)
}

// BuildWrite creates a Write Without Encryption command writing data
// (16 bytes per block) to the given blocks.
func BuildWrite(idm []byte, service uint16, data []byte, blocks ...int) []byte {
	p := binary.LittleEndian.AppendUint16(append(addressed(0x08, idm), 1), service)
	p = append(p, byte(len(blocks)))
	for _, n := range blocks {
		p = append(p, 0x80, byte(n))
	}
	return finish(append(p, data...))
}

// Block returns a 16-byte block counting up from first.
func Block(first byte) []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = first + byte(i)
	}
	return b
}

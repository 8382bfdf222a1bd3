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

// Line states seen by the sampler
const (
	SentinelLow  = 0x00 // Carrier present, no modulation (end of envelope)
	SentinelHigh = 0xFF // Same, opposite line polarity
	IdleEven     = 0x55 // Manchester-coded zero bits, even phase
	IdleOdd      = 0xAA // Manchester-coded zero bits, odd phase (or inverted)
)

// Data link layer header
const (
	PreambleLength = 6    // Preamble bytes (all zero before encoding)
	SyncCode1      = 0xB2 // First sync byte
	SyncCode2      = 0x4D // Second sync byte

	// SyncRawLength is the number of raw sampler bytes occupied by the two
	// Manchester-coded sync bytes.
	SyncRawLength = 4
)

// Header is the preamble + sync code sent before every response body.
var Header = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, SyncCode1, SyncCode2}

// Buffer limits
const (
	// MaxCaptureLength is the capacity of the raw capture buffer. It holds a
	// full 255-byte packet with CRC, header, and some slack.
	MaxCaptureLength = 0x220

	// MaxPacketLength is the capacity of the decoded command buffer.
	MaxPacketLength = 0x110

	// MinCaptureLength is the shortest raw capture accepted as a frame.
	// Anything terminated earlier is line noise.
	MinCaptureLength = 2 * 8

	// EDCLength is the size of the CRC trailer.
	EDCLength = 2
)

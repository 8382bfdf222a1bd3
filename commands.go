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

// Command codes. A response code is its command code plus one.
const (
	CmdPolling                = 0x00
	CmdRequestService         = 0x02
	CmdRequestResponse        = 0x04
	CmdReadWithoutEncryption  = 0x06
	CmdWriteWithoutEncryption = 0x08
	CmdSearchServiceCode      = 0x0A
	CmdRequestSystemCode      = 0x0C
	CmdAuthentication1        = 0x10
	CmdAuthentication2        = 0x12
	CmdEcho                   = 0xF0
)

// Polling request codes
const (
	RequestNone        = 0x00
	RequestSystemCode  = 0x01
	RequestPerformance = 0x02
)

// Status flag 2 values, sent after status flag 1 = StatusError
const (
	StatusOK           = 0x00
	StatusError        = 0xFF
	StatusServiceCount = 0xA1 // Number of services is not 1
	StatusBlockCount   = 0xA2 // Number of blocks out of range
	StatusServiceCode  = 0xA6 // Service code not found
	StatusBlockList    = 0xA8 // Malformed block list or block out of range
)

// Field sizes
const (
	IDmLength        = 8
	PMmLength        = 8
	SystemCodeLength = 2
	BlockSize        = 16
)

// Packet offsets. Every packet other than Polling and Echo carries the IDm
// right after the command code.
const (
	offLength      = 0
	offCode        = 1
	offIDm         = 2
	offParams      = offIDm + IDmLength // 10
	offServiceCode = offParams + 1      // 11
	offBlockCount  = offServiceCode + 2 // 13
	offBlockList   = offBlockCount + 1  // 14
)

// Request lengths
const (
	pollingRequestLength       = 6
	echoRequestMinLength       = 3
	addressedRequestMinLength  = 10
	requestResponseLength      = 10
	searchServiceRequestLength = 12
	requestSystemCodeLength    = 10
	blockRequestMinLength      = 14
)

// Response lengths
const (
	pollingResponseLength       = 18
	pollingResponseExtLength    = 20
	requestResponseRespLength   = 11
	statusResponseLength        = 12
	searchServiceResponseLength = 12
	requestSystemCodeRespLength = 13
	readResponseHeaderLength    = 13
)

const (
	performance212kbps = 0x01 // Communication performance: 212 kbps only
	systemCodeCount    = 0x01 // Systems listed by Request System Code
)

// MaxPacketLength is the largest value the length byte can carry.
const MaxPacketLength = 0xFF

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

import (
	"encoding/hex"
	"strings"
)

// Packet is a length-prefixed command or response: byte 0 is the length of
// the whole packet excluding the EDC, byte 1 the command or response code.
// A nil or empty Packet is absent and means "no response".
type Packet []byte

// Absent reports whether p carries no packet.
func (p Packet) Absent() bool {
	return len(p) == 0
}

// Len returns the declared length, or 0 for an absent packet.
func (p Packet) Len() int {
	if len(p) == 0 {
		return 0
	}
	return int(p[offLength])
}

// Code returns the command or response code.
func (p Packet) Code() byte {
	if len(p) <= offCode {
		return 0
	}
	return p[offCode]
}

// IsPolling reports whether p is a Polling command.
func (p Packet) IsPolling() bool {
	return len(p) > offCode && p[offCode] == CmdPolling
}

// String renders the packet as space separated upper-case hex.
func (p Packet) String() string {
	if len(p) == 0 {
		return "<absent>"
	}
	return hexBytes(p)
}

// Dump renders the diagnostic line for a rejected command: the code and
// parameters up to the declared length, without the length byte.
func (p Packet) Dump() string {
	end := min(p.Len(), len(p))
	if end <= offCode {
		return ""
	}
	return hexBytes(p[offCode:end])
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return sb.String()
}

// ParseHexPacket decodes hex text (spaces allowed) into a packet.
func ParseHexPacket(s string) (Packet, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if err != nil {
		return nil, err //nolint:wrapcheck // hex errors already name the offset
	}
	return Packet(b), nil
}

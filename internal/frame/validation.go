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

import "errors"

// Validation errors
var (
	ErrLength = errors.New("declared length exceeds decoded frame")
	ErrEDC    = errors.New("EDC mismatch")
)

// ValidatePacket checks a decoded frame against its own length byte and CRC
// trailer. decoded must hold exactly the n bytes produced by Decode. On
// success the packet length (excluding the CRC) is returned.
func ValidatePacket(decoded []byte) (int, error) {
	if len(decoded) == 0 {
		return 0, ErrLength
	}

	length := int(decoded[0])
	if length == 0 || length+EDCLength > len(decoded) {
		return 0, ErrLength
	}

	if !CheckCRC16(decoded[:length+EDCLength]) {
		return 0, ErrEDC
	}
	return length, nil
}

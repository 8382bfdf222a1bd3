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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "empty data",
			data: []byte{},
			want: 0x0000,
		},
		{
			name: "check string",
			data: []byte("123456789"),
			want: 0x31C3, // CRC-16/XMODEM check value
		},
		{
			name: "single zero byte",
			data: []byte{0x00},
			want: 0x0000,
		},
		{
			name: "single 0x01",
			data: []byte{0x01},
			want: 0x1021,
		},
		{
			name: "single 0xFF",
			data: []byte{0xFF},
			want: 0x1EF0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CRC16(tt.data))
		})
	}
}

func TestUpdateCRC16MatchesCRC16(t *testing.T) {
	t.Parallel()

	data := []byte{0x06, 0x00, 0xFF, 0xFF, 0x01, 0x0F}
	crc := uint16(0)
	for _, b := range data {
		crc = UpdateCRC16(crc, b)
	}
	assert.Equal(t, CRC16(data), crc)
}

func TestAppendCRC16BigEndian(t *testing.T) {
	t.Parallel()

	framed := AppendCRC16([]byte("123456789"))
	assert.Equal(t, []byte{0x31, 0xC3}, framed[len(framed)-2:])
	assert.True(t, CheckCRC16(framed))
}

func TestCheckCRC16(t *testing.T) {
	t.Parallel()

	polling := AppendCRC16([]byte{0x06, 0x00, 0xFF, 0xFF, 0x01, 0x00})
	assert.True(t, CheckCRC16(polling))

	t.Run("every single bit flip is rejected", func(t *testing.T) {
		t.Parallel()
		for i := range polling {
			for bit := range 8 {
				damaged := append([]byte(nil), polling...)
				damaged[i] ^= 1 << bit
				assert.False(t, CheckCRC16(damaged), "byte %d bit %d", i, bit)
			}
		}
	})

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		assert.False(t, CheckCRC16([]byte{0x00}))
		assert.False(t, CheckCRC16(nil))
	})
}

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

package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	silica "github.com/ZaparooProject/go-silica"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	block := func(n int, data ...byte) Write {
		w := Write{Block: n}
		copy(w.Data[:], data)
		return w
	}

	tests := []struct {
		wantErr error
		name    string
		command string
		param   string
		want    Write
	}{
		{
			name:    "idm only gets default PMm",
			command: "idm",
			param:   "0123456789ABCDEF",
			want: block(silica.BlockIdentity,
				0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
				0x00, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF),
		},
		{
			name:    "idm and pmm",
			command: "IDM_PMM",
			param:   "0123456789ABCDEF 1122334455667788",
			want: block(silica.BlockIdentity,
				0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
				0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88),
		},
		{
			name:    "service code is stored little-endian",
			command: "ser",
			param:   "1009",
			want:    block(silica.BlockService, 0x09, 0x10),
		},
		{
			name:    "system code",
			command: "system",
			param:   "88B4",
			want:    block(silica.BlockSystemCode, 0x88, 0xB4),
		},
		{
			name:    "raw block",
			command: "13",
			param:   "00112233445566778899AABBCCDDEEFF",
			want: block(13, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
				0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF),
		},
		{name: "raw block too high", command: "14", param: "00112233445566778899AABBCCDDEEFF", wantErr: ErrBadParameter},
		{name: "raw block short data", command: "0", param: "0011", wantErr: ErrBadParameter},
		{name: "idm wrong size", command: "idm", param: "0123", wantErr: ErrBadParameter},
		{name: "service wrong size", command: "service", param: "100900", wantErr: ErrBadParameter},
		{name: "system wrong size", command: "sys", param: "12", wantErr: ErrBadParameter},
		{name: "not hex", command: "idm", param: "xyz", wantErr: ErrBadParameter},
		{name: "unknown", command: "format", param: "00", wantErr: ErrUnknownCommand},
		{name: "negative is not a block", command: "-1", param: "00", wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCommand(tt.command, tt.param)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteString(t *testing.T) {
	t.Parallel()
	w := ServiceCodeWrite(0x1009)
	assert.Equal(t, "block 84h: 09 10 00 00 00 00 00 00 00 00 00 00 00 00 00 00", w.String())
}

func TestWriteApplyTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, state, _ := newFakeReader()

	for _, c := range [][2]string{
		{"idm", "0123456789ABCDEF1122334455667788"},
		{"ser", "2009"},
		{"sys", "12FC"},
		{"2", "000102030405060708090A0B0C0D0E0F"},
	} {
		w, err := ParseCommand(c[0], c[1])
		require.NoError(t, err)
		require.NoError(t, w.ApplyTo(ctx, state))
	}

	assert.Equal(t, [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}, state.IDm())
	assert.Equal(t, [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, state.PMm())
	assert.Equal(t, uint16(0x2000), state.ServiceClass())
	assert.Equal(t, [2]byte{0x12, 0xFC}, state.SystemCode())

	got := make([]byte, silica.BlockSize)
	require.NoError(t, state.ReadBlock(ctx, 2, got))
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, got)

	err := Write{Block: 12}.ApplyTo(ctx, state)
	require.ErrorIs(t, err, silica.ErrBlockOutOfRange)
}

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

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	silica "github.com/ZaparooProject/go-silica"
	virt "github.com/ZaparooProject/go-silica/internal/testing"
	"github.com/ZaparooProject/go-silica/store/memory"
)

// cardReader plays an ACR122U with a SiliCa in its field.
type cardReader struct {
	proc *silica.Processor
}

func (r *cardReader) Transmit(apdu []byte) ([]byte, error) {
	resp := r.proc.Process(context.Background(), silica.Packet(append([]byte(nil), apdu[7:]...)))
	if resp.Absent() {
		return []byte{0xD5, 0x43, 0x01, 0x90, 0x00}, nil
	}
	return append(append([]byte{0xD5, 0x43, 0x00}, resp...), 0x90, 0x00), nil
}

func newCardReader(t *testing.T) (*cardReader, *silica.CardState) {
	t.Helper()
	state, err := silica.LoadCardState(context.Background(), memory.New(virt.BuildCardImage(12)))
	require.NoError(t, err)
	return &cardReader{proc: silica.NewProcessor(state, nil)}, state
}

func wildcard() [2]byte {
	return [2]byte{0xFF, 0xFF}
}

func TestRunWritesIdentity(t *testing.T) {
	t.Parallel()
	reader, state := newCardReader(t)
	var out bytes.Buffer

	cfg := &config{systemCode: wildcard(), args: []string{"idm", "0123456789ABCDEF"}}
	require.NoError(t, run(context.Background(), cfg, reader, nil, &out))

	assert.Contains(t, out.String(), "Tag found: IDm=012E4CC58A123456")
	assert.Contains(t, out.String(), "Write completed")
	assert.Equal(t, [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}, state.IDm())
}

func TestRunRejectsBadCommandBeforePolling(t *testing.T) {
	t.Parallel()
	reader, _ := newCardReader(t)
	var out bytes.Buffer

	cfg := &config{systemCode: wildcard(), args: []string{"idm", "0123"}}
	require.Error(t, run(context.Background(), cfg, reader, nil, &out))
	assert.Empty(t, out.String())
}

func TestRunNoCard(t *testing.T) {
	t.Parallel()
	reader, _ := newCardReader(t)

	cfg := &config{systemCode: [2]byte{0x12, 0xFC}, args: []string{"sys", "88B4"}}
	err := run(context.Background(), cfg, reader, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no FeliCa found")
}

func TestRunDump(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reader, state := newCardReader(t)
	require.NoError(t, state.SaveLastError(ctx, silica.Packet{0x04, 0x20, 0x01, 0x02}))

	var out bytes.Buffer
	cfg := &config{systemCode: wildcard(), args: []string{"dump"}}
	require.NoError(t, run(ctx, cfg, reader, nil, &out))

	text := out.String()
	assert.Contains(t, text, "IDm:          01 2E 4C C5 8A 12 34 56\n")
	assert.Contains(t, text, "PMm:          00 01 FF FF FF FF FF FF\n")
	assert.Contains(t, text, "Service code: 1009\n")
	assert.Contains(t, text, "System code:  AB CD\n")
	assert.Contains(t, text, "Last error:   04 20 01 02\n")
}

func TestRunDumpWithoutError(t *testing.T) {
	t.Parallel()
	reader, _ := newCardReader(t)

	var out bytes.Buffer
	cfg := &config{systemCode: wildcard(), args: []string{"DUMP"}}
	require.NoError(t, run(context.Background(), cfg, reader, nil, &out))
	assert.Contains(t, out.String(), "Last error:   none\n")
}

func TestRunInteractive(t *testing.T) {
	t.Parallel()
	reader, _ := newCardReader(t)

	var out bytes.Buffer
	cfg := &config{systemCode: [2]byte{0xAB, 0xCD}, interactive: true}
	in := strings.NewReader("0c [idm]\n")
	require.NoError(t, run(context.Background(), cfg, reader, in, &out))

	assert.Contains(t, out.String(), "<< # 00 ABCD 00 00\n")
	assert.Contains(t, out.String(), ">> # 0d [IDm] 01abcd\n")
}

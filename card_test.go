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
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-silica/internal/testing"
)

func TestCardStepPolling(t *testing.T) {
	t.Parallel()

	for offset := range 8 {
		for _, inverted := range []bool{false, true} {
			t.Run(fmt.Sprintf("offset_%d_inverted_%v", offset, inverted), func(t *testing.T) {
				t.Parallel()
				card, reader, _, sink := newTestCard(t)
				reader.Offset = offset
				reader.Inverted = inverted
				reader.Send(virt.BuildPolling([]byte{0xFF, 0xFF}, RequestSystemCode, 0))

				require.NoError(t, card.Step(context.Background()))

				want := append([]byte{20, 0x01}, virt.TestIDm...)
				want = append(want, virt.TestPMm...)
				want = append(want, virt.TestSystemCode...)
				assert.Equal(t, want, reader.LastResponse())
				assert.Empty(t, sink.Lines)
			})
		}
	}
}

func TestCardWriteThenReadOverTheAir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	card, reader, store, _ := newTestCard(t)
	idm := virt.TestIDm

	data := append(virt.Block(0x00), virt.Block(0x10)...)
	reader.Send(virt.BuildWrite(idm, virt.TestServiceCode, data, 4, 9))
	require.NoError(t, card.Step(ctx))
	assert.Equal(t, statusResponse(CmdWriteWithoutEncryption, idm, 0x00, 0x00), reader.LastResponse())
	assert.Equal(t, data[:16], store.img[BlockAddr(4):BlockAddr(5)])

	reader.Offset = 6
	reader.Send(virt.BuildRead(idm, virt.TestServiceCode, 9, 4))
	require.NoError(t, card.Step(ctx))

	resp := reader.LastResponse()
	require.Len(t, resp, 13+32)
	assert.Equal(t, data[16:], resp[13:29])
	assert.Equal(t, data[:16], resp[29:45])
}

func TestCardStepUnsupportedCommand(t *testing.T) {
	t.Parallel()

	requestService := append(append([]byte{13, CmdRequestService}, virt.TestIDm...), 0x01, 0x09, 0x10)

	t.Run("logged and remembered", func(t *testing.T) {
		t.Parallel()
		card, reader, store, sink := newTestCard(t)
		reader.Send(requestService)

		require.NoError(t, card.Step(context.Background()))
		assert.Empty(t, reader.Transmissions())
		assert.Equal(t, []string{
			"Unsupported command",
			"02 01 2E 4C C5 8A 12 34 56 01 09 10",
		}, sink.Lines)

		last := card.state.LastError()
		assert.Equal(t, requestService, last[:len(requestService)])
		assert.Zero(t, store.updates)
	})

	t.Run("persisted when enabled", func(t *testing.T) {
		t.Parallel()
		card, reader, store, _ := newTestCard(t, WithPersistLastError(true))
		reader.Send(requestService)

		require.NoError(t, card.Step(context.Background()))
		assert.Equal(t, requestService, store.img[AddrLastError:AddrLastError+len(requestService)])
	})

	t.Run("readable through the system service", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		card, reader, _, _ := newTestCard(t)
		reader.Send(requestService)
		require.NoError(t, card.Step(ctx))

		reader.Send(virt.BuildRead(virt.TestIDm, SystemServiceCode, BlockLastError))
		require.NoError(t, card.Step(ctx))
		resp := reader.LastResponse()
		require.Len(t, resp, 13+16)
		assert.Equal(t, requestService, resp[13:13+len(requestService)])
	})

	t.Run("foreign card stays silent", func(t *testing.T) {
		t.Parallel()
		card, reader, _, sink := newTestCard(t)
		reader.Send(virt.BuildRequestResponse([]byte{0, 0, 0, 0, 0, 0, 0, 1}))

		require.NoError(t, card.Step(context.Background()))
		assert.Empty(t, reader.Transmissions())
		assert.True(t, sink.Contains("Unsupported command"))
	})
}

func TestCardStepDropsDamagedFrames(t *testing.T) {
	t.Parallel()
	card, reader, _, sink := newTestCard(t)
	reader.SendRaw(append(bytes.Repeat([]byte{0x55}, 24), 0x00))
	reader.Send(virt.BuildEcho(0x42))

	require.NoError(t, card.Step(context.Background()))
	assert.Equal(t, []string{"Sync error"}, sink.Lines)
	assert.Empty(t, reader.Transmissions())

	// The card keeps listening.
	require.NoError(t, card.Step(context.Background()))
	assert.Equal(t, virt.BuildEcho(0x42), reader.LastResponse())
}

func TestCardServe(t *testing.T) {
	t.Parallel()
	card, reader, _, sink := newTestCard(t)

	reader.Send(virt.BuildPolling([]byte{0xAB, 0xCD}, RequestNone, 0))
	reader.Send(virt.BuildEcho(0x01, 0x02))
	reader.Send(virt.BuildRequestResponse(virt.TestIDm))

	err := card.Serve(context.Background())
	require.ErrorIs(t, err, virt.ErrLineIdle)
	require.ErrorIs(t, err, ErrSamplerIO)

	require.GreaterOrEqual(t, len(sink.Lines), 2)
	assert.Equal(t, "SiliCa v"+Version, sink.Lines[0])
	assert.Equal(t, "Build on: "+BuildDate, sink.Lines[1])

	frames := reader.Transmissions()
	require.Len(t, frames, 3)
	for _, f := range frames {
		require.NoError(t, f.Err)
	}
	assert.Equal(t, byte(0x01), frames[0].Packet[1])
	assert.Equal(t, virt.BuildEcho(0x01, 0x02), frames[1].Packet)
	assert.Equal(t, byte(0x05), frames[2].Packet[1])
}

func TestCardServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	card, reader, _, _ := newTestCard(t)
	reader.Send(virt.BuildEcho())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, card.Serve(ctx), context.Canceled)
	assert.Positive(t, reader.Pending())
	assert.Empty(t, reader.Transmissions())
}

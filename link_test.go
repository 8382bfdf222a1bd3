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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-silica/internal/frame"
	virt "github.com/ZaparooProject/go-silica/internal/testing"
)

func newTestLink(t *testing.T, opts ...Option) (*Link, *virt.VirtualReader, *RecordingSink) {
	t.Helper()
	reader := virt.NewVirtualReader()
	sink := &RecordingSink{}
	link, err := NewLink(reader, reader, sink, opts...)
	require.NoError(t, err)
	link.sleep = func(time.Duration) {}
	return link, reader, sink
}

// faultySampler fails every transfer after the first failAfter.
type faultySampler struct {
	failAfter int
	calls     int
}

func (s *faultySampler) Transfer(byte) (byte, error) {
	s.calls++
	if s.calls > s.failAfter {
		return 0, errors.New("spi: bus fault")
	}
	return frame.SentinelLow, nil
}

type recordingModulator struct {
	states []bool
	err    error
}

func (m *recordingModulator) Enable(on bool) error {
	m.states = append(m.states, on)
	return m.err
}

func TestNewLinkValidation(t *testing.T) {
	t.Parallel()
	reader := virt.NewVirtualReader()

	_, err := NewLink(nil, reader, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLink(reader, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLink(reader, reader, nil, WithMinPreambleLength(0))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLinkReceiveEveryPhase(t *testing.T) {
	t.Parallel()

	cmd := virt.BuildRead(virt.TestIDm, virt.TestServiceCode, 0, 1, 2)
	for offset := range 8 {
		for _, inverted := range []bool{false, true} {
			t.Run(fmt.Sprintf("offset_%d_inverted_%v", offset, inverted), func(t *testing.T) {
				t.Parallel()
				link, reader, sink := newTestLink(t)
				reader.Offset = offset
				reader.Inverted = inverted
				reader.Send(cmd)

				got, err := link.Receive()
				require.NoError(t, err)
				assert.Equal(t, Packet(cmd), got)
				assert.Empty(t, sink.Lines)
			})
		}
	}
}

func TestLinkReceiveSkipsNoise(t *testing.T) {
	t.Parallel()
	link, reader, _ := newTestLink(t)

	// Short bursts between carrier bytes are dropped by the capture.
	reader.SendRaw([]byte{0x13, 0x37, 0x42})
	reader.SendRaw([]byte{0xC3})
	cmd := virt.BuildPolling([]byte{0xFF, 0xFF}, 0, 0)
	reader.Send(cmd)

	got, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, Packet(cmd), got)
}

func TestLinkReceiveBackToBack(t *testing.T) {
	t.Parallel()
	link, reader, _ := newTestLink(t)

	first := virt.BuildEcho(0x01)
	second := virt.BuildRequestResponse(virt.TestIDm)
	reader.Send(first)
	reader.Offset = 5
	reader.Send(second)

	got, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, Packet(first), got)

	got, err = link.Receive()
	require.NoError(t, err)
	assert.Equal(t, Packet(second), got)
}

func TestLinkReceiveErrors(t *testing.T) {
	t.Parallel()

	polling := virt.BuildPolling([]byte{0xFF, 0xFF}, 0, 0)
	badEDC := frame.AppendCRC16(append([]byte(nil), polling...))
	badEDC[len(badEDC)-1] ^= 0x01
	longLength := frame.AppendCRC16([]byte{0x30, 0x00, 0xFF, 0xFF, 0x00, 0x00})

	tests := []struct {
		wantErr error
		name    string
		line    string
		stage   string
		raw     []byte
	}{
		{
			name:    "overflow",
			raw:     bytes.Repeat([]byte{frame.IdleEven}, frame.MaxCaptureLength+8),
			wantErr: ErrFrameOverflow,
			line:    "Frame capture error",
			stage:   StageCapture,
		},
		{
			name:    "no preamble",
			raw:     append(bytes.Repeat([]byte{0x13}, 20), frame.SentinelLow),
			wantErr: ErrPreambleTooShort,
			line:    "Preamble error",
			stage:   StagePreamble,
		},
		{
			name:    "preamble without sync",
			raw:     append(bytes.Repeat([]byte{frame.IdleEven}, 20), frame.SentinelLow),
			wantErr: ErrSyncNotFound,
			line:    "Sync error",
			stage:   StageSync,
		},
		{
			name:    "length byte past the frame",
			raw:     virt.EncodeFrame(longLength, 0, false),
			wantErr: ErrLengthMismatch,
			line:    "Length error",
			stage:   StageLength,
		},
		{
			name:    "corrupted EDC",
			raw:     virt.EncodeFrame(badEDC, 3, false),
			wantErr: ErrEDCMismatch,
			line:    "EDC error",
			stage:   StageEDC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			link, reader, sink := newTestLink(t)
			reader.SendRaw(tt.raw)

			got, err := link.Receive()
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
			assert.True(t, IsLinkError(err))

			var le *LinkError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.stage, le.Stage)
			assert.Equal(t, []string{tt.line}, sink.Lines)
		})
	}
}

func TestLinkReceiveSamplerFailure(t *testing.T) {
	t.Parallel()
	link, err := NewLink(&faultySampler{failAfter: 3}, &recordingModulator{}, nil)
	require.NoError(t, err)

	_, err = link.Receive()
	require.ErrorIs(t, err, ErrSamplerIO)
	assert.False(t, IsLinkError(err))
}

func TestLinkTransmit(t *testing.T) {
	t.Parallel()
	link, reader, _ := newTestLink(t)

	resp := append(append([]byte{11, 0x05}, virt.TestIDm...), 0x00)
	require.NoError(t, link.Transmit(Packet(resp)))

	toggles := reader.Toggles()
	require.Len(t, toggles, 2)
	assert.True(t, toggles[0].On)
	assert.Equal(t, []byte{0x00, 0x00}, toggles[0].Out)
	assert.False(t, toggles[1].On)

	symbols := frame.Encode(frame.Encode(nil, frame.Header), frame.AppendCRC16(append([]byte(nil), resp...)))
	out := toggles[1].Out
	require.Len(t, out, len(symbols)+2)
	assert.Equal(t, symbols, out[:len(symbols)])
	assert.Equal(t, []byte{0x00, 0x00}, out[len(symbols):])

	require.Len(t, reader.Transmissions(), 1)
	require.NoError(t, reader.Transmissions()[0].Err)
	assert.Equal(t, resp, reader.LastResponse())
}

func TestLinkTransmitFillers(t *testing.T) {
	t.Parallel()

	for _, fillers := range []int{0, 1, 5} {
		link, reader, _ := newTestLink(t, WithSettleFillers(fillers))
		require.NoError(t, link.Transmit(Packet(virt.BuildEcho())))

		toggles := reader.Toggles()
		require.Len(t, toggles, 2)
		assert.Len(t, toggles[0].Out, fillers)
		assert.Equal(t, virt.BuildEcho(), reader.LastResponse())
	}
}

func TestLinkTransmitIgnoresTrailingBytes(t *testing.T) {
	t.Parallel()
	link, reader, _ := newTestLink(t)

	// Only the declared length goes on the air.
	require.NoError(t, link.Transmit(Packet{0x03, 0xF0, 0x00, 0xEE, 0xEE}))
	assert.Equal(t, []byte{0x03, 0xF0, 0x00}, reader.LastResponse())
}

func TestLinkTransmitRejectsBadLength(t *testing.T) {
	t.Parallel()
	link, reader, _ := newTestLink(t)

	require.NoError(t, link.Transmit(nil))
	require.ErrorIs(t, link.Transmit(Packet{0x09, 0x01}), ErrLengthMismatch)
	require.ErrorIs(t, link.Transmit(Packet{0x00, 0x01}), ErrLengthMismatch)
	assert.Empty(t, reader.Toggles())
}

func TestLinkTransmitDisablesModulationOnFailure(t *testing.T) {
	t.Parallel()

	// Fail partway through the symbols.
	mod := &recordingModulator{}
	link, err := NewLink(&faultySampler{failAfter: 10}, mod, nil)
	require.NoError(t, err)

	err = link.Transmit(Packet(virt.BuildEcho(0x01, 0x02)))
	require.ErrorIs(t, err, ErrSamplerIO)
	assert.Equal(t, []bool{true, false}, mod.states)
}

func TestLinkTransmitModulatorFailure(t *testing.T) {
	t.Parallel()
	mod := &recordingModulator{err: errors.New("gpio: write failed")}
	link, err := NewLink(&faultySampler{failAfter: 1 << 20}, mod, nil)
	require.NoError(t, err)

	err = link.Transmit(Packet(virt.BuildEcho()))
	require.ErrorIs(t, err, ErrModulation)

	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, StageModulate, le.Stage)
	assert.Equal(t, []bool{true}, mod.states)
}

func TestLinkRespondPollingDelay(t *testing.T) {
	t.Parallel()

	polling := Packet(virt.BuildPolling([]byte{0xFF, 0xFF}, 0, 0))
	echo := Packet(virt.BuildEcho())

	tests := []struct {
		name   string
		cmd    Packet
		resp   Packet
		slept  []time.Duration
		frames int
	}{
		{name: "polling", cmd: polling, resp: echo, slept: []time.Duration{1500 * time.Microsecond}, frames: 1},
		{name: "other command", cmd: echo, resp: echo, frames: 1},
		{name: "no response", cmd: polling, resp: nil, frames: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			link, reader, _ := newTestLink(t)
			var slept []time.Duration
			link.sleep = func(d time.Duration) { slept = append(slept, d) }

			require.NoError(t, link.Respond(tt.cmd, tt.resp))
			assert.Equal(t, tt.slept, slept)
			assert.Len(t, reader.Transmissions(), tt.frames)
		})
	}

	t.Run("delay disabled", func(t *testing.T) {
		t.Parallel()
		link, _, _ := newTestLink(t, WithPollingDelay(0))
		called := false
		link.sleep = func(time.Duration) { called = true }

		require.NoError(t, link.Respond(polling, echo))
		assert.False(t, called)
	})
}

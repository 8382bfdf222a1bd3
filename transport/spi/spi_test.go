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

package spi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"

	silica "github.com/ZaparooProject/go-silica"
	virt "github.com/ZaparooProject/go-silica/internal/testing"
	"github.com/ZaparooProject/go-silica/store/memory"
)

// readerConn is an spi.Conn whose MISO line is driven by a virtual reader.
type readerConn struct {
	reader   *virt.VirtualReader
	err      error
	lsbFirst bool
	txs      int
}

func (c *readerConn) String() string { return "fake://spi" }

func (*readerConn) Duplex() conn.Duplex { return conn.Full }

func (c *readerConn) Tx(w, r []byte) error {
	if c.err != nil {
		return c.err
	}
	c.txs++
	out := w[0]
	if c.lsbFirst {
		out = reverseBit(out)
	}
	in, err := c.reader.Transfer(out)
	if err != nil {
		return err
	}
	if c.lsbFirst {
		in = reverseBit(in)
	}
	r[0] = in
	return nil
}

func (c *readerConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.Conn = (*readerConn)(nil)

// wiredPin forwards the modulation level to the virtual reader.
type wiredPin struct {
	*gpiotest.Pin
	reader    *virt.VirtualReader
	activeLow bool
}

func (p *wiredPin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	return p.reader.Enable(bool(l) != p.activeLow)
}

func TestReverseBit(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want byte }{
		{0x00, 0x00}, {0x01, 0x80}, {0xB2, 0x4D}, {0x55, 0xAA}, {0xFF, 0xFF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reverseBit(tt.in), "%02X", tt.in)
		assert.Equal(t, tt.in, reverseBit(reverseBit(tt.in)))
	}
}

func TestSamplerTransfer(t *testing.T) {
	t.Parallel()

	for _, lsb := range []bool{false, true} {
		reader := virt.NewVirtualReader()
		reader.LeadIn = 0
		reader.SendRaw([]byte{0x12, 0x9A})
		s := NewSampler(&readerConn{reader: reader, lsbFirst: lsb}, lsb)

		b, err := s.Transfer(0x00)
		require.NoError(t, err)
		assert.Equal(t, byte(0x12), b)
		b, err = s.Transfer(0x00)
		require.NoError(t, err)
		assert.Equal(t, byte(0x9A), b)
	}
}

func TestSamplerTransferError(t *testing.T) {
	t.Parallel()
	boom := errors.New("spi: transfer aborted")
	s := NewSampler(&readerConn{err: boom}, false)

	_, err := s.Transfer(0x55)
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.Close())
}

func TestModulatorLevels(t *testing.T) {
	t.Parallel()

	for _, activeLow := range []bool{false, true} {
		pin := &gpiotest.Pin{N: "GPIO25", Num: 25}
		m, err := NewModulator(pin, activeLow)
		require.NoError(t, err)
		assert.Equal(t, gpio.Level(activeLow), pin.Read(), "idle level")

		require.NoError(t, m.Enable(true))
		assert.Equal(t, gpio.Level(!activeLow), pin.Read(), "modulating level")

		require.NoError(t, m.Enable(false))
		assert.Equal(t, gpio.Level(activeLow), pin.Read())
	}
}

func TestCardOverSPI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := virt.NewVirtualReader()
	reader.Offset = 3
	c := &readerConn{reader: reader, lsbFirst: true}
	sampler := NewSampler(c, true)
	mod, err := NewModulator(&wiredPin{Pin: &gpiotest.Pin{N: "GPIO25"}, reader: reader}, false)
	require.NoError(t, err)

	state, err := silica.LoadCardState(ctx, memory.New(virt.BuildCardImage(12)))
	require.NoError(t, err)
	link, err := silica.NewLink(sampler, mod, nil, silica.WithPollingDelay(time.Microsecond))
	require.NoError(t, err)
	card := silica.NewCard(link, silica.NewProcessor(state, nil), nil)

	reader.Send(virt.BuildPolling([]byte{0xFF, 0xFF}, silica.RequestNone, 0))
	require.NoError(t, card.Step(ctx))

	want := append(append([]byte{18, 0x01}, virt.TestIDm...), virt.TestPMm...)
	assert.Equal(t, want, reader.LastResponse())
	assert.Positive(t, c.txs)
}

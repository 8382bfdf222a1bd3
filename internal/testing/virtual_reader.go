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

package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-silica/internal/frame"
)

// ErrLineIdle is returned by VirtualReader once it has nothing left to send
// and the line has stayed quiet for IdleLimit transfers.
var ErrLineIdle = errors.New("virtual reader: line idle")

// DefaultIdleLimit is the number of carrier-only bytes a VirtualReader
// delivers after its queue runs dry before reporting ErrLineIdle.
const DefaultIdleLimit = 64

// Toggle records one modulation switch and every byte the card clocked out
// since the previous switch.
type Toggle struct {
	Out []byte
	On  bool
}

// Transmission is one response the card modulated onto the field.
type Transmission struct {
	Err    error  // Decode failure, if any
	Raw    []byte // Symbols clocked out while modulating
	Packet []byte // Decoded packet without EDC
}

// VirtualReader plays the reader side of the air interface. Frames queued
// with Send are delivered as the raw bytes an oversampling shift register
// would see at the configured bit phase and polarity; bytes clocked out
// while the card modulates are collected and decoded as responses.
//
// It implements both the bit sampler and the modulator of the card.
type VirtualReader struct {
	queue         []byte
	out           []byte
	tx            []byte
	toggles       []Toggle
	transmissions []Transmission
	// Offset is the bit phase (0..7) of the next frame.
	Offset int
	// LeadIn is the number of carrier-only bytes before each frame.
	LeadIn int
	// IdleLimit bounds quiet transfers once the queue is empty.
	IdleLimit  int
	idle       int
	Inverted   bool
	modulating bool
}

// NewVirtualReader creates a reader sending byte-aligned, true-polarity
// frames.
func NewVirtualReader() *VirtualReader {
	return &VirtualReader{
		LeadIn:    4,
		IdleLimit: DefaultIdleLimit,
	}
}

// Send queues a command packet (length byte first, no EDC). The EDC is
// appended and the frame encoded at the current Offset and polarity.
func (r *VirtualReader) Send(packet []byte) {
	r.SendRaw(EncodeFrame(frame.AppendCRC16(append([]byte(nil), packet...)), r.Offset, r.Inverted))
}

// SendRaw queues raw line bytes preceded by the lead-in.
func (r *VirtualReader) SendRaw(raw []byte) {
	carrier := byte(frame.SentinelLow)
	if r.Inverted {
		carrier = frame.SentinelHigh
	}
	for range r.LeadIn {
		r.queue = append(r.queue, carrier)
	}
	r.queue = append(r.queue, raw...)
}

// Pending returns the number of queued raw bytes not yet sampled.
func (r *VirtualReader) Pending() int {
	return len(r.queue)
}

// Transfer implements the card's bit sampler.
func (r *VirtualReader) Transfer(out byte) (byte, error) {
	r.out = append(r.out, out)
	if r.modulating {
		r.tx = append(r.tx, out)
		return frame.SentinelLow, nil
	}

	if len(r.queue) > 0 {
		b := r.queue[0]
		r.queue = r.queue[1:]
		r.idle = 0
		return b, nil
	}

	r.idle++
	if r.idle > r.IdleLimit {
		return 0, ErrLineIdle
	}
	return frame.SentinelLow, nil
}

// Enable implements the card's modulator.
func (r *VirtualReader) Enable(on bool) error {
	r.toggles = append(r.toggles, Toggle{On: on, Out: r.out})
	r.out = nil

	switch {
	case on && !r.modulating:
		r.tx = nil
	case !on && r.modulating:
		raw := r.tx
		// Fillers clocked out before switching off are not part of the frame.
		pkt, err := DecodeTransmission(raw)
		r.transmissions = append(r.transmissions, Transmission{Raw: raw, Packet: pkt, Err: err})
	}
	r.modulating = on
	return nil
}

// Toggles returns every modulation switch so far.
func (r *VirtualReader) Toggles() []Toggle {
	return r.toggles
}

// Transmissions returns every response decoded so far.
func (r *VirtualReader) Transmissions() []Transmission {
	return r.transmissions
}

// LastResponse returns the most recent decoded response, or nil.
func (r *VirtualReader) LastResponse() []byte {
	if len(r.transmissions) == 0 {
		return nil
	}
	return r.transmissions[len(r.transmissions)-1].Packet
}

// Reset drops queued frames and recorded traffic.
func (r *VirtualReader) Reset() {
	r.queue = nil
	r.out = nil
	r.tx = nil
	r.toggles = nil
	r.transmissions = nil
	r.idle = 0
	r.modulating = false
}

// EncodeFrame returns the raw line bytes for body (packet plus EDC) as a
// sampler sees them: header and body Manchester-coded, delayed by offset
// bits, optionally inverted, and closed by an unmodulated carrier byte.
func EncodeFrame(body []byte, offset int, inverted bool) []byte {
	symbols := frame.Encode(nil, frame.Header)
	symbols = frame.Encode(symbols, body)

	raw := make([]byte, len(symbols)+2)
	shift := uint(offset & 7)
	for i, b := range symbols {
		raw[i] |= b >> shift
		if shift > 0 {
			raw[i+1] |= b << (8 - shift)
		}
	}
	// The preamble idles before the frame too: fill the bits the shift
	// opened up with the idle pattern continued backwards.
	if shift > 0 {
		raw[0] |= frame.IdleEven << (8 - shift)
	}

	if inverted {
		for i := range raw {
			raw[i] = ^raw[i]
		}
	}
	return raw
}

// DecodeTransmission decodes symbols clocked out by the card into the
// response packet. It checks the header and the EDC.
func DecodeTransmission(raw []byte) ([]byte, error) {
	header := frame.Encode(nil, frame.Header)
	if len(raw) < len(header)+2 {
		return nil, fmt.Errorf("transmission too short: %d symbols", len(raw))
	}
	for i, sym := range header {
		if raw[i] != sym {
			return nil, fmt.Errorf("bad header symbol %d: %02X", i, raw[i])
		}
	}

	body := raw[len(header):]
	decoded := make([]byte, len(body)/2)
	n := frame.Decode(decoded, body, 0, len(body)*8, false)
	length, err := frame.ValidatePacket(decoded[:n])
	if err != nil {
		return nil, fmt.Errorf("decode transmission: %w", err)
	}
	for i := range length + frame.EDCLength {
		hi, lo := frame.EncodeByte(decoded[i])
		if body[2*i] != hi || body[2*i+1] != lo {
			return nil, fmt.Errorf("symbol pair %d is not Manchester coded", i)
		}
	}
	return decoded[:length], nil
}

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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-silica/internal/frame"
)

// Link is the physical and data link layer of the card. It owns the raw
// capture buffer and the decoded command buffer; a Packet returned by
// Receive is valid until the next Receive.
//
// Link is not safe for concurrent use.
type Link struct {
	sampler   BitSampler
	modulator Modulator
	sink      DiagnosticSink
	cfg       *Config
	source    frame.Source
	sleep     func(time.Duration)
	rx        [frame.MaxCaptureLength]byte
	cmd       [frame.MaxPacketLength]byte
	body      []byte
	tx        []byte
}

// NewLink creates a link over sampler and modulator. Diagnostics go to
// sink, or nowhere when sink is nil.
func NewLink(sampler BitSampler, modulator Modulator, sink DiagnosticSink, opts ...Option) (*Link, error) {
	if sampler == nil || modulator == nil {
		return nil, fmt.Errorf("%w: link needs a sampler and a modulator", ErrInvalidConfig)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = DiscardSink{}
	}

	l := &Link{
		sampler:   sampler,
		modulator: modulator,
		sink:      sink,
		cfg:       cfg,
		sleep:     time.Sleep,
		body:      make([]byte, 0, MaxPacketLength+frame.EDCLength),
		tx:        make([]byte, 0, 2*(len(frame.Header)+MaxPacketLength+frame.EDCLength)),
	}
	l.source = l.sample
	return l, nil
}

func (l *Link) sample() (byte, error) {
	return l.sampler.Transfer(0x00)
}

// Receive blocks until a frame ends on the line and returns its verified
// packet. Structural failures are reported on the diagnostic sink and
// returned as *LinkError; see IsLinkError.
func (l *Link) Receive() (Packet, error) {
	n, err := frame.Capture(l.rx[:], l.source)
	if err != nil {
		if errors.Is(err, frame.ErrOverflow) {
			return nil, l.fail(StageCapture, "Frame capture error", err)
		}
		return nil, NewLinkError("receive", StageSample, fmt.Errorf("%w: %w", ErrSamplerIO, err))
	}
	raw := l.rx[:n]

	phase, err := frame.FindSync(raw, l.cfg.MinPreambleLength)
	switch {
	case errors.Is(err, frame.ErrPreambleTooShort):
		return nil, l.fail(StagePreamble, "Preamble error", err)
	case err != nil:
		return nil, l.fail(StageSync, "Sync error", err)
	}

	decoded := frame.Decode(l.cmd[:], raw, phase.StartBit(), n*8, phase.Inverted)
	length, err := frame.ValidatePacket(l.cmd[:decoded])
	switch {
	case errors.Is(err, frame.ErrLength):
		return nil, l.fail(StageLength, "Length error", err)
	case err != nil:
		return nil, l.fail(StageEDC, "EDC error", err)
	}

	Debugf("rx %d raw bytes, sync at %d+%d inverted=%v, %d byte packet",
		n, phase.Index, phase.Offset, phase.Inverted, length)
	return Packet(l.cmd[:length]), nil
}

func (l *Link) fail(stage, line string, err error) error {
	l.sink.Println(line)
	return NewLinkError("receive", stage, err)
}

// Transmit sends resp under modulation: header, body and EDC, each byte as
// two Manchester symbols. An absent packet sends nothing. Modulation is
// switched off again even when a transfer fails.
func (l *Link) Transmit(resp Packet) (err error) {
	if resp.Absent() {
		return nil
	}
	length := resp.Len()
	if length == 0 || length > len(resp) {
		return fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, length, len(resp))
	}

	l.body = frame.AppendCRC16(append(l.body[:0], resp[:length]...))
	l.tx = frame.Encode(l.tx[:0], frame.Header)
	l.tx = frame.Encode(l.tx, l.body)

	if err := l.modulate(true); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, l.modulate(false))
	}()

	for _, sym := range l.tx {
		if _, err := l.sampler.Transfer(sym); err != nil {
			return NewLinkError("transmit", StageSample, fmt.Errorf("%w: %w", ErrSamplerIO, err))
		}
	}
	Debugf("tx %s", resp[:length])
	return nil
}

// modulate clocks out the settle fillers, then switches the modulator.
// Switching off happens even when a filler transfer fails.
func (l *Link) modulate(on bool) error {
	var fillErr error
	for range l.cfg.SettleFillers {
		if _, err := l.sampler.Transfer(0x00); err != nil {
			fillErr = NewLinkError("transmit", StageSample, fmt.Errorf("%w: %w", ErrSamplerIO, err))
			break
		}
	}
	if fillErr != nil && on {
		return fillErr
	}
	if err := l.modulator.Enable(on); err != nil {
		return errors.Join(fillErr, NewLinkError("transmit", StageModulate, fmt.Errorf("%w: %w", ErrModulation, err)))
	}
	return fillErr
}

// Respond transmits resp as the answer to cmd. Polling answers are held
// back by the configured delay so they land in the first time slot.
func (l *Link) Respond(cmd, resp Packet) error {
	if resp.Absent() {
		return nil
	}
	if cmd.IsPolling() && l.cfg.PollingDelay > 0 {
		l.sleep(l.cfg.PollingDelay)
	}
	return l.Transmit(resp)
}

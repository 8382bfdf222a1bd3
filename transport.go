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
	"log/slog"
	"strings"
)

// BitSampler is the synchronous serial primitive wired to the oversampling
// shift register. Each Transfer shifts out one byte (the modulation pattern
// while transmitting) and returns the byte shifted in.
//
// Transfer blocks until the peripheral has clocked a full byte. It is only
// ever called from one goroutine.
type BitSampler interface {
	Transfer(out byte) (byte, error)
}

// Modulator gates the load-modulation output. While disabled, bytes sent
// through the BitSampler do not reach the antenna.
type Modulator interface {
	Enable(on bool) error
}

// DiagnosticSink is the character-oriented diagnostic output of the card.
type DiagnosticSink interface {
	Print(s string)
	Println(s string)
}

// BlockStore is the durable storage behind CardState. Addresses are byte
// offsets into the card image (see the Addr constants). Updates block until
// durable; a store still completing an earlier write returns ErrStorageBusy.
type BlockStore interface {
	ReadBlock(addr int, p []byte) error
	UpdateBlock(addr int, p []byte) error
	ReadWord(addr int) (uint16, error)
	UpdateWord(addr int, v uint16) error
}

// DiscardSink drops all diagnostics.
type DiscardSink struct{}

func (DiscardSink) Print(string)   {}
func (DiscardSink) Println(string) {}

// SlogSink forwards diagnostic lines to a slog.Logger. Partial lines written
// with Print are buffered until the next Println.
type SlogSink struct {
	logger  *slog.Logger
	pending strings.Builder
}

// NewSlogSink creates a sink logging at Info level through logger, or
// through slog.Default when logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Print(msg string) {
	s.pending.WriteString(msg)
}

func (s *SlogSink) Println(msg string) {
	s.pending.WriteString(msg)
	line := s.pending.String()
	s.pending.Reset()
	s.logger.Info(line, "source", "card")
	Debugln(line)
}

// RecordingSink keeps every line written to it. Useful in tests and for the
// self-test report.
type RecordingSink struct {
	Lines   []string
	pending strings.Builder
}

func (r *RecordingSink) Print(msg string) {
	r.pending.WriteString(msg)
}

func (r *RecordingSink) Println(msg string) {
	r.pending.WriteString(msg)
	r.Lines = append(r.Lines, r.pending.String())
	r.pending.Reset()
}

// Contains reports whether any complete line contains substr.
func (r *RecordingSink) Contains(substr string) bool {
	for _, line := range r.Lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

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
	"math/rand/v2"
	"time"
)

// Sampler is the byte-at-a-time transfer primitive of the card.
type Sampler interface {
	Transfer(out byte) (byte, error)
}

// JitterConfig configures the behavior of JitterySampler.
type JitterConfig struct {
	// MaxLatency delays each transfer by up to this much
	MaxLatency time.Duration
	// FlipEvery flips one random bit in roughly one of every FlipEvery
	// sampled bytes (0 disables)
	FlipEvery int
	// BurstEvery injects a short noise burst closed by carrier before
	// roughly one of every BurstEvery sampled bytes (0 disables)
	BurstEvery int
	// BurstMax bounds the burst length; bursts stay shorter than the
	// shortest acceptable capture
	BurstMax int
	Seed     uint64
}

// DefaultJitterConfig returns a configuration that only injects noise
// bursts, which a correct capture loop always discards.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		BurstEvery: 200,
		BurstMax:   12,
	}
}

// JitterySampler wraps a Sampler to reproduce a noisy field with random
// latency, single bit errors, and short bursts of garbage between frames.
type JitterySampler struct {
	backend Sampler
	rng     *rand.Rand
	pending []byte
	config  JitterConfig
	flips   int
	bursts  int
	busy    bool // Backend is inside a frame
	sending bool // Card is modulating
}

// NewJitterySampler wraps backend with noise simulation.
func NewJitterySampler(backend Sampler, config JitterConfig) *JitterySampler {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	if config.BurstMax < 1 {
		config.BurstMax = 1
	}
	return &JitterySampler{backend: backend, config: config, rng: rng}
}

// Enable tracks the card's modulation and forwards it to the backend when
// the backend is also its modulator.
func (j *JitterySampler) Enable(on bool) error {
	j.sending = on
	if m, ok := j.backend.(interface{ Enable(bool) error }); ok {
		return m.Enable(on) //nolint:wrapcheck // Pass-through wrapper
	}
	return nil
}

// Transfer samples through the backend with noise applied. Bytes clocked
// out while transmitting pass through unchanged.
func (j *JitterySampler) Transfer(out byte) (byte, error) {
	if j.sending {
		return j.backend.Transfer(out) //nolint:wrapcheck // Pass-through wrapper
	}

	if j.config.MaxLatency > 0 {
		if d := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); d > 0 {
			time.Sleep(d)
		}
	}

	if len(j.pending) > 0 {
		b := j.pending[0]
		j.pending = j.pending[1:]
		return b, nil
	}

	if !j.busy && j.config.BurstEvery > 0 && j.rng.IntN(j.config.BurstEvery) == 0 {
		j.bursts++
		j.pending = j.burst()
		b := j.pending[0]
		j.pending = j.pending[1:]
		return b, nil
	}

	b, err := j.backend.Transfer(out)
	if err != nil {
		return b, err //nolint:wrapcheck // Pass-through wrapper
	}
	// Bursts only land on a quiet carrier, never inside a frame.
	j.busy = b != 0x00 && b != 0xFF
	if j.config.FlipEvery > 0 && j.rng.IntN(j.config.FlipEvery) == 0 {
		j.flips++
		b ^= 1 << j.rng.IntN(8)
	}
	return b, nil
}

// burst returns garbage bytes followed by a carrier sentinel. None of the
// garbage bytes is itself a sentinel.
func (j *JitterySampler) burst() []byte {
	n := 1 + j.rng.IntN(j.config.BurstMax)
	out := make([]byte, 0, n+1)
	for range n {
		b := byte(1 + j.rng.IntN(0xFE))
		out = append(out, b)
	}
	return append(out, 0x00)
}

// Flips returns the number of bit errors injected so far.
func (j *JitterySampler) Flips() int {
	return j.flips
}

// Bursts returns the number of noise bursts injected so far.
func (j *JitterySampler) Bursts() int {
	return j.bursts
}

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

import "errors"

// Capture and synchronization errors
var (
	ErrOverflow         = errors.New("frame capture overflow")
	ErrPreambleTooShort = errors.New("preamble too short")
	ErrSyncNotFound     = errors.New("sync code not found")
)

// Source delivers one raw sampler byte per call, blocking until the shift
// register has one ready.
type Source func() (byte, error)

// IsSentinel reports whether b is an unmodulated line byte.
func IsSentinel(b byte) bool {
	return b == SentinelLow || b == SentinelHigh
}

// IsIdle reports whether b is a Manchester-coded run of zero bits.
func IsIdle(b byte) bool {
	return b == IdleEven || b == IdleOdd
}

// Capture fills buf with raw bytes from src until the end-of-envelope
// sentinel. The returned length includes the sentinel itself.
//
// A sentinel arriving before MinCaptureLength bytes is treated as noise and
// capture starts over at the beginning of buf. ErrOverflow is returned when
// buf fills up without a sentinel. Errors from src are returned unchanged.
func Capture(buf []byte, src Source) (int, error) {
	i := 0
	for i < len(buf) {
		b, err := src()
		if err != nil {
			return 0, err
		}
		buf[i] = b

		if !IsSentinel(b) {
			i++
			continue
		}
		if i < MinCaptureLength {
			i = 0
			continue
		}
		return i + 1, nil
	}
	return 0, ErrOverflow
}

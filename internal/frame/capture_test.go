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

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource replays raw bytes and reports io.EOF once they run out.
func sliceSource(raw []byte) Source {
	pos := 0
	return func() (byte, error) {
		if pos >= len(raw) {
			return 0, io.EOF
		}
		b := raw[pos]
		pos++
		return b, nil
	}
}

func TestCapture(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte{0x55}, 20)

	t.Run("stops at sentinel", func(t *testing.T) {
		t.Parallel()
		raw := append(append([]byte(nil), body...), 0x00, 0x12)
		buf := make([]byte, MaxCaptureLength)

		n, err := Capture(buf, sliceSource(raw))
		require.NoError(t, err)
		assert.Equal(t, len(body)+1, n)
		assert.Equal(t, byte(0x00), buf[n-1])
	})

	t.Run("high sentinel", func(t *testing.T) {
		t.Parallel()
		raw := append(append([]byte(nil), body...), 0xFF)
		buf := make([]byte, MaxCaptureLength)

		n, err := Capture(buf, sliceSource(raw))
		require.NoError(t, err)
		assert.Equal(t, len(body)+1, n)
	})

	t.Run("short bursts are noise", func(t *testing.T) {
		t.Parallel()
		raw := []byte{0x00, 0x00, 0x12, 0x34, 0xFF, 0x00}
		raw = append(raw, body...)
		raw = append(raw, 0x00)
		buf := make([]byte, MaxCaptureLength)

		n, err := Capture(buf, sliceSource(raw))
		require.NoError(t, err)
		assert.Equal(t, len(body)+1, n)
		assert.Equal(t, body, buf[:len(body)])
	})

	t.Run("exactly minimum length", func(t *testing.T) {
		t.Parallel()
		raw := append(bytes.Repeat([]byte{0xAA}, MinCaptureLength), 0x00)
		buf := make([]byte, MaxCaptureLength)

		n, err := Capture(buf, sliceSource(raw))
		require.NoError(t, err)
		assert.Equal(t, MinCaptureLength+1, n)
	})

	t.Run("overflow", func(t *testing.T) {
		t.Parallel()
		buf := make([]byte, 32)
		raw := bytes.Repeat([]byte{0x55}, 64)

		_, err := Capture(buf, sliceSource(raw))
		require.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("source error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("shift register fault")
		buf := make([]byte, MaxCaptureLength)

		_, err := Capture(buf, func() (byte, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	})
}

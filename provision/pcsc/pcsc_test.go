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

package pcsc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickReader(t *testing.T) {
	t.Parallel()
	readers := []string{"Generic Smart Card 00 00", "ACS ACR122U PICC Interface 01 00"}

	got, err := pickReader(readers, "")
	require.NoError(t, err)
	assert.Equal(t, readers[0], got)

	got, err = pickReader(readers, "acr122")
	require.NoError(t, err)
	assert.Equal(t, readers[1], got)

	_, err = pickReader(readers, "pn533")
	require.ErrorIs(t, err, ErrNoReader)
	_, err = pickReader(nil, "")
	require.ErrorIs(t, err, ErrNoReader)
}

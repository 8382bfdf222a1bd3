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

// Package silica implements the card side of the JIS X 6319-4 (FeliCa)
// contactless protocol.
//
// The package is layered the same way the air interface is:
//
//   - A BitSampler delivers raw bytes from an oversampling shift register.
//     Link captures a frame, locates the sync code at any of nine bit phases
//     in either polarity, Manchester-decodes the body and checks its EDC.
//   - Processor interprets a verified command against a CardState and builds
//     the response packet, or returns nil when the card must stay silent.
//   - Link encodes the response and drives the Modulator around it.
//
// CardState owns the card identity, codes and data blocks, and commits every
// mutation to a BlockStore before the command reports success. Card ties the
// pieces together into a serving loop.
//
// Hardware backends live in transport/spi and transport/uart; block stores in
// store/memory, store/file and store/eeprom.
package silica

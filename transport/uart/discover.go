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

package uart

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoBridge is returned when no serial port looks like a card bridge.
var ErrNoBridge = errors.New("no serial bridge found")

// Candidate is a serial port that may host the bridge.
type Candidate struct {
	Path   string
	VIDPID string
	Serial string
	Known  bool
}

// USB-serial chips seen on bridge boards. Format: VID:PID, upper case.
var knownBridges = []string{
	"2E8A:000A", // Raspberry Pi RP2040 CDC
	"0403:6001", // FTDI FT232R
	"0403:6014", // FTDI FT232H
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// listPorts is swapped out in tests.
var listPorts = enumerator.GetDetailedPortsList

// FindBridges lists USB serial ports, known bridge chips first. Ports in
// ignore are skipped.
func FindBridges(ignore []string) ([]Candidate, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var known, other []Candidate
	for _, p := range ports {
		if p == nil || !p.IsUSB || isIgnored(p.Name, ignore) {
			continue
		}
		c := Candidate{
			Path:   p.Name,
			VIDPID: strings.ToUpper(p.VID + ":" + p.PID),
			Serial: p.SerialNumber,
		}
		c.Known = isKnownBridge(c.VIDPID)
		if c.Known {
			known = append(known, c)
		} else {
			other = append(other, c)
		}
	}

	found := append(known, other...)
	if len(found) == 0 {
		return nil, ErrNoBridge
	}
	return found, nil
}

// FindBridge returns the best candidate port.
func FindBridge(ignore []string) (string, error) {
	found, err := FindBridges(ignore)
	if err != nil {
		return "", err
	}
	return found[0].Path, nil
}

func isKnownBridge(vidpid string) bool {
	for _, k := range knownBridges {
		if vidpid == k {
			return true
		}
	}
	return false
}

// isIgnored compares cleaned paths, case-insensitively for Windows COM names.
func isIgnored(path string, ignore []string) bool {
	norm := strings.ToLower(filepath.Clean(path))
	for _, ig := range ignore {
		if ig == "" {
			continue
		}
		if ig == path || strings.ToLower(filepath.Clean(ig)) == norm {
			return true
		}
	}
	return false
}

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

package provision

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	silica "github.com/ZaparooProject/go-silica"
)

// IDmPlaceholder in a typed command is replaced by the last polled IDm.
const IDmPlaceholder = "[idm]"

// Session is an interactive raw command exchange. Commands are hex frames
// without the length byte; responses are echoed with the card's IDm shown
// as [IDm].
type Session struct {
	client *Client
	out    io.Writer
	errOut io.Writer
	idm    string
}

// NewSession prints exchanges to out and problems to errOut.
func NewSession(client *Client, out, errOut io.Writer) *Session {
	return &Session{client: client, out: out, errOut: errOut}
}

// Run sends a polling command for systemCode, then one command per input
// line until in is exhausted or ctx is done. Blank lines are ignored.
func (s *Session) Run(ctx context.Context, in io.Reader, systemCode [silica.SystemCodeLength]byte) error {
	first := fmt.Sprintf("00 %s 00 00", strings.ToUpper(hex.EncodeToString(systemCode[:])))
	fmt.Fprintln(s.out, "<< # "+first)
	if err := s.Send(first); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "<< # ")
		if !scanner.Scan() {
			fmt.Fprintln(s.errOut)
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read command: %w", err)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // cancellation is passed through as is
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.Send(line); err != nil {
			return err
		}
	}
}

// Send exchanges one typed command. Input and card errors are reported on
// errOut and swallowed; only reader failures are returned.
func (s *Session) Send(line string) error {
	raw := strings.ReplaceAll(strings.ToLower(line), IDmPlaceholder, s.idm)
	payload, err := silica.ParseHexPacket(raw)
	if err != nil || len(payload) == 0 {
		fmt.Fprintf(s.errOut, "Invalid input: %q\n", line)
		return nil
	}

	rsp, err := s.client.Exchange(payload)
	switch {
	case errors.Is(err, ErrNoResponse):
		fmt.Fprintln(s.errOut, ">> # <no response>")
		return nil
	case errors.Is(err, ErrPayloadTooLong), errors.Is(err, ErrBadResponse):
		fmt.Fprintf(s.errOut, "Invalid input: %v\n", err)
		return nil
	case err != nil:
		return err
	case len(rsp) == 0:
		fmt.Fprintln(s.errOut, ">> # <no response>")
		return nil
	}

	if rsp[0] == silica.CmdPolling+1 && len(rsp) >= 1+silica.IDmLength {
		s.idm = hex.EncodeToString(rsp[1 : 1+silica.IDmLength])
		fmt.Fprintf(s.errOut, "\t[IDm] set to %s\n", s.idm)
	}

	h := hex.EncodeToString(rsp)
	if s.idm != "" {
		h = strings.ReplaceAll(h, s.idm, " [IDm] ")
	}
	fmt.Fprintln(s.out, ">> # "+h)
	return nil
}

// IDm returns the IDm substituted for [idm], as lower-case hex.
func (s *Session) IDm() string {
	return s.idm
}

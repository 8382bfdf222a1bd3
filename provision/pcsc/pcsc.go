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

// Package pcsc reaches a card through a PC/SC reader such as the ACR122U.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebfe/scard"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/provision"
)

// ErrNoReader is returned when no PC/SC reader matches.
var ErrNoReader = errors.New("no PC/SC reader found")

// statusPoll bounds each wait for a card so cancellation is noticed.
const statusPoll = 250 * time.Millisecond

// Reader is a connected PC/SC reader with a card in its field.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
}

// ListReaders returns the names of the attached PC/SC readers.
func ListReaders() ([]string, error) {
	sc, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer func() { _ = sc.Release() }()

	readers, err := sc.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

// pickReader returns the first reader whose name contains match, or the
// first reader when match is empty.
func pickReader(readers []string, match string) (string, error) {
	for _, r := range readers {
		if match == "" || strings.Contains(strings.ToLower(r), strings.ToLower(match)) {
			return r, nil
		}
	}
	if match == "" {
		return "", ErrNoReader
	}
	return "", fmt.Errorf("%w: nothing matches %q", ErrNoReader, match)
}

// Connect waits until a card is present on the matching reader and
// connects to it.
func Connect(ctx context.Context, match string) (*Reader, error) {
	sc, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}

	r, err := connect(ctx, sc, match)
	if err != nil {
		_ = sc.Release()
		return nil, err
	}
	return r, nil
}

func connect(ctx context.Context, sc *scard.Context, match string) (*Reader, error) {
	readers, err := sc.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	name, err := pickReader(readers, match)
	if err != nil {
		return nil, err
	}

	silica.Debugf("waiting for a card on %s", name)
	rs := []scard.ReaderState{{Reader: name, CurrentState: scard.StateUnaware}}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // cancellation is passed through as is
		}
		err := sc.GetStatusChange(rs, statusPoll)
		if err != nil && !errors.Is(err, scard.ErrTimeout) {
			return nil, fmt.Errorf("failed to get reader status: %w", err)
		}
		if rs[0].EventState&scard.StatePresent != 0 {
			break
		}
		rs[0].CurrentState = rs[0].EventState
	}

	card, err := sc.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to card on %s: %w", name, err)
	}
	return &Reader{ctx: sc, card: card, name: name}, nil
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return r.name
}

// Transmit sends an APDU to the reader.
func (r *Reader) Transmit(apdu []byte) ([]byte, error) {
	rsp, err := r.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("PC/SC transmit failed: %w", err)
	}
	return rsp, nil
}

// Close disconnects from the card and releases the context.
func (r *Reader) Close() error {
	var errs []error
	if r.card != nil {
		if err := r.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, fmt.Errorf("PC/SC disconnect failed: %w", err))
		}
		r.card = nil
	}
	if r.ctx != nil {
		if err := r.ctx.Release(); err != nil {
			errs = append(errs, fmt.Errorf("PC/SC release failed: %w", err))
		}
		r.ctx = nil
	}
	return errors.Join(errs...)
}

var _ provision.Transmitter = (*Reader)(nil)

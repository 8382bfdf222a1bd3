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

// Package provision configures a SiliCa card from the host side through a
// PC/SC contactless reader. The reader connection itself lives in the pcsc
// subpackage; any Transmitter will do.
//
// Frames travel inside the ACR122U pseudo-APDU for the PN533
// InCommunicateThru command: FF 00 00 00 Lc D4 42 LEN payload. The reader
// answers D5 43 status LEN payload 90 00.
package provision

import (
	"encoding/binary"
	"errors"
	"fmt"

	silica "github.com/ZaparooProject/go-silica"
	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

// DefaultPMm is used when an identity write carries only an IDm.
var DefaultPMm = [silica.PMmLength]byte{0x00, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// MaxPayload is the largest frame body a single pseudo-APDU can carry.
const MaxPayload = 0xFF - 3

var (
	ErrNoResponse     = errors.New("card did not respond")
	ErrReaderStatus   = errors.New("reader rejected the command")
	ErrBadResponse    = errors.New("malformed response")
	ErrPayloadTooLong = errors.New("payload too long")
	ErrNotPolled      = errors.New("no card polled yet")
)

// Transmitter sends an APDU to the reader and returns its reply, status
// word included. *scard.Card satisfies it.
type Transmitter interface {
	Transmit(apdu []byte) ([]byte, error)
}

// StatusError is a card's rejection of a read or write.
type StatusError struct {
	Flag1 byte
	Flag2 byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("card status %02X %02X", e.Flag1, e.Flag2)
}

// Target is a card found by Poll.
type Target struct {
	Extra []byte // Request data after PMm, if any
	IDm   [silica.IDmLength]byte
	PMm   [silica.PMmLength]byte
}

// Client exchanges FeliCa frames with one card.
type Client struct {
	tx     Transmitter
	idm    [silica.IDmLength]byte
	polled bool
	mu     syncutil.Mutex
}

// NewClient talks through tx.
func NewClient(tx Transmitter) *Client {
	return &Client{tx: tx}
}

// Exchange sends payload (command code first, no length byte) and returns
// the card's response without its length byte.
func (c *Client) Exchange(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(payload)
}

func (c *Client) exchange(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}

	apdu := make([]byte, 0, len(payload)+8)
	apdu = append(apdu, 0xFF, 0x00, 0x00, 0x00, byte(len(payload)+3), 0xD4, 0x42, byte(len(payload)+1))
	apdu = append(apdu, payload...)
	silica.Debugf("provision >> %s", silica.Packet(apdu[7:]))

	rsp, err := c.tx.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("transmit failed: %w", err)
	}
	if len(rsp) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadResponse, len(rsp))
	}
	sw1, sw2 := rsp[len(rsp)-2], rsp[len(rsp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("%w: SW=%02X%02X", ErrReaderStatus, sw1, sw2)
	}

	body := rsp[:len(rsp)-2]
	if len(body) < 3 || body[0] != 0xD5 || body[1] != 0x43 {
		return nil, fmt.Errorf("%w: % X", ErrBadResponse, body)
	}
	if status := body[2] & 0x3F; status != 0 {
		if status == 0x01 {
			return nil, ErrNoResponse
		}
		return nil, fmt.Errorf("%w: PN533 status %02X", ErrReaderStatus, status)
	}

	frame := body[3:]
	if len(frame) < 2 || int(frame[0]) != len(frame) {
		return nil, fmt.Errorf("%w: length byte does not match % X", ErrBadResponse, frame)
	}
	silica.Debugf("provision << %s", silica.Packet(frame))
	return frame[1:], nil
}

// Poll looks for a card answering systemCode and remembers its IDm for
// the commands that follow.
func (c *Client) Poll(systemCode [silica.SystemCodeLength]byte, requestCode byte) (Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rsp, err := c.exchange([]byte{silica.CmdPolling, systemCode[0], systemCode[1], requestCode, 0x00})
	if err != nil {
		return Target{}, err
	}
	if len(rsp) < 1+silica.IDmLength+silica.PMmLength || rsp[0] != silica.CmdPolling+1 {
		return Target{}, fmt.Errorf("%w: polling response % X", ErrBadResponse, rsp)
	}

	var t Target
	copy(t.IDm[:], rsp[1:])
	copy(t.PMm[:], rsp[1+silica.IDmLength:])
	if extra := rsp[1+silica.IDmLength+silica.PMmLength:]; len(extra) > 0 {
		t.Extra = append([]byte(nil), extra...)
	}
	c.idm = t.IDm
	c.polled = true
	return t, nil
}

// IDm returns the IDm of the last polled card.
func (c *Client) IDm() ([silica.IDmLength]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idm, c.polled
}

func (c *Client) addressed(code byte) ([]byte, error) {
	if !c.polled {
		return nil, ErrNotPolled
	}
	cmd := make([]byte, 0, silica.MaxPacketLength)
	cmd = append(cmd, code)
	return append(cmd, c.idm[:]...), nil
}

// ReadBlocks reads blocks under service and returns their data back to
// back.
func (c *Client) ReadBlocks(service uint16, blocks ...int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := c.addressed(silica.CmdReadWithoutEncryption)
	if err != nil {
		return nil, err
	}
	cmd = appendServiceAndBlocks(cmd, service, blocks)

	rsp, err := c.exchange(cmd)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(rsp, silica.CmdReadWithoutEncryption); err != nil {
		return nil, err
	}
	const header = 1 + silica.IDmLength + 2 + 1
	if len(rsp) < header || int(rsp[header-1]) != len(blocks) || len(rsp) != header+len(blocks)*silica.BlockSize {
		return nil, fmt.Errorf("%w: read response % X", ErrBadResponse, rsp)
	}
	return rsp[header:], nil
}

// WriteBlock writes one block under service.
func (c *Client) WriteBlock(service uint16, n int, data []byte) error {
	if len(data) != silica.BlockSize {
		return fmt.Errorf("block data must be %d bytes, got %d", silica.BlockSize, len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := c.addressed(silica.CmdWriteWithoutEncryption)
	if err != nil {
		return err
	}
	cmd = appendServiceAndBlocks(cmd, service, []int{n})
	cmd = append(cmd, data...)

	rsp, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	if err := checkStatus(rsp, silica.CmdWriteWithoutEncryption); err != nil {
		return fmt.Errorf("unable to write to block %02Xh, the tag might not be a SiliCa: %w", n, err)
	}
	return nil
}

// ServiceCode reads the card's read/write service code from its
// configuration block.
func (c *Client) ServiceCode() (uint16, error) {
	data, err := c.ReadBlocks(silica.SystemServiceCode, silica.BlockService)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// Apply performs a parsed write. Configuration blocks go through the
// configuration service, data blocks through the card's own service code.
// A new IDm takes effect immediately; the client follows it.
func (c *Client) Apply(w Write) error {
	service := silica.SystemServiceCode
	if !silica.IsPrivilegedBlock(w.Block) {
		code, err := c.ServiceCode()
		if err != nil {
			return fmt.Errorf("read service code: %w", err)
		}
		service = code
	}
	if err := c.WriteBlock(service, w.Block, w.Data[:]); err != nil {
		return err
	}
	if w.Block == silica.BlockIdentity {
		c.mu.Lock()
		copy(c.idm[:], w.Data[:silica.IDmLength])
		c.mu.Unlock()
	}
	return nil
}

func appendServiceAndBlocks(cmd []byte, service uint16, blocks []int) []byte {
	cmd = append(cmd, 1)
	cmd = binary.LittleEndian.AppendUint16(cmd, service)
	cmd = append(cmd, byte(len(blocks)))
	for _, n := range blocks {
		cmd = silica.AppendBlockElement(cmd, n)
	}
	return cmd
}

// checkStatus verifies the response code and status flags of a read or
// write response.
func checkStatus(rsp []byte, cmdCode byte) error {
	if len(rsp) < 1+silica.IDmLength+2 || rsp[0] != cmdCode+1 {
		return fmt.Errorf("%w: % X", ErrBadResponse, rsp)
	}
	f1, f2 := rsp[1+silica.IDmLength], rsp[2+silica.IDmLength]
	if f1 != 0 {
		return &StatusError{Flag1: f1, Flag2: f2}
	}
	return nil
}

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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-silica/internal/frame"
)

// Link errors. These are structural failures of a received frame; the card
// logs them and keeps listening.
var (
	ErrFrameOverflow    = frame.ErrOverflow
	ErrPreambleTooShort = frame.ErrPreambleTooShort
	ErrSyncNotFound     = frame.ErrSyncNotFound
	ErrLengthMismatch   = frame.ErrLength
	ErrEDCMismatch      = frame.ErrEDC
)

// Peripheral errors
var (
	ErrSamplerIO  = errors.New("bit sampler I/O failed")
	ErrModulation = errors.New("modulation control failed")
)

// Storage errors
var (
	// ErrStorageBusy reports that the store is completing an earlier write.
	// Callers retry.
	ErrStorageBusy = errors.New("block store busy")

	ErrStorageFailed  = errors.New("block store failed")
	ErrAddressInvalid = errors.New("block store address out of range")
	ErrImageCorrupt   = errors.New("card image corrupt")
)

// Card state errors
var (
	ErrBlockOutOfRange = errors.New("block number out of range")
	ErrShortRecord     = errors.New("record shorter than required")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Link stages, in receive order
const (
	StageCapture  = "capture"
	StagePreamble = "preamble"
	StageSync     = "sync"
	StageLength   = "length"
	StageEDC      = "edc"
	StageSample   = "sample"
	StageModulate = "modulate"
)

// LinkError wraps a failure of the physical or data link layer
type LinkError struct {
	Err   error  // Underlying error
	Op    string // "receive" or "transmit"
	Stage string // Stage that failed
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Stage, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// StorageError wraps a block store failure with the address involved
type StorageError struct {
	Err  error
	Op   string
	Addr int
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s @0x%03X: %v", e.Op, e.Addr, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageBusy)
}

// IsLinkError returns true for frame-level receive failures. These never
// stop the card: the frame is dropped and the next one awaited.
func IsLinkError(err error) bool {
	var le *LinkError
	if !errors.As(err, &le) {
		return false
	}
	switch {
	case errors.Is(err, ErrFrameOverflow),
		errors.Is(err, ErrPreambleTooShort),
		errors.Is(err, ErrSyncNotFound),
		errors.Is(err, ErrLengthMismatch),
		errors.Is(err, ErrEDCMismatch):
		return true
	default:
		return false
	}
}

// NewLinkError creates a new link error
func NewLinkError(op, stage string, err error) *LinkError {
	return &LinkError{Op: op, Stage: stage, Err: err}
}

// NewStorageError creates a new storage error
func NewStorageError(op string, addr int, err error) *StorageError {
	return &StorageError{Op: op, Addr: addr, Err: err}
}

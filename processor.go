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
	"bytes"
	"context"
	"encoding/binary"
)

// Processor interprets verified command packets against a CardState.
//
// Process returns a Packet backed by the processor's response buffer; it is
// valid until the next call. A nil Packet means the card stays silent.
type Processor struct {
	state *CardState
	sink  DiagnosticSink
	list  blockList
	resp  [MaxPacketLength + 1]byte
}

// NewProcessor creates a processor for state. Diagnostics go to sink, or
// nowhere when sink is nil.
func NewProcessor(state *CardState, sink DiagnosticSink) *Processor {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Processor{state: state, sink: sink}
}

// State returns the card state the processor works on.
func (p *Processor) State() *CardState {
	return p.state
}

// Process handles one command and returns the response, or nil.
func (p *Processor) Process(ctx context.Context, cmd Packet) Packet {
	if len(cmd) < 2 || int(cmd[offLength]) > len(cmd) || cmd[offLength] < 2 {
		return nil
	}
	cmd = cmd[:cmd[offLength]]
	code := cmd[offCode]

	if code == CmdPolling {
		return p.polling(cmd)
	}
	if code == CmdEcho && len(cmd) >= echoRequestMinLength && cmd[2] == 0x00 {
		n := copy(p.resp[:], cmd)
		return p.resp[:n]
	}

	// Everything else is addressed to one card.
	idm := p.state.IDm()
	if len(cmd) < addressedRequestMinLength || !bytes.Equal(cmd[offIDm:offParams], idm[:]) {
		return nil
	}
	if code%2 != 0 {
		return nil
	}
	p.resp[offCode] = code + 1
	copy(p.resp[offIDm:], idm[:])

	switch code {
	case CmdRequestResponse:
		if len(cmd) != requestResponseLength {
			return nil
		}
		p.resp[offParams] = 0x00 // Mode 0
		return p.finish(requestResponseRespLength)
	case CmdReadWithoutEncryption:
		resp := p.read(ctx, cmd)
		if len(resp) > offParams && resp[offParams] != StatusOK {
			p.sink.Print("Read failed: ")
			p.sink.Println(cmd.Dump())
		}
		return resp
	case CmdWriteWithoutEncryption:
		return p.write(ctx, cmd)
	case CmdSearchServiceCode:
		return p.searchServiceCode(cmd)
	case CmdRequestSystemCode:
		if len(cmd) != requestSystemCodeLength {
			return nil
		}
		sys := p.state.SystemCode()
		p.resp[offParams] = systemCodeCount
		copy(p.resp[offParams+1:], sys[:])
		return p.finish(requestSystemCodeRespLength)
	default:
		// Request Service, Authentication1/2 and anything unknown
		return nil
	}
}

func (p *Processor) polling(cmd Packet) Packet {
	if len(cmd) < pollingRequestLength {
		return nil
	}
	sys := p.state.SystemCode()
	if !systemCodeMatches(sys, cmd[2], cmd[3]) {
		return nil
	}

	req := cmd[4]
	if req > RequestPerformance {
		return nil
	}
	// cmd[5] is the time slot count; a single card always answers in slot 0.

	idm, pmm := p.state.IDm(), p.state.PMm()
	p.resp[offCode] = CmdPolling + 1
	copy(p.resp[offIDm:], idm[:])
	copy(p.resp[offIDm+IDmLength:], pmm[:])

	const tail = offIDm + IDmLength + PMmLength
	switch req {
	case RequestSystemCode:
		copy(p.resp[tail:], sys[:])
		return p.finish(pollingResponseExtLength)
	case RequestPerformance:
		p.resp[tail] = 0x00
		p.resp[tail+1] = performance212kbps
		return p.finish(pollingResponseExtLength)
	default:
		return p.finish(pollingResponseLength)
	}
}

func systemCodeMatches(sys [SystemCodeLength]byte, hi, lo byte) bool {
	return (hi == sys[0] || hi == 0xFF) && (lo == sys[1] || lo == 0xFF)
}

func (p *Processor) searchServiceCode(cmd Packet) Packet {
	if len(cmd) != searchServiceRequestLength {
		return nil
	}
	class := p.state.ServiceClass()
	var out uint16
	switch binary.LittleEndian.Uint16(cmd[offParams:]) {
	case 0:
		out = ReadWriteCode(class)
	case 1:
		out = ReadOnlyCode(class)
	default:
		out = 0xFFFF // End of list
	}
	binary.LittleEndian.PutUint16(p.resp[offParams:], out)
	return p.finish(searchServiceResponseLength)
}

// access describes what a service code opens up.
type access struct {
	ordinary   bool // Data blocks 0..BlockMax-1
	privileged bool // Configuration blocks
}

func (a access) allows(n, blockMax int) bool {
	if a.ordinary && n >= 0 && n < blockMax {
		return true
	}
	return a.privileged && IsPrivilegedBlock(n)
}

// checkRequest validates the service and block list shared by read and
// write. It returns a status-coded response when the request is rejected,
// nil and false when the card must stay silent, and nil and true when the
// request may proceed with p.list filled.
func (p *Processor) checkRequest(cmd Packet, write bool) (Packet, bool) {
	if len(cmd) < blockRequestMinLength {
		return nil, false
	}
	if cmd[offParams] != 1 {
		return p.status(StatusServiceCount), false
	}

	acc := p.serviceAccess(binary.LittleEndian.Uint16(cmd[offServiceCode:]), write)
	if !acc.ordinary && !acc.privileged {
		return p.status(StatusServiceCode), false
	}

	count := int(cmd[offBlockCount])
	if count < 1 || count > p.blockLimit() {
		return p.status(StatusBlockCount), false
	}

	if !parseBlockList(cmd[offBlockList:], count, &p.list) {
		return p.status(StatusBlockList), false
	}
	for _, n := range p.list.Blocks() {
		if !acc.allows(n, p.state.BlockMax()) {
			return p.status(StatusBlockList), false
		}
		if write && n >= BlockLastError {
			return p.status(StatusBlockList), false
		}
	}
	return nil, true
}

func (p *Processor) serviceAccess(code uint16, write bool) access {
	class := p.state.ServiceClass()
	acc := access{privileged: code == SystemServiceCode}
	if write {
		acc.ordinary = code == ReadWriteCode(class)
	} else {
		acc.ordinary = code == ReadWriteCode(class) || code == ReadOnlyCode(class)
	}
	return acc
}

func (p *Processor) blockLimit() int {
	return min(p.state.BlockMax(), MaxBlocksPerRequest)
}

func (p *Processor) read(ctx context.Context, cmd Packet) Packet {
	if resp, ok := p.checkRequest(cmd, false); !ok {
		return resp
	}

	blocks := p.list.Blocks()
	p.resp[offParams] = StatusOK
	p.resp[offParams+1] = StatusOK
	p.resp[readResponseHeaderLength-1] = byte(len(blocks))
	for i, n := range blocks {
		dst := p.resp[readResponseHeaderLength+i*BlockSize:][:BlockSize]
		if err := p.readBlock(ctx, n, dst); err != nil {
			p.storageFailed(err)
			return nil
		}
	}
	return p.finish(readResponseHeaderLength + len(blocks)*BlockSize)
}

func (p *Processor) readBlock(ctx context.Context, n int, dst []byte) error {
	clear(dst)
	switch {
	case n == BlockIdentity:
		idm, pmm := p.state.IDm(), p.state.PMm()
		copy(dst, idm[:])
		copy(dst[IDmLength:], pmm[:])
	case n == BlockService:
		binary.LittleEndian.PutUint16(dst, ReadWriteCode(p.state.ServiceClass()))
	case n == BlockSystemCode:
		sys := p.state.SystemCode()
		copy(dst, sys[:])
	case n >= BlockLastError && n < BlockLastError+LastErrorBlocks:
		last := p.state.LastError()
		copy(dst, last[(n-BlockLastError)*BlockSize:])
	default:
		return p.state.ReadBlock(ctx, n, dst)
	}
	return nil
}

func (p *Processor) write(ctx context.Context, cmd Packet) Packet {
	if resp, ok := p.checkRequest(cmd, true); !ok {
		return resp
	}

	blocks := p.list.Blocks()
	dataStart := offBlockList + p.list.size
	if dataStart+len(blocks)*BlockSize > len(cmd) {
		// The packet is shorter than the blocks it claims to write.
		return nil
	}

	for i, n := range blocks {
		data := cmd[dataStart+i*BlockSize:][:BlockSize]
		if err := p.writeBlock(ctx, n, data); err != nil {
			p.storageFailed(err)
			return nil
		}
	}
	return p.status(StatusOK)
}

func (p *Processor) writeBlock(ctx context.Context, n int, data []byte) error {
	switch n {
	case BlockIdentity:
		var idm [IDmLength]byte
		var pmm [PMmLength]byte
		copy(idm[:], data)
		copy(pmm[:], data[IDmLength:])
		return p.state.SetIdentity(ctx, idm, pmm)
	case BlockService:
		return p.state.SetServiceCode(ctx, binary.LittleEndian.Uint16(data))
	case BlockSystemCode:
		var sys [SystemCodeLength]byte
		copy(sys[:], data)
		return p.state.SetSystemCode(ctx, sys)
	default:
		return p.state.WriteBlock(ctx, n, data)
	}
}

func (p *Processor) storageFailed(err error) {
	p.sink.Println("Storage error")
	Debugf("storage failure: %v", err)
}

// status builds a 12-byte status response. StatusOK yields 00 00.
func (p *Processor) status(flag2 byte) Packet {
	if flag2 == StatusOK {
		p.resp[offParams] = StatusOK
	} else {
		p.resp[offParams] = StatusError
	}
	p.resp[offParams+1] = flag2
	return p.finish(statusResponseLength)
}

func (p *Processor) finish(length int) Packet {
	p.resp[offLength] = byte(length)
	return p.resp[:length]
}

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

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	silica "github.com/ZaparooProject/go-silica"
	virt "github.com/ZaparooProject/go-silica/internal/testing"
)

// writeRequestHeader is the size of a one-service Write command before its
// block list.
const writeRequestHeader = 14

var errNoResponse = errors.New("card did not respond")

// SelfTestResult holds the outcome of a self-test run.
type SelfTestResult struct {
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
	Success   bool
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	IDm          string     `json:"idm"`
	Operation    string     `json:"operation"`
	Error        string     `json:"error"`
	ExpectedHex  string     `json:"expected_hex,omitempty"`
	ActualHex    string     `json:"actual_hex,omitempty"`
	TestSize     string     `json:"test_size"`
	OperationLog []LogEntry `json:"operation_log"`
	Offset       int        `json:"offset"`
	Inverted     bool       `json:"inverted"`
	Bursts       int        `json:"noise_bursts"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// testSize represents the three test sizes per round
type testSize int

const (
	testSizeTiny   testSize = iota // 1 block
	testSizeMedium                 // half the request limit
	testSizeFull                   // the request limit
)

func (s testSize) String() string {
	switch s {
	case testSizeTiny:
		return "tiny"
	case testSizeMedium:
		return "medium"
	case testSizeFull:
		return "full"
	default:
		return "unknown"
	}
}

func (s testSize) blocks(limit int) int {
	switch s {
	case testSizeMedium:
		return max(1, limit/2)
	case testSizeFull:
		return limit
	default:
		return 1
	}
}

// selfTest drives a card through a simulated reader over a noisy field.
type selfTest struct {
	state    *silica.CardState
	reader   *virt.VirtualReader
	noise    *virt.JitterySampler
	card     *silica.Card
	out      io.Writer
	crashDir string
	idm      []byte
	opLog    []LogEntry
	service  uint16
	limit    int
}

func newSelfTest(state *silica.CardState, out io.Writer, crashDir string) (*selfTest, error) {
	reader := virt.NewVirtualReader()
	noise := virt.NewJitterySampler(reader, virt.DefaultJitterConfig())

	link, err := silica.NewLink(noise, noise, nil,
		silica.WithConfig(state.Config()),
		silica.WithPollingDelay(time.Microsecond))
	if err != nil {
		return nil, err
	}

	idm := state.IDm()
	writeLimit := (silica.MaxPacketLength - writeRequestHeader) / (2 + silica.BlockSize)
	return &selfTest{
		state:    state,
		reader:   reader,
		noise:    noise,
		card:     silica.NewCard(link, silica.NewProcessor(state, nil), nil),
		out:      out,
		crashDir: crashDir,
		idm:      idm[:],
		service:  silica.ReadWriteCode(state.ServiceClass()),
		limit:    min(state.BlockMax(), silica.MaxBlocksPerRequest, writeLimit),
	}, nil
}

func printSelfTestBanner(out io.Writer) {
	_, _ = fmt.Fprintln(out, "================================================================================")
	_, _ = fmt.Fprintln(out, "                           SiliCa Self-Test Mode")
	_, _ = fmt.Fprintln(out, "================================================================================")
	_, _ = fmt.Fprintln(out, "Tests: polling, then tiny, medium, full write/read/verify per round")
}

// runSelfTest exercises state over the air and restores its data blocks
// afterwards. A crash report is written to crashDir on failure.
func runSelfTest(ctx context.Context, state *silica.CardState, rounds int, out io.Writer, crashDir string) error {
	printSelfTestBanner(out)
	st, err := newSelfTest(state, out, crashDir)
	if err != nil {
		return err
	}

	original, err := st.backup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.restore(ctx, original); err != nil {
			_, _ = fmt.Fprintf(out, "  [!] Failed to restore data blocks: %v\n", err)
		}
	}()

	result := st.run(ctx, rounds)
	printSelfTestSummary(out, result)
	if !result.Success {
		return fmt.Errorf("self-test failed: %d of %d checks", result.Failed, result.Passed+result.Failed)
	}
	return nil
}

func (st *selfTest) backup(ctx context.Context) ([]byte, error) {
	data := make([]byte, st.state.BlockMax()*silica.BlockSize)
	for n := range st.state.BlockMax() {
		if err := st.state.ReadBlock(ctx, n, data[n*silica.BlockSize:][:silica.BlockSize]); err != nil {
			return nil, fmt.Errorf("failed to back up block %d: %w", n, err)
		}
	}
	return data, nil
}

func (st *selfTest) restore(ctx context.Context, data []byte) error {
	for n := range st.state.BlockMax() {
		if err := st.state.WriteBlock(ctx, n, data[n*silica.BlockSize:][:silica.BlockSize]); err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
	}
	return nil
}

func (st *selfTest) run(ctx context.Context, rounds int) *SelfTestResult {
	started := time.Now()
	result := &SelfTestResult{}
	finish := func() *SelfTestResult {
		result.Duration = time.Since(started)
		result.Success = result.Failed == 0
		return result
	}

	st.reader.Offset, st.reader.Inverted = 0, false
	_, _ = fmt.Fprint(st.out, "  [polling] ")
	if err := st.checkPolling(ctx); err != nil {
		result.Failed++
		st.fail(result, "polling", "polling", err, nil, nil)
		return finish()
	}
	result.Passed++
	_, _ = fmt.Fprintln(st.out, "OK")

	for round := range rounds {
		for _, size := range []testSize{testSizeTiny, testSizeMedium, testSizeFull} {
			st.reader.Offset = (round*3 + int(size)) % 8
			st.reader.Inverted = round%2 == 1
			if err := st.runSingleTest(ctx, result, size); err != nil {
				result.Failed++
				return finish()
			}
			result.Passed++
		}
	}
	return finish()
}

// exchange sends one command and returns the card's response.
func (st *selfTest) exchange(ctx context.Context, cmd []byte) ([]byte, error) {
	before := len(st.reader.Transmissions())
	st.reader.Send(cmd)
	if err := st.card.Step(ctx); err != nil {
		return nil, err
	}
	txs := st.reader.Transmissions()
	if len(txs) == before {
		return nil, errNoResponse
	}
	last := txs[len(txs)-1]
	if last.Err != nil {
		return nil, last.Err
	}
	return last.Packet, nil
}

func (st *selfTest) logOp(op string, data []byte) *LogEntry {
	st.opLog = append(st.opLog, LogEntry{
		Timestamp: time.Now(),
		Operation: op,
		DataHex:   hex.EncodeToString(data),
	})
	return &st.opLog[len(st.opLog)-1]
}

func (st *selfTest) checkPolling(ctx context.Context) error {
	entry := st.logOp("polling", nil)
	rsp, err := st.exchange(ctx, virt.BuildPolling([]byte{0xFF, 0xFF}, silica.RequestNone, 0))
	if err == nil && (len(rsp) < 18 || rsp[1] != silica.CmdPolling+1 || !bytes.Equal(rsp[2:10], st.idm)) {
		err = fmt.Errorf("unexpected polling response % X", rsp)
	}
	if err != nil {
		entry.Error = err.Error()
		return err
	}
	entry.Success = true
	return nil
}

// runSingleTest writes random data to a run of blocks, reads it back and
// compares.
func (st *selfTest) runSingleTest(ctx context.Context, result *SelfTestResult, size testSize) error {
	n := size.blocks(st.limit)
	first := randomInt(0, st.state.BlockMax()-n)
	blocks := make([]int, n)
	for i := range blocks {
		blocks[i] = first + i
	}
	data := make([]byte, n*silica.BlockSize)
	_, _ = rand.Read(data)

	_, _ = fmt.Fprintf(st.out, "  [%s] Write (%d blocks at %d)... ", size, n, first)
	entry := st.logOp("write_"+size.String(), data)
	rsp, err := st.exchange(ctx, virt.BuildWrite(st.idm, st.service, data, blocks...))
	if err == nil && (len(rsp) != 12 || rsp[10] != 0 || rsp[11] != 0) {
		err = fmt.Errorf("write rejected: % X", rsp)
	}
	if err != nil {
		entry.Error = err.Error()
		st.fail(result, size.String(), entry.Operation, err, nil, nil)
		return err
	}
	entry.Success = true
	_, _ = fmt.Fprint(st.out, "OK  Read... ")

	entry = st.logOp("read_"+size.String(), nil)
	rsp, err = st.exchange(ctx, virt.BuildRead(st.idm, st.service, blocks...))
	if err == nil && (len(rsp) != 13+len(data) || rsp[10] != 0) {
		err = fmt.Errorf("read rejected: % X", rsp)
	}
	if err != nil {
		entry.Error = err.Error()
		st.fail(result, size.String(), entry.Operation, err, nil, nil)
		return err
	}
	entry.Success = true
	_, _ = fmt.Fprint(st.out, "OK  Verify... ")

	entry = st.logOp("verify_"+size.String(), nil)
	if got := rsp[13:]; !bytes.Equal(got, data) {
		err := errors.New("read back data differs from written data")
		entry.Error = err.Error()
		st.fail(result, size.String(), entry.Operation, err, data, got)
		return err
	}
	entry.Success = true
	_, _ = fmt.Fprintln(st.out, "OK")
	return nil
}

func (st *selfTest) fail(result *SelfTestResult, size, op string, err error, expected, actual []byte) {
	_, _ = fmt.Fprintln(st.out, "FAIL")
	_, _ = fmt.Fprintf(st.out, "\n  [!] FAILURE at %s test: %v\n", size, err)

	report := &CrashReport{
		Timestamp:    time.Now(),
		IDm:          hex.EncodeToString(st.idm),
		Operation:    op,
		Error:        err.Error(),
		ExpectedHex:  hex.EncodeToString(expected),
		ActualHex:    hex.EncodeToString(actual),
		TestSize:     size,
		OperationLog: st.opLog,
		Offset:       st.reader.Offset,
		Inverted:     st.reader.Inverted,
		Bursts:       st.noise.Bursts(),
	}
	filename, writeErr := writeCrashReportToFile(st.crashDir, report)
	if writeErr != nil {
		_, _ = fmt.Fprintf(st.out, "  [!] Failed to write crash report: %v\n", writeErr)
		return
	}
	_, _ = fmt.Fprintf(st.out, "  Creating crash report... %s\n", filename)
	result.CrashFile = filename
}

func writeCrashReportToFile(dir string, report *CrashReport) (string, error) {
	filename := filepath.Join(dir, fmt.Sprintf("silica_crash_%s.json", report.Timestamp.Format("20060102_150405")))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return filename, nil
}

func printSelfTestSummary(out io.Writer, result *SelfTestResult) {
	_, _ = fmt.Fprintln(out)
	status := "PASSED"
	if !result.Success {
		status = "FAILED"
	}
	_, _ = fmt.Fprintf(out, "  Result: %s (%d passed, %d failed) in %v\n",
		status, result.Passed, result.Failed, result.Duration.Round(time.Millisecond))
	if result.CrashFile != "" {
		_, _ = fmt.Fprintf(out, "  Crash report: %s\n", result.CrashFile)
	}
}

// randomInt returns a random int in [low, high] inclusive
func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
	return low + (n % (high - low + 1))
}

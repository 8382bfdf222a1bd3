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
	"context"
	"fmt"

	"github.com/ZaparooProject/go-silica/internal/syncutil"
)

// BuildDate is printed in the startup banner. Set it with
// -ldflags "-X github.com/ZaparooProject/go-silica.BuildDate=...".
var BuildDate = "unknown"

// Card runs the receive, process, respond loop.
type Card struct {
	link  *Link
	proc  *Processor
	state *CardState
	sink  DiagnosticSink
	mu    syncutil.Mutex
}

// NewCard assembles a card from its link and processor. Diagnostics go to
// sink, or nowhere when sink is nil.
func NewCard(link *Link, proc *Processor, sink DiagnosticSink) *Card {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Card{
		link:  link,
		proc:  proc,
		state: proc.State(),
		sink:  sink,
	}
}

// Banner prints the version lines.
func (c *Card) Banner() {
	c.sink.Println("SiliCa v" + Version)
	c.sink.Print("Build on: ")
	c.sink.Println(BuildDate)
}

// Serve prints the banner and handles frames until ctx is done or the
// sampler fails. The context is checked between frames; a capture in
// progress is not interrupted.
func (c *Card) Serve(ctx context.Context) error {
	c.Banner()
	for {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // cancellation is passed through as is
		}
		if err := c.Step(ctx); err != nil {
			return err
		}
	}
}

// Step receives one frame and answers it. Damaged frames and commands the
// card does not answer are logged and reported as success; only peripheral
// failures are returned.
func (c *Card) Step(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := c.link.Receive()
	if err != nil {
		if IsLinkError(err) {
			Debugf("frame dropped: %v", err)
			return nil
		}
		return fmt.Errorf("receive: %w", err)
	}

	resp := c.proc.Process(ctx, cmd)
	if resp.Absent() {
		c.sink.Println("Unsupported command")
		if err := c.state.SaveLastError(ctx, cmd); err != nil {
			Debugf("save last error: %v", err)
		}
		c.sink.Println(cmd.Dump())
		return nil
	}

	if err := c.link.Respond(cmd, resp); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}

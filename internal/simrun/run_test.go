// Copyright 2024 The Shadow Authors.
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

package simrun

import (
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"

	"shadow.dev/shadow/internal/simclock"
	"shadow.dev/shadow/process"
)

// fakeThread is a deterministic process.Thread stand-in for integration
// tests that exercise the host/scheduler wiring without a real ptrace or
// preload child.
type fakeThread struct {
	mu      sync.Mutex
	running bool
}

func (t *fakeThread) Run(argv, envv []string, stderrFD, stdoutFD int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false // exits immediately
	return nil
}
func (t *fakeThread) Resume() error   { return nil }
func (t *fakeThread) Terminate()      {}
func (t *fakeThread) IsRunning() bool { t.mu.Lock(); defer t.mu.Unlock(); return t.running }
func (t *fakeThread) ReturnCode() int { return 0 }
func (t *fakeThread) Ref()            {}
func (t *fakeThread) Unref()          {}

func fakeThreadFactory(method process.InterposeMethod, id uint64, name string) (process.Thread, error) {
	return &fakeThread{}, nil
}

// TestMultipleHostsBuildConcurrently exercises NewHost under concurrent
// construction (via errgroup), the way a scenario loader would set up many
// simulated machines before wiring any of them to the shared clock, which
// itself remains single-goroutine per internal/simclock's contract.
func TestMultipleHostsBuildConcurrently(t *testing.T) {
	dir := t.TempDir()
	const n = 5

	hosts := make([]*Host, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			h, err := NewHost(fmt.Sprintf("host%d", i), fmt.Sprintf("%s/host%d", dir, i))
			if err != nil {
				return err
			}
			hosts[i] = h
			return nil
		})
	}
	assert.NilError(t, g.Wait())
	for i, h := range hosts {
		assert.Equal(t, h.Name(), fmt.Sprintf("host%d", i))
	}
}

// TestProcessSchedulesAgainstSharedClock exercises one host's process being
// driven entirely through the simclock.Loop scheduler, confirming the
// wiring between internal/simhost, internal/simclock, and process.Process
// is load-bearing end to end. It builds the Process directly rather than
// through Spawn, which always uses the ptrace Thread variant.
func TestProcessSchedulesAgainstSharedClock(t *testing.T) {
	h, err := NewHost("host0", t.TempDir())
	assert.NilError(t, err)
	loop := simclock.NewLoop()

	p := process.New(process.Args{
		Host:            h.Host,
		Scheduler:       loop,
		Worker:          h.Worker,
		NewThread:       fakeThreadFactory,
		ID:              1,
		HostName:        h.Name(),
		ExeName:         "plugin",
		ExePath:         "/bin/plugin",
		StartTime:       5,
		InterposeMethod: process.InterposePtrace,
	})
	defer p.Unref()
	p.Schedule()

	loop.Run(0)
	assert.Assert(t, !p.IsRunning())
}

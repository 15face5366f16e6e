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

// Package simhost provides a minimal concrete process.Host: enough of the
// simulated machine for a Process to log to and account CPU against,
// without reimplementing the full host object model (networking stack,
// filesystem virtualization) that is explicitly out of scope here.
package simhost

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/containerd/log"

	"shadow.dev/shadow/process"
)

// Tracker accumulates host-wide processing-time accounting, separately
// from any one Process's own runningTime counter.
type Tracker struct {
	mu                sync.Mutex
	processingSeconds float64
}

// AddProcessingTime records wallSeconds of guest CPU time observed on this
// host.
func (t *Tracker) AddProcessingTime(wallSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processingSeconds += wallSeconds
}

// ProcessingSeconds returns the cumulative guest CPU time observed.
func (t *Tracker) ProcessingSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processingSeconds
}

// Host is a minimal process.Host: a name, a data directory for per-process
// log files, a CPU-delay accumulator, a Tracker, and a small DNS/address
// table standing in for the full simulated network's name resolution.
type Host struct {
	name    string
	dataDir string

	mu       sync.Mutex
	refcount int
	cpuDelay process.Time

	Tracker   *Tracker
	Addresses map[string]net.IP

	// aborted records the last fatal error reported via Abort, for tests
	// and for a caller's own shutdown decision; this package never calls
	// os.Exit itself.
	aborted error
}

// New returns a Host named name whose per-process log files are written
// under dataDir. dataDir must already exist.
func New(name, dataDir string) *Host {
	return &Host{
		name:      name,
		dataDir:   dataDir,
		refcount:  1,
		Tracker:   &Tracker{},
		Addresses: make(map[string]net.IP),
	}
}

// Ref implements process.Host.
func (h *Host) Ref() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refcount++
}

// Unref implements process.Host.
func (h *Host) Unref() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refcount--
	if h.refcount == 0 {
		log.G(context.Background()).WithField("host", h.name).Debug("host refcount reached zero")
	}
}

// Name implements process.Host.
func (h *Host) Name() string { return h.name }

// DataDir implements process.Host.
func (h *Host) DataDir() string { return h.dataDir }

// CPUDelay returns the total virtual-time delay accounted against this
// host so far.
func (h *Host) CPUDelay() process.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cpuDelay
}

// AccountCPU implements process.Host.
func (h *Host) AccountCPU(delay process.Time, wallSeconds float64) {
	h.mu.Lock()
	h.cpuDelay += delay
	h.mu.Unlock()
	h.Tracker.AddProcessingTime(wallSeconds)
}

// Abort implements process.Host: it logs the fatal error and records it,
// leaving the decision to terminate the owning worker's process to the
// caller driving this Host (e.g. internal/simrun).
func (h *Host) Abort(err error) {
	h.mu.Lock()
	h.aborted = err
	h.mu.Unlock()
	log.G(context.Background()).WithField("host", h.name).Errorf("fatal error: %v", err)
}

// Aborted returns the last error reported via Abort, or nil.
func (h *Host) Aborted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

// EnsureDataDir creates the host's data directory if it does not exist.
func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("simhost: creating data dir %s: %w", dataDir, err)
	}
	return nil
}

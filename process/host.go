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

package process

// Host is the narrow slice of the host object model this package consumes:
// a data directory for per-process log files, CPU/tracker accounting, and
// the ability to abort the owning worker on a fatal configuration or I/O
// error. The full host object model (data-path, DNS/address tables, the
// rest of the simulated machine) is out of scope here and lives elsewhere.
type Host interface {
	// Ref increments the host's reference count. Called once per Process
	// that is constructed against this host.
	Ref()
	// Unref decrements the host's reference count, freeing the host when
	// it reaches zero.
	Unref()
	// Name identifies the host in process names ("{host}.{exe}.{pid}").
	Name() string
	// DataDir is the directory under which per-process stdout/stderr log
	// files are created.
	DataDir() string
	// AccountCPU pushes a guest CPU burst into the host's CPU model
	// (delay, in virtual-time units) and its tracker's processing-time
	// counter (wallSeconds, the raw measured wall-clock cost).
	AccountCPU(delay Time, wallSeconds float64)
	// Abort reports a fatal, unrecoverable error encountered while
	// managing one of the host's processes. Implementations typically
	// terminate the owning worker after logging the diagnostic.
	Abort(err error)
}

// Task is a unit of work posted to a Scheduler: an object, a callback, and
// a free-callback, matching the (object, callback, free-callback) triple
// the simulator's scheduler interface is specified in terms of.
type Task interface {
	// Run executes the task's callback.
	Run()
	// Free releases any reference the task holds (typically a Process
	// reference taken when the task was scheduled).
	Free()
}

// Scheduler is the slice of the simulator's event loop this package
// consumes: the current virtual time, and the ability to post a Task to
// fire after a delay. Tasks posted with equal deadlines fire in insertion
// order.
type Scheduler interface {
	// Now returns the current virtual time.
	Now() Time
	// ScheduleTask posts task to fire after delay virtual-time units.
	ScheduleTask(task Task, delay Time)
}

// StatusSource is the descriptor-listener contract this package consumes
// from the descriptor layer. Both a Timer and a generic Descriptor satisfy
// it: a Timer reports StatusReadable when it expires, a Descriptor reports
// readiness bits for the underlying simulated file or socket.
type StatusSource interface {
	// AddListener attaches l to this source. l begins observing status
	// transitions once attached.
	AddListener(l *Listener)
	// RemoveListener detaches l from this source. After this call
	// returns, l will not fire again for this source.
	RemoveListener(l *Listener)
}

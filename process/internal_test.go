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

import "sort"

// mockHost is a minimal process.Host test double: it records CPU
// accounting and fatal aborts instead of talking to a real host.
type mockHost struct {
	refs        int
	dataDir     string
	cpuDelay    Time
	wallSeconds float64
	aborts      []error
}

func newMockHost(dir string) *mockHost { return &mockHost{dataDir: dir} }

func (h *mockHost) Ref()             { h.refs++ }
func (h *mockHost) Unref()           { h.refs-- }
func (h *mockHost) Name() string     { return "testhost" }
func (h *mockHost) DataDir() string  { return h.dataDir }
func (h *mockHost) AccountCPU(delay Time, wallSeconds float64) {
	h.cpuDelay += delay
	h.wallSeconds += wallSeconds
}
func (h *mockHost) Abort(err error) { h.aborts = append(h.aborts, err) }

// scheduledEntry pairs a Task with its absolute deadline and insertion
// sequence, so mockScheduler can honor the "equal deadlines fire in
// insertion order" guarantee without pulling in the real event loop.
type scheduledEntry struct {
	task     Task
	deadline Time
	seq      int
}

// mockScheduler is a minimal process.Scheduler test double: virtual time
// only advances when the test calls Advance.
type mockScheduler struct {
	now     Time
	entries []scheduledEntry
	nextSeq int
}

func newMockScheduler(now Time) *mockScheduler { return &mockScheduler{now: now} }

func (s *mockScheduler) Now() Time { return s.now }

func (s *mockScheduler) ScheduleTask(task Task, delay Time) {
	s.entries = append(s.entries, scheduledEntry{task: task, deadline: s.now + delay, seq: s.nextSeq})
	s.nextSeq++
}

// Advance moves virtual time to `to`, running every pending task whose
// deadline has arrived, in (deadline, insertion order).
func (s *mockScheduler) Advance(to Time) {
	s.now = to
	var ready, pending []scheduledEntry
	for _, e := range s.entries {
		if e.deadline <= to {
			ready = append(ready, e)
		} else {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].deadline != ready[j].deadline {
			return ready[i].deadline < ready[j].deadline
		}
		return ready[i].seq < ready[j].seq
	})
	s.entries = pending
	for _, e := range ready {
		e.task.Run()
		e.task.Free()
	}
}

// mockThread is a scriptable process.Thread test double.
type mockThread struct {
	// exitImmediately makes Run leave the thread not-running, as if the
	// guest exited before its first blocking point.
	exitImmediately bool
	returnCode      int
	runErr          error
	resumeErr       error
	// stopAfterResumes, if nonzero, makes the thread stop running after
	// this many calls to Resume.
	stopAfterResumes int
	// onResume, if set, runs at the start of every Resume call.
	onResume func()

	running        bool
	runCalls       int
	resumeCalls    int
	terminateCalls int
	refs           int
}

func (t *mockThread) Run(argv, envv []string, stderrFD, stdoutFD int) error {
	t.runCalls++
	t.running = t.runErr == nil && !t.exitImmediately
	return t.runErr
}

func (t *mockThread) Resume() error {
	t.resumeCalls++
	if t.onResume != nil {
		t.onResume()
	}
	if t.stopAfterResumes > 0 && t.resumeCalls >= t.stopAfterResumes {
		t.running = false
	}
	return t.resumeErr
}

func (t *mockThread) Terminate()      { t.terminateCalls++; t.running = false }
func (t *mockThread) IsRunning() bool { return t.running }
func (t *mockThread) ReturnCode() int { return t.returnCode }
func (t *mockThread) Ref()            { t.refs++ }
func (t *mockThread) Unref()          { t.refs-- }

func mockThreadFactory(threads map[uint64]*mockThread) ThreadFactory {
	return func(method InterposeMethod, id uint64, name string) (Thread, error) {
		th, ok := threads[id]
		if !ok {
			th = &mockThread{}
			threads[id] = th
		}
		// Mirror ptrace.New/preload.New: construction mints the thread
		// already holding one reference, owned by the Process that just
		// created it.
		th.refs = 1
		return th, nil
	}
}

// mockSource is a minimal process.StatusSource test double: it tracks
// attached listeners and lets a test fire one by value, the way a real
// timerfd/epoll-backed source would on an OFF->ON edge.
type mockSource struct {
	listeners []*Listener
}

func (s *mockSource) AddListener(l *Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *mockSource) RemoveListener(l *Listener) {
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *mockSource) attached(l *Listener) bool {
	for _, x := range s.listeners {
		if x == l {
			return true
		}
	}
	return false
}

// fire delivers an OFF->ON transition to every currently attached listener
// whose edge mode asks for it, on a stable snapshot (since firing may
// remove listeners from s as a side effect).
func (s *mockSource) fire() {
	snapshot := append([]*Listener(nil), s.listeners...)
	for _, l := range snapshot {
		if !s.attached(l) {
			continue
		}
		if l.Edge() == EdgeOffToOn {
			l.Fire()
		}
	}
}

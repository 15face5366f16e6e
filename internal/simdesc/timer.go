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

// Package simdesc implements process.StatusSource over real OS readiness
// primitives: a Timer backed by a Linux timerfd, and a Descriptor backed by
// an epoll-polled file descriptor. Both report the OFF->ON readiness edge
// the process package's Waiter expects, over literal fd readiness rather
// than a simulated approximation of it.
package simdesc

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"shadow.dev/shadow/process"
)

// Timer is a one-shot readiness source backed by a Linux timerfd: it
// reports process.StatusReadable once the configured duration elapses.
type Timer struct {
	fd        int
	listeners []*process.Listener
	wasReady  bool
}

// NewTimer creates a timerfd armed to fire once after d.
func NewTimer(d time.Duration) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("simdesc: timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(int64(d)),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("simdesc: timerfd_settime: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// FD returns the underlying timerfd, for a caller's own epoll/poll loop.
func (t *Timer) FD() int { return t.fd }

// Poll checks whether the timer has expired and, on the OFF->ON edge,
// fires every attached listener whose edge mode asks for it. Nothing in
// this package polls on its own: the owner of a live Timer is expected to
// call this once per iteration of its event loop.
func (t *Timer) Poll() error {
	var buf [8]byte
	_, err := unix.Read(t.fd, buf[:])
	switch {
	case err == nil:
		if !t.wasReady {
			t.wasReady = true
			t.notify()
		}
		return nil
	case err == unix.EAGAIN:
		return nil
	default:
		return fmt.Errorf("simdesc: timerfd read: %w", err)
	}
}

func (t *Timer) notify() {
	for _, l := range append([]*process.Listener(nil), t.listeners...) {
		if l.Edge() == process.EdgeOffToOn && l.Mask()&process.StatusReadable != 0 {
			l.Fire()
		}
	}
}

// AddListener implements process.StatusSource.
func (t *Timer) AddListener(l *process.Listener) {
	t.listeners = append(t.listeners, l)
}

// RemoveListener implements process.StatusSource.
func (t *Timer) RemoveListener(l *process.Listener) {
	for i, x := range t.listeners {
		if x == l {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Close releases the underlying timerfd.
func (t *Timer) Close() error { return unix.Close(t.fd) }

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

package simdesc

import (
	"fmt"

	"golang.org/x/sys/unix"

	"shadow.dev/shadow/process"
)

// Descriptor wraps an arbitrary fd (a pipe end, a socket) polled through a
// dedicated epoll instance, and reports process.StatusReadable/
// StatusWritable on the OFF->ON edge of EPOLLIN/EPOLLOUT.
type Descriptor struct {
	fd        int
	epfd      int
	listeners []*process.Listener
	lastMask  process.StatusMask
}

// NewDescriptor creates an epoll instance watching fd for both readability
// and writability.
func NewDescriptor(fd int) (*Descriptor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("simdesc: epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("simdesc: epoll_ctl: %w", err)
	}
	return &Descriptor{fd: fd, epfd: epfd}, nil
}

// FD returns the descriptor's underlying fd.
func (d *Descriptor) FD() int { return d.fd }

// Poll runs a zero-timeout epoll_wait and, on any newly-set readiness bit,
// fires every attached listener whose mask/edge asks for it.
func (d *Descriptor) Poll() error {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(d.epfd, events[:], 0)
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("simdesc: epoll_wait: %w", err)
	}

	var mask process.StatusMask
	if n > 0 {
		if events[0].Events&unix.EPOLLIN != 0 {
			mask |= process.StatusReadable
		}
		if events[0].Events&unix.EPOLLOUT != 0 {
			mask |= process.StatusWritable
		}
	}

	newlySet := mask &^ d.lastMask
	d.lastMask = mask
	if newlySet == 0 {
		return nil
	}
	for _, l := range append([]*process.Listener(nil), d.listeners...) {
		if l.Edge() == process.EdgeOffToOn && l.Mask()&newlySet != 0 {
			l.Fire()
		}
	}
	return nil
}

// AddListener implements process.StatusSource.
func (d *Descriptor) AddListener(l *process.Listener) {
	d.listeners = append(d.listeners, l)
}

// RemoveListener implements process.StatusSource.
func (d *Descriptor) RemoveListener(l *process.Listener) {
	for i, x := range d.listeners {
		if x == l {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Close releases the descriptor's private epoll instance. It does not
// close the wrapped fd, which this type does not own.
func (d *Descriptor) Close() error { return unix.Close(d.epfd) }

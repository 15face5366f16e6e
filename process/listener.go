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

// Listener is a single status-change subscription on a StatusSource. It
// carries a firing callback plus two owning release functions — mirroring
// the descriptor-listener API's (object, objectFree, argument,
// argumentFree) shape — that run exactly once, when the listener's
// reference count reaches zero. A new listener already holds the one
// reference its attachment to a source owns, and detaching is paired with
// the matching Unref, so the "attach increments, detach decrements"
// discipline is mechanical rather than left to each call site.
type Listener struct {
	onFire       func()
	mask         StatusMask
	edge         EdgeMode
	refcount     int
	objectFree   func()
	argumentFree func()
}

// NewListener builds a Listener that invokes onFire when its monitored
// status transitions according to its edge mode. objectFree and
// argumentFree may be nil; each runs at most once, when the listener is
// finally released. The returned Listener starts with a refcount of 1,
// owned by the caller attaching it to a source; the matching Unref is the
// detach.
func NewListener(onFire func(), objectFree, argumentFree func()) *Listener {
	return &Listener{
		onFire:       onFire,
		edge:         EdgeNever,
		refcount:     1,
		objectFree:   objectFree,
		argumentFree: argumentFree,
	}
}

// SetMonitorStatus configures which status bits this listener watches and
// under what edge mode. Passing EdgeNever disables further firing without
// detaching the listener from its source.
func (l *Listener) SetMonitorStatus(mask StatusMask, edge EdgeMode) {
	l.mask = mask
	l.edge = edge
}

// Fire invokes the listener's callback. Descriptor/timer implementations
// call this only when the configured edge condition is observed.
func (l *Listener) Fire() {
	if l.onFire != nil {
		l.onFire()
	}
}

// Mask returns the currently monitored status bits.
func (l *Listener) Mask() StatusMask { return l.mask }

// Edge returns the currently configured edge mode.
func (l *Listener) Edge() EdgeMode { return l.edge }

// Ref increments the listener's reference count.
func (l *Listener) Ref() { l.refcount++ }

// Unref decrements the listener's reference count. At zero, both release
// functions run, in (object, argument) order.
func (l *Listener) Unref() {
	l.refcount--
	if l.refcount > 0 {
		return
	}
	if l.objectFree != nil {
		l.objectFree()
	}
	if l.argumentFree != nil {
		l.argumentFree()
	}
}

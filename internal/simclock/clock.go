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

// Package simclock implements a single-goroutine, deterministic virtual-time
// event loop: the process.Scheduler this repository runs against outside of
// tests. It orders pending tasks on a (deadline, sequence) key stored in a
// github.com/google/btree B-tree, so tasks posted for the same deadline
// always fire in the order they were scheduled.
package simclock

import (
	"github.com/google/btree"

	"shadow.dev/shadow/process"
)

// entry is the btree.Item stored for one pending task: ordering is by
// (deadline, sequence) so equal deadlines still have a total order.
type entry struct {
	deadline process.Time
	seq      uint64
	task     process.Task
}

// Less implements btree.Item.
func (e *entry) Less(than btree.Item) bool {
	o := than.(*entry)
	if e.deadline != o.deadline {
		return e.deadline < o.deadline
	}
	return e.seq < o.seq
}

// Loop is a minimal virtual-time scheduler: it implements process.Scheduler
// and drives a Run loop that fires due tasks in deadline order until the
// queue is empty or a caller-supplied horizon is reached.
type Loop struct {
	now     process.Time
	tree    *btree.BTree
	nextSeq uint64
}

// NewLoop returns a Loop whose virtual clock starts at zero.
func NewLoop() *Loop {
	return &Loop{tree: btree.New(32)}
}

// Now implements process.Scheduler.
func (l *Loop) Now() process.Time { return l.now }

// ScheduleTask implements process.Scheduler. delay must be non-negative;
// callers (process.Process.Schedule) are responsible for normalizing a
// due-now delay to a positive minimum themselves.
func (l *Loop) ScheduleTask(task process.Task, delay process.Time) {
	l.tree.ReplaceOrInsert(&entry{
		deadline: l.now + delay,
		seq:      l.nextSeq,
		task:     task,
	})
	l.nextSeq++
}

// Pending reports how many tasks are queued but not yet fired.
func (l *Loop) Pending() int { return l.tree.Len() }

// Step fires every task whose deadline has already arrived at the current
// virtual time, and returns how many tasks ran. It does not advance time on
// its own: callers that want to fire newly-due tasks must call Advance or
// Run first.
func (l *Loop) Step() int {
	var ran int
	for {
		item := l.tree.Min()
		if item == nil {
			break
		}
		e := item.(*entry)
		if e.deadline > l.now {
			break
		}
		l.tree.DeleteMin()
		e.task.Run()
		e.task.Free()
		ran++
	}
	return ran
}

// Advance moves virtual time forward to `to` (a no-op if `to` is before
// the current time) and fires every task that is due by then, in deadline
// order. It is the primary driver used by tests that want to control
// exactly how far the clock moves between assertions.
func (l *Loop) Advance(to process.Time) int {
	if to < l.now {
		return 0
	}
	l.now = to
	return l.Step()
}

// Run drives the loop until either the queue is empty or the next pending
// task's deadline is after `until`, whichever comes first; it returns the
// virtual time the loop stopped at. A `until` of zero runs until the queue
// drains entirely.
func (l *Loop) Run(until process.Time) process.Time {
	for {
		item := l.tree.Min()
		if item == nil {
			return l.now
		}
		e := item.(*entry)
		if until > 0 && e.deadline > until {
			l.now = until
			return l.now
		}
		l.now = e.deadline
		l.Step()
	}
}

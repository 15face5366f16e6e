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

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/mohae/deepcopy"
)

// Args configures a new Process. It mirrors the plain-struct configuration
// style of a container construction request: no file-based config loading
// is in scope, only the knobs the core lifecycle needs.
type Args struct {
	Host            Host
	Scheduler       Scheduler
	Worker          *Worker
	NewThread       ThreadFactory
	ID              int
	HostName        string
	ExeName         string
	ExePath         string
	Argv            []string
	Envv            []string
	StartTime       Time
	StopTime        Time
	InterposeMethod InterposeMethod
	// VirtualTimePerSecond overrides DefaultVirtualTimePerSecond when
	// nonzero.
	VirtualTimePerSecond Time
}

// Process is the per-guest-program controller: it owns the native Thread,
// schedules start/stop tasks against the simulator clock, accounts CPU
// time, and routes resume notifications arising from Waiters.
type Process struct {
	host      Host
	scheduler Scheduler
	worker    *Worker
	newThread ThreadFactory

	id              int
	name            string
	interposeMethod InterposeMethod
	exeName         string
	exePath         string
	argv            []string
	envv            []string

	startTime Time
	stopTime  Time

	virtualTimePerSecond Time
	runningTime          float64

	mainThread       Thread
	nextThreadID     uint64
	returnCode       int
	returnCodeLogged bool

	stdout *os.File
	stderr *os.File

	refcount    int
	isExecuting bool
}

// New constructs a Process. It stores configuration only: it does not open
// log files and does not spawn a Thread until Schedule's start task fires.
// It panics if ExeName or ExePath is absent, a configuration-fatal
// condition; stopTime == 0 ("never stop") is permitted.
func New(args Args) *Process {
	if args.ExeName == "" || args.ExePath == "" {
		panic(fmt.Errorf("process.New: %w", ErrMissingExecutable))
	}

	vtps := args.VirtualTimePerSecond
	if vtps == 0 {
		vtps = DefaultVirtualTimePerSecond
	}

	p := &Process{
		host:                 args.Host,
		scheduler:            args.Scheduler,
		worker:               args.Worker,
		newThread:            args.NewThread,
		id:                   args.ID,
		name:                 fmt.Sprintf("%s.%s.%d", args.HostName, args.ExeName, args.ID),
		interposeMethod:      args.InterposeMethod,
		exeName:              args.ExeName,
		exePath:              args.ExePath,
		startTime:            args.StartTime,
		stopTime:             args.StopTime,
		virtualTimePerSecond: vtps,
		refcount:             1,
	}
	// argv/envv ownership is transferred into the Process at construction;
	// copy defensively so the caller's slices remain theirs to mutate.
	if args.Argv != nil {
		p.argv = deepcopy.Copy(args.Argv).([]string)
	}
	if args.Envv != nil {
		p.envv = deepcopy.Copy(args.Envv).([]string)
	}
	p.host.Ref()
	return p
}

// Ref increments the process's reference count.
func (p *Process) Ref() { p.refcount++ }

// Unref decrements the process's reference count, freeing the process
// when it reaches zero. Freeing while mainThread is running first
// terminates it.
func (p *Process) Unref() {
	p.refcount--
	if p.refcount > 0 {
		return
	}
	p.free()
}

func (p *Process) free() {
	var result *multierror.Error
	if p.mainThread != nil {
		p.mainThread.Terminate()
		p.mainThread.Unref()
		p.mainThread = nil
	}
	if p.stdout != nil {
		if err := p.stdout.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing stdout: %w", err))
		}
		p.stdout = nil
	}
	if p.stderr != nil {
		if err := p.stderr.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing stderr: %w", err))
		}
		p.stderr = nil
	}
	p.host.Unref()
	if result.ErrorOrNil() != nil {
		log.G(context.Background()).WithField("process", p.name).Warnf("errors while freeing process: %v", result)
	}
}

// Schedule reads the current virtual time and posts up to two tasks to
// the scheduler: a start task (always, unless stopTime has already
// elapsed relative to startTime) and, if a stop time is configured and
// later than the start time, a stop task. Each posted task owns a Process
// reference, released when the task is freed. Delays are normalized to at
// least 1 virtual-time unit so a "due now" schedule still preserves
// event-loop ordering.
func (p *Process) Schedule() {
	now := p.scheduler.Now()

	if p.stopTime == 0 || p.startTime < p.stopTime {
		p.Ref()
		p.scheduler.ScheduleTask(&startTask{p}, normalizeDelay(p.startTime-now))
	}
	if p.stopTime > 0 && p.stopTime > p.startTime {
		p.Ref()
		p.scheduler.ScheduleTask(&stopTask{p}, normalizeDelay(p.stopTime-now))
	}
}

func normalizeDelay(delay Time) Time {
	if delay < 1 {
		return 1
	}
	return delay
}

type startTask struct{ p *Process }

func (t *startTask) Run()  { t.p.start() }
func (t *startTask) Free() { t.p.Unref() }

type stopTask struct{ p *Process }

func (t *stopTask) Run()  { t.p.stop() }
func (t *stopTask) Free() { t.p.Unref() }

// start is fired by the scheduled start task. It is idempotent against an
// already-running process, opens the stdout/stderr log files, constructs
// the main Thread of the configured interposition variant, and runs it to
// its first blocking point or exit.
func (p *Process) start() {
	if p.IsRunning() {
		return
	}
	if p.interposeMethod != InterposePtrace && p.interposeMethod != InterposePreload {
		p.host.Abort(&FatalError{Op: "start", Err: ErrUnknownInterposeMethod})
		return
	}

	stdout, err := p.openLogFile("stdout")
	if err != nil {
		p.host.Abort(&FatalError{Op: "open stdout", Err: err})
		return
	}
	stderr, err := p.openLogFile("stderr")
	if err != nil {
		stdout.Close()
		p.host.Abort(&FatalError{Op: "open stderr", Err: err})
		return
	}
	p.stdout, p.stderr = stdout, stderr

	thread, err := p.newThread(p.interposeMethod, p.nextThreadID, p.name)
	if err != nil {
		p.host.Abort(&FatalError{Op: "create thread", Err: err})
		return
	}
	p.nextThreadID++
	p.mainThread = thread

	func() {
		release := p.worker.Activate(p)
		defer release()
		p.isExecuting = true
		defer func() { p.isExecuting = false }()

		p.accountCPU(func() {
			if err := p.mainThread.Run(p.argv, p.envv, int(p.stderr.Fd()), int(p.stdout.Fd())); err != nil {
				log.G(context.Background()).WithField("process", p.name).Errorf("thread run failed: %v", err)
			}
		})
	}()

	p.check()
}

// Continue resumes the guest after an awaited event has occurred. thread
// is the Thread to resume; passing nil resumes mainThread (the single-
// mainThread Non-goal means these are always the same Thread today, but
// the parameter documents the seam where multi-thread support would
// hook in). It is a no-op if the process is not running.
func (p *Process) Continue(thread Thread) {
	if !p.IsRunning() {
		return
	}
	if thread == nil {
		thread = p.mainThread
	}

	func() {
		release := p.worker.Activate(p)
		defer release()
		p.isExecuting = true
		defer func() { p.isExecuting = false }()

		p.accountCPU(func() {
			if err := thread.Resume(); err != nil {
				log.G(context.Background()).WithField("process", p.name).Errorf("thread resume failed: %v", err)
			}
		})
	}()

	p.check()
}

// stop is fired by the scheduled stop task (or may be invoked directly to
// force an early stop). It terminates and releases the main Thread if
// present; it is a no-op if the guest has already exited.
func (p *Process) stop() {
	func() {
		release := p.worker.Activate(p)
		defer release()

		p.accountCPU(func() {
			if p.mainThread != nil {
				p.isExecuting = true
				defer func() { p.isExecuting = false }()
				p.mainThread.Terminate()
				p.mainThread.Unref()
				p.mainThread = nil
			}
		})
	}()

	p.check()
}

// check observes the main Thread's state after a start/continue/stop call
// returns. If the thread is still running, it logs that the process is
// blocked waiting for events. Otherwise it reads and logs the exit code
// exactly once, terminates and releases the Thread, and logs the total
// accumulated runtime.
func (p *Process) check() {
	if p.mainThread == nil {
		return
	}
	entry := log.G(context.Background()).WithField("process", p.name)
	if p.mainThread.IsRunning() {
		entry.Info("blocked waiting for events")
		return
	}

	p.returnCode = p.mainThread.ReturnCode()
	p.logReturnCodeOnce(entry)

	p.mainThread.Terminate()
	p.mainThread.Unref()
	p.mainThread = nil

	entry.Infof("total runtime was %f seconds", p.runningTime)
}

func (p *Process) logReturnCodeOnce(entry *log.Entry) {
	if p.returnCodeLogged {
		return
	}
	p.returnCodeLogged = true
	if p.returnCode == 0 {
		entry.Infof("main success code '0' for process '%s'", p.name)
		return
	}
	entry.Errorf("main error code '%d' for process '%s'", p.returnCode, p.name)
	incrementPluginErrorCount()
}

// IsRunning reports whether the process has a live main Thread.
func (p *Process) IsRunning() bool {
	return p.mainThread != nil && p.mainThread.IsRunning()
}

// GetInterposeMethod returns the process's immutable interposition method.
func (p *Process) GetInterposeMethod() InterposeMethod { return p.interposeMethod }

// GetName returns the process's "{host}.{exe}.{pid}" display name.
func (p *Process) GetName() string { return p.name }

// MainThread returns the process's main Thread, or nil if it has none.
// Exposed primarily so Waiters can be constructed by callers outside this
// package (e.g. the syscall interception layer) around blocking calls.
func (p *Process) MainThread() Thread { return p.mainThread }

// WantsNotify mirrors the original's process_wantsNotify(epollfd) stub:
// it always reports false.
//
// TODO: wire this to the descriptor layer's epoll-fd registration once
// that mapping is defined; until then a Process never asks to be notified
// directly via epoll.
func (p *Process) WantsNotify(epollfd int) bool { return false }

func (p *Process) openLogFile(stream string) (*os.File, error) {
	path := filepath.Join(p.host.DataDir(), fmt.Sprintf("%s.%s", p.name, stream))
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

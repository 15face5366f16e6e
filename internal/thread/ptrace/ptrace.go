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

// Package ptrace implements process.Thread by attaching to the guest with
// PTRACE_TRACEME and single-stepping its syscall-entry/exit boundaries, the
// way pkg/sentry/platform/systrap's traced subprocess does, but stopping
// short of systrap's in-process syscall execution: here a syscall-entry
// stop on one of the blocking syscall numbers is itself the yield point
// Process.check observes as "still running" (the guest hasn't exited, but
// this Run/Resume call is done until the next Resume).
package ptrace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// blockingSyscalls are the syscall numbers treated as yield points: a
// syscall-entry stop on one of these returns control to the Process
// without waiting for the syscall to complete.
var blockingSyscalls = map[uint64]bool{
	unix.SYS_READ:       true,
	unix.SYS_WRITE:      true,
	unix.SYS_NANOSLEEP:  true,
	unix.SYS_SELECT:     true,
	unix.SYS_POLL:       true,
	unix.SYS_EPOLL_WAIT: true,
	unix.SYS_ACCEPT:     true,
	unix.SYS_ACCEPT4:    true,
	unix.SYS_CONNECT:    true,
}

// Thread is a process.Thread implementation backed by a real traced child
// process.
type Thread struct {
	id   uint64
	name string

	cmd        *exec.Cmd
	pid        int
	refcount   int
	running    bool
	exited     bool
	returnCode int
	inSyscall  bool
}

// New returns a ptrace-backed Thread for the given log id/name. The child
// is not spawned until Run is called.
func New(id uint64, name string) (*Thread, error) {
	return &Thread{id: id, name: name, refcount: 1}, nil
}

// Run implements process.Thread: it spawns the child under
// PTRACE_TRACEME, runs it to its initial SIGTRAP-on-exec stop, and then
// single-steps syscall boundaries until the first blocking syscall-entry
// stop or exit.
func (t *Thread) Run(argv, envv []string, stderrFD, stdoutFD int) error {
	if len(argv) == 0 {
		return fmt.Errorf("ptrace: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = envv
	cmd.Stdout = os.NewFile(uintptr(stdoutFD), "stdout")
	cmd.Stderr = os.NewFile(uintptr(stderrFD), "stderr")
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ptrace: starting %s: %w", argv[0], err)
	}
	t.cmd = cmd
	t.pid = cmd.Process.Pid
	t.running = true

	// The traced child immediately SIGTRAPs on exec; consume that stop
	// before driving it forward.
	var status unix.WaitStatus
	if _, err := unix.Wait4(t.pid, &status, 0, nil); err != nil {
		return fmt.Errorf("ptrace: initial wait4: %w", err)
	}
	unix.PtraceSetOptions(t.pid, unix.PTRACE_O_TRACESYSGOOD|unix.PTRACE_O_EXITKILL)

	t.resumeUntilYield()
	return nil
}

// Resume implements process.Thread: it continues the traced child past
// the syscall boundary it is currently stopped at, and runs it to the
// next blocking syscall-entry stop or exit.
func (t *Thread) Resume() error {
	if !t.running {
		return nil
	}
	if err := unix.PtraceSyscall(t.pid, 0); err != nil {
		return fmt.Errorf("ptrace: syscall-step: %w", err)
	}
	t.resumeUntilYield()
	return nil
}

// resumeUntilYield single-steps syscall-entry/exit stops until either a
// blocking syscall's entry stop is observed (the thread yields back to the
// caller, still running) or the child exits.
func (t *Thread) resumeUntilYield() {
	for {
		var status unix.WaitStatus
		_, err := unix.Wait4(t.pid, &status, 0, nil)
		if err != nil {
			log.G(context.Background()).WithField("thread", t.name).Errorf("wait4: %v", err)
			t.running = false
			t.exited = true
			return
		}

		if status.Exited() {
			t.running = false
			t.exited = true
			t.returnCode = status.ExitStatus()
			return
		}
		if status.Signaled() {
			t.running = false
			t.exited = true
			t.returnCode = 128 + int(status.Signal())
			return
		}

		if status.Stopped() && status.StopSignal() == unix.SIGTRAP|0x80 {
			t.inSyscall = !t.inSyscall
			if t.inSyscall {
				regs, err := ptraceGetRegs(t.pid)
				if err == nil && blockingSyscalls[regs] {
					// Syscall-entry stop on a blocking syscall: yield.
					return
				}
			}
			if err := unix.PtraceSyscall(t.pid, 0); err != nil {
				t.running = false
				t.exited = true
				return
			}
			continue
		}

		// Any other stop (a delivered signal) is passed through.
		sig := status.StopSignal()
		if err := unix.PtraceSyscall(t.pid, int(sig)); err != nil {
			t.running = false
			t.exited = true
			return
		}
	}
}

// Terminate implements process.Thread: it force-kills the traced child if
// still alive.
func (t *Thread) Terminate() {
	if !t.running {
		return
	}
	unix.Kill(t.pid, unix.SIGKILL)
	var status unix.WaitStatus
	unix.Wait4(t.pid, &status, 0, nil)
	t.running = false
	t.exited = true
}

// IsRunning implements process.Thread.
func (t *Thread) IsRunning() bool { return t.running }

// ReturnCode implements process.Thread.
func (t *Thread) ReturnCode() int { return t.returnCode }

// Ref implements process.Thread.
func (t *Thread) Ref() { t.refcount++ }

// Unref implements process.Thread. At zero it ensures the child is no
// longer alive.
func (t *Thread) Unref() {
	t.refcount--
	if t.refcount > 0 {
		return
	}
	t.Terminate()
}

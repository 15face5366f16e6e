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

// Package preload implements process.Thread over LD_PRELOAD interposition:
// the guest is launched with an injected shim library and reports its
// blocking points over a Unix control socket, the way runsc/container.go
// talks to its sandboxed gofer process over an file-descriptor-passing RPC
// channel, simplified here to a fixed-size status protocol.
package preload

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/containerd/log"
)

// statusCode is the single byte a shim sends over the control socket to
// report why it yielded.
type statusCode byte

const (
	statusBlocked statusCode = iota
	statusExited
)

// ShimPath is the path to the LD_PRELOAD shim library injected into guest
// processes. It is a package variable (rather than a constant) so a
// caller assembling a worker can point it at a build-specific location.
var ShimPath = "/usr/lib/shadow/libshimpreload.so"

// Thread is a process.Thread implementation backed by a guest spawned
// with the shim preloaded, communicating its blocking points and exit
// status over a private Unix control socket.
type Thread struct {
	id   uint64
	name string

	cmd        *exec.Cmd
	listener   net.Listener
	conn       net.Conn
	socketPath string

	refcount   int
	running    bool
	returnCode int
}

// New returns a preload-backed Thread for the given log id/name.
func New(id uint64, name string) (*Thread, error) {
	return &Thread{id: id, name: name, refcount: 1}, nil
}

// Run implements process.Thread: it opens a control socket, spawns the
// guest with LD_PRELOAD pointed at ShimPath and an env var telling the
// shim where to dial back, accepts the shim's connection (retrying a
// failed accept with backoff), and runs it to its first reported status.
// The socket is listening before the guest is started.
func (t *Thread) Run(argv, envv []string, stderrFD, stdoutFD int) error {
	if len(argv) == 0 {
		return fmt.Errorf("preload: empty argv")
	}

	socketPath := fmt.Sprintf("%s/shadow-preload-%d.sock", os.TempDir(), t.id)
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("preload: listening on %s: %w", socketPath, err)
	}
	t.listener = ln
	t.socketPath = socketPath

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(append([]string{}, envv...),
		"LD_PRELOAD="+ShimPath,
		"SHADOW_PRELOAD_CONTROL_SOCKET="+socketPath,
	)
	cmd.Stdout = os.NewFile(uintptr(stdoutFD), "stdout")
	cmd.Stderr = os.NewFile(uintptr(stderrFD), "stderr")
	if err := cmd.Start(); err != nil {
		ln.Close()
		return fmt.Errorf("preload: starting %s: %w", argv[0], err)
	}
	t.cmd = cmd
	t.running = true

	conn, err := t.acceptWithBackoff()
	if err != nil {
		return fmt.Errorf("preload: accepting shim connection: %w", err)
	}
	t.conn = conn

	t.pumpOneStatus()
	return nil
}

// acceptWithBackoff accepts the shim's first connection. Accept blocks
// until the child dials back; an Accept that returns an error is retried
// with an exponential backoff for up to 10 seconds.
func (t *Thread) acceptWithBackoff() (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := t.listener.Accept()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return conn, nil
}

// Resume implements process.Thread: it tells the shim to continue past
// the point it last reported blocking at, and waits for its next status.
func (t *Thread) Resume() error {
	if !t.running {
		return nil
	}
	if _, err := t.conn.Write([]byte{byte(statusBlocked)}); err != nil {
		return fmt.Errorf("preload: signaling resume: %w", err)
	}
	t.pumpOneStatus()
	return nil
}

// pumpOneStatus reads one five-byte status message from the shim (a status
// byte followed by a big-endian 32-bit payload): either a "blocked" report
// (the thread yields, still running) or an "exited" report whose payload
// is the guest's return code.
func (t *Thread) pumpOneStatus() {
	var header [5]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		log.G(context.Background()).WithField("thread", t.name).Errorf("control socket read: %v", err)
		t.running = false
		return
	}
	code := statusCode(header[0])
	payload := binary.BigEndian.Uint32(header[1:])

	switch code {
	case statusBlocked:
		t.running = true
	case statusExited:
		t.running = false
		t.returnCode = int(int32(payload))
	default:
		log.G(context.Background()).WithField("thread", t.name).Warnf("unknown status code %d", code)
		t.running = false
	}
}

// Terminate implements process.Thread.
func (t *Thread) Terminate() {
	if !t.running {
		return
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
	t.running = false
}

// IsRunning implements process.Thread.
func (t *Thread) IsRunning() bool { return t.running }

// ReturnCode implements process.Thread.
func (t *Thread) ReturnCode() int { return t.returnCode }

// Ref implements process.Thread.
func (t *Thread) Ref() { t.refcount++ }

// Unref implements process.Thread. At zero it tears down the control
// socket and kills the guest if still alive.
func (t *Thread) Unref() {
	t.refcount--
	if t.refcount > 0 {
		return
	}
	t.Terminate()
	if t.conn != nil {
		t.conn.Close()
	}
	if t.listener != nil {
		t.listener.Close()
	}
	if t.socketPath != "" {
		os.Remove(t.socketPath)
	}
}

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

// Package simrun wires internal/simclock, internal/simhost, and
// process.Process together into a single runnable unit: the glue that
// makes this repository an executable simulator rather than a set of
// interfaces, without growing the process package's own import graph.
package simrun

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"shadow.dev/shadow/internal/simhost"
	"shadow.dev/shadow/internal/simlog"
	"shadow.dev/shadow/internal/thread/ptrace"
	"shadow.dev/shadow/process"
)

// Host bundles one internal/simhost.Host with the Worker that processes
// launched against it will use for their active-process slot, and the
// run-level logger Spawn reports scenario progress through.
type Host struct {
	*simhost.Host
	Worker *process.Worker
	Logger *logrus.Logger
}

// NewHost creates a Host named name with its data directory under dataDir,
// creating dataDir if necessary.
func NewHost(name, dataDir string) (*Host, error) {
	if err := simhost.EnsureDataDir(dataDir); err != nil {
		return nil, err
	}
	logger := simlog.New(os.Getenv("SHADOW_LOG_LEVEL"))
	logger.WithField("host", name).Info("host created")
	return &Host{Host: simhost.New(name, dataDir), Worker: process.NewWorker(), Logger: logger}, nil
}

// SpawnArgs configures one guest process launched through Spawn.
type SpawnArgs struct {
	ID              int
	ExeName         string
	ExePath         string
	Argv            []string
	Envv            []string
	StartTime       process.Time
	StopTime        process.Time
	InterposeMethod process.InterposeMethod
}

// Spawn constructs a Process bound to host h and scheduler sched, using
// the ptrace Thread variant, and schedules its start/stop tasks. It
// returns the constructed Process so the caller can hold additional
// references or attach Waiters to it.
func Spawn(h *Host, sched process.Scheduler, args SpawnArgs) (*process.Process, error) {
	method := args.InterposeMethod
	if method == process.InterposeUnknown {
		method = process.InterposePtrace
	}

	p := process.New(process.Args{
		Host:            h.Host,
		Scheduler:       sched,
		Worker:          h.Worker,
		NewThread:       ptraceThreadFactory,
		ID:              args.ID,
		HostName:        h.Name(),
		ExeName:         args.ExeName,
		ExePath:         args.ExePath,
		Argv:            args.Argv,
		Envv:            args.Envv,
		StartTime:       args.StartTime,
		StopTime:        args.StopTime,
		InterposeMethod: method,
	})
	h.Logger.WithFields(logrus.Fields{
		"host": h.Name(),
		"exe":  args.ExeName,
		"id":   args.ID,
	}).Info("scheduled guest process")

	p.Schedule()
	return p, nil
}

func ptraceThreadFactory(method process.InterposeMethod, id uint64, name string) (process.Thread, error) {
	if method != process.InterposePtrace {
		return nil, fmt.Errorf("simrun: unsupported interposition method %s", method)
	}
	return ptrace.New(id, name)
}

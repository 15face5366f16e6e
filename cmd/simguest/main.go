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

// Binary simguest is a small swiss knife of guest programs used to drive
// process package tests and manual exercises under either interposition
// method: new subcommands can be added as new scenarios are needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/subcommands"
	"github.com/kr/pty"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(exitCmd), "")
	subcommands.Register(new(blockReadCmd), "")
	subcommands.Register(new(sleepCmd), "")
	subcommands.Register(new(ptyRunnerCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// exitCmd exits immediately with a configurable code: the "immediate
// start, no stop" scenario's guest.
type exitCmd struct {
	code int
}

func (*exitCmd) Name() string     { return "exit" }
func (*exitCmd) Synopsis() string { return "exits immediately with the given code" }
func (*exitCmd) Usage() string    { return "exit [-code N]\n" }
func (c *exitCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.code, "code", 0, "exit code")
}
func (c *exitCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	os.Exit(c.code)
	return subcommands.ExitSuccess
}

// blockReadCmd reads stdin until EOF, then echoes what it read to stdout
// and exits 0: a guest whose blocking points are descriptor-readiness
// waits.
type blockReadCmd struct{}

func (*blockReadCmd) Name() string     { return "block-read" }
func (*blockReadCmd) Synopsis() string { return "blocks reading stdin, then echoes it and exits" }
func (*blockReadCmd) Usage() string    { return "block-read\n" }
func (*blockReadCmd) SetFlags(*flag.FlagSet) {}
func (*blockReadCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "block-read: read:", err)
		return subcommands.ExitFailure
	}
	os.Stdout.Write(data)
	return subcommands.ExitSuccess
}

// sleepCmd sleeps for the given duration with time.Sleep (which the Go
// runtime implements with its own timer wait, not a direct nanosleep): a
// guest whose blocking point is a timer wait.
type sleepCmd struct {
	duration time.Duration
}

func (*sleepCmd) Name() string     { return "sleep" }
func (*sleepCmd) Synopsis() string { return "sleeps for the given duration, then exits 0" }
func (*sleepCmd) Usage() string    { return "sleep [-for 1s]\n" }
func (c *sleepCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.duration, "for", time.Second, "sleep duration")
}
func (c *sleepCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	time.Sleep(c.duration)
	return subcommands.ExitSuccess
}

// ptyRunnerCmd runs the given command under an allocated pty, a guest
// exercising the descriptor layer against a real terminal fd rather than
// a plain pipe.
type ptyRunnerCmd struct{}

func (*ptyRunnerCmd) Name() string     { return "pty-runner" }
func (*ptyRunnerCmd) Synopsis() string { return "runs the given command with an open pty" }
func (*ptyRunnerCmd) Usage() string    { return "pty-runner -- [command]\n" }
func (*ptyRunnerCmd) SetFlags(*flag.FlagSet) {}
func (*ptyRunnerCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "pty-runner: missing command")
		return subcommands.ExitUsageError
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pty-runner: pty.Start:", err)
		return subcommands.ExitFailure
	}
	defer ptmx.Close()

	go io.Copy(os.Stdout, ptmx)
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return subcommands.ExitStatus(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "pty-runner: wait:", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

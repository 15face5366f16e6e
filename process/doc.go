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

// Package process implements the guest-process lifecycle core of the
// simulator: a Process owns a native Thread running under ptrace or
// LD_PRELOAD interposition, schedules its start and stop against the
// simulator's virtual clock, accounts its CPU time, and arms Waiters so
// that blocking guest syscalls resume when a timer or descriptor fires.
//
// The package depends on its collaborators only through the narrow
// interfaces in host.go (Host, Scheduler, Task, StatusSource). Concrete
// implementations of those interfaces — a virtual-time scheduler, an
// epoll/timerfd-backed descriptor layer, and a minimal host model — live
// under internal/ and are wired together by internal/simrun.
package process

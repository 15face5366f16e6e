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

import "time"

// DefaultVirtualTimePerSecond is the default conversion factor between one
// second of measured wall-clock CPU time and the virtual-time delay it
// accounts for. A Process configured with a larger factor falls behind the
// virtual clock faster for the same real CPU cost.
const DefaultVirtualTimePerSecond Time = 1_000_000_000

// accountCPU wraps a single entry into guest code: it starts a monotonic
// wall-clock timer before the call and, on return, converts elapsed
// seconds into a virtual-time delay that is pushed into the host's CPU
// model and tracker, and accumulates the raw seconds into the process's
// total-runtime counter. It is the mechanism by which a slow guest falls
// behind faster ones on the shared virtual clock.
func (p *Process) accountCPU(enter func()) {
	start := time.Now()
	enter()
	elapsed := time.Since(start).Seconds()

	p.runningTime += elapsed
	delay := Time(elapsed * float64(p.virtualTimePerSecond))
	p.host.AccountCPU(delay, elapsed)
}

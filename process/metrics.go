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

import "sync/atomic"

// pluginErrorCount is incremented once per process whose guest exits with
// a nonzero return code. Unlike every other piece of state in this
// package, it is shared across hosts/workers, so it is the one counter
// that genuinely needs to be atomic rather than single-worker-confined.
var pluginErrorCount int64

func incrementPluginErrorCount() {
	atomic.AddInt64(&pluginErrorCount, 1)
}

// PluginErrorCount returns the number of guest processes observed to have
// exited with a nonzero return code so far.
func PluginErrorCount() int64 {
	return atomic.LoadInt64(&pluginErrorCount)
}

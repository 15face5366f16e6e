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

package simhost

import (
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"

	"shadow.dev/shadow/process"
)

func TestAccountCPUAccumulates(t *testing.T) {
	h := New("host0", t.TempDir())
	h.AccountCPU(100, 0.5)
	h.AccountCPU(50, 0.25)
	assert.Equal(t, h.CPUDelay(), process.Time(150))
	assert.Equal(t, h.Tracker.ProcessingSeconds(), 0.75)
}

func TestAbortRecordsError(t *testing.T) {
	h := New("host0", t.TempDir())
	assert.Assert(t, h.Aborted() == nil)
	h.Abort(errors.New("boom"))
	assert.ErrorContains(t, h.Aborted(), "boom")
}

func TestEnsureDataDirCreatesPath(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	assert.NilError(t, EnsureDataDir(dir))
}

func TestAddressesTableRoundTrips(t *testing.T) {
	h := New("host0", t.TempDir())
	h.Addresses["guest0"] = net.ParseIP("192.168.1.5")
	h.Addresses["guest1"] = net.ParseIP("192.168.1.6")

	want := map[string]net.IP{
		"guest0": net.ParseIP("192.168.1.5"),
		"guest1": net.ParseIP("192.168.1.6"),
	}
	if diff := cmp.Diff(want, h.Addresses); diff != "" {
		t.Fatalf("address table mismatch (-want +got):\n%s", diff)
	}
}

// Copyright 2020 The gVisor Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// allocate simulates a multi-step sector allocation that fails at step
// failAt (or never, if failAt < 0). It returns the sectors it rolled back.
func allocate(steps, failAt int, release bool) (rolledBack []int, cleaner func()) {
	cu := Make(func() {})
	defer cu.Clean()
	for i := 0; i < steps; i++ {
		if i == failAt {
			return rolledBack, nil
		}
		sector := i
		cu.Add(func() { rolledBack = append(rolledBack, sector) })
	}
	if release {
		return rolledBack, cu.Release()
	}
	return rolledBack, nil
}

func TestCleanOnFailure(t *testing.T) {
	var got []int
	func() {
		cu := Make(func() { got = append(got, 0) })
		defer cu.Clean()
		cu.Add(func() { got = append(got, 1) })
		cu.Add(func() { got = append(got, 2) })
		if cu.Len() != 3 {
			t.Fatalf("Len() = %d, want 3", cu.Len())
		}
	}()
	if want := []int{2, 1, 0}; !cmp.Equal(got, want) {
		t.Errorf("cleanup order got %v, want %v", got, want)
	}
}

func TestRelease(t *testing.T) {
	var rolledBack []int
	cu := Make(func() { rolledBack = append(rolledBack, -1) })
	cu.Add(func() { rolledBack = append(rolledBack, 1) })
	cleaner := cu.Release()
	cu.Clean()

	if len(rolledBack) != 0 {
		t.Fatalf("cleanup functions ran after Release: %v", rolledBack)
	}

	cleaner()
	if want := []int{1, -1}; !cmp.Equal(rolledBack, want) {
		t.Errorf("released cleaner ran %v, want %v", rolledBack, want)
	}
}

func TestPartialAllocation(t *testing.T) {
	for _, tc := range []struct {
		name    string
		steps   int
		failAt  int
		release bool
		want    []int
	}{
		{name: "fail midway", steps: 4, failAt: 2, want: []int{1, 0}},
		{name: "success", steps: 3, failAt: -1, release: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, cleaner := allocate(tc.steps, tc.failAt, tc.release)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("unexpected rollback (-want +got):\n%s", diff)
			}
			if tc.release && cleaner == nil {
				t.Errorf("Release() returned a nil cleaner")
			}
		})
	}
}

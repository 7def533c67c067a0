// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/testutil"
)

func TestCoverageNovelty(t *testing.T) {
	cov := NewCoverage("cov")
	assert.Equal(t, "cov", cov.Name())
	assert.True(t, cov.IsInteresting(executor.Normal, []uint64{17}))
	assert.False(t, cov.IsInteresting(executor.Normal, []uint64{17}))
	assert.False(t, cov.IsInteresting(executor.Normal, nil))
	assert.Equal(t, 1, cov.NewUnits([]uint64{17, 18, 18}))
	assert.True(t, cov.IsInteresting(executor.Normal, []uint64{17, 18, 18}))
	assert.Equal(t, []uint64{17, 18}, cov.Seen())
	assert.Equal(t, 0, cov.NewUnits([]uint64{18}))
}

func TestCoverageOutcomes(t *testing.T) {
	cov := NewCoverage("cov")
	assert.False(t, cov.IsInteresting(executor.TimedOut, []uint64{1}))
	assert.Equal(t, 0, cov.Len())
	assert.True(t, cov.IsInteresting(executor.Crashed, []uint64{1}))
	assert.Equal(t, 1, cov.Len())
}

func TestCoverageMonotonic(t *testing.T) {
	cov := NewCoverage("cov")
	rnd := rand.New(testutil.RandSource(t))
	prev := 0
	for i := 0; i < testutil.IterCount(); i++ {
		snapshot := make([]uint64, rnd.Intn(10))
		for j := range snapshot {
			snapshot[j] = uint64(rnd.Intn(500))
		}
		newUnits := cov.NewUnits(snapshot)
		interesting := cov.IsInteresting(executor.Normal, snapshot)
		assert.Equal(t, newUnits != 0, interesting)
		assert.Equal(t, prev+newUnits, cov.Len())
		assert.GreaterOrEqual(t, cov.Len(), prev)
		prev = cov.Len()
	}
}

func TestObserve(t *testing.T) {
	cov := NewCoverage("cov")
	assert.Equal(t, 2, cov.Observe([]uint64{1, 2, 2}))
	assert.Equal(t, 0, cov.Observe([]uint64{1}))
	assert.False(t, cov.IsInteresting(executor.Normal, []uint64{2}))
}

func TestObjectives(t *testing.T) {
	tests := []struct {
		obj      Objective
		normal   bool
		crashed  bool
		timedOut bool
	}{
		{Crash{}, false, true, false},
		{Timeout{}, false, false, true},
		{CrashOrTimeout(), false, true, true},
		{Objectives(), false, false, false},
	}
	for i, test := range tests {
		assert.Equal(t, test.normal, test.obj.IsObjective(executor.Normal), "#%v", i)
		assert.Equal(t, test.crashed, test.obj.IsObjective(executor.Crashed), "#%v", i)
		assert.Equal(t, test.timedOut, test.obj.IsObjective(executor.TimedOut), "#%v", i)
	}
}

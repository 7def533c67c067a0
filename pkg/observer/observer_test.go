// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserverRun(t *testing.T) {
	obs := New("cov", 4)
	assert.Equal(t, "cov", obs.Name())
	assert.Empty(t, obs.Snapshot())
	obs.Begin()
	obs.Record(17)
	obs.Fill([]uint64{1, 2})
	obs.End()
	assert.Equal(t, []uint64{17, 1, 2}, obs.Snapshot())

	obs.Reset()
	assert.Empty(t, obs.Snapshot())
}

func TestObserverNoCrossRunContamination(t *testing.T) {
	obs := New("cov", 0)
	obs.Begin()
	obs.Record(1)
	obs.End()
	obs.Begin()
	obs.Record(2)
	obs.End()
	assert.Equal(t, []uint64{2}, obs.Snapshot())
}

func TestObserverOverflow(t *testing.T) {
	obs := New("cov", 2)
	obs.Begin()
	obs.Fill([]uint64{1, 2, 3, 4})
	obs.End()
	assert.Equal(t, []uint64{1, 2}, obs.Snapshot())
	assert.Equal(t, 2, obs.Dropped())
	assert.Equal(t, 2, obs.Cap())
}

func TestObserverHandOff(t *testing.T) {
	obs := New("cov", 0)
	assert.Panics(t, func() { obs.Record(1) })
	assert.Panics(t, func() { obs.End() })
	obs.Begin()
	assert.True(t, obs.Running())
	assert.Panics(t, func() { obs.Snapshot() })
	assert.Panics(t, func() { obs.Reset() })
	assert.Panics(t, func() { obs.Begin() })
	obs.End()
	assert.NotPanics(t, func() { obs.Snapshot() })
}

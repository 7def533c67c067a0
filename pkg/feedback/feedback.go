// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package feedback decides which runs are worth keeping.
//
// Feedback judges coverage novelty (whether an input goes to the corpus),
// Objective judges the outcome (whether an input is a found bug).
package feedback

import (
	"sync"

	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/signal"
)

type Feedback interface {
	IsInteresting(outcome executor.Outcome, snapshot []uint64) bool
}

type Objective interface {
	IsObjective(outcome executor.Outcome) bool
}

// Coverage tracks all coverage units seen in accepted runs.
// An input is interesting if it covers at least one unit never seen before.
type Coverage struct {
	name string
	mu   sync.RWMutex
	seen signal.Signal
}

func NewCoverage(name string) *Coverage {
	return &Coverage{name: name}
}

func (cov *Coverage) Name() string {
	return cov.name
}

// IsInteresting checks the snapshot for new units and, if there are any,
// adds them to the seen set. The set never shrinks.
// Timed out runs are never interesting: their coverage is cut at a random point.
func (cov *Coverage) IsInteresting(outcome executor.Outcome, snapshot []uint64) bool {
	if outcome == executor.TimedOut {
		return false
	}
	cov.mu.RLock()
	hasNew := cov.seen.HasNewRaw(snapshot)
	cov.mu.RUnlock()
	if !hasNew {
		return false
	}
	cov.mu.Lock()
	defer cov.mu.Unlock()
	diff := cov.seen.DiffRaw(snapshot)
	cov.seen.Merge(diff)
	return !diff.Empty()
}

// NewUnits returns the number of units in snapshot that are not seen yet, without updating the set.
func (cov *Coverage) NewUnits(snapshot []uint64) int {
	cov.mu.RLock()
	defer cov.mu.RUnlock()
	return cov.seen.DiffRaw(snapshot).Len()
}

// Observe adds units to the seen set unconditionally (e.g. coverage of seeds).
func (cov *Coverage) Observe(snapshot []uint64) int {
	cov.mu.Lock()
	defer cov.mu.Unlock()
	diff := cov.seen.DiffRaw(snapshot)
	cov.seen.Merge(diff)
	return diff.Len()
}

func (cov *Coverage) Len() int {
	cov.mu.RLock()
	defer cov.mu.RUnlock()
	return cov.seen.Len()
}

// Seen returns sorted copy of the seen set.
func (cov *Coverage) Seen() []uint64 {
	cov.mu.RLock()
	defer cov.mu.RUnlock()
	return cov.seen.Serialize()
}

// Crash is the default objective: the target crashed.
type Crash struct{}

func (Crash) IsObjective(outcome executor.Outcome) bool {
	return outcome == executor.Crashed
}

// Timeout treats hangs as found bugs.
type Timeout struct{}

func (Timeout) IsObjective(outcome executor.Outcome) bool {
	return outcome == executor.TimedOut
}

type anyObjective []Objective

// Objectives combines objectives with logical or.
func Objectives(objs ...Objective) Objective {
	return anyObjective(objs)
}

func (objs anyObjective) IsObjective(outcome executor.Outcome) bool {
	for _, obj := range objs {
		if obj.IsObjective(outcome) {
			return true
		}
	}
	return false
}

// CrashOrTimeout is the objective variant that also treats timeouts as solutions.
func CrashOrTimeout() Objective {
	return Objectives(Crash{}, Timeout{})
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package observer holds the coverage buffer filled by the executor during a single run.
//
// An Observer is exclusively owned by the executor between Begin and End
// and readable by feedback components only after End. Violations of this
// hand-off are programming errors and panic.
package observer

import (
	"fmt"
)

// DefaultCapacity is the number of coverage units an observer can hold.
const DefaultCapacity = 1 << 16

type Observer struct {
	name    string
	units   []uint64
	running bool
	dropped int
}

func New(name string, capacity int) *Observer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Observer{
		name:  name,
		units: make([]uint64, 0, capacity),
	}
}

func (o *Observer) Name() string {
	return o.name
}

// Reset clears state left by the previous run.
func (o *Observer) Reset() {
	if o.running {
		panic(fmt.Sprintf("observer %v: reset during a run", o.name))
	}
	o.units = o.units[:0]
	o.dropped = 0
}

// Begin hands the buffer over to the executor.
func (o *Observer) Begin() {
	if o.running {
		panic(fmt.Sprintf("observer %v: nested run", o.name))
	}
	o.units = o.units[:0]
	o.dropped = 0
	o.running = true
}

// End hands the buffer back to readers.
func (o *Observer) End() {
	if !o.running {
		panic(fmt.Sprintf("observer %v: end without begin", o.name))
	}
	o.running = false
}

func (o *Observer) Running() bool {
	return o.running
}

// Record appends a coverage unit. Units beyond capacity are counted as dropped.
func (o *Observer) Record(unit uint64) {
	if !o.running {
		panic(fmt.Sprintf("observer %v: record outside of a run", o.name))
	}
	if len(o.units) == cap(o.units) {
		o.dropped++
		return
	}
	o.units = append(o.units, unit)
}

// Fill records a batch of units, e.g. decoded from a shared memory region.
func (o *Observer) Fill(units []uint64) {
	for _, unit := range units {
		o.Record(unit)
	}
}

// Snapshot returns the units recorded during the last run.
// The returned slice is owned by the observer and is valid until the next Reset/Begin.
func (o *Observer) Snapshot() []uint64 {
	if o.running {
		panic(fmt.Sprintf("observer %v: snapshot during a run", o.name))
	}
	return o.units
}

func (o *Observer) Len() int {
	return len(o.units)
}

func (o *Observer) Cap() int {
	return cap(o.units)
}

// Dropped returns the number of units that did not fit into the buffer during the last run.
func (o *Observer) Dropped() int {
	return o.dropped
}

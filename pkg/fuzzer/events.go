// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
)

type EventKind int

const (
	// EventStats is emitted periodically and when the loop stops.
	EventStats EventKind = iota
	// EventNewTestcase is emitted when an input with new coverage is added to the corpus.
	EventNewTestcase
	// EventSolution is emitted when a new input satisfying the objective is found.
	EventSolution
)

func (kind EventKind) String() string {
	switch kind {
	case EventStats:
		return "Stats"
	case EventNewTestcase:
		return "Testcase"
	case EventSolution:
		return "Objective"
	default:
		return "Unknown"
	}
}

type Event struct {
	Kind        EventKind
	Session     string
	Iterations  uint64
	Execs       uint64
	CorpusSize  int
	Solutions   int
	ExecsPerSec float64
	// Time since the start of the loop.
	Time time.Duration
	// ID of the new testcase in the corpus or solutions store.
	ID corpus.ID
}

// EventSink receives events synchronously from the fuzzing loop,
// so it must not block for long.
type EventSink interface {
	OnEvent(ev Event)
}

type EventSinkFunc func(ev Event)

func (fn EventSinkFunc) OnEvent(ev Event) {
	fn(ev)
}

func (fuzzer *Fuzzer) emit(kind EventKind, id corpus.ID) {
	elapsed := fuzzer.uptime()
	execs := fuzzer.Execs()
	fuzzer.cfg.Sink.OnEvent(Event{
		Kind:        kind,
		Session:     fuzzer.cfg.Session,
		Iterations:  fuzzer.Iterations(),
		Execs:       execs,
		CorpusSize:  fuzzer.Corpus.Count(),
		Solutions:   fuzzer.Solutions.Count(),
		ExecsPerSec: execsPerSec(execs, elapsed),
		Time:        elapsed,
		ID:          id,
	})
}

func (fuzzer *Fuzzer) emitStats() {
	fuzzer.lastStats = time.Now()
	fuzzer.emit(EventStats, corpus.InvalidID)
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package monitor presents fuzzing progress: console lines, an HTTP UI
// and an optional mirror of solutions in Google Cloud Storage.
// All of them consume fuzzer events through fuzzer.EventSink.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
)

// LogSink prints one line per event:
//
//	[Stats #0] run time: 0h-1m-30s, clients: 1, corpus: 12, objectives: 1, executions: 4200, exec/sec: 46.7
type LogSink struct {
	logf func(level int, msg string, args ...any)

	mu       sync.Mutex
	sessions map[string]int
}

func NewLogSink(logf func(level int, msg string, args ...any)) *LogSink {
	return &LogSink{
		logf:     logf,
		sessions: make(map[string]int),
	}
}

func (sink *LogSink) OnEvent(ev fuzzer.Event) {
	sink.mu.Lock()
	client, ok := sink.sessions[ev.Session]
	if !ok {
		client = len(sink.sessions)
		sink.sessions[ev.Session] = client
	}
	clients := len(sink.sessions)
	sink.mu.Unlock()
	level := 0
	if ev.Kind == fuzzer.EventNewTestcase {
		level = 1
	}
	sink.logf(level, "%v", FormatEvent(ev, client, clients))
}

func FormatEvent(ev fuzzer.Event, client, clients int) string {
	return fmt.Sprintf("[%v #%v] run time: %v, clients: %v, corpus: %v, objectives: %v,"+
		" executions: %v, exec/sec: %v",
		ev.Kind, client, formatRunTime(ev.Time), clients, ev.CorpusSize, ev.Solutions,
		ev.Execs, formatExecsPerSec(ev.ExecsPerSec))
}

func formatRunTime(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%vh-%vm-%vs", int(d/time.Hour), int(d/time.Minute%60), int(d/time.Second%60))
}

func formatExecsPerSec(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.2fk", v/1e3)
	default:
		return fmt.Sprintf("%.1f", v)
	}
}

// Multi fans out events to several sinks in order.
type Multi []fuzzer.EventSink

func (m Multi) OnEvent(ev fuzzer.Event) {
	for _, sink := range m {
		sink.OnEvent(ev)
	}
}

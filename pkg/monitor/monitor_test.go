// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
)

func TestFormatEvent(t *testing.T) {
	ev := fuzzer.Event{
		Kind:        fuzzer.EventStats,
		Time:        time.Hour + 2*time.Minute + 3*time.Second + 400*time.Millisecond,
		CorpusSize:  12,
		Solutions:   1,
		Execs:       4200,
		ExecsPerSec: 46.66,
	}
	assert.Equal(t, "[Stats #0] run time: 1h-2m-3s, clients: 1, corpus: 12, objectives: 1,"+
		" executions: 4200, exec/sec: 46.7", FormatEvent(ev, 0, 1))
	ev.Kind = fuzzer.EventSolution
	ev.ExecsPerSec = 12345
	assert.Equal(t, "[Objective #1] run time: 1h-2m-3s, clients: 2, corpus: 12, objectives: 1,"+
		" executions: 4200, exec/sec: 12.35k", FormatEvent(ev, 1, 2))
}

type logLine struct {
	level int
	text  string
}

type logRecorder struct {
	mu    sync.Mutex
	lines []logLine
}

func (rec *logRecorder) logf(level int, msg string, args ...any) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lines = append(rec.lines, logLine{level, fmt.Sprintf(msg, args...)})
}

func TestLogSink(t *testing.T) {
	rec := new(logRecorder)
	sink := NewLogSink(rec.logf)
	sink.OnEvent(fuzzer.Event{Kind: fuzzer.EventStats, Session: "a"})
	sink.OnEvent(fuzzer.Event{Kind: fuzzer.EventNewTestcase, Session: "b", CorpusSize: 2})
	sink.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution, Session: "a", Solutions: 1})
	require.Len(t, rec.lines, 3)
	assert.Equal(t, 0, rec.lines[0].level)
	assert.Contains(t, rec.lines[0].text, "[Stats #0]")
	assert.Contains(t, rec.lines[0].text, "clients: 1,")
	assert.Equal(t, 1, rec.lines[1].level)
	assert.Contains(t, rec.lines[1].text, "[Testcase #1]")
	assert.Contains(t, rec.lines[1].text, "clients: 2, corpus: 2,")
	assert.Equal(t, 0, rec.lines[2].level)
	assert.Contains(t, rec.lines[2].text, "[Objective #0]")
	assert.Contains(t, rec.lines[2].text, "objectives: 1,")
}

func TestMulti(t *testing.T) {
	var got []string
	sink := func(name string) fuzzer.EventSink {
		return fuzzer.EventSinkFunc(func(ev fuzzer.Event) {
			got = append(got, fmt.Sprintf("%v:%v", name, ev.Kind))
		})
	}
	m := Multi{sink("a"), sink("b")}
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventStats})
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution})
	assert.Equal(t, []string{"a:Stats", "b:Stats", "a:Objective", "b:Objective"}, got)
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (up *fakeUploader) Upload(ctx context.Context, gcsFile string, data []byte) error {
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.err != nil {
		return up.err
	}
	if up.objects == nil {
		up.objects = make(map[string][]byte)
	}
	up.objects[gcsFile] = append([]byte{}, data...)
	return nil
}

func (up *fakeUploader) get(gcsFile string) ([]byte, bool) {
	up.mu.Lock()
	defer up.mu.Unlock()
	data, ok := up.objects[gcsFile]
	return data, ok
}

func runMirror(t *testing.T, m *Mirror) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestMirror(t *testing.T) {
	store, err := corpus.NewSolutions(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tc := corpus.NewTestcase([]byte("crash"))
	tc.Meta.Outcome = "crashed"
	id, err := store.Add(tc)
	require.NoError(t, err)

	up := new(fakeUploader)
	m := NewMirror(up, "gs://bucket/fuzz", store, nil)
	runMirror(t, m)
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventStats, Session: "sess"})
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventNewTestcase, Session: "sess", ID: id})
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution, Session: "sess", ID: id})
	require.Eventually(t, func() bool {
		return m.StatUploaded.Load() == 1
	}, 10*time.Second, 10*time.Millisecond)

	file := "bucket/fuzz/sess/crashes/" + tc.Sig().String()
	data, ok := up.get(file)
	require.True(t, ok)
	assert.Equal(t, []byte("crash"), data)
	metaData, ok := up.get(file + ".meta")
	require.True(t, ok)
	var meta corpus.Meta
	require.NoError(t, json.Unmarshal(metaData, &meta))
	assert.Equal(t, "crashed", meta.Outcome)
	assert.Zero(t, m.StatFailed.Load())
}

func TestMirrorFailure(t *testing.T) {
	store, err := corpus.NewSolutions(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	id, err := store.Add(corpus.NewTestcase([]byte("crash")))
	require.NoError(t, err)

	up := &fakeUploader{err: errors.New("permission denied")}
	m := NewMirror(up, "bucket", store, nil)
	runMirror(t, m)
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution, Session: "sess", ID: id})
	// Unknown ids fail too, but don't stop the mirror.
	m.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution, Session: "sess", ID: 100})
	require.Eventually(t, func() bool {
		return m.StatFailed.Load() == 2
	}, 10*time.Second, 10*time.Millisecond)
	assert.Zero(t, m.StatUploaded.Load())
}

func TestMirrorQueueFull(t *testing.T) {
	m := NewMirror(new(fakeUploader), "bucket", nil, nil)
	for i := 0; i < mirrorQueueSize+3; i++ {
		m.OnEvent(fuzzer.Event{Kind: fuzzer.EventSolution, ID: corpus.ID(i)})
	}
	assert.Equal(t, uint64(3), m.StatDropped.Load())
}

// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the fuzzing loop: it picks corpus inputs, mutates
// them, runs the candidates and routes the results to the corpus or to the
// solutions store.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/feedback"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzconfig"
	"github.com/tinyfuzz/tinyfuzz/pkg/mutator"
	"github.com/tinyfuzz/tinyfuzz/pkg/observer"
	"github.com/tinyfuzz/tinyfuzz/pkg/scheduler"
	"github.com/tinyfuzz/tinyfuzz/pkg/stat"
)

// Executor runs a single input. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, input []byte, obs *observer.Observer) (executor.Outcome, error)
}

// Syncer is implemented by stores that can pick up inputs added by other processes.
type Syncer interface {
	Sync() (int, error)
}

type Config struct {
	Corpus    corpus.Store
	Solutions corpus.Store
	Executor  Executor
	Feedback  feedback.Feedback
	Objective feedback.Objective
	Scheduler scheduler.Scheduler
	Stage     mutator.Stage
	Rand      *rand.Rand
	// Observer receives coverage of every run. Created if nil.
	Observer *observer.Observer
	// Sink receives fuzzing events, optional.
	Sink EventSink

	// KeepCrashInCorpus adds inputs that satisfy the objective to the corpus
	// too if they produce new coverage.
	KeepCrashInCorpus bool
	// Budgets, 0 means unlimited.
	MaxExecs    uint64
	MaxDuration time.Duration
	// StatsPeriod is the period of EventStats.
	StatsPeriod time.Duration
	// SyncPeriod is the period of syncing Corpus with other processes
	// (if Corpus implements Syncer), 0 disables syncing.
	SyncPeriod time.Duration
	// Session identifies this fuzzer process, a random one is used if empty.
	Session string
	Logf    func(level int, msg string, args ...any)
}

// State is owned by the fuzzing loop. Counters can be read concurrently.
type State struct {
	Corpus    corpus.Store
	Solutions corpus.Store
	Rand      *rand.Rand

	execs      atomic.Uint64
	iterations atomic.Uint64
}

func (s *State) Execs() uint64 {
	return s.execs.Load()
}

func (s *State) Iterations() uint64 {
	return s.iterations.Load()
}

type Fuzzer struct {
	State
	cfg      Config
	obs      *observer.Observer
	execTime stat.AverageValue[time.Duration]
	// Corpus ids with known coverage (added by us or replayed).
	known map[corpus.ID]bool
	// Start of the loop in unix nanoseconds, read by Stats concurrently.
	start     atomic.Int64
	lastStats time.Time
	lastSync  time.Time
}

func New(cfg Config) (*Fuzzer, error) {
	for _, check := range []struct {
		name string
		ok   bool
	}{
		{"corpus", cfg.Corpus != nil},
		{"solutions", cfg.Solutions != nil},
		{"executor", cfg.Executor != nil},
		{"feedback", cfg.Feedback != nil},
		{"objective", cfg.Objective != nil},
		{"scheduler", cfg.Scheduler != nil},
		{"stage", cfg.Stage != nil},
		{"rand", cfg.Rand != nil},
	} {
		if !check.ok {
			return nil, fmt.Errorf("fuzzer: %v is not set", check.name)
		}
	}
	if cfg.Observer == nil {
		cfg.Observer = observer.New("cov", 0)
	}
	if cfg.Sink == nil {
		cfg.Sink = EventSinkFunc(func(Event) {})
	}
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	now := time.Now()
	fuzzer := &Fuzzer{
		State: State{
			Corpus:    cfg.Corpus,
			Solutions: cfg.Solutions,
			Rand:      cfg.Rand,
		},
		cfg:       cfg,
		obs:       cfg.Observer,
		known:     make(map[corpus.ID]bool),
		lastStats: now,
		lastSync:  now,
	}
	fuzzer.start.Store(now.UnixNano())
	return fuzzer, nil
}

func (fuzzer *Fuzzer) Session() string {
	return fuzzer.cfg.Session
}

func (fuzzer *Fuzzer) Logf(level int, msg string, args ...any) {
	fuzzer.cfg.Logf(level, msg, args...)
}

// Seed runs the inputs and adds them to the corpus regardless of their coverage.
// Seeds that satisfy the objective go to solutions instead.
func (fuzzer *Fuzzer) Seed(ctx context.Context, inputs [][]byte) error {
	for i, data := range inputs {
		if len(data) == 0 {
			fuzzer.Logf(1, "skipping empty seed #%v", i)
			continue
		}
		if err := fuzzer.replay(ctx, corpus.NewTestcase(data), true); err != nil {
			return err
		}
	}
	return nil
}

// Loop runs fuzzing iterations until the context is cancelled or a budget
// is exhausted (then it returns nil), or a fatal error happens.
// Cancellation and budgets are checked between iterations only.
func (fuzzer *Fuzzer) Loop(ctx context.Context) error {
	fuzzer.start.Store(time.Now().UnixNano())
	err := fuzzer.loop(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Cancelled in the middle of a target restart.
		err = nil
	}
	fuzzer.emitStats()
	return err
}

func (fuzzer *Fuzzer) loop(ctx context.Context) error {
	if fuzzer.Corpus.Count() == 0 {
		return &fuzzconfig.ConfigError{Param: "seeds", Err: scheduler.ErrEmptyCorpus}
	}
	if err := fuzzer.replayUnknown(ctx); err != nil {
		return err
	}
	for {
		if reason := fuzzer.stopReason(ctx); reason != "" {
			fuzzer.Logf(0, "stopping: %v", reason)
			return nil
		}
		if err := fuzzer.FuzzOne(ctx); err != nil {
			return err
		}
		if err := fuzzer.housekeeping(ctx); err != nil {
			return err
		}
	}
}

func (fuzzer *Fuzzer) stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	if fuzzer.cfg.MaxExecs != 0 && fuzzer.Execs() >= fuzzer.cfg.MaxExecs {
		return fmt.Sprintf("reached %v executions", fuzzer.Execs())
	}
	if fuzzer.cfg.MaxDuration != 0 && fuzzer.uptime() >= fuzzer.cfg.MaxDuration {
		return fmt.Sprintf("fuzzed for %v", fuzzer.cfg.MaxDuration)
	}
	return ""
}

// FuzzOne runs one iteration: schedule, mutate, then run and evaluate every candidate.
func (fuzzer *Fuzzer) FuzzOne(ctx context.Context) error {
	id, err := fuzzer.cfg.Scheduler.Next(fuzzer.Corpus)
	if err != nil {
		if errors.Is(err, scheduler.ErrEmptyCorpus) {
			return &fuzzconfig.ConfigError{Param: "seeds", Err: err}
		}
		return &StageError{Stage: "schedule", ID: corpus.InvalidID, Err: err}
	}
	parent, err := fuzzer.Corpus.Get(id)
	if err != nil {
		return &StageError{Stage: "load", ID: id, Err: err}
	}
	parentSig := parent.Sig().String()
	for _, data := range fuzzer.cfg.Stage.Mutate(fuzzer.Rand, parent) {
		if err := fuzzer.evaluate(ctx, id, parentSig, data); err != nil {
			return err
		}
	}
	fuzzer.iterations.Add(1)
	return nil
}

func (fuzzer *Fuzzer) run(ctx context.Context, id corpus.ID, data []byte) (executor.Outcome, []uint64, time.Duration, error) {
	fuzzer.obs.Reset()
	start := time.Now()
	outcome, err := fuzzer.cfg.Executor.Execute(ctx, data, fuzzer.obs)
	if err != nil {
		return outcome, nil, 0, &StageError{Stage: "execute", ID: id, Err: err}
	}
	elapsed := time.Since(start)
	fuzzer.execs.Add(1)
	fuzzer.execTime.Save(elapsed)
	return outcome, fuzzer.obs.Snapshot(), elapsed, nil
}

func (fuzzer *Fuzzer) evaluate(ctx context.Context, parentID corpus.ID, parentSig string, data []byte) error {
	outcome, snapshot, elapsed, err := fuzzer.run(ctx, parentID, data)
	if err != nil {
		return err
	}
	tc := corpus.NewTestcase(data)
	tc.Meta = corpus.Meta{
		CoverSize: len(snapshot),
		ExecTime:  elapsed,
		Parent:    parentSig,
		Outcome:   outcome.String(),
		Session:   fuzzer.cfg.Session,
		Found:     time.Now(),
	}
	if fuzzer.cfg.Objective.IsObjective(outcome) {
		if err := fuzzer.addSolution(tc); err != nil {
			return err
		}
		if !fuzzer.cfg.KeepCrashInCorpus {
			return nil
		}
	}
	if !fuzzer.cfg.Feedback.IsInteresting(outcome, snapshot) {
		return nil
	}
	return fuzzer.addCorpus(tc)
}

func (fuzzer *Fuzzer) addSolution(tc *corpus.Testcase) error {
	before := fuzzer.Solutions.Count()
	id, err := fuzzer.Solutions.Add(tc)
	if err != nil {
		return &StageError{Stage: "save solution", ID: corpus.InvalidID, Err: err}
	}
	if fuzzer.Solutions.Count() == before {
		fuzzer.Logf(1, "solution %v (%v) is already known", id, tc.Meta.Outcome)
		return nil
	}
	fuzzer.Logf(0, "found solution %v: %v, %v bytes", id, tc.Meta.Outcome, len(tc.Data))
	fuzzer.emit(EventSolution, id)
	return nil
}

func (fuzzer *Fuzzer) addCorpus(tc *corpus.Testcase) error {
	before := fuzzer.Corpus.Count()
	id, err := fuzzer.Corpus.Add(tc)
	if err != nil {
		return &StageError{Stage: "save testcase", ID: corpus.InvalidID, Err: err}
	}
	fuzzer.known[id] = true
	if fuzzer.Corpus.Count() == before {
		return nil
	}
	fuzzer.Logf(2, "new testcase %v: %v units, %v bytes", id, tc.Meta.CoverSize, len(tc.Data))
	fuzzer.emit(EventNewTestcase, id)
	return nil
}

// replay runs a testcase to learn its coverage. If add is set, the testcase
// is added to the corpus even if it has no new coverage.
func (fuzzer *Fuzzer) replay(ctx context.Context, tc *corpus.Testcase, add bool) error {
	outcome, snapshot, elapsed, err := fuzzer.run(ctx, corpus.InvalidID, tc.Data)
	if err != nil {
		return err
	}
	if fuzzer.cfg.Objective.IsObjective(outcome) {
		tc = tc.Clone()
		tc.Meta.Outcome = outcome.String()
		tc.Meta.Session = fuzzer.cfg.Session
		tc.Meta.Found = time.Now()
		return fuzzer.addSolution(tc)
	}
	if outcome == executor.TimedOut {
		// Coverage of a hung run is partial.
		fuzzer.Logf(1, "%v bytes input timed out on replay, skipping", len(tc.Data))
		return nil
	}
	newUnits := fuzzer.observeCoverage(snapshot)
	if !add {
		return nil
	}
	tc = tc.Clone()
	tc.Meta.CoverSize = len(snapshot)
	tc.Meta.NewCover = newUnits
	tc.Meta.ExecTime = elapsed
	tc.Meta.Outcome = outcome.String()
	tc.Meta.Session = fuzzer.cfg.Session
	return fuzzer.addCorpus(tc)
}

func (fuzzer *Fuzzer) observeCoverage(snapshot []uint64) int {
	if obs, ok := fuzzer.cfg.Feedback.(interface{ Observe([]uint64) int }); ok {
		return obs.Observe(snapshot)
	}
	// Feedbacks that can't pre-populate their state learn through the normal path.
	fuzzer.cfg.Feedback.IsInteresting(executor.Normal, snapshot)
	return 0
}

// replayUnknown runs corpus inputs we don't know coverage of:
// inputs left from previous runs and inputs added by other processes.
func (fuzzer *Fuzzer) replayUnknown(ctx context.Context) error {
	replayed := 0
	for _, id := range fuzzer.Corpus.IDs() {
		if fuzzer.known[id] {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		tc, err := fuzzer.Corpus.Get(id)
		if err != nil {
			return &StageError{Stage: "load", ID: id, Err: err}
		}
		fuzzer.known[id] = true
		if err := fuzzer.replay(ctx, tc, false); err != nil {
			return err
		}
		replayed++
	}
	if replayed != 0 {
		fuzzer.Logf(0, "replayed %v corpus inputs", replayed)
	}
	return nil
}

func (fuzzer *Fuzzer) housekeeping(ctx context.Context) error {
	now := time.Now()
	if syncer, ok := fuzzer.Corpus.(Syncer); ok && fuzzer.cfg.SyncPeriod != 0 &&
		now.Sub(fuzzer.lastSync) >= fuzzer.cfg.SyncPeriod {
		fuzzer.lastSync = now
		n, err := syncer.Sync()
		if err != nil {
			return &StageError{Stage: "sync", ID: corpus.InvalidID, Err: err}
		}
		if n != 0 {
			if err := fuzzer.replayUnknown(ctx); err != nil {
				return err
			}
		}
	}
	if fuzzer.cfg.StatsPeriod != 0 && now.Sub(fuzzer.lastStats) >= fuzzer.cfg.StatsPeriod {
		fuzzer.emitStats()
	}
	return nil
}

// Stats is a point-in-time summary of the fuzzing session.
type Stats struct {
	Session     string        `json:"session"`
	Uptime      time.Duration `json:"uptime"`
	Iterations  uint64        `json:"iterations"`
	Execs       uint64        `json:"execs"`
	ExecsPerSec float64       `json:"execs_per_sec"`
	AvgExecTime time.Duration `json:"avg_exec_time"`
	CorpusSize  int           `json:"corpus"`
	Solutions   int           `json:"solutions"`
}

func (fuzzer *Fuzzer) Stats() Stats {
	uptime := fuzzer.uptime()
	execs := fuzzer.Execs()
	return Stats{
		Session:     fuzzer.cfg.Session,
		Uptime:      uptime,
		Iterations:  fuzzer.Iterations(),
		Execs:       execs,
		ExecsPerSec: execsPerSec(execs, uptime),
		AvgExecTime: fuzzer.execTime.Value(),
		CorpusSize:  fuzzer.Corpus.Count(),
		Solutions:   fuzzer.Solutions.Count(),
	}
}

func (fuzzer *Fuzzer) uptime() time.Duration {
	return time.Since(time.Unix(0, fuzzer.start.Load()))
}

func execsPerSec(execs uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(execs) / elapsed.Seconds()
}

// StageError says which step of the loop failed and on which corpus input.
type StageError struct {
	Stage string
	ID    corpus.ID
	Err   error
}

func (err *StageError) Error() string {
	if err.ID == corpus.InvalidID {
		return fmt.Sprintf("%v failed: %v", err.Stage, err.Err)
	}
	return fmt.Sprintf("%v failed on testcase %v: %v", err.Stage, err.ID, err.Err)
}

func (err *StageError) Unwrap() error {
	return err.Err
}

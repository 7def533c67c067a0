// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/db"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/feedback"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzconfig"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
	"github.com/tinyfuzz/tinyfuzz/pkg/gcs"
	"github.com/tinyfuzz/tinyfuzz/pkg/log"
	"github.com/tinyfuzz/tinyfuzz/pkg/monitor"
	"github.com/tinyfuzz/tinyfuzz/pkg/observer"
	"github.com/tinyfuzz/tinyfuzz/pkg/scheduler"
	"github.com/tinyfuzz/tinyfuzz/pkg/stat"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cfg *fuzzconfig.Config, session string) error {
	crp, err := corpus.NewCached(cfg.CorpusDir, cfg.CacheSize, log.Logf)
	if err != nil {
		return err
	}
	defer crp.Close()
	solutions, err := corpus.NewSolutions(cfg.CrashesDir, log.Logf)
	if err != nil {
		return err
	}
	defer solutions.Close()

	env, err := executor.New(cfg.ExecutorConfig())
	if err != nil {
		return &fuzzconfig.ConfigError{Param: "target", Err: err}
	}
	defer env.Close()

	rnd := cfg.MakeRand()
	sched, err := scheduler.New(cfg.Scheduler, rnd)
	if err != nil {
		return &fuzzconfig.ConfigError{Param: "scheduler", Err: err}
	}
	stage, err := cfg.MakeStage(crp)
	if err != nil {
		return err
	}
	cov := feedback.NewCoverage("cov")

	sinks := monitor.Multi{monitor.NewLogSink(log.Logf)}
	var mirror *monitor.Mirror
	if cfg.GCSBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		mirror = monitor.NewMirror(client, cfg.GCSBucket, solutions, log.Logf)
		sinks = append(sinks, mirror)
	}

	fz, err := fuzzer.New(fuzzer.Config{
		Corpus:            crp,
		Solutions:         solutions,
		Executor:          newTimedExecutor(env),
		Feedback:          cov,
		Objective:         cfg.MakeObjective(),
		Scheduler:         sched,
		Stage:             stage,
		Rand:              rnd,
		Observer:          observer.New("cov", cfg.CoverSize),
		Sink:              sinks,
		KeepCrashInCorpus: cfg.KeepCrashInCorpus,
		MaxExecs:          cfg.MaxExecs,
		MaxDuration:       cfg.MaxDuration.Std(),
		StatsPeriod:       cfg.StatsPeriod.Std(),
		SyncPeriod:        cfg.SyncPeriod.Std(),
		Session:           session,
		Logf:              log.Logf,
	})
	if err != nil {
		return err
	}
	registerStats(fz, env, cov, mirror)
	log.Logf(0, "session %v: corpus %v, solutions %v", fz.Session(), crp.Count(), solutions.Count())

	eg, loopCtx := errgroup.WithContext(ctx)
	loopCtx, stop := context.WithCancel(loopCtx)
	defer stop()
	if cfg.HTTP != "" {
		serv := &monitor.HTTPServer{
			Cfg:       cfg,
			Corpus:    crp,
			Solutions: solutions,
		}
		serv.Fuzzer.Store(fz)
		eg.Go(func() error {
			return serv.Serve(loopCtx)
		})
	}
	if mirror != nil {
		eg.Go(func() error {
			return mirror.Run(loopCtx)
		})
	}
	eg.Go(func() error {
		// The other goroutines live as long as the loop.
		defer stop()
		if crp.Count() == 0 {
			seeds, err := readSeeds(cfg)
			if err != nil {
				return err
			}
			log.Logf(0, "corpus is empty, running %v seeds", len(seeds))
			if err := fz.Seed(loopCtx, seeds); err != nil {
				return err
			}
		}
		return fz.Loop(loopCtx)
	})
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := fz.Stats()
	log.Logf(0, "done: %v iterations, %v execs, corpus %v, solutions %v",
		stats.Iterations, stats.Execs, stats.CorpusSize, stats.Solutions)
	return err
}

// readSeeds collects seed inputs: seed files and directories, corpus
// database files (.db, .db.xz) and literal seed inputs.
func readSeeds(cfg *fuzzconfig.Config) ([][]byte, error) {
	var paths []string
	var seeds [][]byte
	for _, path := range cfg.Seeds {
		if !isDBFile(path) {
			paths = append(paths, path)
			continue
		}
		inputs, err := db.ReadCorpus(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seeds: %w", err)
		}
		seeds = append(seeds, inputs...)
	}
	inputs, err := fuzzer.ReadSeeds(paths)
	if err != nil {
		return nil, err
	}
	seeds = append(seeds, inputs...)
	for _, input := range cfg.SeedInputs {
		seeds = append(seeds, []byte(input))
	}
	return seeds, nil
}

func isDBFile(path string) bool {
	return strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".db.xz")
}

// timedExecutor feeds the exec time distribution.
type timedExecutor struct {
	fuzzer.Executor
	execTime *stat.Val
}

func newTimedExecutor(env fuzzer.Executor) *timedExecutor {
	return &timedExecutor{
		Executor: env,
		execTime: stat.New("exec time", "Time of a single input execution",
			stat.Distribution{}, stat.FormatMicros, stat.Prometheus("tinyfuzz_exec_time_us")),
	}
}

func (te *timedExecutor) Execute(ctx context.Context, input []byte, obs *observer.Observer) (
	executor.Outcome, error) {
	start := time.Now()
	outcome, err := te.Executor.Execute(ctx, input, obs)
	if err == nil {
		te.execTime.Add(int(time.Since(start).Microseconds()))
	}
	return outcome, err
}

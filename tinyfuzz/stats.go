// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/feedback"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
	"github.com/tinyfuzz/tinyfuzz/pkg/monitor"
	"github.com/tinyfuzz/tinyfuzz/pkg/stat"
)

func registerStats(fz *fuzzer.Fuzzer, env *executor.Executor, cov *feedback.Coverage, mirror *monitor.Mirror) {
	stat.New("corpus", "Number of inputs in the corpus", stat.Console,
		func() int { return fz.Corpus.Count() }, stat.Prometheus("tinyfuzz_corpus"))
	stat.New("objectives", "Number of inputs that satisfy the objective", stat.Console,
		func() int { return fz.Solutions.Count() }, stat.Prometheus("tinyfuzz_objectives"))
	stat.New("coverage", "Number of distinct coverage units seen", stat.Console,
		func() int { return cov.Len() }, stat.Prometheus("tinyfuzz_coverage"))
	stat.New("iterations", "Number of fuzzing loop iterations", stat.Simple,
		func() int { return int(fz.Iterations()) }, stat.Rate{})
	stat.New("exec total", "Total input executions", stat.Console,
		func() int { return int(fz.Execs()) }, stat.Rate{}, stat.Prometheus("tinyfuzz_execs_total"))
	stat.New("target restarts", "Number of target process launches", stat.Simple,
		func() int { return int(env.StatRestarts.Load()) }, stat.Rate{},
		stat.Prometheus("tinyfuzz_target_restarts"))
	stat.New("crashes", "Runs that ended with a crash", stat.Simple,
		func() int { return int(env.StatCrashes.Load()) }, stat.Graph("faults"))
	stat.New("timeouts", "Runs that were killed after the timeout", stat.Simple,
		func() int { return int(env.StatTimeouts.Load()) }, stat.Graph("faults"))
	if mirror == nil {
		return
	}
	stat.New("mirrored", "Solutions uploaded to GCS", stat.All,
		func() int { return int(mirror.StatUploaded.Load()) }, stat.Graph("mirror"))
	stat.New("mirror failures", "Solutions that failed to upload to GCS", stat.All,
		func() int { return int(mirror.StatFailed.Load() + mirror.StatDropped.Load()) }, stat.Graph("mirror"))
}

// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// tinyfuzz-exec runs inputs through the target configured in a fuzzer config
// and prints the outcome and coverage of every run.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tinyfuzz/tinyfuzz/pkg/db"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzconfig"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
	"github.com/tinyfuzz/tinyfuzz/pkg/log"
	"github.com/tinyfuzz/tinyfuzz/pkg/observer"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"github.com/tinyfuzz/tinyfuzz/pkg/signal"
	"github.com/tinyfuzz/tinyfuzz/pkg/tool"
)

var (
	flagConfig = flag.String("config", "", "configuration file")
	flagRepeat = flag.Int("repeat", 1, "repeat execution that many times")
	flagCover  = flag.Bool("cover", false, "print coverage units")
	flagOutput = flag.Bool("output", false, "print target output of faulted runs")
	flagDebug  = flag.Bool("debug", false, "dump all target output to console")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tinyfuzz-exec -config=fuzz.cfg [flags] input-file-or-dir-or-corpus.db+\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *flagConfig == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	cfg, err := fuzzconfig.LoadFile(*flagConfig)
	if err != nil {
		tool.Fail(err)
	}
	cfg.Debug = cfg.Debug || *flagDebug
	inputs, err := readInputs(flag.Args())
	if err != nil {
		tool.Fail(err)
	}
	env, err := executor.New(cfg.ExecutorConfig())
	if err != nil {
		tool.Fail(err)
	}
	defer env.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	go func() {
		<-shutdown
		cancel()
	}()
	r := &runner{
		env:    env,
		obs:    observer.New("cov", cfg.CoverSize),
		out:    os.Stdout,
		cover:  *flagCover,
		output: *flagOutput,
	}
	for i := 0; i < *flagRepeat && ctx.Err() == nil; i++ {
		for j, input := range inputs {
			if err := r.run(ctx, j, input); err != nil {
				log.Fatalf("%v", err)
			}
		}
	}
	fmt.Fprintf(os.Stdout, "total: %v execs, %v distinct units, %v restarts, %v crashes, %v timeouts\n",
		env.StatExecs.Load(), r.seen.Len(), env.StatRestarts.Load(),
		env.StatCrashes.Load(), env.StatTimeouts.Load())
}

func readInputs(paths []string) ([][]byte, error) {
	var inputs [][]byte
	for _, path := range paths {
		var res [][]byte
		var err error
		if strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".db.xz") {
			res, err = db.ReadCorpus(path)
		} else {
			res, err = fuzzer.ReadSeeds([]string{path})
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, res...)
	}
	return inputs, nil
}

type runner struct {
	env    fuzzer.Executor
	obs    *observer.Observer
	out    io.Writer
	cover  bool
	output bool
	seen   signal.Signal
}

type lastOutput interface {
	LastOutput() []byte
}

func (r *runner) run(ctx context.Context, idx int, input []byte) error {
	outcome, err := r.env.Execute(ctx, input, r.obs)
	if err != nil {
		return fmt.Errorf("input #%v: %w", idx, err)
	}
	units := r.obs.Snapshot()
	fresh := r.seen.DiffRaw(units).Len()
	r.seen.Merge(signal.FromRaw(units))
	fmt.Fprintf(r.out, "input #%v (%v bytes): %v, %v units, %v new\n",
		idx, len(input), outcome, len(units), fresh)
	if r.cover {
		for _, unit := range units {
			fmt.Fprintf(r.out, "0x%x\n", unit)
		}
	}
	if r.output && outcome.Fault() {
		if lo, ok := r.env.(lastOutput); ok {
			fmt.Fprintf(r.out, "%s\n", lo.LastOutput())
		}
	}
	return nil
}

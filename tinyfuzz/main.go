// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// tinyfuzz runs a coverage-guided fuzzing session against a single target.
//
//	tinyfuzz -config=fuzz.cfg
//
// The session stops on SIGINT/SIGTERM or when the max_execs/max_duration
// budget is exhausted. Fatal errors (storage, launch, configuration)
// terminate the process with exit status 1.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzconfig"
	"github.com/tinyfuzz/tinyfuzz/pkg/log"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"github.com/tinyfuzz/tinyfuzz/pkg/tool"
)

var (
	flagConfig  = flag.String("config", "", "configuration file")
	flagDebug   = flag.Bool("debug", false, "dump all target output to console")
	flagSession = flag.String("session", "", "session name (default: <name>-<random>)")
)

var flagSeedInput tool.StringsFlag

func main() {
	flag.Var(&flagSeedInput, "seed-input", "literal seed input (can be specified multiple times)")
	flag.Parse()
	log.EnableLogCaching(1000, 1<<20)
	if *flagConfig == "" {
		tool.Failf("-config is required")
	}
	cfg, err := fuzzconfig.LoadFile(*flagConfig)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *flagDebug {
		cfg.Debug = true
	}
	cfg.SeedInputs = append(cfg.SeedInputs, flagSeedInput...)
	session := *flagSession
	if session == "" {
		session = sessionName(cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	go func() {
		<-shutdown
		cancel()
	}()

	if err := run(ctx, cfg, session); err != nil {
		log.Fatalf("%v", err)
	}
}

func sessionName(name string) string {
	id := uuid.NewString()[:8]
	if name == "" {
		return id
	}
	return fmt.Sprintf("%v-%v", name, id)
}

// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// tinyfuzz-mutate mutates a given input and prints (or saves) the candidates.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/db"
	"github.com/tinyfuzz/tinyfuzz/pkg/mutator"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"github.com/tinyfuzz/tinyfuzz/pkg/tool"
)

var (
	flagSeed       = flag.Int64("seed", -1, "prng seed")
	flagDict       = flag.String("dict", "", "dictionary file")
	flagCorpus     = flag.String("corpus", "", "corpus database used as splice donors")
	flagMaxLen     = flag.Int("len", mutator.DefaultMaxLen, "max candidate length")
	flagStack      = flag.Int("stack", mutator.DefaultMaxStack, "max number of stacked mutations")
	flagCandidates = flag.Int("n", 1, "max number of candidates")
	flagOut        = flag.String("out", "", "save candidates into this dir instead of printing them")
)

var flagMutators tool.StringsFlag

func main() {
	flag.Var(&flagMutators, "mutators", "comma-separated list of mutators (default: all)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tinyfuzz-mutate [flags] input-file\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		tool.Failf("failed to read input: %v", err)
	}
	seed := time.Now().UnixNano()
	if *flagSeed != -1 {
		seed = *flagSeed
	}
	stage, err := makeStage()
	if err != nil {
		tool.Fail(err)
	}
	stage.MaxStack = *flagStack
	stage.MaxLen = *flagMaxLen
	cands := stage.Mutate(rand.New(rand.NewSource(seed)), corpus.NewTestcase(data))
	if *flagOut == "" {
		for _, cand := range cands {
			fmt.Printf("%q\n", cand)
		}
		return
	}
	if err := osutil.MkdirAll(*flagOut); err != nil {
		tool.Fail(err)
	}
	for i, cand := range cands {
		if err := osutil.WriteFile(filepath.Join(*flagOut, fmt.Sprint(i)), cand); err != nil {
			tool.Fail(err)
		}
	}
}

func makeStage() (*mutator.HavocStage, error) {
	var dict *mutator.Dict
	if *flagDict != "" {
		var err error
		if dict, err = mutator.LoadDict(*flagDict); err != nil {
			return nil, err
		}
	}
	muts := mutator.Havoc(*flagMaxLen, dict)
	if len(flagMutators) != 0 {
		var err error
		if muts, err = mutator.Select(flagMutators, *flagMaxLen, dict); err != nil {
			return nil, err
		}
	}
	if *flagCorpus != "" {
		donors, err := readDonors(*flagCorpus)
		if err != nil {
			return nil, err
		}
		muts = append(muts, mutator.NewSplice(donors, *flagMaxLen))
	}
	return mutator.NewStage(muts, *flagCandidates)
}

// donors is an in-memory store of splice donors.
type donors []*corpus.Testcase

func readDonors(file string) (donors, error) {
	inputs, err := db.ReadCorpus(file)
	if err != nil {
		return nil, err
	}
	var res donors
	for _, data := range inputs {
		res = append(res, corpus.NewTestcase(data))
	}
	return res, nil
}

func (d donors) Add(tc *corpus.Testcase) (corpus.ID, error) {
	return corpus.InvalidID, fmt.Errorf("donors are read-only")
}

func (d donors) Get(id corpus.ID) (*corpus.Testcase, error) {
	if id < 0 || int(id) >= len(d) {
		return nil, corpus.ErrNoTestcase
	}
	return d[id].Clone(), nil
}

func (d donors) Count() int {
	return len(d)
}

func (d donors) IDs() []corpus.ID {
	ids := make([]corpus.ID, len(d))
	for i := range ids {
		ids[i] = corpus.ID(i)
	}
	return ids
}

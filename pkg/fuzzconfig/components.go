// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"math/rand"
	"slices"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/feedback"
	"github.com/tinyfuzz/tinyfuzz/pkg/mutator"
)

// MakeObjective returns the objective selected by the objective param.
func (cfg *Config) MakeObjective() feedback.Objective {
	if cfg.Objective == ObjectiveCrashOrTimeout {
		return feedback.CrashOrTimeout()
	}
	return feedback.Crash{}
}

// MakeRand returns the random source for the loop.
// A zero rand_seed seeds it from the current time.
func (cfg *Config) MakeRand() *rand.Rand {
	seed := cfg.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// MakeStage builds the mutation stage from the mutation params.
// An empty mutators list enables all havoc mutators and splicing.
// Splicing takes its donors from store.
func (cfg *Config) MakeStage(store corpus.Store) (*mutator.HavocStage, error) {
	var dict *mutator.Dict
	if cfg.Dict != "" {
		var err error
		if dict, err = mutator.LoadDict(cfg.Dict); err != nil {
			return nil, badParam("dict", "%v", err)
		}
	}
	var muts []mutator.Mutator
	splice := len(cfg.Mutators) == 0 || slices.Contains(cfg.Mutators, MutatorSplice)
	if len(cfg.Mutators) == 0 {
		muts = mutator.Havoc(cfg.MaxInputSize, dict)
	} else {
		names := slices.DeleteFunc(slices.Clone(cfg.Mutators), func(name string) bool {
			return name == MutatorSplice
		})
		if len(names) != 0 {
			var err error
			if muts, err = mutator.Select(names, cfg.MaxInputSize, dict); err != nil {
				return nil, &ConfigError{Param: "mutators", Err: err}
			}
		}
	}
	if splice {
		muts = append(muts, mutator.NewSplice(store, cfg.MaxInputSize))
	}
	stage, err := mutator.NewStage(muts, cfg.MaxCandidates)
	if err != nil {
		return nil, &ConfigError{Param: "mutators", Err: err}
	}
	stage.MaxStack = cfg.MaxStack
	stage.MaxLen = cfg.MaxInputSize
	return stage, nil
}

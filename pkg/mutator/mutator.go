// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator produces candidate inputs from corpus entries.
package mutator

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
)

// Mutator transforms data. Mutate never modifies data and never returns a slice aliasing it.
type Mutator interface {
	Name() string
	Mutate(r *rand.Rand, data []byte) []byte
}

// Stage turns one parent into an ordered list of candidates.
type Stage interface {
	Mutate(r *rand.Rand, parent *corpus.Testcase) [][]byte
}

const (
	DefaultMaxStack = 8
	DefaultMaxLen   = 1 << 20
)

// HavocStage stacks randomly chosen mutators on top of each other.
type HavocStage struct {
	mutators      []Mutator
	maxCandidates int
	// MaxStack is the maximum number of mutators applied to produce one candidate.
	MaxStack int
	// MaxLen caps the candidate size.
	MaxLen int
}

func NewStage(mutators []Mutator, maxCandidates int) (*HavocStage, error) {
	if len(mutators) == 0 {
		return nil, fmt.Errorf("no mutators")
	}
	if maxCandidates <= 0 {
		return nil, fmt.Errorf("bad max candidates %v", maxCandidates)
	}
	return &HavocStage{
		mutators:      mutators,
		maxCandidates: maxCandidates,
		MaxStack:      DefaultMaxStack,
		MaxLen:        DefaultMaxLen,
	}, nil
}

// Mutate returns between 1 and maxCandidates candidates. Candidates are never empty.
func (stage *HavocStage) Mutate(r *rand.Rand, parent *corpus.Testcase) [][]byte {
	n := 1 + r.Intn(stage.maxCandidates)
	res := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, stage.candidate(r, parent.Data))
	}
	return res
}

func (stage *HavocStage) candidate(r *rand.Rand, parent []byte) []byte {
	data := bytes.Clone(parent)
	depth := 1 + r.Intn(max(stage.MaxStack, 1))
	for i := 0; i < depth; i++ {
		data = stage.mutators[r.Intn(len(stage.mutators))].Mutate(r, data)
	}
	if stage.MaxLen > 0 && len(data) > stage.MaxLen {
		data = data[:stage.MaxLen]
	}
	if len(data) == 0 {
		data = []byte{byte(r.Intn(256))}
	}
	return data
}

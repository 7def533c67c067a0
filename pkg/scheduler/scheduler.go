// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package scheduler chooses the next corpus entry to mutate.
package scheduler

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
)

var ErrEmptyCorpus = errors.New("corpus is empty, nothing to schedule")

type Scheduler interface {
	Next(store corpus.Store) (corpus.ID, error)
}

const (
	NameRand  = "rand"
	NameQueue = "queue"
)

// New creates a scheduler by its config name.
func New(name string, r *rand.Rand) (Scheduler, error) {
	switch name {
	case NameRand, "":
		return NewRand(r), nil
	case NameQueue:
		return NewQueue(), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", name)
	}
}

// Rand picks entries uniformly at random.
// For a fixed seed and the same sequence of corpus sizes it returns the same ids.
type Rand struct {
	r *rand.Rand
}

func NewRand(r *rand.Rand) *Rand {
	return &Rand{r: r}
}

func (s *Rand) Next(store corpus.Store) (corpus.ID, error) {
	ids := store.IDs()
	if len(ids) == 0 {
		return corpus.InvalidID, ErrEmptyCorpus
	}
	return ids[s.r.Intn(len(ids))], nil
}

// Queue cycles through the corpus in insertion order.
// Entries added while a cycle is in progress are picked up in the same cycle.
type Queue struct {
	pos    int
	cycles int
}

func NewQueue() *Queue {
	return &Queue{}
}

func (s *Queue) Next(store corpus.Store) (corpus.ID, error) {
	ids := store.IDs()
	if len(ids) == 0 {
		return corpus.InvalidID, ErrEmptyCorpus
	}
	if s.pos >= len(ids) {
		s.pos = 0
		s.cycles++
	}
	id := ids[s.pos]
	s.pos++
	return id, nil
}

// Cycles returns the number of completed passes over the corpus.
func (s *Queue) Cycles() int {
	return s.cycles
}

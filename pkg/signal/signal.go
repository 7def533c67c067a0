// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides a set type for coverage units (feedback signal).
package signal

import (
	"slices"

	"golang.org/x/exp/maps"
)

type Signal map[uint64]struct{}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

func (s Signal) Copy() Signal {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

func FromRaw(raw []uint64) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, e := range raw {
		s[e] = struct{}{}
	}
	return s
}

// Serialize returns the elements in ascending order.
func (s Signal) Serialize() []uint64 {
	if s.Empty() {
		return nil
	}
	res := make([]uint64, 0, len(s))
	for e := range s {
		res = append(res, e)
	}
	slices.Sort(res)
	return res
}

func (s Signal) Contains(e uint64) bool {
	_, ok := s[e]
	return ok
}

// Diff returns elements of s1 that are not in s.
func (s Signal) Diff(s1 Signal) Signal {
	var res Signal
	for e := range s1 {
		if _, ok := s[e]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = struct{}{}
	}
	return res
}

// DiffRaw is Diff for a raw coverage vector that may contain duplicates.
func (s Signal) DiffRaw(raw []uint64) Signal {
	var res Signal
	for _, e := range raw {
		if _, ok := s[e]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = struct{}{}
	}
	return res
}

// HasNewRaw is DiffRaw without allocations.
func (s Signal) HasNewRaw(raw []uint64) bool {
	for _, e := range raw {
		if _, ok := s[e]; !ok {
			return true
		}
	}
	return false
}

func (s Signal) Intersection(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	res := make(Signal)
	for e := range s {
		if _, ok := s1[e]; ok {
			res[e] = struct{}{}
		}
	}
	return res
}

// Merge adds all elements of s1 to s. Signal never shrinks as the result of Merge.
func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	if *s == nil {
		*s = make(Signal, len(s1))
	}
	maps.Copy(*s, s1)
}

func (s Signal) Equal(s1 Signal) bool {
	return maps.Equal(s, s1)
}

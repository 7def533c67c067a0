// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/hash"
)

// ID identifies a testcase within one store. IDs are dense and follow insertion order.
type ID int

const InvalidID ID = -1

// Meta is optional cached information about a testcase.
// It is persisted next to the data on a best-effort basis.
type Meta struct {
	CoverSize int           `json:"cover_size,omitempty"`
	NewCover  int           `json:"new_cover,omitempty"`
	ExecTime  time.Duration `json:"exec_time,omitempty"`
	Parent    string        `json:"parent,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Session   string        `json:"session,omitempty"`
	Found     time.Time     `json:"found,omitzero"`
}

// Testcase objects are to be treated as immutable once added to a store.
// Stores keep private copies and hand out copies.
type Testcase struct {
	Data []byte
	Meta Meta
}

func NewTestcase(data []byte) *Testcase {
	return &Testcase{Data: data}
}

func (tc *Testcase) Sig() hash.Sig {
	return hash.Hash(tc.Data)
}

func (tc *Testcase) Clone() *Testcase {
	return &Testcase{
		Data: append([]byte{}, tc.Data...),
		Meta: tc.Meta,
	}
}

// Store is the contract shared by the main corpus and the solutions store.
type Store interface {
	Add(tc *Testcase) (ID, error)
	Get(id ID) (*Testcase, error)
	Count() int
	// IDs returns all ids in insertion order.
	IDs() []ID
}

var ErrNoTestcase = errors.New("no such testcase")

// StorageError means that the durable backing store failed.
// A testcase whose Add failed with StorageError is not part of the store.
type StorageError struct {
	Store string
	Op    string
	ID    ID
	Path  string
	Err   error
}

func (err *StorageError) Error() string {
	id := ""
	if err.ID != InvalidID {
		id = fmt.Sprintf(" testcase %v", err.ID)
	}
	return fmt.Sprintf("%v store: %v%v (%v) failed: %v", err.Store, err.Op, id, err.Path, err.Err)
}

func (err *StorageError) Unwrap() error {
	return err.Err
}

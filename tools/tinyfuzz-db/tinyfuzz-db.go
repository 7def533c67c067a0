// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// tinyfuzz-db converts between a corpus directory and a single database file
// (xz-compressed if the file name ends with .xz). prune drops database inputs
// that are no longer present in a (e.g. minimized) corpus directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/db"
	"github.com/tinyfuzz/tinyfuzz/pkg/hash"
	"github.com/tinyfuzz/tinyfuzz/pkg/log"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"github.com/tinyfuzz/tinyfuzz/pkg/tool"
)

func main() {
	var (
		flagVersion = flag.Uint64("version", 0, "database version")
	)
	flag.Parse()
	args := flag.Args()
	if len(args) != 3 {
		usage()
	}
	var err error
	switch args[0] {
	case "pack":
		var n int
		n, err = pack(args[1], args[2], *flagVersion)
		if err == nil {
			fmt.Printf("packed %v inputs into %v\n", n, args[2])
		}
	case "unpack":
		var n int
		n, err = unpack(args[1], args[2])
		if err == nil {
			fmt.Printf("unpacked %v inputs into %v\n", n, args[2])
		}
	case "prune":
		var n int
		n, err = prune(args[1], args[2])
		if err == nil {
			fmt.Printf("removed %v inputs from %v\n", n, args[1])
		}
	default:
		usage()
	}
	if err != nil {
		tool.Fail(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  tinyfuzz-db pack dir corpus.db[.xz]\n")
	fmt.Fprintf(os.Stderr, "  tinyfuzz-db unpack corpus.db[.xz] dir\n")
	fmt.Fprintf(os.Stderr, "  tinyfuzz-db prune corpus.db[.xz] dir\n")
	os.Exit(1)
}

func pack(dir, file string, version uint64) (int, error) {
	store, err := corpus.Open(dir, corpus.Options{Logf: log.Logf})
	if err != nil {
		return 0, err
	}
	defer store.Close()
	var records []db.Record
	for _, id := range store.IDs() {
		tc, err := store.Get(id)
		if err != nil {
			return 0, err
		}
		records = append(records, db.Record{Val: tc.Data})
	}
	if err := db.Create(file, version, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// unpack adds all inputs of the database to the corpus in dir.
// Inputs that are already present are not duplicated.
func unpack(file, dir string) (int, error) {
	inputs, err := db.ReadCorpus(file)
	if err != nil {
		return 0, err
	}
	store, err := corpus.Open(dir, corpus.Options{Logf: log.Logf})
	if err != nil {
		return 0, err
	}
	defer store.Close()
	before := store.Count()
	for _, data := range inputs {
		if _, err := store.Add(corpus.NewTestcase(data)); err != nil {
			return 0, err
		}
	}
	return store.Count() - before, nil
}

func prune(file, dir string) (int, error) {
	if !osutil.IsExist(dir) {
		return 0, fmt.Errorf("corpus dir %v does not exist", dir)
	}
	store, err := corpus.Open(dir, corpus.Options{Logf: log.Logf})
	if err != nil {
		return 0, err
	}
	defer store.Close()
	keep := make(map[string]bool)
	for _, id := range store.IDs() {
		tc, err := store.Get(id)
		if err != nil {
			return 0, err
		}
		keep[hash.String(tc.Data)] = true
	}
	corpusDB, err := db.Open(file, false)
	if err != nil {
		return 0, err
	}
	removed := 0
	for key, rec := range corpusDB.Records {
		if !keep[hash.String(rec.Val)] {
			corpusDB.Delete(key)
			removed++
		}
	}
	if err := corpusDB.Flush(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package db

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyfuzz/tinyfuzz/pkg/hash"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

func TestBasic(t *testing.T) {
	fn := tempFile(t)
	defer os.Remove(fn)
	db, err := Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if len(db.Records) != 0 {
		t.Fatalf("empty db contains records")
	}
	db.Save("", nil, 0)
	db.Save("1", []byte("ab"), 1)
	db.Save("23", []byte("abcd"), 2)

	want := map[string]Record{
		"":   {Val: nil, Seq: 0},
		"1":  {Val: []byte("ab"), Seq: 1},
		"23": {Val: []byte("abcd"), Seq: 2},
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after save: %v, want: %v", db.Records, want)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("failed to flush db: %v", err)
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after flush: %v, want: %v", db.Records, want)
	}
	db, err = Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after reopen: %v, want: %v", db.Records, want)
	}
}

func TestModify(t *testing.T) {
	fn := tempFile(t)
	defer os.Remove(fn)
	db, err := Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.Save("1", []byte("ab"), 0)
	db.Save("23", nil, 1)
	db.Save("456", []byte("abcd"), 1)
	db.Save("7890", []byte("a"), 0)
	db.Delete("23")
	db.Save("1", nil, 5)
	db.Save("456", []byte("ef"), 6)
	db.Delete("7890")
	db.Save("456", []byte("efg"), 0)
	db.Save("7890", []byte("bc"), 0)

	want := map[string]Record{
		"1":    {Val: nil, Seq: 5},
		"456":  {Val: []byte("efg"), Seq: 0},
		"7890": {Val: []byte("bc"), Seq: 0},
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after modification: %v, want: %v", db.Records, want)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("failed to flush db: %v", err)
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after flush: %v, want: %v", db.Records, want)
	}
	db, err = Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if !reflect.DeepEqual(db.Records, want) {
		t.Fatalf("bad db after reopen: %v, want: %v", db.Records, want)
	}
}

func TestLarge(t *testing.T) {
	fn := tempFile(t)
	defer os.Remove(fn)
	db, err := Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	const nrec = 1000
	val := make([]byte, 1000)
	for i := range val {
		val[i] = byte(rand.Intn(256))
	}
	for i := 0; i < nrec; i++ {
		db.Save(fmt.Sprintf("%v", i), val, 0)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("failed to flush db: %v", err)
	}
	db, err = Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if len(db.Records) != nrec {
		t.Fatalf("wrong record count: %v, want %v", len(db.Records), nrec)
	}
}

func TestOpenInvalid(t *testing.T) {
	f, err := os.CreateTemp("", "tinyfuzz-db-test")
	if err != nil {
		t.Error(err)
	}

	defer f.Close()
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte(`some invalid data`)); err != nil {
		t.Error(err)
	}
	if db, err := Open(f.Name(), true); err == nil {
		t.Fatal("opened invalid db")
	} else if db == nil {
		t.Fatal("db is nil")
	}
}

func TestOpenInaccessible(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("opening inaccessible file won't fail under root")
	}
	f, err := os.CreateTemp("", "tinyfuzz-db-test")
	if err != nil {
		t.Error(err)
	}
	f.Close()
	os.Chmod(f.Name(), 0)
	defer os.Chmod(f.Name(), 0777)
	defer os.Remove(f.Name())
	if db, err := Open(f.Name(), false); err == nil {
		t.Fatal("opened inaccessible db")
	} else if db != nil {
		t.Fatal("db is not nil")
	}
}

func TestOpenCorrupted(t *testing.T) {
	fn := tempFile(t)
	defer os.Remove(fn)
	db, err := Open(fn, false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	// Write 1000 records, then wipe half of the file and test that we
	// (1) get an error, (2) still get 450-550 records.
	for i := 0; i < 1000; i++ {
		db.Save(fmt.Sprintf("%v", i), []byte{byte(i)}, 0)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("failed to flush db: %v", err)
	}
	data, err := os.ReadFile(fn)
	if err != nil {
		t.Fatalf("failed to read db: %v", err)
	}
	for i := len(data) / 2; i < len(data); i++ {
		data[i] = 0
	}
	if err := osutil.WriteFile(fn, data); err != nil {
		t.Fatalf("failed to write db: %v", err)
	}
	db, err = Open(fn, true)
	if err == nil {
		t.Fatalf("no error for corrutped db")
	}
	t.Logf("records %v, error: %v", len(db.Records), err)
	if len(db.Records) < 450 || len(db.Records) > 550 {
		t.Fatalf("wrong record count: %v", len(db.Records))
	}
}

func tempFile(t *testing.T) string {
	fn, err := osutil.TempFile("tinyfuzz.test.db")
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestXZ(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "corpus.db.xz")
	db, err := Open(fn, false)
	require.NoError(t, err)
	db.Save("1", []byte("ab"), 1)
	require.NoError(t, db.Flush())
	// The second flush appends another xz stream.
	db.Save("2", []byte("cd"), 2)
	db.Delete("1")
	require.NoError(t, db.Flush())

	data, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfd, '7', 'z', 'X', 'Z', 0}, data[:6])

	db, err = Open(fn, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]Record{"2": {Val: []byte("cd"), Seq: 2}}, db.Records)
}

func TestXZCorrupted(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "corpus.db.xz")
	require.NoError(t, osutil.WriteFile(fn, []byte("not an xz file")))
	_, err := Open(fn, false)
	assert.Error(t, err)
	db, err := Open(fn, true)
	assert.Error(t, err)
	require.NotNil(t, db)
	assert.Empty(t, db.Records)
	// The file is rewritten, so the next open succeeds.
	_, err = Open(fn, false)
	assert.NoError(t, err)
}

func TestCreateReadCorpus(t *testing.T) {
	for _, name := range []string{"corpus.db", "corpus.db.xz"} {
		t.Run(name, func(t *testing.T) {
			fn := filepath.Join(t.TempDir(), name)
			records := []Record{
				{Val: []byte("bad")},
				{Val: []byte("good"), Seq: 3},
				{Val: nil},
			}
			require.NoError(t, Create(fn, 7, records))
			db, err := Open(fn, false)
			require.NoError(t, err)
			assert.Equal(t, uint64(7), db.Version)
			assert.Equal(t, Record{Val: []byte("good"), Seq: 3}, db.Records[hash.String([]byte("good"))])

			inputs, err := ReadCorpus(fn)
			require.NoError(t, err)
			sort.Slice(inputs, func(i, j int) bool {
				return string(inputs[i]) < string(inputs[j])
			})
			assert.Equal(t, [][]byte{[]byte("bad"), []byte("good")}, inputs)
		})
	}
	inputs, err := ReadCorpus("")
	assert.NoError(t, err)
	assert.Empty(t, inputs)
}

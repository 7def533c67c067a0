// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

type Nested struct {
	Aaa int    `json:"aaa"`
	Bbb string `json:"bbb"`
}

type Config struct {
	Foo int      `json:"foo"`
	Bar string   `json:"bar"`
	Qux []string `json:"qux"`
	Box Nested   `json:"box"`
	Boq *Nested  `json:"boq,omitempty"`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		input  string
		output Config
		err    string
	}{
		{
			`{"foo": 42}`,
			Config{Foo: 42},
			"",
		},
		{
			`{"BAR": "Baz", "foo": 42}`,
			Config{Foo: 42, Bar: "Baz"},
			"",
		},
		{
			`{"foobar": 42}`,
			Config{},
			"unknown field",
		},
		{
			"# comment\n{\n\t# another one\n\t\"foo\": 1\n}",
			Config{Foo: 1},
			"",
		},
		{
			`{"box": {"aaa": 12, "ccc": "bbb"}}`,
			Config{Box: Nested{Aaa: 12}},
			"unknown field",
		},
		{
			`{"foo": 1, "boq": {"aaa": 12, "bbb": "bbb"}}`,
			Config{Foo: 1, Boq: &Nested{Aaa: 12, Bbb: "bbb"}},
			"",
		},
		{
			`{"qux": ["aaa", "bbb"]}`,
			Config{Qux: []string{"aaa", "bbb"}},
			"",
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var cfg Config
			err := LoadData([]byte(test.input), &cfg)
			if test.err != "" {
				if err == nil || !strings.Contains(err.Error(), test.err) {
					t.Fatalf("bad err: want '%v', got '%v'", test.err, err)
				}
				return
			}
			require.NoError(t, err)
			if !reflect.DeepEqual(test.output, cfg) {
				t.Fatalf("bad output: want:\n%#v\n, got:\n%#v", test.output, cfg)
			}
		})
	}
}

func TestLoadBadType(t *testing.T) {
	want := "config type is not pointer to struct"
	if err := LoadData([]byte("{}"), 1); err == nil || err.Error() != want {
		t.Fatalf("got '%v', want '%v'", err, want)
	}
	i := 0
	if err := LoadData([]byte("{}"), &i); err == nil || err.Error() != want {
		t.Fatalf("got '%v', want '%v'", err, want)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json")
	patch := filepath.Join(dir, "patch.yaml")
	require.NoError(t, osutil.WriteFile(base, []byte(`{"foo": 1, "bar": "x", "box": {"aaa": 1, "bbb": "b"}}`)))
	require.NoError(t, osutil.WriteFile(patch, []byte("bar: y\nbox:\n  aaa: 2\n")))
	var cfg Config
	require.NoError(t, LoadFiles([]string{base, patch}, &cfg))
	assert.Equal(t, Config{Foo: 1, Bar: "y", Box: Nested{Aaa: 2, Bbb: "b"}}, cfg)

	assert.Error(t, LoadFile("", &cfg))
	assert.Error(t, LoadFile(filepath.Join(dir, "missing.json"), &cfg))
}

func TestSaveLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cfg.yml")
	cfg := Config{Foo: 3, Qux: []string{"a"}, Boq: &Nested{Bbb: "q"}}
	require.NoError(t, SaveFile(file, cfg))
	var got Config
	require.NoError(t, LoadFile(file, &got))
	assert.Equal(t, cfg, got)
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Dict holds tokens that are inserted into inputs as a whole (keywords, magic values).
type Dict struct {
	Tokens [][]byte
}

// dictFile is the on-disk format:
//
//	tokens:
//	  - "GET "
//	  - "\x7fELF"
//	hex:
//	  - deadbeef
type dictFile struct {
	Tokens []string `yaml:"tokens"`
	Hex    []string `yaml:"hex"`
}

func LoadDict(file string) (*Dict, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	dict, err := ParseDict(data)
	if err != nil {
		return nil, fmt.Errorf("dictionary %v: %w", file, err)
	}
	return dict, nil
}

func ParseDict(data []byte) (*Dict, error) {
	var f dictFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	dict := new(Dict)
	for _, tok := range f.Tokens {
		dict.add([]byte(tok))
	}
	for _, str := range f.Hex {
		tok, err := hex.DecodeString(str)
		if err != nil {
			return nil, fmt.Errorf("bad hex token %q: %w", str, err)
		}
		dict.add(tok)
	}
	return dict, nil
}

func (dict *Dict) add(tok []byte) {
	if len(tok) == 0 {
		return
	}
	for _, tok1 := range dict.Tokens {
		if bytes.Equal(tok, tok1) {
			return
		}
	}
	dict.Tokens = append(dict.Tokens, tok)
}

func (dict *Dict) Empty() bool {
	return dict == nil || len(dict.Tokens) == 0
}

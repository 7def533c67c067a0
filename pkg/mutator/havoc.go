// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"bytes"
	"math/rand"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
)

const maxInc = 35

type opFunc func(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool)

type op struct {
	name string
	fn   opFunc
}

var havocOps = []op{
	{"flip_bit", flipBit},
	{"insert_bytes", insertBytes},
	{"remove_bytes", removeBytes},
	{"append_bytes", appendBytes},
	{"replace_int", replaceInt},
	{"add_sub_int", addSubInt},
	{"interesting_int", interestingInt},
	{"duplicate_chunk", duplicateChunk},
	{"insert_token", insertToken},
	{"overwrite_token", overwriteToken},
}

// OpNames lists names of all havoc operators.
func OpNames() []string {
	var names []string
	for _, op := range havocOps {
		names = append(names, op.name)
	}
	return names
}

type opMutator struct {
	op     op
	maxLen int
	dict   *Dict
}

func (m *opMutator) Name() string {
	return m.op.name
}

// Mutate applies the operator. If it is not applicable (e.g. data is too short),
// the data is returned unchanged (but copied).
func (m *opMutator) Mutate(r *rand.Rand, data []byte) []byte {
	data = bytes.Clone(data)
	res, _ := m.op.fn(randGen{r}, data, m.maxLen, m.dict)
	return res
}

// Havoc returns the default mutator set. dict may be nil.
func Havoc(maxLen int, dict *Dict) []Mutator {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	var res []Mutator
	for _, op := range havocOps {
		if dict.Empty() && (op.name == "insert_token" || op.name == "overwrite_token") {
			continue
		}
		res = append(res, &opMutator{op: op, maxLen: maxLen, dict: dict})
	}
	return res
}

// Select returns the havoc operators with the given names.
func Select(names []string, maxLen int, dict *Dict) ([]Mutator, error) {
	all := make(map[string]Mutator)
	for _, m := range Havoc(maxLen, dict) {
		all[m.Name()] = m
	}
	var res []Mutator
	for _, name := range names {
		m := all[name]
		if m == nil {
			return nil, &UnknownMutatorError{Name: name}
		}
		res = append(res, m)
	}
	return res, nil
}

type UnknownMutatorError struct {
	Name string
}

func (err *UnknownMutatorError) Error() string {
	return "unknown or unavailable mutator " + err.Name
}

func flipBit(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	byt := r.Intn(len(data))
	bit := r.Intn(8)
	data[byt] ^= 1 << uint(bit)
	return data, true
}

func insertBytes(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	n := r.Intn(16) + 1
	if rem := maxLen - len(data); n > rem {
		n = rem
	}
	if n <= 0 {
		return data, false
	}
	pos := r.Intn(len(data))
	data = append(data, make([]byte, n)...)
	copy(data[pos+n:], data[pos:])
	for i := 0; i < n; i++ {
		data[pos+i] = byte(r.Int31())
	}
	if r.bin() {
		data = data[:len(data)-n] // preserve original length
	}
	return data, true
}

func removeBytes(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	n := r.Intn(16) + 1
	if n > len(data) {
		n = len(data)
	}
	pos := r.Intn(len(data) - n + 1)
	copy(data[pos:], data[pos+n:])
	data = data[:len(data)-n]
	if r.bin() {
		data = append(data, make([]byte, n)...) // preserve original length
	}
	return data, true
}

func appendBytes(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if len(data) >= maxLen {
		return data, false
	}
	const max = 256
	n := max - r.biasedRand(max, 10)
	if rem := maxLen - len(data); n > rem {
		n = rem
	}
	for i := 0; i < n; i++ {
		data = append(data, byte(r.rand(256)))
	}
	return data, true
}

func replaceInt(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	width := 1 << uint(r.Intn(4))
	if len(data) < width {
		return data, false
	}
	i := r.Intn(len(data) - width + 1)
	storeInt(data[i:], r.Uint64(), width)
	return data, true
}

func addSubInt(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	width := 1 << uint(r.Intn(4))
	if len(data) < width {
		return data, false
	}
	i := r.Intn(len(data) - width + 1)
	v := loadInt(data[i:], width)
	delta := r.rand(2*maxInc+1) - maxInc
	if delta == 0 {
		delta = 1
	}
	if r.oneOf(10) {
		v = swapInt(v, width)
		v += delta
		v = swapInt(v, width)
	} else {
		v += delta
	}
	storeInt(data[i:], v, width)
	return data, true
}

func interestingInt(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	width := 1 << uint(r.Intn(4))
	if len(data) < width {
		return data, false
	}
	i := r.Intn(len(data) - width + 1)
	value := r.randInt(uint64(width) * 8)
	if r.oneOf(10) {
		value = swapInt(value, width)
	}
	storeInt(data[i:], value, width)
	return data, true
}

func duplicateChunk(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if len(data) == 0 || len(data) >= maxLen {
		return data, false
	}
	n := r.Intn(min(len(data), 32)) + 1
	if rem := maxLen - len(data); n > rem {
		n = rem
	}
	start := r.Intn(len(data) - n + 1)
	chunk := bytes.Clone(data[start : start+n])
	pos := r.Intn(len(data) + 1)
	return insertAt(data, pos, chunk), true
}

func insertToken(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if dict.Empty() {
		return data, false
	}
	tok := dict.Tokens[r.Intn(len(dict.Tokens))]
	if len(data)+len(tok) > maxLen {
		return data, false
	}
	return insertAt(data, r.Intn(len(data)+1), tok), true
}

func overwriteToken(r randGen, data []byte, maxLen int, dict *Dict) ([]byte, bool) {
	if dict.Empty() {
		return data, false
	}
	tok := dict.Tokens[r.Intn(len(dict.Tokens))]
	if len(tok) > len(data) {
		return data, false
	}
	copy(data[r.Intn(len(data)-len(tok)+1):], tok)
	return data, true
}

func insertAt(data []byte, pos int, chunk []byte) []byte {
	res := make([]byte, 0, len(data)+len(chunk))
	res = append(res, data[:pos]...)
	res = append(res, chunk...)
	return append(res, data[pos:]...)
}

// Splice crosses data with another corpus entry: a prefix of data is joined
// with a suffix of the other entry.
type Splice struct {
	store  corpus.Store
	maxLen int
}

func NewSplice(store corpus.Store, maxLen int) *Splice {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Splice{store: store, maxLen: maxLen}
}

func (s *Splice) Name() string {
	return "splice"
}

func (s *Splice) Mutate(r *rand.Rand, data []byte) []byte {
	ids := s.store.IDs()
	if len(ids) == 0 || len(data) == 0 {
		return bytes.Clone(data)
	}
	other, err := s.store.Get(ids[r.Intn(len(ids))])
	if err != nil || len(other.Data) == 0 {
		// A broken store surfaces in the coordinator, splice is best-effort.
		return bytes.Clone(data)
	}
	cut := r.Intn(len(data)) + 1
	from := r.Intn(len(other.Data))
	res := make([]byte, 0, cut+len(other.Data)-from)
	res = append(res, data[:cut]...)
	res = append(res, other.Data[from:]...)
	if len(res) > s.maxLen {
		res = res[:s.maxLen]
	}
	return res
}

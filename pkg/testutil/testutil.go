// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	return iters
}

func RandSource(t *testing.T) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("TINYFUZZ_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	if os.Getenv("CI") != "" {
		seed = 0 // required for deterministic coverage reports
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

// RandData returns a random non-empty byte slice of up to maxLen bytes.
func RandData(r *rand.Rand, maxLen int) []byte {
	data := make([]byte, 1+r.Intn(maxLen))
	r.Read(data)
	return data
}

type Writer struct {
	testing.TB
}

func (w *Writer) Write(data []byte) (int, error) {
	w.TB.Logf("%s", data)
	return len(data), nil
}

// Logf adapts t.Logf to the logging hooks accepted by components.
func Logf(t testing.TB) func(level int, msg string, args ...any) {
	return func(level int, msg string, args ...any) {
		t.Helper()
		t.Logf(msg, args...)
	}
}

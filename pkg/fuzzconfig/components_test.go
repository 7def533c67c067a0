// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/feedback"
)

func TestMakeObjective(t *testing.T) {
	cfg := &Config{Objective: ObjectiveCrash}
	obj := cfg.MakeObjective()
	assert.True(t, obj.IsObjective(executor.Crashed))
	assert.False(t, obj.IsObjective(executor.TimedOut))
	assert.Equal(t, feedback.Crash{}, obj)

	cfg.Objective = ObjectiveCrashOrTimeout
	obj = cfg.MakeObjective()
	assert.True(t, obj.IsObjective(executor.Crashed))
	assert.True(t, obj.IsObjective(executor.TimedOut))
	assert.False(t, obj.IsObjective(executor.Normal))
}

func TestMakeRand(t *testing.T) {
	cfg := &Config{RandSeed: 42}
	assert.Equal(t, cfg.MakeRand().Int63(), cfg.MakeRand().Int63())
}

func TestMakeStage(t *testing.T) {
	store, err := corpus.NewSolutions(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()
	parent := corpus.NewTestcase([]byte("parent"))

	dictFile := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(dictFile, []byte("tokens:\n  - MAGIC\n"), 0o644))

	tests := []struct {
		mutators []string
		dict     string
		err      bool
	}{
		{nil, "", false},
		{[]string{"flip_bit"}, "", false},
		{[]string{MutatorSplice}, "", false},
		{[]string{"flip_bit", MutatorSplice}, "", false},
		{[]string{"insert_token"}, "", true},
		{[]string{"insert_token"}, dictFile, false},
	}
	for _, test := range tests {
		cfg := &Config{
			Mutators:      test.mutators,
			Dict:          test.dict,
			MaxInputSize:  64,
			MaxCandidates: 3,
			MaxStack:      2,
			RandSeed:      1,
		}
		stage, err := cfg.MakeStage(store)
		if test.err {
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "%v: got %v", test.mutators, err)
			assert.Equal(t, "mutators", cfgErr.Param)
			continue
		}
		require.NoError(t, err, "%v", test.mutators)
		assert.Equal(t, 2, stage.MaxStack)
		assert.Equal(t, 64, stage.MaxLen)
		cands := stage.Mutate(cfg.MakeRand(), parent)
		assert.NotEmpty(t, cands)
		assert.LessOrEqual(t, len(cands), 3)
		assert.Equal(t, []byte("parent"), parent.Data)
	}
}

func TestMakeStageBadDict(t *testing.T) {
	cfg := &Config{
		Dict:          filepath.Join(t.TempDir(), "missing.yaml"),
		MaxInputSize:  64,
		MaxCandidates: 1,
		MaxStack:      1,
	}
	_, err := cfg.MakeStage(nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "dict", cfgErr.Param)
}

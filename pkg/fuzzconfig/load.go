// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/config"
	"github.com/tinyfuzz/tinyfuzz/pkg/executor"
	"github.com/tinyfuzz/tinyfuzz/pkg/mutator"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"github.com/tinyfuzz/tinyfuzz/pkg/scheduler"
)

const (
	InputModeFile  = "file"
	InputModeShmem = "shmem"

	ObjectiveCrash          = "crash"
	ObjectiveCrashOrTimeout = "crash_or_timeout"

	MutatorSplice = "splice"
)

// ErrEmpty is wrapped by ConfigError for required params that are not set.
var ErrEmpty = errors.New("is empty")

// ConfigError means that the fuzzer can't start with the given configuration.
type ConfigError struct {
	// Param is the config param name, empty if the error is not specific to a param.
	Param string
	Err   error
}

func (err *ConfigError) Error() string {
	switch {
	case err.Param == "":
		return fmt.Sprintf("bad config: %v", err.Err)
	case errors.Is(err.Err, ErrEmpty):
		return fmt.Sprintf("config param %v is empty", err.Param)
	default:
		return fmt.Sprintf("bad config param %v: %v", err.Param, err.Err)
	}
}

func (err *ConfigError) Unwrap() error {
	return err.Err
}

func badParam(param, msg string, args ...any) error {
	return &ConfigError{Param: param, Err: fmt.Errorf(msg, args...)}
}

func emptyParam(param string) error {
	return &ConfigError{Param: param, Err: ErrEmpty}
}

func LoadData(data []byte) (*Config, error) {
	cfg, err := LoadPartialData(data)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a JSON or YAML config. Several files can be given,
// later files override values of earlier ones.
func LoadFile(filenames ...string) (*Config, error) {
	cfg, err := LoadPartialFile(filenames...)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadPartialData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func LoadPartialFile(filenames ...string) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadFiles(filenames, cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func defaultValues() *Config {
	return &Config{
		Target: Target{
			InputMode: InputModeFile,
		},
		Persistent: Persistent{
			Iterations: executor.DefaultIterations,
		},
		Timeout:          Duration(executor.DefaultTimeout),
		HandshakeTimeout: Duration(executor.DefaultHandshakeTimeout),
		CoverSize:        64 << 10,
		MaxInputSize:     executor.DefaultMaxInput,
		CacheSize:        64,
		Scheduler:        scheduler.NameRand,
		MaxCandidates:    4,
		MaxStack:         mutator.DefaultMaxStack,
		Objective:        ObjectiveCrash,
		StatsPeriod:      Duration(10 * time.Second),
		SyncPeriod:       Duration(time.Minute),
	}
}

// Complete validates the config and fills in derived values.
func Complete(cfg *Config) error {
	if cfg.Workdir == "" {
		return emptyParam("workdir")
	}
	cfg.Workdir = osutil.Abs(cfg.Workdir)
	cfg.CorpusDir = filepath.Join(cfg.Workdir, "corpus")
	cfg.CrashesDir = filepath.Join(cfg.Workdir, "crashes")
	if err := completeTarget(cfg); err != nil {
		return err
	}
	if err := completePersistent(cfg); err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		return badParam("timeout", "'%v', want a positive duration", cfg.Timeout)
	}
	if cfg.HandshakeTimeout <= 0 {
		return badParam("handshake_timeout", "'%v', want a positive duration", cfg.HandshakeTimeout)
	}
	if cfg.CoverSize <= 0 {
		return badParam("cover_size", "'%v', want a positive number", cfg.CoverSize)
	}
	if cfg.MaxInputSize <= 0 {
		return badParam("max_input_size", "'%v', want a positive number", cfg.MaxInputSize)
	}
	if cfg.CacheSize <= 0 {
		return badParam("cache_size", "'%v', want a positive number", cfg.CacheSize)
	}
	for i, seed := range cfg.Seeds {
		cfg.Seeds[i] = osutil.Abs(seed)
		if !osutil.IsExist(cfg.Seeds[i]) {
			return badParam("seeds", "%v does not exist", seed)
		}
	}
	if err := completeMutation(cfg); err != nil {
		return err
	}
	switch cfg.Objective {
	case ObjectiveCrash, ObjectiveCrashOrTimeout:
	default:
		return badParam("objective", "%q, want %v or %v", cfg.Objective,
			ObjectiveCrash, ObjectiveCrashOrTimeout)
	}
	if cfg.MaxDuration < 0 {
		return badParam("max_duration", "'%v' is negative", cfg.MaxDuration)
	}
	if cfg.StatsPeriod <= 0 {
		return badParam("stats_period", "'%v', want a positive duration", cfg.StatsPeriod)
	}
	if cfg.SyncPeriod <= 0 {
		return badParam("sync_period", "'%v', want a positive duration", cfg.SyncPeriod)
	}
	return nil
}

func completeTarget(cfg *Config) error {
	t := &cfg.Target
	if t.Target == "" {
		return emptyParam("target.target")
	}
	bin, err := exec.LookPath(t.Target)
	if err != nil {
		return badParam("target.target", "can't find %v", t.Target)
	}
	t.Target = osutil.Abs(bin)
	if t.Instrumenter != "" {
		bin, err := exec.LookPath(t.Instrumenter)
		if err != nil {
			return badParam("target.instrumenter", "can't find %v", t.Instrumenter)
		}
		t.Instrumenter = osutil.Abs(bin)
	}
	switch t.InputMode {
	case InputModeFile, InputModeShmem:
	default:
		return badParam("target.input_mode", "%q, want %v or %v", t.InputMode,
			InputModeFile, InputModeShmem)
	}
	return nil
}

func completePersistent(cfg *Config) error {
	p := &cfg.Persistent
	if p.Iterations < 1 {
		return badParam("persistent.iterations", "'%v', want at least 1", p.Iterations)
	}
	if (p.Module == "") != (p.Entry == "") {
		return badParam("persistent", "module and entry must be set together")
	}
	if p.Entry != "" && cfg.Target.Instrumenter == "" {
		return badParam("persistent.entry", "requires target.instrumenter")
	}
	if p.NArgs < 0 {
		return badParam("persistent.nargs", "'%v' is negative", p.NArgs)
	}
	return nil
}

func completeMutation(cfg *Config) error {
	switch cfg.Scheduler {
	case scheduler.NameRand, scheduler.NameQueue:
	default:
		return badParam("scheduler", "%q, want %v or %v", cfg.Scheduler,
			scheduler.NameRand, scheduler.NameQueue)
	}
	known := append(mutator.OpNames(), MutatorSplice)
	for _, name := range cfg.Mutators {
		if !slices.Contains(known, name) {
			return badParam("mutators", "unknown mutator %q", name)
		}
	}
	if cfg.Dict != "" {
		cfg.Dict = osutil.Abs(cfg.Dict)
		if !osutil.IsExist(cfg.Dict) {
			return badParam("dict", "%v does not exist", cfg.Dict)
		}
	}
	if cfg.MaxCandidates <= 0 {
		return badParam("max_candidates", "'%v', want a positive number", cfg.MaxCandidates)
	}
	if cfg.MaxStack <= 0 {
		return badParam("max_stack", "'%v', want a positive number", cfg.MaxStack)
	}
	return nil
}

// ExecutorConfig returns the configuration for the target executor.
func (cfg *Config) ExecutorConfig() *executor.Config {
	mode := executor.InputFile
	if cfg.Target.InputMode == InputModeShmem {
		mode = executor.InputShmem
	}
	return &executor.Config{
		Instrumenter:   cfg.Target.Instrumenter,
		InstrumentArgs: cfg.Target.InstrumentArgs,
		Target:         cfg.Target.Target,
		TargetArgs:     cfg.Target.TargetArgs,
		InputMode:      mode,
		Persistent: executor.Persistent{
			Module: cfg.Persistent.Module,
			Entry:  cfg.Persistent.Entry,
			NArgs:  cfg.Persistent.NArgs,
		},
		Iterations:       cfg.Persistent.Iterations,
		Timeout:          cfg.Timeout.Std(),
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		MaxInput:         cfg.MaxInputSize,
		CoverSize:        cfg.CoverSize,
		Dir:              cfg.Workdir,
		Debug:            cfg.Debug,
	}
}

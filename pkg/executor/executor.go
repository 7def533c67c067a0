// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package executor runs inputs against an instrumented target process.
//
// The target is started behind the instrumenter and talks the harness
// protocol (see proto.go). In persistent mode a single process serves many
// consecutive inputs up to the configured iteration ceiling; any crash or
// timeout tears the process down and the next input starts a fresh one.
// Crashes and timeouts are reported as an Outcome, never as an error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/observer"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

type Outcome int

const (
	Normal Outcome = iota
	Crashed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Normal:
		return "normal"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func (o Outcome) Fault() bool {
	return o != Normal
}

// State of the executor.
// Collecting also means that a persistent process is alive and ready for the next input.
type State int32

const (
	Idle State = iota
	Launching
	Running
	Collecting
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Collecting:
		return "collecting"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type InputMode int

const (
	// InputFile writes the input into a file whose path replaces InputPlaceholder.
	InputFile InputMode = iota
	// InputShmem passes the input in a shared memory region.
	InputShmem
)

func (m InputMode) String() string {
	if m == InputShmem {
		return "shmem"
	}
	return "file"
}

// InputPlaceholder in target arguments is replaced with the input location.
const InputPlaceholder = "@@"

// Persistent describes where the instrumenter should loop inside of the target.
type Persistent struct {
	Module string
	Entry  string
	NArgs  int
}

// Config is the configuration for Executor.
type Config struct {
	// Instrumenter binary, may be empty if the target links the harness itself.
	Instrumenter   string
	InstrumentArgs []string
	Target         string
	TargetArgs     []string
	InputMode      InputMode
	Persistent     Persistent
	// Iterations is the number of inputs a single process serves before it is relaunched.
	// 1 means that every input runs in a fresh process.
	Iterations int
	// Timeout is the execution timeout for a single input.
	Timeout time.Duration
	// HandshakeTimeout bounds process startup (instrumentation can take significant time).
	HandshakeTimeout time.Duration
	// MaxInput is the size of the input region in InputShmem mode.
	MaxInput int
	// CoverSize is the capacity of the coverage region in units.
	CoverSize int
	// Dir is where per-executor files (input file) are created.
	Dir   string
	Env   []string
	Debug bool
	Logf  func(level int, msg string, args ...any)
}

const (
	DefaultTimeout          = 5 * time.Second
	DefaultHandshakeTimeout = time.Minute
	DefaultMaxInput         = 1 << 20
	DefaultIterations       = 10000
)

// LaunchError means that the target could not be started (or did not complete the handshake).
// It is fatal: fuzzing cannot proceed without a target.
type LaunchError struct {
	Args   []string
	Err    error
	Output []byte
}

func (err *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch %q: %v", err.Args, err.Err)
	if len(err.Output) != 0 {
		msg += fmt.Sprintf("\n%s", err.Output)
	}
	return msg
}

func (err *LaunchError) Unwrap() error {
	return err.Err
}

type Executor struct {
	cfg       *Config
	cmd       *command
	coverFile *os.File
	cover     []byte
	inFile    *os.File
	in        []byte
	inputPath string
	dir       string
	state     atomic.Int32
	served    int
	output    []byte
	execTime  time.Duration

	StatExecs    atomic.Uint64
	StatRestarts atomic.Uint64
	StatCrashes  atomic.Uint64
	StatTimeouts atomic.Uint64
}

func New(cfg *Config) (*Executor, error) {
	cfg1 := *cfg
	cfg = &cfg1
	if cfg.Target == "" {
		return nil, fmt.Errorf("executor: target binary is empty")
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = 1
	}
	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("executor: bad iterations %v", cfg.Iterations)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("executor: bad timeout %v", cfg.Timeout)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxInput == 0 {
		cfg.MaxInput = DefaultMaxInput
	}
	if cfg.CoverSize == 0 {
		cfg.CoverSize = observer.DefaultCapacity
	}
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	dir, err := os.MkdirTemp(cfg.Dir, "tinyfuzz-exec")
	if err != nil {
		return nil, fmt.Errorf("failed to create executor dir: %w", err)
	}
	env := &Executor{
		cfg: cfg,
		dir: dir,
	}
	defer func() {
		if env != nil {
			env.Close()
		}
	}()
	env.coverFile, env.cover, err = osutil.CreateMemMappedFile(coverRegionSize(cfg.CoverSize))
	if err != nil {
		return nil, err
	}
	if cfg.InputMode == InputShmem {
		env.inFile, env.in, err = osutil.CreateMemMappedFile(cfg.MaxInput)
		if err != nil {
			return nil, err
		}
	} else {
		env.inputPath = filepath.Join(dir, "input")
	}
	tmp := env
	env = nil
	return tmp, nil
}

// Args returns the full command line used to launch the target.
func (cfg *Config) Args(inputPath string) []string {
	var args []string
	if cfg.Instrumenter != "" {
		args = append(args, cfg.Instrumenter)
		args = append(args, cfg.InstrumentArgs...)
		if cfg.Persistent.Entry != "" {
			args = append(args,
				"-target_module", cfg.Persistent.Module,
				"-target_method", cfg.Persistent.Entry,
				"-nargs", fmt.Sprint(cfg.Persistent.NArgs),
				"-iterations", fmt.Sprint(cfg.Iterations),
				"-persist", "-loop")
		}
		args = append(args, "--")
	}
	args = append(args, cfg.Target)
	for _, arg := range cfg.TargetArgs {
		args = append(args, strings.ReplaceAll(arg, InputPlaceholder, inputPath))
	}
	return args
}

func (env *Executor) State() State {
	return State(env.state.Load())
}

func (env *Executor) setState(s State) {
	env.state.Store(int32(s))
}

// LastOutput returns output of the target captured when the last run faulted.
func (env *Executor) LastOutput() []byte {
	return env.output
}

// LastExecTime returns duration of the last run.
func (env *Executor) LastExecTime() time.Duration {
	return env.execTime
}

// Execute runs input in the target and fills obs with the coverage it produced.
// The returned error is always a *LaunchError; faults of the run itself are
// returned as the outcome.
func (env *Executor) Execute(ctx context.Context, input []byte, obs *observer.Observer) (Outcome, error) {
	if env.cfg.InputMode == InputShmem && len(input) > len(env.in) {
		env.cfg.Logf(1, "executor: truncating input from %v to %v bytes", len(input), len(env.in))
		input = input[:len(env.in)]
	}
	env.StatExecs.Add(1)
	for attempt := 0; ; attempt++ {
		if env.cmd == nil {
			if err := env.launch(ctx); err != nil {
				return Normal, err
			}
		}
		outcome, retry, err := env.run(input, obs, attempt != 0)
		if err != nil || !retry {
			return outcome, err
		}
		env.cfg.Logf(1, "executor: target asked for a restart, retrying")
	}
}

func (env *Executor) launch(ctx context.Context) error {
	env.setState(Launching)
	env.StatRestarts.Add(1)
	env.served = 0
	cmd, err := makeCommand(ctx, env.cfg, env.commandEnv(), env.inputLocation(),
		env.coverFile, env.inFile)
	if err != nil {
		env.setState(Faulted)
		return err
	}
	env.cmd = cmd
	env.cfg.Logf(2, "executor: started pid %v", cmd.cmd.Process.Pid)
	return nil
}

func (env *Executor) inputLocation() string {
	if env.cfg.InputMode == InputShmem {
		return fmt.Sprintf("/dev/fd/%v", inputFd)
	}
	return env.inputPath
}

func (env *Executor) commandEnv() []string {
	vars := append(os.Environ(), env.cfg.Env...)
	vars = append(vars, fmt.Sprintf("%v=%v", EnvCoverSize, env.cfg.CoverSize))
	if env.cfg.InputMode == InputShmem {
		vars = append(vars, fmt.Sprintf("%v=%v", EnvInputSize, len(env.in)))
	} else {
		vars = append(vars, fmt.Sprintf("%v=%v", EnvInputFile, env.inputPath))
	}
	return vars
}

// run executes input once. If the harness asks for a restart and the run is not
// a retry already, run returns retry=true and the caller should run input again.
func (env *Executor) run(input []byte, obs *observer.Observer, retried bool) (outcome Outcome, retry bool, err error) {
	if env.cfg.InputMode == InputShmem {
		copy(env.in, input)
	} else if err := osutil.WriteFile(env.inputPath, input); err != nil {
		env.teardown(Faulted)
		return Normal, false, &LaunchError{Args: env.cfg.Args(env.inputPath), Err: err}
	}
	resetCover(env.cover)
	env.output = nil

	obs.Begin()
	env.setState(Running)
	start := time.Now()
	res := env.cmd.exec(len(input), env.cfg.Timeout)
	env.execTime = time.Since(start)
	if res.status == statusOK && res.err == nil && !res.hanged {
		readCover(env.cover, obs.Record)
		obs.End()
		env.setState(Collecting)
		env.served++
		if env.served >= env.cfg.Iterations {
			env.cfg.Logf(2, "executor: pid %v served %v inputs, relaunching",
				env.cmd.cmd.Process.Pid, env.served)
			env.teardown(Idle)
		}
		return Normal, false, nil
	}

	// The process is dead or is going to be killed, so the coverage region is stable.
	env.output = env.cmd.kill()
	// Coverage of a run that asked for a restart is incomplete.
	retry = !res.hanged && res.err != nil && env.cmd.exitStatus() == exitRetry
	if !retry {
		readCover(env.cover, obs.Record)
	}
	obs.End()
	switch {
	case res.hanged:
		outcome = TimedOut
		env.StatTimeouts.Add(1)
	case retry && !retried:
		env.teardown(Idle)
		return Normal, true, nil
	default:
		// Crash, or a restart request from the retry process as well.
		outcome = Crashed
		env.StatCrashes.Add(1)
	}
	env.cfg.Logf(2, "executor: pid %v %v (%v)", env.cmd.cmd.Process.Pid, outcome, res.err)
	env.teardown(Faulted)
	return outcome, false, nil
}

func (env *Executor) teardown(state State) {
	if env.cmd != nil {
		env.cmd.close()
		env.cmd = nil
	}
	env.setState(state)
}

// Close kills the target process (if any) and releases all resources.
func (env *Executor) Close() error {
	env.teardown(Idle)
	var errs []error
	if env.coverFile != nil {
		errs = append(errs, osutil.CloseMemMappedFile(env.coverFile, env.cover))
		env.coverFile = nil
	}
	if env.inFile != nil {
		errs = append(errs, osutil.CloseMemMappedFile(env.inFile, env.in))
		env.inFile = nil
	}
	errs = append(errs, os.RemoveAll(env.dir))
	return errors.Join(errs...)
}

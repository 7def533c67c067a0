// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyfuzz/tinyfuzz/pkg/observer"
)

// The test binary doubles as the target: when this variable is set,
// TestMain serves the harness protocol instead of running tests.
const testHarnessEnv = "TINYFUZZ_TEST_HARNESS"

const pidUnit = uint64(1) << 40

func TestMain(m *testing.M) {
	if os.Getenv(testHarnessEnv) != "" {
		runTestHarness()
	}
	os.Exit(m.Run())
}

func runTestHarness() {
	h, err := OpenHarness()
	if err != nil {
		fmt.Fprintf(os.Stderr, "harness: %v\n", err)
		os.Exit(1)
	}
	if err := h.Serve(testTarget); err != nil {
		fmt.Fprintf(os.Stderr, "harness: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func testTarget(h *Harness, input []byte) bool {
	h.Record(pidUnit | uint64(os.Getpid()))
	switch string(input) {
	case "crash":
		return true
	case "die":
		fmt.Fprintf(os.Stderr, "dying\n")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Hour)
	case "retry":
		RetryExit()
	case "retry-once":
		// The marker lives in the working dir shared by all processes of the test.
		if _, err := os.Stat("retried"); err != nil {
			os.WriteFile("retried", nil, 0644)
			RetryExit()
		}
	}
	for i, v := range input {
		h.Record(uint64(i)<<8 | uint64(v))
	}
	return false
}

func testConfig(t *testing.T, mode InputMode, iterations int) *Config {
	bin, err := os.Executable()
	require.NoError(t, err)
	return &Config{
		Target:           bin,
		TargetArgs:       []string{"-input", InputPlaceholder},
		InputMode:        mode,
		Iterations:       iterations,
		Timeout:          time.Minute,
		HandshakeTimeout: time.Minute,
		MaxInput:         1 << 10,
		CoverSize:        1 << 10,
		Dir:              t.TempDir(),
		Env:              []string{testHarnessEnv + "=1"},
	}
}

func makeExecutor(t *testing.T, cfg *Config) *Executor {
	env, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, env.Close())
	})
	return env
}

func execute(t *testing.T, env *Executor, obs *observer.Observer, input string) (Outcome, uint64) {
	outcome, err := env.Execute(context.Background(), []byte(input), obs)
	require.NoError(t, err)
	snapshot := obs.Snapshot()
	if len(snapshot) == 0 {
		return outcome, 0
	}
	require.NotZero(t, snapshot[0]&pidUnit, "first unit must be the pid")
	return outcome, snapshot[0] &^ pidUnit
}

func TestExecuteNormal(t *testing.T) {
	for _, mode := range []InputMode{InputFile, InputShmem} {
		t.Run(mode.String(), func(t *testing.T) {
			env := makeExecutor(t, testConfig(t, mode, 10))
			obs := observer.New("cov", 0)
			assert.Equal(t, Idle, env.State())
			for i := 0; i < 3; i++ {
				outcome, err := env.Execute(context.Background(), []byte("bad"), obs)
				require.NoError(t, err)
				assert.Equal(t, Normal, outcome)
				assert.Equal(t, Collecting, env.State())
				snapshot := obs.Snapshot()
				require.Len(t, snapshot, 4)
				assert.Equal(t, []uint64{0<<8 | 'b', 1<<8 | 'a', 2<<8 | 'd'}, snapshot[1:])
			}
			assert.Equal(t, uint64(3), env.StatExecs.Load())
			assert.Equal(t, uint64(1), env.StatRestarts.Load())
		})
	}
}

func TestPersistentRelaunch(t *testing.T) {
	const iterations = 3
	env := makeExecutor(t, testConfig(t, InputShmem, iterations))
	obs := observer.New("cov", 0)
	var pids []uint64
	for i := 0; i < 7; i++ {
		outcome, pid := execute(t, env, obs, fmt.Sprintf("input%v", i))
		assert.Equal(t, Normal, outcome)
		pids = append(pids, pid)
	}
	assert.Equal(t, uint64(3), env.StatRestarts.Load())
	// Each process serves exactly the configured number of inputs.
	for i := 1; i < len(pids); i++ {
		if i%iterations == 0 {
			assert.NotEqual(t, pids[i-1], pids[i], "input %v", i)
		} else {
			assert.Equal(t, pids[i-1], pids[i], "input %v", i)
		}
	}
}

func TestNonPersistent(t *testing.T) {
	env := makeExecutor(t, testConfig(t, InputFile, 1))
	obs := observer.New("cov", 0)
	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		outcome, pid := execute(t, env, obs, "x")
		assert.Equal(t, Normal, outcome)
		assert.False(t, seen[pid])
		seen[pid] = true
		assert.Equal(t, Idle, env.State())
	}
	assert.Equal(t, uint64(3), env.StatRestarts.Load())
}

func TestFaultRelaunch(t *testing.T) {
	env := makeExecutor(t, testConfig(t, InputShmem, 100))
	obs := observer.New("cov", 0)
	tests := []struct {
		input    string
		outcome  Outcome
		restarts uint64
	}{
		{"a", Normal, 1},
		{"b", Normal, 1},
		{"crash", Crashed, 1},
		{"c", Normal, 2},
		{"die", Crashed, 2},
		{"d", Normal, 3},
	}
	for _, test := range tests {
		outcome, _ := execute(t, env, obs, test.input)
		assert.Equal(t, test.outcome, outcome, test.input)
		assert.Equal(t, test.restarts, env.StatRestarts.Load(), test.input)
		if outcome == Crashed {
			assert.Equal(t, Faulted, env.State())
		}
	}
	assert.Equal(t, uint64(2), env.StatCrashes.Load())
}

func TestCrashOutput(t *testing.T) {
	env := makeExecutor(t, testConfig(t, InputFile, 100))
	obs := observer.New("cov", 0)
	outcome, _ := execute(t, env, obs, "die")
	assert.Equal(t, Crashed, outcome)
	assert.Contains(t, string(env.LastOutput()), "dying")
}

func TestTimeout(t *testing.T) {
	cfg := testConfig(t, InputFile, 100)
	cfg.Timeout = 500 * time.Millisecond
	env := makeExecutor(t, cfg)
	obs := observer.New("cov", 0)

	outcome, pid := execute(t, env, obs, "a")
	assert.Equal(t, Normal, outcome)

	start := time.Now()
	outcome, hangPid := execute(t, env, obs, "hang")
	assert.Equal(t, TimedOut, outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, pid, hangPid)
	assert.Equal(t, Faulted, env.State())
	// The process is killed and reaped before Execute returns.
	assert.Equal(t, syscall.ESRCH, syscall.Kill(int(hangPid), 0))
	assert.Equal(t, uint64(1), env.StatTimeouts.Load())

	outcome, pid = execute(t, env, obs, "b")
	assert.Equal(t, Normal, outcome)
	assert.NotEqual(t, hangPid, pid)
	assert.Equal(t, uint64(2), env.StatRestarts.Load())
}

func TestRetry(t *testing.T) {
	env := makeExecutor(t, testConfig(t, InputFile, 100))
	obs := observer.New("cov", 0)
	outcome, pid := execute(t, env, obs, "retry-once")
	assert.Equal(t, Normal, outcome)
	assert.NotZero(t, pid)
	assert.Len(t, obs.Snapshot(), 1+len("retry-once"))
	assert.Equal(t, uint64(2), env.StatRestarts.Load())
	assert.Equal(t, uint64(0), env.StatCrashes.Load())
}

func TestRetryTwice(t *testing.T) {
	env := makeExecutor(t, testConfig(t, InputFile, 100))
	obs := observer.New("cov", 0)
	outcome, err := env.Execute(context.Background(), []byte("retry"), obs)
	require.NoError(t, err)
	assert.Equal(t, Crashed, outcome)
	// Nothing of the aborted runs is reported, not even the pid unit.
	assert.Empty(t, obs.Snapshot())
	assert.Equal(t, uint64(2), env.StatRestarts.Load())
	assert.Equal(t, uint64(1), env.StatCrashes.Load())
	assert.Equal(t, Faulted, env.State())
}

func TestCoverOverflow(t *testing.T) {
	cfg := testConfig(t, InputShmem, 100)
	cfg.CoverSize = 4
	env := makeExecutor(t, cfg)
	obs := observer.New("cov", 0)
	outcome, err := env.Execute(context.Background(), []byte("0123456789"), obs)
	require.NoError(t, err)
	assert.Equal(t, Normal, outcome)
	assert.Len(t, obs.Snapshot(), 4)
}

func TestLaunchError(t *testing.T) {
	cfg := testConfig(t, InputFile, 1)
	cfg.Target = "/nonexistent/target"
	env := makeExecutor(t, cfg)
	_, err := env.Execute(context.Background(), []byte("a"), observer.New("cov", 0))
	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr), "got %v", err)
	assert.Equal(t, Faulted, env.State())

	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("no /bin/true")
	}
	// A target that exits without speaking the protocol.
	cfg = testConfig(t, InputFile, 1)
	cfg.Target = "/bin/true"
	env = makeExecutor(t, cfg)
	_, err = env.Execute(context.Background(), []byte("a"), observer.New("cov", 0))
	require.True(t, errors.As(err, &launchErr), "got %v", err)
}

func TestLaunchEarlyExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	cfg := testConfig(t, InputFile, 1)
	cfg.Target = "/bin/sh"
	cfg.TargetArgs = []string{"-c", "echo boom-output >&2; exit 3"}
	env := makeExecutor(t, cfg)
	start := time.Now()
	_, err := env.Execute(context.Background(), []byte("a"), observer.New("cov", 0))
	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr), "got %v", err)
	// Death of the target is noticed long before the minute of handshake timeout.
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.Contains(t, string(launchErr.Output), "boom-output")
	assert.Contains(t, err.Error(), "handshake failed")
	assert.Equal(t, Faulted, env.State())
}

func TestBadConfig(t *testing.T) {
	cfg := testConfig(t, InputFile, 1)
	cfg.Timeout = 0
	_, err := New(cfg)
	assert.Error(t, err)
	cfg = testConfig(t, InputFile, 1)
	cfg.Target = ""
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	cfg := &Config{
		Instrumenter:   "litecov",
		InstrumentArgs: []string{"-instrument_module", "test.exe"},
		Target:         "test.exe",
		TargetArgs:     []string{"-f", "@@"},
		Persistent:     Persistent{Module: "test.exe", Entry: "fuzz", NArgs: 1},
		Iterations:     10000,
	}
	assert.Equal(t, []string{
		"litecov", "-instrument_module", "test.exe",
		"-target_module", "test.exe", "-target_method", "fuzz", "-nargs", "1",
		"-iterations", "10000", "-persist", "-loop",
		"--", "test.exe", "-f", "/tmp/input",
	}, cfg.Args("/tmp/input"))

	cfg = &Config{
		Target:     "target",
		TargetArgs: []string{"--input=@@"},
	}
	assert.Equal(t, []string{"target", "--input=/dev/fd/6"}, cfg.Args("/dev/fd/6"))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "crashed", Crashed.String())
	assert.Equal(t, "timed out", TimedOut.String())
	assert.True(t, TimedOut.Fault())
	assert.False(t, Normal.Fault())
	assert.Equal(t, "collecting", Collecting.String())
}

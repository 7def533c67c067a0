// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

type Config struct {
	// Instance name (used in logs and as the prefix of mirrored solutions).
	Name string `json:"name,omitempty"`
	// Location of a working directory for the fuzzer. Outputs here include:
	// - <workdir>/corpus/*: inputs that produced new coverage
	// - <workdir>/crashes/*: inputs that satisfied the objective
	// Several fuzzer processes may share one workdir.
	Workdir string `json:"workdir"`
	// Address to serve the monitoring web interface on (e.g. "localhost:56741"), optional.
	HTTP string `json:"http,omitempty"`

	// How to start the target.
	Target Target `json:"target"`
	// Persistent mode parameters.
	Persistent Persistent `json:"persistent"`
	// Execution timeout for a single input (e.g. "5s").
	Timeout Duration `json:"timeout"`
	// Time to wait for a freshly started target to become ready.
	HandshakeTimeout Duration `json:"handshake_timeout"`
	// Capacity of the coverage region in units.
	CoverSize int `json:"cover_size"`
	// Maximum input size. Also the size of the shared memory input region.
	MaxInputSize int `json:"max_input_size"`

	// Files or directories with initial inputs. At least one seed is required
	// to start fuzzing with an empty corpus.
	Seeds []string `json:"seeds,omitempty"`
	// Literal initial inputs, e.g. "bad".
	SeedInputs []string `json:"seed_inputs,omitempty"`
	// Number of corpus inputs kept in memory.
	CacheSize int `json:"cache_size"`

	// Corpus scheduling policy: "rand" or "queue".
	Scheduler string `json:"scheduler"`
	// Havoc operators to use (all by default), plus "splice".
	Mutators []string `json:"mutators,omitempty"`
	// YAML dictionary with tokens for the token mutators.
	Dict string `json:"dict,omitempty"`
	// Maximum number of candidates produced from one corpus input.
	MaxCandidates int `json:"max_candidates"`
	// Maximum number of mutators stacked to produce one candidate.
	MaxStack int `json:"max_stack"`

	// What counts as a found bug: "crash" or "crash_or_timeout".
	Objective string `json:"objective"`
	// Also add crashing inputs with new coverage to the corpus.
	KeepCrashInCorpus bool `json:"keep_crash_in_corpus"`

	// Seed of the random generator, 0 means random.
	RandSeed int64 `json:"rand_seed,omitempty"`
	// Stop after that many executions (0 means no limit).
	MaxExecs uint64 `json:"max_execs,omitempty"`
	// Stop after that much time (0 means no limit).
	MaxDuration Duration `json:"max_duration,omitempty"`
	// How often to report statistics.
	StatsPeriod Duration `json:"stats_period"`
	// How often to pick up inputs written to the workdir by other fuzzer processes.
	SyncPeriod Duration `json:"sync_period"`

	// GCS bucket (with optional path) to mirror solutions to, optional.
	GCSBucket string `json:"gcs_bucket,omitempty"`

	// Show target output.
	Debug bool `json:"debug,omitempty"`

	// Implementation details beyond this point.
	CorpusDir  string `json:"-"`
	CrashesDir string `json:"-"`
}

type Target struct {
	// Instrumentation engine binary, optional for targets that link the harness.
	Instrumenter string `json:"instrumenter,omitempty"`
	// Arguments for the instrumenter, e.g. ["-instrument_module", "target.exe"].
	InstrumentArgs []string `json:"instrument_args,omitempty"`
	// Target binary.
	Target string `json:"target"`
	// Target arguments. "@@" is replaced with the input location.
	TargetArgs []string `json:"target_args,omitempty"`
	// How the input is delivered: "file" or "shmem".
	InputMode string `json:"input_mode"`
}

type Persistent struct {
	// Module and function inside of the target to loop on.
	Module string `json:"module,omitempty"`
	Entry  string `json:"entry,omitempty"`
	// Number of arguments of the entry function.
	NArgs int `json:"nargs,omitempty"`
	// Number of inputs a single target process serves before it is restarted.
	// 1 disables persistent mode.
	Iterations int `json:"iterations"`
}

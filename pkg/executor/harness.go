// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

// Harness is the target side of the protocol. Go targets can link it directly
// instead of running under an instrumenter: the target function reports
// coverage with Record.
type Harness struct {
	Iterations int

	ctrl      *os.File
	status    *os.File
	cover     []byte
	capacity  uint64
	count     uint64
	input     []byte
	inputFile string
}

// HarnessFunc runs one input. It returns true if the harness itself detected a crash.
type HarnessFunc func(h *Harness, input []byte) (crashed bool)

// OpenHarness attaches to the descriptors and environment set up by the executor.
func OpenHarness() (*Harness, error) {
	coverSize, err := strconv.Atoi(os.Getenv(EnvCoverSize))
	if err != nil || coverSize <= 0 {
		return nil, fmt.Errorf("bad %v=%q", EnvCoverSize, os.Getenv(EnvCoverSize))
	}
	h := &Harness{
		ctrl:      os.NewFile(ctrlFd, "ctrl"),
		status:    os.NewFile(statusFd, "status"),
		capacity:  uint64(coverSize),
		inputFile: os.Getenv(EnvInputFile),
	}
	h.cover, err = osutil.MapSharedFile(os.NewFile(coverFd, "cover"), coverRegionSize(coverSize))
	if err != nil {
		return nil, err
	}
	if val := os.Getenv(EnvInputSize); val != "" {
		inputSize, err := strconv.Atoi(val)
		if err != nil || inputSize <= 0 {
			return nil, fmt.Errorf("bad %v=%q", EnvInputSize, val)
		}
		h.input, err = osutil.MapSharedFile(os.NewFile(inputFd, "input"), inputSize)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Record appends a coverage unit for the current run.
// It writes straight into the shared region, so units recorded before a crash are not lost.
func (h *Harness) Record(unit uint64) {
	if h.count >= h.capacity {
		return
	}
	binary.LittleEndian.PutUint64(h.cover[coverHeader+h.count*coverUnit:], unit)
	h.count++
	binary.LittleEndian.PutUint64(h.cover, h.count)
}

// Serve handshakes with the executor and then runs inputs until the executor goes away.
func (h *Harness) Serve(fn HarnessFunc) error {
	req := new(handshakeReq)
	if err := req.read(h.ctrl); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	h.Iterations = int(req.iterations)
	if req.flags&flagShmemInput != 0 && h.input == nil {
		return fmt.Errorf("executor wants shared memory input, but there is no input region")
	}
	if _, err := h.status.Write((&handshakeReply{magic: outMagic}).marshal()); err != nil {
		return err
	}
	for {
		req := new(executeReq)
		if err := req.read(h.ctrl); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input, err := h.readInput(req.size)
		if err != nil {
			return err
		}
		h.count = 0
		resetCover(h.cover)
		reply := &executeReply{magic: outMagic, status: statusOK}
		if fn(h, input) {
			reply.status = statusCrash
		}
		if _, err := h.status.Write(reply.marshal()); err != nil {
			return err
		}
	}
}

func (h *Harness) readInput(size uint64) ([]byte, error) {
	if h.input != nil {
		if size > uint64(len(h.input)) {
			return nil, fmt.Errorf("input size %v exceeds the input region %v", size, len(h.input))
		}
		return append([]byte{}, h.input[:size]...), nil
	}
	data, err := os.ReadFile(h.inputFile)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("input file has %v bytes, want %v", len(data), size)
	}
	return data, nil
}

// RetryExit terminates the harness asking the executor to restart it without reporting a crash.
func RetryExit() {
	os.Exit(exitRetry)
}

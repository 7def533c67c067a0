// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

// command is a single target process.
type command struct {
	cfg      *Config
	cmd      *exec.Cmd
	ctrl     *os.File // executor->harness
	status   *os.File // harness->executor
	readDone chan []byte
	exited   chan struct{}
}

type execResult struct {
	status uint32
	hanged bool
	err    error
}

func makeCommand(ctx context.Context, cfg *Config, env []string, inputPath string,
	coverFile, inFile *os.File) (*command, error) {
	args := cfg.Args(inputPath)
	c := &command{
		cfg:      cfg,
		readDone: make(chan []byte, 1),
		exited:   make(chan struct{}),
	}
	defer func() {
		if c != nil {
			c.close()
		}
	}()
	launchErr := func(err error) error {
		return &LaunchError{Args: args, Err: err}
	}

	// Output capture pipe.
	rp, wp, err := osutil.LongPipe()
	if err != nil {
		return nil, launchErr(err)
	}
	defer wp.Close()

	// executor->harness control pipe.
	ctrlR, ctrlW, err := os.Pipe()
	if err != nil {
		rp.Close()
		return nil, launchErr(fmt.Errorf("failed to create pipe: %w", err))
	}
	defer ctrlR.Close()
	c.ctrl = ctrlW

	// harness->executor status pipe.
	statusR, statusW, err := os.Pipe()
	if err != nil {
		rp.Close()
		return nil, launchErr(fmt.Errorf("failed to create pipe: %w", err))
	}
	defer statusW.Close()
	c.status = statusR

	cmd := osutil.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Dir = cfg.Dir
	cmd.ExtraFiles = []*os.File{ctrlR, statusW, coverFile}
	if inFile != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, inFile)
	}
	if cfg.Debug {
		rp.Close()
		close(c.readDone)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = wp
		cmd.Stderr = wp
		go func(c *command) {
			// Read out output in case the target constantly prints something.
			const bufSize = 128 << 10
			output := make([]byte, bufSize)
			var size uint64
			for {
				n, err := rp.Read(output[size:])
				if n > 0 {
					size += uint64(n)
					if size >= bufSize*3/4 {
						copy(output, output[size-bufSize/2:size])
						size = bufSize / 2
					}
				}
				if err != nil {
					rp.Close()
					c.readDone <- output[:size]
					close(c.readDone)
					return
				}
			}
		}(c)
	}
	if err := cmd.Start(); err != nil {
		return nil, launchErr(fmt.Errorf("failed to start target: %w", err))
	}
	c.cmd = cmd
	// Our copies of the child's pipe ends must be closed, otherwise we never get
	// EOF on output/status when the child exits before the handshake.
	wp.Close()
	statusW.Close()
	ctrlR.Close()

	if err := c.handshake(ctx); err != nil {
		return nil, &LaunchError{
			Args:   args,
			Err:    fmt.Errorf("handshake failed: %w", err),
			Output: c.kill(),
		}
	}
	tmp := c
	c = nil // disable defer above
	return tmp, nil
}

// handshake sends handshakeReq and waits for handshakeReply (instrumentation setup can take significant time).
func (c *command) handshake(ctx context.Context) error {
	req := &handshakeReq{
		magic:      inMagic,
		iterations: uint64(c.cfg.Iterations),
	}
	if c.cfg.InputMode == InputShmem {
		req.flags |= flagShmemInput
	}
	if c.cfg.Iterations > 1 {
		req.flags |= flagPersistent
	}
	if _, err := c.ctrl.Write(req.marshal()); err != nil {
		return fmt.Errorf("failed to write control pipe: %w", err)
	}
	read := make(chan error, 1)
	go func() {
		reply := new(handshakeReply)
		read <- reply.read(c.status)
	}()
	timeout := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timeout.Stop()
	select {
	case err := <-read:
		return err
	case <-timeout.C:
		return fmt.Errorf("not serving after %v", c.cfg.HandshakeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec triggers one run of the harness and waits for its completion, but no longer than timeout.
func (c *command) exec(size int, timeout time.Duration) execResult {
	req := &executeReq{
		magic: inMagic,
		size:  uint64(size),
	}
	if _, err := c.ctrl.Write(req.marshal()); err != nil {
		return execResult{err: fmt.Errorf("failed to write control pipe: %w", err)}
	}
	// At this point the input is executing.

	done := make(chan bool)
	hang := make(chan bool)
	go func() {
		t := time.NewTimer(timeout)
		select {
		case <-t.C:
			osutil.KillPgroup(c.cmd)
			hang <- true
		case <-done:
			t.Stop()
			hang <- false
		}
	}()
	reply := new(executeReply)
	err := reply.read(c.status)
	close(done)
	return execResult{
		status: reply.status,
		hanged: <-hang,
		err:    err,
	}
}

// kill terminates the process group, reaps the process and returns its output.
func (c *command) kill() []byte {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	osutil.KillPgroup(c.cmd)
	c.wait()
	select {
	case output := <-c.readDone:
		return output
	case <-time.After(time.Second):
		// Somebody outside of the process group holds the output pipe.
		return nil
	}
}

func (c *command) exitStatus() int {
	if c.cmd == nil || c.cmd.ProcessState == nil {
		return -1
	}
	return osutil.ProcessExitStatus(c.cmd.ProcessState)
}

func (c *command) wait() error {
	select {
	case <-c.exited:
		// c.exited closed by an earlier call to wait.
		return nil
	default:
	}
	err := c.cmd.Wait()
	close(c.exited)
	return err
}

func (c *command) close() {
	if c.ctrl != nil {
		c.ctrl.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		osutil.KillPgroup(c.cmd)
		c.wait()
	}
	if c.status != nil {
		c.status.Close()
	}
}

// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The harness protocol. The harness is the code running inside of the target
// process (injected by the instrumenter or linked into the target).
// It inherits the following descriptors:
//
//	fd 3: control pipe, executor -> harness (handshakeReq, executeReq)
//	fd 4: status pipe, harness -> executor (handshakeReply, executeReply)
//	fd 5: coverage region, [u64 count][u64 unit]*
//	fd 6: input region (shared memory input mode only)
//
// All integers are little-endian.
const (
	ctrlFd   = 3
	statusFd = 4
	coverFd  = 5
	inputFd  = 6

	inMagic  = uint64(0xbadc0ffeebadface)
	outMagic = uint32(0xbadf00d)

	statusOK    = 0
	statusCrash = 1

	// Exit status of a harness that wants to be restarted without the run being
	// counted as a crash (e.g. it ran out of some temporal resource).
	exitRetry = 69

	coverHeader = 8
	coverUnit   = 8
)

// Environment passed to the harness.
const (
	EnvCoverSize = "TINYFUZZ_COVER_SIZE"
	EnvInputSize = "TINYFUZZ_INPUT_SIZE"
	EnvInputFile = "TINYFUZZ_INPUT_FILE"
)

type handshakeReq struct {
	magic      uint64
	flags      uint64
	iterations uint64
}

type handshakeReply struct {
	magic uint32
}

type executeReq struct {
	magic uint64
	size  uint64
	// input follows in the input file or the input region
}

type executeReply struct {
	magic  uint32
	status uint32
}

const (
	handshakeReqSize   = 24
	handshakeReplySize = 4
	executeReqSize     = 16
	executeReplySize   = 8
)

// Handshake flags.
const (
	flagShmemInput = 1 << iota
	flagPersistent
)

func (req *handshakeReq) marshal() []byte {
	buf := make([]byte, handshakeReqSize)
	binary.LittleEndian.PutUint64(buf[0:], req.magic)
	binary.LittleEndian.PutUint64(buf[8:], req.flags)
	binary.LittleEndian.PutUint64(buf[16:], req.iterations)
	return buf
}

func (req *handshakeReq) read(r io.Reader) error {
	buf := make([]byte, handshakeReqSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	req.magic = binary.LittleEndian.Uint64(buf[0:])
	req.flags = binary.LittleEndian.Uint64(buf[8:])
	req.iterations = binary.LittleEndian.Uint64(buf[16:])
	if req.magic != inMagic {
		return fmt.Errorf("bad handshake magic 0x%x", req.magic)
	}
	return nil
}

func (reply *handshakeReply) marshal() []byte {
	buf := make([]byte, handshakeReplySize)
	binary.LittleEndian.PutUint32(buf, reply.magic)
	return buf
}

func (reply *handshakeReply) read(r io.Reader) error {
	buf := make([]byte, handshakeReplySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	reply.magic = binary.LittleEndian.Uint32(buf)
	if reply.magic != outMagic {
		return fmt.Errorf("bad handshake reply magic 0x%x", reply.magic)
	}
	return nil
}

func (req *executeReq) marshal() []byte {
	buf := make([]byte, executeReqSize)
	binary.LittleEndian.PutUint64(buf[0:], req.magic)
	binary.LittleEndian.PutUint64(buf[8:], req.size)
	return buf
}

func (req *executeReq) read(r io.Reader) error {
	buf := make([]byte, executeReqSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	req.magic = binary.LittleEndian.Uint64(buf[0:])
	req.size = binary.LittleEndian.Uint64(buf[8:])
	if req.magic != inMagic {
		return fmt.Errorf("bad execute request magic 0x%x", req.magic)
	}
	return nil
}

func (reply *executeReply) marshal() []byte {
	buf := make([]byte, executeReplySize)
	binary.LittleEndian.PutUint32(buf[0:], reply.magic)
	binary.LittleEndian.PutUint32(buf[4:], reply.status)
	return buf
}

func (reply *executeReply) read(r io.Reader) error {
	buf := make([]byte, executeReplySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	reply.magic = binary.LittleEndian.Uint32(buf[0:])
	reply.status = binary.LittleEndian.Uint32(buf[4:])
	if reply.magic != outMagic {
		return fmt.Errorf("bad execute reply magic 0x%x", reply.magic)
	}
	return nil
}

func coverRegionSize(units int) int {
	return coverHeader + units*coverUnit
}

// readCover decodes the coverage region. The count written by the harness is
// not trusted and is clamped to the region capacity.
func readCover(region []byte, fn func(unit uint64)) {
	count := binary.LittleEndian.Uint64(region)
	capacity := uint64((len(region) - coverHeader) / coverUnit)
	if count > capacity {
		count = capacity
	}
	for i := uint64(0); i < count; i++ {
		off := coverHeader + i*coverUnit
		fn(binary.LittleEndian.Uint64(region[off:]))
	}
}

func resetCover(region []byte) {
	binary.LittleEndian.PutUint64(region, 0)
}

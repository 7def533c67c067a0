// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
	"github.com/tinyfuzz/tinyfuzz/pkg/gcs"
)

// Uploader stores objects by their full gcs name, *gcs.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, gcsFile string, data []byte) error
}

// Mirror uploads every new solution (and its metadata) to
// <bucket>/<session>/crashes/<sig>. Uploads happen in Run and OnEvent never blocks:
// if the queue is full the solution is only kept locally.
type Mirror struct {
	up     Uploader
	bucket string
	store  corpus.Store
	queue  chan mirrorReq
	logf   func(level int, msg string, args ...any)

	StatUploaded atomic.Uint64
	StatFailed   atomic.Uint64
	StatDropped  atomic.Uint64
}

type mirrorReq struct {
	session string
	id      corpus.ID
}

const mirrorQueueSize = 256

func NewMirror(up Uploader, bucket string, store corpus.Store, logf func(int, string, ...any)) *Mirror {
	if logf == nil {
		logf = func(int, string, ...any) {}
	}
	return &Mirror{
		up:     up,
		bucket: bucket,
		store:  store,
		queue:  make(chan mirrorReq, mirrorQueueSize),
		logf:   logf,
	}
}

func (m *Mirror) OnEvent(ev fuzzer.Event) {
	if ev.Kind != fuzzer.EventSolution {
		return
	}
	select {
	case m.queue <- mirrorReq{session: ev.Session, id: ev.ID}:
	default:
		m.StatDropped.Add(1)
		m.logf(0, "mirror: upload queue is full, not uploading solution %v", ev.ID)
	}
}

// Run uploads queued solutions until ctx is cancelled.
// Upload failures are logged and counted, they never stop fuzzing.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.queue:
			if err := m.upload(ctx, req); err != nil {
				m.StatFailed.Add(1)
				m.logf(0, "mirror: failed to upload solution %v: %v", req.id, err)
				continue
			}
			m.StatUploaded.Add(1)
		}
	}
}

func (m *Mirror) upload(ctx context.Context, req mirrorReq) error {
	tc, err := m.store.Get(req.id)
	if err != nil {
		return err
	}
	file := gcs.Join(m.bucket, req.session, "crashes", tc.Sig().String())
	if err := m.up.Upload(ctx, file, tc.Data); err != nil {
		return err
	}
	meta, err := json.Marshal(tc.Meta)
	if err != nil {
		return err
	}
	if err := m.up.Upload(ctx, file+".meta", meta); err != nil {
		return err
	}
	m.logf(1, "mirror: uploaded solution %v to %v", req.id, file)
	return nil
}

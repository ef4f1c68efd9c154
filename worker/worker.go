// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package worker

import (
	"fmt"
	"time"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
)

// idleSleep is how long the loop rests when it has neither in-flight work
// nor a pending control message.
const idleSleep = 150 * time.Millisecond

type opKey struct {
	input  string
	output string
}

type inflight struct {
	key   opKey
	op    Operation
	tid   uint64
	seqno uint32
	index int
}

// Worker is one staging process: a single-threaded cooperative loop that
// drains the control transport and advances its in-flight operations
// round-robin, one block step at a time.
type Worker struct {
	name      string
	world     *cohort.Endpoint
	workers   *cohort.Cohort
	blockSize int64

	ops []*inflight
	rr  int
}

// New returns a Worker bound to its world endpoint. blockSize is the stripe
// block size in bytes and must be a power of two.
func New(world *cohort.Endpoint, blockSize int64) *Worker {
	return &Worker{
		name:      fmt.Sprintf("worker_%03d", world.Rank()),
		world:     world,
		workers:   world.Workers(),
		blockSize: blockSize,
	}
}

// Run executes the worker loop until a shutdown message arrives, then joins
// the cohort exit barrier.
func (w *Worker) Run() {
	audit.Logf("%s: staging process initialized (%d:%d)",
		w.name, w.world.Rank(), w.workers.Rank())

	done := false
	for !done {
		advanced := w.advanceOne()

		msg, ok := w.world.TryRecv()
		if !ok {
			if !advanced {
				time.Sleep(idleSleep)
			}
			continue
		}

		switch msg.Tag {
		case cohort.TagPread, cohort.TagPwrite, cohort.TagSequential:
			m, castOK := msg.Payload.(proto.TransferMessage)
			if !castOK {
				alert.Warnf("%s: malformed transfer payload from rank %d", w.name, msg.Source)
				continue
			}
			w.startOperation(msg.Tag, m)

		case cohort.TagBwShaping:
			m, castOK := msg.Payload.(proto.ShaperMessage)
			if !castOK {
				alert.Warnf("%s: malformed shaper payload from rank %d", w.name, msg.Source)
				continue
			}
			debug.Printf("%s: applying shaping %+d to %d operations", w.name, m.Shaping, len(w.ops))
			for _, f := range w.ops {
				f.op.Shape(m.Shaping)
			}

		case cohort.TagShutdown:
			done = true

		default:
			alert.Warnf("%s: unexpected message tag %s from rank %d", w.name, msg.Tag, msg.Source)
		}
	}

	w.drainForShutdown()

	debug.Printf("%s: entering exit barrier", w.name)
	w.world.ExitBarrier()
}

// advanceOne advances a single in-flight operation by one block step and
// emits the matching status message. It reports whether any work was done.
func (w *Worker) advanceOne() bool {
	if len(w.ops) == 0 {
		return false
	}

	w.rr %= len(w.ops)
	f := w.ops[w.rr]

	next := f.op.Progress(f.index)
	if next < 0 {
		w.emitTerminal(f)
		w.ops = append(w.ops[:w.rr], w.ops[w.rr+1:]...)
		return true
	}

	f.index = next
	if bw := f.op.BW(); bw > 0 {
		w.sendStatus(proto.StatusMessage{
			TID:   f.tid,
			Seqno: f.seqno,
			State: cargo.StateRunning,
			BW:    bw,
		})
	}
	w.rr++
	return true
}

func (w *Worker) startOperation(tag cohort.Tag, m proto.TransferMessage) {
	debug.Printf("%s: transfer request received: %s (%s)", w.name, m, tag)

	op := makeOperation(tag, w.workers, m, w.blockSize)
	if op == nil {
		alert.Warnf("%s: no operation for tag %s", w.name, tag)
		return
	}

	f := &inflight{
		key:   opKey{input: m.InputPath, output: m.OutputPath},
		op:    op,
		tid:   m.TID,
		seqno: m.Seqno,
	}

	if ec := op.Setup(); ec != cargo.TransferInProgress && !ec.OK() {
		alert.Warnf("%s: setup failed for %s: %s", w.name, m, ec.Name())
		w.sendStatus(proto.StatusMessage{
			TID:   f.tid,
			Seqno: f.seqno,
			State: cargo.StateFailed,
			Error: &ec,
		})
		return
	}

	w.ops = append(w.ops, f)
}

func (w *Worker) emitTerminal(f *inflight) {
	ec := f.op.Status()
	if ec.OK() {
		audit.Logf("%s: transfer finished: %s -> %s", w.name, f.key.input, f.key.output)
		w.sendStatus(proto.StatusMessage{
			TID:   f.tid,
			Seqno: f.seqno,
			State: cargo.StateCompleted,
			BW:    f.op.BW(),
		})
		return
	}

	alert.Warnf("%s: transfer failed: %s -> %s: %s", w.name, f.key.input, f.key.output, ec.Name())
	w.sendStatus(proto.StatusMessage{
		TID:   f.tid,
		Seqno: f.seqno,
		State: cargo.StateFailed,
		BW:    f.op.BW(),
		Error: &ec,
	})
}

// drainForShutdown fails over whatever is still in flight. Operations are
// not advanced further; each emits a terminal status derived from the
// shutdown so the coordinator's bookkeeping converges.
func (w *Worker) drainForShutdown() {
	for _, f := range w.ops {
		ec := cargo.MakeTransportError(cohort.ErrCodeShutdown)
		w.sendStatus(proto.StatusMessage{
			TID:   f.tid,
			Seqno: f.seqno,
			State: cargo.StateFailed,
			Error: &ec,
		})
	}
	w.ops = nil
}

func (w *Worker) sendStatus(m proto.StatusMessage) {
	if err := w.world.Send(0, cohort.TagStatus, m); err != nil {
		debug.Printf("%s: status send failed: %v", w.name, err)
	}
}

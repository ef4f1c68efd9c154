// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package worker implements the staging worker: the per-file transfer
// operations and the cooperative loop that advances them.
package worker

import (
	"sync/atomic"
	"time"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
)

// throttleQuantum is the per-unit sleep applied after each block step when a
// positive throttle is set.
const throttleQuantum = 100 * time.Millisecond

// Operation is one in-flight file transfer on a worker. The three kinds
// (parallel read, parallel write, sequential) share this surface; per-kind
// state lives in the concrete type.
//
// The lifecycle is: Setup once, then Progress(index) repeatedly with the
// index returned by the previous call, until it returns a negative index.
// Status then holds the final outcome.
type Operation interface {
	// Setup opens handles, sizes buffers and, for parallel reads, runs the
	// collective read phase. It returns TransferInProgress when the
	// operation is ready to progress; any other return is terminal.
	Setup() cargo.ErrorCode
	// Progress performs exactly one block transfer and returns the next
	// index, or -1 once the operation is terminal.
	Progress(ongoing int) int
	// Status returns the operation's current status code.
	Status() cargo.ErrorCode
	// BW returns the instantaneous bandwidth of the last block step, in
	// MiB/s.
	BW() float32
	// Shape adds a signed delta to the operation's throttle.
	Shape(delta int16)
}

// makeOperation constructs the operation for a dispatch tag.
func makeOperation(tag cohort.Tag, workers *cohort.Cohort, m proto.TransferMessage, blockSize int64) Operation {
	switch tag {
	case cohort.TagPread:
		return newPreadOp(workers, m, blockSize)
	case cohort.TagPwrite:
		return newPwriteOp(workers, m, blockSize)
	case cohort.TagSequential:
		return newSeqOp(workers, m, blockSize)
	default:
		return nil
	}
}

// opState carries the fields every operation kind shares.
type opState struct {
	workers    *cohort.Cohort
	inputPath  string
	outputPath string
	blockSize  int64

	status   cargo.ErrorCode
	bw       float32
	throttle int32
}

func (o *opState) Status() cargo.ErrorCode {
	return o.status
}

func (o *opState) BW() float32 {
	return o.bw
}

func (o *opState) Shape(delta int16) {
	atomic.AddInt32(&o.throttle, int32(delta))
}

// measure updates the instantaneous bandwidth after one block step.
func (o *opState) measure(start time.Time) {
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		o.bw = float32(float64(o.blockSize) / (1024.0 * 1024.0) / elapsed)
	}
}

// throttleSleep applies the current shaping. A throttle at or below zero
// sleeps not at all.
func (o *opState) throttleSleep() {
	t := atomic.LoadInt32(&o.throttle)
	if t <= 0 {
		return
	}
	time.Sleep(time.Duration(t) * throttleQuantum)
}

func (o *opState) fail(ec cargo.ErrorCode) cargo.ErrorCode {
	o.status = ec
	return ec
}

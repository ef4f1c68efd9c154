// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package worker

import (
	"time"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/debug"
	"golang.org/x/sys/unix"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/backend"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/pario"
	"github.com/admire-eurohpc/cargo/proto"
	"github.com/admire-eurohpc/cargo/stripe"
)

// pwriteOp stages a file from a local backend to a parallel one: one local
// block read per progress step, accumulating into a contiguous buffer, then
// a collective strided write once the view is exhausted.
type pwriteOp struct {
	opState

	inputKind  cargo.DatasetKind
	outputKind cargo.DatasetKind

	view   *stripe.View
	buffer []byte

	in   backend.Backend
	inFd int
}

func newPwriteOp(workers *cohort.Cohort, m proto.TransferMessage, blockSize int64) *pwriteOp {
	return &pwriteOp{
		opState: opState{
			workers:    workers,
			inputPath:  m.InputPath,
			outputPath: m.OutputPath,
			blockSize:  blockSize,
		},
		inputKind:  m.InputKind,
		outputKind: m.OutputKind,
	}
}

func (o *pwriteOp) Setup() cargo.ErrorCode {
	o.status = cargo.TransferInProgress

	src, err := backend.Get(o.inputKind)
	if err != nil {
		alert.Warnf("pwrite %s: no source backend: %v", o.inputPath, err)
		return o.fail(cargo.Snafu)
	}

	size, err := src.Size(o.inputPath)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	fd, err := src.Open(o.inputPath, unix.O_RDONLY, 0)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	o.in = src
	o.inFd = fd
	o.view = stripe.NewView(size, o.blockSize, o.workers.Size(), o.workers.Rank())
	o.buffer = make([]byte, int64(o.view.BlocksOwned())*o.blockSize)

	debug.Printf("pwrite %s -> %s: %d blocks for rank %d/%d",
		o.inputPath, o.outputPath, o.view.BlocksOwned(), o.workers.Rank(), o.workers.Size())
	return o.status
}

func (o *pwriteOp) Progress(ongoing int) int {
	rng, ok := o.view.At(ongoing)
	if !ok {
		// Local phase done; run the collective write.
		o.finish(o.collectiveWrite())
		return -1
	}

	slot := o.buffer[int64(ongoing)*o.blockSize : int64(ongoing)*o.blockSize+rng.Len]

	start := time.Now()
	if _, err := o.in.Pread(o.inFd, slot, rng.Offset); err != nil {
		alert.Warnf("pwrite %s: pread failed: %v", o.inputPath, err)
		o.finish(cargo.ErrorFromGo(err))
		return -1
	}
	o.measure(start)
	o.throttleSleep()

	return ongoing + 1
}

func (o *pwriteOp) collectiveWrite() cargo.ErrorCode {
	dst, err := backend.Get(o.outputKind)
	if err != nil {
		alert.Warnf("pwrite %s: no target backend: %v", o.outputPath, err)
		return cargo.Snafu
	}

	out, err := pario.OpenAll(o.workers, dst, o.outputPath, pario.ModeCreateWronly)
	if err != nil {
		return cargo.ErrorFromGo(err)
	}
	defer out.CloseAll()

	if err := out.WriteAll(o.buffer, o.view); err != nil {
		return cargo.ErrorFromGo(err)
	}
	return cargo.Success
}

func (o *pwriteOp) finish(ec cargo.ErrorCode) {
	if o.in != nil {
		if err := o.in.Close(o.inFd); err != nil && ec.OK() {
			ec = cargo.ErrorFromGo(err)
		}
		o.in = nil
	}
	o.status = ec
}

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

// preadOp stages a file from a parallel backend to a local one: a collective
// strided read into a contiguous buffer during setup, then one local block
// write per progress step.
type preadOp struct {
	opState

	inputKind  cargo.DatasetKind
	outputKind cargo.DatasetKind

	view   *stripe.View
	buffer []byte

	out   backend.Backend
	outFd int
}

func newPreadOp(workers *cohort.Cohort, m proto.TransferMessage, blockSize int64) *preadOp {
	return &preadOp{
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

func (o *preadOp) Setup() cargo.ErrorCode {
	o.status = cargo.TransferInProgress

	src, err := backend.Get(o.inputKind)
	if err != nil {
		alert.Warnf("pread %s: no source backend: %v", o.inputPath, err)
		return o.fail(cargo.Snafu)
	}
	dst, err := backend.Get(o.outputKind)
	if err != nil {
		alert.Warnf("pread %s: no target backend: %v", o.outputPath, err)
		return o.fail(cargo.Snafu)
	}

	in, err := pario.OpenAll(o.workers, src, o.inputPath, pario.ModeRdonly)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}
	defer in.CloseAll()

	size, err := in.Size()
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	o.view = stripe.NewView(size, o.blockSize, o.workers.Size(), o.workers.Rank())
	o.buffer = make([]byte, int64(o.view.BlocksOwned())*o.blockSize)

	// Collective phase: every rank pulls its striped blocks in one call.
	if err := in.ReadAll(o.buffer, o.view); err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	fd, err := dst.Open(o.outputPath, unix.O_WRONLY|unix.O_CREAT, unix.S_IRUSR|unix.S_IWUSR)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}
	if err := dst.Fallocate(fd, 0, 0, size); err != nil {
		dst.Close(fd)
		return o.fail(cargo.ErrorFromGo(err))
	}

	o.out = dst
	o.outFd = fd
	debug.Printf("pread %s -> %s: %d blocks for rank %d/%d",
		o.inputPath, o.outputPath, o.view.BlocksOwned(), o.workers.Rank(), o.workers.Size())
	return o.status
}

func (o *preadOp) Progress(ongoing int) int {
	rng, ok := o.view.At(ongoing)
	if !ok {
		o.finish(cargo.Success)
		return -1
	}

	slot := o.buffer[int64(ongoing)*o.blockSize : int64(ongoing)*o.blockSize+rng.Len]

	start := time.Now()
	if _, err := o.out.Pwrite(o.outFd, slot, rng.Offset); err != nil {
		alert.Warnf("pread %s: pwrite failed: %v", o.outputPath, err)
		o.finish(cargo.ErrorFromGo(err))
		return -1
	}
	o.measure(start)
	o.throttleSleep()

	return ongoing + 1
}

func (o *preadOp) finish(ec cargo.ErrorCode) {
	if o.out != nil {
		if err := o.out.Close(o.outFd); err != nil && ec.OK() {
			ec = cargo.ErrorFromGo(err)
		}
		o.out = nil
	}
	o.status = ec
}

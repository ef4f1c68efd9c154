// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package worker

import (
	"time"

	"github.com/intel-hpdd/logging/alert"
	"golang.org/x/sys/unix"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/backend"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
	"github.com/admire-eurohpc/cargo/stripe"
)

// seqOp copies a file between two non-parallel backends block by block, one
// pread/pwrite pair per progress step. The file is still striped across the
// cohort: each rank serves its own subset of blocks and ranks that own no
// blocks complete immediately.
type seqOp struct {
	opState

	inputKind  cargo.DatasetKind
	outputKind cargo.DatasetKind

	view  *stripe.View
	block []byte

	in    backend.Backend
	inFd  int
	out   backend.Backend
	outFd int
}

func newSeqOp(workers *cohort.Cohort, m proto.TransferMessage, blockSize int64) *seqOp {
	return &seqOp{
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

func (o *seqOp) Setup() cargo.ErrorCode {
	o.status = cargo.TransferInProgress

	src, err := backend.Get(o.inputKind)
	if err != nil {
		alert.Warnf("sequential %s: no source backend: %v", o.inputPath, err)
		return o.fail(cargo.Snafu)
	}
	dst, err := backend.Get(o.outputKind)
	if err != nil {
		alert.Warnf("sequential %s: no target backend: %v", o.outputPath, err)
		return o.fail(cargo.Snafu)
	}

	size, err := src.Size(o.inputPath)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	inFd, err := src.Open(o.inputPath, unix.O_RDONLY, 0)
	if err != nil {
		return o.fail(cargo.ErrorFromGo(err))
	}

	outFd, err := dst.Open(o.outputPath, unix.O_WRONLY|unix.O_CREAT, unix.S_IRUSR|unix.S_IWUSR)
	if err != nil {
		src.Close(inFd)
		return o.fail(cargo.ErrorFromGo(err))
	}
	if err := dst.Fallocate(outFd, 0, 0, size); err != nil {
		src.Close(inFd)
		dst.Close(outFd)
		return o.fail(cargo.ErrorFromGo(err))
	}

	o.in, o.inFd = src, inFd
	o.out, o.outFd = dst, outFd
	o.view = stripe.NewView(size, o.blockSize, o.workers.Size(), o.workers.Rank())
	o.block = make([]byte, o.blockSize)
	return o.status
}

func (o *seqOp) Progress(ongoing int) int {
	rng, ok := o.view.At(ongoing)
	if !ok {
		o.finish(cargo.Success)
		return -1
	}

	slot := o.block[:rng.Len]

	start := time.Now()
	if _, err := o.in.Pread(o.inFd, slot, rng.Offset); err != nil {
		alert.Warnf("sequential %s: pread failed: %v", o.inputPath, err)
		o.finish(cargo.ErrorFromGo(err))
		return -1
	}
	if _, err := o.out.Pwrite(o.outFd, slot, rng.Offset); err != nil {
		alert.Warnf("sequential %s: pwrite failed: %v", o.outputPath, err)
		o.finish(cargo.ErrorFromGo(err))
		return -1
	}
	o.measure(start)
	o.throttleSleep()

	return ongoing + 1
}

func (o *seqOp) finish(ec cargo.ErrorCode) {
	if o.in != nil {
		o.in.Close(o.inFd)
		o.in = nil
	}
	if o.out != nil {
		if err := o.out.Close(o.outFd); err != nil && ec.OK() {
			ec = cargo.ErrorFromGo(err)
		}
		o.out = nil
	}
	o.status = ec
}

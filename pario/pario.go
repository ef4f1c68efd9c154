// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pario provides the cohort-collective file operations used by the
// striped transfer paths. Every worker in a cohort must enter the collective
// open/read/write/close calls in the same total order; the ordering is
// enforced with the cohort's barrier.
package pario

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/admire-eurohpc/cargo/backend"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/stripe"
)

// File open modes for collective opens.
const (
	ModeRdonly = iota
	ModeCreateWronly
)

// File is one rank's handle on a collectively opened file.
type File struct {
	cohort *cohort.Cohort
	be     backend.Backend
	path   string
	fd     int
}

// OpenAll collectively opens path on the supplied backend. All cohort
// members must call it; the barrier serializes it against other collectives.
func OpenAll(c *cohort.Cohort, be backend.Backend, path string, mode int) (*File, error) {
	c.Barrier()

	var flags int
	var perm uint32
	switch mode {
	case ModeRdonly:
		flags = unix.O_RDONLY
	case ModeCreateWronly:
		flags = unix.O_WRONLY | unix.O_CREAT
		perm = unix.S_IRUSR | unix.S_IWUSR
	default:
		return nil, errors.Errorf("pario: unknown open mode %d", mode)
	}

	fd, err := be.Open(path, flags, perm)

	// Every rank leaves the open phase together so no rank can race ahead
	// into the I/O phase against a rank whose open failed.
	c.Barrier()
	if err != nil {
		return nil, err
	}
	return &File{cohort: c, be: be, path: path, fd: fd}, nil
}

// Size returns the file's byte count.
func (f *File) Size() (int64, error) {
	return f.be.Size(f.path)
}

// Preallocate reserves size bytes for the file.
func (f *File) Preallocate(size int64) error {
	return f.be.Fallocate(f.fd, 0, 0, size)
}

// ReadAll collectively reads this rank's striped blocks into buf. Block i of
// the view lands at buf[i*blockSize:]. buf must hold BlocksOwned() blocks.
func (f *File) ReadAll(buf []byte, view *stripe.View) error {
	f.cohort.Barrier()
	err := f.readStriped(buf, view)
	f.cohort.Barrier()
	return err
}

// WriteAll collectively writes this rank's striped blocks from buf, the
// mirror of ReadAll.
func (f *File) WriteAll(buf []byte, view *stripe.View) error {
	f.cohort.Barrier()
	err := f.writeStriped(buf, view)
	f.cohort.Barrier()
	return err
}

func (f *File) readStriped(buf []byte, view *stripe.View) error {
	blockSize := view.BlockSize()
	view.Reset()
	for i := 0; ; i++ {
		rng, ok := view.Next()
		if !ok {
			return nil
		}
		slot := buf[int64(i)*blockSize : int64(i)*blockSize+rng.Len]
		if _, err := f.be.Pread(f.fd, slot, rng.Offset); err != nil {
			return errors.Wrapf(err, "collective read %s", f.path)
		}
	}
}

func (f *File) writeStriped(buf []byte, view *stripe.View) error {
	blockSize := view.BlockSize()
	view.Reset()
	for i := 0; ; i++ {
		rng, ok := view.Next()
		if !ok {
			return nil
		}
		slot := buf[int64(i)*blockSize : int64(i)*blockSize+rng.Len]
		if _, err := f.be.Pwrite(f.fd, slot, rng.Offset); err != nil {
			return errors.Wrapf(err, "collective write %s", f.path)
		}
	}
}

// CloseAll collectively closes the file.
func (f *File) CloseAll() error {
	f.cohort.Barrier()
	err := f.be.Close(f.fd)
	f.cohort.Barrier()
	return err
}

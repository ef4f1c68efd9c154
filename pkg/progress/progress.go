// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package progress wraps readers and writers with periodic byte-count
// callbacks. The object-store backend uses it to surface staging progress
// for spool transfers that would otherwise be opaque.
package progress

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/intel-hpdd/logging/alert"
)

type (
	// Func receives the byte count at the last update and the delta since.
	Func func(total, delta int64) error

	// ReaderAtSeeker groups the reader interfaces an upload source must
	// satisfy.
	ReaderAtSeeker interface {
		io.ReaderAt
		io.Reader
		io.Seeker
	}

	updater struct {
		done        chan struct{}
		bytesCopied int64
	}

	// Reader wraps a reader and periodically invokes the supplied
	// callback with progress updates.
	Reader struct {
		updater

		src ReaderAtSeeker
	}

	// WriterAt wraps an io.WriterAt and periodically invokes the supplied
	// callback with progress updates.
	WriterAt struct {
		updater

		dst io.WriterAt
	}
)

// startUpdates launches the updater goroutine. The callback gets the byte
// count at the previous update and the delta accumulated since.
func (u *updater) startUpdates(updateEvery time.Duration, f Func) {
	u.done = make(chan struct{})

	if updateEvery > 0 && f != nil {
		var lastTotal int64
		go func() {
			for {
				select {
				case <-time.After(updateEvery):
					copied := atomic.LoadInt64(&u.bytesCopied)
					if err := f(lastTotal, copied-lastTotal); err != nil {
						alert.Warnf("error received from updater callback: %s", err)
					}
					lastTotal = copied
				case <-u.done:
					return
				}
			}
		}()
	}
}

// StopUpdates kills the updater goroutine.
func (u *updater) StopUpdates() {
	u.done <- struct{}{}
}

// Seek calls the wrapped Seeker's Seek.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	return r.src.Seek(offset, whence)
}

// Read calls the wrapped Read and tracks how many bytes were read.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.src.Read(p)
	atomic.AddInt64(&r.bytesCopied, int64(n))
	return
}

// NewReader returns a new *Reader.
func NewReader(src ReaderAtSeeker, updateEvery time.Duration, f Func) *Reader {
	r := &Reader{src: src}
	r.startUpdates(updateEvery, f)
	return r
}

// WriteAt writes len(p) bytes at offset off and tracks how many bytes were
// written.
func (w *WriterAt) WriteAt(p []byte, off int64) (int, error) {
	n, err := w.dst.WriteAt(p, off)
	atomic.AddInt64(&w.bytesCopied, int64(n))
	return n, err
}

// NewWriterAt returns a new *WriterAt.
func NewWriterAt(dst io.WriterAt, updateEvery time.Duration, f Func) *WriterAt {
	w := &WriterAt{dst: dst}
	w.startUpdates(updateEvery, f)
	return w
}

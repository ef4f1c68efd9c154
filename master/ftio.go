// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"sync/atomic"
	"time"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/backend"
)

// quiescenceThreshold is the mtime window FTIO staging uses to skip files a
// producer may still be writing.
const quiescenceThreshold = 5 * time.Second

// ftioPollInterval paces the scheduler while it waits for a trigger. The
// completion poll in waitCompleted runs on its own 150 ms interval.
const ftioPollInterval = time.Second

type deferredTransfer struct {
	tid     uint64
	sources []cargo.Dataset
	targets []cargo.Dataset
}

// ftioScheduler drives deferred staging. It is idle until a transfer has
// been stored while FTIO is armed, then triggers either on a period timer
// or on an explicit run flag.
type ftioScheduler struct {
	s *Server

	stateCh chan ftioState
	storeCh chan *deferredTransfer
	stopCh  chan struct{}
	doneCh  chan struct{}

	armedFlag int32

	st      ftioState
	pending *deferredTransfer
}

type ftioState struct {
	armed       bool
	confidence  float32
	probability float32
	period      float64
	run         bool
}

func newFTIOScheduler(s *Server) *ftioScheduler {
	return &ftioScheduler{
		s:       s,
		stateCh: make(chan ftioState, 1),
		storeCh: make(chan *deferredTransfer, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// arm installs new FTIO parameters. A new call resets a period wait already
// in progress.
func (f *ftioScheduler) arm(conf, prob float32, period float64, run bool) {
	st := ftioState{
		armed:       true,
		confidence:  conf,
		probability: prob,
		period:      period,
		run:         run,
	}
	atomic.StoreInt32(&f.armedFlag, 1)
	select {
	case f.stateCh <- st:
	default:
		// Replace a not-yet-consumed state.
		select {
		case <-f.stateCh:
		default:
		}
		f.stateCh <- st
	}
}

// armed reports whether transfers should currently be deferred.
func (f *ftioScheduler) armed() bool {
	return atomic.LoadInt32(&f.armedFlag) != 0
}

// store hands a deferred transfer to the scheduler.
func (f *ftioScheduler) store(tid uint64, sources, targets []cargo.Dataset) {
	d := &deferredTransfer{tid: tid, sources: sources, targets: targets}
	select {
	case f.storeCh <- d:
	default:
		select {
		case <-f.storeCh:
		default:
		}
		f.storeCh <- d
	}
}

func (f *ftioScheduler) stop() {
	close(f.stopCh)
	<-f.doneCh
}

// run is the scheduler task. Period waits count down in one-second
// decrements so a new FTIO RPC can reset them.
func (f *ftioScheduler) run() {
	defer close(f.doneCh)

	for {
		f.poll()

		select {
		case <-f.stopCh:
			return
		default:
		}

		if !f.st.armed || f.pending == nil {
			if !f.sleep(ftioPollInterval) {
				return
			}
			continue
		}

		if f.st.period > 0 {
			if !f.waitPeriod() {
				return
			}
			f.runStored()
			continue
		}

		if f.st.run {
			f.st.run = false
			f.runStored()
			continue
		}
		if !f.sleep(ftioPollInterval) {
			return
		}
	}
}

// poll consumes any newly armed state or stored transfer.
func (f *ftioScheduler) poll() {
	for {
		select {
		case st := <-f.stateCh:
			f.st = st
			debug.Printf("ftio armed: conf=%.2f prob=%.2f period=%.2f run=%v",
				st.confidence, st.probability, st.period, st.run)
		case d := <-f.storeCh:
			f.pending = d
			debug.Printf("ftio stored transfer %d (%d datasets)", d.tid, len(d.sources))
		default:
			return
		}
	}
}

// waitPeriod sleeps the armed period away in one-second steps, restarting
// when a new FTIO RPC arrives. Returns false on shutdown.
func (f *ftioScheduler) waitPeriod() bool {
	remaining := time.Duration(f.st.period * float64(time.Second))
	for remaining > 0 {
		step := time.Second
		if remaining < step {
			step = remaining
		}
		select {
		case <-f.stopCh:
			return false
		case st := <-f.stateCh:
			f.st = st
			if !st.armed {
				return true
			}
			remaining = time.Duration(st.period * float64(time.Second))
			continue
		case <-time.After(step):
			remaining -= step
		}
	}
	return true
}

// runStored executes the deferred transfer: re-expand the stored sources,
// keep only quiescent files, refresh the request record, dispatch, wait for
// completion and finally unlink the staged sources.
func (f *ftioScheduler) runStored() {
	d := f.pending
	f.pending = nil

	sources, targets, err := expandTransfer(d.sources, d.targets)
	if err != nil {
		alert.Warnf("ftio: expanding transfer %d failed: %v", d.tid, err)
		return
	}

	sources, targets = filterQuiescent(sources, targets)
	if len(sources) == 0 {
		debug.Printf("ftio: transfer %d has no quiescent files yet", d.tid)
		// Nothing settled yet; hold the transfer for the next trigger.
		f.pending = d
		return
	}

	if err := f.s.rm.reset(d.tid, len(sources)); err != nil {
		alert.Warnf("ftio: resetting transfer %d failed: %v", d.tid, err)
		return
	}

	audit.Logf("ftio: staging transfer %d (%d files)", d.tid, len(sources))
	if err := f.s.dispatch(d.tid, sources, targets); err != nil {
		alert.Warnf("ftio: dispatching transfer %d failed: %v", d.tid, err)
		return
	}

	if !f.waitCompleted(d.tid) {
		return
	}

	for _, src := range sources {
		be, err := backend.Get(src.Kind)
		if err != nil {
			continue
		}
		if err := be.Unlink(src.Path); err != nil {
			alert.Warnf("ftio: unlink %s failed: %v", src.Path, err)
		}
	}
	audit.Logf("ftio: transfer %d staged and sources unlinked", d.tid)
}

// filterQuiescent drops files whose mtime falls inside the quiescence
// window.
func filterQuiescent(sources, targets []cargo.Dataset) ([]cargo.Dataset, []cargo.Dataset) {
	cutoff := time.Now().Add(-quiescenceThreshold)

	var fs, ft []cargo.Dataset
	for i := range sources {
		be, err := backend.Get(sources[i].Kind)
		if err != nil {
			continue
		}
		fi, err := be.Stat(sources[i].Path)
		if err != nil {
			continue
		}
		if fi.MTime.After(cutoff) {
			debug.Printf("ftio: skipping %s, still settling", sources[i].Path)
			continue
		}
		fs = append(fs, sources[i])
		ft = append(ft, targets[i])
	}
	return fs, ft
}

// waitCompleted polls the request manager until the stage finishes. Returns
// false if shutdown interrupts the wait or the stage failed.
func (f *ftioScheduler) waitCompleted(tid uint64) bool {
	for {
		select {
		case <-f.stopCh:
			return false
		case <-time.After(150 * time.Millisecond):
		}

		st, err := f.s.rm.lookup(tid)
		if err != nil {
			return false
		}
		switch st.State {
		case cargo.StateCompleted:
			return true
		case cargo.StateFailed:
			alert.Warnf("ftio: transfer %d failed", tid)
			return false
		}
	}
}

func (f *ftioScheduler) sleep(d time.Duration) bool {
	select {
	case <-f.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

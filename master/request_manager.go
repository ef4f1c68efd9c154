// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"sync"
	"sync/atomic"

	"github.com/intel-hpdd/logging/alert"
	"github.com/pkg/errors"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/proto"
)

type partStatus struct {
	name  string
	state cargo.TransferState
	bw    float32
	err   *cargo.ErrorCode
}

// update overwrites the cell unless it already reached the terminal
// completed state, which is never reverted.
func (p *partStatus) update(name string, state cargo.TransferState, bw float32, ec *cargo.ErrorCode) {
	if p.state == cargo.StateCompleted {
		return
	}
	p.name = name
	p.state = state
	p.bw = bw
	p.err = ec
}

type fileStatus []partStatus

// requestManager tracks every live transfer as a [nfiles][nworkers] matrix
// of part statuses.
//
// For example:
//
//	request 42 -> file 0 -> worker 0 -> pending
//	                        worker 1 -> pending
//	                        worker 2 -> pending
//	           -> file 1 -> worker 0 -> completed
//	                        worker 1 -> completed
//	                        worker 2 -> running
//
// Readers take the shared side of the lock and are never blocked by each
// other; writers take the exclusive side.
type requestManager struct {
	currentTID uint64

	mu       sync.RWMutex
	requests map[uint64][]fileStatus
	nworkers int
}

func newRequestManager(nworkers int) *requestManager {
	return &requestManager{
		requests: make(map[uint64][]fileStatus),
		nworkers: nworkers,
	}
}

func newMatrix(nfiles, nworkers int) []fileStatus {
	m := make([]fileStatus, nfiles)
	for i := range m {
		m[i] = make(fileStatus, nworkers)
	}
	return m
}

// create allocates a fresh transfer id with an all-pending matrix. The
// duplicate check is defensive; the monotonic counter cannot collide within
// one coordinator lifetime.
func (rm *requestManager) create(nfiles int) (uint64, error) {
	tid := atomic.AddUint64(&rm.currentTID, 1)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.requests[tid]; ok {
		alert.Warnf("create: transfer %d already exists", tid)
		return 0, cargo.Snafu
	}
	rm.requests[tid] = newMatrix(nfiles, rm.nworkers)
	return tid, nil
}

// reset replaces a transfer's matrix with a fresh all-pending one of nfiles
// rows. The FTIO path uses it when a deferred stage re-expands its sources.
func (rm *requestManager) reset(tid uint64, nfiles int) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.requests[tid]; !ok {
		return cargo.NoSuchTransfer
	}
	rm.requests[tid] = newMatrix(nfiles, rm.nworkers)
	return nil
}

// update overwrites the (seqno, wid) cell of transfer tid.
func (rm *requestManager) update(tid uint64, seqno uint32, wid int, name string,
	state cargo.TransferState, bw float32, ec *cargo.ErrorCode) error {

	rm.mu.Lock()
	defer rm.mu.Unlock()

	files, ok := rm.requests[tid]
	if !ok {
		alert.Warnf("update: transfer %d not found", tid)
		return cargo.NoSuchTransfer
	}
	if int(seqno) >= len(files) {
		return errors.Errorf("update: seqno %d out of range for transfer %d", seqno, tid)
	}
	if wid >= len(files[seqno]) {
		return errors.Errorf("update: worker %d out of range for transfer %d", wid, tid)
	}

	files[seqno][wid].update(name, state, bw, ec)
	return nil
}

// lookup scans the matrix in row-major order and returns the first
// non-completed cell, or a synthetic completed status once every cell is
// terminal.
func (rm *requestManager) lookup(tid uint64) (proto.FileStatus, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	files, ok := rm.requests[tid]
	if !ok {
		return proto.FileStatus{}, cargo.NoSuchTransfer
	}

	for _, fs := range files {
		for _, ps := range fs {
			if ps.state == cargo.StateCompleted {
				continue
			}
			return proto.FileStatus{
				Name:  ps.name,
				State: ps.state,
				BW:    ps.bw,
				Error: ps.err,
			}, nil
		}
	}

	return proto.FileStatus{State: cargo.StateCompleted}, nil
}

// lookupAll returns one status per file. Per file, the bandwidth is the
// arithmetic mean across workers, computed now; name, state and error come
// from the first non-completed worker, or any worker once all are complete.
func (rm *requestManager) lookupAll(tid uint64) ([]proto.FileStatus, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	files, ok := rm.requests[tid]
	if !ok {
		return nil, cargo.NoSuchTransfer
	}

	out := make([]proto.FileStatus, 0, len(files))
	for _, fs := range files {
		var sum float32
		for _, ps := range fs {
			sum += ps.bw
		}

		pick := fs[0]
		for _, ps := range fs {
			if ps.state != cargo.StateCompleted {
				pick = ps
				break
			}
		}

		st := proto.FileStatus{
			Name:  pick.name,
			State: pick.state,
			Error: pick.err,
		}
		if len(fs) > 0 {
			st.BW = sum / float32(len(fs))
		}
		out = append(out, st)
	}
	return out, nil
}

// remove erases the transfer record.
func (rm *requestManager) remove(tid uint64) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.requests[tid]; !ok {
		alert.Warnf("remove: transfer %d not found", tid)
		return cargo.NoSuchTransfer
	}
	delete(rm.requests, tid)
	return nil
}

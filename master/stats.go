// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"

	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"
)

// transferStats is a synchronized container of per-transfer statistics.
type transferStats struct {
	sync.Mutex
	stats  map[uint64]*requestStats
	stopCh chan struct{}
	doneCh chan struct{}
}

// requestStats instruments one transfer: how many per-worker file parts are
// still in flight and how long parts take to finish.
type requestStats struct {
	changes   uint64
	inflight  metrics.Counter
	completed metrics.Timer
	started   time.Time
}

func newTransferStats() *transferStats {
	return &transferStats{
		stats:  make(map[uint64]*requestStats),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (ts *transferStats) update() {
	for _, tid := range ts.transfers() {
		rs := ts.getIndex(tid)
		changes := atomic.LoadUint64(&rs.changes)
		if changes != 0 {
			atomic.AddUint64(&rs.changes, -changes)
			audit.Logf("transfer:%d %s", tid, rs)
		}
	}
}

func (ts *transferStats) run() {
	defer close(ts.doneCh)
	for {
		select {
		case <-ts.stopCh:
			debug.Print("shutting down stats collector")
			return
		case <-time.After(10 * time.Second):
			ts.update()
		}
	}
}

// start backgrounds the stats collector.
func (ts *transferStats) start() {
	go ts.run()
	debug.Print("stats collector started in background")
}

func (ts *transferStats) stop() {
	close(ts.stopCh)
	<-ts.doneCh
}

// started counts a dispatched file part.
func (ts *transferStats) started(tid uint64) {
	rs := ts.getIndex(tid)
	rs.inflight.Inc(1)
	atomic.AddUint64(&rs.changes, 1)
}

// finished counts a terminal status for a file part.
func (ts *transferStats) finished(tid uint64) {
	rs := ts.getIndex(tid)
	rs.inflight.Dec(1)
	rs.completed.UpdateSince(rs.started)
	atomic.AddUint64(&rs.changes, 1)
}

func (ts *transferStats) getIndex(tid uint64) *requestStats {
	ts.Lock()
	defer ts.Unlock()
	rs, ok := ts.stats[tid]
	if !ok {
		rs = &requestStats{
			inflight:  metrics.NewCounter(),
			completed: metrics.NewTimer(),
			started:   time.Now(),
		}
		metrics.Register(fmt.Sprintf("transfer%dCompleted", tid), rs.completed)
		metrics.Register(fmt.Sprintf("transfer%dInflight", tid), rs.inflight)
		ts.stats[tid] = rs
	}
	return rs
}

func (ts *transferStats) transfers() (v []uint64) {
	ts.Lock()
	defer ts.Unlock()
	for k := range ts.stats {
		v = append(v, k)
	}
	return
}

func (rs *requestStats) String() string {
	return fmt.Sprintf("total:%v inflight:%v mean:%v max:%v",
		humanize.Comma(rs.completed.Count()),
		humanize.Comma(rs.inflight.Count()),
		time.Duration(int64(rs.completed.Mean())),
		time.Duration(rs.completed.Max()))
}

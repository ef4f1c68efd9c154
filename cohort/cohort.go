// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cohort is the transport connecting the coordinator to its pool of
// staging workers. It carries tagged, rank-addressed messages with a
// non-blocking probe and provides barrier-ordered collectives across the
// worker cohort, while hiding the concrete binding. The canonical binding
// runs every rank inside one process; rank 0 is always the coordinator and
// is excluded from the worker cohort.
package cohort

import (
	"sync"

	"github.com/pkg/errors"
)

// Tag is the message-type tag space shared by the coordinator and workers.
type Tag int

// Message tags.
const (
	TagPread Tag = iota
	TagPwrite
	TagSequential
	TagBwShaping
	TagStatus
	TagShutdown
)

func (t Tag) String() string {
	switch t {
	case TagPread:
		return "pread"
	case TagPwrite:
		return "pwrite"
	case TagSequential:
		return "sequential"
	case TagBwShaping:
		return "bw_shaping"
	case TagStatus:
		return "status"
	case TagShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Transport error codes, carried verbatim in the transport error category.
const (
	ErrCodeClosed   uint32 = 1
	ErrCodeBadRank  uint32 = 2
	ErrCodeShutdown uint32 = 3
)

// ErrClosed is returned once the world has been finalized.
var ErrClosed = errors.New("cohort: world is finalized")

// Message is one tagged payload between two ranks.
type Message struct {
	Source  int
	Tag     Tag
	Payload interface{}
}

type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
}

func (mb *mailbox) push(m Message) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return ErrClosed
	}
	mb.queue = append(mb.queue, m)
	return nil
}

func (mb *mailbox) pop() (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) == 0 {
		return Message{}, false
	}
	m := mb.queue[0]
	mb.queue = mb.queue[1:]
	return m, true
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.queue = nil
	mb.mu.Unlock()
}

// World is the full set of ranks: the coordinator at rank 0 and nworkers
// workers at ranks 1..nworkers.
type World struct {
	size    int
	boxes   []*mailbox
	barrier *barrier
	exit    *barrier
}

// NewWorld creates a world of nworkers staging ranks plus the coordinator.
func NewWorld(nworkers int) *World {
	if nworkers < 1 {
		panic("cohort: need at least one worker")
	}
	w := &World{
		size:    nworkers + 1,
		barrier: newBarrier(nworkers),
		exit:    newBarrier(nworkers + 1),
	}
	w.boxes = make([]*mailbox, w.size)
	for i := range w.boxes {
		w.boxes[i] = &mailbox{}
	}
	return w
}

// Size returns the number of ranks including the coordinator.
func (w *World) Size() int {
	return w.size
}

// NumWorkers returns the size of the worker cohort.
func (w *World) NumWorkers() int {
	return w.size - 1
}

// Endpoint returns the mailbox endpoint for rank.
func (w *World) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= w.size {
		panic(errors.Errorf("cohort: no such rank %d", rank))
	}
	return &Endpoint{world: w, rank: rank}
}

// Finalize closes every mailbox. Messages sent afterwards fail with
// ErrClosed; queued messages are dropped.
func (w *World) Finalize() {
	for _, mb := range w.boxes {
		mb.close()
	}
	w.barrier.release()
	w.exit.release()
}

// Endpoint is one rank's view of the world.
type Endpoint struct {
	world *World
	rank  int
}

// Rank returns the world rank of this endpoint.
func (e *Endpoint) Rank() int {
	return e.rank
}

// Send enqueues a tagged payload for rank dest. Sends are buffered and never
// block.
func (e *Endpoint) Send(dest int, tag Tag, payload interface{}) error {
	if dest < 0 || dest >= e.world.size {
		return errors.Errorf("cohort: no such rank %d", dest)
	}
	return e.world.boxes[dest].push(Message{Source: e.rank, Tag: tag, Payload: payload})
}

// TryRecv pops the next inbound message without blocking.
func (e *Endpoint) TryRecv() (Message, bool) {
	return e.world.boxes[e.rank].pop()
}

// ExitBarrier blocks until every rank, the coordinator included, has
// entered it. It is crossed exactly once, at shutdown.
func (e *Endpoint) ExitBarrier() {
	e.world.exit.await()
}

// Workers returns this rank's handle on the worker cohort. Rank 0 has no
// cohort handle.
func (e *Endpoint) Workers() *Cohort {
	if e.rank == 0 {
		panic("cohort: the coordinator is not a cohort member")
	}
	return &Cohort{world: e.world, rank: e.rank - 1}
}

// Cohort is the set of worker ranks that execute collective operations
// together. Cohort ranks are 0-based and exclude the coordinator.
type Cohort struct {
	world *World
	rank  int
}

// Rank returns this worker's 0-based rank within the cohort.
func (c *Cohort) Rank() int {
	return c.rank
}

// Size returns the number of workers in the cohort.
func (c *Cohort) Size() int {
	return c.world.size - 1
}

// Barrier blocks until every cohort member has entered it. Collective
// operations derive their total order from it.
func (c *Cohort) Barrier() {
	c.world.barrier.await()
}

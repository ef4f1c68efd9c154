// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"time"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/debug"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
)

// listenerPollInterval paces the non-blocking probe of the cohort
// transport.
const listenerPollInterval = 10 * time.Millisecond

// cohortListener is the coordinator task that applies worker status
// messages to the request manager. On shutdown it notifies every worker,
// joins the exit barrier and drains the last statuses the workers emitted
// on their way out.
func (s *Server) cohortListener() {
	defer close(s.listenerDone)

	for {
		if s.shuttingDown() {
			s.notifyWorkersShutdown()
			s.drainStatuses()
			s.ep.ExitBarrier()
			s.drainStatuses()
			debug.Print("cohort listener shut down")
			return
		}

		msg, ok := s.ep.TryRecv()
		if !ok {
			time.Sleep(listenerPollInterval)
			continue
		}
		s.applyMessage(msg)
	}
}

func (s *Server) notifyWorkersShutdown() {
	for rank := 1; rank < s.world.Size(); rank++ {
		if err := s.ep.Send(rank, cohort.TagShutdown, proto.ShutdownMessage{}); err != nil {
			alert.Warnf("shutdown notification to rank %d failed: %v", rank, err)
		}
	}
}

func (s *Server) drainStatuses() {
	for {
		msg, ok := s.ep.TryRecv()
		if !ok {
			return
		}
		s.applyMessage(msg)
	}
}

func (s *Server) applyMessage(msg cohort.Message) {
	if msg.Tag != cohort.TagStatus {
		alert.Warnf("unexpected message tag %s from rank %d", msg.Tag, msg.Source)
		return
	}

	m, ok := msg.Payload.(proto.StatusMessage)
	if !ok {
		alert.Warnf("malformed status payload from rank %d", msg.Source)
		return
	}

	wid := msg.Source - 1
	name := s.fileName(m.TID, m.Seqno)
	if err := s.rm.update(m.TID, m.Seqno, wid, name, m.State, m.BW, m.Error); err != nil {
		debug.Printf("status update for transfer %d dropped: %v", m.TID, err)
		return
	}

	switch m.State {
	case cargo.StateCompleted, cargo.StateFailed:
		s.stats.finished(m.TID)
	}
}

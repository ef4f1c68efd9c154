// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package proto defines the payloads exchanged over cargo's two transports:
// the control RPCs between clients and the coordinator, and the cohort
// messages between the coordinator and its workers.
package proto

import (
	"fmt"

	"github.com/admire-eurohpc/cargo"
)

// TransferMessage dispatches one file of a transfer to a worker. The tag it
// is sent under selects the operation kind.
type TransferMessage struct {
	TID        uint64
	Seqno      uint32
	InputPath  string
	InputKind  cargo.DatasetKind
	OutputPath string
	OutputKind cargo.DatasetKind
}

func (m TransferMessage) String() string {
	return fmt.Sprintf("{tid: %d, seqno: %d, input: %q (%s), output: %q (%s)}",
		m.TID, m.Seqno, m.InputPath, m.InputKind, m.OutputPath, m.OutputKind)
}

// StatusMessage reports one worker's progress on one file.
type StatusMessage struct {
	TID   uint64
	Seqno uint32
	State cargo.TransferState
	BW    float32
	Error *cargo.ErrorCode
}

func (m StatusMessage) String() string {
	if m.Error != nil {
		return fmt.Sprintf("{tid: %d, seqno: %d, state: %s, bw: %.2f, error: %s}",
			m.TID, m.Seqno, m.State, m.BW, m.Error.Name())
	}
	return fmt.Sprintf("{tid: %d, seqno: %d, state: %s, bw: %.2f}",
		m.TID, m.Seqno, m.State, m.BW)
}

// ShaperMessage broadcasts a bandwidth-shaping delta for a transfer.
type ShaperMessage struct {
	TID     uint64
	Shaping int16
}

func (m ShaperMessage) String() string {
	return fmt.Sprintf("{tid: %d, shaping: %d}", m.TID, m.Shaping)
}

// ShutdownMessage tells a worker to leave its loop. It carries no payload.
type ShutdownMessage struct{}

// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import "github.com/admire-eurohpc/cargo"

// Every control-RPC response carries the coordinator-assigned operation id
// and an error code.

// PingRequest is a liveness probe.
type PingRequest struct{}

// PingResponse acknowledges a liveness probe.
type PingResponse struct {
	OpID  uint64
	Error cargo.ErrorCode
}

// TransferDatasetsRequest submits a transfer of len(Sources) datasets.
// Sources and Targets pair element-wise and must have equal length.
type TransferDatasetsRequest struct {
	Sources []cargo.Dataset
	Targets []cargo.Dataset
}

// TransferDatasetsResponse returns the allocated transfer id.
type TransferDatasetsResponse struct {
	OpID  uint64
	Error cargo.ErrorCode
	TID   uint64
}

// TransferStatusRequest asks for a transfer's summary status.
type TransferStatusRequest struct {
	TID uint64
}

// TransferStatusResponse summarizes a transfer: the first non-completed
// file's state, or a synthetic completed status.
type TransferStatusResponse struct {
	OpID  uint64
	Error cargo.ErrorCode

	State      cargo.TransferState
	BW         float32
	InnerError *cargo.ErrorCode
}

// TransferStatusesRequest asks for a transfer's per-file view.
type TransferStatusesRequest struct {
	TID uint64
}

// FileStatus is the client-visible status of one file of a transfer. BW is
// the arithmetic mean across the file's workers, computed at lookup time.
type FileStatus struct {
	Name  string
	State cargo.TransferState
	BW    float32
	Error *cargo.ErrorCode
}

// TransferStatusesResponse carries one FileStatus per expanded file.
type TransferStatusesResponse struct {
	OpID  uint64
	Error cargo.ErrorCode

	Statuses []FileStatus
}

// BWControlRequest broadcasts a throttle delta to every worker serving TID.
type BWControlRequest struct {
	TID     uint64
	Shaping int16
}

// BWControlResponse acknowledges a shaping request.
type BWControlResponse struct {
	OpID  uint64
	Error cargo.ErrorCode
}

// FTIORequest arms FTIO deferred staging. Confidence and Probability are
// stored but do not drive behaviour; Period > 0 forces Run.
type FTIORequest struct {
	Confidence  float32
	Probability float32
	Period      float64
	Run         bool
}

// FTIOResponse acknowledges an FTIO request.
type FTIOResponse struct {
	OpID  uint64
	Error cargo.ErrorCode
}

// ShutdownRequest begins graceful coordinator shutdown.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	OpID  uint64
	Error cargo.ErrorCode
}

// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"github.com/intel-hpdd/logging/audit"
	"golang.org/x/net/context"
	"google.golang.org/grpc/peer"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/proto"
)

// The handlers below make up the coordinator's control surface. Every
// request/response pair is audit-logged with its operation id, mirroring
// what operators grep for.

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

// Ping is the liveness probe.
func (s *Server) Ping(ctx context.Context, _ *proto.PingRequest) (*proto.PingResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {}", opid, "ping", from)

	resp := &proto.PingResponse{OpID: opid, Error: cargo.Success}

	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
		opid, "ping", from, resp.Error.Name())
	return resp, nil
}

// TransferDatasets submits a transfer. With FTIO armed the request is
// stored for deferred staging instead of dispatching immediately.
func (s *Server) TransferDatasets(ctx context.Context, req *proto.TransferDatasetsRequest) (*proto.TransferDatasetsResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {sources: %d, targets: %d}",
		opid, "transfer_datasets", from, len(req.Sources), len(req.Targets))

	resp := &proto.TransferDatasetsResponse{OpID: opid, Error: cargo.Success}

	// The pairing invariant is enforced before a tid is allocated.
	if len(req.Sources) != len(req.Targets) {
		resp.Error = cargo.Snafu
		audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
			opid, "transfer_datasets", from, resp.Error.Name())
		return resp, nil
	}

	sources, targets, err := expandTransfer(req.Sources, req.Targets)
	if err != nil {
		resp.Error = cargo.ErrorFromGo(err)
		audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
			opid, "transfer_datasets", from, resp.Error.Name())
		return resp, nil
	}

	tid, cerr := s.rm.create(len(sources))
	if cerr != nil {
		resp.Error = cargo.Snafu
		return resp, nil
	}
	resp.TID = tid

	if s.ftio.armed() {
		// Deferred staging: remember the original request shape so the
		// scheduler can re-expand it when the trigger fires.
		s.setNames(tid, datasetNames(sources))
		s.ftio.store(tid, req.Sources, req.Targets)
	} else if err := s.dispatch(tid, sources, targets); err != nil {
		resp.Error = cargo.ErrorFromGo(err)
	}

	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s, tid: %d}",
		opid, "transfer_datasets", from, resp.Error.Name(), resp.TID)
	return resp, nil
}

func datasetNames(ds []cargo.Dataset) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Path
	}
	return names
}

// TransferStatus returns the summary status of one transfer.
func (s *Server) TransferStatus(ctx context.Context, req *proto.TransferStatusRequest) (*proto.TransferStatusResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {tid: %d}",
		opid, "transfer_status", from, req.TID)

	resp := &proto.TransferStatusResponse{OpID: opid, Error: cargo.Success}

	st, err := s.rm.lookup(req.TID)
	if err != nil {
		resp.Error = cargo.NoSuchTransfer
	} else {
		resp.State = st.State
		resp.BW = st.BW
		resp.InnerError = st.Error
	}

	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s, state: %s}",
		opid, "transfer_status", from, resp.Error.Name(), resp.State)
	return resp, nil
}

// TransferStatuses returns the per-file view of one transfer.
func (s *Server) TransferStatuses(ctx context.Context, req *proto.TransferStatusesRequest) (*proto.TransferStatusesResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {tid: %d}",
		opid, "transfer_statuses", from, req.TID)

	resp := &proto.TransferStatusesResponse{OpID: opid, Error: cargo.Success}

	statuses, err := s.rm.lookupAll(req.TID)
	if err != nil {
		resp.Error = cargo.NoSuchTransfer
	} else {
		resp.Statuses = statuses
	}

	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s, files: %d}",
		opid, "transfer_statuses", from, resp.Error.Name(), len(resp.Statuses))
	return resp, nil
}

// BWControl broadcasts a bandwidth-shaping delta to the cohort.
func (s *Server) BWControl(ctx context.Context, req *proto.BWControlRequest) (*proto.BWControlResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {tid: %d, shaping: %d}",
		opid, "bw_control", from, req.TID, req.Shaping)

	resp := &proto.BWControlResponse{OpID: opid, Error: cargo.Success}

	if _, err := s.rm.lookup(req.TID); err != nil {
		resp.Error = cargo.NoSuchTransfer
	} else {
		s.broadcastShaping(req.TID, req.Shaping)
	}

	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
		opid, "bw_control", from, resp.Error.Name())
	return resp, nil
}

// FTIO arms deferred staging. A positive period forces the run flag.
func (s *Server) FTIO(ctx context.Context, req *proto.FTIORequest) (*proto.FTIOResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {conf: %.2f, prob: %.2f, period: %.2f, run: %v}",
		opid, "ftio_int", from, req.Confidence, req.Probability, req.Period, req.Run)

	run := req.Run
	if req.Period > 0 {
		run = true
	}
	s.ftio.arm(req.Confidence, req.Probability, req.Period, run)

	resp := &proto.FTIOResponse{OpID: opid, Error: cargo.Success}
	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
		opid, "ftio_int", from, resp.Error.Name())
	return resp, nil
}

// Shutdown begins graceful shutdown.
func (s *Server) Shutdown(ctx context.Context, _ *proto.ShutdownRequest) (*proto.ShutdownResponse, error) {
	opid := s.nextOpID()
	from := peerAddr(ctx)
	audit.Logf("rpc id: %d name: %q from: %q => body: {}", opid, "shutdown", from)

	s.beginShutdown()

	resp := &proto.ShutdownResponse{OpID: opid, Error: cargo.Success}
	audit.Logf("rpc id: %d name: %q to: %q <= body: {retval: %s}",
		opid, "shutdown", from, resp.Error.Name())
	return resp, nil
}

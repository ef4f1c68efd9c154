// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client is the library cargo tools link against to drive a
// coordinator: submitting transfers, polling their progress, shaping their
// bandwidth and arming FTIO deferred staging.
package client

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/proto"
	"github.com/admire-eurohpc/cargo/transport"
)

// waitPollInterval is the default polling cadence of Wait.
const waitPollInterval = 150 * time.Millisecond

// Server is a handle on a cargo coordinator.
type Server struct {
	protocol string
	address  string

	mu   sync.Mutex
	conn *transport.MasterClient
}

// NewServer parses a cargo address of the form PROTOCOL://host[:port] and
// returns a handle for it.
func NewServer(address string) (*Server, error) {
	protocol, host, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Server{protocol: protocol, address: protocol + "://" + host}, nil
}

// Protocol returns the address's protocol token.
func (s *Server) Protocol() string {
	return s.protocol
}

// Address returns the full coordinator address.
func (s *Server) Address() string {
	return s.address
}

func (s *Server) client() (*transport.MasterClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		conn, err := transport.Dial(s.address)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	return s.conn, nil
}

// Close tears down the connection to the coordinator.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Ping probes coordinator liveness.
func Ping(srv *Server) error {
	cli, err := srv.client()
	if err != nil {
		return err
	}
	resp, err := cli.Ping(context.Background(), &proto.PingRequest{})
	if err != nil {
		return errors.Wrap(err, "ping failed")
	}
	if !resp.Error.OK() {
		return resp.Error
	}
	return nil
}

// Transfer is a handle on one submitted transfer.
type Transfer struct {
	id  cargo.TransferID
	srv *Server
}

// ID returns the coordinator-assigned transfer id.
func (t *Transfer) ID() cargo.TransferID {
	return t.id
}

// TransferStatus is the summary status of a transfer.
type TransferStatus struct {
	State cargo.TransferState
	BW    float32
	Err   *cargo.ErrorCode
}

// Done reports whether the transfer has completed.
func (st TransferStatus) Done() bool {
	return st.State == cargo.StateCompleted
}

// Failed reports whether the transfer has failed.
func (st TransferStatus) Failed() bool {
	return st.State == cargo.StateFailed
}

// Error returns the error of a failed transfer, Success for a completed
// one, and TransferInProgress while the transfer is still running.
func (st TransferStatus) Error() cargo.ErrorCode {
	switch st.State {
	case cargo.StateCompleted:
		return cargo.Success
	case cargo.StateFailed:
		if st.Err != nil {
			return *st.Err
		}
		return cargo.Other
	default:
		return cargo.TransferInProgress
	}
}

// FileStatus is the per-file view of a transfer.
type FileStatus struct {
	Name  string
	State cargo.TransferState
	BW    float32
	Err   *cargo.ErrorCode
}

// TransferDatasets submits a transfer of the paired source and target
// dataset vectors.
func TransferDatasets(srv *Server, sources, targets []cargo.Dataset) (*Transfer, error) {
	cli, err := srv.client()
	if err != nil {
		return nil, err
	}
	resp, err := cli.TransferDatasets(context.Background(), &proto.TransferDatasetsRequest{
		Sources: sources,
		Targets: targets,
	})
	if err != nil {
		return nil, errors.Wrap(err, "transfer_datasets failed")
	}
	if !resp.Error.OK() {
		return nil, resp.Error
	}
	return &Transfer{id: cargo.TransferID(resp.TID), srv: srv}, nil
}

// TransferDataset submits a transfer of a single dataset. It is a
// convenience wrapper around TransferDatasets.
func TransferDataset(srv *Server, source, target cargo.Dataset) (*Transfer, error) {
	return TransferDatasets(srv, []cargo.Dataset{source}, []cargo.Dataset{target})
}

// Status fetches the transfer's current summary status.
func (t *Transfer) Status() (TransferStatus, error) {
	cli, err := t.srv.client()
	if err != nil {
		return TransferStatus{}, err
	}
	resp, err := cli.TransferStatus(context.Background(), &proto.TransferStatusRequest{TID: uint64(t.id)})
	if err != nil {
		return TransferStatus{}, errors.Wrap(err, "transfer_status failed")
	}
	if !resp.Error.OK() {
		return TransferStatus{}, resp.Error
	}
	return TransferStatus{State: resp.State, BW: resp.BW, Err: resp.InnerError}, nil
}

// Statuses fetches the transfer's per-file statuses.
func (t *Transfer) Statuses() ([]FileStatus, error) {
	cli, err := t.srv.client()
	if err != nil {
		return nil, err
	}
	resp, err := cli.TransferStatuses(context.Background(), &proto.TransferStatusesRequest{TID: uint64(t.id)})
	if err != nil {
		return nil, errors.Wrap(err, "transfer_statuses failed")
	}
	if !resp.Error.OK() {
		return nil, resp.Error
	}
	out := make([]FileStatus, 0, len(resp.Statuses))
	for _, fs := range resp.Statuses {
		out = append(out, FileStatus{Name: fs.Name, State: fs.State, BW: fs.BW, Err: fs.Error})
	}
	return out, nil
}

// Wait polls Status until the transfer completes or fails. It returns as
// soon as any failing status is observed; sibling files keep running.
func (t *Transfer) Wait() (TransferStatus, error) {
	for {
		st, err := t.Status()
		if err != nil {
			return TransferStatus{}, err
		}
		if st.Done() || st.Failed() {
			return st, nil
		}
		time.Sleep(waitPollInterval)
	}
}

// WaitFor sleeps for timeout, then polls the status once.
func (t *Transfer) WaitFor(timeout time.Duration) (TransferStatus, error) {
	time.Sleep(timeout)
	return t.Status()
}

// Shape pushes a signed throttle delta to every worker serving the
// transfer.
func (t *Transfer) Shape(delta int16) error {
	return BWControl(t.srv, uint64(t.id), delta)
}

// BWControl pushes a signed throttle delta to every worker serving tid.
func BWControl(srv *Server, tid uint64, shaping int16) error {
	cli, err := srv.client()
	if err != nil {
		return err
	}
	resp, err := cli.BWControl(context.Background(), &proto.BWControlRequest{TID: tid, Shaping: shaping})
	if err != nil {
		return errors.Wrap(err, "bw_control failed")
	}
	if !resp.Error.OK() {
		return resp.Error
	}
	return nil
}

// FTIO arms FTIO deferred staging on the coordinator. Confidence and
// probability are recorded; period and run drive the trigger.
func FTIO(srv *Server, confidence, probability float32, period float64, run bool) error {
	cli, err := srv.client()
	if err != nil {
		return err
	}
	resp, err := cli.FTIO(context.Background(), &proto.FTIORequest{
		Confidence:  confidence,
		Probability: probability,
		Period:      period,
		Run:         run,
	})
	if err != nil {
		return errors.Wrap(err, "ftio_int failed")
	}
	if !resp.Error.OK() {
		return resp.Error
	}
	return nil
}

// Shutdown asks the coordinator to shut down gracefully.
func Shutdown(srv *Server) error {
	cli, err := srv.client()
	if err != nil {
		return err
	}
	resp, err := cli.Shutdown(context.Background(), &proto.ShutdownRequest{})
	if err != nil {
		return errors.Wrap(err, "shutdown failed")
	}
	if !resp.Error.OK() {
		return resp.Error
	}
	return nil
}

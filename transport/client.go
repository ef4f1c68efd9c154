// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"

	"github.com/admire-eurohpc/cargo/proto"
)

// MasterClient is a typed client for the coordinator's control surface.
type MasterClient struct {
	conn *grpc.ClientConn
}

// Dial connects to a coordinator at a cargo address.
func Dial(address string) (*MasterClient, error) {
	_, host, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(host,
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	return &MasterClient{conn: conn}, nil
}

// Close tears down the connection.
func (c *MasterClient) Close() error {
	return c.conn.Close()
}

// Ping probes coordinator liveness.
func (c *MasterClient) Ping(ctx context.Context, req *proto.PingRequest) (*proto.PingResponse, error) {
	out := new(proto.PingResponse)
	if err := c.conn.Invoke(ctx, methodPath("Ping"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferDatasets submits a transfer request.
func (c *MasterClient) TransferDatasets(ctx context.Context, req *proto.TransferDatasetsRequest) (*proto.TransferDatasetsResponse, error) {
	out := new(proto.TransferDatasetsResponse)
	if err := c.conn.Invoke(ctx, methodPath("TransferDatasets"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferStatus fetches a transfer's summary status.
func (c *MasterClient) TransferStatus(ctx context.Context, req *proto.TransferStatusRequest) (*proto.TransferStatusResponse, error) {
	out := new(proto.TransferStatusResponse)
	if err := c.conn.Invoke(ctx, methodPath("TransferStatus"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferStatuses fetches a transfer's per-file statuses.
func (c *MasterClient) TransferStatuses(ctx context.Context, req *proto.TransferStatusesRequest) (*proto.TransferStatusesResponse, error) {
	out := new(proto.TransferStatusesResponse)
	if err := c.conn.Invoke(ctx, methodPath("TransferStatuses"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// BWControl pushes a bandwidth-shaping delta to a transfer's workers.
func (c *MasterClient) BWControl(ctx context.Context, req *proto.BWControlRequest) (*proto.BWControlResponse, error) {
	out := new(proto.BWControlResponse)
	if err := c.conn.Invoke(ctx, methodPath("BWControl"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FTIO arms FTIO deferred staging.
func (c *MasterClient) FTIO(ctx context.Context, req *proto.FTIORequest) (*proto.FTIOResponse, error) {
	out := new(proto.FTIOResponse)
	if err := c.conn.Invoke(ctx, methodPath("FTIO"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown begins graceful coordinator shutdown.
func (c *MasterClient) Shutdown(ctx context.Context, req *proto.ShutdownRequest) (*proto.ShutdownResponse, error) {
	out := new(proto.ShutdownResponse)
	if err := c.conn.Invoke(ctx, methodPath("Shutdown"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

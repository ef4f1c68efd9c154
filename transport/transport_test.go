// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"reflect"
	"testing"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/proto"
)

func TestParseAddress(t *testing.T) {
	var tests = []struct {
		in       string
		protocol string
		host     string
		wantErr  bool
	}{
		{"tcp://localhost:62000", "tcp", "localhost:62000", false},
		{"ofi+tcp://node1:7777", "ofi+tcp", "node1:7777", false},
		{"ofi+verbs://10.0.0.1", "ofi+verbs", "10.0.0.1", false},
		{"localhost:62000", "", "", true},
		{"", "", "", true},
	}

	for _, tc := range tests {
		protocol, host, err := ParseAddress(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: err: %s", tc.in, err)
		}
		if protocol != tc.protocol || host != tc.host {
			t.Fatalf("%q: got (%q, %q)", tc.in, protocol, host)
		}
	}
}

func roundTrip(t *testing.T, in, out interface{}) {
	t.Helper()
	data, err := Codec{}.Marshal(in)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := (Codec{}).Unmarshal(data, out); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func TestCodecTransferRequest(t *testing.T) {
	in := &proto.TransferDatasetsRequest{
		Sources: []cargo.Dataset{
			{Path: "/mnt/pfs/a", Kind: cargo.DatasetParallel},
			{Path: "/mnt/pfs/b", Kind: cargo.DatasetParallel},
		},
		Targets: []cargo.Dataset{
			{Path: "/tmp/a", Kind: cargo.DatasetPosix},
			{Path: "/tmp/b", Kind: cargo.DatasetPosix},
		},
	}

	out := new(proto.TransferDatasetsRequest)
	roundTrip(t, in, out)

	if !reflect.DeepEqual(in, out) {
		t.Fatalf("\nexpected: %#v\ngot: %#v", in, out)
	}
}

func TestCodecStatusResponseWithError(t *testing.T) {
	inner := cargo.MakeSystemError(2)
	in := &proto.TransferStatusResponse{
		OpID:       7,
		Error:      cargo.Success,
		State:      cargo.StateFailed,
		BW:         12.5,
		InnerError: &inner,
	}

	out := new(proto.TransferStatusResponse)
	roundTrip(t, in, out)

	if out.InnerError == nil || *out.InnerError != inner {
		t.Fatalf("inner error lost: %#v", out)
	}
	if out.State != cargo.StateFailed || out.BW != 12.5 || out.OpID != 7 {
		t.Fatalf("fields mangled: %#v", out)
	}
}

func TestCodecFieldlessMessages(t *testing.T) {
	// Requests with no payload still have to cross the wire.
	data, err := Codec{}.Marshal(&proto.PingRequest{})
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected an empty payload, got %d bytes", len(data))
	}

	out := new(proto.ShutdownRequest)
	if err := (Codec{}).Unmarshal(nil, out); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func TestCodecName(t *testing.T) {
	if (Codec{}).Name() != "cargo-gob" {
		t.Fatalf("unexpected codec name %q", Codec{}.Name())
	}
}

// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"golang.org/x/sys/unix"

	"github.com/pkg/errors"

	"github.com/admire-eurohpc/cargo"
)

func init() {
	Register(cargo.DatasetNone, func() (Backend, error) {
		return &NoneBackend{}, nil
	})

	// The ad-hoc filesystems cargo stages against (burst buffers and
	// node-local stores) expose POSIX semantics through their client
	// libraries, so their backends share the POSIX implementation under
	// their own registry identity.
	for _, kind := range []cargo.DatasetKind{
		cargo.DatasetAdhocA, cargo.DatasetAdhocB, cargo.DatasetAdhocC,
	} {
		kind := kind
		Register(kind, func() (Backend, error) {
			return NewPosix(kind.String()), nil
		})
	}
}

// NoneBackend rejects every operation. A dataset of kind "none" is allowed
// at the protocol level; its semantic is backend-defined, and the default
// definition is that no I/O may be performed against it.
type NoneBackend struct{}

// Name returns the backend's kind tag.
func (n *NoneBackend) Name() string { return cargo.DatasetNone.String() }

func (n *NoneBackend) errNotSup(op string) error {
	return errors.Wrapf(unix.ENOTSUP, "%s on %q backend", op, n.Name())
}

func (n *NoneBackend) Open(string, int, uint32) (int, error) {
	return -1, n.errNotSup("open")
}

func (n *NoneBackend) Close(int) error {
	return n.errNotSup("close")
}

func (n *NoneBackend) Pread(int, []byte, int64) (int, error) {
	return 0, n.errNotSup("pread")
}

func (n *NoneBackend) Pwrite(int, []byte, int64) (int, error) {
	return 0, n.errNotSup("pwrite")
}

func (n *NoneBackend) Mkdir(string, uint32) error {
	return n.errNotSup("mkdir")
}

func (n *NoneBackend) Readdir(string) ([]string, error) {
	return nil, n.errNotSup("readdir")
}

func (n *NoneBackend) Stat(string) (FileInfo, error) {
	return FileInfo{}, n.errNotSup("stat")
}

func (n *NoneBackend) Unlink(string) error {
	return n.errNotSup("unlink")
}

func (n *NoneBackend) Fallocate(int, uint32, int64, int64) error {
	return n.errNotSup("fallocate")
}

func (n *NoneBackend) Size(string) (int64, error) {
	return 0, n.errNotSup("size")
}

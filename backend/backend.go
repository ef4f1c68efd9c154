// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend provides uniform byte-level access to the storage systems
// cargo stages data between. Implementations register themselves by dataset
// kind; the process-wide registry hands out one shared instance per kind.
package backend

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/admire-eurohpc/cargo"
)

// FileInfo is the subset of stat information the coordinator needs.
type FileInfo struct {
	Size  int64
	Mode  uint32
	IsDir bool
	MTime time.Time
}

// Backend is the byte-level interface every storage system implements. All
// paths are absolute. Pread and Pwrite transfer the full requested count
// unless a terminal error occurs; EINTR is retried internally.
type Backend interface {
	// Name returns the backend's kind tag, for logging.
	Name() string

	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Pread(fd int, buf []byte, offset int64) (int, error)
	Pwrite(fd int, buf []byte, offset int64) (int, error)

	// Mkdir creates a directory; a pre-existing directory is not an error.
	Mkdir(path string, mode uint32) error
	// Readdir enumerates the regular files below path, recursively.
	Readdir(path string) ([]string, error)
	Stat(path string) (FileInfo, error)
	Unlink(path string) error

	// Fallocate reserves space for a file. Backends where reservation is
	// implicit may treat it as a no-op.
	Fallocate(fd int, mode uint32, offset, length int64) error
	Size(path string) (int64, error)
}

// Factory builds the single shared instance for a kind.
type Factory func() (Backend, error)

type registryEntry struct {
	factory Factory

	once     sync.Once
	instance Backend
	err      error
}

var (
	registryMu sync.Mutex
	registry   = make(map[cargo.DatasetKind]*registryEntry)
)

// Register installs a factory for kind. Later registrations for the same
// kind replace earlier ones, so tests can substitute implementations.
func Register(kind cargo.DatasetKind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = &registryEntry{factory: f}
}

// Get returns the shared instance for kind, constructing it on first use.
func Get(kind cargo.DatasetKind) (Backend, error) {
	registryMu.Lock()
	e, ok := registry[kind]
	registryMu.Unlock()

	if !ok {
		return nil, errors.Errorf("no backend registered for kind %q", kind)
	}

	e.once.Do(func() {
		e.instance, e.err = e.factory()
	})
	if e.err != nil {
		return nil, errors.Wrapf(e.err, "initializing %q backend", kind)
	}
	return e.instance, nil
}

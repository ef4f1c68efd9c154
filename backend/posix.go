// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/admire-eurohpc/cargo"
)

func init() {
	Register(cargo.DatasetPosix, func() (Backend, error) {
		return NewPosix(cargo.DatasetPosix.String()), nil
	})
	// A parallel filesystem is mounted like any other; what changes is the
	// transfer mode derived from the dataset kind.
	Register(cargo.DatasetParallel, func() (Backend, error) {
		return NewPosix(cargo.DatasetParallel.String()), nil
	})
}

// Posix implements Backend with plain POSIX syscalls.
type Posix struct {
	name string
}

// NewPosix returns a POSIX backend tagged with name.
func NewPosix(name string) *Posix {
	return &Posix{name: name}
}

// Name returns the backend's kind tag.
func (p *Posix) Name() string {
	return p.name
}

// Open opens path with the supplied flags and permission bits.
func (p *Posix) Open(path string, flags int, mode uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags, mode)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, errors.Wrapf(err, "open %s", path)
		}
		return fd, nil
	}
}

// Close closes the descriptor.
func (p *Posix) Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return errors.Wrap(err, "close")
	}
	return nil
}

// Pread reads len(buf) bytes at offset, looping until the full count is
// transferred, EOF, or a terminal error. A short return without error means
// EOF was reached.
func (p *Posix) Pread(fd int, buf []byte, offset int64) (int, error) {
	var done int
	for done < len(buf) {
		n, err := unix.Pread(fd, buf[done:], offset+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, errors.Wrap(err, "pread")
		}
		if n == 0 {
			break
		}
		done += n
	}
	return done, nil
}

// Pwrite writes len(buf) bytes at offset, looping until the full count is
// transferred or a terminal error occurs.
func (p *Posix) Pwrite(fd int, buf []byte, offset int64) (int, error) {
	var done int
	for done < len(buf) {
		n, err := unix.Pwrite(fd, buf[done:], offset+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, errors.Wrap(err, "pwrite")
		}
		done += n
	}
	return done, nil
}

// Mkdir creates a directory. A pre-existing directory is not an error.
func (p *Posix) Mkdir(path string, mode uint32) error {
	if err := unix.Mkdir(path, mode); err != nil && err != unix.EEXIST {
		return errors.Wrapf(err, "mkdir %s", path)
	}
	return nil
}

// Readdir returns the regular files below path, recursively, in a stable
// order.
func (p *Posix) Readdir(path string) ([]string, error) {
	var files []string
	err := filepath.Walk(path, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "readdir %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// Stat fills size, mode bits and mtime for path.
func (p *Posix) Stat(path string) (FileInfo, error) {
	var st unix.Stat_t
	for {
		err := unix.Stat(path, &st)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return FileInfo{}, errors.Wrapf(err, "stat %s", path)
		}
		break
	}
	return FileInfo{
		Size:  st.Size,
		Mode:  uint32(st.Mode),
		IsDir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
		MTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}, nil
}

// Unlink removes path.
func (p *Posix) Unlink(path string) error {
	if err := unix.Unlink(path); err != nil {
		return errors.Wrapf(err, "unlink %s", path)
	}
	return nil
}

// Fallocate reserves space for the open file. A zero-length reservation is
// a no-op; the kernel rejects it.
func (p *Posix) Fallocate(fd int, mode uint32, offset, length int64) error {
	if length == 0 {
		return nil
	}
	err := unix.Fallocate(fd, mode, offset, length)
	switch err {
	case nil:
		return nil
	case unix.EOPNOTSUPP, unix.ENOSYS:
		// Filesystems without preallocation fall back to ftruncate, which
		// is all the writers rely on.
		if terr := unix.Ftruncate(fd, offset+length); terr != nil {
			return errors.Wrap(terr, "ftruncate")
		}
		return nil
	default:
		return errors.Wrap(err, "fallocate")
	}
}

// Size returns the byte count of path.
func (p *Posix) Size(path string) (int64, error) {
	fi, err := p.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size, nil
}


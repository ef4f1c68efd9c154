// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/backend"
	"github.com/admire-eurohpc/cargo/cohort"
)

// suffix strips the source-root prefix from an expanded file path. When the
// root carries a trailing "/" the prefix length is shortened by one byte,
// which leaves that separator at the front of the remainder; a leading
// separator is then trimmed, so the relative path never starts with one.
// Callers rely on this.
func suffix(file, root string) string {
	n := len(root)
	if strings.HasSuffix(root, "/") {
		n--
	}
	if n > len(file) {
		return ""
	}
	return strings.TrimPrefix(file[n:], "/")
}

// expandTransfer replaces every directory source by the recursive
// enumeration of its regular files, rewriting the paired target to preserve
// the suffix below the source root. Regular-file sources pass through
// unchanged.
func expandTransfer(sources, targets []cargo.Dataset) ([]cargo.Dataset, []cargo.Dataset, error) {
	if len(sources) != len(targets) {
		return nil, nil, errors.Errorf("mismatching dataset counts: %d sources, %d targets",
			len(sources), len(targets))
	}

	var xs, xt []cargo.Dataset
	for i := range sources {
		src, dst := sources[i], targets[i]

		be, err := backend.Get(src.Kind)
		if err != nil {
			return nil, nil, err
		}

		fi, err := be.Stat(src.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "expanding %s", src.Path)
		}

		if !fi.IsDir {
			xs = append(xs, src)
			xt = append(xt, dst)
			continue
		}

		files, err := be.Readdir(src.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "expanding %s", src.Path)
		}
		for _, f := range files {
			xs = append(xs, cargo.Dataset{Path: f, Kind: src.Kind})
			xt = append(xt, cargo.Dataset{
				Path: filepath.Join(dst.Path, suffix(f, src.Path)),
				Kind: dst.Kind,
			})
		}
	}
	return xs, xt, nil
}

// transferTag derives the operation kind for one expanded pair: a parallel
// source is read collectively, a parallel target is written collectively,
// anything else moves sequentially.
func transferTag(src, dst cargo.Dataset) cohort.Tag {
	switch {
	case src.SupportsParallelTransfer():
		return cohort.TagPread
	case dst.SupportsParallelTransfer():
		return cohort.TagPwrite
	default:
		return cohort.TagSequential
	}
}

// prepareTarget creates the parent directories a dispatched file will be
// written under. Parallel targets go through the host filesystem; other
// kinds go through their own backend.
func prepareTarget(dst cargo.Dataset) error {
	parent := filepath.Dir(dst.Path)
	if parent == "." || parent == "/" {
		return nil
	}

	if dst.SupportsParallelTransfer() {
		return errors.Wrapf(os.MkdirAll(parent, 0755), "mkdir %s", parent)
	}

	be, err := backend.Get(dst.Kind)
	if err != nil {
		return err
	}
	return mkdirAll(be, parent)
}

func mkdirAll(be backend.Backend, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if fi, err := be.Stat(dir); err == nil && fi.IsDir {
		return nil
	}
	if err := mkdirAll(be, filepath.Dir(dir)); err != nil {
		return err
	}
	return be.Mkdir(dir, 0755)
}

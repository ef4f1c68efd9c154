// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stripe computes the block-striped view of a file: the exact
// subrange of fixed-size blocks a worker of a given rank owns when the file
// is partitioned round-robin across a cohort.
package stripe

import "fmt"

// Range is one contiguous region of a file.
type Range struct {
	Offset int64
	Len    int64
}

func (r Range) String() string {
	return fmt.Sprintf("{%d, %d}", r.Offset, r.Len)
}

// End returns the first offset past the range.
func (r Range) End() int64 {
	return r.Offset + r.Len
}

// View is a finite, forward-only, restartable sequence of the ranges a
// worker owns. For a file of FileSize bytes split into BlockSize-sized
// blocks, the worker with rank Disp in a cohort of Stride workers owns
// blocks Disp, Disp+Stride, Disp+2*Stride, ... The final block may be short;
// ranges past EOF are never produced.
type View struct {
	fileSize  int64
	blockSize int64
	stride    int64
	disp      int64

	next int64 // offset of the next block to produce
}

// NewView returns a View for the given parameters. BlockSize must be a
// power of two and Disp must be smaller than Stride.
func NewView(fileSize, blockSize int64, stride, disp int) *View {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		panic(fmt.Sprintf("stripe: block size %d is not a power of two", blockSize))
	}
	if stride <= 0 || disp < 0 || disp >= stride {
		panic(fmt.Sprintf("stripe: invalid stride %d / displacement %d", stride, disp))
	}

	v := &View{
		fileSize:  fileSize,
		blockSize: blockSize,
		stride:    int64(stride),
		disp:      int64(disp),
	}
	v.Reset()
	return v
}

// Reset rewinds the view to its first range.
func (v *View) Reset() {
	v.next = v.disp * v.blockSize
}

// Next produces the next owned range. The second return is false once the
// view is exhausted.
func (v *View) Next() (Range, bool) {
	if v.next >= v.fileSize {
		return Range{}, false
	}

	r := Range{Offset: v.next, Len: v.blockSize}
	if r.Offset+r.Len > v.fileSize {
		r.Len = v.fileSize - r.Offset
	}

	v.next += v.stride * v.blockSize
	return r, true
}

// At returns the index-th owned range without disturbing the cursor.
func (v *View) At(index int) (Range, bool) {
	off := (v.disp + int64(index)*v.stride) * v.blockSize
	if index < 0 || off >= v.fileSize {
		return Range{}, false
	}
	r := Range{Offset: off, Len: v.blockSize}
	if r.Offset+r.Len > v.fileSize {
		r.Len = v.fileSize - r.Offset
	}
	return r, true
}

// TotalBlocks returns the number of blocks in the whole file.
func (v *View) TotalBlocks() int {
	return TotalBlocks(v.fileSize, v.blockSize)
}

// BlocksOwned returns how many blocks this view's rank owns.
func (v *View) BlocksOwned() int {
	return BlocksOwned(v.fileSize, v.blockSize, int(v.stride), int(v.disp))
}

// BlockSize returns the view's block size.
func (v *View) BlockSize() int64 {
	return v.blockSize
}

// TotalBlocks returns ceil(fileSize / blockSize).
func TotalBlocks(fileSize, blockSize int64) int {
	n := fileSize / blockSize
	if fileSize%blockSize != 0 {
		n++
	}
	return int(n)
}

// BlocksOwned returns the number of blocks owned by worker `disp` of
// `stride`: floor(B/W) plus one if disp < B mod W.
func BlocksOwned(fileSize, blockSize int64, stride, disp int) int {
	total := TotalBlocks(fileSize, blockSize)
	n := total / stride
	if rem := total % stride; rem != 0 && disp < rem {
		n++
	}
	return n
}

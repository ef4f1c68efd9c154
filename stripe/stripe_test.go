// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stripe

import (
	"reflect"
	"testing"
)

func collect(v *View) []Range {
	var out []Range
	for {
		r, ok := v.Next()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestViewSingleWorker(t *testing.T) {
	v := NewView(2048, 512, 1, 0)

	expected := []Range{
		{0, 512}, {512, 512}, {1024, 512}, {1536, 512},
	}
	got := collect(v)
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("\nexpected: %v\ngot: %v", expected, got)
	}
}

func TestViewRoundRobin(t *testing.T) {
	// 5 blocks across 2 workers: rank 0 owns blocks 0, 2, 4 and rank 1
	// owns blocks 1, 3.
	v0 := NewView(5*512, 512, 2, 0)
	v1 := NewView(5*512, 512, 2, 1)

	expected0 := []Range{{0, 512}, {1024, 512}, {2048, 512}}
	expected1 := []Range{{512, 512}, {1536, 512}}

	if got := collect(v0); !reflect.DeepEqual(got, expected0) {
		t.Fatalf("rank 0:\nexpected: %v\ngot: %v", expected0, got)
	}
	if got := collect(v1); !reflect.DeepEqual(got, expected1) {
		t.Fatalf("rank 1:\nexpected: %v\ngot: %v", expected1, got)
	}
}

func TestViewShortFinalBlock(t *testing.T) {
	v := NewView(1000, 512, 1, 0)

	expected := []Range{{0, 512}, {512, 488}}
	if got := collect(v); !reflect.DeepEqual(got, expected) {
		t.Fatalf("\nexpected: %v\ngot: %v", expected, got)
	}
}

func TestViewEmptyFile(t *testing.T) {
	v := NewView(0, 512, 4, 2)

	if got := collect(v); len(got) != 0 {
		t.Fatalf("expected no ranges for an empty file, got %v", got)
	}
	if n := v.BlocksOwned(); n != 0 {
		t.Fatalf("expected zero owned blocks, got %d", n)
	}
}

func TestViewOneBlockFile(t *testing.T) {
	// A one-block file is owned by exactly one worker.
	owners := 0
	for r := 0; r < 4; r++ {
		v := NewView(100, 512, 4, r)
		ranges := collect(v)
		if len(ranges) > 0 {
			owners++
			if ranges[0].Offset != 0 || ranges[0].Len != 100 {
				t.Fatalf("rank %d: unexpected range %v", r, ranges[0])
			}
		}
	}
	if owners != 1 {
		t.Fatalf("expected exactly one owner, got %d", owners)
	}
}

func TestViewInvariants(t *testing.T) {
	var tests = []struct {
		fileSize  int64
		blockSize int64
		stride    int
	}{
		{0, 512, 3},
		{1, 512, 3},
		{512, 512, 3},
		{513, 512, 3},
		{100000, 1024, 7},
		{1 << 20, 4096, 5},
		{(1 << 20) + 17, 4096, 5},
	}

	for _, tc := range tests {
		total := 0
		for r := 0; r < tc.stride; r++ {
			v := NewView(tc.fileSize, tc.blockSize, tc.stride, r)
			ranges := collect(v)

			if len(ranges) != v.BlocksOwned() {
				t.Fatalf("size %d rank %d: produced %d ranges, BlocksOwned says %d",
					tc.fileSize, r, len(ranges), v.BlocksOwned())
			}
			total += len(ranges)

			var prev int64 = -1
			for _, rng := range ranges {
				if rng.Offset <= prev {
					t.Fatalf("size %d rank %d: offsets not strictly increasing: %v",
						tc.fileSize, r, ranges)
				}
				prev = rng.Offset
				if rng.End() > tc.fileSize {
					t.Fatalf("size %d rank %d: range %v past EOF", tc.fileSize, r, rng)
				}
				if rng.Len <= 0 {
					t.Fatalf("size %d rank %d: empty range %v", tc.fileSize, r, rng)
				}
			}
		}

		if total != TotalBlocks(tc.fileSize, tc.blockSize) {
			t.Fatalf("size %d: workers own %d blocks, file has %d",
				tc.fileSize, total, TotalBlocks(tc.fileSize, tc.blockSize))
		}
	}
}

func TestViewReset(t *testing.T) {
	v := NewView(4096, 1024, 2, 1)

	first := collect(v)
	v.Reset()
	second := collect(v)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("restarted view diverged:\nfirst: %v\nsecond: %v", first, second)
	}
}

func TestViewAt(t *testing.T) {
	v := NewView(5*512, 512, 2, 0)

	expected := []Range{{0, 512}, {1024, 512}, {2048, 512}}
	for i, want := range expected {
		got, ok := v.At(i)
		if !ok {
			t.Fatalf("At(%d) unexpectedly exhausted", i)
		}
		if got != want {
			t.Fatalf("At(%d): expected %v, got %v", i, want, got)
		}
	}
	if _, ok := v.At(len(expected)); ok {
		t.Fatalf("At past the end should report exhaustion")
	}

	// At must not disturb the cursor.
	if got := collect(v); !reflect.DeepEqual(got, expected) {
		t.Fatalf("cursor disturbed by At:\nexpected: %v\ngot: %v", expected, got)
	}
}

func TestNewViewRejectsBadBlockSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-power-of-two block size")
		}
	}()
	NewView(1024, 500, 1, 0)
}

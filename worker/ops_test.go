// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package worker

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
)

const testBlockSize = 512

func seededData(n int) []byte {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("err: %s", err)
	}
}

// driveOp runs one operation to completion the way the worker loop would.
func driveOp(op Operation) cargo.ErrorCode {
	if ec := op.Setup(); ec != cargo.TransferInProgress && !ec.OK() {
		return ec
	}
	index := 0
	for index >= 0 {
		index = op.Progress(index)
	}
	return op.Status()
}

// runCohortOp drives the same transfer on every rank of a fresh cohort and
// returns the per-rank outcomes.
func runCohortOp(t *testing.T, nworkers int, tag cohort.Tag, m proto.TransferMessage) []cargo.ErrorCode {
	t.Helper()

	world := cohort.NewWorld(nworkers)
	defer world.Finalize()

	out := make([]cargo.ErrorCode, nworkers)
	var wg sync.WaitGroup
	for rank := 1; rank <= nworkers; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			workers := world.Endpoint(rank).Workers()
			op := makeOperation(tag, workers, m, testBlockSize)
			out[rank-1] = driveOp(op)
		}(rank)
	}
	wg.Wait()
	return out
}

func TestSeqOpCopiesFile(t *testing.T) {
	dir := t.TempDir()
	data := seededData(3000)
	writeTestFile(t, filepath.Join(dir, "in"), data)

	m := proto.TransferMessage{
		TID:        1,
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}

	for _, ec := range runCohortOp(t, 1, cohort.TagSequential, m) {
		if !ec.OK() {
			t.Fatalf("operation failed: %s", ec.Name())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("target differs from source")
	}
}

func TestSeqOpStripedAcrossCohort(t *testing.T) {
	dir := t.TempDir()
	data := seededData(10000)
	writeTestFile(t, filepath.Join(dir, "in"), data)

	m := proto.TransferMessage{
		TID:        1,
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}

	for _, ec := range runCohortOp(t, 3, cohort.TagSequential, m) {
		if !ec.OK() {
			t.Fatalf("operation failed: %s", ec.Name())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("striped copy mangled the data")
	}
}

func TestSeqOpEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "in"), nil)

	world := cohort.NewWorld(1)
	defer world.Finalize()

	m := proto.TransferMessage{
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}
	op := makeOperation(cohort.TagSequential, world.Endpoint(1).Workers(), m, testBlockSize)

	if ec := op.Setup(); ec != cargo.TransferInProgress {
		t.Fatalf("setup: %s", ec.Name())
	}
	// No block-level progress for an empty file: the first step is terminal.
	if next := op.Progress(0); next != -1 {
		t.Fatalf("expected immediate completion, got index %d", next)
	}
	if !op.Status().OK() {
		t.Fatalf("status: %s", op.Status().Name())
	}
	if op.BW() != 0 {
		t.Fatalf("no blocks moved, bandwidth should be zero: %f", op.BW())
	}

	fi, err := os.Stat(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("expected empty target, got %d bytes", fi.Size())
	}
}

func TestPreadOpRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := seededData(10000)
	writeTestFile(t, filepath.Join(dir, "in"), data)

	m := proto.TransferMessage{
		TID:        1,
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetParallel,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}

	for _, ec := range runCohortOp(t, 2, cohort.TagPread, m) {
		if !ec.OK() {
			t.Fatalf("operation failed: %s", ec.Name())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("parallel read mangled the data")
	}
}

func TestPwriteOpRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := seededData(10000)
	writeTestFile(t, filepath.Join(dir, "in"), data)

	m := proto.TransferMessage{
		TID:        1,
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetParallel,
	}

	for _, ec := range runCohortOp(t, 2, cohort.TagPwrite, m) {
		if !ec.OK() {
			t.Fatalf("operation failed: %s", ec.Name())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("parallel write mangled the data")
	}
}

func TestPreadOpSingleBlock(t *testing.T) {
	dir := t.TempDir()
	data := seededData(100)
	writeTestFile(t, filepath.Join(dir, "in"), data)

	m := proto.TransferMessage{
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetParallel,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}

	// One block, four workers: exactly one owns the block, the rest emit
	// zero-work completions.
	for _, ec := range runCohortOp(t, 4, cohort.TagPread, m) {
		if !ec.OK() {
			t.Fatalf("operation failed: %s", ec.Name())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("single-block transfer mangled the data")
	}
}

func TestSetupFailureMissingSource(t *testing.T) {
	dir := t.TempDir()

	world := cohort.NewWorld(1)
	defer world.Finalize()

	m := proto.TransferMessage{
		InputPath:  filepath.Join(dir, "missing"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}
	op := makeOperation(cohort.TagSequential, world.Endpoint(1).Workers(), m, testBlockSize)

	ec := op.Setup()
	if ec.OK() || ec == cargo.TransferInProgress {
		t.Fatalf("expected setup to fail, got %s", ec.Name())
	}
	if ec.Category != cargo.SystemError {
		t.Fatalf("expected a system error, got %s", ec.Name())
	}
}

func TestThrottleSlowsSteps(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "in"), seededData(256))

	world := cohort.NewWorld(1)
	defer world.Finalize()

	m := proto.TransferMessage{
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}
	op := makeOperation(cohort.TagSequential, world.Endpoint(1).Workers(), m, testBlockSize)

	if ec := op.Setup(); ec != cargo.TransferInProgress {
		t.Fatalf("setup: %s", ec.Name())
	}

	op.Shape(1)
	start := time.Now()
	if next := op.Progress(0); next != 1 {
		t.Fatalf("expected index 1, got %d", next)
	}
	if elapsed := time.Since(start); elapsed < throttleQuantum {
		t.Fatalf("throttled step finished in %s, expected at least %s", elapsed, throttleQuantum)
	}
}

func TestThrottleClampsAtZero(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "in"), seededData(256))

	world := cohort.NewWorld(1)
	defer world.Finalize()

	m := proto.TransferMessage{
		InputPath:  filepath.Join(dir, "in"),
		InputKind:  cargo.DatasetPosix,
		OutputPath: filepath.Join(dir, "out"),
		OutputKind: cargo.DatasetPosix,
	}
	op := makeOperation(cohort.TagSequential, world.Endpoint(1).Workers(), m, testBlockSize)

	if ec := op.Setup(); ec != cargo.TransferInProgress {
		t.Fatalf("setup: %s", ec.Name())
	}

	// A negative delta that would drive the throttle below zero means no
	// effective sleep.
	op.Shape(-5)
	start := time.Now()
	op.Progress(0)
	if elapsed := time.Since(start); elapsed >= throttleQuantum {
		t.Fatalf("unthrottled step took %s", elapsed)
	}
}

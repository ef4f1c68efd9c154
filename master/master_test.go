// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/client"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/worker"
)

type testDaemon struct {
	srv     *Server
	cli     *client.Server
	world   *cohort.World
	workers sync.WaitGroup
	runDone chan struct{}
}

func startTestDaemon(t *testing.T, nworkers int) *testDaemon {
	t.Helper()

	cfg := NewConfig()
	cfg.Name = "cargo-test"
	cfg.NumWorkers = nworkers
	cfg.BlockSizeKB = 1

	sock, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	d := &testDaemon{
		world:   cohort.NewWorld(nworkers),
		runDone: make(chan struct{}),
	}

	for rank := 1; rank <= nworkers; rank++ {
		d.workers.Add(1)
		go func(rank int) {
			defer d.workers.Done()
			worker.New(d.world.Endpoint(rank), cfg.BlockSize()).Run()
		}(rank)
	}

	d.srv = New(cfg, d.world)
	go func() {
		d.srv.Run(sock)
		close(d.runDone)
	}()

	cli, err := client.NewServer("tcp://" + sock.Addr().String())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	d.cli = cli
	return d
}

func (d *testDaemon) stop(t *testing.T) {
	t.Helper()
	if err := client.Shutdown(d.cli); err != nil {
		t.Fatalf("shutdown failed: %s", err)
	}
	select {
	case <-d.runDone:
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not finalize")
	}
	d.workers.Wait()
	d.cli.Close()
}

func seedFiles(t *testing.T, dir, prefix string, n, size int) [][]byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	contents := make([][]byte, n)
	for i := 0; i < n; i++ {
		data := make([]byte, size)
		rng.Read(data)
		contents[i] = data
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("err: %s", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%d", prefix, i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("err: %s", err)
		}
	}
	return contents
}

func TestPing(t *testing.T) {
	defer leaktest.CheckTimeout(t, 15*time.Second)()

	d := startTestDaemon(t, 1)
	if err := client.Ping(d.cli); err != nil {
		t.Fatalf("ping failed: %s", err)
	}
	d.stop(t)
}

func TestParallelReadTransfer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 30*time.Second)()

	d := startTestDaemon(t, 2)
	dir := t.TempDir()

	const nfiles = 10
	contents := seedFiles(t, filepath.Join(dir, "src"), "source-dataset", nfiles, 1000)

	var sources, targets []cargo.Dataset
	for i := 0; i < nfiles; i++ {
		sources = append(sources, cargo.Dataset{
			Path: filepath.Join(dir, "src", fmt.Sprintf("source-dataset-%d", i)),
			Kind: cargo.DatasetParallel,
		})
		targets = append(targets, cargo.Dataset{
			Path: filepath.Join(dir, "dst", fmt.Sprintf("target-dataset-%d", i)),
			Kind: cargo.DatasetPosix,
		})
	}

	tx, err := client.TransferDatasets(d.cli, sources, targets)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	st, err := tx.Wait()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !st.Done() {
		t.Fatalf("transfer did not complete: %+v", st)
	}

	for i := 0; i < nfiles; i++ {
		got, err := os.ReadFile(targets[i].Path)
		if err != nil {
			t.Fatalf("target %d: %s", i, err)
		}
		if !bytes.Equal(got, contents[i]) {
			t.Fatalf("target %d differs from source", i)
		}
	}

	d.stop(t)
}

func TestParallelWriteTransfer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 30*time.Second)()

	d := startTestDaemon(t, 2)
	dir := t.TempDir()

	const nfiles = 10
	contents := seedFiles(t, filepath.Join(dir, "src"), "source-dataset", nfiles, 10000)

	var sources, targets []cargo.Dataset
	for i := 0; i < nfiles; i++ {
		sources = append(sources, cargo.Dataset{
			Path: filepath.Join(dir, "src", fmt.Sprintf("source-dataset-%d", i)),
			Kind: cargo.DatasetPosix,
		})
		targets = append(targets, cargo.Dataset{
			Path: filepath.Join(dir, "dst", fmt.Sprintf("target-dataset-%d", i)),
			Kind: cargo.DatasetParallel,
		})
	}

	tx, err := client.TransferDatasets(d.cli, sources, targets)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	st, err := tx.Wait()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !st.Done() {
		t.Fatalf("transfer did not complete: %+v", st)
	}

	for i := 0; i < nfiles; i++ {
		got, err := os.ReadFile(targets[i].Path)
		if err != nil {
			t.Fatalf("target %d: %s", i, err)
		}
		if !bytes.Equal(got, contents[i]) {
			t.Fatalf("target %d differs from source", i)
		}
	}

	d.stop(t)
}

func TestRepeatedTransferOverwrites(t *testing.T) {
	defer leaktest.CheckTimeout(t, 30*time.Second)()

	d := startTestDaemon(t, 2)
	dir := t.TempDir()

	contents := seedFiles(t, filepath.Join(dir, "src"), "f", 1, 3000)
	sources := []cargo.Dataset{{Path: filepath.Join(dir, "src", "f-0"), Kind: cargo.DatasetPosix}}
	targets := []cargo.Dataset{{Path: filepath.Join(dir, "dst", "f-0"), Kind: cargo.DatasetPosix}}

	for round := 0; round < 2; round++ {
		tx, err := client.TransferDatasets(d.cli, sources, targets)
		if err != nil {
			t.Fatalf("round %d: %s", round, err)
		}
		if st, err := tx.Wait(); err != nil || !st.Done() {
			t.Fatalf("round %d did not complete: %+v %v", round, st, err)
		}
	}

	got, err := os.ReadFile(targets[0].Path)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !bytes.Equal(got, contents[0]) {
		t.Fatal("repeated transfer mangled the target")
	}

	d.stop(t)
}

func TestDirectoryExpansionTransfer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 30*time.Second)()

	d := startTestDaemon(t, 2)
	dir := t.TempDir()

	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeTestFile(t, filepath.Join(src, "a"), []byte("alpha"))
	writeTestFile(t, filepath.Join(src, "sub", "b"), []byte("bravo"))
	writeTestFile(t, filepath.Join(src, "sub", "c"), []byte("charlie"))

	tx, err := client.TransferDatasets(d.cli,
		[]cargo.Dataset{{Path: src + "/", Kind: cargo.DatasetPosix}},
		[]cargo.Dataset{{Path: dst + "/", Kind: cargo.DatasetPosix}})
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	st, err := tx.Wait()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !st.Done() {
		t.Fatalf("transfer did not complete: %+v", st)
	}

	statuses, err := tx.Statuses()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 per-file statuses, got %d", len(statuses))
	}
	for _, fs := range statuses {
		if fs.State != cargo.StateCompleted {
			t.Fatalf("file %q not completed: %+v", fs.Name, fs)
		}
	}

	for _, rel := range []string{"a", filepath.Join("sub", "b"), filepath.Join("sub", "c")} {
		want, _ := os.ReadFile(filepath.Join(src, rel))
		got, err := os.ReadFile(filepath.Join(dst, rel))
		if err != nil {
			t.Fatalf("%s: %s", rel, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s differs from source", rel)
		}
	}

	d.stop(t)
}

func TestMismatchedVectorsRejected(t *testing.T) {
	defer leaktest.CheckTimeout(t, 15*time.Second)()

	d := startTestDaemon(t, 1)

	_, err := client.TransferDatasets(d.cli,
		[]cargo.Dataset{{Path: "/a"}, {Path: "/b"}},
		[]cargo.Dataset{{Path: "/c"}})
	if err == nil {
		t.Fatal("expected mismatched vectors to be rejected")
	}

	d.stop(t)
}

func TestBWControlOfUnknownTransfer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 15*time.Second)()

	d := startTestDaemon(t, 1)

	if err := client.BWControl(d.cli, 4242, 1); err != cargo.NoSuchTransfer {
		t.Fatalf("expected no_such_transfer, got %v", err)
	}

	d.stop(t)
}

func TestBWControlAccepted(t *testing.T) {
	defer leaktest.CheckTimeout(t, 30*time.Second)()

	d := startTestDaemon(t, 1)
	dir := t.TempDir()

	seedFiles(t, filepath.Join(dir, "src"), "f", 1, 200*1024)
	sources := []cargo.Dataset{{Path: filepath.Join(dir, "src", "f-0"), Kind: cargo.DatasetPosix}}
	targets := []cargo.Dataset{{Path: filepath.Join(dir, "dst", "f-0"), Kind: cargo.DatasetPosix}}

	tx, err := client.TransferDatasets(d.cli, sources, targets)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	if err := tx.Shape(2); err != nil {
		t.Fatalf("shaping up failed: %s", err)
	}
	if err := tx.Shape(-2); err != nil {
		t.Fatalf("shaping down failed: %s", err)
	}

	if st, err := tx.Wait(); err != nil || !st.Done() {
		t.Fatalf("transfer did not complete: %+v %v", st, err)
	}

	d.stop(t)
}

func TestFTIODeferredStaging(t *testing.T) {
	defer leaktest.CheckTimeout(t, 60*time.Second)()

	d := startTestDaemon(t, 2)
	dir := t.TempDir()

	src := filepath.Join(dir, "adhoc")
	dst := filepath.Join(dir, "pfs")
	writeTestFile(t, filepath.Join(src, "stage-0"), []byte("settled data 0"))
	writeTestFile(t, filepath.Join(src, "stage-1"), []byte("settled data 1"))

	// Make the sources quiescent: their mtime must fall outside the 5 s
	// window before FTIO will stage them.
	old := time.Now().Add(-time.Minute)
	for _, f := range []string{"stage-0", "stage-1"} {
		if err := os.Chtimes(filepath.Join(src, f), old, old); err != nil {
			t.Fatalf("err: %s", err)
		}
	}

	if err := client.FTIO(d.cli, 0.9, 0.9, 1, false); err != nil {
		t.Fatalf("err: %s", err)
	}

	tx, err := client.TransferDatasets(d.cli,
		[]cargo.Dataset{{Path: src, Kind: cargo.DatasetAdhocA}},
		[]cargo.Dataset{{Path: dst, Kind: cargo.DatasetPosix}})
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		st, err := tx.Status()
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if st.Done() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("deferred stage did not complete: %+v", st)
		}
		time.Sleep(200 * time.Millisecond)
	}

	for _, f := range []string{"stage-0", "stage-1"} {
		if _, err := os.Stat(filepath.Join(dst, f)); err != nil {
			t.Fatalf("staged target %s missing: %s", f, err)
		}
		// Completed FTIO stages unlink their sources.
		if _, err := os.Stat(filepath.Join(src, f)); !os.IsNotExist(err) {
			t.Fatalf("source %s was not unlinked", f)
		}
	}

	d.stop(t)
}

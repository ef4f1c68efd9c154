/**

Cargo is a scalable parallel data-staging service for HPC environments. A
long-lived coordinator accepts requests to move collections of datasets
between storage systems and fans each request out across a pool of worker
processes that stripe file blocks among themselves to maximize aggregate
bandwidth.

Use cases include:
  * Stage-in from a parallel filesystem to node-local ad-hoc storage.
  * Stage-out of application results to a parallel filesystem.
  * Draining an ad-hoc burst-buffer before teardown.
  * Deferred staging driven by an external I/O scheduler (FTIO).

This package holds the client-visible core types: datasets, transfer states
and the error model shared by the coordinator, the workers and the client
library.
*/

package cargo

import "strings"

// TransferID identifies one transfer request for the lifetime of a
// coordinator process. IDs are monotonic and never reused.
type TransferID uint64

// DatasetKind selects the storage backend a dataset lives on.
type DatasetKind uint32

// Known dataset kinds. The zero value is DatasetPosix.
const (
	DatasetPosix DatasetKind = iota
	DatasetParallel
	DatasetNone
	DatasetAdhocA
	DatasetAdhocB
	DatasetAdhocC
	DatasetObjectStore
)

var kindNames = map[DatasetKind]string{
	DatasetPosix:       "posix",
	DatasetParallel:    "parallel",
	DatasetNone:        "none",
	DatasetAdhocA:      "adhoc-A",
	DatasetAdhocB:      "adhoc-B",
	DatasetAdhocC:      "adhoc-C",
	DatasetObjectStore: "object-store",
}

func (k DatasetKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseDatasetKind resolves a client-visible kind tag to a DatasetKind.
func ParseDatasetKind(s string) (DatasetKind, bool) {
	for k, n := range kindNames {
		if n == strings.TrimSpace(s) {
			return k, true
		}
	}
	return DatasetPosix, false
}

// Dataset names a path on a particular storage backend.
type Dataset struct {
	Path string
	Kind DatasetKind
}

// NewDataset returns a Dataset for path on the given backend kind.
func NewDataset(path string, kind DatasetKind) Dataset {
	return Dataset{Path: path, Kind: kind}
}

// SupportsParallelTransfer reports whether the dataset may take part in
// cohort-collective I/O.
func (d Dataset) SupportsParallelTransfer() bool {
	return d.Kind == DatasetParallel
}

// TransferState is the state of a transfer, a file within a transfer, or a
// single worker's part of a file.
type TransferState uint32

// Transfer states. Transitions are monotonic: pending -> running ->
// {completed, failed}. A completed part is terminal and never reverted.
const (
	StatePending TransferState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

/**

The master package implements the cargo coordinator: the long-lived process
rank that accepts transfer requests over the control transport, expands
directories into per-file work, dispatches that work to the worker cohort,
and aggregates the progress the workers stream back.

The coordinator runs three cooperative tasks: the RPC service, the cohort
listener applying worker status messages to the request manager, and the
FTIO scheduler driving deferred staging.
*/

package master

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pborman/uuid"
	"google.golang.org/grpc"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/proto"
	"github.com/admire-eurohpc/cargo/transport"
)

// Server is the coordinator.
type Server struct {
	config *Config
	world  *cohort.World
	ep     *cohort.Endpoint

	rm    *requestManager
	stats *transferStats
	ftio  *ftioScheduler

	opID       uint64
	instanceID string

	namesMu sync.RWMutex
	names   map[uint64][]string

	shutdownOnce sync.Once
	shutdown     chan struct{}
	listenerDone chan struct{}

	grpcServer *grpc.Server
}

// New returns a coordinator bound to rank 0 of world.
func New(cfg *Config, world *cohort.World) *Server {
	s := &Server{
		config:       cfg,
		world:        world,
		ep:           world.Endpoint(0),
		rm:           newRequestManager(world.NumWorkers()),
		stats:        newTransferStats(),
		instanceID:   uuid.New(),
		names:        make(map[uint64][]string),
		shutdown:     make(chan struct{}),
		listenerDone: make(chan struct{}),
	}
	s.ftio = newFTIOScheduler(s)
	return s
}

// Run serves the control surface on sock and blocks until a shutdown RPC
// has been served and the finalization sequence has completed. Finalization
// order: cohort listener, FTIO scheduler, cohort transport, control
// transport.
func (s *Server) Run(sock net.Listener) error {
	audit.Logf("%s: cargo coordinator %s ready on %s (%d workers, block size %s)",
		s.config.Name, s.instanceID, sock.Addr(), s.world.NumWorkers(),
		s.config.BlockSizeText())

	s.grpcServer = transport.NewServer(s)

	go s.cohortListener()
	go s.ftio.run()
	s.stats.start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(sock)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-s.shutdown:
	}

	<-s.listenerDone
	s.ftio.stop()
	s.stats.stop()
	s.world.Finalize()
	s.grpcServer.GracefulStop()

	debug.Printf("%s: coordinator finalized", s.config.Name)
	return nil
}

// RequestShutdown begins graceful shutdown, exactly as if a shutdown RPC
// had been served. Signal handlers use it.
func (s *Server) RequestShutdown() {
	s.beginShutdown()
}

// beginShutdown flips the process-wide shutting-down flag exactly once.
func (s *Server) beginShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Server) nextOpID() uint64 {
	return atomic.AddUint64(&s.opID, 1)
}

func (s *Server) setNames(tid uint64, names []string) {
	s.namesMu.Lock()
	s.names[tid] = names
	s.namesMu.Unlock()
}

func (s *Server) fileName(tid uint64, seqno uint32) string {
	s.namesMu.RLock()
	defer s.namesMu.RUnlock()
	names, ok := s.names[tid]
	if !ok || int(seqno) >= len(names) {
		return ""
	}
	return names[seqno]
}

// dispatch fans the expanded (source, target) pairs out to every worker in
// the cohort, one control message per file per worker.
func (s *Server) dispatch(tid uint64, sources, targets []cargo.Dataset) error {
	names := make([]string, len(sources))
	for i := range sources {
		names[i] = sources[i].Path
	}
	s.setNames(tid, names)

	for i := range sources {
		if err := prepareTarget(targets[i]); err != nil {
			return err
		}

		tag := transferTag(sources[i], targets[i])
		m := proto.TransferMessage{
			TID:        tid,
			Seqno:      uint32(i),
			InputPath:  sources[i].Path,
			InputKind:  sources[i].Kind,
			OutputPath: targets[i].Path,
			OutputKind: targets[i].Kind,
		}

		debug.Printf("dispatching %s as %s", m, tag)
		for rank := 1; rank < s.world.Size(); rank++ {
			if err := s.ep.Send(rank, tag, m); err != nil {
				return err
			}
			s.stats.started(tid)
		}
	}
	return nil
}

// broadcastShaping forwards a throttle delta to every worker.
func (s *Server) broadcastShaping(tid uint64, shaping int16) {
	m := proto.ShaperMessage{TID: tid, Shaping: shaping}
	for rank := 1; rank < s.world.Size(); rank++ {
		if err := s.ep.Send(rank, cohort.TagBwShaping, m); err != nil {
			alert.Warnf("shaping broadcast to rank %d failed: %v", rank, err)
		}
	}
}

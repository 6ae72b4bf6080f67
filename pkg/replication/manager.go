package replication

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/downfa11-org/logcleaner/util"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// Manager is the replication collaborator the segment manager and cleaner
// consult for diskUtilization() and for durability acknowledgement before
// freeing a pass's input segments. Grounded on the teacher's
// RaftReplicationManager, reworked from a multi-node TCP-transport cluster
// to a single-voter in-memory-transport Raft group: the log cleaner's
// backup path only needs durable replication semantics, not real network
// fan-out, and an in-memory transport keeps the pass deterministic and
// testable without spinning up sockets.
type Manager struct {
	raft     *raft.Raft
	fsm      *SegmentFSM
	capacity int64

	applyTimeout time.Duration
}

// Config controls how the replication manager's single-node Raft group is
// constructed.
type Config struct {
	NodeID       string
	CapacityBytes int64
	ApplyTimeout time.Duration
}

// NewManager builds a single-voter Raft group over an in-memory transport
// and bootstraps it immediately, so ReplicateClosed can Apply from the
// moment NewManager returns.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NodeID == "" {
		cfg.NodeID = "cleanerd-" + uuid.NewString()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 200 * time.Millisecond
	raftCfg.ElectionTimeout = 200 * time.Millisecond
	raftCfg.CommitTimeout = 20 * time.Millisecond
	raftCfg.LogLevel = "Warn"

	fsm := NewSegmentFSM()

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshots := raft.NewInmemSnapshotStore()

	_, transport := raft.NewInmemTransport(raft.ServerAddress(cfg.NodeID))

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("replication: new raft: %w", err)
	}

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr(), Suffrage: raft.Voter},
		},
	})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("replication: bootstrap: %w", err)
	}

	m := &Manager{
		raft:         r,
		fsm:          fsm,
		capacity:     cfg.CapacityBytes,
		applyTimeout: cfg.ApplyTimeout,
	}

	if err := m.awaitLeadership(10 * time.Second); err != nil {
		return nil, err
	}
	return m, nil
}

// awaitLeadership blocks until the single-voter group elects itself leader,
// which happens quickly but not instantaneously after bootstrap.
func (m *Manager) awaitLeadership(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.raft.State() == raft.Leader {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("replication: node never became leader within %s", timeout)
}

// ReplicateClosed durably replicates a closed segment's bytes (compressed
// with lz4) via Raft consensus. It blocks until the write is committed,
// which is what lets the segment manager safely free the corresponding
// live segment's seglets afterward.
func (m *Manager) ReplicateClosed(segmentID uint64, data []byte) error {
	compressed, err := compress(data)
	if err != nil {
		return err
	}
	cmd := backupCommand{SegmentID: segmentID, Payload: compressed, OriginalLen: len(data)}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("replication: marshal backup command: %w", err)
	}

	future := m.raft.Apply(payload, m.applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("replication: apply backup for segment %d: %w", segmentID, err)
	}
	if errIface := future.Response(); errIface != nil {
		if err, ok := errIface.(error); ok {
			return fmt.Errorf("replication: fsm rejected backup for segment %d: %w", segmentID, err)
		}
	}
	util.Debug("replication: segment %d durably replicated (%d bytes raw)", segmentID, len(data))
	return nil
}

// Fetch returns the decompressed durable copy of a segment's bytes, e.g.
// for a restart-time restore.
func (m *Manager) Fetch(segmentID uint64) ([]byte, bool, error) {
	entry, ok := m.fsm.Get(segmentID)
	if !ok {
		return nil, false, nil
	}
	raw, err := decompress(entry.CompressedBytes, entry.OriginalLen)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Forget releases a segment's durable backup once every replica has freed
// the corresponding live segment.
func (m *Manager) Forget(segmentID uint64) {
	m.fsm.Forget(segmentID)
}

// Used implements segment.DiskUsage.
func (m *Manager) Used() int64 { return m.fsm.UsedBytes() }

// Capacity implements segment.DiskUsage.
func (m *Manager) Capacity() int64 { return m.capacity }

// Shutdown releases the Raft group's resources.
func (m *Manager) Shutdown() error {
	if err := m.raft.Shutdown().Error(); err != nil {
		fmt.Fprintf(os.Stderr, "replication: shutdown error: %v\n", err)
		return err
	}
	return nil
}

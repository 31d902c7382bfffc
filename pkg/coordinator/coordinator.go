package coordinator

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures a Coordinator's single-voter raft bootstrap.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Coordinator is the Append Coordinator: it owns the raft instance
// that serializes every Append through CoordinatorFSM.Apply.
type Coordinator struct {
	cfg  Config
	raft *raft.Raft
	fsm  *CoordinatorFSM
	log  zerolog.Logger
}

// New wires a Coordinator to the given log, index, and commit bus but
// does not yet start raft; call Bootstrap to do that.
func New(cfg Config, txLog *txlog.Log, idx *index.Index, broker *bus.Broker, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		fsm: NewCoordinatorFSM(txLog, idx, broker),
		log: logger,
	}
}

// Bootstrap starts a single-voter raft cluster backing this
// coordinator. Real multi-node membership and election are explicitly
// out of scope; this always bootstraps the local node as the cluster's
// only member, reusing raft purely for its ordered, durable-before-ack
// Apply pipeline and its Snapshot/Restore machinery.
func (c *Coordinator) Bootstrap() error {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("coordinator: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(c.cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", c.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("coordinator: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(c.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("coordinator: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("coordinator: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("coordinator: create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("coordinator: create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("coordinator: create raft: %w", err)
	}
	c.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("coordinator: bootstrap raft cluster: %w", err)
	}

	return nil
}

const applyTimeout = 10 * time.Second

// Append proposes a batch of events to a stream under expected-version
// checking, returning the commit position and first assigned event
// number on success.
func (c *Coordinator) Append(streamID string, expectedVersion types.EventNumber, events []types.ProposedEvent) (types.LogPosition, types.EventNumber, error) {
	raw, err := marshalCommand(opAppend, AppendCommand{StreamID: streamID, ExpectedVersion: expectedVersion, Events: events})
	if err != nil {
		return types.LogPosition{}, 0, fmt.Errorf("coordinator: encode append command: %w", err)
	}

	future := c.raft.Apply(raw, applyTimeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader {
			return types.LogPosition{}, 0, types.ErrNotReady
		}
		return types.LogPosition{}, 0, fmt.Errorf("%w: %v", types.ErrCommitTimeout, err)
	}

	result, ok := future.Response().(*AppendResult)
	if !ok {
		return types.LogPosition{}, 0, fmt.Errorf("coordinator: unexpected apply response type %T", future.Response())
	}
	if result.Err != nil {
		return types.LogPosition{}, 0, result.Err
	}
	return result.Position, result.FirstEventNumber, nil
}

// MarkDeleted hard- or soft-deletes a stream through the same
// serialized raft pipeline as Append.
func (c *Coordinator) MarkDeleted(streamID string, hard bool) error {
	raw, err := marshalCommand(opMarkDeleted, MarkDeletedCommand{StreamID: streamID, Hard: hard})
	if err != nil {
		return err
	}
	future := c.raft.Apply(raw, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCommitTimeout, err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// SetStreamMetadata updates a stream's enforced metadata through the
// same serialized raft pipeline as Append.
func (c *Coordinator) SetStreamMetadata(streamID string, md types.StreamMetadata) error {
	raw, err := marshalCommand(opSetMetadata, SetMetadataCommand{StreamID: streamID, Metadata: md})
	if err != nil {
		return err
	}
	future := c.raft.Apply(raw, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCommitTimeout, err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// Shutdown stops the raft instance.
func (c *Coordinator) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}

// IsLeader reports whether this node currently holds raft leadership.
func (c *Coordinator) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// Stats exposes the underlying raft instance's stats map (last_log_index,
// applied_index, ...) for metrics collection.
func (c *Coordinator) Stats() map[string]string {
	if c.raft == nil {
		return nil
	}
	return c.raft.Stats()
}

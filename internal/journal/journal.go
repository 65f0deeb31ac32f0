package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ThreadMR/internal/logger"
	"ThreadMR/internal/types"

	raft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const (
	logsFile     = "journal-logs.db"
	stableFile   = "journal-stable.db"
	snapshotsDir = "snapshots"
)

// Journal is a single-voter raft group that replicates job events into an
// FSM. It keeps an audit trail of the current run; nothing is restored
// from a previous run.
type Journal struct {
	nodeID        string
	raft          *raft.Raft
	fsm           *FSM
	logStore      raft.LogStore
	stableStore   raft.StableStore
	snapshotStore raft.SnapshotStore
	transport     *raft.InmemTransport
	applyTimeout  time.Duration
	logger        *logger.Logger
}

// Config for opening a journal
type Config struct {
	NodeID       string        // Raft server id, generated when empty
	DataDir      string        // Bolt-backed log and snapshots; in-memory when empty
	ApplyTimeout time.Duration // Per-entry apply timeout, 5s when zero
	Logger       *logger.Logger
}

// Open starts a journal and blocks until it has elected itself leader.
// Journal files left in DataDir by an earlier run are removed first.
func Open(cfg Config) (*Journal, error) {
	if cfg.NodeID == "" {
		cfg.NodeID = "journal-" + uuid.New().String()[:8]
	}
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}

	lg := cfg.Logger
	if lg == nil {
		lg = logger.New("INFO").Named("journal")
	}
	lg.Info("Opening job journal: node_id=%s data_dir=%q", cfg.NodeID, cfg.DataDir)

	j := &Journal{
		nodeID:       cfg.NodeID,
		fsm:          NewFSM(lg),
		applyTimeout: cfg.ApplyTimeout,
		logger:       lg,
	}

	if err := j.openStores(cfg.DataDir); err != nil {
		j.closeStores()
		return nil, err
	}

	addr, transport := raft.NewInmemTransport(raft.ServerAddress(cfg.NodeID))
	j.transport = transport

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 200 * time.Millisecond
	raftCfg.ElectionTimeout = 200 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 100 * time.Millisecond
	raftCfg.SnapshotInterval = 2 * time.Second
	raftCfg.SnapshotThreshold = 20
	raftCfg.LogOutput = lg.Writer()
	raftCfg.LogLevel = "INFO"

	r, err := raft.NewRaft(raftCfg, j.fsm, j.logStore, j.stableStore, j.snapshotStore, transport)
	if err != nil {
		lg.Error("Failed to create raft instance: %v", err)
		j.closeStores()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	j.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				Suffrage: raft.Voter,
				ID:       raft.ServerID(cfg.NodeID),
				Address:  addr,
			},
		},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil {
		lg.Error("Failed to bootstrap journal: %v", err)
		j.Close()
		return nil, fmt.Errorf("failed to bootstrap journal: %w", err)
	}

	if err := j.WaitForLeader(5 * time.Second); err != nil {
		j.Close()
		return nil, err
	}

	lg.Info("Job journal ready: node_id=%s", cfg.NodeID)
	return j, nil
}

func (j *Journal) openStores(dataDir string) error {
	if dataDir == "" {
		j.logStore = raft.NewInmemStore()
		j.stableStore = raft.NewInmemStore()
		j.snapshotStore = raft.NewInmemSnapshotStore()
		return nil
	}

	for _, name := range []string{logsFile, stableFile, snapshotsDir} {
		if err := os.RemoveAll(filepath.Join(dataDir, name)); err != nil {
			return fmt.Errorf("failed to clear journal file %s: %w", name, err)
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		j.logger.Error("Failed to create data directory: %v", err)
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, logsFile))
	if err != nil {
		j.logger.Error("Failed to create log store: %v", err)
		return fmt.Errorf("failed to create log store: %w", err)
	}
	j.logStore = logStore

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, stableFile))
	if err != nil {
		j.logger.Error("Failed to create stable store: %v", err)
		return fmt.Errorf("failed to create stable store: %w", err)
	}
	j.stableStore = stableStore

	snapshotStore, err := raft.NewFileSnapshotStore(dataDir, 3, j.logger.Writer())
	if err != nil {
		j.logger.Error("Failed to create snapshot store: %v", err)
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}
	j.snapshotStore = snapshotStore
	return nil
}

// Record appends one event to the journal and waits until it is applied.
func (j *Journal) Record(entryType, operation string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	entry := types.LogEntry{
		Type:      entryType,
		Operation: operation,
		Data:      data,
		Timestamp: time.Now(),
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f := j.raft.Apply(buf, j.applyTimeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("failed to apply entry: %w", err)
	}
	if err, ok := f.Response().(error); ok {
		return err
	}
	return nil
}

// State returns a copy of the journaled job state.
func (j *Journal) State() *types.JobState {
	return j.fsm.GetState()
}

// IsLeader returns true if this node is the current leader
func (j *Journal) IsLeader() bool {
	return j.raft.State() == raft.Leader
}

// WaitForLeader waits until the journal has elected itself
func (j *Journal) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if j.IsLeader() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	return fmt.Errorf("journal %s not leader within %s", j.nodeID, timeout)
}

// Stats returns the raft statistics
func (j *Journal) Stats() map[string]string {
	return j.raft.Stats()
}

// Close stops raft and releases the stores.
func (j *Journal) Close() error {
	var errs []error
	if j.raft != nil {
		if err := j.raft.Shutdown().Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if j.transport != nil {
		if err := j.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, j.closeStores())
	return errors.Join(errs...)
}

func (j *Journal) closeStores() error {
	var errs []error
	for _, s := range []interface{}{j.logStore, j.stableStore} {
		if closer, ok := s.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	j.logStore, j.stableStore = nil, nil
	return errors.Join(errs...)
}

// ReadLog returns the command entries kept in the log store of a closed
// journal in dataDir, oldest first. Entries compacted into a snapshot
// beyond raft's trailing log window are not included.
func ReadLog(dataDir string) ([]types.LogEntry, error) {
	path := filepath.Join(dataDir, logsFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	first, err := store.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to read first index: %w", err)
	}
	last, err := store.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to read last index: %w", err)
	}

	var entries []types.LogEntry
	if last == 0 {
		return entries, nil
	}
	for i := first; i <= last; i++ {
		var l raft.Log
		if err := store.GetLog(i, &l); err != nil {
			if errors.Is(err, raft.ErrLogNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read log %d: %w", i, err)
		}
		if l.Type != raft.LogCommand {
			continue
		}
		var entry types.LogEntry
		if err := json.Unmarshal(l.Data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode log %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"ThreadMR/internal/logger"
	"ThreadMR/internal/partition"
	"ThreadMR/internal/types"
	raft "github.com/hashicorp/raft"
)

var phaseOrder = map[types.Phase]int{
	types.PhaseMap:      0,
	types.PhaseReduce:   1,
	types.PhaseFinished: 2,
}

// FSM implements the Finite State Machine for Raft
// It folds journaled job events into a JobState
type FSM struct {
	mu     sync.RWMutex
	state  *types.JobState
	logger *logger.Logger
}

// NewFSM creates a new FSM with initial state
func NewFSM(lg *logger.Logger) *FSM {
	if lg == nil {
		lg = logger.Discard()
	}
	return &FSM{
		state:  newJobState(),
		logger: lg,
	}
}

func newJobState() *types.JobState {
	return &types.JobState{
		Phase:     types.PhaseMap,
		Artifacts: make(map[int][]string),
	}
}

// Apply implements raft.FSM - processes a log entry committed by Raft
func (f *FSM) Apply(log *raft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entry types.LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		f.logger.Error("Failed to unmarshal log entry: %v", err)
		return fmt.Errorf("failed to unmarshal log entry: %w", err)
	}

	f.logger.Debug("Applying log entry: type=%s operation=%s", entry.Type, entry.Operation)

	var err error
	switch entry.Type {
	case types.EntryJob:
		err = f.applyJob(&entry)
	case types.EntryMap, types.EntryReduce:
		err = f.applyCompletion(&entry)
	case types.EntryTask:
		err = f.applyFailure(&entry)
	case types.EntryPhase:
		err = f.applyPhase(&entry)
	default:
		err = fmt.Errorf("unknown log entry type: %s", entry.Type)
	}
	if err != nil {
		f.logger.Warn("Rejected log entry: type=%s operation=%s: %v", entry.Type, entry.Operation, err)
		return err
	}

	f.state.Version++
	return nil
}

func (f *FSM) applyJob(entry *types.LogEntry) error {
	if entry.Operation != types.OpStart {
		return fmt.Errorf("unknown job operation: %s", entry.Operation)
	}
	var started types.JobStarted
	if err := json.Unmarshal(entry.Data, &started); err != nil {
		return fmt.Errorf("invalid job start data: %w", err)
	}

	f.state.JobID = started.JobID
	f.state.MapTasks = started.MapTasks
	f.state.ReduceTasks = started.ReduceTasks
	f.state.Workers = started.Workers
	f.logger.Info("Job started: job_id=%s maps=%d reduces=%d workers=%d",
		started.JobID, started.MapTasks, started.ReduceTasks, started.Workers)
	return nil
}

func (f *FSM) applyCompletion(entry *types.LogEntry) error {
	if entry.Operation != types.OpComplete {
		return fmt.Errorf("unknown %s operation: %s", entry.Type, entry.Operation)
	}

	if entry.Type == types.EntryReduce {
		f.state.ReducesCompleted++
		return nil
	}

	var done types.MapCompleted
	if err := json.Unmarshal(entry.Data, &done); err != nil {
		return fmt.Errorf("invalid map completion data: %w", err)
	}
	for _, name := range done.Artifacts {
		id, err := partition.ParseReduceID(name)
		if err != nil {
			return err
		}
		f.state.Artifacts[id] = append(f.state.Artifacts[id], name)
	}
	f.state.MapsCompleted++
	return nil
}

func (f *FSM) applyFailure(entry *types.LogEntry) error {
	if entry.Operation != types.OpFail {
		return fmt.Errorf("unknown task operation: %s", entry.Operation)
	}
	var failed types.TaskFailed
	if err := json.Unmarshal(entry.Data, &failed); err != nil {
		return fmt.Errorf("invalid task failure data: %w", err)
	}
	f.state.Failures = append(f.state.Failures, failed)
	return nil
}

func (f *FSM) applyPhase(entry *types.LogEntry) error {
	if entry.Operation != types.OpAdvance {
		return fmt.Errorf("unknown phase operation: %s", entry.Operation)
	}
	var adv types.PhaseAdvanced
	if err := json.Unmarshal(entry.Data, &adv); err != nil {
		return fmt.Errorf("invalid phase data: %w", err)
	}

	next, ok := phaseOrder[adv.Phase]
	if !ok {
		return fmt.Errorf("unknown phase: %s", adv.Phase)
	}
	if next <= phaseOrder[f.state.Phase] {
		return fmt.Errorf("phase %s does not follow %s", adv.Phase, f.state.Phase)
	}

	f.logger.Info("Phase advanced: job_id=%s %s -> %s", f.state.JobID, f.state.Phase, adv.Phase)
	f.state.Phase = adv.Phase
	return nil
}

// Snapshot implements raft.FSM - creates a snapshot of the current state
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &snapshot{state: f.state.Clone()}, nil
}

// Restore implements raft.FSM - restores state from a snapshot
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	state := newJobState()
	if err := json.NewDecoder(rc).Decode(state); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if state.Artifacts == nil {
		state.Artifacts = make(map[int][]string)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	return nil
}

// GetState returns a copy of the current job state
func (f *FSM) GetState() *types.JobState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Clone()
}

// snapshot implements raft.FSMSnapshot
type snapshot struct {
	state *types.JobState
}

// Persist writes the snapshot to a sink
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		sink.Cancel()
		return err
	}

	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}

	return sink.Close()
}

// Release is called when we are done with the snapshot
func (s *snapshot) Release() {}

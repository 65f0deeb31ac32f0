package types

import (
	"encoding/json"
	"time"
)

// Phase is the stage a job is in. A job only moves forward.
type Phase string

const (
	PhaseMap      Phase = "map"
	PhaseReduce   Phase = "reduce"
	PhaseFinished Phase = "finished"
)

// Journal entry types and operations.
const (
	EntryJob    = "job"
	EntryMap    = "map"
	EntryReduce = "reduce"
	EntryTask   = "task"
	EntryPhase  = "phase"

	OpStart    = "start"
	OpComplete = "complete"
	OpFail     = "fail"
	OpAdvance  = "advance"
)

// LogEntry represents an entry in the job journal
type LogEntry struct {
	Type      string          `json:"type"`      // "job", "map", "reduce", "task", "phase"
	Operation string          `json:"operation"` // "start", "complete", "fail", "advance"
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// JobStarted is recorded once when the coordinator is built.
type JobStarted struct {
	JobID       string `json:"job_id"`
	MapTasks    int    `json:"map_tasks"`
	ReduceTasks int    `json:"reduce_tasks"`
	Workers     int    `json:"workers"`
}

// MapCompleted is recorded for every finished map task.
type MapCompleted struct {
	Artifacts []string `json:"artifacts"`
}

// ReduceCompleted is recorded for every finished reduce task.
type ReduceCompleted struct {
	Remaining int `json:"remaining"`
}

// PhaseAdvanced is recorded when the job moves to the next phase.
type PhaseAdvanced struct {
	Phase Phase `json:"phase"`
}

// TaskFailed is recorded when a worker reports a failed task.
type TaskFailed struct {
	Kind   string `json:"kind"`
	TaskID int    `json:"task_id"`
	Error  string `json:"error"`
}

// JobState is the journal's replicated view of a job.
type JobState struct {
	JobID            string           `json:"job_id"`
	Phase            Phase            `json:"phase"`
	MapTasks         int              `json:"map_tasks"`
	ReduceTasks      int              `json:"reduce_tasks"`
	Workers          int              `json:"workers"`
	MapsCompleted    int              `json:"maps_completed"`
	ReducesCompleted int              `json:"reduces_completed"`
	Artifacts        map[int][]string `json:"artifacts"`
	Failures         []TaskFailed     `json:"failures"`
	Version          int64            `json:"version"`
}

// Clone returns a deep copy of s.
func (s *JobState) Clone() *JobState {
	c := *s
	c.Artifacts = make(map[int][]string, len(s.Artifacts))
	for k, v := range s.Artifacts {
		c.Artifacts[k] = append([]string(nil), v...)
	}
	c.Failures = append([]TaskFailed(nil), s.Failures...)
	return &c
}

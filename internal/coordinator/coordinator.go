package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"ThreadMR/internal/logger"
	"ThreadMR/internal/partition"
	"ThreadMR/internal/types"
)

// Journal receives job lifecycle events. A nil Journal disables recording.
type Journal interface {
	Record(entryType, operation string, payload interface{}) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(lg *logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = lg
	}
}

func WithJournal(j Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithJobID tags journal entries with the owning job.
func WithJobID(id string) Option {
	return func(c *Coordinator) {
		c.jobID = id
	}
}

// bucket collects the intermediate files produced for one reduce task.
type bucket struct {
	mu    sync.Mutex
	files []string
}

func (b *bucket) add(name string) {
	b.mu.Lock()
	b.files = append(b.files, name)
	b.mu.Unlock()
}

func (b *bucket) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

// Coordinator hands out map, reduce and shutdown tasks to a fixed pool of
// workers sharing its memory, and advances the job from map to reduce to
// finished.
type Coordinator struct {
	jobID       string
	workerCount int
	reduceCount int

	remainingMaps    atomic.Int32
	remainingReduces atomic.Int32
	failures         atomic.Int32

	// buckets[i] holds the intermediate files for reduce task i. The slice is
	// sized before any map task is issued and never resized.
	buckets []*bucket
	tasks   chan types.Task

	phaseMu  sync.RWMutex
	phase    types.Phase
	done     chan struct{}
	doneOnce sync.Once

	journal Journal
	logger  *logger.Logger
}

// New builds a coordinator for inputFiles and enqueues one map task per file.
// With no input files the job is finished immediately and only the
// workerCount shutdown tasks are queued.
func New(inputFiles []string, reduceCount, workerCount int, opts ...Option) *Coordinator {
	c := &Coordinator{
		workerCount: workerCount,
		reduceCount: reduceCount,
		phase:       types.PhaseMap,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.New("INFO").Named("coordinator")
	}

	// The coordinator is the only producer and enqueues at most
	// M map + R reduce + W shutdown tasks, so sends never block.
	c.tasks = make(chan types.Task, len(inputFiles)+reduceCount+workerCount)

	c.remainingMaps.Store(int32(len(inputFiles)))
	c.remainingReduces.Store(int32(reduceCount))

	c.buckets = make([]*bucket, reduceCount)
	for i := range c.buckets {
		c.buckets[i] = &bucket{}
	}

	c.record(types.EntryJob, types.OpStart, types.JobStarted{
		JobID:       c.jobID,
		MapTasks:    len(inputFiles),
		ReduceTasks: reduceCount,
		Workers:     workerCount,
	})

	if len(inputFiles) == 0 {
		c.logger.Warn("No input files, finishing job without map or reduce tasks")
		c.finishJob()
		return c
	}

	for id, file := range inputFiles {
		c.tasks <- types.MapTask{ID: id, InputFile: file, ReduceCount: reduceCount}
	}

	c.logger.Info("Coordinator initialized: job_id=%s map_tasks=%d reduce_tasks=%d workers=%d",
		c.jobID, len(inputFiles), reduceCount, workerCount)
	return c
}

// GetTask blocks until a task is available. It never returns nil: once ctx
// is cancelled it returns a ShutdownTask so the caller can exit cleanly.
func (c *Coordinator) GetTask(ctx context.Context) types.Task {
	if ctx.Err() != nil {
		return types.ShutdownTask{}
	}

	select {
	case task := <-c.tasks:
		return task
	case <-ctx.Done():
		return types.ShutdownTask{}
	}
}

// CompleteMapTask registers the intermediate files of one finished map task.
// The call that completes the last map task enqueues the reduce phase.
// Names are validated before anything is registered; on error the task is
// not counted as complete.
func (c *Coordinator) CompleteMapTask(generatedFiles []string) error {
	ids := make([]int, len(generatedFiles))
	for i, name := range generatedFiles {
		id, err := partition.ParseReduceID(name)
		if err != nil {
			return fmt.Errorf("failed to register map output: %w", err)
		}
		if id >= c.reduceCount {
			return fmt.Errorf("failed to register map output %q: reduce id %d out of range [0, %d)", name, id, c.reduceCount)
		}
		ids[i] = id
	}

	for i, name := range generatedFiles {
		c.buckets[ids[i]].add(name)
	}

	// Recorded before the decrement so every map completion precedes the
	// reduce phase entry in the journal.
	c.record(types.EntryMap, types.OpComplete, types.MapCompleted{Artifacts: generatedFiles})

	remaining := c.remainingMaps.Add(-1)
	c.logger.Debug("Map task completed: artifacts=%d remaining=%d", len(generatedFiles), remaining)
	if remaining == 0 {
		c.startReducePhase()
	}
	return nil
}

// CompleteReduceTask counts one finished reduce task. The call that completes
// the last one finishes the job.
func (c *Coordinator) CompleteReduceTask() {
	remaining := c.remainingReduces.Add(-1)
	c.record(types.EntryReduce, types.OpComplete, types.ReduceCompleted{Remaining: int(remaining)})

	c.logger.Debug("Reduce task completed: remaining=%d", remaining)
	if remaining == 0 {
		c.finishJob()
	}
}

// ReportFailure records that a worker could not execute task. Failed tasks
// are not retried or reassigned, so a failure leaves its phase incomplete.
func (c *Coordinator) ReportFailure(task types.Task, err error) {
	c.failures.Add(1)
	c.logger.Error("Task failed: task=%s error=%v", types.Describe(task), err)

	failed := types.TaskFailed{Error: fmt.Sprint(err)}
	switch t := task.(type) {
	case types.MapTask:
		failed.Kind, failed.TaskID = "map", t.ID
	case types.ReduceTask:
		failed.Kind, failed.TaskID = "reduce", t.ID
	default:
		failed.Kind, failed.TaskID = types.Describe(task), -1
	}
	c.record(types.EntryTask, types.OpFail, failed)
}

// Failures returns the number of failures reported so far.
func (c *Coordinator) Failures() int {
	return int(c.failures.Load())
}

// Done is closed once every worker has been sent a shutdown task.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Phase returns the phase the job is currently in.
func (c *Coordinator) Phase() types.Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

// Pending returns the number of queued tasks not yet taken by a worker.
func (c *Coordinator) Pending() int {
	return len(c.tasks)
}

func (c *Coordinator) setPhase(p types.Phase) {
	c.phaseMu.Lock()
	c.phase = p
	c.phaseMu.Unlock()
	c.record(types.EntryPhase, types.OpAdvance, types.PhaseAdvanced{Phase: p})
}

func (c *Coordinator) startReducePhase() {
	c.logger.Info("Map tasks completed, starting reduce phase: reduce_tasks=%d", c.reduceCount)
	c.setPhase(types.PhaseReduce)

	for i := 0; i < c.reduceCount; i++ {
		c.tasks <- types.ReduceTask{ID: i, IntermediateFiles: c.buckets[i].snapshot()}
	}
	if c.reduceCount <= 0 {
		c.finishJob()
	}
}

func (c *Coordinator) finishJob() {
	c.doneOnce.Do(func() {
		c.logger.Info("Job finished, shutting down workers: workers=%d", c.workerCount)
		c.setPhase(types.PhaseFinished)

		for i := 0; i < c.workerCount; i++ {
			c.tasks <- types.ShutdownTask{}
		}
		close(c.done)
	})
}

func (c *Coordinator) record(entryType, op string, payload interface{}) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(entryType, op, payload); err != nil {
		c.logger.Warn("Failed to journal %s/%s: %v", entryType, op, err)
	}
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ThreadMR/internal/logger"
	"ThreadMR/internal/partition"
	"ThreadMR/internal/types"
)

type recordedEntry struct {
	entryType string
	operation string
	payload   interface{}
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (j *fakeJournal) Record(entryType, operation string, payload interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, recordedEntry{entryType, operation, payload})
	return nil
}

func (j *fakeJournal) count(entryType, operation string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e.entryType == entryType && e.operation == operation {
			n++
		}
	}
	return n
}

func newTestCoordinator(files []string, reduceCount, workerCount int, j Journal) *Coordinator {
	opts := []Option{WithLogger(logger.Discard()), WithJobID("job-test")}
	if j != nil {
		opts = append(opts, WithJournal(j))
	}
	return New(files, reduceCount, workerCount, opts...)
}

func mustTask(t *testing.T, c *Coordinator) types.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task := c.GetTask(ctx)
	if ctx.Err() != nil {
		t.Fatalf("GetTask timed out")
	}
	return task
}

func TestNewEnqueuesOneMapTaskPerFile(t *testing.T) {
	files := []string{"in/a.txt", "in/b.txt", "in/c.txt"}
	c := newTestCoordinator(files, 2, 2, nil)

	if c.Phase() != types.PhaseMap {
		t.Fatalf("Phase = %s, want %s", c.Phase(), types.PhaseMap)
	}

	for i, file := range files {
		task, ok := mustTask(t, c).(types.MapTask)
		if !ok {
			t.Fatalf("task %d is not a map task", i)
		}
		want := types.MapTask{ID: i, InputFile: file, ReduceCount: 2}
		if task != want {
			t.Fatalf("task %d = %+v, want %+v", i, task, want)
		}
	}

	if c.Pending() != 0 {
		t.Fatalf("Pending = %d after taking every map task", c.Pending())
	}
	t.Logf("✓ %d map tasks issued in input order", len(files))
}

func TestEmptyInputFinishesImmediately(t *testing.T) {
	j := &fakeJournal{}
	c := newTestCoordinator(nil, 3, 4, j)

	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed for an empty input set")
	}

	if c.Phase() != types.PhaseFinished {
		t.Fatalf("Phase = %s, want %s", c.Phase(), types.PhaseFinished)
	}

	if c.Pending() != 4 {
		t.Fatalf("Pending = %d, want 4 shutdown tasks", c.Pending())
	}
	for i := 0; i < 4; i++ {
		if _, ok := mustTask(t, c).(types.ShutdownTask); !ok {
			t.Fatalf("task %d is not a shutdown task", i)
		}
	}

	if n := j.count(types.EntryPhase, types.OpAdvance); n != 1 {
		t.Fatalf("phase advances = %d, want 1 (finished only)", n)
	}
}

func TestReducePhaseStartsAfterLastMap(t *testing.T) {
	files := []string{"a", "b", "c"}
	c := newTestCoordinator(files, 2, 1, nil)
	for range files {
		mustTask(t, c)
	}

	if err := c.CompleteMapTask([]string{partition.IntermediateName(0, 0), partition.IntermediateName(0, 1)}); err != nil {
		t.Fatalf("CompleteMapTask: %v", err)
	}
	if err := c.CompleteMapTask([]string{partition.IntermediateName(1, 1)}); err != nil {
		t.Fatalf("CompleteMapTask: %v", err)
	}

	if c.Pending() != 0 || c.Phase() != types.PhaseMap {
		t.Fatalf("reduce phase started early: pending=%d phase=%s", c.Pending(), c.Phase())
	}

	if err := c.CompleteMapTask(nil); err != nil {
		t.Fatalf("CompleteMapTask: %v", err)
	}
	if c.Phase() != types.PhaseReduce {
		t.Fatalf("Phase = %s, want %s", c.Phase(), types.PhaseReduce)
	}

	want := map[int][]string{
		0: {partition.IntermediateName(0, 0)},
		1: {partition.IntermediateName(0, 1), partition.IntermediateName(1, 1)},
	}
	for i := 0; i < 2; i++ {
		task, ok := mustTask(t, c).(types.ReduceTask)
		if !ok {
			t.Fatalf("expected a reduce task")
		}
		if task.ID != i {
			t.Fatalf("reduce task id = %d, want %d", task.ID, i)
		}
		if fmt.Sprint(task.IntermediateFiles) != fmt.Sprint(want[i]) {
			t.Fatalf("reduce task %d files = %v, want %v", i, task.IntermediateFiles, want[i])
		}
	}
	t.Logf("✓ reduce phase started only after the last map completion")
}

func TestConcurrentMapCompletionsAdvanceOnce(t *testing.T) {
	const maps, reducers = 200, 4

	files := make([]string, maps)
	for i := range files {
		files[i] = fmt.Sprintf("input-%d", i)
	}

	j := &fakeJournal{}
	c := newTestCoordinator(files, reducers, 3, j)
	for range files {
		mustTask(t, c)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < maps; i++ {
		wg.Add(1)
		go func(mapID int) {
			defer wg.Done()
			<-start
			names := []string{partition.IntermediateName(mapID, mapID%reducers)}
			if err := c.CompleteMapTask(names); err != nil {
				t.Errorf("CompleteMapTask(%d): %v", mapID, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if n := j.count(types.EntryPhase, types.OpAdvance); n != 1 {
		t.Fatalf("phase advances = %d, want exactly 1", n)
	}
	if c.Pending() != reducers {
		t.Fatalf("Pending = %d, want %d reduce tasks", c.Pending(), reducers)
	}

	seen := make(map[string]bool)
	for i := 0; i < reducers; i++ {
		task := mustTask(t, c).(types.ReduceTask)
		if len(task.IntermediateFiles) != maps/reducers {
			t.Fatalf("reduce task %d got %d files, want %d", task.ID, len(task.IntermediateFiles), maps/reducers)
		}
		for _, name := range task.IntermediateFiles {
			id, err := partition.ParseReduceID(name)
			if err != nil || id != task.ID {
				t.Fatalf("file %s routed to reduce task %d", name, task.ID)
			}
			seen[name] = true
		}
	}
	if len(seen) != maps {
		t.Fatalf("registered %d distinct files, want %d", len(seen), maps)
	}
	t.Logf("✓ %d concurrent completions, one reduce phase, no lost artifacts", maps)
}

func TestLastReduceQueuesOneShutdownPerWorker(t *testing.T) {
	const workers = 3
	c := newTestCoordinator([]string{"only"}, 2, workers, nil)
	mustTask(t, c)
	if err := c.CompleteMapTask(nil); err != nil {
		t.Fatalf("CompleteMapTask: %v", err)
	}
	mustTask(t, c)
	mustTask(t, c)

	c.CompleteReduceTask()
	select {
	case <-c.Done():
		t.Fatalf("job finished with a reduce task outstanding")
	default:
	}

	c.CompleteReduceTask()
	<-c.Done()

	if c.Pending() != workers {
		t.Fatalf("Pending = %d, want %d", c.Pending(), workers)
	}
	for i := 0; i < workers; i++ {
		if _, ok := mustTask(t, c).(types.ShutdownTask); !ok {
			t.Fatalf("expected shutdown task %d", i)
		}
	}
}

func TestGetTaskReturnsShutdownOnCancel(t *testing.T) {
	c := newTestCoordinator([]string{"only"}, 1, 1, nil)
	mustTask(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := c.GetTask(ctx).(types.ShutdownTask); !ok {
		t.Fatalf("cancelled GetTask should return a shutdown task")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got := make(chan types.Task, 1)
	go func() { got <- c.GetTask(ctx) }()

	select {
	case task := <-got:
		if _, ok := task.(types.ShutdownTask); !ok {
			t.Fatalf("blocked GetTask returned %s, want shutdown", types.Describe(task))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("GetTask did not return after its context expired")
	}
}

func TestCompleteMapTaskRejectsMalformedNames(t *testing.T) {
	c := newTestCoordinator([]string{"only"}, 2, 1, nil)
	mustTask(t, c)

	err := c.CompleteMapTask([]string{partition.IntermediateName(0, 0), "garbage"})
	if !errors.Is(err, partition.ErrBadName) {
		t.Fatalf("err = %v, want ErrBadName", err)
	}
	if err := c.CompleteMapTask([]string{partition.IntermediateName(0, 5)}); err == nil {
		t.Fatalf("out-of-range reduce id should be rejected")
	}
	if c.Phase() != types.PhaseMap {
		t.Fatalf("rejected completions must not advance the job")
	}

	if err := c.CompleteMapTask([]string{partition.IntermediateName(0, 1)}); err != nil {
		t.Fatalf("CompleteMapTask: %v", err)
	}
	for i := 0; i < 2; i++ {
		task := mustTask(t, c).(types.ReduceTask)
		if task.ID == 0 && len(task.IntermediateFiles) != 0 {
			t.Fatalf("rejected completion leaked %v into bucket 0", task.IntermediateFiles)
		}
	}
}

func TestReportFailureDoesNotAdvance(t *testing.T) {
	j := &fakeJournal{}
	c := newTestCoordinator([]string{"a", "b"}, 1, 2, j)
	task := mustTask(t, c)

	c.ReportFailure(task, errors.New("disk on fire"))

	if c.Failures() != 1 {
		t.Fatalf("Failures = %d, want 1", c.Failures())
	}
	if n := j.count(types.EntryTask, types.OpFail); n != 1 {
		t.Fatalf("journaled failures = %d, want 1", n)
	}
	if c.Phase() != types.PhaseMap {
		t.Fatalf("Phase = %s after a failure, want %s", c.Phase(), types.PhaseMap)
	}
}

func BenchmarkCompleteMapTask(b *testing.B) {
	files := make([]string, b.N)
	for i := range files {
		files[i] = fmt.Sprintf("input-%d", i)
	}
	c := New(files, 8, 1, WithLogger(logger.Discard()))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CompleteMapTask([]string{partition.IntermediateName(i, i%8)})
	}
}

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"ThreadMR/internal/logger"
	"ThreadMR/internal/partition"
	"ThreadMR/internal/types"
)

// TaskSource is the coordinator as seen by a worker.
type TaskSource interface {
	GetTask(ctx context.Context) types.Task
	CompleteMapTask(generatedFiles []string) error
	CompleteReduceTask()
	ReportFailure(task types.Task, err error)
}

// Options controls where a worker reads and writes its artifacts.
type Options struct {
	// WorkDir receives intermediate mr-<map>-<reduce> files.
	WorkDir string
	// OutputDir receives final mr-out-<reduce> files. Created on demand.
	OutputDir string
	// RemoveIntermediate deletes intermediate files once a reduce task has
	// consumed them.
	RemoveIntermediate bool
}

// Stats counts the tasks a worker has finished.
type Stats struct {
	MapTasks    int64
	ReduceTasks int64
}

// Worker pulls tasks from a TaskSource and executes them until it is told
// to shut down or a task fails.
type Worker struct {
	id      string
	source  TaskSource
	mapf    types.MapFunc
	reducef types.ReduceFunc
	opts    Options
	logger  *logger.Logger

	mapTasks    atomic.Int64
	reduceTasks atomic.Int64
}

func New(id string, source TaskSource, mapf types.MapFunc, reducef types.ReduceFunc, opts Options, lg *logger.Logger) *Worker {
	if lg == nil {
		lg = logger.New("INFO").Named("worker")
	}
	return &Worker{
		id:      id,
		source:  source,
		mapf:    mapf,
		reducef: reducef,
		opts:    opts,
		logger:  lg,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Stats() Stats {
	return Stats{
		MapTasks:    w.mapTasks.Load(),
		ReduceTasks: w.reduceTasks.Load(),
	}
}

// Run executes tasks until a shutdown task arrives. A task that fails is
// reported to the source and ends the loop with the task's error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started: worker_id=%s", w.id)

	for {
		task := w.source.GetTask(ctx)
		if _, ok := task.(types.ShutdownTask); ok {
			stats := w.Stats()
			w.logger.Info("Worker finished: worker_id=%s map_tasks=%d reduce_tasks=%d",
				w.id, stats.MapTasks, stats.ReduceTasks)
			return nil
		}

		if err := w.execute(task); err != nil {
			w.source.ReportFailure(task, err)
			return fmt.Errorf("worker %s failed on %s: %w", w.id, types.Describe(task), err)
		}
	}
}

func (w *Worker) execute(task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if w.logger.Enabled(logger.DEBUG) {
		w.logger.Debug("Task received: worker_id=%s task=%s", w.id, types.Describe(task))
	}

	switch t := task.(type) {
	case types.MapTask:
		if err := w.handleMap(t); err != nil {
			return err
		}
		w.mapTasks.Add(1)
	case types.ReduceTask:
		if err := w.handleReduce(t); err != nil {
			return err
		}
		w.reduceTasks.Add(1)
	default:
		return fmt.Errorf("unknown task type %T", task)
	}
	return nil
}

func (w *Worker) handleMap(t types.MapTask) error {
	if t.ReduceCount < 1 {
		return fmt.Errorf("map task %d has reduce count %d", t.ID, t.ReduceCount)
	}

	content, err := os.ReadFile(t.InputFile)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	pairs := w.mapf(t.InputFile, string(content))

	buckets := make([][]types.KeyValue, t.ReduceCount)
	for _, kv := range pairs {
		b := partition.Bucket(kv.Key, t.ReduceCount)
		buckets[b] = append(buckets[b], kv)
	}

	generated := make([]string, 0, t.ReduceCount)
	for reduceID, kvs := range buckets {
		if len(kvs) == 0 {
			continue
		}
		name := filepath.Join(w.opts.WorkDir, partition.IntermediateName(t.ID, reduceID))
		if err := writeIntermediate(name, kvs); err != nil {
			return err
		}
		generated = append(generated, name)
	}

	w.logger.Debug("Map task done: worker_id=%s task_id=%d pairs=%d artifacts=%d",
		w.id, t.ID, len(pairs), len(generated))
	return w.source.CompleteMapTask(generated)
}

func (w *Worker) handleReduce(t types.ReduceTask) error {
	// Reading in name order makes value order independent of which map task
	// happened to finish first.
	files := append([]string(nil), t.IntermediateFiles...)
	sort.Strings(files)

	grouped := make(map[string][]string)
	for _, name := range files {
		if err := readIntermediate(name, grouped); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := os.MkdirAll(w.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outPath := filepath.Join(w.opts.OutputDir, partition.OutputName(t.ID))
	if err := writeOutput(outPath, keys, grouped, w.reducef); err != nil {
		return err
	}

	if w.opts.RemoveIntermediate {
		for _, name := range files {
			if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("Failed to remove intermediate file %s: %v", name, err)
			}
		}
	}

	w.logger.Debug("Reduce task done: worker_id=%s task_id=%d keys=%d output=%s",
		w.id, t.ID, len(keys), outPath)
	w.source.CompleteReduceTask()
	return nil
}

// writeIntermediate writes kvs as key<TAB>value lines. The file is closed,
// and therefore visible to every other worker, before it returns.
func writeIntermediate(name string, kvs []types.KeyValue) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create intermediate file: %w", err)
	}

	bw := bufio.NewWriter(f)
	for _, kv := range kvs {
		bw.WriteString(kv.Key)
		bw.WriteByte('\t')
		bw.WriteString(kv.Value)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write intermediate file %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close intermediate file %s: %w", name, err)
	}
	return nil
}

// readIntermediate appends every record of name to grouped. Lines without a
// tab are skipped.
func readIntermediate(name string, grouped map[string][]string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open intermediate file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if key, value, ok := strings.Cut(strings.TrimSuffix(line, "\n"), "\t"); ok {
				grouped[key] = append(grouped[key], value)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read intermediate file %s: %w", name, err)
		}
	}
}

func writeOutput(path string, keys []string, grouped map[string][]string, reducef types.ReduceFunc) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	// reducef may panic; the deferred close still runs while execute recovers.
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, key := range keys {
		fmt.Fprintf(bw, "%s %s\n", key, reducef(key, grouped[key]))
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file %s: %w", path, err)
	}
	return nil
}

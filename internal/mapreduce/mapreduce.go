package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ThreadMR/internal/coordinator"
	"ThreadMR/internal/discovery"
	"ThreadMR/internal/inputs"
	"ThreadMR/internal/journal"
	"ThreadMR/internal/logger"
	"ThreadMR/internal/partition"
	"ThreadMR/internal/types"
	"ThreadMR/internal/worker"
)

// ErrTimeout is returned when the job did not finish within Config.Timeout.
var ErrTimeout = errors.New("job timed out")

const rosterTimeout = 5 * time.Second

// Engine runs one MapReduce job with a fixed pool of in-process workers.
type Engine struct {
	cfg     Config
	mapf    types.MapFunc
	reducef types.ReduceFunc
	logger  *logger.Logger
}

// WorkerReport summarizes one worker after the job.
type WorkerReport struct {
	ID          string
	MapTasks    int64
	ReduceTasks int64
	Err         error
}

// Report describes a finished, failed or timed out job.
type Report struct {
	JobID    string
	Inputs   []string
	Outputs  []string // Output files that exist, ordered by reduce id
	Workers  []WorkerReport
	Failures int // Task failures reported to the coordinator
	Finished bool
	TimedOut bool
	Elapsed  time.Duration
	Journal  *types.JobState // Journaled state, nil without a journal
	Members  []string        // Roster after every worker joined, nil without a roster
}

// NewEngine creates a new MapReduce engine.
func NewEngine(cfg Config, mapf types.MapFunc, reducef types.ReduceFunc) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mapf == nil || reducef == nil {
		return nil, fmt.Errorf("%w: map and reduce functions are required", ErrInvalidConfig)
	}

	lg := cfg.Logger
	if lg == nil {
		lg = logger.New("INFO")
	}

	return &Engine{
		cfg:     cfg,
		mapf:    mapf,
		reducef: reducef,
		logger:  lg,
	}, nil
}

// Execute runs the job to completion or until the timeout or ctx expires.
// When time runs out, workers blocked on the queue are released at once and
// workers still inside a task get Config.ShutdownGrace to finish it. Execute
// then returns without them; their entries in Report.Workers carry
// ErrTimeout. The report is returned with any error, including ErrTimeout.
func (e *Engine) Execute(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{JobID: "job-" + uuid.New().String()[:8]}
	lg := e.logger.Named("engine")

	files, err := inputs.List(e.cfg.InputDir, e.cfg.Recursive)
	if err != nil {
		lg.Warn("Failed to list input files, running with no input: dir=%s error=%v", e.cfg.InputDir, err)
		files = nil
	}
	report.Inputs = files

	workDir := e.cfg.workDir()
	for _, dir := range []string{workDir, e.cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return report, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := e.clearOutputs(); err != nil {
		return report, err
	}

	lg.Info("Starting job: job_id=%s inputs=%d workers=%d reducers=%d timeout=%s",
		report.JobID, len(files), e.cfg.Workers, e.cfg.Reducers, e.cfg.Timeout)

	opts := []coordinator.Option{
		coordinator.WithLogger(e.logger.Named("coordinator")),
		coordinator.WithJobID(report.JobID),
	}

	var jrnl *journal.Journal
	if e.cfg.Journal {
		jrnl, err = journal.Open(journal.Config{
			NodeID:  report.JobID,
			DataDir: e.cfg.JournalDir,
			Logger:  e.logger.Named("journal"),
		})
		if err != nil {
			return report, fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if lg.Enabled(logger.DEBUG) {
				stats := jrnl.Stats()
				lg.Debug("Journal stats: last_log_index=%s applied_index=%s commit_index=%s",
					stats["last_log_index"], stats["applied_index"], stats["commit_index"])
			}
			if err := jrnl.Close(); err != nil {
				lg.Warn("Failed to close journal: %v", err)
			}
		}()
		opts = append(opts, coordinator.WithJournal(jrnl))
	}

	ids := make([]string, e.cfg.Workers)
	for i := range ids {
		ids[i] = "worker-" + uuid.New().String()[:8]
	}

	roster, members, err := e.joinRoster(ids, report)
	if err != nil {
		return report, err
	}
	if roster != nil {
		defer func() {
			if err := roster.Shutdown(); err != nil {
				lg.Warn("Failed to shut down roster: %v", err)
			}
		}()
	}

	coord := coordinator.New(files, e.cfg.Reducers, e.cfg.Workers, opts...)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	wopts := worker.Options{
		WorkDir:            workDir,
		OutputDir:          e.cfg.OutputDir,
		RemoveIntermediate: e.cfg.RemoveIntermediate,
	}
	workers := make([]*worker.Worker, len(ids))

	// Filled in by each worker goroutine as it exits. Execute may stop
	// waiting before every worker has, so reads go through resultsMu.
	var resultsMu sync.Mutex
	errs := make([]error, len(ids))
	exited := make([]bool, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		workers[i] = worker.New(id, coord, e.mapf, e.reducef, wopts, e.logger.Named("worker"))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := workers[i].Run(runCtx)
			if m := members[ids[i]]; m != nil {
				if err := m.Leave(time.Second); err != nil {
					lg.Warn("Failed to leave roster: worker_id=%s error=%v", ids[i], err)
				}
			}
			resultsMu.Lock()
			errs[i], exited[i] = err, true
			resultsMu.Unlock()
		}(i)
	}

	allExited := make(chan struct{})
	go func() {
		wg.Wait()
		close(allExited)
	}()

	select {
	case <-allExited:
	case <-runCtx.Done():
		grace := time.NewTimer(e.cfg.grace())
		select {
		case <-allExited:
		case <-grace.C:
			lg.Warn("Workers still busy after shutdown grace, abandoning them: job_id=%s grace=%s",
				report.JobID, e.cfg.grace())
		}
		grace.Stop()
	}

	resultsMu.Lock()
	workerErrs := append([]error(nil), errs...)
	workerExited := append([]bool(nil), exited...)
	resultsMu.Unlock()

	select {
	case <-coord.Done():
		report.Finished = true
	default:
	}
	report.TimedOut = !report.Finished && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	for i, w := range workers {
		stats := w.Stats()
		wr := WorkerReport{
			ID:          w.ID(),
			MapTasks:    stats.MapTasks,
			ReduceTasks: stats.ReduceTasks,
			Err:         workerErrs[i],
		}
		if !workerExited[i] {
			wr.Err = ErrTimeout
		}
		report.Workers = append(report.Workers, wr)
	}
	report.Failures = coord.Failures()
	report.Outputs = e.collectOutputs()
	if jrnl != nil {
		report.Journal = jrnl.State()
	}
	report.Elapsed = time.Since(start)

	var failed []error
	if report.TimedOut {
		lg.Error("Job timed out: job_id=%s phase=%s pending=%d", report.JobID, coord.Phase(), coord.Pending())
		failed = append(failed, fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout))
	} else if !report.Finished && ctx.Err() != nil {
		failed = append(failed, ctx.Err())
	}
	for _, err := range workerErrs {
		if err != nil {
			failed = append(failed, err)
		}
	}

	if len(failed) > 0 {
		lg.Warn("Job ended with errors: job_id=%s outputs=%d failures=%d elapsed=%s",
			report.JobID, len(report.Outputs), report.Failures, report.Elapsed)
		return report, errors.Join(failed...)
	}

	lg.Info("Job completed: job_id=%s outputs=%d elapsed=%s", report.JobID, len(report.Outputs), report.Elapsed)
	return report, nil
}

// joinRoster starts a roster and joins every worker to it before any loop
// runs. It returns nothing when the roster is disabled.
func (e *Engine) joinRoster(ids []string, report *Report) (*discovery.Roster, map[string]*discovery.Member, error) {
	if !e.cfg.Roster {
		return nil, nil, nil
	}

	lg := e.logger.Named("roster")
	roster, err := discovery.NewRoster(ids, lg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start roster: %w", err)
	}

	members := make(map[string]*discovery.Member, len(ids))
	for _, id := range ids {
		m, err := roster.Join(id)
		if err != nil {
			roster.Shutdown()
			return nil, nil, fmt.Errorf("failed to join %s to roster: %w", id, err)
		}
		members[id] = m
	}
	if err := roster.WaitForMembers(len(ids), rosterTimeout); err != nil {
		lg.Warn("Roster incomplete: %v", err)
	}
	report.Members = roster.Members()

	return roster, members, nil
}

// clearOutputs removes output files an earlier run left for this job's
// reduce ids, so the report only lists what this run wrote.
func (e *Engine) clearOutputs() error {
	for id := 0; id < e.cfg.Reducers; id++ {
		path := filepath.Join(e.cfg.OutputDir, partition.OutputName(id))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale output %s: %w", path, err)
		}
	}
	return nil
}

func (e *Engine) collectOutputs() []string {
	var outputs []string
	for id := 0; id < e.cfg.Reducers; id++ {
		path := filepath.Join(e.cfg.OutputDir, partition.OutputName(id))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			outputs = append(outputs, path)
		}
	}
	return outputs
}

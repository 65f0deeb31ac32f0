package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ThreadMR/internal/apps"
	"ThreadMR/internal/journal"
	"ThreadMR/internal/logger"
	"ThreadMR/internal/mapreduce"
)

func main() {
	defaults := mapreduce.DefaultConfig()

	mode := flag.String("mode", "run", "Mode: 'run' to execute a job, 'inspect' to print a journal")
	input := flag.String("input", defaults.InputDir, "Directory of input files")
	output := flag.String("output", defaults.OutputDir, "Directory for mr-out-* files")
	workDir := flag.String("work-dir", "", "Directory for intermediate files (defaults to -output)")
	workers := flag.Int("workers", defaults.Workers, "Number of workers")
	reducers := flag.Int("reducers", defaults.Reducers, "Number of reduce partitions")
	timeout := flag.Duration("timeout", defaults.Timeout, "Give up on the job after this long")
	app := flag.String("app", "wordcount", "Application: "+strings.Join(apps.Names, "|"))
	pattern := flag.String("pattern", "", "Regular expression for -app grep")
	recursive := flag.Bool("recursive", false, "Descend into subdirectories of -input")
	removeIntermediate := flag.Bool("remove-intermediate", false, "Delete intermediate files once reduced")
	useJournal := flag.Bool("journal", false, "Replicate job events through a raft journal")
	journalDir := flag.String("journal-dir", "", "Keep the journal in this directory (in memory when empty)")
	useRoster := flag.Bool("roster", false, "Track workers with a memberlist roster")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG|INFO|WARN|ERROR")
	flag.Parse()

	lg := logger.New(*logLevel)

	switch *mode {
	case "run":
		cfg := mapreduce.Config{
			InputDir:           *input,
			OutputDir:          *output,
			WorkDir:            *workDir,
			Workers:            *workers,
			Reducers:           *reducers,
			Timeout:            *timeout,
			Recursive:          *recursive,
			RemoveIntermediate: *removeIntermediate,
			Journal:            *useJournal || *journalDir != "",
			JournalDir:         *journalDir,
			Roster:             *useRoster,
			Logger:             lg,
		}
		if err := runJob(cfg, *app, *pattern, lg); err != nil {
			lg.Error("%v", err)
			os.Exit(1)
		}
	case "inspect":
		if err := inspect(*journalDir); err != nil {
			lg.Error("%v", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s\n", *mode)
		os.Exit(1)
	}
}

func runJob(cfg mapreduce.Config, app, pattern string, lg *logger.Logger) error {
	mapf, reducef, err := apps.Lookup(app, pattern)
	if err != nil {
		return fmt.Errorf("failed to load application: %w", err)
	}

	engine, err := mapreduce.NewEngine(cfg, mapf, reducef)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := engine.Execute(ctx)
	if report != nil {
		lg.Info("Job summary: job_id=%s inputs=%d outputs=%d failures=%d elapsed=%s",
			report.JobID, len(report.Inputs), len(report.Outputs), report.Failures, report.Elapsed)
		for _, w := range report.Workers {
			lg.Info("  %s: map_tasks=%d reduce_tasks=%d", w.ID, w.MapTasks, w.ReduceTasks)
		}
		for _, path := range report.Outputs {
			fmt.Println(path)
		}
	}
	return err
}

func inspect(dir string) error {
	if dir == "" {
		return fmt.Errorf("inspect needs -journal-dir")
	}

	entries, err := journal.ReadLog(dir)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to print entry: %w", err)
		}
	}
	return nil
}

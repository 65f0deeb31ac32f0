package mapreduce

import (
	"errors"
	"fmt"
	"time"

	"ThreadMR/internal/logger"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid job configuration")

const defaultGrace = 2 * time.Second

// Config describes one MapReduce job.
type Config struct {
	InputDir  string // Directory holding the input files
	OutputDir string // Where mr-out-<id> files are written
	WorkDir   string // Where mr-<map>-<reduce> files are written, OutputDir when empty

	Workers  int
	Reducers int
	Timeout  time.Duration

	// ShutdownGrace is how long Execute waits, once Timeout has passed, for
	// workers still inside a task. 2s when zero.
	ShutdownGrace time.Duration

	Recursive          bool // Descend into subdirectories of InputDir
	RemoveIntermediate bool // Delete intermediate files once reduced

	Journal    bool   // Replicate job events through a raft journal
	JournalDir string // Bolt-backed journal directory, in-memory when empty
	Roster     bool   // Track workers with a memberlist roster

	Logger *logger.Logger
}

// DefaultConfig returns the settings used by the command line.
func DefaultConfig() Config {
	return Config{
		InputDir:  ".",
		OutputDir: "mr-output",
		Workers:   4,
		Reducers:  3,
		Timeout:   time.Minute,

		ShutdownGrace: defaultGrace,
	}
}

// Validate checks that the job can be scheduled.
func (c Config) Validate() error {
	switch {
	case c.InputDir == "":
		return fmt.Errorf("%w: input directory is required", ErrInvalidConfig)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output directory is required", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.Reducers < 1:
		return fmt.Errorf("%w: reducers must be at least 1, got %d", ErrInvalidConfig, c.Reducers)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	case c.ShutdownGrace < 0:
		return fmt.Errorf("%w: shutdown grace must not be negative, got %s", ErrInvalidConfig, c.ShutdownGrace)
	}
	return nil
}

func (c Config) grace() time.Duration {
	if c.ShutdownGrace == 0 {
		return defaultGrace
	}
	return c.ShutdownGrace
}

func (c Config) workDir() string {
	if c.WorkDir == "" {
		return c.OutputDir
	}
	return c.WorkDir
}

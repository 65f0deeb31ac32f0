package types

import (
	"fmt"
	"path/filepath"
)

// KeyValue is the intermediate key-value pair produced by mappers.
type KeyValue struct {
	Key   string
	Value string
}

// MapFunc turns one input file into intermediate pairs.
type MapFunc func(filename, content string) []KeyValue

// ReduceFunc folds every value emitted for key into one output string.
type ReduceFunc func(key string, values []string) string

// Task is one unit of work handed out by the coordinator. The set of
// implementations is closed: MapTask, ReduceTask and ShutdownTask.
type Task interface {
	isTask()
}

// MapTask transforms one input file into partitioned intermediate files.
type MapTask struct {
	ID          int
	InputFile   string
	ReduceCount int
}

// ReduceTask merges every intermediate file destined for partition ID.
type ReduceTask struct {
	ID                int
	IntermediateFiles []string
}

// ShutdownTask tells the receiving worker to exit its loop.
type ShutdownTask struct{}

func (MapTask) isTask()      {}
func (ReduceTask) isTask()   {}
func (ShutdownTask) isTask() {}

// Describe renders a task for log lines.
func Describe(t Task) string {
	switch t := t.(type) {
	case MapTask:
		return fmt.Sprintf("map#%d(%s)", t.ID, filepath.Base(t.InputFile))
	case ReduceTask:
		return fmt.Sprintf("reduce#%d(%d files)", t.ID, len(t.IntermediateFiles))
	case ShutdownTask:
		return "shutdown"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// Package apps bundles ready-made map/reduce pairs for the command line.
package apps

import (
	"fmt"

	"ThreadMR/internal/types"
)

// Names lists the applications Lookup knows about.
var Names = []string{"wordcount", "grep"}

// Lookup resolves an application name to its map and reduce functions.
// pattern is only used by grep.
func Lookup(name, pattern string) (types.MapFunc, types.ReduceFunc, error) {
	switch name {
	case "wordcount":
		return WordCountMap, WordCountReduce, nil
	case "grep":
		if pattern == "" {
			return nil, nil, fmt.Errorf("grep needs a pattern")
		}
		g, err := NewGrep(pattern)
		if err != nil {
			return nil, nil, err
		}
		return g.Map, g.Reduce, nil
	default:
		return nil, nil, fmt.Errorf("unknown app %q (want one of %v)", name, Names)
	}
}

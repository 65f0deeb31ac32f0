package apps

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"ThreadMR/internal/types"
)

// Grep is a distributed grep expressed as a map/reduce pair.
type Grep struct {
	pattern string
	regex   *regexp.Regexp
}

// NewGrep creates a new Grep instance.
func NewGrep(pattern string) (*Grep, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}

	return &Grep{
		pattern: pattern,
		regex:   regex,
	}, nil
}

// Map emits (line, file name) for every matching line of content.
func (g *Grep) Map(filename, content string) []types.KeyValue {
	var results []types.KeyValue

	name := filepath.Base(filename)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if g.regex.MatchString(line) {
			results = append(results, types.KeyValue{
				Key:   line,
				Value: name,
			})
		}
	}

	return results
}

// Reduce combines all occurrences of a matched line into its sorted,
// de-duplicated list of files.
func (g *Grep) Reduce(key string, values []string) string {
	seen := make(map[string]bool, len(values))
	files := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			files = append(files, v)
		}
	}
	sort.Strings(files)

	// Format: -> [file1, file2, ...]
	return fmt.Sprintf("-> [%s]", strings.Join(files, ", "))
}

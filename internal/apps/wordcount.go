package apps

import (
	"strconv"
	"strings"
	"unicode"

	"ThreadMR/internal/types"
)

// WordCountMap lowercases content and emits (word, "1") for every run of
// letters.
func WordCountMap(filename, content string) []types.KeyValue {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	kvs := make([]types.KeyValue, 0, len(words))
	for _, w := range words {
		kvs = append(kvs, types.KeyValue{Key: w, Value: "1"})
	}
	return kvs
}

// WordCountReduce counts the occurrences of key.
func WordCountReduce(key string, values []string) string {
	return strconv.Itoa(len(values))
}

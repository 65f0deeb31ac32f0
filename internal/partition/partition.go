// Package partition names intermediate and output artifacts and routes keys
// to reduce buckets.
//
// Intermediate records are written as key<TAB>value lines with no escaping.
// A key or value containing a tab or newline is misread by the reduce side.
package partition

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

var ErrBadName = errors.New("malformed intermediate file name")

// IntermediateName returns the artifact name for map task mapID's output
// destined for reduce task reduceID.
func IntermediateName(mapID, reduceID int) string {
	return fmt.Sprintf("mr-%d-%d", mapID, reduceID)
}

// OutputName returns the final output name of reduce task reduceID.
func OutputName(reduceID int) string {
	return fmt.Sprintf("mr-out-%d", reduceID)
}

// ParseReduceID recovers the reduce task id from an intermediate name or a
// path ending in one: the last '-' separated component.
func ParseReduceID(name string) (int, error) {
	i := strings.LastIndexByte(name, '-')
	if i < 0 || i == len(name)-1 {
		return 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	id, err := strconv.Atoi(name[i+1:])
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return id, nil
}

// Hash is FNV-1a with the sign bit masked off, so it is never negative.
func Hash(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return mask(h.Sum32())
}

func mask(sum uint32) int {
	return int(sum & 0x7fffffff)
}

// Bucket routes key to one of n reduce buckets. n must be at least 1.
func Bucket(key string, n int) int {
	return Hash(key) % n
}

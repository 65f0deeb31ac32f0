package apps

import (
	"testing"
)

func TestWordCountMap(t *testing.T) {
	kvs := WordCountMap("example.txt", "Hello ТЕСТ world, hello\nworld42 пример")

	counts := make(map[string]int)
	for _, kv := range kvs {
		if kv.Value != "1" {
			t.Fatalf("value for %q = %q, want 1", kv.Key, kv.Value)
		}
		counts[kv.Key]++
	}

	want := map[string]int{"hello": 2, "тест": 1, "world": 2, "пример": 1}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Fatalf("count[%q] = %d, want %d", k, counts[k], n)
		}
	}
}

func TestWordCountMapEmpty(t *testing.T) {
	if kvs := WordCountMap("empty.txt", ""); len(kvs) != 0 {
		t.Fatalf("WordCountMap(\"\") = %v, want none", kvs)
	}
}

func TestWordCountReduce(t *testing.T) {
	if got := WordCountReduce("a", []string{"1", "1", "1"}); got != "3" {
		t.Fatalf("WordCountReduce = %q, want 3", got)
	}
}

func TestGrepMapAndReduce(t *testing.T) {
	g, err := NewGrep("test")
	if err != nil {
		t.Fatalf("Failed to create grep: %v", err)
	}

	content := "This is a test line\nNo match here\nAnother test entry\nThis is a test line\n"
	kvs := g.Map("/data/in/test_0.txt", content)
	if len(kvs) != 3 {
		t.Fatalf("Map matched %d lines, want 3", len(kvs))
	}
	for _, kv := range kvs {
		if kv.Value != "test_0.txt" {
			t.Fatalf("value = %q, want base file name", kv.Value)
		}
	}

	got := g.Reduce("This is a test line", []string{"b.txt", "a.txt", "b.txt"})
	if want := "-> [a.txt, b.txt]"; got != want {
		t.Fatalf("Reduce = %q, want %q", got, want)
	}
}

func TestNewGrepRejectsBadPattern(t *testing.T) {
	if _, err := NewGrep("("); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names {
		mapf, reducef, err := Lookup(name, "x")
		if err != nil || mapf == nil || reducef == nil {
			t.Fatalf("Lookup(%q) = %v", name, err)
		}
	}
	if _, _, err := Lookup("grep", ""); err == nil {
		t.Fatalf("grep without pattern should fail")
	}
	if _, _, err := Lookup("sort", ""); err == nil {
		t.Fatalf("unknown app should fail")
	}
}

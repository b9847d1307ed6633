package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBench(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bench.txt")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseBenchmarkFileNormalizesNames(t *testing.T) {
	p := writeBench(t, `goos: linux
BenchmarkToken-8        	50000000	        24.0 ns/op	       0 B/op	       0 allocs/op
BenchmarkToken-8        	50000000	        26.0 ns/op	       0 B/op	       0 allocs/op
BenchmarkUntracked-8    	1000	        1 ns/op
PASS
`)
	got, err := parseBenchmarkFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["BenchmarkUntracked"]; ok {
		t.Fatal("untracked benchmark should be skipped")
	}
	if n := len(got["BenchmarkToken"]["ns/op"]); n != 2 {
		t.Fatalf("expected 2 ns/op samples, got %d", n)
	}
	if m := median(got["BenchmarkToken"]["ns/op"]); m != 25 {
		t.Fatalf("expected median 25, got %v", m)
	}
}

func TestCompareFlagsRegression(t *testing.T) {
	full := func(ns float64) sampleSet {
		s := sampleSet{}
		for name, metrics := range trackedMetrics {
			s[name] = map[string][]float64{}
			for _, metric := range metrics {
				s[name][metric] = []float64{ns}
			}
		}
		return s
	}

	if f := compare(full(100), full(120), 0.30); len(f) != 0 {
		t.Fatalf("unexpected failures: %v", f)
	}
	if f := compare(full(100), full(200), 0.30); len(f) == 0 {
		t.Fatal("expected regression failures")
	}

	missing := full(100)
	delete(missing, "BenchmarkToken")
	if f := compare(full(100), missing, 0.30); len(f) == 0 {
		t.Fatal("expected missing-sample failure")
	}
}

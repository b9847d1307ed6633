package internaldefs

import (
	"strings"
	"testing"
)

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 0, 2, 0, 0, 1}))
	want := [8]uint64{1, 1, 3, 3, 3, 4, 4, 4}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDefinitionsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range CounterDefs {
		if !strings.HasPrefix(d.Name, "gosession_") || !strings.HasSuffix(d.Name, "_total") {
			t.Fatalf("unexpected counter name %q", d.Name)
		}
		if seen[d.Name] {
			t.Fatalf("duplicate name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBoundLabels) {
		t.Fatal("bounds and labels disagree")
	}
}

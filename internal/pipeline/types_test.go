package pipeline

import (
	"path/filepath"
	"testing"
)

func TestPlanBatchesCoversEveryPageOnce(t *testing.T) {
	for _, size := range []int{1, 3, 10} {
		for n := 0; n <= 57; n++ {
			ranges := PlanBatches(n, size)
			want := (n + size - 1) / size
			if len(ranges) != want {
				t.Fatalf("PlanBatches(%d, %d) returned %d ranges, want %d", n, size, len(ranges), want)
			}
			next := 1
			for i, r := range ranges {
				if r.Start != next {
					t.Fatalf("PlanBatches(%d, %d)[%d] starts at %d, want %d", n, size, i, r.Start, next)
				}
				if r.End < r.Start || r.Pages() > size {
					t.Fatalf("PlanBatches(%d, %d)[%d] = %s is malformed", n, size, i, r)
				}
				next = r.End + 1
			}
			if n > 0 && next != n+1 {
				t.Fatalf("PlanBatches(%d, %d) ends at %d, want %d", n, size, next-1, n)
			}
		}
	}
}

func TestPlanBatchesDefaultsAndEmpty(t *testing.T) {
	if got := PlanBatches(0, 10); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	got := PlanBatches(25, 0)
	want := []PageRange{{1, 10}, {11, 20}, {21, 25}}
	if len(got) != len(want) {
		t.Fatalf("unexpected ranges: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOutputPaths(t *testing.T) {
	input := filepath.Join("/data", "uploads", "7", "a1b2.pdf")

	out := OutputPath(input, "report.pdf")
	if want := filepath.Join("/data", "uploads", "7", "report_OCRed.pdf"); out != want {
		t.Fatalf("OutputPath = %q, want %q", out, want)
	}
	if got, want := BookmarkedOutputPath(out), filepath.Join("/data", "uploads", "7", "report_OCRed_with_bookmarks.pdf"); got != want {
		t.Fatalf("BookmarkedOutputPath = %q, want %q", got, want)
	}
	if got, want := OutputPath(input, ""), filepath.Join("/data", "uploads", "7", "a1b2_OCRed.pdf"); got != want {
		t.Fatalf("OutputPath without name = %q, want %q", got, want)
	}
	if got, want := ScratchDir(input, 42, "wf-1"), filepath.Join("/data", "uploads", "7", "tmp", "42", "wf-1"); got != want {
		t.Fatalf("ScratchDir = %q, want %q", got, want)
	}
	if got, want := BatchArtifactName(input, PageRange{Start: 11, End: 20}), "a1b2_pages_11_to_20.pdf"; got != want {
		t.Fatalf("BatchArtifactName = %q, want %q", got, want)
	}
}

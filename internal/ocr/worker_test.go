package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// Test artifacts are plain files whose content is "pages:N".
type fakePages struct{}

func (fakePages) PageCount(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "pages:")
	if !ok {
		return 0, fmt.Errorf("not a document: %s", path)
	}
	return strconv.Atoi(n)
}

func writeArtifact(t *testing.T, path string, pages int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("pages:%d", pages)), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
}

type runFunc func(name string, args []string) error

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    runFunc
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, r.fn(name, args)
}

// copyThrough mimics ocrmypdf: the last two arguments are input and output.
func copyThrough(name string, args []string) error {
	in, out := args[len(args)-2], args[len(args)-1]
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func newTestWorker(t *testing.T, s Strategy) *Worker {
	t.Helper()
	w, err := NewWorker(s, fakePages{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWorker returned error: %v", err)
	}
	return w
}

func descriptor(dir string, start, end int) pipeline.BatchDescriptor {
	r := pipeline.PageRange{Start: start, End: end}
	return pipeline.BatchDescriptor{PageRange: r, ArtifactPath: filepath.Join(dir, pipeline.BatchArtifactName("scan.pdf", r))}
}

func TestWorkerSuccessReplacesArtifact(t *testing.T) {
	dir := t.TempDir()
	d := descriptor(dir, 11, 20)
	writeArtifact(t, d.ArtifactPath, 10)
	runner := &fakeRunner{fn: func(name string, args []string) error {
		out := args[len(args)-1]
		return os.WriteFile(out, []byte("pages:10 "), 0o644)
	}}
	w := newTestWorker(t, &EmbeddedStrategy{Runner: runner, Language: "jpn"})

	outcome := w.Process(context.Background(), d)
	s, ok := outcome.(pipeline.Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", outcome)
	}
	if s.ArtifactPath != d.ArtifactPath || s.Range() != d.PageRange {
		t.Fatalf("unexpected success: %#v", s)
	}
	data, _ := os.ReadFile(d.ArtifactPath)
	if string(data) != "pages:10 " {
		t.Fatalf("artifact was not replaced in place: %q", data)
	}

	call := runner.calls[0]
	if call[0] != "ocrmypdf" {
		t.Fatalf("unexpected binary %q", call[0])
	}
	joined := strings.Join(call, " ")
	for _, flag := range []string{"--optimize 1", "--force-ocr", "--rotate-pages", "-l jpn"} {
		if !strings.Contains(joined, flag) {
			t.Fatalf("missing %q in %q", flag, joined)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact to remain, got %d entries", len(entries))
	}
}

func TestWorkerFailures(t *testing.T) {
	cases := []struct {
		name    string
		pages   int
		missing bool
		fn      runFunc
	}{
		{name: "missing input", missing: true, fn: copyThrough},
		{name: "tool exit", pages: 10, fn: func(string, []string) error { return errors.New("exit status 2") }},
		{name: "page count changed", pages: 10, fn: func(_ string, args []string) error {
			return os.WriteFile(args[len(args)-1], []byte("pages:9"), 0o644)
		}},
		{name: "malformed output", pages: 10, fn: func(_ string, args []string) error {
			return os.WriteFile(args[len(args)-1], []byte("garbage"), 0o644)
		}},
		{name: "descriptor mismatch", pages: 7, fn: copyThrough},
		{name: "panic", pages: 10, fn: func(string, []string) error { panic("tool crashed") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			d := descriptor(dir, 1, 10)
			if !tc.missing {
				writeArtifact(t, d.ArtifactPath, tc.pages)
			}
			w := newTestWorker(t, &EmbeddedStrategy{Runner: &fakeRunner{fn: tc.fn}})

			outcome := w.Process(context.Background(), d)
			f, ok := outcome.(pipeline.Failure)
			if !ok {
				t.Fatalf("expected Failure, got %#v", outcome)
			}
			if f.Range() != d.PageRange || !strings.Contains(f.Cause, pipeline.CodeBatchTransform) {
				t.Fatalf("unexpected failure: %#v", f)
			}
		})
	}
}

func TestWorkerIgnoresJobCancellation(t *testing.T) {
	dir := t.TempDir()
	d := descriptor(dir, 1, 3)
	writeArtifact(t, d.ArtifactPath, 3)
	w := newTestWorker(t, &EmbeddedStrategy{Runner: &fakeRunner{fn: copyThrough}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := w.Process(ctx, d).(pipeline.Success); !ok {
		t.Fatal("in-flight transform should not observe job cancellation")
	}
}

func TestWorkersRunIndependently(t *testing.T) {
	dir := t.TempDir()
	ranges := pipeline.PlanBatches(30, 10)
	descriptors := make([]pipeline.BatchDescriptor, len(ranges))
	for i, r := range ranges {
		descriptors[i] = descriptor(dir, r.Start, r.End)
		writeArtifact(t, descriptors[i].ArtifactPath, r.Pages())
	}
	failing := descriptors[1].ArtifactPath
	runner := &fakeRunner{fn: func(name string, args []string) error {
		if args[len(args)-2] == failing {
			return errors.New("exit status 1")
		}
		return copyThrough(name, args)
	}}
	w := newTestWorker(t, &EmbeddedStrategy{Runner: runner})

	outcomes := make([]pipeline.BatchOutcome, len(descriptors))
	var wg sync.WaitGroup
	for i, d := range descriptors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = w.Process(context.Background(), d)
		}()
	}
	wg.Wait()

	for i, o := range outcomes {
		_, failed := o.(pipeline.Failure)
		if failed != (i == 1) {
			t.Fatalf("outcome %d = %#v", i, o)
		}
	}
}

type fakeMerger struct{}

func (fakeMerger) Merge(ctx context.Context, inputs []string, out string) (int, error) {
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return 0, err
		}
	}
	return len(inputs), os.WriteFile(out, []byte(fmt.Sprintf("pages:%d", len(inputs))), 0o644)
}

func TestRasterizeStrategy(t *testing.T) {
	dir := t.TempDir()
	d := descriptor(dir, 21, 24)
	writeArtifact(t, d.ArtifactPath, 4)

	runner := &fakeRunner{fn: func(name string, args []string) error {
		switch name {
		case "gs":
			var pattern string
			for _, a := range args {
				if v, ok := strings.CutPrefix(a, "-sOutputFile="); ok {
					pattern = v
				}
			}
			for i := 1; i <= 4; i++ {
				if err := os.WriteFile(fmt.Sprintf(pattern, i), []byte("png"), 0o644); err != nil {
					return err
				}
			}
			return nil
		case "tesseract":
			return os.WriteFile(args[1]+".pdf", []byte("pages:1"), 0o644)
		default:
			return fmt.Errorf("unexpected binary %s", name)
		}
	}}
	w := newTestWorker(t, &RasterizeStrategy{Runner: runner, Merger: fakeMerger{}, DPI: 200})

	if _, ok := w.Process(context.Background(), d).(pipeline.Success); !ok {
		t.Fatalf("expected Success, calls = %v", runner.calls)
	}
	if len(runner.calls) != 5 {
		t.Fatalf("expected 1 gs and 4 tesseract calls, got %d", len(runner.calls))
	}
	if !strings.Contains(strings.Join(runner.calls[0], " "), "-r200") {
		t.Fatalf("dpi not passed to ghostscript: %v", runner.calls[0])
	}
	if w.Strategy() != StrategyRasterize {
		t.Fatalf("Strategy() = %q", w.Strategy())
	}
}

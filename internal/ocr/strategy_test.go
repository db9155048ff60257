package ocr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeToolkit struct {
	fakeMerger
	normalized []string
}

func (k *fakeToolkit) Normalize(ctx context.Context, in, out string) error {
	k.normalized = append(k.normalized, in)
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func TestNewStrategy(t *testing.T) {
	kit := &fakeToolkit{}
	s, err := NewStrategy(Options{}, nil, kit)
	if err != nil || s.Name() != StrategyEmbedded {
		t.Fatalf("default strategy = %v, %v", s, err)
	}
	if _, ok := s.(*EmbeddedStrategy).Runner.(ExecRunner); !ok {
		t.Fatal("nil runner should default to ExecRunner")
	}
	s, err = NewStrategy(Options{Strategy: "Rasterize", DPI: 150}, &fakeRunner{}, kit)
	if err != nil || s.Name() != StrategyRasterize {
		t.Fatalf("rasterize strategy = %v, %v", s, err)
	}
	if _, err := NewStrategy(Options{Strategy: "magic"}, nil, kit); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEmbeddedStrategyNormalizesFirst(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "batch.pdf")
	writeArtifact(t, in, 2)
	kit := &fakeToolkit{}
	runner := &fakeRunner{fn: copyThrough}
	s := &EmbeddedStrategy{Runner: runner, Normalizer: kit, Binary: "/opt/ocrmypdf"}

	if err := s.Transform(context.Background(), in, filepath.Join(dir, "out.pdf")); err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if len(kit.normalized) != 1 || kit.normalized[0] != in {
		t.Fatalf("normalize calls = %v", kit.normalized)
	}
	call := runner.calls[0]
	if call[0] != "/opt/ocrmypdf" || call[len(call)-2] == in {
		t.Fatalf("ocrmypdf should read the normalized copy: %v", call)
	}
	if _, err := os.Stat(call[len(call)-2]); !os.IsNotExist(err) {
		t.Fatalf("normalized copy should be removed: %v", err)
	}
}

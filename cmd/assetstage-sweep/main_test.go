package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/assetstage/assetstage/internal/pipeline"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

func newSweeper(t *testing.T) (*pipeline.Sweeper, *storage.MemoryBackend) {
	t.Helper()
	store := storage.NewMemoryBackend("assets")
	reg := registry.NewMemoryRegistry()
	store.PutObject("temp/a_orphan.png", []byte("1"))
	store.PutObject("temp/b_claimed.png", []byte("2"))
	if err := reg.Claim(context.Background(), "b_claimed.png", time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	cfg := pipeline.Config{StagingPrefix: "temp/", PermanentPrefix: "product/", CallTimeout: time.Second}
	return pipeline.NewSweeper(store, reg, cfg), store
}

func TestSweepDryRun(t *testing.T) {
	sweeper, store := newSweeper(t)
	var stdout, stderr bytes.Buffer

	if code := sweep(context.Background(), sweeper, true, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr.String())
	}

	var got report
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if !got.DryRun || len(got.Reclaimed) != 1 || got.Reclaimed[0] != "a_orphan.png" {
		t.Errorf("report = %+v", got)
	}
	if _, ok := store.GetObject("temp/a_orphan.png"); !ok {
		t.Error("dry run must not delete")
	}
}

func TestSweepDeletes(t *testing.T) {
	sweeper, store := newSweeper(t)
	var stdout, stderr bytes.Buffer

	if code := sweep(context.Background(), sweeper, false, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr.String())
	}
	if _, ok := store.GetObject("temp/a_orphan.png"); ok {
		t.Error("orphan should be deleted")
	}
	if _, ok := store.GetObject("temp/b_claimed.png"); !ok {
		t.Error("claimed object should remain")
	}
}

func TestRunWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assetstage.yaml")
	yaml := `
storage:
  backend: memory
  bucket: assets
registry:
  engine: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "claims.db") + `
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", path, "-dry-run"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr.String())
	}
	var got report
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.Scanned != 0 || !got.DryRun {
		t.Errorf("report = %+v", got)
	}
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

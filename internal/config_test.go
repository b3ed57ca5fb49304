package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
log_level: debug
threads: 7
engine_timeout: 5s
max_item_size: 1MB
unsafe: true
rules: [a.txt, b.json]
walk:
  depth: 3
  archives: true
  exclude: ["**/.git/**"]
`

func TestLoadFileAndApply(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(p, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	o := Options{LogLevel: "warn", Threads: 2, EngineTimeout: DefaultEngineTimeout}
	// --threads given explicitly on the command line
	isSet := func(flag string) bool { return flag == "threads" }
	if err := cfg.Apply(&o, isSet); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if o.LogLevel != "debug" || o.Threads != 2 || o.EngineTimeout != 5*time.Second {
		t.Fatalf("unexpected options: %+v", o)
	}
	if !o.Unsafe || o.MaxItemSize != "1MB" || len(o.Rules) != 2 {
		t.Fatalf("unexpected options: %+v", o)
	}
	if o.Walk.Depth != 3 || !o.Walk.Archives || len(o.Walk.Exclude) != 1 {
		t.Fatalf("unexpected walk options: %+v", o.Walk)
	}
	if o.WatchRules {
		t.Fatal("unset keys must keep defaults")
	}
}

func TestApplyRejectsBadDuration(t *testing.T) {
	d := "soon"
	cfg := FileConfig{EngineTimeout: &d}
	if err := cfg.Apply(&Options{}, nil); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(p, []byte("threads: [1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadLocal(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := LoadLocal(dir); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".scriptscan.yml"), []byte("threads: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, from, err := LoadLocal(dir)
	if err != nil {
		t.Fatalf("LoadLocal: %v", err)
	}
	if filepath.Base(from) != ".scriptscan.yml" || cfg.Threads == nil || *cfg.Threads != 9 {
		t.Fatalf("unexpected config from %s: %+v", from, cfg)
	}
}

func TestApplyFlagsWinForWalkOptions(t *testing.T) {
	entries := 50
	depth := 4
	cfg := FileConfig{Walk: &WalkConfig{MaxEntries: &entries, Depth: &depth}}

	o := Options{Walk: WalkOptions{MaxArchiveFiles: 10, Depth: 1}}
	isSet := func(flag string) bool { return flag == "max-archive-files" }
	if err := cfg.Apply(&o, isSet); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if o.Walk.MaxArchiveFiles != 10 {
		t.Fatalf("--max-archive-files overridden by config: %d", o.Walk.MaxArchiveFiles)
	}
	if o.Walk.Depth != 4 {
		t.Fatalf("walk.depth not applied: %d", o.Walk.Depth)
	}
}

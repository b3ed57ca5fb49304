package scanmgr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResultSink_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	opts := SinkOptions{
		MatchesFile:    filepath.Join(dir, "all.txt"),
		ByEngineFolder: filepath.Join(dir, "by"),
	}
	sink := NewResultSink(opts)

	sink(Result{Engine: "re:^a/b$", Item: Item{Name: "x.txt", Path: "/var/log/x.txt", Digest: "00000000000000aa"}})
	sink(Result{Engine: "re:^a/b$", Item: Item{Name: "inline", Digest: "00000000000000bb"}})

	// check all.txt
	all, err := os.ReadFile(opts.MatchesFile)
	if err != nil {
		t.Fatalf("read all.txt: %v", err)
	}
	want := "re:^a/b$\t/var/log/x.txt\t00000000000000aa\nre:^a/b$\tinline\t00000000000000bb\n"
	if string(all) != want {
		t.Fatalf("unexpected all content: %q", string(all))
	}

	// check per-engine file
	ents, err := os.ReadDir(opts.ByEngineFolder)
	if err != nil || len(ents) != 1 {
		t.Fatalf("expected 1 per-engine file, err=%v", err)
	}
	if ents[0].Name() != "re_^a_b$.txt" {
		t.Fatalf("unexpected per-engine file name %q", ents[0].Name())
	}
	b, _ := os.ReadFile(filepath.Join(opts.ByEngineFolder, ents[0].Name()))
	if string(b) != "/var/log/x.txt\ninline\n" {
		t.Fatalf("unexpected by-engine content: %q", string(b))
	}
}

func TestResultSink_NoFiles(t *testing.T) {
	sink := NewResultSink(SinkOptions{})
	// logging only, must not panic
	sink(Result{Engine: "e", Item: Item{Name: "n"}})
}

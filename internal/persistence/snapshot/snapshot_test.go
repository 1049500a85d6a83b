package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/rng"
)

func testSnapshot(t *testing.T, steps int) SnapshotV1 {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Width, cfg.Height = 12, 7
	e, err := engine.New(cfg, rng.NewSeeded(5))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	for i := 0; i < steps; i++ {
		_ = e.Step()
	}
	return SnapshotV1{
		Header: Header{RunID: "r1", Tick: e.Tick(), Seed: 5, Width: 12, Height: 7},
		Config: e.Config(),
		State:  e.Snapshot(),
	}
}

func TestWriteRead_RoundTripResumes(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t, 30)
	path := PathFor(dir, snap.Header.Tick)
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Version != Version || h.Tick != 30 || h.RunID != "r1" {
		t.Fatalf("header: %+v", h)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.Config.Impact == nil || got.Config.Impact.Neg[0][0] != snap.Config.Impact.Neg[0][0] {
		t.Fatalf("config impact: %+v", got.Config.Impact)
	}

	// A restored engine must continue exactly like one that kept running.
	a, err := engine.New(snap.Config, rng.NewSeeded(5))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := a.Restore(snap.State); err != nil {
		t.Fatalf("Restore original: %v", err)
	}
	b, err := engine.New(got.Config, rng.NewSeeded(99))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := b.Restore(got.State); err != nil {
		t.Fatalf("Restore decoded: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = a.Step()
		_ = b.Step()
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("decoded snapshot resumes differently")
	}
}

func TestListLatestPrune(t *testing.T) {
	dir := t.TempDir()
	if Latest(dir) != "" {
		t.Fatalf("empty dir should have no latest")
	}
	snap := testSnapshot(t, 0)
	for _, tick := range []uint64{9, 100, 20} {
		snap.Header.Tick = tick
		if err := WriteSnapshot(PathFor(dir, tick), snap); err != nil {
			t.Fatalf("WriteSnapshot: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	files, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{PathFor(dir, 9), PathFor(dir, 20), PathFor(dir, 100)}
	if len(files) != len(want) {
		t.Fatalf("files: %v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d]=%s want %s", i, files[i], want[i])
		}
	}
	if Latest(dir) != PathFor(dir, 100) {
		t.Fatalf("latest: %s", Latest(dir))
	}

	n, err := Prune(dir, 2)
	if err != nil || n != 1 {
		t.Fatalf("Prune: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(PathFor(dir, 9)); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be gone")
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "1.snap.zst")); !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
}

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"trustcollapse.dev/internal/persistence/snapshot"
)

func TestArchiveSnapshot_CopiesMilestone(t *testing.T) {
	dataDir := t.TempDir()

	src := snapshot.PathFor(snapshot.Dir(dataDir), 600)
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	h := snapshot.Header{Version: snapshot.Version, RunID: "r1", Tick: 600, Seed: 42, Width: 10, Height: 5}
	archivedPath, ok, err := ArchiveSnapshot(dataDir, src, h, 300)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	// Pruning the live snapshot directory leaves the archive alone.
	if err := os.Remove(src); err != nil {
		t.Fatalf("remove: %v", err)
	}
	metas, err := List(dataDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 1 || metas[0].RunID != "r1" || metas[0].Tick != 600 || metas[0].Seed != 42 {
		t.Fatalf("unexpected metas: %+v", metas)
	}
}

func TestArchiveSnapshot_SkipsNonMilestones(t *testing.T) {
	dataDir := t.TempDir()
	for _, tc := range []struct {
		tick, every uint64
	}{
		{tick: 0, every: 300},
		{tick: 450, every: 300},
		{tick: 600, every: 0},
	} {
		h := snapshot.Header{RunID: "r1", Tick: tc.tick}
		_, ok, err := ArchiveSnapshot(dataDir, "missing.snap.zst", h, tc.every)
		if err != nil || ok {
			t.Fatalf("tick=%d every=%d: ok=%v err=%v", tc.tick, tc.every, ok, err)
		}
	}
	if _, err := os.Stat(Dir(dataDir)); !os.IsNotExist(err) {
		t.Fatalf("archive dir should not be created: %v", err)
	}
}

// Package archive keeps milestone snapshots out of reach of snapshot pruning.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"trustcollapse.dev/internal/persistence/snapshot"
)

type Meta struct {
	RunID     string `json:"run_id"`
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// Dir is where a data directory keeps its archived snapshots.
func Dir(dataDir string) string { return filepath.Join(dataDir, "archives") }

// ArchiveSnapshot copies a snapshot whose tick is a positive multiple of
// every into `dataDir/archives/<run>_<tick>/` next to a meta.json.
// It returns (archivedPath, archived=true) when a copy was made.
func ArchiveSnapshot(dataDir, snapshotPath string, h snapshot.Header, every uint64) (archivedPath string, archived bool, err error) {
	if every == 0 || h.Tick == 0 || h.Tick%every != 0 {
		return "", false, nil
	}
	run := h.RunID
	if run == "" {
		run = "run"
	}
	archiveDir := filepath.Join(Dir(dataDir), fmt.Sprintf("%s_%d", run, h.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		RunID:     h.RunID,
		Tick:      h.Tick,
		Seed:      h.Seed,
		Width:     h.Width,
		Height:    h.Height,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// List returns the metadata of every archived snapshot under dataDir.
// Directories without a readable meta.json are skipped.
func List(dataDir string) ([]Meta, error) {
	ents, err := os.ReadDir(Dir(dataDir))
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(Dir(dataDir), e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m Meta
		if json.Unmarshal(b, &m) != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"trustcollapse.dev/internal/sim/runner"
)

func TestTickLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := 0; i < 5; i++ {
		e := runner.TickEntry{RunID: "r1", Tick: uint64(i), Digest: "d", QueueLen: i}
		if i == 2 {
			e.Commands = []runner.Command{{Kind: runner.CmdRandomizeMixed, Fraction: 0.25}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if l.Lines() != 5 {
		t.Fatalf("lines: %d", l.Lines())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []runner.TickEntry
	if err := ReadTickLog(TickDir(dir), func(e runner.TickEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadTickLog: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("read %d entries", len(got))
	}
	for i, e := range got {
		if e.Tick != uint64(i) || e.QueueLen != i || e.RunID != "r1" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if len(got[2].Commands) != 1 || got[2].Commands[0].Fraction != 0.25 {
		t.Fatalf("commands lost: %+v", got[2].Commands)
	}
}

func TestJSONLZstdWriter_HourlyRotation(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, tickPrefix)
	w.now = func() time.Time { return clock }

	write := func(tick uint64) {
		t.Helper()
		if err := w.Write(runner.TickEntry{Tick: tick}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	write(0)
	write(1)
	clock = clock.Add(2 * time.Minute)
	write(2)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListTickFiles(dir)
	if err != nil {
		t.Fatalf("ListTickFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
	if filepath.Base(files[0]) != "ticks-2026-03-01-10.jsonl.zst" || filepath.Base(files[1]) != "ticks-2026-03-01-11.jsonl.zst" {
		t.Fatalf("names: %v", files)
	}

	var ticks []uint64
	_ = ReadTickLog(dir, func(e runner.TickEntry) error {
		ticks = append(ticks, e.Tick)
		return nil
	})
	if len(ticks) != 3 || ticks[0] != 0 || ticks[2] != 2 {
		t.Fatalf("ticks: %v", ticks)
	}
}

func TestJSONLZstdWriter_ReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for run := 0; run < 2; run++ {
		w := NewJSONLZstdWriter(dir, tickPrefix)
		w.now = func() time.Time { return clock }
		if err := w.Write(runner.TickEntry{Tick: uint64(run)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	n := 0
	if err := ReadTickLog(dir, func(runner.TickEntry) error { n++; return nil }); err != nil {
		t.Fatalf("ReadTickLog: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries: got %d want 2", n)
	}
}

func TestReadTickLog_StopAndIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, tickPrefix)
	for i := 0; i < 3; i++ {
		_ = w.Write(runner.TickEntry{Tick: uint64(i)})
	}
	_ = w.Close()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	n := 0
	err := ReadTickLog(dir, func(runner.TickEntry) error {
		n++
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestReadTickLog_MissingDir(t *testing.T) {
	err := ReadTickLog(filepath.Join(t.TempDir(), "nope"), func(runner.TickEntry) error { return nil })
	if !os.IsNotExist(err) {
		t.Fatalf("got %v", err)
	}
}

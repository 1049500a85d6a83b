package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/tuning"
)

// SQLiteIndex is a read model of per-tick statistics. Writes are queued and
// applied by a single writer goroutine; the tick log stays the source of
// truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan runner.TickEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks    atomic.Uint64
	writtenTicks atomic.Uint64
	writeErrors  atomic.Uint64
}

// Stats reports queue health.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTickTotal uint64 `json:"drop_tick_total"`
	WrittenTotal  uint64 `json:"written_total"` // committed rows
	WriteErrors   uint64 `json:"write_errors"`
}

// TickRow is one row of the ticks table.
type TickRow struct {
	RunID         string  `json:"run_id"`
	Tick          uint64  `json:"tick"`
	Digest        string  `json:"digest"`
	Enqueued      int     `json:"enqueued"`
	Migrated      int     `json:"migrated"`
	QueueLen      int     `json:"queue_len"`
	MigratedTotal uint64  `json:"migrated_total"`
	GoodMean      float64 `json:"good_mean"`
	GoodEvil      int     `json:"good_evil"`
	MixedMean     float64 `json:"mixed_mean"`
	MixedGood     int     `json:"mixed_good"`
	MixedEvil     int     `json:"mixed_evil"`
	MixedOccupied int     `json:"mixed_occupied"`
	Error         string  `json:"error,omitempty"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan runner.TickEntry, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			enqueued INTEGER NOT NULL,
			migrated INTEGER NOT NULL,
			queue_len INTEGER NOT NULL,
			migrated_total INTEGER NOT NULL,
			good_mean REAL NOT NULL,
			good_evil INTEGER NOT NULL,
			mixed_mean REAL NOT NULL,
			mixed_good INTEGER NOT NULL,
			mixed_evil INTEGER NOT NULL,
			mixed_occupied INTEGER NOT NULL,
			error TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_run_tick ON ticks(run_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry runner.TickEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
		// Drop if the indexer falls behind; the tick log remains the source of truth.
		s.dropTicks.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTickTotal: s.dropTicks.Load(),
		WrittenTotal:  s.writtenTicks.Load(),
		WriteErrors:   s.writeErrors.Load(),
	}
}

// RecordTuning stores the effective tuning as canonical JSON in the meta
// table.
func (s *SQLiteIndex) RecordTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning',?)`, string(b)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('updated_at',?)`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// Meta returns a meta value, or "" when it is absent.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// Recent returns up to limit rows, newest first.
func (s *SQLiteIndex) Recent(ctx context.Context, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,tick,digest,enqueued,migrated,queue_len,migrated_total,
		good_mean,good_evil,mixed_mean,mixed_good,mixed_evil,mixed_occupied,COALESCE(error,'')
		FROM ticks ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var r TickRow
		var tick, total int64
		if err := rows.Scan(&r.RunID, &tick, &r.Digest, &r.Enqueued, &r.Migrated, &r.QueueLen, &total,
			&r.GoodMean, &r.GoodEvil, &r.MixedMean, &r.MixedGood, &r.MixedEvil, &r.MixedOccupied, &r.Error); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.MigratedTotal = uint64(total)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT INTO ticks(run_id,tick,digest,enqueued,migrated,queue_len,migrated_total,
		good_mean,good_evil,mixed_mean,mixed_good,mixed_evil,mixed_occupied,error,raw_json)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		} else {
			s.writtenTicks.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Commit when the batch is large, when it has waited too long, or when
	// the queue has drained so readers see fresh rows.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for e := range s.ch {
		begin()
		if tx == nil || insertTick == nil {
			s.writeErrors.Add(1)
			continue
		}
		raw, _ := json.Marshal(e)
		var errText any
		if e.Error != "" {
			errText = e.Error
		}
		if _, err := tx.Stmt(insertTick).Exec(
			e.RunID,
			int64(e.Tick),
			e.Digest,
			e.Enqueued,
			e.Migrated,
			e.QueueLen,
			int64(e.MigratedTotal),
			e.Good.MeanTrust,
			e.Good.EvilCount,
			e.Mixed.MeanTrust,
			e.Mixed.GoodCount,
			e.Mixed.EvilCount,
			e.Mixed.Occupied,
			errText,
			string(raw),
		); err != nil {
			s.writeErrors.Add(1)
			rollback()
			continue
		}
		opCount++
		flushIfNeeded()
	}

	commit()
}

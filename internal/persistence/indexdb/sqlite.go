// Package indexdb keeps a queryable SQLite read model of generated chunks,
// detailed regions and road repairs. Chunk files stay the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tileworld.ai/internal/worldgen/pipeline"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropTotal atomic.Uint64
}

type req struct {
	event pipeline.Event
	// flush, when set, is closed after everything queued before it commits.
	flush chan struct{}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
}

type ChunkRow struct {
	WorldID   string
	CX, CZ    int32
	Phase     string
	Biome     string
	Digest    string
	Path      string
	UpdatedAt string
}

type RegionRow struct {
	WorldID    string
	RX, RZ     int32
	Waypoints  int
	Edges      int
	Painted    int
	Adjusted   int
	Repairs    int
	DurationMS int64
	DetailedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, 65536),
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
		`CREATE TABLE IF NOT EXISTS chunks (
			world_id TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			phase TEXT NOT NULL,
			biome TEXT,
			digest TEXT NOT NULL,
			path TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (world_id, cx, cz)
		);`,
		`CREATE TABLE IF NOT EXISTS regions (
			world_id TEXT NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			waypoints INTEGER NOT NULL,
			edges INTEGER NOT NULL,
			painted INTEGER NOT NULL,
			adjusted INTEGER NOT NULL,
			repairs INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			detailed_at TEXT NOT NULL,
			PRIMARY KEY (world_id, rx, rz)
		);`,
		`CREATE TABLE IF NOT EXISTS repairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			from_x INTEGER NOT NULL,
			from_z INTEGER NOT NULL,
			to_x INTEGER NOT NULL,
			to_z INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_repairs_region ON repairs(world_id, rx, rz);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
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

// Emit queues an event. It never blocks: when the queue is full the event is
// dropped and counted, since the chunk files and JSONL logs remain complete.
func (s *SQLiteIndex) Emit(e pipeline.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{event: e}:
	default:
		s.dropTotal.Add(1)
	}
}

// Flush blocks until every event queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
	}
}

func (s *SQLiteIndex) Chunks(ctx context.Context, worldID string) ([]ChunkRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,cx,cz,phase,COALESCE(biome,''),digest,path,updated_at FROM chunks WHERE world_id=? ORDER BY cz,cx`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		var r ChunkRow
		if err := rows.Scan(&r.WorldID, &r.CX, &r.CZ, &r.Phase, &r.Biome, &r.Digest, &r.Path, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Regions(ctx context.Context, worldID string) ([]RegionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,rx,rz,waypoints,edges,painted,adjusted,repairs,duration_ms,detailed_at FROM regions WHERE world_id=? ORDER BY rz,rx`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegionRow
	for rows.Next() {
		var r RegionRow
		if err := rows.Scan(&r.WorldID, &r.RX, &r.RZ, &r.Waypoints, &r.Edges, &r.Painted, &r.Adjusted, &r.Repairs, &r.DurationMS, &r.DetailedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) RepairCount(ctx context.Context, worldID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repairs WHERE world_id=?`, worldID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(world_id,cx,cz,phase,biome,digest,path,updated_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertRegion, _ := s.db.Prepare(`INSERT OR REPLACE INTO regions(world_id,rx,rz,waypoints,edges,painted,adjusted,repairs,duration_ms,detailed_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertRepair, _ := s.db.Prepare(`INSERT INTO repairs(world_id,rx,rz,from_x,from_z,to_x,to_z,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertChunk, insertRegion, insertRepair} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
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
		_ = tx.Commit()
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
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		e := r.event
		switch e.Type {
		case pipeline.EventRawChunk:
			exec(insertChunk, e.WorldID, e.CX, e.CZ, e.Phase, e.Biome, e.Digest, e.Path, e.Time)
		case pipeline.EventRegionDetailed:
			exec(insertRegion, e.WorldID, e.RX, e.RZ, e.Waypoints, e.Edges, e.Painted, e.Adjusted, e.Repairs, e.DurationMS, e.Time)
		case pipeline.EventChunkDetailed:
			exec(insertChunk, e.WorldID, e.CX, e.CZ, e.Phase, e.Biome, e.Digest, e.Path, e.Time)
		case pipeline.EventRoadRepair:
			exec(insertRepair, e.WorldID, e.RX, e.RZ, e.From[0], e.From[1], e.To[0], e.To[1], e.Time)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

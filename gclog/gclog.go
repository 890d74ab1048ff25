// Package gclog persists collection statistics to SQLite so long-running
// embedders can inspect collector behavior after the fact.
package gclog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jason-hall/gecko-dev/gc"
)

// ErrCollectionNotFound indicates the requested collection doesn't exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Log handles SQLite storage for collection statistics.
type Log struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// CollectionRecord is one persisted major collection.
type CollectionRecord struct {
	ID             string
	Number         uint64
	Reason         string
	Zones          int
	Slices         int
	CellsMarked    uint64
	CellsFinalized uint64
	SweepGroups    int
	ChunksReleased int
	Started        time.Time
	Finished       time.Time
}

// SliceRecord is one persisted incremental slice.
type SliceRecord struct {
	CollectionID string
	Ordinal      int
	EnterState   string
	FinalState   string
	Budget       string
	Work         int64
	DurationUS   int64
	OverBudget   bool
}

// Open creates or opens a collection log database.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		reason TEXT NOT NULL,
		zones INTEGER NOT NULL,
		slices INTEGER NOT NULL,
		cells_marked INTEGER NOT NULL,
		cells_finalized INTEGER NOT NULL,
		sweep_groups INTEGER NOT NULL,
		chunks_released INTEGER NOT NULL,
		started_us INTEGER NOT NULL,
		finished_us INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating collections table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS slices (
		collection_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		enter_state TEXT NOT NULL,
		final_state TEXT NOT NULL,
		budget TEXT NOT NULL,
		work INTEGER NOT NULL,
		duration_us INTEGER NOT NULL,
		over_budget INTEGER NOT NULL,
		PRIMARY KEY (collection_id, ordinal)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating slices table: %w", err)
	}

	return &Log{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record persists one completed collection and its slice log.
func (l *Log) Record(stats *gc.CollectionStats) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO collections
		 (id, number, reason, zones, slices, cells_marked, cells_finalized,
		  sweep_groups, chunks_released, started_us, finished_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.ID, stats.Number, stats.Reason, stats.Zones, stats.Slices,
		stats.CellsMarked, stats.CellsFinalized, stats.SweepGroups,
		stats.ChunksReleased, stats.Started.UnixMicro(), stats.Finished.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("saving collection: %w", err)
	}

	for i, s := range stats.SliceLog {
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO slices
			 (collection_id, ordinal, enter_state, final_state, budget, work,
			  duration_us, over_budget)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			stats.ID, i, s.EnterState.String(), s.FinalState.String(),
			s.Budget, s.Work, s.Duration.Microseconds(), s.OverBudget,
		)
		if err != nil {
			return fmt.Errorf("saving slice %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing collection: %w", err)
	}
	return nil
}

// LoadCollection retrieves one collection by id.
func (l *Log) LoadCollection(id string) (*CollectionRecord, error) {
	var rec CollectionRecord
	var startedUS, finishedUS int64
	err := l.db.QueryRow(
		`SELECT id, number, reason, zones, slices, cells_marked,
		        cells_finalized, sweep_groups, chunks_released,
		        started_us, finished_us
		 FROM collections WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Number, &rec.Reason, &rec.Zones, &rec.Slices,
		&rec.CellsMarked, &rec.CellsFinalized, &rec.SweepGroups,
		&rec.ChunksReleased, &startedUS, &finishedUS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	rec.Started = time.UnixMicro(startedUS)
	rec.Finished = time.UnixMicro(finishedUS)
	return &rec, nil
}

// LoadSlices retrieves the slice log of a collection in order.
func (l *Log) LoadSlices(collectionID string) ([]SliceRecord, error) {
	rows, err := l.db.Query(
		`SELECT collection_id, ordinal, enter_state, final_state, budget,
		        work, duration_us, over_budget
		 FROM slices WHERE collection_id = ? ORDER BY ordinal`, collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying slices: %w", err)
	}
	defer rows.Close()

	var out []SliceRecord
	for rows.Next() {
		var s SliceRecord
		if err := rows.Scan(&s.CollectionID, &s.Ordinal, &s.EnterState,
			&s.FinalState, &s.Budget, &s.Work, &s.DurationUS, &s.OverBudget); err != nil {
			return nil, fmt.Errorf("scanning slice: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recorder returns a status callback that persists every completed
// collection. Write failures are reported through onErr, which may be nil.
func (l *Log) Recorder(onErr func(error)) gc.StatusCallback {
	return func(progress gc.GCProgress, stats *gc.CollectionStats) {
		if progress != gc.GCCycleEnd || stats == nil {
			return
		}
		if err := l.Record(stats); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

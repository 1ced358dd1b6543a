package tradedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tradehall.ai/internal/trade"
)

// Store is the queryable mirror of the settled-trade history plus the
// per-player settings table. Settled records are written by a single
// goroutine fed from a buffered channel so settlement never blocks on disk;
// settings reads and writes are synchronous (they gate requests and are
// rare).
type Store struct {
	db *sql.DB

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	retention       time.Duration
	cleanupInterval time.Duration
	log             *log.Logger
}

// job is the writer-channel envelope: a record to index, or, when done is
// non-nil, a barrier closed once every earlier record has been applied.
type job struct {
	rec  trade.SettledRecord
	done chan struct{}
}

func Open(path string, retentionDays int, cleanupInterval time.Duration, logger *log.Logger) (*Store, error) {
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

	s := &Store{
		db:              db,
		ch:              make(chan job, 4096),
		retention:       time.Duration(retentionDays) * 24 * time.Hour,
		cleanupInterval: cleanupInterval,
		log:             logger,
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = 24 * time.Hour
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style settled log; NORMAL is enough durability
	// for a secondary index (JSONL files are the source of truth).
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS settled (
			session_id TEXT PRIMARY KEY,
			a TEXT NOT NULL,
			b TEXT NOT NULL,
			a_items TEXT,
			b_items TEXT,
			a_money REAL NOT NULL,
			b_money REAL NOT NULL,
			a_exp INTEGER NOT NULL,
			b_exp INTEGER NOT NULL,
			money_tax REAL NOT NULL,
			exp_tax INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_settled_a_at ON settled(a, at);`,
		`CREATE INDEX IF NOT EXISTS idx_settled_b_at ON settled(b, at);`,
		`CREATE INDEX IF NOT EXISTS idx_settled_at ON settled(at);`,
		`CREATE TABLE IF NOT EXISTS player_settings (
			player TEXT PRIMARY KEY,
			trade_enabled INTEGER NOT NULL DEFAULT 1,
			blocked TEXT NOT NULL DEFAULT '[]',
			total_trades INTEGER NOT NULL DEFAULT 0,
			total_money REAL NOT NULL DEFAULT 0,
			total_exp INTEGER NOT NULL DEFAULT 0,
			last_trade INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record implements trade.SettledSink. Records are dropped if the writer
// falls behind; the JSONL settled log remains the source of truth.
func (s *Store) Record(rec trade.SettledRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- job{rec: rec}:
	default:
	}
	return nil
}

func (s *Store) loop() {
	t := time.NewTicker(s.cleanupInterval)
	defer t.Stop()
	for {
		select {
		case j, ok := <-s.ch:
			if !ok {
				return
			}
			if j.done != nil {
				close(j.done)
				continue
			}
			if err := s.insertSettled(j.rec); err != nil && s.log != nil {
				s.log.Printf("tradedb: insert settled: %v", err)
			}
			if j.rec.Outcome == trade.OutcomeCompleted {
				s.bumpStats(j.rec.A, j.rec.AMoney, j.rec.AExp, j.rec.At)
				s.bumpStats(j.rec.B, j.rec.BMoney, j.rec.BExp, j.rec.At)
			}
		case <-t.C:
			if n, err := s.purgeExpired(time.Now()); err != nil {
				if s.log != nil {
					s.log.Printf("tradedb: purge: %v", err)
				}
			} else if n > 0 && s.log != nil {
				s.log.Printf("tradedb: purged %d settled record(s) past retention", n)
			}
		}
	}
}

func (s *Store) insertSettled(rec trade.SettledRecord) error {
	aItems, err := json.Marshal(rec.AItems)
	if err != nil {
		return err
	}
	bItems, err := json.Marshal(rec.BItems)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO settled
		 (session_id, a, b, a_items, b_items, a_money, b_money, a_exp, b_exp, money_tax, exp_tax, outcome, reason, at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.SessionID, rec.A, rec.B, string(aItems), string(bItems),
		rec.AMoney, rec.BMoney, rec.AExp, rec.BExp,
		rec.MoneyTax, rec.ExpTax, rec.Outcome, rec.Reason, rec.At.UnixMilli(),
	)
	return err
}

func (s *Store) bumpStats(player string, money float64, exp int, at time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO player_settings (player, total_trades, total_money, total_exp, last_trade)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(player) DO UPDATE SET
			total_trades = total_trades + 1,
			total_money = total_money + excluded.total_money,
			total_exp = total_exp + excluded.total_exp,
			last_trade = excluded.last_trade`,
		player, money, exp, at.UnixMilli(),
	)
	if err != nil && s.log != nil {
		s.log.Printf("tradedb: bump stats for %s: %v", player, err)
	}
}

func (s *Store) purgeExpired(now time.Time) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM settled WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Sync blocks until every record enqueued before the call has been applied.
// Record is asynchronous and tests need a barrier before querying; the
// barrier rides the writer channel, so FIFO ordering makes it exact.
func (s *Store) Sync() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- job{done: done}
	<-done
}

// PlayerLogs returns the most recent settled records involving player,
// newest first.
func (s *Store) PlayerLogs(player string, limit int) ([]trade.SettledRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT session_id, a, b, a_items, b_items, a_money, b_money, a_exp, b_exp, money_tax, exp_tax, outcome, COALESCE(reason,''), at
		 FROM settled WHERE a = ? OR b = ? ORDER BY at DESC LIMIT ?`,
		player, player, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trade.SettledRecord
	for rows.Next() {
		var rec trade.SettledRecord
		var aItems, bItems string
		var at int64
		if err := rows.Scan(&rec.SessionID, &rec.A, &rec.B, &aItems, &bItems,
			&rec.AMoney, &rec.BMoney, &rec.AExp, &rec.BExp,
			&rec.MoneyTax, &rec.ExpTax, &rec.Outcome, &rec.Reason, &at); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(aItems), &rec.AItems)
		_ = json.Unmarshal([]byte(bItems), &rec.BItems)
		rec.At = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates hall-wide totals for the admin surface.
type Summary struct {
	Completed int     `json:"completed"`
	Cancelled int     `json:"cancelled"`
	MoneyTax  float64 `json:"money_tax"`
	ExpTax    int     `json:"exp_tax"`
}

// Summarize counts outcomes and totals the tax take. Taxes are summed over
// completed trades only; a cancelled trade collects none.
func (s *Store) Summarize() (Summary, error) {
	var out Summary
	err := s.db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN money_tax ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN exp_tax ELSE 0 END), 0)
		 FROM settled`,
		trade.OutcomeCompleted, trade.OutcomeCancelled,
		trade.OutcomeCompleted, trade.OutcomeCompleted,
	).Scan(&out.Completed, &out.Cancelled, &out.MoneyTax, &out.ExpTax)
	return out, err
}

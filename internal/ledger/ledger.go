// Package ledger records every match of a run in a SQL index, so matches can be
// queried by key, source file and line number after the reduction.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/logreduce/api"
	"github.com/agentic-research/logreduce/internal/logging"
	"github.com/agentic-research/logreduce/internal/reduce"
)

const defaultBatchSize = 1000

// Ledger implements reduce.Observer on top of database/sql. Inserts are
// batched in transactions; Close commits the remainder.
type Ledger struct {
	db      *sql.DB
	dialect Dialect
	runID   string
	log     *logging.Logger

	mu        sync.Mutex
	tx        *sql.Tx
	stmt      *sql.Stmt
	batchSize int
	pending   [][]any
	failures  int
}

// Open connects to dsn, creates the schema and registers a new run.
func Open(driver, dsn string, cfg *api.Config, log *logging.Logger) (*Ledger, error) {
	d, err := DialectFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s index: %w", driver, err)
	}
	if d.DriverName() == "sqlite" {
		// One writer; the ledger serializes access itself.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	for _, stmt := range d.Schema() {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	if log == nil {
		log = logging.Discard()
	}

	l := &Ledger{
		db:        db,
		dialect:   d,
		runID:     uuid.NewString(),
		log:       log,
		batchSize: defaultBatchSize,
	}
	q := fmt.Sprintf(`INSERT INTO runs (run_id, started_at, input_root, output_root) VALUES (%s)`, placeholders(d, 4))
	if _, err := db.Exec(q, l.runID, time.Now().UnixNano(), cfg.InputRoot, cfg.OutputRoot); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	if err := l.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// RunID identifies this run in the runs and matches tables.
func (l *Ledger) RunID() string { return l.runID }

func (l *Ledger) beginTx() error {
	var err error
	l.tx, err = l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	l.stmt, err = l.tx.Prepare(fmt.Sprintf(
		`INSERT INTO matches (run_id, kind, match_key, source, line_no, line) VALUES (%s)`,
		placeholders(l.dialect, 6)))
	if err != nil {
		_ = l.tx.Rollback()
		l.tx = nil
		return fmt.Errorf("prepare: %w", err)
	}
	return nil
}

func (l *Ledger) commitTx() error {
	if l.tx == nil {
		return nil
	}
	_ = l.stmt.Close()
	err := l.tx.Commit()
	l.tx, l.stmt = nil, nil
	l.pending = l.pending[:0]
	return err
}

// restartBatch rolls back the open transaction and re-inserts the rows that
// had already succeeded in it. A failed statement aborts the whole
// transaction on postgres, so the batch cannot simply continue. A row that
// fails again is dropped and the batch restarted without it.
func (l *Ledger) restartBatch() {
	rows := l.pending
	for {
		if l.tx != nil {
			_ = l.stmt.Close()
			_ = l.tx.Rollback()
			l.tx, l.stmt = nil, nil
		}
		l.pending = make([][]any, 0, len(rows))
		if err := l.beginTx(); err != nil {
			l.fail("begin failed, %d rows lost: %v", len(rows), err)
			return
		}
		failed := -1
		for i, args := range rows {
			if _, err := l.stmt.Exec(args...); err != nil {
				l.fail("re-insert failed for %v:%v: %v", args[3], args[4], err)
				failed = i
				break
			}
			l.pending = append(l.pending, args)
		}
		if failed < 0 {
			return
		}
		rows = append(rows[:failed:failed], rows[failed+1:]...)
	}
}

// OnMatch implements reduce.Observer. Index failures are logged and counted;
// they never interrupt the reduction.
func (l *Ledger) OnMatch(m reduce.Match) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx == nil {
		if err := l.beginTx(); err != nil {
			l.fail("begin failed: %v", err)
			return
		}
	}
	args := []any{l.runID, m.Event.Kind.String(), text(m.Event.Key), text(m.Source), m.LineNo, text(m.Line)}
	if _, err := l.stmt.Exec(args...); err != nil {
		l.fail("insert failed for %s:%d: %v", m.Source, m.LineNo, err)
		l.restartBatch()
		return
	}
	l.pending = append(l.pending, args)
	if len(l.pending) >= l.batchSize {
		if err := l.commitTx(); err != nil {
			l.fail("commit failed: %v", err)
		}
	}
}

// text makes s storable in a TEXT column on every backend.
func text(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func (l *Ledger) fail(format string, args ...any) {
	l.failures++
	l.log.Errorf("index: "+format, args...)
}

// Failures is the number of index operations that failed.
func (l *Ledger) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// Finish stores the run totals.
func (l *Ledger) Finish(sum *reduce.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.commitTx(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d := l.dialect
	q := fmt.Sprintf(`UPDATE runs SET finished_at = %s, files_processed = %s, files_failed = %s,
		lines_read = %s, ip_events = %s, keyword_events = %s, write_failures = %s WHERE run_id = %s`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
		d.Placeholder(5), d.Placeholder(6), d.Placeholder(7), d.Placeholder(8))
	_, err := l.db.Exec(q, sum.Finished.UnixNano(), sum.FilesProcessed, sum.FilesFailed,
		sum.LinesRead, sum.IPEvents, sum.KeywordEvents, sum.WriteFailures, l.runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Close commits pending inserts and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.commitTx(); err != nil {
		_ = l.db.Close()
		return err
	}
	return l.db.Close()
}

var _ reduce.Observer = (*Ledger)(nil)

package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/logreduce/api"
	"github.com/agentic-research/logreduce/internal/classify"
	"github.com/agentic-research/logreduce/internal/reduce"
	"github.com/agentic-research/logreduce/internal/sink"
	"github.com/agentic-research/logreduce/internal/walker"
)

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("", "/tmp/index.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.DriverName())
	assert.Equal(t, "?, ?, ?", placeholders(d, 3))

	d, err = DialectFor("", "postgres://user@localhost/logs")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.DriverName())
	assert.Equal(t, "$1, $2, $3", placeholders(d, 3))

	_, err = DialectFor("mysql", "x")
	assert.Error(t, err)
}

func TestLedger_RecordsMatches(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	cfg := &api.Config{InputRoot: "in", OutputRoot: "out", Keywords: []string{"ERROR"}}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/a.log", []byte("ok\n8.8.8.8 ERROR\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/sub/b.log", []byte("ERROR\x00nul\n"), 0o644))

	w, err := walker.New(fs, walker.Options{})
	require.NoError(t, err)
	c, err := classify.New(cfg.Keywords, nil, false)
	require.NoError(t, err)

	l, err := Open("sqlite", dbPath, cfg, nil)
	require.NoError(t, err)
	l.batchSize = 2 // force a mid-run commit

	e := reduce.NewEngine(cfg, w, c, sink.NewMemory())
	e.Observer = l
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Finish(sum))
	require.NoError(t, l.Close())
	assert.Equal(t, 0, l.Failures())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT kind, match_key, source, line_no, line FROM matches WHERE run_id = ? ORDER BY source, line_no, kind`, l.RunID())
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	type row struct {
		kind, key, source string
		lineNo            int
		line              string
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.kind, &r.key, &r.source, &r.lineNo, &r.line))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []row{
		{"ip", "8.8.8.8", "a.log", 2, "8.8.8.8 ERROR\n"},
		{"keyword", "ERROR", "a.log", 2, "8.8.8.8 ERROR\n"},
		{"keyword", "ERROR", "sub/b.log", 1, "ERRORnul\n"},
	}, got)

	var processed, ipEvents, kwEvents int
	var finished sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT files_processed, ip_events, keyword_events, finished_at FROM runs WHERE run_id = ?`, l.RunID()).
		Scan(&processed, &ipEvents, &kwEvents, &finished))
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, ipEvents)
	assert.Equal(t, 2, kwEvents)
	assert.True(t, finished.Valid)
}

func TestLedger_SeparateRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	cfg := &api.Config{InputRoot: "in", OutputRoot: "out"}

	a, err := Open("", dbPath, cfg, nil)
	require.NoError(t, err)
	a.OnMatch(reduce.Match{Source: "x.log", LineNo: 1, Line: "1.2.3.4\n", Event: classify.Event{Kind: classify.KindIP, Key: "1.2.3.4"}})
	require.NoError(t, a.Close())

	b, err := Open("", dbPath, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.NotEqual(t, a.RunID(), b.RunID())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var runs, matches int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&matches))
	assert.Equal(t, 2, runs)
	assert.Equal(t, 1, matches)
}

func TestLedger_InsertFailureKeepsBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	// Pre-create the schema with a trigger that rejects one key.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	for _, stmt := range (sqliteDialect{}).Schema() {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON matches
		WHEN NEW.match_key = 'BAD' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := Open("sqlite", dbPath, &api.Config{InputRoot: "in", OutputRoot: "out"}, nil)
	require.NoError(t, err)
	l.batchSize = 3

	for i, key := range []string{"A", "B", "BAD", "C", "D", "E"} {
		l.OnMatch(reduce.Match{Source: "x.log", LineNo: i + 1, Line: key + "\n",
			Event: classify.Event{Kind: classify.KindKeyword, Key: key}})
	}
	require.NoError(t, l.Close())
	assert.Equal(t, 1, l.Failures())

	db, err = sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	rows, err := db.Query(`SELECT match_key FROM matches ORDER BY line_no`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, keys)
}

func TestText(t *testing.T) {
	assert.Equal(t, "ab\n", text("a\x00b\n"))
	assert.Equal(t, "caf� ERROR\n", text("caf\xe9 ERROR\n"))
	assert.Equal(t, "plain", text("plain"))
}

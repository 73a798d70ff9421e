package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores records in an events table.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		run    TEXT    NOT NULL,
		seq    INTEGER NOT NULL,
		spirit INTEGER NOT NULL,
		parent INTEGER NOT NULL,
		ritual TEXT    NOT NULL,
		state  TEXT    NOT NULL,
		detail TEXT    NOT NULL,
		at     TEXT    NOT NULL,
		PRIMARY KEY (run, seq)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: creating table: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO events
		(run, seq, spirit, parent, ritual, state, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: preparing insert: %w", err)
	}
	return &SQLiteSink{db: db, insert: insert}, nil
}

func (s *SQLiteSink) Write(r Record) error {
	_, err := s.insert.Exec(r.Run, int64(r.Seq), int64(r.Spirit), int64(r.Parent),
		r.Ritual, r.State, r.Detail, r.Time.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("journal: insert record %d: %w", r.Seq, err)
	}
	return nil
}

// Records returns the records of run in sequence order. An empty run
// selects every run.
func (s *SQLiteSink) Records(run string) ([]Record, error) {
	rows, err := s.db.Query(`SELECT run, seq, spirit, parent, ritual, state, detail, at
		FROM events WHERE ? = '' OR run = ? ORDER BY run, seq`, run, run)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                   Record
			seq, spirit, parent int64
			at                  string
		)
		if err := rows.Scan(&r.Run, &seq, &spirit, &parent, &r.Ritual, &r.State, &r.Detail, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.Seq, r.Spirit, r.Parent = uint64(seq), uint64(spirit), uint64(parent)
		if r.Time, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("journal: record %d time: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *SQLiteSink) Close() error {
	s.insert.Close()
	return s.db.Close()
}

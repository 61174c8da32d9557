// Package audit provides optional SQLite persistence of PD subscriber
// arrivals and MD session outcomes, for offline replay and diagnosis. It is
// not part of the runtime's hot path: callers that never configure a
// *Log simply never call into this package.
//
// Grounded on database/marketdata.go: sql.Open against go-sqlite3 with WAL
// journaling, prepared statements created once at construction and reused
// for every insert, explicit Close ordering (statements before the
// database handle).
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS pd_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	com_id INTEGER NOT NULL,
	src_ip INTEGER NOT NULL,
	dst_ip INTEGER NOT NULL,
	timed_out INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS md_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	com_id INTEGER NOT NULL,
	msg_type TEXT NOT NULL,
	result TEXT NOT NULL
);
`

const (
	insertPDEventQuery   = `INSERT INTO pd_events (recorded_at, com_id, src_ip, dst_ip, timed_out) VALUES (?, ?, ?, ?, ?)`
	insertMDSessionQuery = `INSERT INTO md_sessions (recorded_at, session_id, com_id, msg_type, result) VALUES (?, ?, ?, ?, ?)`
)

// Log is the audit trail for one runtime instance, backed by a SQLite file.
type Log struct {
	db *sql.DB

	stmtPDEvent   *sql.Stmt
	stmtMDSession *sql.Stmt
}

// Open creates (or reuses) a SQLite file at path and prepares the audit
// insert statements once, the way NewMarketDataDb does.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	l := &Log{db: db}
	if l.stmtPDEvent, err = db.Prepare(insertPDEventQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: prepare pd_events statement: %w", err)
	}
	if l.stmtMDSession, err = db.Prepare(insertMDSessionQuery); err != nil {
		_ = l.stmtPDEvent.Close()
		_ = db.Close()
		return nil, fmt.Errorf("audit: prepare md_sessions statement: %w", err)
	}
	return l, nil
}

// Close releases the prepared statements, then the database handle.
func (l *Log) Close() error {
	if l.stmtPDEvent != nil {
		_ = l.stmtPDEvent.Close()
	}
	if l.stmtMDSession != nil {
		_ = l.stmtMDSession.Close()
	}
	return l.db.Close()
}

// RecordPDEvent logs one subscriber delivery or timeout event.
func (l *Log) RecordPDEvent(comID, srcIP, dstIP uint32, timedOut bool) error {
	_, err := l.stmtPDEvent.Exec(time.Now().UnixNano(), comID, srcIP, dstIP, timedOut)
	return err
}

// RecordMDSession logs one MD session event (msgType is the wire tag the
// event concerns, e.g. "Mn", "Mr", "Mp" or "Mq"; result is a short outcome
// such as "received", "reply_timeout" or "confirm_timeout").
func (l *Log) RecordMDSession(sessionID string, comID uint32, msgType, result string) error {
	_, err := l.stmtMDSession.Exec(time.Now().UnixNano(), sessionID, comID, msgType, result)
	return err
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package datalog persists sessions, filter states, calibration results and
// decode errors to sqlite, and raw notifications to a length-prefixed file.
package datalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

const (
	queueSize = 10240
	batchSize = 256
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT NOT NULL PRIMARY KEY,
		started TIMESTAMP NOT NULL,
		constants TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS states (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		t REAL NOT NULL,
		theta REAL NOT NULL,
		omega REAL NOT NULL,
		alpha REAL NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS calibrations (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		created TIMESTAMP NOT NULL,
		sensor INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		transform TEXT,
		coefficients TEXT,
		error TEXT)`,
	`CREATE TABLE IF NOT EXISTS decode_errors (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		created TIMESTAMP NOT NULL,
		opcode INTEGER,
		offset INTEGER,
		message TEXT NOT NULL)`,
}

type row struct {
	query string
	args  []interface{}
}

// Log is an asynchronous sqlite writer. Rows are queued and written in
// batches by a single goroutine; when the queue is full new rows are dropped
// and counted rather than blocking the telemetry path.
type Log struct {
	db   *sql.DB
	rows chan row
	wg   sync.WaitGroup

	mu      sync.Mutex
	dropped int
	closed  bool
}

// Open opens (or creates) the sqlite database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, s := range schema {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("datalog: create schema: %w", err)
		}
	}
	l := &Log{db: db, rows: make(chan row, queueSize)}
	l.wg.Add(1)
	go l.writer()
	return l, nil
}

func (l *Log) writer() {
	defer l.wg.Done()
	for r := range l.rows {
		batch := []row{r}
	drain:
		for len(batch) < batchSize {
			select {
			case next, ok := <-l.rows:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := l.write(batch); err != nil {
			log.Printf("datalog: write %d rows: %v", len(batch), err)
		}
	}
}

func (l *Log) write(batch []row) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	for _, r := range batch {
		if _, err := tx.Exec(r.query, r.args...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (l *Log) enqueue(query string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.rows <- row{query: query, args: args}:
	default:
		l.dropped++
	}
}

// Dropped returns how many rows were discarded because the queue was full.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// StartSession records a session and the model constants it runs with. It is
// written synchronously so later rows always have a parent.
func (l *Log) StartSession(id string, started time.Time, c kinematics.Constants) error {
	js, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(`INSERT OR REPLACE INTO sessions (id, started, constants) VALUES (?, ?, ?)`,
		id, started.UTC(), string(js))
	if err != nil {
		return fmt.Errorf("datalog: start session: %w", err)
	}
	return nil
}

func (l *Log) State(session string, st kinematics.State) {
	l.enqueue(`INSERT INTO states (session_id, t, theta, omega, alpha) VALUES (?, ?, ?, ?, ?)`,
		session, st.T, st.Theta, st.Omega, st.Alpha)
}

// Calibration records a solve. On failure only the error is stored.
func (l *Log) Calibration(session string, sensor int, t calibration.Transform, solveErr error) {
	if solveErr != nil {
		l.enqueue(`INSERT INTO calibrations (session_id, created, sensor, ok, error) VALUES (?, ?, ?, 0, ?)`,
			session, time.Now().UTC(), sensor, solveErr.Error())
		return
	}
	tj, _ := json.Marshal(t)
	var coeffs interface{}
	if c, err := t.Quantize(); err == nil {
		cj, _ := json.Marshal(c)
		coeffs = string(cj)
	}
	l.enqueue(`INSERT INTO calibrations (session_id, created, sensor, ok, transform, coefficients) VALUES (?, ?, ?, 1, ?, ?)`,
		session, time.Now().UTC(), sensor, string(tj), coeffs)
}

// DecodeError records a decoder failure, keeping opcode and offset when the
// error carries them.
func (l *Log) DecodeError(session string, err error) {
	var op, off interface{}
	var de *telemetry.DecodeError
	if errors.As(err, &de) {
		op, off = int(de.Opcode), de.Offset
	}
	l.enqueue(`INSERT INTO decode_errors (session_id, created, opcode, offset, message) VALUES (?, ?, ?, ?, ?)`,
		session, time.Now().UTC(), op, off, err.Error())
}

// Close flushes queued rows and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.rows)
	}
	l.mu.Unlock()
	l.wg.Wait()
	return l.db.Close()
}

// --- queries ---

// States returns up to limit states of a session in time order.
func (l *Log) States(session string, limit int) ([]kinematics.State, error) {
	rows, err := l.db.Query(`SELECT t, theta, omega, alpha FROM states WHERE session_id = ? ORDER BY id LIMIT ?`,
		session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []kinematics.State
	for rows.Next() {
		var st kinematics.State
		if err := rows.Scan(&st.T, &st.Theta, &st.Omega, &st.Alpha); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type CalibrationRow struct {
	Sensor       int                       `json:"sensor"`
	OK           bool                      `json:"ok"`
	Transform    *calibration.Transform    `json:"transform,omitempty"`
	Coefficients *calibration.Coefficients `json:"coefficients,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

func (l *Log) Calibrations(session string) ([]CalibrationRow, error) {
	rows, err := l.db.Query(`SELECT sensor, ok, transform, coefficients, error FROM calibrations WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CalibrationRow
	for rows.Next() {
		var (
			r         CalibrationRow
			tj, cj, e sql.NullString
		)
		if err := rows.Scan(&r.Sensor, &r.OK, &tj, &cj, &e); err != nil {
			return nil, err
		}
		if tj.Valid {
			r.Transform = new(calibration.Transform)
			if err := json.Unmarshal([]byte(tj.String), r.Transform); err != nil {
				return nil, err
			}
		}
		if cj.Valid {
			r.Coefficients = new(calibration.Coefficients)
			if err := json.Unmarshal([]byte(cj.String), r.Coefficients); err != nil {
				return nil, err
			}
		}
		r.Error = e.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecodeErrorCount returns the number of decode errors stored for a session.
func (l *Log) DecodeErrorCount(session string) (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM decode_errors WHERE session_id = ?`, session).Scan(&n)
	return n, err
}

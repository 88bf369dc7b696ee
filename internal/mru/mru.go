// Package mru implements Component H, the MRU/Suggestion Store: a
// small embedded relational table tracking per-result usage so the
// Query Service can boost ranking and serve empty-query suggestions
// (§4.H).
package mru

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
)

// Entry is one row of usage statistics for a single result.
type Entry struct {
	PluginID string
	ResultID string
	Title    string
	Count    int
	LastUsed time.Time
}

// Store persists MRU statistics keyed by (plugin_id, result_id).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed store at path,
// following the teacher's pragma-qualified DSN and WAL-mode pattern.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, mftindexerrors.NewConfigError("mru_dir", path, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, mftindexerrors.NewConfigError("mru_open", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, mftindexerrors.NewConfigError("mru_ping", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return mftindexerrors.NewConfigError("mru_wal", "", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS mru_entries (
	plugin_id TEXT NOT NULL,
	result_id TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	count     INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER NOT NULL DEFAULT 0,
	last_hour INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (plugin_id, result_id)
);
CREATE INDEX IF NOT EXISTS idx_mru_count ON mru_entries(count DESC);
CREATE INDEX IF NOT EXISTS idx_mru_last_used ON mru_entries(last_used DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return mftindexerrors.NewConfigError("mru_schema", "", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordExecution increments (plugin_id, result_id)'s count and
// updates last_used/last_hour (§4.H "record_execution").
func (s *Store) RecordExecution(pluginID, resultID, title string, now time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO mru_entries (plugin_id, result_id, title, count, last_used, last_hour)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(plugin_id, result_id) DO UPDATE SET
	count = count + 1,
	title = excluded.title,
	last_used = excluded.last_used,
	last_hour = excluded.last_hour
`, pluginID, resultID, title, now.Unix(), now.Hour())
	if err != nil {
		return mftindexerrors.NewConfigError("mru_record", resultID, err)
	}
	return nil
}

// recencyDecayDays is the half-life used to decay a stale entry's
// contribution to the boost score towards zero.
const recencyDecayDays = 14.0

// Boost returns a score bonus in [0, ceiling] for (plugin_id,
// result_id), scaled by execution count and decayed by how long ago
// it was last used (§4.H "boost").
func (s *Store) Boost(pluginID, resultID string, ceiling int, now time.Time) (float64, error) {
	var count int
	var lastUsed int64
	err := s.db.QueryRow(`SELECT count, last_used FROM mru_entries WHERE plugin_id = ? AND result_id = ?`, pluginID, resultID).Scan(&count, &lastUsed)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, mftindexerrors.NewConfigError("mru_boost", resultID, err)
	}

	ageDays := now.Sub(time.Unix(lastUsed, 0)).Hours() / 24
	decay := decayFactor(ageDays)

	bonus := float64(count)
	if bonus > float64(ceiling) {
		bonus = float64(ceiling)
	}
	return bonus * decay, nil
}

// decayFactor halves every recencyDecayDays, so a same-day hit scores
// close to 1.0 and a month-old one contributes very little.
func decayFactor(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp2(-ageDays / recencyDecayDays)
}

// Suggestion is one ranked empty-query suggestion.
type Suggestion struct {
	PluginID string
	ResultID string
	Title    string
	Score    float64
}

// Suggest merges three sub-strategies — top-frequency,
// time-of-day-matching, and most-recent — de-duplicating by
// (plugin_id, result_id) and keeping the highest score for each
// (§4.H "suggest").
func (s *Store) Suggest(limit int, currentHour int, now time.Time) ([]Suggestion, error) {
	scores := make(map[string]*Suggestion)
	merge := func(key string, sug Suggestion) {
		if existing, ok := scores[key]; !ok || sug.Score > existing.Score {
			scores[key] = &sug
		}
	}

	topFreq, err := s.queryTopFrequency(limit)
	if err != nil {
		return nil, err
	}
	for _, e := range topFreq {
		merge(mruKey(e.PluginID, e.ResultID), Suggestion{PluginID: e.PluginID, ResultID: e.ResultID, Title: e.Title, Score: float64(e.Count)})
	}

	timeMatch, err := s.queryTimeOfDay(currentHour, limit)
	if err != nil {
		return nil, err
	}
	for _, e := range timeMatch {
		merge(mruKey(e.PluginID, e.ResultID), Suggestion{PluginID: e.PluginID, ResultID: e.ResultID, Title: e.Title, Score: float64(e.Count) * 1.5})
	}

	mostRecent, err := s.queryMostRecent(limit)
	if err != nil {
		return nil, err
	}
	for _, e := range mostRecent {
		ageDays := now.Sub(e.LastUsed).Hours() / 24
		merge(mruKey(e.PluginID, e.ResultID), Suggestion{PluginID: e.PluginID, ResultID: e.ResultID, Title: e.Title, Score: 10 * decayFactor(ageDays)})
	}

	out := make([]Suggestion, 0, len(scores))
	for _, sug := range scores {
		out = append(out, *sug)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mruKey(pluginID, resultID string) string { return pluginID + "\x00" + resultID }

func (s *Store) queryTopFrequency(limit int) ([]Entry, error) {
	return s.queryOrdered(`SELECT plugin_id, result_id, title, count, last_used FROM mru_entries ORDER BY count DESC LIMIT ?`, limit)
}

func (s *Store) queryMostRecent(limit int) ([]Entry, error) {
	return s.queryOrdered(`SELECT plugin_id, result_id, title, count, last_used FROM mru_entries ORDER BY last_used DESC LIMIT ?`, limit)
}

func (s *Store) queryTimeOfDay(hour, limit int) ([]Entry, error) {
	return s.queryOrdered(`SELECT plugin_id, result_id, title, count, last_used FROM mru_entries WHERE last_hour = ? ORDER BY count DESC LIMIT ?`, hour, limit)
}

func (s *Store) queryOrdered(query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, mftindexerrors.NewConfigError("mru_query", query, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var lastUsed int64
		if err := rows.Scan(&e.PluginID, &e.ResultID, &e.Title, &e.Count, &lastUsed); err != nil {
			return nil, mftindexerrors.NewConfigError("mru_scan", query, err)
		}
		e.LastUsed = time.Unix(lastUsed, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

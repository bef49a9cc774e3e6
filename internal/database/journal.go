package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torfallback/internal/model"
)

// FileName is the journal file name inside the data directory.
const FileName = "torfallback.db"

// Journal is the SQLite-backed record of proxy and session events.
// It is safe for concurrent use.
type Journal struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Journal behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Journal in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Journal, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := j.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (j *Journal) createTables() error {
	schema := `
	-- Proxy status transitions (unknown/live/dead)
	CREATE TABLE IF NOT EXISTS status_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_id TEXT NOT NULL,
		previous TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_proxy ON status_events(proxy_id);

	-- Block detector verdicts per session
	CREATE TABLE IF NOT EXISTS verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		proxy_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verdicts_session ON verdicts(session_id);

	-- Probe results
	CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		proxy_id TEXT NOT NULL,
		reachable INTEGER NOT NULL,
		egress TEXT,
		latency_ms INTEGER,
		reason TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_probes_proxy ON probes(proxy_id);
	`

	_, err := j.db.ExecContext(context.Background(), schema)
	return err
}

// StatusEvent is one stored proxy status transition.
type StatusEvent struct {
	ID        int64
	ProxyID   string
	Previous  string
	Status    string
	Timestamp time.Time
}

// VerdictEntry is one stored verdict.
type VerdictEntry struct {
	ID        int64
	SessionID string
	ProxyID   string
	Kind      string
	Detail    string
	Timestamp time.Time
}

// ProbeEntry is one stored probe result.
type ProbeEntry struct {
	ID        int64
	SessionID string
	ProxyID   string
	Reachable bool
	Egress    string
	Latency   time.Duration
	Reason    string
	Timestamp time.Time
}

// RecordStatusChange stores a proxy status transition. p carries the new
// status and its last-checked time.
func (j *Journal) RecordStatusChange(ctx context.Context, p model.Proxy, previous model.ProxyStatus) error {
	at := p.LastChecked
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
	INSERT INTO status_events (proxy_id, previous, status, timestamp)
	VALUES (?, ?, ?, ?)
	`, p.ID, previous.String(), p.Status.String(), formatTimestamp(at))
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

// RecordVerdict stores a session verdict.
func (j *Journal) RecordVerdict(ctx context.Context, rec model.VerdictRecord) error {
	detail := rec.Verdict.Reason
	if rec.Verdict.Cause != nil {
		detail = rec.Verdict.Cause.Error()
	}

	_, err := j.db.ExecContext(ctx, `
	INSERT INTO verdicts (session_id, proxy_id, kind, detail, timestamp)
	VALUES (?, ?, ?, ?, ?)
	`, rec.SessionID, rec.ProxyID, rec.Verdict.Kind.String(), detail, formatTimestamp(rec.At))
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

// RecordProbe stores a probe result. sessionID may be empty for probes
// that did not run inside a session.
func (j *Journal) RecordProbe(ctx context.Context, sessionID string, res model.ProbeResult) error {
	reachable := 0
	if res.Reachable {
		reachable = 1
	}

	_, err := j.db.ExecContext(ctx, `
	INSERT INTO probes (session_id, proxy_id, reachable, egress, latency_ms, reason, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, res.ProxyID, reachable, res.EgressAddress, res.Latency.Milliseconds(), res.Reason, formatTimestamp(res.CheckedAt))
	if err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}
	return nil
}

// RecentStatusEvents returns up to limit status transitions, newest first.
// An empty proxyID matches every proxy.
func (j *Journal) RecentStatusEvents(ctx context.Context, proxyID string, limit int) ([]StatusEvent, error) {
	query := `
	SELECT id, proxy_id, previous, status, timestamp
	FROM status_events
	WHERE 1=1
	`
	args := make([]any, 0, 2)
	if proxyID != "" {
		query += " AND proxy_id = ?"
		args = append(args, proxyID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query status events: %w", err)
	}
	defer rows.Close()

	var results []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		var timestamp string
		if err := rows.Scan(&ev.ID, &ev.ProxyID, &ev.Previous, &ev.Status, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		ev.Timestamp = parseTimestamp(timestamp)
		results = append(results, ev)
	}
	return results, rows.Err()
}

// RecentVerdicts returns up to limit verdicts, newest first.
// An empty sessionID matches every session.
func (j *Journal) RecentVerdicts(ctx context.Context, sessionID string, limit int) ([]VerdictEntry, error) {
	query := `
	SELECT id, session_id, proxy_id, kind, detail, timestamp
	FROM verdicts
	WHERE 1=1
	`
	args := make([]any, 0, 2)
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var results []VerdictEntry
	for rows.Next() {
		var v VerdictEntry
		var detail sql.NullString
		var timestamp string
		if err := rows.Scan(&v.ID, &v.SessionID, &v.ProxyID, &v.Kind, &detail, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.Detail = detail.String
		v.Timestamp = parseTimestamp(timestamp)
		results = append(results, v)
	}
	return results, rows.Err()
}

// RecentProbes returns up to limit probe results, newest first.
// An empty proxyID matches every proxy.
func (j *Journal) RecentProbes(ctx context.Context, proxyID string, limit int) ([]ProbeEntry, error) {
	query := `
	SELECT id, session_id, proxy_id, reachable, egress, latency_ms, reason, timestamp
	FROM probes
	WHERE 1=1
	`
	args := make([]any, 0, 2)
	if proxyID != "" {
		query += " AND proxy_id = ?"
		args = append(args, proxyID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query probes: %w", err)
	}
	defer rows.Close()

	var results []ProbeEntry
	for rows.Next() {
		var p ProbeEntry
		var sessionID, egress, reason sql.NullString
		var latencyMS sql.NullInt64
		var reachable int
		var timestamp string
		if err := rows.Scan(&p.ID, &sessionID, &p.ProxyID, &reachable, &egress, &latencyMS, &reason, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		p.SessionID = sessionID.String
		p.Reachable = reachable != 0
		p.Egress = egress.String
		p.Latency = time.Duration(latencyMS.Int64) * time.Millisecond
		p.Reason = reason.String
		p.Timestamp = parseTimestamp(timestamp)
		results = append(results, p)
	}
	return results, rows.Err()
}

// defaultLimit is used when a query is given a non-positive limit.
const defaultLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, it returns the zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

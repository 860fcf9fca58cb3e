package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"

	_ "modernc.org/sqlite"
)

// migrations are applied in order; schema_migrations records which ran.
var migrations = []string{
	`
	CREATE TABLE entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		organization TEXT NOT NULL,
		repository TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		default_branch TEXT NOT NULL DEFAULT '',
		head_commit TEXT NOT NULL DEFAULT '',
		preserved INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		missing_since INTEGER
	);
	CREATE UNIQUE INDEX idx_entities_live ON entities(organization, repository, branch) WHERE status != 'DELETED';
	CREATE INDEX idx_entities_key ON entities(organization, repository, branch);

	CREATE TABLE retention_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id INTEGER NOT NULL REFERENCES entities(id),
		event TEXT NOT NULL CHECK (event IN ('WARNED', 'DELETED')),
		at INTEGER NOT NULL,
		run_id TEXT NOT NULL
	);
	CREATE INDEX idx_retention_events_entity ON retention_events(entity_id);
	CREATE TRIGGER retention_events_no_update BEFORE UPDATE ON retention_events
	BEGIN
		SELECT RAISE(ABORT, 'retention_events is append-only');
	END;
	CREATE TRIGGER retention_events_no_delete BEFORE DELETE ON retention_events
	BEGIN
		SELECT RAISE(ABORT, 'retention_events is append-only');
	END;

	CREATE TABLE preserved_abandonments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES entities(id),
		pinned_id INTEGER NOT NULL REFERENCES entities(id),
		name TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		new_head TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		run_id TEXT NOT NULL
	);
	`,
}

const entityColumns = `id, organization, repository, branch, status, default_branch, head_commit, preserved, first_seen, last_seen, missing_since`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	lead WarnLead
}

// NewSQLiteStore opens or creates the tracking database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "create database directory").
				WithContext("path", path).Build()
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "open sqlite database").Build()
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.WrapError(err, errors.CategoryStore, "apply pragma").
				WithContext("pragma", pragma).Build()
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "create schema_migrations").Build()
	}
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "read schema version").Build()
	}
	if version > len(migrations) {
		return errors.StoreError("database schema is newer than this binary").
			WithContext("version", version).Build()
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return errors.WrapError(err, errors.CategoryStore, "begin migration").Build()
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return errors.WrapError(err, errors.CategoryStore, "apply migration").
				WithContext("version", i+1).Build()
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().UnixNano()); err != nil {
			_ = tx.Rollback()
			return errors.WrapError(err, errors.CategoryStore, "record schema version").Build()
		}
		if err := tx.Commit(); err != nil {
			return errors.WrapError(err, errors.CategoryStore, "commit migration").Build()
		}
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStore, "begin transaction").Build()
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "commit transaction").Build()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(r rowScanner, extra ...any) (Entity, error) {
	var (
		e         Entity
		preserved int
		first     int64
		last      int64
		missing   sql.NullInt64
	)
	dest := []any{
		&e.ID, &e.Key.Organization, &e.Key.Repository, &e.Key.Branch, &e.Status,
		&e.DefaultBranch, &e.HeadCommit, &preserved, &first, &last, &missing,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return Entity{}, err
	}
	e.Preserved = preserved != 0
	e.FirstSeen = fromUnixNano(first)
	e.LastSeen = fromUnixNano(last)
	if missing.Valid {
		t := fromUnixNano(missing.Int64)
		e.MissingSince = &t
	}
	return e, nil
}

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// liveEntity returns the non-DELETED row for k, or nil.
func liveEntity(ctx context.Context, tx *sql.Tx, k Key) (*Entity, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE organization = ? AND repository = ? AND branch = ? AND status != 'DELETED'",
		k.Organization, k.Repository, k.Branch,
	)
	e, err := scanEntity(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query entity").WithContext("key", k.String()).Build()
	}
	return &e, nil
}

func insertEntity(ctx context.Context, tx *sql.Tx, e Entity) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO entities (kind, organization, repository, branch, status, default_branch, head_commit, preserved, first_seen, last_seen, missing_since)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind()), e.Key.Organization, e.Key.Repository, e.Key.Branch, string(e.Status),
		e.DefaultBranch, e.HeadCommit, boolInt(e.Preserved),
		e.FirstSeen.UnixNano(), e.LastSeen.UnixNano(), nullTime(e.MissingSince),
	)
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryStore, "insert entity").WithContext("key", e.Key.String()).Build()
	}
	return res.LastInsertId()
}

func updateEntity(ctx context.Context, tx *sql.Tx, id int64, e Entity) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE entities SET status = ?, default_branch = ?, head_commit = ?, last_seen = ?, missing_since = ? WHERE id = ?`,
		string(e.Status), e.DefaultBranch, e.HeadCommit, e.LastSeen.UnixNano(), nullTime(e.MissingSince), id,
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStore, "update entity").WithContext("key", e.Key.String()).Build()
	}
	return nil
}

func lastWarned(ctx context.Context, tx *sql.Tx, id int64) (foundation.Option[time.Time], error) {
	var at sql.NullInt64
	err := tx.QueryRowContext(ctx,
		"SELECT MAX(at) FROM retention_events WHERE entity_id = ? AND event = 'WARNED'", id,
	).Scan(&at)
	if err != nil {
		return foundation.None[time.Time](), errors.WrapError(err, errors.CategoryStore, "query warnings").Build()
	}
	if !at.Valid {
		return foundation.None[time.Time](), nil
	}
	return foundation.Some(fromUnixNano(at.Int64)), nil
}

// Load returns every live entity with its latest warning.
func (s *SQLiteStore) Load(ctx context.Context) (*Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+`,
			(SELECT MAX(r.at) FROM retention_events r WHERE r.entity_id = entities.id AND r.event = 'WARNED')
		FROM entities WHERE status != 'DELETED' ORDER BY id`,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query entities").Build()
	}
	defer rows.Close()

	var entities []Entity
	warned := make(map[Key]time.Time)
	for rows.Next() {
		var w sql.NullInt64
		e, err := scanEntity(rows, &w)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "scan entity").Build()
		}
		entities = append(entities, e)
		if w.Valid {
			warned[e.Key] = fromUnixNano(w.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "iterate entities").Build()
	}
	return NewLedger(entities, warned), nil
}

// ApplyObservations upserts all entities in one transaction.
func (s *SQLiteStore) ApplyObservations(ctx context.Context, entities []Entity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[Key]bool, len(entities))
		for _, e := range entities {
			if seen[e.Key] {
				return duplicate(e.Key)
			}
			seen[e.Key] = true

			current, err := liveEntity(ctx, tx, e.Key)
			if err != nil {
				return err
			}
			if err := checkObservation(current, e); err != nil {
				return err
			}
			if current == nil {
				if _, err := insertEntity(ctx, tx, e); err != nil {
					return err
				}
				continue
			}
			if err := updateEntity(ctx, tx, current.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordPreservation stores p with its pinned branch and the new live head.
func (s *SQLiteStore) RecordPreservation(ctx context.Context, p Preservation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		src, err := liveEntity(ctx, tx, p.Source)
		if err != nil {
			return err
		}
		if src == nil {
			return notFound(p.Source)
		}
		pinned := abandonedEntity(p)
		existing, err := liveEntity(ctx, tx, pinned.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicate(pinned.Key)
		}
		pinnedID, err := insertEntity(ctx, tx, pinned)
		if err != nil {
			return err
		}
		moved := *src
		moved.HeadCommit = p.NewHead
		moved.LastSeen = p.CreatedAt
		if err := updateEntity(ctx, tx, src.ID, moved); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO preserved_abandonments (source_id, pinned_id, name, commit_sha, new_head, created_at, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			src.ID, pinnedID, p.Name, p.Commit, p.NewHead, p.CreatedAt.UnixNano(), p.RunID,
		)
		if err != nil {
			return errors.WrapError(err, errors.CategoryStore, "insert preservation").
				WithContext("key", pinned.Key.String()).Build()
		}
		return nil
	})
}

// SetWarnLead makes RecordRetention refuse deletions inside the warning period.
func (s *SQLiteStore) SetWarnLead(lead WarnLead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lead = lead
}

// RecordRetention appends a retention event and advances the entity status.
func (s *SQLiteStore) RecordRetention(ctx context.Context, key Key, event EventKind, at time.Time, runID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := liveEntity(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound(key)
		}
		warned, err := lastWarned(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		next, err := retentionStatus(*current, event, warned, at, s.lead)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO retention_events (entity_id, event, at, run_id) VALUES (?, ?, ?, ?)",
			current.ID, string(event), at.UnixNano(), runID,
		); err != nil {
			return errors.WrapError(err, errors.CategoryStore, "insert retention event").
				WithContext("key", key.String()).Build()
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE entities SET status = ? WHERE id = ?", string(next), current.ID,
		); err != nil {
			return errors.WrapError(err, errors.CategoryStore, "update entity status").
				WithContext("key", key.String()).Build()
		}
		return nil
	})
}

// Events returns the retention events of every row ever stored under key.
func (s *SQLiteStore) Events(ctx context.Context, key Key) ([]RetentionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.entity_id, r.event, r.at, r.run_id
		FROM retention_events r JOIN entities e ON e.id = r.entity_id
		WHERE e.organization = ? AND e.repository = ? AND e.branch = ?
		ORDER BY r.id`,
		key.Organization, key.Repository, key.Branch,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query retention events").Build()
	}
	defer rows.Close()

	var out []RetentionEvent
	for rows.Next() {
		ev := RetentionEvent{Key: key}
		var at int64
		if err := rows.Scan(&ev.ID, &ev.EntityID, &ev.Event, &at, &ev.RunID); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "scan retention event").Build()
		}
		ev.At = fromUnixNano(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "iterate retention events").Build()
	}
	return out, nil
}

// Preservations returns every preservation recorded for the repository of repo.
func (s *SQLiteStore) Preservations(ctx context.Context, repo Key) ([]Preservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, e.organization, e.repository, e.branch, p.name, p.commit_sha, p.new_head, p.created_at, p.run_id
		FROM preserved_abandonments p JOIN entities e ON e.id = p.source_id
		WHERE e.organization = ? AND e.repository = ?
		ORDER BY p.id`,
		repo.Organization, repo.Repository,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query preservations").Build()
	}
	defer rows.Close()

	var out []Preservation
	for rows.Next() {
		var p Preservation
		var created int64
		if err := rows.Scan(&p.ID, &p.Source.Organization, &p.Source.Repository, &p.Source.Branch,
			&p.Name, &p.Commit, &p.NewHead, &created, &p.RunID); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "scan preservation").Build()
		}
		p.CreatedAt = fromUnixNano(created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "iterate preservations").Build()
	}
	return out, nil
}

// Summary counts entities per kind and status plus the audit totals.
func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	rows, err := s.db.QueryContext(ctx, "SELECT kind, status, COUNT(*) FROM entities GROUP BY kind, status")
	if err != nil {
		return Summary{}, errors.WrapError(err, errors.CategoryStore, "query entity counts").Build()
	}
	for rows.Next() {
		var kind Kind
		var status Status
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			_ = rows.Close()
			return Summary{}, errors.WrapError(err, errors.CategoryStore, "scan entity counts").Build()
		}
		sum.add(kind, status, n)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Summary{}, errors.WrapError(err, errors.CategoryStore, "iterate entity counts").Build()
	}
	_ = rows.Close()

	err = s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM preserved_abandonments),
		(SELECT COUNT(*) FROM retention_events WHERE event = 'WARNED'),
		(SELECT COUNT(*) FROM retention_events WHERE event = 'DELETED')`,
	).Scan(&sum.Preservations, &sum.Warnings, &sum.Deletions)
	if err != nil {
		return Summary{}, errors.WrapError(err, errors.CategoryStore, "query audit totals").Build()
	}
	return sum, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

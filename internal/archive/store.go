// Package archive is the SQLite-backed per-thread checkpoint log written by the
// persistence pipeline.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/joss/turnpool/internal/persistence"
)

// Checkpoint is one stored turn outcome.
type Checkpoint struct {
	ID            string
	ProjectPath   string
	ThreadID      uuid.UUID
	TurnID        uuid.UUID
	RuntimeTurnID string
	Status        persistence.TurnStatus
	UserText      string
	AssistantText string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
	UpdatedAt     time.Time
}

// Store persists checkpoints in a single SQLite file.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ persistence.Archive = (*Store)(nil)

// Open creates or opens checkpoints.db under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "checkpoints.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		runtime_turn_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		user_text TEXT NOT NULL DEFAULT '',
		assistant_text TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		UNIQUE (thread_id, turn_id)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// BeginCheckpoint records a pending turn. It never downgrades a turn that
// already reached a terminal status.
func (s *Store) BeginCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn persistence.TurnSummary) error {
	turn.Status = persistence.TurnPending
	return s.upsert(ctx, projectPath, threadID, turn)
}

// FinalizeCheckpoint marks the turn completed.
func (s *Store) FinalizeCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn persistence.TurnSummary) error {
	turn.Status = persistence.TurnCompleted
	return s.upsert(ctx, projectPath, threadID, turn)
}

// FailCheckpoint marks the turn failed.
func (s *Store) FailCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn persistence.TurnSummary) error {
	turn.Status = persistence.TurnFailed
	return s.upsert(ctx, projectPath, threadID, turn)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func (s *Store) upsert(ctx context.Context, projectPath string, threadID uuid.UUID, turn persistence.TurnSummary) error {
	if s.closed.Load() {
		return ErrClosed
	}

	startedAt := turn.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, project_path, thread_id, turn_id, runtime_turn_id, status,
			user_text, assistant_text, error, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, turn_id) DO UPDATE SET
			project_path = excluded.project_path,
			runtime_turn_id = excluded.runtime_turn_id,
			status = excluded.status,
			user_text = excluded.user_text,
			assistant_text = excluded.assistant_text,
			error = excluded.error,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE checkpoints.status = 'pending' OR excluded.status != 'pending'
	`, strings.ToLower(ulid.Make().String()), projectPath, threadID.String(), turn.TurnID.String(),
		turn.RuntimeTurnID, string(turn.Status), turn.UserText, turn.AssistantText, turn.Error,
		formatTime(startedAt), formatTime(turn.CompletedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("write %s checkpoint: %w", turn.Status, err)
	}
	return nil
}

const selectColumns = `id, project_path, thread_id, turn_id, runtime_turn_id, status,
	user_text, assistant_text, error, started_at, completed_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var thread, turn, status, started, completed, updated string
	if err := row.Scan(&cp.ID, &cp.ProjectPath, &thread, &turn, &cp.RuntimeTurnID, &status,
		&cp.UserText, &cp.AssistantText, &cp.Error, &started, &completed, &updated); err != nil {
		return nil, err
	}

	cp.Status = persistence.TurnStatus(status)
	cp.ThreadID, _ = uuid.Parse(thread)
	cp.TurnID, _ = uuid.Parse(turn)
	if t, err := time.Parse(timeLayout, started); err == nil {
		cp.StartedAt = t
	}
	if t, err := time.Parse(timeLayout, completed); err == nil {
		cp.CompletedAt = t
	}
	if t, err := time.Parse(timeLayout, updated); err == nil {
		cp.UpdatedAt = t
	}
	return &cp, nil
}

// Get returns the checkpoint for one turn.
func (s *Store) Get(ctx context.Context, threadID, turnID uuid.UUID) (*Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+`
		FROM checkpoints WHERE thread_id = ? AND turn_id = ?`, threadID.String(), turnID.String())
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ThreadID: threadID.String(), TurnID: turnID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// ListThread returns a thread's checkpoints oldest first.
func (s *Store) ListThread(ctx context.Context, threadID uuid.UUID, limit int) ([]*Checkpoint, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM checkpoints
		WHERE thread_id = ? ORDER BY started_at ASC LIMIT ?`, threadID.String(), limit)
}

// ListRecent returns the most recently updated checkpoints across threads.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Checkpoint, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM checkpoints
		ORDER BY updated_at DESC LIMIT ?`, limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// CountByStatus returns checkpoint counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[persistence.TurnStatus]int, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM checkpoints GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count checkpoints: %w", err)
	}
	defer rows.Close()

	counts := make(map[persistence.TurnStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[persistence.TurnStatus(status)] = n
	}
	return counts, rows.Err()
}

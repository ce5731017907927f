package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/sqlai-console/pkg/models"
)

// TranscriptRepository stores the chat transcript of each workspace.
// Entries are returned in the order they were appended.
type TranscriptRepository interface {
	// Append stores entry, assigning ID and CreatedAt when unset.
	Append(ctx context.Context, entry *models.TranscriptEntry) error

	// List returns the most recent entries of a workspace, oldest first.
	// A limit <= 0 returns all of them.
	List(ctx context.Context, workspaceID string, limit int) ([]*models.TranscriptEntry, error)

	// DeleteWorkspace removes every entry of a workspace.
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

func prepareEntry(entry *models.TranscriptEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
}

// memoryTranscriptRepository keeps transcripts in process memory.
type memoryTranscriptRepository struct {
	mu         sync.RWMutex
	entries    map[string][]*models.TranscriptEntry
	maxEntries int
}

// NewMemoryTranscriptRepository creates an in-memory repository that keeps
// at most maxEntries per workspace (<= 0 keeps everything).
func NewMemoryTranscriptRepository(maxEntries int) TranscriptRepository {
	return &memoryTranscriptRepository{
		entries:    make(map[string][]*models.TranscriptEntry),
		maxEntries: maxEntries,
	}
}

var _ TranscriptRepository = (*memoryTranscriptRepository)(nil)

func (r *memoryTranscriptRepository) Append(ctx context.Context, entry *models.TranscriptEntry) error {
	prepareEntry(entry)
	stored := *entry

	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.entries[entry.WorkspaceID], &stored)
	if r.maxEntries > 0 && len(list) > r.maxEntries {
		list = list[len(list)-r.maxEntries:]
	}
	r.entries[entry.WorkspaceID] = list
	return nil
}

func (r *memoryTranscriptRepository) List(ctx context.Context, workspaceID string, limit int) ([]*models.TranscriptEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[workspaceID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]*models.TranscriptEntry, len(list))
	for i, e := range list {
		c := *e
		out[i] = &c
	}
	return out, nil
}

func (r *memoryTranscriptRepository) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, workspaceID)
	return nil
}

// sqlTranscriptRepository persists transcripts in the SQLite store.
type sqlTranscriptRepository struct {
	db         *sql.DB
	maxEntries int
}

// NewSQLTranscriptRepository creates a repository over a migrated database.
// Entries beyond maxEntries per workspace are pruned on append.
func NewSQLTranscriptRepository(db *sql.DB, maxEntries int) TranscriptRepository {
	return &sqlTranscriptRepository{db: db, maxEntries: maxEntries}
}

var _ TranscriptRepository = (*sqlTranscriptRepository)(nil)

func (r *sqlTranscriptRepository) Append(ctx context.Context, entry *models.TranscriptEntry) error {
	prepareEntry(entry)

	// Use NULL when there is no query result
	var resultJSON *string
	if entry.Result != nil {
		b, err := json.Marshal(entry.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal query result: %w", err)
		}
		s := string(b)
		resultJSON = &s
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO transcript_entries (id, workspace_id, seq, kind, text, result_json, created_at)
		VALUES (?1, ?2,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM transcript_entries WHERE workspace_id = ?2),
		        ?3, ?4, ?5, ?6)`
	if _, err := tx.ExecContext(ctx, query,
		entry.ID.String(), entry.WorkspaceID, string(entry.Kind), entry.Text, resultJSON, entry.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save transcript entry: %w", err)
	}

	if r.maxEntries > 0 {
		prune := `
			DELETE FROM transcript_entries
			WHERE workspace_id = ?1
			  AND seq <= (SELECT MAX(seq) FROM transcript_entries WHERE workspace_id = ?1) - ?2`
		if _, err := tx.ExecContext(ctx, prune, entry.WorkspaceID, r.maxEntries); err != nil {
			return fmt.Errorf("failed to prune transcript: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript entry: %w", err)
	}
	return nil
}

func (r *sqlTranscriptRepository) List(ctx context.Context, workspaceID string, limit int) ([]*models.TranscriptEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := `
		SELECT id, workspace_id, kind, text, result_json, created_at FROM (
			SELECT id, workspace_id, seq, kind, text, result_json, created_at
			FROM transcript_entries
			WHERE workspace_id = ?1
			ORDER BY seq DESC
			LIMIT ?2
		) ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.TranscriptEntry, 0)
	for rows.Next() {
		var (
			e          models.TranscriptEntry
			id         string
			kind       string
			resultJSON sql.NullString
		)
		if err := rows.Scan(&id, &e.WorkspaceID, &kind, &e.Text, &resultJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid transcript entry id %q: %w", id, err)
		}
		e.Kind = models.TranscriptEntryKind(kind)
		if resultJSON.Valid {
			var result models.QueryResult
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal query result: %w", err)
			}
			e.Result = &result
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

func (r *sqlTranscriptRepository) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transcript_entries WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

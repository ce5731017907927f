package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/repositories"
)

// Transcript appends entries to one workspace's conversation.
type Transcript struct {
	workspaceID string
	repo        repositories.TranscriptRepository
	logger      *zap.Logger
}

// NewTranscript binds repo to workspaceID.
func NewTranscript(workspaceID string, repo repositories.TranscriptRepository, logger *zap.Logger) *Transcript {
	return &Transcript{
		workspaceID: workspaceID,
		repo:        repo,
		logger:      logger.Named("transcript"),
	}
}

// Append records a new entry and returns it. A storage failure is logged;
// the entry is still returned so the caller can show it.
func (t *Transcript) Append(ctx context.Context, kind models.TranscriptEntryKind, text string, result *models.QueryResult) *models.TranscriptEntry {
	entry := &models.TranscriptEntry{
		WorkspaceID: t.workspaceID,
		Kind:        kind,
		Text:        text,
		Result:      result,
		CreatedAt:   time.Now(),
	}
	if err := t.repo.Append(ctx, entry); err != nil {
		t.logger.Error("Failed to store transcript entry",
			zap.String("workspace_id", t.workspaceID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	return entry
}

// Entries returns the most recent entries, oldest first.
func (t *Transcript) Entries(ctx context.Context, limit int) ([]*models.TranscriptEntry, error) {
	return t.repo.List(ctx, t.workspaceID, limit)
}

// Clear deletes the workspace's history.
func (t *Transcript) Clear(ctx context.Context) error {
	return t.repo.DeleteWorkspace(ctx, t.workspaceID)
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/jsonutil"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// QueryController answers natural-language questions through the query tool.
type QueryController interface {
	// Submit returns the generated SQL and its data verbatim.
	Submit(ctx context.Context, question string) (*models.QueryResult, error)

	// Ask records the question and its outcome in the transcript.
	// Failures become error entries; Ask itself never fails.
	Ask(ctx context.Context, question string) *models.TranscriptEntry
}

type queryController struct {
	session    *Session
	tools      toolclient.Invoker
	transcript *Transcript
	logger     *zap.Logger
}

// NewQueryController creates a controller over session.
// transcript may be nil when only Submit is used.
func NewQueryController(session *Session, tools toolclient.Invoker, transcript *Transcript, logger *zap.Logger) QueryController {
	return &queryController{
		session:    session,
		tools:      tools,
		transcript: transcript,
		logger:     logger.Named("query"),
	}
}

func (c *queryController) Submit(ctx context.Context, question string) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", apperrors.ErrInvalidArgument)
	}
	id, gen, err := c.session.Active()
	if err != nil {
		return nil, err
	}

	c.logger.Info("Submitting question",
		zap.String("data_src_id", id),
		zap.String("question", logging.SanitizeQuery(question)))

	res, err := c.tools.Invoke(ctx, ToolQuery, map[string]any{"data_src_id": id, "qry": question})
	// Failures are discarded the same way as answers once the connection changed.
	if !c.session.IsCurrent(gen) {
		c.logger.Info("Discarding answer for a replaced connection", zap.Uint64("generation", gen))
		return nil, apperrors.ErrStaleConnection
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	payload, err := res.Structured()
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	result := &models.QueryResult{
		Question:  question,
		SQL:       jsonutil.StringField(payload, "sql"),
		Data:      payload["data"],
		Timestamp: time.Now(),
	}
	c.logger.Info("Question answered",
		zap.String("sql", logging.SanitizeQuery(result.SQL)))
	return result, nil
}

func (c *queryController) Ask(ctx context.Context, question string) *models.TranscriptEntry {
	if strings.TrimSpace(question) != "" {
		c.append(ctx, models.TranscriptKindQuestion, question, nil)
	}

	result, err := c.Submit(ctx, question)
	if err != nil {
		c.logger.Warn("Question failed", zap.String("error", logging.SanitizeError(err)))
		return c.append(ctx, models.TranscriptKindError, UserMessage(err), nil)
	}
	return c.append(ctx, models.TranscriptKindResult, "", result)
}

func (c *queryController) append(ctx context.Context, kind models.TranscriptEntryKind, text string, result *models.QueryResult) *models.TranscriptEntry {
	if c.transcript == nil {
		return &models.TranscriptEntry{Kind: kind, Text: text, Result: result, CreatedAt: time.Now()}
	}
	return c.transcript.Append(ctx, kind, text, result)
}

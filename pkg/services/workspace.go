package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/repositories"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// Workspace is everything one browser session works with: its connection,
// the scan and query controllers over it and the chat transcript.
type Workspace struct {
	ID         string
	Session    *Session
	Connection ConnectionController
	Scan       ScanController
	Query      QueryController
	Transcript *Transcript

	logger *zap.Logger
}

// NewWorkspace wires the controllers of one workspace together.
func NewWorkspace(id string, tools toolclient.Invoker, repo repositories.TranscriptRepository, scanCfg ScanConfig, logger *zap.Logger) *Workspace {
	logger = logger.With(zap.String("workspace_id", id))
	session := NewSession()
	transcript := NewTranscript(id, repo, logger)

	w := &Workspace{
		ID:         id,
		Session:    session,
		Connection: NewConnectionController(session, tools, logger),
		Query:      NewQueryController(session, tools, transcript, logger),
		Transcript: transcript,
		logger:     logger,
	}

	onFinish := scanCfg.OnFinish
	scanCfg.OnFinish = func(job models.ScanJob) {
		w.scanFinished(job)
		if onFinish != nil {
			onFinish(job)
		}
	}
	w.Scan = NewScanController(session, tools, scanCfg, logger)
	return w
}

// Connect connects the workspace and records the outcome in the transcript.
func (w *Workspace) Connect(ctx context.Context, req ConnectRequest) (*models.DataSourceConnection, error) {
	conn, err := w.Connection.Connect(ctx, req)
	if err != nil {
		if !errors.Is(err, apperrors.ErrStaleConnection) {
			w.Transcript.Append(ctx, models.TranscriptKindStatus, "Connection failed. "+UserMessage(err), nil)
		}
		return nil, err
	}

	text := fmt.Sprintf("Connected to %s data source %s.", conn.Type, conn.Identifier)
	if conn.LastScanTimestamp != nil {
		text += " Last scanned " + conn.LastScanTimestamp.Format("2006-01-02 15:04:05") + "."
	} else {
		text += " It has not been scanned yet."
	}
	w.Transcript.Append(ctx, models.TranscriptKindStatus, text, nil)
	return conn, nil
}

// Disconnect resets the connection and records it in the transcript.
func (w *Workspace) Disconnect(ctx context.Context) models.DataSourceConnection {
	conn := w.Connection.Disconnect()
	w.Transcript.Append(ctx, models.TranscriptKindStatus, "Disconnected.", nil)
	return conn
}

// Close stops background work. The transcript is kept.
func (w *Workspace) Close() {
	w.Scan.Stop()
}

func (w *Workspace) scanFinished(job models.ScanJob) {
	ctx := context.Background()
	switch job.Status {
	case models.ScanStatusCompleted:
		w.Transcript.Append(ctx, models.TranscriptKindStatus, "Scan completed.", nil)
	case models.ScanStatusFailed:
		w.Transcript.Append(ctx, models.TranscriptKindStatus, "Scan failed: "+job.Error, nil)
	}
}

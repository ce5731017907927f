package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/jsonutil"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// ConnectRequest carries the user's connection form.
// Password is forwarded to the tool service once and never stored.
type ConnectRequest struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConnectionController manages the single data source connection of a session.
type ConnectionController interface {
	// Connect replaces the current connection with a new one.
	Connect(ctx context.Context, req ConnectRequest) (*models.DataSourceConnection, error)

	// Disconnect resets the session locally. The tool service is not told.
	Disconnect() models.DataSourceConnection

	// Current returns a copy of the connection record.
	Current() models.DataSourceConnection
}

type connectionController struct {
	session *Session
	tools   toolclient.Invoker
	logger  *zap.Logger
}

// NewConnectionController creates a controller over session.
func NewConnectionController(session *Session, tools toolclient.Invoker, logger *zap.Logger) ConnectionController {
	return &connectionController{
		session: session,
		tools:   tools,
		logger:  logger.Named("connection"),
	}
}

func (c *connectionController) Connect(ctx context.Context, req ConnectRequest) (*models.DataSourceConnection, error) {
	dsType := strings.TrimSpace(req.Type)
	host := strings.TrimSpace(req.Host)
	if dsType == "" || host == "" {
		return nil, fmt.Errorf("%w: data source type and host are required", apperrors.ErrInvalidArgument)
	}

	gen := c.session.beginConnect(dsType, host, req.Username)
	c.logger.Info("Connecting data source",
		zap.String("type", dsType),
		zap.String("host", host),
		zap.String("username", req.Username),
		zap.Uint64("generation", gen))

	res, err := c.tools.Invoke(ctx, ToolConnectDatasource, map[string]any{
		"type": dsType,
		"conn_params": map[string]any{
			"host":     host,
			"user":     req.Username,
			"password": req.Password,
		},
	})
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("connect data source: %w", err))
	}

	payload, err := res.Structured()
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("connect data source: %w", err))
	}

	id := jsonutil.StringField(payload, "data_src_id")
	if id == "" || id == "0" {
		return nil, c.fail(gen, fmt.Errorf("%w: the tool service did not issue an identifier for %s", apperrors.ErrConnectRejected, dsType))
	}

	conn, err := c.session.completeConnect(gen, id, parseServiceTime(payload["scan_time"]))
	if err != nil {
		c.logger.Info("Discarding superseded connect result", zap.Uint64("generation", gen))
		return nil, err
	}

	c.logger.Info("Data source connected",
		zap.String("data_src_id", id),
		zap.Bool("previously_scanned", conn.LastScanTimestamp != nil),
		zap.Uint64("generation", gen))
	return &conn, nil
}

// fail records err on the connection unless a newer attempt took over,
// in which case the caller learns the result was stale.
func (c *connectionController) fail(gen uint64, err error) error {
	if ferr := c.session.failConnect(gen, logging.SanitizeError(err)); errors.Is(ferr, apperrors.ErrStaleConnection) {
		c.logger.Info("Discarding superseded connect failure", zap.Uint64("generation", gen))
		return ferr
	}
	c.logger.Error("Data source connection failed",
		zap.Uint64("generation", gen),
		zap.String("error", logging.SanitizeError(err)))
	return err
}

func (c *connectionController) Disconnect() models.DataSourceConnection {
	conn := c.session.reset()
	c.logger.Info("Data source disconnected", zap.Uint64("generation", conn.Generation))
	return conn
}

func (c *connectionController) Current() models.DataSourceConnection {
	return c.session.Snapshot()
}

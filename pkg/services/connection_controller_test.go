package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

func TestConnect_Success(t *testing.T) {
	tools := newFakeTools()
	tools.on(ToolConnectDatasource, respond(map[string]any{
		"data_src_id": "ds_1",
		"scan_time":   "2024-05-01 10:00:00",
	}))
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	conn, err := ctrl.Connect(context.Background(), ConnectRequest{
		Type: "mysql", Host: "10.0.0.5:3306", Username: "a", Password: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ConnectionStateConnected, conn.State)
	assert.Equal(t, "ds_1", conn.Identifier)
	assert.Equal(t, "mysql", conn.Type)
	assert.Equal(t, "10.0.0.5:3306", conn.Host)
	assert.Equal(t, "a", conn.Username)
	require.NotNil(t, conn.LastScanTimestamp)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local).Equal(*conn.LastScanTimestamp))

	calls := tools.callsTo(ToolConnectDatasource)
	require.Len(t, calls, 1)
	assert.Equal(t, "mysql", calls[0]["type"])
	assert.Equal(t, map[string]any{"host": "10.0.0.5:3306", "user": "a", "password": "secret"}, calls[0]["conn_params"])

	current := ctrl.Current()
	assert.Equal(t, "ds_1", current.Identifier)
	assert.True(t, current.IsConnected())
}

func TestConnect_NumericIdentifier(t *testing.T) {
	tools := newFakeTools()
	tools.on(ToolConnectDatasource, respond(map[string]any{"data_src_id": float64(7), "scan_time": ""}))
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	conn, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "postgres", Host: "db"})
	require.NoError(t, err)
	assert.Equal(t, "7", conn.Identifier)
	assert.Nil(t, conn.LastScanTimestamp)
}

func TestConnect_ZeroIdentifierIsRejected(t *testing.T) {
	tools := newFakeTools()
	tools.on(ToolConnectDatasource, respond(map[string]any{"data_src_id": float64(0), "scan_time": ""}))
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "oracle", Host: "db"})
	assert.ErrorIs(t, err, apperrors.ErrConnectRejected)

	current := ctrl.Current()
	assert.Equal(t, models.ConnectionStateFailed, current.State)
	assert.Empty(t, current.Identifier)
	assert.NotEmpty(t, current.Error)
}

func TestConnect_ToolFailure(t *testing.T) {
	tools := newFakeTools()
	tools.on(ToolConnectDatasource, fail(&toolclient.ToolError{Tool: ToolConnectDatasource, Message: "Access denied for user 'a'"}))
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "10.0.0.5", Username: "a", Password: "bad"})
	assert.ErrorIs(t, err, apperrors.ErrToolFailed)

	current := ctrl.Current()
	assert.Equal(t, models.ConnectionStateFailed, current.State)
	assert.Empty(t, current.Identifier)
	assert.Contains(t, current.Error, "Access denied")
}

func TestConnect_MissingEnvelope(t *testing.T) {
	tools := newFakeTools()
	tools.on(ToolConnectDatasource, func(context.Context, map[string]any) (*toolclient.Result, error) {
		return &toolclient.Result{Text: "connected"}, nil
	})
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "h"})
	assert.ErrorIs(t, err, apperrors.ErrNoStructuredContent)
	assert.Equal(t, models.ConnectionStateFailed, ctrl.Current().State)
}

func TestConnect_ValidatesInputWithoutRemoteCall(t *testing.T) {
	tools := newFakeTools()
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "", Host: "h"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "  "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	assert.Empty(t, tools.callsTo(ToolConnectDatasource))
	assert.Equal(t, models.ConnectionStateDisconnected, ctrl.Current().State)
}

func TestConnect_SupersededResultIsDiscarded(t *testing.T) {
	tools := newFakeTools()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tools.on(ToolConnectDatasource, blockUntil(release, started, respond(map[string]any{"data_src_id": "ds_old"})))
	ctrl := NewConnectionController(NewSession(), tools, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "old"})
		errCh <- err
	}()

	<-started
	assert.Equal(t, models.ConnectionStateConnecting, ctrl.Current().State)
	ctrl.Disconnect()
	close(release)

	assert.ErrorIs(t, <-errCh, apperrors.ErrStaleConnection)
	current := ctrl.Current()
	assert.Equal(t, models.ConnectionStateDisconnected, current.State)
	assert.Empty(t, current.Identifier)
}

func TestConnect_SupersededFailureIsDiscarded(t *testing.T) {
	tools := newFakeTools()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tools.on(ToolConnectDatasource, blockUntil(release, started, fail(errors.New("timeout"))))
	session := NewSession()
	ctrl := NewConnectionController(session, tools, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "old"})
		errCh <- err
	}()
	<-started

	// A second connect takes over and succeeds.
	tools.on(ToolConnectDatasource, respond(map[string]any{"data_src_id": "ds_new"}))
	conn, err := ctrl.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "new"})
	require.NoError(t, err)
	assert.Equal(t, "ds_new", conn.Identifier)

	close(release)
	assert.ErrorIs(t, <-errCh, apperrors.ErrStaleConnection)
	assert.Equal(t, "ds_new", ctrl.Current().Identifier)
	assert.Equal(t, models.ConnectionStateConnected, ctrl.Current().State)
}

func TestDisconnect_ResetsLocally(t *testing.T) {
	tools := newFakeTools()
	session, ctrl := connected(t, tools)
	before := session.Snapshot().Generation

	conn := ctrl.Disconnect()
	assert.Equal(t, models.ConnectionStateDisconnected, conn.State)
	assert.Empty(t, conn.Identifier)
	assert.Greater(t, conn.Generation, before)

	_, _, err := session.Active()
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.Len(t, tools.callsTo(ToolConnectDatasource), 1, "disconnect makes no remote call")
}

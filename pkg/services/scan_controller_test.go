package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// manualScan returns a controller without a background poller.
func manualScan(t *testing.T, tools *fakeTools, session *Session, cfg ScanConfig) ScanController {
	t.Helper()
	cfg.PollInterval = 0
	ctrl := NewScanController(session, tools, cfg, zap.NewNop())
	t.Cleanup(ctrl.Stop)
	return ctrl
}

func TestStartScan_RequiresConnection(t *testing.T) {
	tools := newFakeTools()
	ctrl := manualScan(t, tools, NewSession(), ScanConfig{})

	_, err := ctrl.StartScan(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.Empty(t, tools.callsTo(ToolScanDatasource))
	assert.Equal(t, models.ScanPhaseIdle, ctrl.Phase())

	_, err = ctrl.PollOnce(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestScan_PollsToCompletion(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, progressSequence(30, 75, 100))

	var finished []models.ScanJob
	ctrl := manualScan(t, tools, session, ScanConfig{OnFinish: func(j models.ScanJob) { finished = append(finished, j) }})

	job, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_1", job.JobID)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, models.ScanStatusInProgress, job.Status)
	assert.Equal(t, models.ScanPhasePolling, ctrl.Phase())
	assert.Equal(t, []map[string]any{{"data_src_id": "ds_1"}}, tools.callsTo(ToolScanDatasource))

	for _, want := range []int{30, 75} {
		job, err = ctrl.PollOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, job.Progress)
		assert.Equal(t, models.ScanStatusInProgress, job.Status)
	}

	job, err = ctrl.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, models.ScanStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, models.ScanPhaseCompleted, ctrl.Phase())

	conn := session.Snapshot()
	require.NotNil(t, conn.LastScanTimestamp)
	assert.True(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.Local).Equal(*conn.LastScanTimestamp))

	// Terminal jobs are not polled again.
	job, err = ctrl.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, job.Status)
	assert.Len(t, tools.callsTo(ToolScanProgress), 3)
	for _, call := range tools.callsTo(ToolScanProgress) {
		assert.Equal(t, "job_1", call["job_id"])
	}

	require.Len(t, finished, 1)
	assert.Equal(t, models.ScanStatusCompleted, finished[0].Status)
}

func TestScan_ProgressNeverDecreasesAndIsClamped(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, progressSequence(40, 20, -5, 60, 250))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	var seen []int
	for range 5 {
		job, err := ctrl.PollOnce(context.Background())
		require.NoError(t, err)
		seen = append(seen, job.Progress)
	}
	assert.Equal(t, []int{40, 40, 40, 60, 100}, seen)
	job, _ := ctrl.Job()
	assert.Equal(t, models.ScanStatusCompleted, job.Status)
}

func TestScan_NumericStringProgress(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": float64(12)}))
	tools.on(ToolScanProgress, respond(map[string]any{"progress": "55"}))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	job, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12", job.JobID)

	job, err = ctrl.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 55, job.Progress)
}

func TestScan_PollErrorFailsJob(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, fail(errors.New("connection reset by peer")))

	var finished []models.ScanJob
	ctrl := manualScan(t, tools, session, ScanConfig{OnFinish: func(j models.ScanJob) { finished = append(finished, j) }})
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	_, err = ctrl.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")

	job, ok := ctrl.Job()
	require.True(t, ok)
	assert.Equal(t, models.ScanStatusFailed, job.Status)
	assert.Contains(t, job.Error, "connection reset by peer")
	assert.Equal(t, models.ScanPhaseFailed, ctrl.Phase())
	require.Len(t, finished, 1)
	assert.Equal(t, models.ScanStatusFailed, finished[0].Status)

	// No restart after failure.
	_, err = ctrl.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools.callsTo(ToolScanProgress), 1)
}

func TestScan_MissingProgressFailsJob(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, respond(map[string]any{"status": "running"}))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	_, err = ctrl.PollOnce(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrMissingField)
}

func TestStartScan_FailureMarksFailed(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, fail(&toolclient.ToolError{Tool: ToolScanDatasource, Message: "scanner busy"}))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	_, err := ctrl.StartScan(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrToolFailed)
	assert.Equal(t, models.ScanPhaseFailed, ctrl.Phase())

	job, ok := ctrl.Job()
	require.True(t, ok)
	assert.Equal(t, models.ScanStatusFailed, job.Status)
	assert.Empty(t, tools.callsTo(ToolScanProgress))
}

func TestScan_DeadlineExceeded(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, progressSequence(10))

	ctrl := manualScan(t, tools, session, ScanConfig{PollDeadline: time.Nanosecond})
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	_, err = ctrl.PollOnce(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrScanDeadlineExceeded)

	job, _ := ctrl.Job()
	assert.Equal(t, models.ScanStatusFailed, job.Status)
	assert.Equal(t, 10, job.Progress)
}

func TestScan_BackgroundPoller(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, progressSequence(30, 75, 100))

	done := make(chan models.ScanJob, 1)
	ctrl := NewScanController(session, tools, ScanConfig{
		PollInterval: 5 * time.Millisecond,
		OnFinish:     func(j models.ScanJob) { done <- j },
	}, zap.NewNop())
	t.Cleanup(ctrl.Stop)

	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	select {
	case job := <-done:
		assert.Equal(t, models.ScanStatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete")
	}

	// The timer is cancelled after completion.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, tools.callsTo(ToolScanProgress), 3)
	assert.NotNil(t, session.Snapshot().LastScanTimestamp)
}

func TestScan_PollOnceDefersToRunningPoller(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	tools.on(ToolScanProgress, progressSequence(30))

	ctrl := NewScanController(session, tools, ScanConfig{PollInterval: time.Hour}, zap.NewNop())
	t.Cleanup(ctrl.Stop)

	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	job, err := ctrl.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, tools.callsTo(ToolScanProgress))
}

func TestScan_ReconnectDiscardsInFlightProgress(t *testing.T) {
	tools := newFakeTools()
	session, conn := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tools.on(ToolScanProgress, blockUntil(release, started, progressSequence(100)))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.PollOnce(context.Background())
		errCh <- err
	}()
	<-started

	tools.on(ToolConnectDatasource, respond(map[string]any{"data_src_id": "ds_2"}))
	_, err = conn.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "other"})
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-errCh, apperrors.ErrStaleConnection)
	_, ok := ctrl.Job()
	assert.False(t, ok, "reconnect clears the scan job")
	assert.Equal(t, models.ScanPhaseIdle, ctrl.Phase())
	assert.Nil(t, session.Snapshot().LastScanTimestamp)
}

func TestScan_DisconnectStopsPoller(t *testing.T) {
	tools := newFakeTools()
	session, conn := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))

	var mu sync.Mutex
	polls := 0
	tools.on(ToolScanProgress, func(context.Context, map[string]any) (*toolclient.Result, error) {
		mu.Lock()
		polls++
		mu.Unlock()
		return structured(map[string]any{"progress": float64(10)}), nil
	})

	ctrl := NewScanController(session, tools, ScanConfig{PollInterval: 2 * time.Millisecond}, zap.NewNop())
	t.Cleanup(ctrl.Stop)

	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return polls >= 2
	}, 5*time.Second, time.Millisecond)

	conn.Disconnect()
	mu.Lock()
	after := polls
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, polls, "no polls after disconnect")
	mu.Unlock()
	_, ok := ctrl.Job()
	assert.False(t, ok)
}

func TestStartScan_RestartReplacesJob(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanProgress, progressSequence(50))

	ctrl := manualScan(t, tools, session, ScanConfig{})
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))
	_, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)
	_, err = ctrl.PollOnce(context.Background())
	require.NoError(t, err)

	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_2"}))
	job, err := ctrl.StartScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_2", job.JobID)
	assert.Equal(t, 0, job.Progress)
}

func TestStartScan_AfterStopIsRejected(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanDatasource, respond(map[string]any{"job_id": "job_1"}))

	ctrl := NewScanController(session, tools, ScanConfig{PollInterval: time.Millisecond}, zap.NewNop())
	ctrl.Stop()

	_, err := ctrl.StartScan(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrWorkspaceClosed)
	assert.Empty(t, tools.callsTo(ToolScanDatasource))
	_, ok := ctrl.Job()
	assert.False(t, ok)
}

func TestStartScan_StopDuringStartLeavesNoPoller(t *testing.T) {
	tools := newFakeTools()
	session, _ := connected(t, tools)
	tools.on(ToolScanProgress, progressSequence(10))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tools.on(ToolScanDatasource, blockUntil(release, started, respond(map[string]any{"job_id": "job_1"})))

	ctrl := NewScanController(session, tools, ScanConfig{PollInterval: time.Millisecond}, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.StartScan(context.Background())
		errCh <- err
	}()
	<-started

	ctrl.Stop()
	close(release)

	assert.ErrorIs(t, <-errCh, apperrors.ErrWorkspaceClosed)
	_, ok := ctrl.Job()
	assert.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tools.callsTo(ToolScanProgress), "no poller after stop")
}

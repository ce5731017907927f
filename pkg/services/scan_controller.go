package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/jsonutil"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// ScanConfig controls progress polling.
type ScanConfig struct {
	// PollInterval is the period of the background poller.
	// Zero disables it; progress then advances only through PollOnce.
	PollInterval time.Duration

	// PollDeadline fails a job still in progress after this long. Zero disables it.
	PollDeadline time.Duration

	// OnFinish is called once per job that reaches completed or failed.
	OnFinish func(job models.ScanJob)
}

// ScanController drives the idle → starting → polling → completed|failed
// state machine for the structural scan of the connected data source.
type ScanController interface {
	// StartScan asks the tool service to scan the connected data source
	// and begins polling its progress.
	StartScan(ctx context.Context) (*models.ScanJob, error)

	// PollOnce performs one progress check. While the background poller runs,
	// or once the job is terminal, it only returns the current job.
	PollOnce(ctx context.Context) (*models.ScanJob, error)

	// Job returns a snapshot of the current job, if any.
	Job() (models.ScanJob, bool)

	// Phase returns the state machine position.
	Phase() models.ScanPhase

	// Stop cancels the poller and waits for it to exit. Later StartScan
	// calls fail with apperrors.ErrWorkspaceClosed.
	Stop()
}

type scanController struct {
	session *Session
	tools   toolclient.Invoker
	cfg     ScanConfig
	logger  *zap.Logger

	mu       sync.Mutex
	phase    models.ScanPhase
	job      *models.ScanJob
	startSeq uint64
	poller   *poller
	closed   bool
}

// poller is the handle of a running background poll loop.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanController creates a controller bound to session. Any new connect
// or disconnect on the session abandons the current job.
func NewScanController(session *Session, tools toolclient.Invoker, cfg ScanConfig, logger *zap.Logger) ScanController {
	c := &scanController{
		session: session,
		tools:   tools,
		cfg:     cfg,
		logger:  logger.Named("scan"),
		phase:   models.ScanPhaseIdle,
	}
	session.OnInvalidate(c.invalidate)
	return c
}

func (c *scanController) StartScan(ctx context.Context) (*models.ScanJob, error) {
	id, gen, err := c.session.Active()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.ErrWorkspaceClosed
	}
	p := c.detachPollerLocked()
	c.startSeq++
	seq := c.startSeq
	c.phase = models.ScanPhaseStarting
	c.job = nil
	c.mu.Unlock()
	p.stop()

	c.logger.Info("Starting scan", zap.String("data_src_id", id), zap.Uint64("generation", gen))
	res, err := c.tools.Invoke(ctx, ToolScanDatasource, map[string]any{"data_src_id": id})

	var jobID string
	if err == nil {
		var payload map[string]any
		if payload, err = res.Structured(); err == nil {
			if jobID = jsonutil.StringField(payload, "job_id"); jobID == "" {
				err = fmt.Errorf("%w: job_id", apperrors.ErrMissingField)
			}
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Info("Discarding scan start for a closed workspace", zap.Uint64("generation", gen))
		return nil, apperrors.ErrWorkspaceClosed
	}
	if seq != c.startSeq || !c.session.IsCurrent(gen) {
		c.mu.Unlock()
		c.logger.Info("Discarding superseded scan start", zap.Uint64("generation", gen))
		return nil, apperrors.ErrStaleConnection
	}

	now := time.Now()
	if err != nil {
		err = fmt.Errorf("start scan: %w", err)
		c.phase = models.ScanPhaseFailed
		c.job = &models.ScanJob{
			Status:       models.ScanStatusFailed,
			ConnectionID: id,
			Generation:   gen,
			StartedAt:    now,
			Error:        logging.SanitizeError(err),
		}
		job := *c.job
		c.mu.Unlock()
		c.logger.Error("Scan failed to start", zap.String("error", logging.SanitizeError(err)))
		c.finished(job)
		return nil, err
	}

	c.job = &models.ScanJob{
		JobID:        jobID,
		Progress:     0,
		Status:       models.ScanStatusInProgress,
		ConnectionID: id,
		Generation:   gen,
		StartedAt:    now,
	}
	c.phase = models.ScanPhasePolling
	if c.cfg.PollInterval > 0 {
		c.startPollerLocked(jobID, gen, seq)
	}
	job := *c.job
	c.mu.Unlock()

	c.logger.Info("Scan started", zap.String("job_id", jobID), zap.Duration("poll_interval", c.cfg.PollInterval))
	return &job, nil
}

func (c *scanController) PollOnce(ctx context.Context) (*models.ScanJob, error) {
	c.mu.Lock()
	if c.job == nil {
		c.mu.Unlock()
		if _, _, err := c.session.Active(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no scan has been started", apperrors.ErrInvalidArgument)
	}
	job := *c.job
	seq := c.startSeq
	running := c.poller != nil
	c.mu.Unlock()

	if running || !job.IsActive() {
		return &job, nil
	}
	return c.tick(ctx, job.JobID, job.Generation, seq)
}

func (c *scanController) Job() (models.ScanJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return models.ScanJob{}, false
	}
	return *c.job, true
}

func (c *scanController) Phase() models.ScanPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *scanController) Stop() {
	c.mu.Lock()
	c.closed = true
	p := c.detachPollerLocked()
	c.mu.Unlock()
	p.stop()
}

// invalidate abandons the current job after a connect or disconnect.
func (c *scanController) invalidate() {
	c.mu.Lock()
	p := c.detachPollerLocked()
	c.startSeq++
	c.job = nil
	c.phase = models.ScanPhaseIdle
	c.mu.Unlock()
	p.stop()
}

func (c *scanController) startPollerLocked(jobID string, gen, seq uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, done: make(chan struct{})}
	c.poller = p
	go c.pollLoop(ctx, p, jobID, gen, seq)
}

func (c *scanController) detachPollerLocked() *poller {
	p := c.poller
	c.poller = nil
	return p
}

func (p *poller) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (c *scanController) pollLoop(ctx context.Context, p *poller, jobID string, gen, seq uint64) {
	defer close(p.done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := c.tick(ctx, jobID, gen, seq)
			if err != nil || !job.IsActive() {
				c.mu.Lock()
				if c.poller == p {
					c.poller = nil
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// tick performs one scan_progress invocation and applies the answer.
// Answers for a job, start or generation that is no longer current are
// dropped with apperrors.ErrStaleConnection.
func (c *scanController) tick(ctx context.Context, jobID string, gen, seq uint64) (*models.ScanJob, error) {
	res, err := c.tools.Invoke(ctx, ToolScanProgress, map[string]any{"job_id": jobID})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var payload map[string]any
	progress := 0
	if err == nil {
		if payload, err = res.Structured(); err == nil {
			var ok bool
			if progress, ok = jsonutil.FlexibleInt(payload["progress"]); !ok {
				err = fmt.Errorf("%w: progress", apperrors.ErrMissingField)
			}
		}
	}

	c.mu.Lock()
	if c.job == nil || seq != c.startSeq || c.job.JobID != jobID || c.job.Generation != gen ||
		!c.job.IsActive() || !c.session.IsCurrent(gen) {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale scan progress", zap.String("job_id", jobID), zap.Uint64("generation", gen))
		return nil, apperrors.ErrStaleConnection
	}

	if err != nil {
		err = fmt.Errorf("poll scan progress: %w", err)
		job := c.failLocked(err)
		c.mu.Unlock()
		c.logger.Error("Scan failed", zap.String("job_id", jobID), zap.String("error", job.Error))
		c.finished(job)
		return nil, err
	}

	progress = min(max(progress, 0), 100)
	if progress < c.job.Progress {
		c.logger.Debug("Ignoring decreasing scan progress",
			zap.String("job_id", jobID),
			zap.Int("reported", progress),
			zap.Int("current", c.job.Progress))
	} else {
		c.job.Progress = progress
	}

	if c.job.Progress >= 100 {
		completedAt := time.Now()
		if ts := parseServiceTime(payload["timestamp"]); ts != nil {
			completedAt = *ts
		}
		c.job.Status = models.ScanStatusCompleted
		c.job.CompletedAt = &completedAt
		c.phase = models.ScanPhaseCompleted
		c.session.markScanned(gen, completedAt)
		c.cancelPollerLocked()
		job := *c.job
		c.mu.Unlock()
		c.logger.Info("Scan completed", zap.String("job_id", jobID), zap.Time("timestamp", completedAt))
		c.finished(job)
		return &job, nil
	}

	if c.cfg.PollDeadline > 0 && time.Since(c.job.StartedAt) >= c.cfg.PollDeadline {
		err = fmt.Errorf("poll scan progress: %w (%s)", apperrors.ErrScanDeadlineExceeded, c.cfg.PollDeadline)
		job := c.failLocked(err)
		c.mu.Unlock()
		c.logger.Warn("Scan polling deadline exceeded", zap.String("job_id", jobID), zap.Int("progress", job.Progress))
		c.finished(job)
		return nil, err
	}

	job := *c.job
	c.mu.Unlock()
	c.logger.Debug("Scan progress", zap.String("job_id", jobID), zap.Int("progress", job.Progress))
	return &job, nil
}

func (c *scanController) failLocked(err error) models.ScanJob {
	c.job.Status = models.ScanStatusFailed
	c.job.Error = logging.SanitizeError(err)
	c.phase = models.ScanPhaseFailed
	c.cancelPollerLocked()
	return *c.job
}

// cancelPollerLocked signals the poller without waiting; it may be the caller.
func (c *scanController) cancelPollerLocked() {
	if c.poller != nil {
		c.poller.cancel()
		c.poller = nil
	}
}

func (c *scanController) finished(job models.ScanJob) {
	if c.cfg.OnFinish != nil {
		c.cfg.OnFinish(job)
	}
}

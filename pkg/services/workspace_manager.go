package services

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/repositories"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

const (
	DefaultWorkspaceIdleTTL = 30 * time.Minute
	DefaultCleanupInterval  = 1 * time.Minute
)

// ErrManagerClosed is returned by Get after Close.
var ErrManagerClosed = errors.New("workspace manager is closed")

// WorkspaceManagerConfig holds configuration for the workspace manager.
type WorkspaceManagerConfig struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	Scan            ScanConfig
}

// WorkspaceManager owns the workspaces of all browser sessions and evicts
// the ones that have been idle longer than the TTL.
type WorkspaceManager struct {
	mu         sync.Mutex
	workspaces map[string]*managedWorkspace
	tools      toolclient.Invoker
	repo       repositories.TranscriptRepository
	cfg        WorkspaceManagerConfig
	stopped    bool
	stopChan   chan struct{}
	logger     *zap.Logger
}

type managedWorkspace struct {
	ws       *Workspace
	lastUsed time.Time
}

// NewWorkspaceManager creates a manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewWorkspaceManager(cfg WorkspaceManagerConfig, tools toolclient.Invoker, repo repositories.TranscriptRepository, logger *zap.Logger) *WorkspaceManager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultWorkspaceIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &WorkspaceManager{
		workspaces: make(map[string]*managedWorkspace),
		tools:      tools,
		repo:       repo,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
		logger:     logger.Named("workspaces"),
	}

	go m.cleanupIdleWorkspaces()
	return m
}

// Get returns the workspace for id, creating it on first use.
func (m *WorkspaceManager) Get(id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerClosed
	}

	if managed, ok := m.workspaces[id]; ok {
		managed.lastUsed = time.Now()
		return managed.ws, nil
	}

	ws := NewWorkspace(id, m.tools, m.repo, m.cfg.Scan, m.logger)
	m.workspaces[id] = &managedWorkspace{ws: ws, lastUsed: time.Now()}
	m.logger.Debug("Created workspace", zap.String("workspace_id", id), zap.Int("total", len(m.workspaces)))
	return ws, nil
}

// Count returns the number of live workspaces.
func (m *WorkspaceManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// cleanupIdleWorkspaces runs in a background goroutine until stopChan is closed.
func (m *WorkspaceManager) cleanupIdleWorkspaces() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup evicts workspaces idle for longer than the TTL as of now.
// Evicted workspaces are closed outside the lock since stopping a poller
// waits for its in-flight tool call.
func (m *WorkspaceManager) performCleanup(now time.Time) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	var expired []*Workspace
	for id, managed := range m.workspaces {
		if idle := now.Sub(managed.lastUsed); idle > m.cfg.IdleTTL {
			m.logger.Debug("Evicting idle workspace",
				zap.String("workspace_id", id),
				zap.Duration("idle", idle),
				zap.Duration("ttl", m.cfg.IdleTTL))
			expired = append(expired, managed.ws)
			delete(m.workspaces, id)
		}
	}
	remaining := len(m.workspaces)
	m.mu.Unlock()

	for _, ws := range expired {
		ws.Close()
	}
	if len(expired) > 0 {
		m.logger.Info("Evicted idle workspaces",
			zap.Int("count", len(expired)),
			zap.Int("remaining", remaining))
	}
}

// Close stops every workspace and the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *WorkspaceManager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopChan)
	workspaces := m.workspaces
	m.workspaces = make(map[string]*managedWorkspace)
	m.mu.Unlock()

	for _, managed := range workspaces {
		managed.ws.Close()
	}
	m.logger.Info("Workspace manager closed", zap.Int("workspaces", len(workspaces)))
	return nil
}

package services

import (
	"sync"
	"time"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
)

// Remote tool names exposed by the tool service.
const (
	ToolConnectDatasource = "connect_datasource"
	ToolScanDatasource    = "scan_datasource"
	ToolScanProgress      = "scan_progress"
	ToolQuery             = "query"
)

// Session owns the connection record of one workspace.
// All mutations go through it so the generation check and the record update
// happen under one lock. No lock is held across a tool invocation.
type Session struct {
	mu           sync.Mutex
	conn         models.DataSourceConnection
	onInvalidate []func()
}

// NewSession returns a disconnected session.
func NewSession() *Session {
	return &Session{
		conn: models.DataSourceConnection{State: models.ConnectionStateDisconnected},
	}
}

// OnInvalidate registers fn to run whenever the current connection is
// superseded by a new connect attempt or a disconnect.
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalidate = append(s.onInvalidate, fn)
}

// Snapshot returns a copy of the connection record.
func (s *Session) Snapshot() models.DataSourceConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	if conn.LastScanTimestamp != nil {
		ts := *conn.LastScanTimestamp
		conn.LastScanTimestamp = &ts
	}
	return conn
}

// Active returns the identifier and generation of a connected session,
// or apperrors.ErrNotConnected.
func (s *Session) Active() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conn.IsConnected() {
		return "", 0, apperrors.ErrNotConnected
	}
	return s.conn.Identifier, s.conn.Generation, nil
}

// IsCurrent reports whether gen is still the live, connected generation.
func (s *Session) IsCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Generation == gen && s.conn.IsConnected()
}

func (s *Session) beginConnect(dsType, host, username string) uint64 {
	s.mu.Lock()
	s.conn = models.DataSourceConnection{
		Type:       dsType,
		Host:       host,
		Username:   username,
		State:      models.ConnectionStateConnecting,
		Generation: s.conn.Generation + 1,
	}
	gen := s.conn.Generation
	listeners := s.onInvalidate
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return gen
}

func (s *Session) completeConnect(gen uint64, id string, scanTime *time.Time) (models.DataSourceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.Generation != gen {
		return models.DataSourceConnection{}, apperrors.ErrStaleConnection
	}
	s.conn.Identifier = id
	s.conn.State = models.ConnectionStateConnected
	s.conn.LastScanTimestamp = scanTime
	s.conn.Error = ""
	return s.conn, nil
}

func (s *Session) failConnect(gen uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.Generation != gen {
		return apperrors.ErrStaleConnection
	}
	s.conn.Identifier = ""
	s.conn.State = models.ConnectionStateFailed
	s.conn.Error = reason
	return nil
}

func (s *Session) reset() models.DataSourceConnection {
	s.mu.Lock()
	s.conn = models.DataSourceConnection{
		State:      models.ConnectionStateDisconnected,
		Generation: s.conn.Generation + 1,
	}
	conn := s.conn
	listeners := s.onInvalidate
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return conn
}

// markScanned records a completed scan on the connection of generation gen.
func (s *Session) markScanned(gen uint64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.Generation != gen || !s.conn.IsConnected() {
		return false
	}
	s.conn.LastScanTimestamp = &at
	return true
}

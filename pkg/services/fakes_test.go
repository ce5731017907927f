package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

type toolHandler func(ctx context.Context, args map[string]any) (*toolclient.Result, error)

// fakeTools is a scripted toolclient.Invoker.
type fakeTools struct {
	mu       sync.Mutex
	handlers map[string]toolHandler
	calls    map[string][]map[string]any
}

var _ toolclient.Invoker = (*fakeTools)(nil)

func newFakeTools() *fakeTools {
	return &fakeTools{
		handlers: make(map[string]toolHandler),
		calls:    make(map[string][]map[string]any),
	}
}

func (f *fakeTools) on(tool string, h toolHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[tool] = h
}

func (f *fakeTools) Invoke(ctx context.Context, tool string, args map[string]any) (*toolclient.Result, error) {
	f.mu.Lock()
	f.calls[tool] = append(f.calls[tool], args)
	h, ok := f.handlers[tool]
	f.mu.Unlock()

	if !ok {
		return nil, &toolclient.ToolNotFoundError{Tool: tool}
	}
	return h(ctx, args)
}

func (f *fakeTools) callsTo(tool string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.calls[tool]...)
}

func structured(m map[string]any) *toolclient.Result {
	return &toolclient.Result{StructuredContent: m}
}

func respond(m map[string]any) toolHandler {
	return func(context.Context, map[string]any) (*toolclient.Result, error) {
		return structured(m), nil
	}
}

func fail(err error) toolHandler {
	return func(context.Context, map[string]any) (*toolclient.Result, error) {
		return nil, err
	}
}

// progressSequence answers scan_progress with each value in turn,
// repeating the last one.
func progressSequence(values ...int) toolHandler {
	var mu sync.Mutex
	i := 0
	return func(context.Context, map[string]any) (*toolclient.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		v := values[min(i, len(values)-1)]
		i++
		payload := map[string]any{"progress": float64(v)}
		if v >= 100 {
			payload["timestamp"] = "2024-05-01 10:05:00"
		}
		return structured(payload), nil
	}
}

// blockUntil wraps h so it waits for release (or ctx) before answering.
func blockUntil(release <-chan struct{}, started chan<- struct{}, h toolHandler) toolHandler {
	return func(ctx context.Context, args map[string]any) (*toolclient.Result, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return h(ctx, args)
	}
}

// connected returns a session connected as ds_1 through a connection controller.
func connected(t *testing.T, tools *fakeTools) (*Session, ConnectionController) {
	t.Helper()
	tools.on(ToolConnectDatasource, respond(map[string]any{"data_src_id": "ds_1", "scan_time": nil}))

	session := NewSession()
	conn := NewConnectionController(session, tools, zap.NewNop())
	_, err := conn.Connect(context.Background(), ConnectRequest{Type: "mysql", Host: "10.0.0.5:3306", Username: "a", Password: "secret"})
	require.NoError(t, err)
	return session, conn
}

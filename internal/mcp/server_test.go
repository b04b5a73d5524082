package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mdsentry/internal/config"
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// MockCoordinator implements Coordinator for testing.
type MockCoordinator struct {
	StatusFn    func() coordinator.Status
	ConflictsFn func() coordinator.ConflictView
	GraphFn     func() coordinator.GraphView
	RecordFn    func(path string) (filestate.Record, bool)
	CheckNowFn  func(ctx context.Context, path string) error
	ApplyFn     func(ctx context.Context, res []resolution.Resolution) ([]coordinator.Outcome, error)
}

func (m *MockCoordinator) GetSystemStatus() coordinator.Status {
	if m.StatusFn != nil {
		return m.StatusFn()
	}
	return coordinator.Status{}
}

func (m *MockCoordinator) Conflicts() coordinator.ConflictView {
	if m.ConflictsFn != nil {
		return m.ConflictsFn()
	}
	return coordinator.ConflictView{}
}

func (m *MockCoordinator) Graph() coordinator.GraphView {
	if m.GraphFn != nil {
		return m.GraphFn()
	}
	return coordinator.GraphView{}
}

func (m *MockCoordinator) Record(path string) (filestate.Record, bool) {
	if m.RecordFn != nil {
		return m.RecordFn(path)
	}
	return filestate.Record{}, false
}

func (m *MockCoordinator) CheckNow(ctx context.Context, path string) error {
	if m.CheckNowFn != nil {
		return m.CheckNowFn(ctx, path)
	}
	return nil
}

func (m *MockCoordinator) ApplyResolutions(ctx context.Context, res []resolution.Resolution) ([]coordinator.Outcome, error) {
	if m.ApplyFn != nil {
		return m.ApplyFn(ctx, res)
	}
	return nil, nil
}

var _ Coordinator = (*MockCoordinator)(nil)

// MockBackups implements BackupLister for testing.
type MockBackups struct {
	Backups []recovery.EmergencyBackup
	Err     error
}

func (m *MockBackups) List() ([]recovery.EmergencyBackup, error) {
	return m.Backups, m.Err
}

func newTestServer(t *testing.T, coord Coordinator, backups BackupLister) *Server {
	t.Helper()
	srv, err := NewServer(coord, backups, nil)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresCoordinator(t *testing.T) {
	_, err := NewServer(nil, nil, nil)

	assert.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t, &MockCoordinator{}, nil)

	name, ver := srv.Info()

	assert.Equal(t, "mdsentry", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	// Given: a server
	srv := newTestServer(t, &MockCoordinator{}, nil)

	// When: listing tools
	list := srv.ListTools()

	// Then: every tool is present with a description
	names := make([]string, 0, len(list))
	for _, ti := range list {
		names = append(names, ti.Name)
		assert.NotEmpty(t, ti.Description)
	}
	assert.Equal(t, []string{"conflict_status", "list_conflicts", "resolve_conflict", "list_backups", "include_graph", "conflict_stats"}, names)
}

func TestServer_CallTool_Unknown(t *testing.T) {
	srv := newTestServer(t, &MockCoordinator{}, nil)

	_, err := srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	srv := newTestServer(t, &MockCoordinator{}, nil)

	err := srv.Serve(context.Background(), "sse")

	assert.ErrorContains(t, err, "unknown transport")
}

func TestServer_EndToEnd_ResolveExternalModification(t *testing.T) {
	// Given: a real coordinator tracking one document
	dir := t.TempDir()
	doc := filepath.Join(dir, "main.md")
	require.NoError(t, os.WriteFile(doc, []byte("# v1\n"), 0o644))

	coord, err := coordinator.New(coordinator.Options{Config: config.NewConfig()})
	require.NoError(t, err)
	defer func() { _ = coord.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = coord.RegisterDocument(ctx, doc)
	require.NoError(t, err)
	srv := newTestServer(t, coord, nil)

	// When: the file changes on disk and a check is forced
	require.NoError(t, os.WriteFile(doc, []byte("# v2, edited elsewhere\n"), 0o644))
	status, err := srv.CallTool(ctx, "conflict_status", map[string]any{"check": true})
	require.NoError(t, err)
	assert.Equal(t, 1, status.(*ConflictStatusOutput).Status.PendingConflicts)

	listed, err := srv.handleListConflicts(ListConflictsInput{Kind: "external-modified"})
	require.NoError(t, err)
	require.Len(t, listed.Conflicts, 1)
	id := listed.Conflicts[0].ID

	// Then: reload resolves it and returns the disk content
	out, err := srv.CallTool(ctx, "resolve_conflict", map[string]any{
		"conflict_id": id,
		"action":      "reload",
	})
	require.NoError(t, err)
	res := out.(*ResolveConflictOutput)
	assert.True(t, res.Applied)
	assert.Equal(t, "# v2, edited elsewhere\n", res.Content)

	after, err := srv.CallTool(ctx, "list_conflicts", nil)
	require.NoError(t, err)
	assert.Equal(t, "No conflicts.", after)
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
	"github.com/Aman-CERP/mdsentry/internal/telemetry"
	"github.com/Aman-CERP/mdsentry/pkg/version"
)

// Coordinator is the part of the coordinator the server drives.
type Coordinator interface {
	GetSystemStatus() coordinator.Status
	Conflicts() coordinator.ConflictView
	Graph() coordinator.GraphView
	Record(path string) (filestate.Record, bool)
	CheckNow(ctx context.Context, path string) error
	ApplyResolutions(ctx context.Context, res []resolution.Resolution) ([]coordinator.Outcome, error)
}

// BackupLister lists emergency backups.
type BackupLister interface {
	List() ([]recovery.EmergencyBackup, error)
}

// StatsSource reports session conflict statistics.
type StatsSource interface {
	Snapshot() telemetry.Snapshot
}

// Server is the MCP server for mdsentry.
type Server struct {
	mcp     *mcp.Server
	coord   Coordinator
	backups BackupLister
	stats   StatsSource
	logger  *slog.Logger

	// resources holds the URIs of registered document resources.
	resources map[string]bool

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "conflict_status",
		Description: "Summarize tracked documents, pending and awaiting conflicts, watch health and read-only files. Set check=true to re-read disk first.",
	},
	{
		Name:        "list_conflicts",
		Description: "List conflicts between the editor and disk with their IDs and the actions each accepts. Filter by path, kind or minimum severity.",
	},
	{
		Name:        "resolve_conflict",
		Description: "Resolve one conflict by ID with one of its offered actions. Destructive actions overwrite or discard content; only use them when the user asked for it.",
	},
	{
		Name:        "list_backups",
		Description: "List emergency backups of unsaved edits kept for crash recovery.",
	},
	{
		Name:        "include_graph",
		Description: "Show include edges between tracked documents, their load order and any includes rejected because they would form a cycle.",
	},
	{
		Name:        "conflict_stats",
		Description: "Count conflicts detected and resolved in this session by kind and action, and list the files that conflict most often.",
	},
}

// NewServer creates a new MCP server. backups may be nil when crash
// recovery is disabled.
func NewServer(coord Coordinator, backups BackupLister, logger *slog.Logger) (*Server, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		coord:     coord,
		backups:   backups,
		logger:    logger,
		resources: make(map[string]bool),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "mdsentry",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerGraphResource()

	return s, nil
}

// SetStats attaches session statistics to the conflict_stats tool.
func (s *Server) SetStats(src StatsSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = src
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "mdsentry", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return slices.Clone(tools)
}

// CallTool invokes a tool by name with the given arguments. List tools
// return markdown; the others return their output struct.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "conflict_status":
		in, err := decodeArgs[ConflictStatusInput](args)
		if err != nil {
			return nil, err
		}
		return s.handleConflictStatus(ctx, in)
	case "list_conflicts":
		in, err := decodeArgs[ListConflictsInput](args)
		if err != nil {
			return nil, err
		}
		out, err := s.handleListConflicts(in)
		if err != nil {
			return nil, err
		}
		return FormatConflicts(out.Conflicts), nil
	case "resolve_conflict":
		in, err := decodeArgs[ResolveConflictInput](args)
		if err != nil {
			return nil, err
		}
		return s.handleResolveConflict(ctx, in)
	case "list_backups":
		out, err := s.handleListBackups()
		if err != nil {
			return nil, err
		}
		return FormatBackups(out.Backups), nil
	case "include_graph":
		return s.handleIncludeGraph(), nil
	case "conflict_stats":
		return s.handleConflictStats(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	if len(args) == 0 {
		return in, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return in, NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return in, nil
}

func (s *Server) handleConflictStatus(ctx context.Context, in ConflictStatusInput) (*ConflictStatusOutput, error) {
	if in.Path != "" && !in.Check {
		return nil, NewInvalidParamsError("path is only used with check=true")
	}
	if in.Check {
		if err := s.coord.CheckNow(ctx, in.Path); err != nil {
			return nil, MapError(err)
		}
	}
	return &ConflictStatusOutput{Status: s.coord.GetSystemStatus()}, nil
}

func (s *Server) handleListConflicts(in ListConflictsInput) (ListConflictsOutput, error) {
	f := conflictFilter{path: in.Path}
	if in.Kind != "" {
		kind := conflict.Kind(in.Kind)
		if !slices.Contains(conflict.Kinds, kind) {
			return ListConflictsOutput{}, NewInvalidParamsError(fmt.Sprintf("unknown conflict kind %q", in.Kind))
		}
		f.kind = kind
	}
	if in.MinSeverity != "" {
		if err := f.minSeverity.UnmarshalText([]byte(in.MinSeverity)); err != nil {
			return ListConflictsOutput{}, NewInvalidParamsError(err.Error())
		}
	}
	return ListConflictsOutput{Conflicts: ToConflictOutputs(s.coord.Conflicts(), f)}, nil
}

func (s *Server) handleResolveConflict(ctx context.Context, in ResolveConflictInput) (*ResolveConflictOutput, error) {
	if in.ConflictID == "" {
		return nil, NewInvalidParamsError("conflict_id is required")
	}
	if in.Action == "" {
		return nil, NewInvalidParamsError("action is required")
	}

	res := resolution.Resolution{
		ConflictID: in.ConflictID,
		Action:     resolution.Action(in.Action),
		Argument:   in.Argument,
	}
	switch in.Remember {
	case "":
	case "session", "always":
		pref := &resolution.Preference{RememberAcrossSession: in.Remember == "always"}
		switch in.Scope {
		case "", "path":
		case "global":
			pref.ScopeKey = resolution.ScopeGlobal
		default:
			return nil, NewInvalidParamsError(fmt.Sprintf("scope must be path or global, got %q", in.Scope))
		}
		res.Remember = pref
	default:
		return nil, NewInvalidParamsError(fmt.Sprintf("remember must be session or always, got %q", in.Remember))
	}

	outcomes, err := s.coord.ApplyResolutions(ctx, []resolution.Resolution{res})
	if len(outcomes) == 0 {
		if err == nil {
			err = errors.New("no outcome")
		}
		return nil, MapError(err)
	}
	o := outcomes[0]
	if o.Err != nil {
		s.logger.Debug("resolve_conflict failed",
			slog.String("conflict_id", in.ConflictID),
			slog.String("action", in.Action),
			slog.String("error", o.Err.Error()))
		return nil, MapError(o.Err)
	}

	s.logger.Info("conflict resolved via MCP",
		slog.String("path", o.Path),
		slog.String("action", string(o.Action)))
	return &ResolveConflictOutput{
		ConflictID: o.ConflictID,
		Path:       o.Path,
		Action:     string(o.Action),
		Applied:    o.Applied,
		Detail:     o.Detail,
		Content:    string(o.Content),
	}, nil
}

func (s *Server) handleListBackups() (ListBackupsOutput, error) {
	out := ListBackupsOutput{Backups: []BackupOutput{}}
	if s.backups == nil {
		return out, nil
	}
	backups, err := s.backups.List()
	if err != nil {
		return ListBackupsOutput{}, MapError(err)
	}
	for _, b := range backups {
		out.Backups = append(out.Backups, ToBackupOutput(b))
	}
	return out, nil
}

func (s *Server) handleIncludeGraph() *IncludeGraphOutput {
	return &IncludeGraphOutput{Graph: s.coord.Graph()}
}

func (s *Server) handleConflictStats() *ConflictStatsOutput {
	s.mu.RLock()
	src := s.stats
	s.mu.RUnlock()
	if src == nil {
		return &ConflictStatsOutput{Enabled: false}
	}
	return &ConflictStatsOutput{Enabled: true, Stats: src.Snapshot()}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpConflictStatusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpListConflictsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpResolveConflictHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpListBackupsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[4].Name, Description: tools[4].Description}, s.mcpIncludeGraphHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[5].Name, Description: tools[5].Description}, s.mcpConflictStatsHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpConflictStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, in ConflictStatusInput) (
	*mcp.CallToolResult,
	*ConflictStatusOutput,
	error,
) {
	out, err := s.handleConflictStatus(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpListConflictsHandler(_ context.Context, _ *mcp.CallToolRequest, in ListConflictsInput) (
	*mcp.CallToolResult,
	ListConflictsOutput,
	error,
) {
	out, err := s.handleListConflicts(in)
	if err != nil {
		return nil, ListConflictsOutput{}, err
	}
	return textResult(FormatConflicts(out.Conflicts)), out, nil
}

func (s *Server) mcpResolveConflictHandler(ctx context.Context, _ *mcp.CallToolRequest, in ResolveConflictInput) (
	*mcp.CallToolResult,
	*ResolveConflictOutput,
	error,
) {
	out, err := s.handleResolveConflict(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpListBackupsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListBackupsInput) (
	*mcp.CallToolResult,
	ListBackupsOutput,
	error,
) {
	out, err := s.handleListBackups()
	if err != nil {
		return nil, ListBackupsOutput{}, err
	}
	return textResult(FormatBackups(out.Backups)), out, nil
}

func (s *Server) mcpIncludeGraphHandler(_ context.Context, _ *mcp.CallToolRequest, _ IncludeGraphInput) (
	*mcp.CallToolResult,
	*IncludeGraphOutput,
	error,
) {
	return nil, s.handleIncludeGraph(), nil
}

func (s *Server) mcpConflictStatsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ConflictStatsInput) (
	*mcp.CallToolResult,
	*ConflictStatsOutput,
	error,
) {
	return nil, s.handleConflictStats(), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

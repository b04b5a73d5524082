package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceSize is the maximum document size served as a resource (1MB).
const MaxResourceSize = 1024 * 1024

// GraphResourceURI is the URI of the include graph resource.
const GraphResourceURI = "mdsentry://graph"

// RegisterResources registers every tracked document as an MCP resource.
// Call it again after documents are added; known URIs are skipped.
func (s *Server) RegisterResources() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.coord.GetSystemStatus()
	paths := make(map[string]bool, len(status.WatchHealth)+len(status.Documents))
	for p := range status.WatchHealth {
		paths[p] = true
	}
	for _, p := range status.Documents {
		paths[p] = true
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	added := 0
	for _, p := range sorted {
		uri := "file://" + p
		if s.resources[uri] {
			continue
		}
		s.registerFileResource(p, uri)
		s.resources[uri] = true
		added++
	}

	s.logger.Info("registered resources", "count", added)
	return added
}

func (s *Server) registerFileResource(path, uri string) {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        filepath.Base(path),
			URI:         uri,
			Description: path,
			MIMEType:    MimeTypeForPath(path),
		},
		s.makeFileHandler(path),
	)
}

func (s *Server) makeFileHandler(path string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.handleReadResource(ctx, path)
	}
}

// handleReadResource returns the accepted content of a tracked document:
// the cached copy when resident, otherwise the file on disk.
func (s *Server) handleReadResource(_ context.Context, path string) (*mcp.ReadResourceResult, error) {
	rec, ok := s.coord.Record(path)
	if !ok {
		return nil, &MCPError{
			Code:    ErrCodeUnknownDocument,
			Message: fmt.Sprintf("not tracked: %s", path),
		}
	}

	content := rec.CachedContent
	if content == nil {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &MCPError{
					Code:    ErrCodeFileNotFound,
					Message: fmt.Sprintf("file not found: %s", path),
				}
			}
			return nil, MapError(err)
		}
		if info.Size() > MaxResourceSize {
			return nil, &MCPError{
				Code:    ErrCodeFileTooLarge,
				Message: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
			}
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, MapError(err)
		}
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      "file://" + path,
				MIMEType: MimeTypeForPath(path),
				Text:     string(content),
			},
		},
	}, nil
}

func (s *Server) registerGraphResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "include_graph",
			URI:         GraphResourceURI,
			Description: "Include edges, load order and rejected cycles",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.handleReadGraph()
		},
	)
}

func (s *Server) handleReadGraph() (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(s.coord.Graph(), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      GraphResourceURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

// Package mcpserver exposes snapshot comparison via MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valreg/valreg-go/internal/compare"
	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/policy"
)

// Options restrict what the tools may read. An empty Root allows any path.
type Options struct {
	Root string
}

// RegisterTools registers the valreg MCP tools on the given server.
func RegisterTools(server *mcp.Server, opts Options) {
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "compare_directories",
			Description: "Compare the JSON metric snapshots of two directories and classify each metric as over threshold, within threshold, new or deleted",
		},
		compareDirectoriesHandler(opts),
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "parse_snapshot",
			Description: "Parse one JSON metric snapshot file and return its metrics with defaults applied",
		},
		parseSnapshotHandler(opts),
	)
}

type compareInput struct {
	ExpectedDir string `json:"expected_dir,omitempty" jsonschema:"directory holding the expected snapshots"`
	ActualDir   string `json:"actual_dir,omitempty" jsonschema:"directory holding the actual snapshots"`
}

type compareOutput struct {
	Verdict policy.Verdict `json:"verdict"`
	Details string         `json:"details"`
	Counts  compare.Counts `json:"counts"`
	Output  compare.Output `json:"output"`
}

func compareDirectoriesHandler(opts Options) mcp.ToolHandlerFor[compareInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input compareInput) (*mcp.CallToolResult, any, error) {
		if input.ExpectedDir == "" || input.ActualDir == "" {
			return errorResult("expected_dir and actual_dir are required"), nil, nil
		}
		expected, err := opts.resolve(input.ExpectedDir)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		actual, err := opts.resolve(input.ActualDir)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}

		out, err := compare.CompareDirs(expected, actual)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		d := policy.NewEngine().Decide(out, true)
		return textResult(compareOutput{
			Verdict: d.Verdict,
			Details: d.Details,
			Counts:  out.Counts(),
			Output:  out,
		})
	}
}

type parseInput struct {
	Path string `json:"path,omitempty" jsonschema:"path of the snapshot file"`
}

func parseSnapshotHandler(opts Options) mcp.ToolHandlerFor[parseInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input parseInput) (*mcp.CallToolResult, any, error) {
		if input.Path == "" {
			return errorResult("path is required"), nil, nil
		}
		path, err := opts.resolve(input.Path)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}

		ms, err := metric.ParseSnapshot(filepath.Dir(path), path)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		if ms == nil {
			ms = []metric.Metric{}
		}
		return textResult(ms)
	}
}

// resolve makes p absolute, relative to Root when set, and rejects paths
// outside Root.
func (o Options) resolve(p string) (string, error) {
	if o.Root == "" {
		return filepath.Abs(p)
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %s", p, root)
	}
	return p, nil
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

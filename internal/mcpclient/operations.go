package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// Tool is one entry of a tools/list response.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is one entry of a resources/list response.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type toolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type toolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type resourcesListResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ListAllTools loops tools/list following nextCursor until exhausted,
// per spec.md §4.5.
func (c *Client) ListAllTools(ctx context.Context) ([]Tool, error) {
	var out []Tool
	cursor := ""
	for {
		raw, err := c.call(ctx, "tools/list", toolsListParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page toolsListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &mcptypes.ProtocolError{Server: c.serverName, Body: "undecodable tools/list result: " + err.Error()}
		}
		out = append(out, page.Tools...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// ListAllResources loops resources/list following nextCursor until
// exhausted, per spec.md §4.5.
func (c *Client) ListAllResources(ctx context.Context) ([]Resource, error) {
	var out []Resource
	cursor := ""
	for {
		raw, err := c.call(ctx, "resources/list", toolsListParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page resourcesListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &mcptypes.ProtocolError{Server: c.serverName, Body: "undecodable resources/list result: " + err.Error()}
		}
		out = append(out, page.Resources...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

type toolsCallParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// ToolsCallResult is the shape of a tools/call response.
type ToolsCallResult struct {
	Content []mcptypes.McpContent `json:"content"`
	IsError bool                  `json:"isError,omitempty"`
}

// CallTool invokes tools/call for the given original (unprefixed) tool
// name with arguments, per spec.md §4.5.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}) (*ToolsCallResult, error) {
	raw, err := c.call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &mcptypes.ProtocolError{Server: c.serverName, Body: "undecodable tools/call result: " + err.Error()}
	}
	return &result, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

// ResourcesReadResult is the shape of a resources/read response.
type ResourcesReadResult struct {
	Contents []mcptypes.McpContent `json:"contents"`
}

// ReadResource invokes resources/read for uri, per spec.md §4.5.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourcesReadResult, error) {
	raw, err := c.call(ctx, "resources/read", resourcesReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result ResourcesReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &mcptypes.ProtocolError{Server: c.serverName, Body: "undecodable resources/read result: " + err.Error()}
	}
	return &result, nil
}

package tracker

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docwatch/kit"
)

// RegisterMCP registers the read tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	ep := s.endpoints()
	s.registerGetUpdates(srv, ep.updates)
	s.registerSearchUpdates(srv, ep.search)
	s.registerListTopics(srv, ep.topics)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeArgs(r *mcp.CallToolRequest, v any) error {
	if len(r.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params.Arguments, v)
}

func (s *Service) registerGetUpdates(srv *mcp.Server, endpoint kit.Endpoint) {
	type req struct {
		Topic      string `json:"topic"`
		Language   string `json:"language"`
		Page       int    `json:"page"`
		UpdateType string `json:"update_type"`
	}

	tool := &mcp.Tool{
		Name:        "docwatch_get_updates",
		Description: "List recorded documentation updates, newest first",
		InputSchema: inputSchema(map[string]any{
			"topic":       map[string]any{"type": "string", "description": "Topic name, see docwatch_list_topics"},
			"language":    map[string]any{"type": "string", "description": "Output language of the summaries"},
			"page":        map[string]any{"type": "integer", "description": "Page number, starting at 1"},
			"update_type": map[string]any{"type": "string", "description": "single (per commit) or weekly (digests)"},
		}, nil),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := decodeArgs(r, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &UpdatesQuery{
			Topic:    p.Topic,
			Language: p.Language,
			Type:     p.UpdateType,
			Page:     p.Page,
		}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerSearchUpdates(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "docwatch_search_updates",
		Description: "Full-text search over update titles and summaries",
		InputSchema: inputSchema(map[string]any{
			"keyword":  map[string]any{"type": "string", "description": "Words that must all appear"},
			"topic":    map[string]any{"type": "string", "description": "Restrict to one topic"},
			"language": map[string]any{"type": "string", "description": "Restrict to one language"},
		}, []string{"keyword"}),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p SearchQuery
		if err := decodeArgs(r, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerListTopics(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "docwatch_list_topics",
		Description: "List tracked documentation topics with their history counters",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

package mcpadapter

import (
	"encoding/json"
	"fmt"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// TransformContent converts one piece of MCP content into the
// host-visible ContentBlock shape of spec.md §4.8.3.
func TransformContent(c mcptypes.McpContent) mcptypes.ContentBlock {
	switch mcptypes.ContentKind(c.Type) {
	case mcptypes.ContentText:
		return mcptypes.ContentBlock{Type: "text", Text: c.Text}
	case mcptypes.ContentImage:
		mime := c.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return mcptypes.ContentBlock{Type: "image", Data: c.Data, MimeType: mime}
	case mcptypes.ContentResource:
		body := c.Text
		if body == "" {
			body = c.Blob
		}
		return mcptypes.ContentBlock{Type: "text", Text: fmt.Sprintf("[Resource: %s]\n%s", c.URI, body)}
	case mcptypes.ContentResourceLink:
		return mcptypes.ContentBlock{Type: "text", Text: fmt.Sprintf("[Resource Link: %s]\nURI: %s", c.Name, c.URI)}
	case mcptypes.ContentAudio:
		return mcptypes.ContentBlock{Type: "text", Text: fmt.Sprintf("[Audio content: %s]", c.MimeType)}
	default:
		raw := []byte(c.Raw)
		if raw == nil {
			raw, _ = json.Marshal(c)
		}
		return mcptypes.ContentBlock{Type: "text", Text: string(raw)}
	}
}

// TransformAll transforms a whole tools/call or resources/read result.
func TransformAll(items []mcptypes.McpContent) []mcptypes.ContentBlock {
	out := make([]mcptypes.ContentBlock, 0, len(items))
	for _, item := range items {
		out = append(out, TransformContent(item))
	}
	return out
}

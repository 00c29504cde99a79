package mcpadapter

import (
	"strings"
	"testing"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

func TestTransformContentText(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "text", Text: "hello"})
	if got.Type != "text" || got.Text != "hello" {
		t.Errorf("unexpected block: %+v", got)
	}
}

func TestTransformContentTextDefaultsToEmpty(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "text"})
	if got.Text != "" {
		t.Errorf("expected empty text default, got %q", got.Text)
	}
}

func TestTransformContentImageDefaultsMimeType(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "image", Data: "base64=="})
	if got.Type != "image" || got.Data != "base64==" || got.MimeType != "image/png" {
		t.Errorf("unexpected block: %+v", got)
	}
}

func TestTransformContentImagePreservesMimeType(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "image", MimeType: "image/jpeg"})
	if got.MimeType != "image/jpeg" {
		t.Errorf("expected explicit mime type to survive, got %q", got.MimeType)
	}
}

func TestTransformContentResourcePrefersText(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "resource", URI: "file:///a.txt", Text: "body", Blob: "ignored"})
	if !strings.Contains(got.Text, "[Resource: file:///a.txt]") || !strings.Contains(got.Text, "body") {
		t.Errorf("unexpected block: %+v", got)
	}
}

func TestTransformContentResourceFallsBackToBlob(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "resource", URI: "file:///a.bin", Blob: "b64data"})
	if !strings.Contains(got.Text, "b64data") {
		t.Errorf("expected blob fallback in text, got %+v", got)
	}
}

func TestTransformContentResourceLink(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "resource_link", Name: "readme", URI: "file:///readme.md"})
	if !strings.Contains(got.Text, "[Resource Link: readme]") || !strings.Contains(got.Text, "file:///readme.md") {
		t.Errorf("unexpected block: %+v", got)
	}
}

func TestTransformContentAudio(t *testing.T) {
	got := TransformContent(mcptypes.McpContent{Type: "audio", MimeType: "audio/wav"})
	if got.Text != "[Audio content: audio/wav]" {
		t.Errorf("unexpected block: %+v", got)
	}
}

func TestTransformContentUnknownSerializesRaw(t *testing.T) {
	c := mcptypes.McpContent{}
	if err := jsonUnmarshalHelper(`{"type":"future_kind","custom":"value"}`, &c); err != nil {
		t.Fatal(err)
	}
	got := TransformContent(c)
	if got.Type != "text" || !strings.Contains(got.Text, "future_kind") || !strings.Contains(got.Text, "value") {
		t.Errorf("expected unknown type to serialize raw bytes, got %+v", got)
	}
}

func TestTransformAll(t *testing.T) {
	items := []mcptypes.McpContent{
		{Type: "text", Text: "a"},
		{Type: "text", Text: "b"},
	}
	got := TransformAll(items)
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Errorf("unexpected blocks: %+v", got)
	}
}

func jsonUnmarshalHelper(data string, c *mcptypes.McpContent) error {
	return c.UnmarshalJSON([]byte(data))
}

package nametransform

import "testing"

func TestFormatToolNameModes(t *testing.T) {
	cases := []struct {
		tool, server, prefix, want string
	}{
		{"list_sims", "xcode-mcp", "server", "xcode_mcp_list_sims"},
		{"list_sims", "xcode-mcp", "short", "xcode_list_sims"},
		{"list_sims", "xcode-mcp", "none", "list_sims"},
		{"search", "-mcp", "short", "mcp_search"},
	}
	for _, c := range cases {
		got := FormatToolName(c.tool, c.server, c.prefix)
		if got != c.want {
			t.Errorf("FormatToolName(%q,%q,%q) = %q, want %q", c.tool, c.server, c.prefix, got, c.want)
		}
	}
}

func TestFormatToolNameNoneIdempotent(t *testing.T) {
	once := FormatToolName("search", "xcode-mcp", "none")
	twice := FormatToolName(once, "xcode-mcp", "none")
	if once != twice {
		t.Errorf("expected idempotence under none prefix, got %q then %q", once, twice)
	}
}

func TestResourceNameToToolName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"My Resource!", "get_my_resource"},
		{"123abc", "get_resource_123abc"},
		{"", "get_resource"},
	}
	for _, c := range cases {
		got := ResourceNameToToolName(c.in)
		if got != c.want {
			t.Errorf("ResourceNameToToolName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResourceThenFormatDependsOnlyOnInputs(t *testing.T) {
	a := FormatToolName(ResourceNameToToolName("My Resource"), "srv", "server")
	b := FormatToolName(ResourceNameToToolName("My Resource"), "srv", "server")
	if a != b {
		t.Error("expected deterministic composition")
	}
}

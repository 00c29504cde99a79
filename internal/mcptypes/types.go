// Package mcptypes holds the data model shared across the MCP adapter
// core: server definitions and configuration, cache entries, live
// connection state, and the wire content types the protocol client
// produces.
package mcptypes

import (
	"encoding/json"
	"time"
)

// AuthKind is the HTTP transport authentication strategy for a server.
type AuthKind string

const (
	AuthNone   AuthKind = ""
	AuthBearer AuthKind = "bearer"
	AuthOAuth  AuthKind = "oauth"
)

// Lifecycle controls a server's startup and idle eviction policy.
type Lifecycle string

const (
	LifecycleLazy      Lifecycle = "lazy"
	LifecycleEager     Lifecycle = "eager"
	LifecycleKeepAlive Lifecycle = "keep-alive"
)

// ToolPrefixMode controls how tool names from different servers are
// disambiguated when exposed to the host.
type ToolPrefixMode string

const (
	ToolPrefixNone   ToolPrefixMode = "none"
	ToolPrefixShort  ToolPrefixMode = "short"
	ToolPrefixServer ToolPrefixMode = "server"
)

// DirectTools captures the three legal shapes of a server's directTools
// field: absent (nil), a bare bool, or {"tools": [...]}.
type DirectTools struct {
	// Enabled is used when the config value was a bare boolean.
	Enabled bool
	// Names, if non-nil, restricts direct exposure to these tool names.
	Names []string
	// set is true once the field has been populated from config, so a
	// caller can distinguish "absent" from "explicitly false".
	set bool
}

// IsSet reports whether directTools appeared in the server definition.
func (d DirectTools) IsSet() bool { return d.set }

// UnmarshalJSON implements the bool-or-object union described in
// spec.md §3 (ServerDefinition.directTools).
func (d *DirectTools) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*d = DirectTools{Enabled: asBool, set: true}
		return nil
	}
	var asObj struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(data, &asObj); err != nil {
		return err
	}
	*d = DirectTools{Enabled: true, Names: asObj.Tools, set: true}
	return nil
}

// MarshalJSON round-trips the shape it was decoded from; unset values
// marshal to `false` rather than `null` so the field stays self-describing.
func (d DirectTools) MarshalJSON() ([]byte, error) {
	if d.Names != nil {
		return json.Marshal(struct {
			Tools []string `json:"tools"`
		}{Tools: d.Names})
	}
	return json.Marshal(d.Enabled)
}

// ServerDefinition is one entry of an McpConfig.mcpServers map.
//
// Invariant: exactly one of Command or URL is set.
type ServerDefinition struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Auth           AuthKind `json:"auth,omitempty"`
	BearerToken    string   `json:"bearerToken,omitempty"`
	BearerTokenEnv string   `json:"bearerTokenEnv,omitempty"`

	Lifecycle       Lifecycle    `json:"lifecycle,omitempty"`
	IdleTimeout     int          `json:"idleTimeout,omitempty"` // minutes
	ExposeResources bool         `json:"exposeResources,omitempty"`
	DirectTools     *DirectTools `json:"directTools,omitempty"`
	Debug           bool         `json:"debug,omitempty"`
}

// IsHTTP reports whether this definition uses the HTTP/SSE transport.
func (d ServerDefinition) IsHTTP() bool { return d.URL != "" }

// Settings carries the McpConfig-level defaults of spec.md §3.
type Settings struct {
	ToolPrefix  ToolPrefixMode `json:"toolPrefix,omitempty"`
	IdleTimeout int            `json:"idleTimeout,omitempty"` // minutes
	DirectTools bool           `json:"directTools,omitempty"`
}

// McpConfig is the canonical, merged configuration produced by the
// Config Loader & Import Merger.
type McpConfig struct {
	Servers  map[string]ServerDefinition `json:"mcpServers"`
	Imports  []string                    `json:"imports,omitempty"`
	Settings Settings                    `json:"settings,omitempty"`
}

// EffectiveToolPrefix resolves the default of spec.md §3 ("server").
func (c McpConfig) EffectiveToolPrefix() ToolPrefixMode {
	if c.Settings.ToolPrefix == "" {
		return ToolPrefixServer
	}
	return c.Settings.ToolPrefix
}

// ToolMetadata is the in-memory, host-visible description of one tool
// or resource-backed pseudo-tool.
type ToolMetadata struct {
	PrefixedName  string          `json:"prefixedName"`
	OriginalName  string          `json:"originalName"`
	Server        string          `json:"server"`
	Description   string          `json:"description,omitempty"`
	InputSchema   json.RawMessage `json:"inputSchema,omitempty"`
	ResourceURI   string          `json:"resourceUri,omitempty"`
	IsResource    bool            `json:"isResource,omitempty"`
}

// CachedTool is the persisted shape of a tool inside a ServerCacheEntry.
type CachedTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CachedResource is the persisted shape of a resource.
type CachedResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ServerCacheEntry is the persisted per-server metadata cache record.
type ServerCacheEntry struct {
	ConfigHash     string           `json:"configHash"`
	Tools          []CachedTool     `json:"tools"`
	Resources      []CachedResource `json:"resources,omitempty"`
	CachedAtMillis int64            `json:"cachedAt"`
}

// CacheTTL is the 7-day validity window of spec.md §4.2.
const CacheTTL = 7 * 24 * time.Hour

// Valid reports whether entry's configHash matches currentHash and it
// has not exceeded the 7-day TTL, measured against now.
func (e ServerCacheEntry) Valid(currentHash string, now time.Time) bool {
	if e.ConfigHash != currentHash {
		return false
	}
	age := now.Sub(time.UnixMilli(e.CachedAtMillis))
	return age >= 0 && age < CacheTTL
}

// MetadataCacheFile is the top-level on-disk schema (spec.md §4.2/§6.1).
type MetadataCacheFile struct {
	Version int                         `json:"version"`
	Servers map[string]ServerCacheEntry `json:"servers"`
}

// CurrentCacheVersion is the only schema version this core understands;
// entries read with a different version are discarded wholesale.
const CurrentCacheVersion = 1

// ConnStatus is a ServerConnection's lifecycle state.
type ConnStatus string

const (
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
	StatusError        ConnStatus = "error"
)

// ContentKind enumerates the MCP content types of spec.md §4.5.
type ContentKind string

const (
	ContentText         ContentKind = "text"
	ContentImage        ContentKind = "image"
	ContentResource     ContentKind = "resource"
	ContentResourceLink ContentKind = "resource_link"
	ContentAudio        ContentKind = "audio"
)

// McpContent is the tagged union MCP servers return from tools/call and
// resources/read. Unknown types are preserved via Raw for downstream
// re-serialization.
type McpContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	URI      string          `json:"uri,omitempty"`
	Name     string          `json:"name,omitempty"`
	Blob     string          `json:"blob,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the original bytes around in Raw so an unknown
// content type can be re-serialized unchanged.
func (c *McpContent) UnmarshalJSON(data []byte) error {
	type alias McpContent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = McpContent(a)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ContentBlock is the host-visible, already-transformed content shape
// (spec.md §4.8.3).
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

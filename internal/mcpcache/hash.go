package mcpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// hashableFields is the identity-affecting subset of a ServerDefinition
// named in spec.md §3 (ServerCacheEntry.configHash). Map-typed fields are
// represented as sorted key/value pairs so that two definitions that
// differ only in map-iteration order hash identically.
type hashableFields struct {
	Command         string      `json:"command,omitempty"`
	Args            []string    `json:"args,omitempty"`
	Env             []kv        `json:"env,omitempty"`
	Cwd             string      `json:"cwd,omitempty"`
	URL             string      `json:"url,omitempty"`
	Headers         []kv        `json:"headers,omitempty"`
	Auth            string      `json:"auth,omitempty"`
	BearerToken     string      `json:"bearerToken,omitempty"`
	BearerTokenEnv  string      `json:"bearerTokenEnv,omitempty"`
	ExposeResources bool        `json:"exposeResources,omitempty"`
}

type kv struct {
	K string `json:"k"`
	V string `json:"v"`
}

func sortedKV(m map[string]string) []kv {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kv, 0, len(keys))
	for _, k := range keys {
		out = append(out, kv{K: k, V: m[k]})
	}
	return out
}

// ComputeHash produces the stable lowercase hex SHA-256 of def's
// identity-affecting fields, per spec.md §3/§4.2. Fields that are
// null/absent in def are omitted from the encoding rather than encoded
// as zero values, and map keys are sorted at every level, so two
// definitions equal up to map-iteration order always hash identically.
func ComputeHash(def mcptypes.ServerDefinition) string {
	h := hashableFields{
		Command:         def.Command,
		Args:            def.Args,
		Env:             sortedKV(def.Env),
		Cwd:             def.Cwd,
		URL:             def.URL,
		Headers:         sortedKV(def.Headers),
		Auth:            string(def.Auth),
		BearerToken:     def.BearerToken,
		BearerTokenEnv:  def.BearerTokenEnv,
		ExposeResources: def.ExposeResources,
	}
	// encoding/json already emits object keys in the order struct fields
	// are declared, which is fixed and deterministic here; no runtime
	// map is serialized directly as a JSON object, so no further key
	// sorting step is needed beyond sortedKV above.
	data, err := json.Marshal(h)
	if err != nil {
		// Marshal of a struct of only strings/bools/slices cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

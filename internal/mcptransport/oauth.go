package mcptransport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// storedToken is the on-disk shape of <agent_dir>/mcp-oauth/<server>/tokens.json
// (spec.md §6.1).
type storedToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// loadOAuthToken reads the stored token for server under agentDir. It
// returns an AuthMissingError when the file is absent, undecodable, or
// the token has expired — the core never performs the OAuth flow
// itself, so there is no retry path here.
func loadOAuthToken(agentDir, server string, now time.Time) (string, error) {
	path := filepath.Join(agentDir, "mcp-oauth", server, "tokens.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &mcptypes.AuthMissingError{Server: server, Reason: "no stored oauth token; run the host's auth command"}
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", &mcptypes.AuthMissingError{Server: server, Reason: "stored oauth token is undecodable"}
	}
	if tok.AccessToken == "" {
		return "", &mcptypes.AuthMissingError{Server: server, Reason: "stored oauth token is empty"}
	}

	expiresAt := tok.ExpiresAt
	if expiresAt == 0 {
		expiresAt = jwtExpiryMillis(tok.AccessToken)
	}
	if expiresAt != 0 && expiresAt < now.UnixMilli() {
		return "", &mcptypes.AuthMissingError{Server: server, Reason: "stored oauth token has expired; re-authenticate"}
	}
	return tok.AccessToken, nil
}

// jwtExpiryMillis is the belt-and-suspenders fallback noted in
// SPEC_FULL.md: when tokens.json itself carries no expiresAt, try
// parsing access_token as a JWT and read its exp claim. Returns 0 (no
// expiry known) if the token isn't a parseable JWT or carries no exp.
func jwtExpiryMillis(accessToken string) int64 {
	if strings.Count(accessToken, ".") != 2 {
		return 0
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// We only want to read the exp claim off an already-issued token;
	// signature verification is the issuer's job, not ours.
	_, _, err := parser.ParseUnverified(accessToken, claims)
	if err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.UnixMilli()
}

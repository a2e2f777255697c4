package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GitLabIntrospector resolves token state against a GitLab instance via
// GET /api/v4/personal_access_tokens/self. A 401 from the instance means the
// credential is inactive (revoked or never valid) and is reported as revoked,
// not as an error — errors are reserved for infrastructure faults so the
// caller can fail closed on them distinctly.
type GitLabIntrospector struct {
	baseURL string
	client  *http.Client
}

// NewGitLabIntrospector builds an introspector for the given instance base
// URL (e.g. https://gitlab.example.com). Per-call deadlines come from the
// caller's context; the client timeout is only a backstop.
func NewGitLabIntrospector(baseURL string, timeout time.Duration) *GitLabIntrospector {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GitLabIntrospector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// selfTokenResponse is the subset of the GitLab token payload the gate needs.
type selfTokenResponse struct {
	Scopes    []string `json:"scopes"`
	Active    bool     `json:"active"`
	Revoked   bool     `json:"revoked"`
	ExpiresAt string   `json:"expires_at"` // date-only, e.g. "2026-03-01"
}

// Introspect implements Introspector.
func (g *GitLabIntrospector) Introspect(ctx context.Context, tok string) (*Info, error) {
	url := g.baseURL + "/api/v4/personal_access_tokens/self"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", tok)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &Info{Kind: Type(tok), Revoked: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection returned status %d", resp.StatusCode)
	}

	var body selfTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}

	info := &Info{
		Kind:    Type(tok),
		Scopes:  body.Scopes,
		Revoked: body.Revoked || !body.Active,
	}
	if body.ExpiresAt != "" {
		// GitLab reports date-only expiry; the token dies at the start of
		// that day UTC.
		t, err := time.Parse("2006-01-02", body.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at %q: %w", body.ExpiresAt, err)
		}
		info.ExpiresAt = &t
	}

	return info, nil
}

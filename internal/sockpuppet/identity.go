// Package sockpuppet implements the Sock-Puppet Integration (spec.md §4.K):
// a profile↔puppet mapping backed by an external identity-store API, with a
// cache, session/activity tracking, and a fingerprint consistency check.
//
// Grounded on firasghr-GoSessionEngine/session/manager.go for the
// map-plus-mutex session registry shape and fingerprint/fingerprint.go for
// the platform/user-agent consistency concept, combined with the teacher's
// single-owner ttl-bounded cache idiom (internal/ai/ai_persistence.go).
package sockpuppet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Entity is the external identity-store record for one sock puppet.
type Entity struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Platform    string            `json:"platform"`
	UserAgent   string            `json:"userAgent"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// IdentityClient talks to the external identity-store API.
type IdentityClient struct {
	baseURL string
	http    *http.Client
}

// NewIdentityClient builds a client against baseURL (e.g.
// "https://identity.internal").
func NewIdentityClient(baseURL string, httpClient *http.Client) *IdentityClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityClient{baseURL: baseURL, http: httpClient}
}

// GetEntity fetches one identity record via GET /api/v1/entities/:id.
func (c *IdentityClient) GetEntity(ctx context.Context, id string) (*Entity, error) {
	url := fmt.Sprintf("%s/api/v1/entities/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: build request failed", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: identity-store request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.NotFound, "sock puppet entity not found: "+id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.IllegalState, fmt.Sprintf("sockpuppet: identity-store returned %d", resp.StatusCode))
	}
	var entity Entity
	if err := json.NewDecoder(resp.Body).Decode(&entity); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: decode entity failed", err)
	}
	return &entity, nil
}

// PostCredentials updates an entity's credentials via POST
// /api/v1/entities/:id/credentials.
func (c *IdentityClient) PostCredentials(ctx context.Context, id string, creds map[string]string) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return errs.Wrap(errs.IllegalState, "sockpuppet: encode credentials failed", err)
	}
	url := fmt.Sprintf("%s/api/v1/entities/%s/credentials", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.IllegalState, "sockpuppet: build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.IllegalState, "sockpuppet: identity-store request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errs.New(errs.IllegalState, fmt.Sprintf("sockpuppet: credentials post returned %d", resp.StatusCode))
	}
	return nil
}

// SearchEntities fetches sock-puppet entities via
// GET /api/v1/entities?type=SOCK_PUPPET&search=<q>.
func (c *IdentityClient) SearchEntities(ctx context.Context, query string) ([]Entity, error) {
	url := fmt.Sprintf("%s/api/v1/entities?type=SOCK_PUPPET&search=%s", c.baseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: build request failed", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: identity-store request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.IllegalState, fmt.Sprintf("sockpuppet: identity-store search returned %d", resp.StatusCode))
	}
	var entities []Entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "sockpuppet: decode search results failed", err)
	}
	return entities, nil
}

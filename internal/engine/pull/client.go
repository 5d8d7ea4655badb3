// Package pull fetches authoritative records from the identity
// provider and feeds them into the reconcilers.
package pull

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/config"
)

// Client is an authenticated HTTP client for the provider's API. It
// holds a client-credentials token source so background pulls work
// without a user session.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(provider config.ProviderConfig, oidcCfg config.OIDCConfig) *Client {
	creds := clientcredentials.Config{
		ClientID:     oidcCfg.ClientID,
		ClientSecret: oidcCfg.ClientSecret,
		TokenURL:     strings.TrimSuffix(oidcCfg.IssuerURL, "/") + "/token",
	}

	httpClient := creds.Client(context.Background())
	httpClient.Timeout = provider.RequestTimeout

	return &Client{
		baseURL: strings.TrimSuffix(provider.BaseURL, "/"),
		http:    httpClient,
	}
}

// GetJSON fetches path from the provider and decodes the response.
// Transport failures come back as TransientError so the task layer
// retries them; non-2xx responses come back as UpstreamError and are
// not retried.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &errors.UpstreamError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

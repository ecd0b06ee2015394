package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider issues fresh session tokens. Implementations must be safe for
// concurrent use; the Manager serializes calls through a singleflight group,
// but nothing stops an application from holding several managers.
type Provider interface {
	IssueToken(ctx context.Context) (string, error)
}

// HTTPProvider exchanges a long-lived refresh credential for a short-lived
// session token at the identity provider's token endpoint.
type HTTPProvider struct {
	http       *resty.Client
	tokenURL   string
	credential string
}

func NewHTTPProvider(tokenURL, credential string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		http:       resty.New().SetTimeout(timeout),
		tokenURL:   tokenURL,
		credential: credential,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
	JWT   string `json:"jwt"`
}

func (p *HTTPProvider) IssueToken(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"refresh_token": p.credential}).
		SetResult(&out).
		Post(p.tokenURL)
	if err != nil {
		return "", fmt.Errorf("token endpoint request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status())
	}

	raw := out.Token
	if raw == "" {
		raw = out.JWT
	}
	if raw == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return raw, nil
}

// StaticProvider returns the same credential on every call. Useful for
// development setups where the backend accepts a fixed API token.
type StaticProvider string

func (p StaticProvider) IssueToken(ctx context.Context) (string, error) {
	if p == "" {
		return "", fmt.Errorf("no static token configured")
	}
	return string(p), nil
}

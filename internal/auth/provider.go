package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	tokenParam = "token"
	redacted   = "REDACTED"
)

var (
	ErrNoToken       = errors.New("no access token available")
	ErrInvalidScheme = errors.New("unsupported endpoint scheme")
)

// Provider builds authenticated websocket endpoint URLs. The token is fetched
// from the source on every call so refreshed tokens are picked up on the next
// dial.
type Provider struct {
	base   *url.URL
	tokens oauth2.TokenSource
}

func NewProvider(baseURL string, tokens oauth2.TokenSource) (*Provider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	return &Provider{base: u, tokens: tokens}, nil
}

func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

func (p *Provider) Endpoint(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")

	if p.tokens != nil {
		token, err := p.Token()
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set(tokenParam, token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (p *Provider) Token() (string, error) {
	if p.tokens == nil {
		return "", ErrNoToken
	}
	tok, err := p.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

func (p *Provider) BaseURL() string {
	return p.base.String()
}

// Redact masks the token query parameter so the URL can be logged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	q := u.Query()
	if q.Get(tokenParam) == "" {
		return raw
	}
	q.Set(tokenParam, redacted)
	u.RawQuery = q.Encode()
	return u.String()
}

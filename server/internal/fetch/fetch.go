package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/obsidianstack/microclimate/pkg/types"
)

const (
	// DefaultTimeout bounds a single fetch, including reading the body.
	DefaultTimeout = 20 * time.Second

	// MaxBodyBytes caps the size of a single frame.
	MaxBodyBytes = 16 << 20

	userAgent = "microclimate-ingest/1.0"
)

// ErrStatus is returned (wrapped) when a source answers with a non-2xx status.
var ErrStatus = errors.New("unexpected status")

// ErrTooLarge is returned when a frame exceeds MaxBodyBytes.
var ErrTooLarge = errors.New("frame exceeds size limit")

// Fetcher downloads frames. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
}

// New returns a Fetcher whose requests are bounded by timeout.
// A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport},
			Timeout:   timeout,
		},
	}
}

// NewWithClient wraps an existing client; its transport gains source auth.
// Used by tests to target httptest servers.
func NewWithClient(c *http.Client) *Fetcher {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *c
	cp.Transport = &authRoundTripper{base: base}
	return &Fetcher{client: &cp}
}

// Fetch performs GET src.FetchURL and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, src types.Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(withAuth(ctx, src.Auth), http.MethodGet, src.FetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: build request: %w", src.ID, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: http get: %w", src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("fetch %q: %w %d", src.ID, ErrStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %q: read body: %w", src.ID, err)
	}
	if len(data) > MaxBodyBytes {
		return nil, fmt.Errorf("fetch %q: %w", src.ID, ErrTooLarge)
	}
	return data, nil
}

type authKey struct{}

func withAuth(ctx context.Context, a types.SourceAuth) context.Context {
	if a.Mode == "" || a.Mode == "none" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, a)
}

// authRoundTripper injects authentication headers carried on the request
// context into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	a, ok := req.Context().Value(authKey{}).(types.SourceAuth)
	if !ok {
		return t.base.RoundTrip(req)
	}
	switch a.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(a.Header, a.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+a.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(a.Username, a.Password())
	}
	return t.base.RoundTrip(req)
}

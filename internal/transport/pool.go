package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/openmind/core-gateway/internal/config"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/pkg/api"
)

// dialect is a tagged variant of translation functions, bound once per
// provider at pool construction. No runtime type inspection.
type dialect struct {
	send   func(ctx context.Context, c *client, req *api.ChatRequest) (*api.ChatResponse, error)
	stream func(ctx context.Context, c *client, req *api.ChatRequest, ch chan<- api.StreamResult) error
}

var dialects = map[registry.Dialect]dialect{
	registry.DialectOpenAI: {send: openaiSend, stream: openaiStream},
	registry.DialectGemini: {send: geminiSend, stream: geminiStream},
}

// client is one provider's long-lived connection handle. Shared read-only
// across concurrent requests to that provider.
type client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	dialect dialect
}

// Pool holds one client per provider. A connection failure on one provider
// never affects another.
type Pool struct {
	clients map[string]*client
	timeout time.Duration
}

func NewPool(providers []config.ProviderConfig, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &Pool{
		clients: make(map[string]*client, len(providers)),
		timeout: timeout,
	}

	for _, pc := range providers {
		if !pc.Enabled {
			continue
		}

		d, ok := dialects[registry.Dialect(pc.Dialect)]
		if !ok {
			d = dialects[registry.DialectOpenAI]
		}

		p.clients[pc.ID] = &client{
			http: &http.Client{
				// No overall timeout: streams outlive any fixed budget.
				// The header timeout bounds time-to-first-byte instead and
				// unary calls get a per-call context deadline.
				Transport: &http.Transport{
					MaxIdleConnsPerHost:   8,
					IdleConnTimeout:       90 * time.Second,
					ResponseHeaderTimeout: timeout,
				},
			},
			baseURL: pc.BaseURL,
			apiKey:  pc.APIKey,
			dialect: d,
		}
	}

	return p
}

// get performs the lazy per-call credential check.
func (p *Pool) get(spec *registry.ProviderSpec) (*client, *api.Error) {
	c, ok := p.clients[spec.ID]
	if !ok {
		return nil, api.NotConfiguredError(spec.ID)
	}
	if c.apiKey == "" {
		return nil, api.NotConfiguredError(spec.ID)
	}
	return c, nil
}

// Send performs a unary completion call against the provider.
func (p *Pool) Send(ctx context.Context, spec *registry.ProviderSpec, req *api.ChatRequest) (*api.ChatResponse, *api.Error) {
	c, gwErr := p.get(spec)
	if gwErr != nil {
		return nil, gwErr
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := c.dialect.send(callCtx, c, req)
	if err != nil {
		return nil, normalizeTransportError(spec.ID, err)
	}
	return resp, nil
}

// Stream opens a streaming completion call. Pre-flight failures are
// returned synchronously; failures mid-stream arrive as a terminal
// StreamResult.Err before the channel closes.
func (p *Pool) Stream(ctx context.Context, spec *registry.ProviderSpec, req *api.ChatRequest) (<-chan api.StreamResult, *api.Error) {
	c, gwErr := p.get(spec)
	if gwErr != nil {
		return nil, gwErr
	}

	ch := make(chan api.StreamResult)

	go func() {
		defer close(ch)

		if err := c.dialect.stream(ctx, c, req, ch); err != nil {
			if errors.Is(err, context.Canceled) {
				// caller went away, nothing to report
				return
			}
			select {
			case ch <- api.StreamResult{Err: normalizeTransportError(spec.ID, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// normalizeTransportError maps raw transport failures onto the gateway
// taxonomy: unreachable or credential problems are UpstreamUnavailable,
// everything the upstream answered with but we could not use is
// UpstreamError.
func normalizeTransportError(providerID string, err error) *api.Error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		if upErr.StatusCode == http.StatusUnauthorized || upErr.StatusCode == http.StatusForbidden {
			return api.UpstreamUnavailableError(providerID, err)
		}
		return api.UpstreamFailureError(providerID, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return api.UpstreamUnavailableError(providerID, err)
	}

	// connection-level failures wrap url.Error which is a net.Error in
	// the timeout case; anything else here is a dial or protocol failure
	if isConnError(err) {
		return api.UpstreamUnavailableError(providerID, err)
	}

	return api.UpstreamFailureError(providerID, err)
}

func isConnError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

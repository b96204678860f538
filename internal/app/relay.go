package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRelayTimeout = 3 * time.Second
	maxRelayBody        = 1 << 20
)

// RelayProvider fetches relay/reflection servers once per session. It
// never fails: any problem with the credential service yields the
// fallback list.
type RelayProvider struct {
	endpoint string
	timeout  time.Duration
	fallback []domain.RelayServer
	client   *http.Client
}

// NewRelayProvider creates a provider for endpoint. An empty endpoint
// always serves the fallback; an empty fallback means the public defaults.
func NewRelayProvider(endpoint string, timeout time.Duration, fallback []domain.RelayServer, client *http.Client) *RelayProvider {
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	if len(fallback) == 0 {
		fallback = domain.DefaultRelayServers()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayProvider{endpoint: endpoint, timeout: timeout, fallback: fallback, client: client}
}

// Fallback returns the config used when the fetch does not succeed.
func (p *RelayProvider) Fallback() domain.RelayConfig {
	return domain.RelayConfig{Servers: append([]domain.RelayServer(nil), p.fallback...), Fallback: true}
}

func (p *RelayProvider) Fetch(ctx context.Context) domain.RelayConfig {
	logger := log.With().Str("module", "relay").Logger()
	servers, err := p.fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("using fallback relay servers")
		return p.Fallback()
	}
	logger.Info().Int("servers", len(servers)).Msg("relay servers fetched")
	return domain.RelayConfig{Servers: servers}
}

// FetchAsync runs Fetch in the background. The channel receives exactly
// one value and is then closed.
func (p *RelayProvider) FetchAsync(ctx context.Context) <-chan domain.RelayConfig {
	out := make(chan domain.RelayConfig, 1)
	go func() {
		defer close(out)
		out <- p.Fetch(ctx)
	}()
	return out
}

func (p *RelayProvider) fetch(ctx context.Context) ([]domain.RelayServer, error) {
	if p.endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", domain.ErrRelayFetch)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRelayFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRelayFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrRelayFetch, resp.StatusCode)
	}

	var body struct {
		IceServers []domain.RelayServer `json:"iceServers"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRelayBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %w", domain.ErrRelayFetch, err)
	}
	servers := make([]domain.RelayServer, 0, len(body.IceServers))
	for _, s := range body.IceServers {
		if len(s.URLs) > 0 {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: empty server list", domain.ErrRelayFetch)
	}
	return servers, nil
}

// Package appointment reports finished calls to the host application's
// appointment service.
package appointment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

// Client marks sessions complete with POST <base>/appointments/{id}/complete.
type Client struct {
	base   string
	client *http.Client
}

var _ core.AppointmentService = (*Client)(nil)

// NewClient returns a client for the service at base. A nil client uses
// http.DefaultClient.
func NewClient(base string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), client: client}
}

func (c *Client) MarkSessionComplete(ctx context.Context, id domain.SessionID) error {
	endpoint := c.base + "/appointments/" + url.PathEscape(string(id)) + "/complete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("complete session %s: unexpected status %s", id, resp.Status)
	}
	log.Info().Str("module", "appointment").Str("sid", string(id)).Msg("session marked complete")
	return nil
}

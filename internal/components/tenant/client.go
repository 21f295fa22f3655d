// Package tenant reads tenant licensing data and enforces the per-tenant
// consultant seat limit.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

// ErrTenantNotFound is returned when the tenant service has no such tenant.
var ErrTenantNotFound = errors.New("tenant not found")

// Client reads tenants from the tenant service.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, httpClient *httpclient.Client, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tenant: base url is required")
	}
	if httpClient == nil {
		httpClient = httpclient.New(nil)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		logger:  logutil.NoopIfNil(logger),
	}, nil
}

type tenantResponse struct {
	ID        any `json:"id"`
	Licensing struct {
		AllowedNumberOfUsers *int64 `json:"allowedNumberOfUsers"`
	} `json:"licensing"`
}

// AllowedSeats returns the licensed number of consultants of a tenant.
// A tenant without licensing data has no seats.
func (c *Client) AllowedSeats(ctx context.Context, tenantID string) (int64, error) {
	var out tenantResponse
	_, err := c.http.SendJSON(ctx, http.MethodGet, c.baseURL+"/tenants/"+url.PathEscape(tenantID), nil, nil, &out)
	if err != nil {
		if httpclient.StatusCode(err) == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return 0, fmt.Errorf("failed to fetch tenant %s: %w", tenantID, err)
	}
	if out.Licensing.AllowedNumberOfUsers == nil {
		c.logger.Warn("tenant has no licensing data", "tenant_id", tenantID)
		return 0, nil
	}
	return *out.Licensing.AllowedNumberOfUsers, nil
}

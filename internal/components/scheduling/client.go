// Package scheduling registers consultants with the appointment scheduling
// service.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

// HeaderAPIKey carries the service API key.
const HeaderAPIKey = "X-Api-Key"

// HeaderTenantID scopes the call to a tenant when set.
const HeaderTenantID = "X-Tenant-ID"

// ConsultantSummary is the consultant data the scheduling service keeps.
type ConsultantSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Absent    bool   `json:"absent"`
	TenantID  string `json:"-"`
}

// Client calls the scheduling service.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL, apiKey string, httpClient *httpclient.Client, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("scheduling: base url is required")
	}
	if httpClient == nil {
		httpClient = httpclient.New(nil)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logutil.NoopIfNil(logger),
	}, nil
}

// RegisterConsultant creates the consultant in the scheduling service.
func (c *Client) RegisterConsultant(ctx context.Context, s ConsultantSummary) error {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set(HeaderAPIKey, c.apiKey)
	}
	if s.TenantID != "" {
		h.Set(HeaderTenantID, s.TenantID)
	}
	if _, err := c.http.SendJSON(ctx, http.MethodPost, c.baseURL+"/consultants", h, s, nil); err != nil {
		return fmt.Errorf("failed to register consultant %s with scheduling service: %w", s.ID, err)
	}
	c.logger.Debug("consultant registered with scheduling service", "consultant_id", s.ID)
	return nil
}

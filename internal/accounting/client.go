package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/duespark/collector-api/pkg/circuitbreaker"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
)

// Client pages customer and invoice records out of the accounting API. Token
// acquisition and refresh live in the surrounding application; the token
// provider hands this client a bearer token per owner.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
}

// TokenProvider resolves the per-owner API credential.
type TokenProvider interface {
	Token(ctx context.Context, ownerID uuid.UUID) (string, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(cfg Config, tokens TokenProvider, logger *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "accounting",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger: logger,
	}
}

func (c *Client) ListCustomers(ctx context.Context, ownerID uuid.UUID, page, pageSize int, since *time.Time) (*CustomerPage, error) {
	var out CustomerPage
	if err := c.list(ctx, ownerID, "customers", page, pageSize, since, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListInvoices(ctx context.Context, ownerID uuid.UUID, page, pageSize int, since *time.Time) (*InvoicePage, error) {
	var out InvoicePage
	if err := c.list(ctx, ownerID, "invoices", page, pageSize, since, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) list(ctx context.Context, ownerID uuid.UUID, resource string, page, pageSize int, since *time.Time, out interface{}) error {
	token, err := c.tokens.Token(ctx, ownerID)
	if err != nil {
		return apperrors.Config("failed to resolve accounting token", err)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if since != nil {
		q.Set("modified_since", since.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, q.Encode())

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.Transient("accounting request failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			return apperrors.Transient(fmt.Sprintf("accounting API returned %d", resp.StatusCode), nil)
		case resp.StatusCode == http.StatusTooManyRequests:
			return apperrors.Transient("accounting API rate limited", nil)
		case resp.StatusCode == http.StatusUnauthorized:
			return apperrors.Config("accounting token rejected", nil)
		default:
			return apperrors.Data(fmt.Sprintf("accounting API returned %d", resp.StatusCode), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Data("failed to decode accounting response", err)
		}
		return nil
	})
}

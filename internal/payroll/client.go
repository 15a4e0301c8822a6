package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/rpattn/staffsync/internal/domain"
)

var (
	// ErrNotFound marks a 404 from the external system: terminal, recorded
	// as "no data" rather than a session failure.
	ErrNotFound = errors.New("payroll: employee data not found")
	// ErrForbidden marks a 403: terminal hard failure for that employee.
	ErrForbidden = errors.New("payroll: access forbidden")
	// ErrMissingCredentials is the one startup-fatal condition in this core.
	ErrMissingCredentials = errors.New("payroll: api token is required")
)

// Config carries the external system connection settings.
type Config struct {
	BaseURL  string
	APIToken string
	// RateLimit is the maximum outbound requests per second; zero disables
	// limiting.
	RateLimit float64
}

// EmployeeSummary is one row of the paginated employee listing.
type EmployeeSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

type listPage struct {
	Employees []EmployeeSummary `json:"employees"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
}

// Client talks to the external payroll/HR system: a paginated employee
// listing plus per-employee detail endpoints, authenticated by bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	pageSize   int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests to
// inject a stub round-tripper).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithPageSize overrides the listing page size.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// NewClient builds a payroll client. Missing credentials are a configuration
// error, the only condition this core treats as fatal at startup.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("payroll: base url is required")
	}

	client := &Client{
		httpClient: http.DefaultClient,
		baseURL:    cfg.BaseURL,
		token:      cfg.APIToken,
		pageSize:   100,
	}
	if cfg.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ListEmployees pages through the employee listing until every page is
// consumed. The external system only reports the total on the first page, so
// that value drives the page count.
func (c *Client) ListEmployees(ctx context.Context) ([]EmployeeSummary, error) {
	var employees []EmployeeSummary

	page := 1
	total := -1
	for {
		current, err := c.listPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list employees page %d: %w", page, err)
		}
		employees = append(employees, current.Employees...)

		if total < 0 {
			total = current.Total
		}
		if len(current.Employees) == 0 || page*c.pageSize >= total {
			return employees, nil
		}
		page++
	}
}

// ListFirstPage fetches only the first listing page, used by test-mode runs.
func (c *Client) ListFirstPage(ctx context.Context) ([]EmployeeSummary, error) {
	current, err := c.listPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	return current.Employees, nil
}

func (c *Client) listPage(ctx context.Context, page int) (listPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(c.pageSize))

	var result listPage
	if err := c.get(ctx, "/api/v1/employees?"+query.Encode(), &result); err != nil {
		return listPage{}, err
	}
	return result, nil
}

// FetchEndpoint retrieves the current payload for one employee from one
// logical data source.
func (c *Client) FetchEndpoint(ctx context.Context, employeeID string, endpoint domain.Endpoint) (map[string]any, error) {
	path := fmt.Sprintf("/api/v1/employees/%s/%s", url.PathEscape(employeeID), endpoint)
	var payload map[string]any
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payroll request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode payroll response: %w", err)
	}
	return nil
}

// classifyStatus maps non-2xx responses onto the error taxonomy:
// terminal-not-found, terminal-forbidden, or retryable-other.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	default:
		return fmt.Errorf("payroll: unexpected status %d", code)
	}
}

package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/schema"
)

const (
	defaultMaxAttempts = 3
	defaultMaxInterval = 2 * time.Second
	maxResponseBytes   = 1 << 20
)

// Doer abstracts the HTTP client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient resolves directory lookups against the fleet data service.
// Retry with backoff lives here, in the external service's own client; the
// router core never retries.
type RESTClient struct {
	baseURL     string
	client      Doer
	maxAttempts int
}

// RESTOption configures the client.
type RESTOption func(*RESTClient)

// WithDoer overrides the HTTP client.
func WithDoer(doer Doer) RESTOption {
	return func(c *RESTClient) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithMaxAttempts bounds retry attempts per lookup.
func WithMaxAttempts(n int) RESTOption {
	return func(c *RESTClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewRESTClient constructs a directory client for the given service base URL.
func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type busAssignmentResponse struct {
	BusID string `json:"busId"`
}

type userListResponse struct {
	UserIDs []string `json:"userIds"`
}

// BusForDriver implements Directory. A 404 from the service means the driver
// has no assignment and yields an empty bus id, not an error.
func (c *RESTClient) BusForDriver(ctx context.Context, userID string) (string, error) {
	var out busAssignmentResponse
	found, err := c.getJSON(ctx, "/drivers/"+url.PathEscape(userID)+"/bus", &out)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return strings.TrimSpace(out.BusID), nil
}

// StudentsOfBus implements Directory.
func (c *RESTClient) StudentsOfBus(ctx context.Context, busID string) ([]string, error) {
	var out userListResponse
	found, err := c.getJSON(ctx, "/buses/"+url.PathEscape(busID)+"/students", &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return schema.DedupRecipients(out.UserIDs), nil
}

// UsersWithRole implements Directory.
func (c *RESTClient) UsersWithRole(ctx context.Context, role schema.Role) ([]string, error) {
	var out userListResponse
	found, err := c.getJSON(ctx, "/users?role="+url.QueryEscape(string(role)), &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return schema.DedupRecipients(out.UserIDs), nil
}

// getJSON fetches the path, retrying transport failures and 5xx responses
// with exponential backoff. Returns found=false for a 404.
func (c *RESTClient) getJSON(ctx context.Context, path string, dest any) (bool, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = defaultMaxInterval

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return false, errs.New("directory/get", errs.CodeNetwork, errs.WithCause(ctx.Err()))
			case <-time.After(sleep):
			}
		}

		found, retryable, err := c.attempt(ctx, path, dest)
		if err == nil {
			return found, nil
		}
		lastErr = err
		if !retryable {
			return false, err
		}
	}
	return false, errs.New("directory/get", errs.CodeUnavailable,
		errs.WithMessage("data service unavailable"), errs.WithCause(lastErr))
}

func (c *RESTClient) attempt(ctx context.Context, path string, dest any) (found, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, false, errs.New("directory/get", errs.CodeInvalid, errs.WithCause(err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, true, errs.New("directory/get", errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, false, nil
	case resp.StatusCode >= 500:
		return false, true, errs.New("directory/get", errs.CodeUnavailable,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("data service error"))
	case resp.StatusCode != http.StatusOK:
		return false, false, errs.New("directory/get", errs.CodeNetwork,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("unexpected status"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, true, errs.New("directory/get", errs.CodeNetwork, errs.WithCause(err))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return false, false, errs.New("directory/get", errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("decode %s response", path)), errs.WithCause(err))
	}
	return true, false, nil
}

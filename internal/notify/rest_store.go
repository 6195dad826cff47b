package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/schema"
)

const maxResponseBytes = 1 << 20

// Doer abstracts the HTTP client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTStore persists notification records through the fleet data service's
// HTTP API. Create is deliberately single-shot: a retried POST could persist
// the same notification twice, and the caller treats any failure as fatal for
// the publish anyway.
type RESTStore struct {
	baseURL string
	client  Doer
}

// RESTOption configures the store.
type RESTOption func(*RESTStore)

// WithDoer overrides the HTTP client.
func WithDoer(doer Doer) RESTOption {
	return func(s *RESTStore) {
		if doer != nil {
			s.client = doer
		}
	}
}

// NewRESTStore constructs a store targeting the data service base URL.
func NewRESTStore(baseURL string, opts ...RESTOption) *RESTStore {
	s := &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create implements Store.
func (s *RESTStore) Create(ctx context.Context, record schema.NotificationRecord) (schema.NotificationRecord, error) {
	if err := record.Validate(); err != nil {
		return schema.NotificationRecord{}, err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodeInvalid, errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodeInvalid, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodePersistence,
			errs.WithMessage("data service unreachable"), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodePersistence,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("data service rejected notification"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodePersistence, errs.WithCause(err))
	}
	var created schema.NotificationRecord
	if err := json.Unmarshal(body, &created); err != nil {
		return schema.NotificationRecord{}, errs.New("notify/create", errs.CodePersistence,
			errs.WithMessage("decode create response"), errs.WithCause(err))
	}
	if strings.TrimSpace(created.ID) == "" {
		created = record
	}
	return created, nil
}

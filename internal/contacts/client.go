package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/pkg/logger"
)

// ExternalContact is one contact as the external CRM exposes it
type ExternalContact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Company  string `json:"company,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Client fetches the contact list from the external system. Sync is
// all-or-nothing per entity: the fetched set replaces the stored set
// wholesale via the store.
type Client struct {
	cfg        config.ContactsConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new contact sync client
func NewClient(cfg config.ContactsConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("contacts-client"),
	}
}

// Fetch retrieves the full contact list from the external system,
// retrying with exponential backoff on transient failures
func (c *Client) Fetch(ctx context.Context) ([]*ExternalContact, error) {
	if c.cfg.SyncURL == "" {
		return nil, fmt.Errorf("no contact sync URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SyncURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := 1 * time.Second

	var resp *http.Response

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}

		if resp != nil {
			resp.Body.Close()
		}

		if attempt == maxRetries-1 {
			if err != nil {
				return nil, fmt.Errorf("failed to fetch contacts after %d attempts: %w", maxRetries, err)
			}
			return nil, fmt.Errorf("unexpected status code after %d attempts: %d", maxRetries, resp.StatusCode)
		}

		c.logger.Warn("Retrying contact fetch",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", maxRetries),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
		}
	}
	defer resp.Body.Close()

	var contacts []*ExternalContact
	if err := json.NewDecoder(resp.Body).Decode(&contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contact list: %w", err)
	}

	c.logger.Info("Fetched external contacts", logger.Int("count", len(contacts)))
	return contacts, nil
}

// ToRecords converts external contacts into store records with a shared
// sync timestamp
func ToRecords(external []*ExternalContact) []*sqlite.Contact {
	now := time.Now().UTC()
	records := make([]*sqlite.Contact, 0, len(external))
	for _, e := range external {
		records = append(records, &sqlite.Contact{
			ExternalID: e.ID,
			Name:       e.Name,
			Phone:      e.Phone,
			Email:      e.Email,
			Company:    e.Company,
			PhotoURL:   e.PhotoURL,
			SyncedAt:   now,
		})
	}
	return records
}

package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned when the accounts service does not know a
// repository id.
var ErrNotFound = errors.New("repository not registered with accounts service")

// Repository is a repository as listed by the accounts service.
type Repository struct {
	ID      string `json:"id"`
	Service struct {
		Location string `json:"location"`
	} `json:"service"`
}

// Client talks to the accounts directory service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the accounts service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// List returns all repositories registered with the accounts service.
func (c *Client) List(ctx context.Context) ([]Repository, error) {
	var body struct {
		Data []Repository `json:"data"`
	}
	if err := c.get(ctx, c.baseURL+"/accounts/repositories", &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Get returns a single repository by id, or ErrNotFound.
func (c *Client) Get(ctx context.Context, id string) (*Repository, error) {
	var body struct {
		Data Repository `json:"data"`
	}
	if err := c.get(ctx, c.baseURL+"/accounts/repositories/"+id, &body); err != nil {
		return nil, err
	}
	return &body.Data, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("accounts service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("accounts service returned %d for %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode accounts response: %w", err)
	}
	return nil
}

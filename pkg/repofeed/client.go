package repofeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openpermissions/chubindex/pkg/types"
)

// Page is one page of a repository identifier feed. ResultTo is the upper
// bound of the result range the repository reported for this query, empty
// when the feed did not report one.
type Page struct {
	Data     []types.Identifier
	ResultTo string
}

// Client fetches paginated identifier feeds from repository services.
type Client struct {
	http *http.Client
}

// NewClient creates a feed client.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Identifiers fetches one page of identifiers added to the repository since
// from.
func (c *Client) Identifiers(ctx context.Context, location, repoID string, page int, from time.Time) (*Page, error) {
	endpoint := fmt.Sprintf("%s/repository/repositories/%s/assets/identifiers", location, url.PathEscape(repoID))

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("from", from.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repository feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repository %s returned %d for identifiers page %d", repoID, resp.StatusCode, page)
	}

	var body struct {
		Data     []types.Identifier `json:"data"`
		Metadata struct {
			ResultRange []string `json:"result_range"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	result := &Page{Data: body.Data}
	if len(body.Metadata.ResultRange) == 2 {
		result.ResultTo = body.Metadata.ResultRange[1]
	}
	return result, nil
}

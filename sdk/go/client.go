// Package crewboardsdk is a minimal read client for the Crewboard HTTP API.
package crewboardsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Crewboard API server.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item represents the API work item model (partial).
type Item struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Stage         string   `json:"stage"`
	Dependencies  []string `json:"dependencies,omitempty"`
	ParallelGroup string   `json:"parallel_group,omitempty"`
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	Rejections    int      `json:"rejection_count,omitempty"`
}

// ItemDetail pairs an item with its markdown content.
type ItemDetail struct {
	Item    Item   `json:"item"`
	Content string `json:"content"`
}

// DepsReport is the dependency engine's output.
type DepsReport struct {
	Report struct {
		Valid  bool           `json:"valid"`
		Cycles [][]string     `json:"cycles,omitempty"`
		Depths map[string]int `json:"depths"`
		Waves  [][]string     `json:"waves"`
		Order  []string       `json:"order,omitempty"`
	} `json:"report"`
	Ready []string `json:"ready"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ItemFilters narrow Items output. Zero values mean no filter.
type ItemFilters struct {
	Stage string
	Agent string
	Type  string
	Group string
}

// Board returns the raw board snapshot.
func (c *Client) Board(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "v0/board", &resp)
	return resp, err
}

// Items lists work items.
func (c *Client) Items(ctx context.Context, filters ItemFilters) ([]Item, error) {
	q := url.Values{}
	if filters.Stage != "" {
		q.Set("stage", filters.Stage)
	}
	if filters.Agent != "" {
		q.Set("agent", filters.Agent)
	}
	if filters.Type != "" {
		q.Set("type", filters.Type)
	}
	if filters.Group != "" {
		q.Set("group", filters.Group)
	}
	endpoint := "v0/items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp.Items, err
}

// Item fetches one item with its content.
func (c *Client) Item(ctx context.Context, id string) (ItemDetail, error) {
	var resp ItemDetail
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), &resp)
	return resp, err
}

// Deps returns the dependency report and ready set.
func (c *Client) Deps(ctx context.Context) (DepsReport, error) {
	var resp DepsReport
	err := c.do(ctx, http.MethodGet, "v0/deps", &resp)
	return resp, err
}

// Activity tails the activity feed.
func (c *Client) Activity(ctx context.Context, limit int) ([]string, error) {
	endpoint := "v0/activity"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Lines []string `json:"lines"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp.Lines, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Package registry implements the HTTP client for the DARP server registry.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
)

// Server is a registry entry for a DARP tool server.
type Server struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	URL         string            `json:"url"`
	Logo        string            `json:"logo,omitempty"`
	Tools       []json.RawMessage `json:"tools"`
}

// Client queries the DARP registry.
type Client struct {
	baseURL string
	http    *http.Client
	logger  log.Logger
}

// NewClient creates a registry client for baseURL.
func NewClient(baseURL string, logger log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// ServersByID fetches the given servers from the registry. An empty id list
// short-circuits to an empty result. A 400 from the registry means at least
// one id does not exist.
func (c *Client) ServersByID(ctx context.Context, serverIDs []int64) ([]Server, error) {
	if len(serverIDs) == 0 {
		return []Server{}, nil
	}

	q := url.Values{}
	for _, id := range serverIDs {
		q.Add("ids", strconv.FormatInt(id, 10))
	}

	resp, err := c.get(ctx, "/servers/batch", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, apperr.InvalidInput("One or more servers ids are invalid")
	}
	if resp.StatusCode != http.StatusOK {
		c.logUnexpectedStatus(resp)
		return nil, apperr.RemoteServer("Error getting server from registry", nil)
	}

	return decodeServers(resp.Body)
}

// Search asks the registry for servers fitting a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]Server, error) {
	q := url.Values{}
	q.Set("query", query)

	resp, err := c.get(ctx, "/servers/search", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logUnexpectedStatus(resp)
		return nil, apperr.RemoteServer("Error getting server info", nil)
	}

	return decodeServers(resp.Body)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.RemoteServer("Error getting server from registry", err)
	}
	return resp, nil
}

func (c *Client) logUnexpectedStatus(resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("registry responded with unexpected status",
		"status", resp.StatusCode,
		"detail", string(body))
}

func decodeServers(r io.Reader) ([]Server, error) {
	var servers []Server
	if err := json.NewDecoder(r).Decode(&servers); err != nil {
		return nil, apperr.RemoteServer("Error decoding registry response", err)
	}
	return servers, nil
}

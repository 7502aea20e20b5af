package fireapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// maxErrorBody bounds how much of a failed response is kept in a ServerError.
const maxErrorBody = 512

// Client calls the remote region store and risk endpoint. It holds no region
// state; every call is parameterized by identity.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for the single configured API base URL.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// call describes one remote request.
type call struct {
	endpoint string // metrics label
	op       string // error context
	method   string
	path     string
	query    url.Values
	body     any
	out      any
}

func (c *Client) do(ctx context.Context, rc call) error {
	u := c.baseURL + rc.path
	if len(rc.query) > 0 {
		u += "?" + rc.query.Encode()
	}

	var body io.Reader
	if rc.body != nil {
		data, err := json.Marshal(rc.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", rc.op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, u, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", rc.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RemoteDuration.WithLabelValues(rc.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues(rc.endpoint, "transport_error").Inc()
		return &domain.TransportError{Op: rc.op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RemoteRequests.WithLabelValues(rc.endpoint, "server_error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ServerError{Op: rc.op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if rc.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(rc.out); err != nil {
			c.metrics.RemoteRequests.WithLabelValues(rc.endpoint, "server_error").Inc()
			return &domain.ServerError{Op: rc.op, StatusCode: resp.StatusCode, Body: "undecodable response: " + err.Error()}
		}
	}

	c.metrics.RemoteRequests.WithLabelValues(rc.endpoint, "success").Inc()
	c.logger.Debug("remote call complete", "op", rc.op, "status", resp.StatusCode, "duration", time.Since(start))
	return nil
}

// flexID decodes ids that the backend may send as strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func limitQuery(limit int) url.Values {
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

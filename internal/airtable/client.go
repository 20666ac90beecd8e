// Package airtable provides a paginated read client for the Airtable REST API.
package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/retry"
)

const (
	defaultBaseURL  = "https://api.airtable.com/v0"
	defaultPageSize = 100
)

// Record is one row of an Airtable table. Fields is the raw typed-field map
// as Airtable returns it; absent, null and wrongly-typed values are all
// possible and must be handled through the accessor helpers.
type Record struct {
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields"`
	CreatedTime time.Time      `json:"createdTime"`
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// APIError is a non-2xx response from Airtable.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable API error: status %d - %s", e.StatusCode, e.Body)
}

// Client fetches records from Airtable bases with cursor-based pagination.
type Client struct {
	apiKey     string
	baseURL    string
	pageSize   int
	httpClient *http.Client
	retryCfg   *retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPageSize overrides the page size requested from Airtable.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithRetryConfig overrides the backoff profile for page fetches.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient creates an Airtable read client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retry.AirtableDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fetchPage retrieves one page of records. Rate-limit (429) and server-side
// (5xx) responses are retried with backoff; other API errors are permanent.
func (c *Client) fetchPage(ctx context.Context, baseID, table, offset string) (*listResponse, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	if offset != "" {
		params.Set("offset", offset)
	}
	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, baseID, url.PathEscape(table), params.Encode())

	var page *listResponse
	err := goretry.Do(ctx, c.retryCfg.CreateBackoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return goretry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				logrus.WithFields(logrus.Fields{
					"table":  table,
					"status": resp.StatusCode,
				}).Warn("Airtable request throttled or failed, retrying")
				return goretry.RetryableError(apiErr)
			}
			return apiErr
		}

		var parsed listResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode Airtable response: %w", err)
		}
		page = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// StreamTable walks all pages of a table and invokes onRecord per record in
// page order. A callback error is logged and streaming continues; one bad
// record must not abort the page. The returned count is the number of
// records fetched; an empty table yields (0, nil), which is distinct from a
// fetch failure.
func (c *Client) StreamTable(ctx context.Context, baseID, table string, onRecord func(Record) error) (int, error) {
	var offset string
	fetched := 0

	for {
		page, err := c.fetchPage(ctx, baseID, table, offset)
		if err != nil {
			return fetched, fmt.Errorf("failed to fetch %s page: %w", table, err)
		}

		for _, rec := range page.Records {
			fetched++
			if cbErr := onRecord(rec); cbErr != nil {
				logrus.WithError(cbErr).WithFields(logrus.Fields{
					"table":  table,
					"record": rec.ID,
				}).Warn("Record callback failed, continuing stream")
			}
		}

		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	logrus.WithFields(logrus.Fields{
		"table": table,
		"count": fetched,
	}).Info("Fetched records from Airtable")
	return fetched, nil
}

// String returns a field as a non-empty string. ok is false when the field
// is absent, null, not a string, or empty.
func (r Record) String(name string) (string, bool) {
	v, present := r.Fields[name]
	if !present || v == nil {
		return "", false
	}
	s, isStr := v.(string)
	if !isStr || s == "" {
		return "", false
	}
	return s, true
}

// Number returns a numeric field. JSON numbers decode as float64; numeric
// strings are tolerated because Airtable formula fields stringify.
func (r Record) Number(name string) (float64, bool) {
	v, present := r.Fields[name]
	if !present || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bool returns a checkbox field. Airtable omits unchecked boxes entirely,
// so absence reads as false with ok=true semantics left to the caller.
func (r Record) Bool(name string) bool {
	v, present := r.Fields[name]
	if !present || v == nil {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}

// Time parses a date/datetime field in RFC 3339 form.
func (r Record) Time(name string) (time.Time, bool) {
	s, ok := r.String(name)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LastModified returns the record's last-modified timestamp when the base
// exposes one via a "Last Modified" field.
func (r Record) LastModified() (time.Time, bool) {
	return r.Time("Last Modified")
}

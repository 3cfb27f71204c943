// Package httpstore is a backfill.Store that talks to a running `memedb serve`.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/api"
	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
)

// Client calls the memedb HTTP API
type Client struct {
	baseURL  string
	http     *http.Client
	maxBatch int
	logger   zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 30s timeout
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxBatchSize skips asking the server for its limit
func WithMaxBatchSize(n int) Option {
	return func(c *Client) { c.maxBatch = n }
}

// WithLogger logs every request at debug level
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New connects to baseURL and reads the server's per-commit ceiling from /limits
func New(ctx context.Context, baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid store url %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxBatch == 0 {
		var limits api.LimitsResponse
		if err := c.do(ctx, http.MethodGet, "/limits", nil, &limits); err != nil {
			return nil, fmt.Errorf("failed to read store limits: %w", err)
		}
		c.maxBatch = limits.MaxBatchOps
	}
	return c, nil
}

func collectionPath(collection string, rest ...string) string {
	return "/collections/" + url.PathEscape(collection) + strings.Join(rest, "")
}

func toRecords(docs []domain.Document) []backfill.Record {
	records := make([]backfill.Record, len(docs))
	for i, doc := range docs {
		records[i] = backfill.Record{ID: doc.ID(), Fields: doc}
	}
	return records
}

func (c *Client) ListPage(ctx context.Context, collection, cursor string, limit int) (backfill.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("after", cursor)
	}

	var page domain.DocumentPage
	if err := c.do(ctx, http.MethodGet, collectionPath(collection, "/documents?", q.Encode()), nil, &page); err != nil {
		return backfill.Page{}, err
	}
	return backfill.Page{Records: toRecords(page.Documents), NextCursor: page.NextCursor}, nil
}

func (c *Client) Fetch(ctx context.Context, collection string, ids []string) ([]backfill.Record, error) {
	var resp api.FetchResponse
	if err := c.do(ctx, http.MethodPost, collectionPath(collection, "/fetch"), api.FetchRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return toRecords(resp.Documents), nil
}

func (c *Client) Commit(ctx context.Context, collection string, writes []backfill.PendingWrite) error {
	req := api.BatchUpdateRequest{Operations: make([]domain.BatchUpdateOperation, len(writes))}
	for i, w := range writes {
		req.Operations[i] = domain.BatchUpdateOperation{ID: w.RecordID, Updates: domain.Document{w.Field: w.Value}}
	}
	return c.do(ctx, http.MethodPatch, collectionPath(collection, "/batch?quiet=true"), req, nil)
}

func (c *Client) MaxBatchSize() int { return c.maxBatch }

func (c *Client) AcquireRunLock(ctx context.Context, collection, owner string, ttl time.Duration) error {
	body := api.AcquireLockRequest{Owner: owner, TTLSeconds: int((ttl + time.Second - 1) / time.Second)}
	return c.do(ctx, http.MethodPut, "/locks/"+url.PathEscape(backfill.LockName(collection)), body, nil)
}

func (c *Client) ReleaseRunLock(ctx context.Context, collection, owner string) error {
	path := "/locks/" + url.PathEscape(backfill.LockName(collection)) + "?owner=" + url.QueryEscape(owner)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ForceReleaseRunLock(ctx context.Context, collection string) error {
	return c.do(ctx, http.MethodDelete, "/locks/"+url.PathEscape(backfill.LockName(collection)), nil, nil)
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("store request")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

// decodeError turns an error response back into the domain error the server mapped it from
func decodeError(method, path string, resp *http.Response) error {
	var apiErr api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = resp.Status
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusConflict:
		sentinel = domain.ErrAlreadyExists
		if strings.Contains(apiErr.Message, domain.ErrLockHeld.Error()) {
			sentinel = domain.ErrLockHeld
		}
	case http.StatusBadRequest:
		sentinel = domain.ErrInvalidArgument
		if strings.Contains(apiErr.Message, domain.ErrBatchTooLarge.Error()) {
			sentinel = domain.ErrBatchTooLarge
		}
	}
	if sentinel == nil {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%s %s: %s: %w", method, path, apiErr.Message, sentinel)
}

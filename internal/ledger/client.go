// Package ledger queries a GraphQL ledger index for NFT mints and entity memos.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
)

// PageSize is the fixed row limit per mint query. A shorter page means the
// index has no more data.
const PageSize = 1000

var (
	ErrNotFound = errors.New("entity not found")
	ErrQuery    = errors.New("ledger query failed")
)

const mintsQuery = `query Mints($since: bigint!, $limit: Int!) {
  nft(
    where: {created_timestamp: {_gt: $since}}
    order_by: [{created_timestamp: asc}, {serial_number: asc}]
    limit: $limit
  ) {
    token_id
    account_id
    metadata
    created_timestamp
    serial_number
  }
}`

const memoQuery = `query EntityMemo($id: bigint!) {
  entity(where: {id: {_eq: $id}}) {
    memo
  }
}`

// Client talks to the ledger index over HTTP POST with bearer auth.
type Client struct {
	url     string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the logger used for page progress.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(url, token string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		token:   token,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// do posts one query and decodes its data object into out.
func (c *Client) do(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("could not encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: could not read body: %v", ErrQuery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrQuery, resp.StatusCode, truncate(data, 200))
	}
	var r response
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("%w: could not decode response: %v", ErrQuery, err)
	}
	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrQuery, strings.Join(msgs, "; "))
	}
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrQuery)
	}
	dec = json.NewDecoder(bytes.NewReader(r.Data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: could not decode data: %v", ErrQuery, err)
	}
	return nil
}

type nftRow struct {
	TokenID          Numeric `json:"token_id"`
	AccountID        Numeric `json:"account_id"`
	Metadata         *string `json:"metadata"`
	CreatedTimestamp Numeric `json:"created_timestamp"`
	SerialNumber     Numeric `json:"serial_number"`
}

// FetchPage returns up to PageSize mints created strictly after since, in
// ascending creation order.
func (c *Client) FetchPage(ctx context.Context, since string) ([]inscription.Record, error) {
	var data struct {
		NFT []nftRow `json:"nft"`
	}
	vars := map[string]interface{}{"since": since, "limit": PageSize}
	if err := c.do(ctx, mintsQuery, vars, &data); err != nil {
		return nil, err
	}
	records := make([]inscription.Record, 0, len(data.NFT))
	for _, row := range data.NFT {
		r := inscription.Record{
			TokenID:          string(row.TokenID),
			AccountID:        string(row.AccountID),
			CreatedTimestamp: string(row.CreatedTimestamp),
			SerialNumber:     string(row.SerialNumber),
		}
		if row.Metadata != nil {
			r.Metadata = *row.Metadata
		}
		records = append(records, r)
	}
	return records, nil
}

// FetchAll pages through every mint after since. Each call uses the last
// returned timestamp as the new exclusive lower bound and stops at the first
// short page. Any page error aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context, since string) ([]inscription.Record, error) {
	var all []inscription.Record
	for page := 1; ; page++ {
		records, err := c.FetchPage(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("could not fetch page %d since %s: %w", page, since, err)
		}
		all = append(all, records...)
		c.log.Debug("fetched page", "page", page, "since", since, "rows", len(records))
		if len(records) < PageSize {
			return all, nil
		}
		last := records[len(records)-1].CreatedTimestamp
		if last == "" || last == since {
			return nil, fmt.Errorf("%w: pagination stalled at timestamp %q", ErrQuery, since)
		}
		since = last
	}
}

// EntityMemo returns the memo of the entity with the given encoded id.
func (c *Client) EntityMemo(ctx context.Context, id int64) (string, error) {
	var data struct {
		Entity []struct {
			Memo *string `json:"memo"`
		} `json:"entity"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.do(ctx, memoQuery, vars, &data); err != nil {
		return "", err
	}
	if len(data.Entity) == 0 {
		return "", fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if data.Entity[0].Memo == nil {
		return "", nil
	}
	return *data.Entity[0].Memo, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

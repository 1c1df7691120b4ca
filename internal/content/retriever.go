// Package content retrieves chunked inscription content from a consensus
// topic and decodes it.
package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
)

var ErrRetrieve = errors.New("could not retrieve content")

// maxPayloadSize bounds a single retrieved payload.
const maxPayloadSize = 32 << 20

// Retriever returns the full concatenated payload stored on a topic.
type Retriever interface {
	Retrieve(ctx context.Context, topicID string) ([]byte, error)
}

type httpGetter struct {
	http    *http.Client
	limiter *rate.Limiter
}

func newHTTPGetter(hc *http.Client, rps float64) httpGetter {
	if hc == nil {
		hc = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return httpGetter{http: hc, limiter: limiter}
}

func (g httpGetter) get(ctx context.Context, u string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieve, err)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieve, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRetrieve, u, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieve, err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrRetrieve, maxPayloadSize)
	}
	return data, nil
}

// CDNRetriever reads pre-assembled topic content from an inscription CDN.
type CDNRetriever struct {
	base    string
	network string
	get     httpGetter
}

func NewCDNRetriever(base, network string, hc *http.Client, rps float64) *CDNRetriever {
	return &CDNRetriever{
		base:    strings.TrimSuffix(base, "/"),
		network: network,
		get:     newHTTPGetter(hc, rps),
	}
}

func (c *CDNRetriever) Retrieve(ctx context.Context, topicID string) ([]byte, error) {
	u := c.base + "/" + url.PathEscape(topicID) + "?network=" + url.QueryEscape(c.network)
	return c.get.get(ctx, u)
}

// MirrorRetriever assembles topic content from the individual HCS-1 chunk
// messages exposed by a mirror node.
type MirrorRetriever struct {
	base string
	get  httpGetter
}

func NewMirrorRetriever(base string, hc *http.Client, rps float64) *MirrorRetriever {
	return &MirrorRetriever{
		base: strings.TrimSuffix(base, "/"),
		get:  newHTTPGetter(hc, rps),
	}
}

type topicMessages struct {
	Messages []struct {
		Message        string `json:"message"`
		SequenceNumber int64  `json:"sequence_number"`
	} `json:"messages"`
	Links struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// chunk is one HCS-1 message: an order index and a slice of the payload.
type chunk struct {
	Order   int    `json:"o"`
	Content string `json:"c"`
}

func (m *MirrorRetriever) Retrieve(ctx context.Context, topicID string) ([]byte, error) {
	next := "/api/v1/topics/" + url.PathEscape(topicID) + "/messages?limit=100&order=asc"
	var chunks []chunk
	seen := make(map[int]struct{})
	for next != "" {
		data, err := m.get.get(ctx, m.base+next)
		if err != nil {
			return nil, err
		}
		var page topicMessages
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%w: could not decode messages: %v", ErrRetrieve, err)
		}
		for _, msg := range page.Messages {
			raw, err := base64.StdEncoding.DecodeString(msg.Message)
			if err != nil {
				return nil, fmt.Errorf("%w: message %d: %v", ErrRetrieve, msg.SequenceNumber, err)
			}
			var c chunk
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("%w: message %d is not an HCS-1 chunk: %v", ErrRetrieve, msg.SequenceNumber, err)
			}
			// Resubmitted chunks keep their first occurrence.
			if _, ok := seen[c.Order]; ok {
				continue
			}
			seen[c.Order] = struct{}{}
			chunks = append(chunks, c)
		}
		prev := next
		next = ""
		if page.Links.Next != nil {
			next = *page.Links.Next
		}
		if next == prev {
			return nil, fmt.Errorf("%w: pagination stalled at %s", ErrRetrieve, next)
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: topic %s has no messages", ErrRetrieve, topicID)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Order < chunks[j].Order })
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Content)
	}
	return []byte(b.String()), nil
}

// Fetcher resolves a content locator to decoded Content.
type Fetcher struct {
	retriever Retriever
	decoder   *Decoder
}

func NewFetcher(retriever Retriever) *Fetcher {
	return &Fetcher{retriever: retriever, decoder: NewDecoder()}
}

// Fetch retrieves and decodes the content behind loc. Any error means this
// record cannot be processed; it never implies the batch should stop.
func (f *Fetcher) Fetch(ctx context.Context, loc inscription.Locator) (Content, error) {
	payload, err := f.retriever.Retrieve(ctx, loc.TopicID)
	if err != nil {
		return Content{}, err
	}
	return f.decoder.Decode(payload)
}

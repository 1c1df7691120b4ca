// Package indexer runs one indexing pass: read the checkpoint, fetch new
// mints, then resolve, verify and persist each candidate in commit order.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/content"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/integrity"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/memo"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/metrics"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/store"
)

// ErrPersist marks a datastore write that failed after all retries. It
// aborts the pass.
var ErrPersist = errors.New("could not persist inscription")

// Source fetches every mint created after a timestamp.
type Source interface {
	FetchAll(ctx context.Context, since string) ([]inscription.Record, error)
}

// MemoResolver returns nil when a topic has no usable memo.
type MemoResolver interface {
	Resolve(ctx context.Context, loc inscription.Locator) *memo.Info
}

type ContentFetcher interface {
	Fetch(ctx context.Context, loc inscription.Locator) (content.Content, error)
}

type Store interface {
	Checkpoint(ctx context.Context) (store.Checkpoint, error)
	Upsert(ctx context.Context, r inscription.Inscription) (bool, error)
}

// Indexer wires the pass collaborators together. It holds no state across
// passes; the checkpoint is read fresh every time.
type Indexer struct {
	source   Source
	resolver MemoResolver
	fetcher  ContentFetcher
	store    Store
	log      *slog.Logger

	maxRetries int
	backoff    time.Duration
}

type Option func(*Indexer)

// WithRetries sets how many times a datastore write is attempted and the
// backoff unit between attempts.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(ix *Indexer) {
		if attempts > 0 {
			ix.maxRetries = attempts
		}
		ix.backoff = backoff
	}
}

func New(source Source, resolver MemoResolver, fetcher ContentFetcher, st Store, log *slog.Logger, opts ...Option) *Indexer {
	ix := &Indexer{
		source:     source,
		resolver:   resolver,
		fetcher:    fetcher,
		store:      st,
		log:        log,
		maxRetries: 3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Summary describes one pass.
type Summary struct {
	RunID      string
	Checkpoint store.Checkpoint
	Fetched    int
	Candidates int
	Persisted  int
	Skipped    int
	// Skips collects one error per skipped record.
	Skips *multierror.Error
}

// Run executes one pass. A returned error means the pass aborted; records
// persisted before the abort stay persisted and are safe to reprocess.
func (ix *Indexer) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	log := ix.log.With("run", sum.RunID)

	cp, err := ix.store.Checkpoint(ctx)
	if err != nil {
		return sum, fmt.Errorf("could not read checkpoint: %w", err)
	}
	sum.Checkpoint = cp
	log.Info("pass started", "since", cp.Timestamp, "base", cp.Sequence)

	records, err := ix.source.FetchAll(ctx, cp.Timestamp)
	if err != nil {
		return sum, fmt.Errorf("could not fetch mints: %w", err)
	}
	sum.Fetched = len(records)

	candidates := inscription.Prepare(records)
	sum.Candidates = len(candidates)
	numbers := Assign(cp.Sequence, len(candidates))

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := ix.process(ctx, c, numbers[i])
		if err != nil {
			log.Error("pass aborted", "topic", c.Locator.TopicID, "number", numbers[i], "err", err)
			return sum, err
		}
		switch out.Status {
		case StatusPersisted:
			sum.Persisted++
			metrics.RecordsTotal.WithLabelValues("persisted").Inc()
			metrics.LastSequence.Set(float64(numbers[i]))
			log.Debug("inscription persisted", "topic", c.Locator.TopicID, "number", numbers[i])
		case StatusSkipped:
			sum.Skipped++
			sum.Skips = multierror.Append(sum.Skips, fmt.Errorf("%s: %s", c.Locator, out.Reason))
			metrics.RecordsTotal.WithLabelValues("skipped").Inc()
			metrics.SkipsTotal.WithLabelValues(out.Reason).Inc()
			log.Warn("record skipped",
				"topic", c.Locator.TopicID,
				"token", c.TokenID,
				"serial", c.SerialNumber,
				"reason", out.Reason,
				"err", out.Err,
			)
		}
	}

	log.Info("pass finished",
		"fetched", sum.Fetched,
		"candidates", sum.Candidates,
		"persisted", sum.Persisted,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

// process handles one candidate. A Skipped outcome lets the pass continue;
// a non-nil error aborts it.
func (ix *Indexer) process(ctx context.Context, c inscription.Candidate, number int64) (Outcome, error) {
	info := ix.resolver.Resolve(ctx, c.Locator)
	if info == nil {
		return skip(ReasonMemoUnavailable, nil), nil
	}
	if !integrity.Supported(*info) {
		err := fmt.Errorf("compression %q encoding %q", info.Compression, info.Encoding)
		return skip(ReasonUnsupportedScheme, err), nil
	}

	doc, err := ix.fetcher.Fetch(ctx, c.Locator)
	if errors.Is(err, content.ErrDecode) {
		return skip(ReasonDecodeFailed, err), nil
	}
	if err != nil {
		return skip(ReasonContentUnavailable, err), nil
	}

	if !integrity.Validate(*info, doc.Raw) {
		err := fmt.Errorf("memo hash %s, content hash %s", info.Hash, integrity.Digest(doc.Raw))
		return skip(ReasonIntegrityMismatch, err), nil
	}

	row := inscription.FromCandidate(c, doc.JSON, doc.Image, doc.Mimetype, number)
	written, err := ix.persistWithRetry(ctx, row)
	if err != nil {
		return Outcome{}, err
	}
	if !written {
		return skip(ReasonLocatorTaken, nil), nil
	}
	return Outcome{Status: StatusPersisted}, nil
}

// persistWithRetry tries up to maxRetries times with linear backoff.
func (ix *Indexer) persistWithRetry(ctx context.Context, row inscription.Inscription) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < ix.maxRetries; attempt++ {
		written, err := ix.store.Upsert(ctx, row)
		if err == nil {
			return written, nil
		}
		lastErr = err
		if attempt == ix.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * ix.backoff):
		}
	}
	return false, fmt.Errorf("%w after %d attempts: %v", ErrPersist, ix.maxRetries, lastErr)
}

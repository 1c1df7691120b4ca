package indexer

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/content"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/integrity"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/memo"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/store"
)

var errMock = errors.New("mock")

type fakeSource struct {
	records []inscription.Record
	err     error
	since   []string
}

func (f *fakeSource) FetchAll(_ context.Context, since string) ([]inscription.Record, error) {
	f.since = append(f.since, since)
	return f.records, f.err
}

// fakeLedger serves topic memos keyed by entity id.
type fakeLedger map[int64]string

func (f fakeLedger) EntityMemo(_ context.Context, id int64) (string, error) {
	m, ok := f[id]
	if !ok {
		return "", errMock
	}
	return m, nil
}

// fakeTopics serves content payloads keyed by topic id.
type fakeTopics struct {
	mu       sync.Mutex
	payloads map[string][]byte
	calls    []string
}

func (f *fakeTopics) Retrieve(_ context.Context, topic string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic)
	p, ok := f.payloads[topic]
	if !ok {
		return nil, content.ErrRetrieve
	}
	return p, nil
}

// fakeStore mirrors the upsert semantics of the Postgres store.
type fakeStore struct {
	checkpoint store.Checkpoint
	cpErr      error
	upsertErr  func(inscription.Inscription) error
	rows       map[string]inscription.Inscription
	writes     []inscription.Inscription
}

func newFakeStore(cp store.Checkpoint) *fakeStore {
	return &fakeStore{checkpoint: cp, rows: make(map[string]inscription.Inscription)}
}

func (f *fakeStore) Checkpoint(context.Context) (store.Checkpoint, error) {
	return f.checkpoint, f.cpErr
}

func (f *fakeStore) Upsert(_ context.Context, r inscription.Inscription) (bool, error) {
	if f.upsertErr != nil {
		if err := f.upsertErr(r); err != nil {
			return false, err
		}
	}
	if existing, ok := f.rows[r.TopicID]; ok {
		if existing.TokenID != r.TokenID || existing.SerialNumber != r.SerialNumber {
			return false, nil
		}
	}
	f.rows[r.TopicID] = r
	f.writes = append(f.writes, r)
	return true, nil
}

type fixture struct {
	source *fakeSource
	ledger fakeLedger
	topics *fakeTopics
	store  *fakeStore
}

func newFixture(cp store.Checkpoint) *fixture {
	return &fixture{
		source: &fakeSource{},
		ledger: fakeLedger{},
		topics: &fakeTopics{payloads: make(map[string][]byte)},
		store:  newFakeStore(cp),
	}
}

// inscribe publishes a valid JSON document on a topic and registers a
// record minting it.
func (f *fixture) inscribe(t *testing.T, num int64, ts, serial, doc string) {
	t.Helper()
	f.publish(t, num, doc)
	f.ledger[num] = integrity.Digest([]byte(doc)) + ":zstd:base64"
	f.mint(num, ts, serial)
}

func (f *fixture) publish(t *testing.T, num int64, doc string) {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	compressed := enc.EncodeAll([]byte(doc), nil)
	f.topics.payloads[topic(num)] = []byte("data:application/json;base64," + base64.StdEncoding.EncodeToString(compressed))
}

func (f *fixture) mint(num int64, ts, serial string) {
	f.source.records = append(f.source.records, inscription.Record{
		TokenID:          "0.0.9000",
		AccountID:        "0.0.1001",
		Metadata:         "hcs://1/" + topic(num),
		CreatedTimestamp: ts,
		SerialNumber:     serial,
	})
}

func (f *fixture) indexer(opts ...Option) *Indexer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithRetries(3, 0)}, opts...)
	return New(
		f.source,
		memo.NewResolver(f.ledger, log),
		content.NewFetcher(f.topics),
		f.store,
		log,
		opts...,
	)
}

func topic(num int64) string {
	return "0.0." + strconv.FormatInt(num, 10)
}

func TestAssign(t *testing.T) {
	assert.Equal(t, []int64{43, 44, 45}, Assign(42, 3))
	assert.Equal(t, []int64{1}, Assign(0, 1))
	assert.Empty(t, Assign(7, 0))
}

func TestIndexer_Run(t *testing.T) {

	t.Run("nominal case", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "1000", Sequence: 42})
		// Fetched out of order; ipfs record is filtered out.
		f.inscribe(t, 600, "1200", "2", `{"image":"b","type":"image/png"}`)
		f.inscribe(t, 500, "1100", "1", `{"image":"a","type":"image/jpeg"}`)
		f.source.records = append(f.source.records, inscription.Record{
			Metadata: "ipfs://xyz", CreatedTimestamp: "1150", SerialNumber: "1",
		})

		sum, err := f.indexer().Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"1000"}, f.source.since)
		assert.Equal(t, 3, sum.Fetched)
		assert.Equal(t, 2, sum.Candidates)
		assert.Equal(t, 2, sum.Persisted)
		assert.Equal(t, 0, sum.Skipped)
		assert.NotEmpty(t, sum.RunID)

		require.Len(t, f.store.writes, 2)
		assert.Equal(t, "0.0.500", f.store.writes[0].TopicID)
		assert.Equal(t, int64(43), f.store.writes[0].Number)
		assert.Equal(t, "image/jpeg", f.store.writes[0].Mimetype)
		assert.Equal(t, "0.0.600", f.store.writes[1].TopicID)
		assert.Equal(t, int64(44), f.store.writes[1].Number)
		assert.Equal(t, inscription.Protocol, f.store.writes[1].Protocol)
		assert.Equal(t, "2", f.store.writes[1].SerialNumber)
	})

	t.Run("decode failure skips only that record", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0", Sequence: 0})
		f.inscribe(t, 1, "10", "1", `{"image":"a"}`)
		f.mint(2, "20", "1")
		f.ledger[2] = integrity.Digest([]byte("x")) + ":zstd:base64"
		f.topics.payloads[topic(2)] = []byte("data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte("not zstd")))
		f.inscribe(t, 3, "30", "1", `{"image":"c"}`)

		sum, err := f.indexer().Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, sum.Persisted)
		assert.Equal(t, 1, sum.Skipped)
		require.NotNil(t, sum.Skips)
		assert.Len(t, sum.Skips.Errors, 1)
		assert.Contains(t, sum.Skips.Error(), ReasonDecodeFailed)

		// The skipped record keeps its position number; the next one is 3.
		require.Len(t, f.store.writes, 2)
		assert.Equal(t, int64(1), f.store.writes[0].Number)
		assert.Equal(t, "0.0.3", f.store.writes[1].TopicID)
		assert.Equal(t, int64(3), f.store.writes[1].Number)
	})

	t.Run("skips bad memos and hashes", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0", Sequence: 0})
		// No memo at all.
		f.publish(t, 1, `{"image":"a"}`)
		f.mint(1, "10", "1")
		// Unsupported compression, even though the digest matches.
		f.publish(t, 2, `{"image":"b"}`)
		f.ledger[2] = integrity.Digest([]byte(`{"image":"b"}`)) + ":gzip:base64"
		f.mint(2, "20", "1")
		// Digest mismatch.
		f.publish(t, 3, `{"image":"c"}`)
		f.ledger[3] = integrity.Digest([]byte("something else")) + ":zstd:base64"
		f.mint(3, "30", "1")
		// Memo present, content missing.
		f.ledger[4] = integrity.Digest([]byte("d")) + ":zstd:base64"
		f.mint(4, "40", "1")

		sum, err := f.indexer().Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, sum.Persisted)
		assert.Equal(t, 4, sum.Skipped)
		assert.Empty(t, f.store.writes)

		msg := sum.Skips.Error()
		for _, reason := range []string{ReasonMemoUnavailable, ReasonUnsupportedScheme, ReasonIntegrityMismatch, ReasonContentUnavailable} {
			assert.Contains(t, msg, reason)
		}
		// Unsupported schemes are rejected before any content is fetched.
		assert.NotContains(t, f.topics.calls, topic(2))
	})

	t.Run("rerun is idempotent", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "1000", Sequence: 42})
		f.inscribe(t, 500, "1100", "1", `{"image":"a"}`)
		f.inscribe(t, 600, "1200", "1", `{"image":"b"}`)
		ix := f.indexer()

		_, err := ix.Run(context.Background())
		require.NoError(t, err)
		_, err = ix.Run(context.Background())
		require.NoError(t, err)

		assert.Len(t, f.store.rows, 2)
		assert.Equal(t, int64(43), f.store.rows["0.0.500"].Number)
		assert.Equal(t, int64(44), f.store.rows["0.0.600"].Number)
	})

	t.Run("locator reused by a later mint", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0", Sequence: 0})
		f.inscribe(t, 7, "10", "1", `{"image":"a"}`)
		f.store.rows["0.0.7"] = inscription.Inscription{TopicID: "0.0.7", TokenID: "0.0.1", SerialNumber: "1", Number: 1}

		sum, err := f.indexer().Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Skipped)
		assert.Contains(t, sum.Skips.Error(), ReasonLocatorTaken)
		assert.Equal(t, int64(1), f.store.rows["0.0.7"].Number)
	})
}

func TestIndexer_Run_Aborts(t *testing.T) {

	t.Run("checkpoint failure", func(t *testing.T) {
		f := newFixture(store.Checkpoint{})
		f.store.cpErr = errMock

		_, err := f.indexer().Run(context.Background())
		require.ErrorIs(t, err, errMock)
		assert.Empty(t, f.source.since)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0"})
		f.source.err = errMock

		_, err := f.indexer().Run(context.Background())
		require.ErrorIs(t, err, errMock)
	})

	t.Run("persist failure stops remaining records", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0"})
		f.inscribe(t, 1, "10", "1", `{"image":"a"}`)
		f.inscribe(t, 2, "20", "1", `{"image":"b"}`)
		f.inscribe(t, 3, "30", "1", `{"image":"c"}`)
		attempts := 0
		f.store.upsertErr = func(r inscription.Inscription) error {
			if r.TopicID == "0.0.2" {
				attempts++
				return errMock
			}
			return nil
		}

		sum, err := f.indexer().Run(context.Background())
		require.ErrorIs(t, err, ErrPersist)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 1, sum.Persisted)
		require.Len(t, f.store.writes, 1)
		assert.Equal(t, "0.0.1", f.store.writes[0].TopicID)
	})

	t.Run("persist recovers within retries", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0"})
		f.inscribe(t, 1, "10", "1", `{"image":"a"}`)
		n := 0
		f.store.upsertErr = func(inscription.Inscription) error {
			n++
			if n < 3 {
				return errMock
			}
			return nil
		}

		sum, err := f.indexer().Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Persisted)
		assert.Equal(t, 3, n)
	})

	t.Run("canceled context", func(t *testing.T) {
		f := newFixture(store.Checkpoint{Timestamp: "0"})
		f.inscribe(t, 1, "10", "1", `{"image":"a"}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.indexer().Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.store.writes)
	})
}

func TestIndexer_persistWithRetry_Canceled(t *testing.T) {
	f := newFixture(store.Checkpoint{Timestamp: "0"})
	f.store.upsertErr = func(inscription.Inscription) error { return errMock }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.indexer(WithRetries(3, time.Hour)).persistWithRetry(ctx, inscription.Inscription{TopicID: "0.0.1"})
	assert.ErrorIs(t, err, context.Canceled)
}

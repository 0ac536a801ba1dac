package custody

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_FirstEventHasNoPrevious(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{Clock: fixedClock(t0)})

	e, err := r.Record(context.Background(), input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err)
	assert.Nil(t, e.PreviousSignature)
	assert.NotEmpty(t, e.ID)
	assert.Len(t, e.DigitalSignature, 64)
	assert.Equal(t, t0, e.Timestamp)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "u1@casevault.test", e.UserEmail)
	assert.Equal(t, "10.0.0.7", e.IPAddress)
}

func TestRecorder_LinksToTail(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{Clock: stepClock(t0, time.Second)})
	ctx := context.Background()

	first, err := r.Record(ctx, input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err)
	second, err := r.Record(ctx, input("c1", "abc123", ActivityAnalyzed, "u2"))
	require.NoError(t, err)

	require.NotNil(t, second.PreviousSignature)
	assert.Equal(t, first.DigitalSignature, *second.PreviousSignature)

	// A different file in the same case starts its own chain.
	other, err := r.Record(ctx, input("c1", "def456", ActivityUploaded, "u1"))
	require.NoError(t, err)
	assert.Nil(t, other.PreviousSignature)
}

func TestRecorder_SignatureIsReproducible(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{Clock: fixedClock(t0)})

	in := input("c1", "abc123", ActivityUploaded, "u1")
	in.Metadata = map[string]any{"size": 4096, "tags": []any{"a", "b"}}
	e, err := r.Record(context.Background(), in)
	require.NoError(t, err)

	chain, err := store.Chain(context.Background(), "c1", "abc123")
	require.NoError(t, err)
	require.Len(t, chain, 1)

	sig, err := SignEvent(SHA256Signer{}, chain[0])
	require.NoError(t, err)
	assert.Equal(t, e.DigitalSignature, sig)
}

func TestRecorder_MonotonicTimestamps(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{Clock: fixedClock(t0)})
	ctx := context.Background()

	a, err := r.Record(ctx, input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err)
	b, err := r.Record(ctx, input("c1", "abc123", ActivityViewed, "u1"))
	require.NoError(t, err)

	assert.Equal(t, a.Timestamp.Add(time.Microsecond), b.Timestamp)
}

func TestRecorder_ValidatesInput(t *testing.T) {
	r := NewRecorder(NewMemoryStore(), Options{})
	ctx := context.Background()

	bad := []RecordInput{
		input("", "abc123", ActivityUploaded, "u1"),
		input("c1", "", ActivityUploaded, "u1"),
		input("c1", "abc123", ActivityUploaded, ""),
		input("c1", "abc123", ActivityType("copied"), "u1"),
	}
	for _, in := range bad {
		_, err := r.Record(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}
}

func TestRecorder_EncodingErrorBeforeStore(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{})

	in := input("c1", "abc123", ActivityUploaded, "u1")
	in.Metadata = map[string]any{"bad": func() {}}
	_, err := r.Record(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsEncodingError(err))
	assert.Empty(t, store.Events())
}

func TestRecorder_SealedAfterDeletion(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{Clock: stepClock(t0, time.Second)})
	ctx := context.Background()

	_, err := r.Record(ctx, input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err)
	_, err = r.Record(ctx, input("c1", "abc123", ActivityDeleted, "u1"))
	require.NoError(t, err)

	_, err = r.Record(ctx, input("c1", "abc123", ActivityViewed, "u1"))
	assert.ErrorIs(t, err, ErrChainSealed)
	assert.Len(t, store.Events(), 2)
}

func TestRecorder_StorageErrors(t *testing.T) {
	r := NewRecorder(NewMemoryStore(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, input("c1", "abc123", ActivityUploaded, "u1"))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestRecorder_HooksRunAfterAppend(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	lock := &countingLocker{}
	m := newCountingMetrics()
	r := NewRecorder(store, Options{Publisher: pub, Locker: lock, Metrics: m})

	e, err := r.Record(context.Background(), input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err, "publish failures must not fail the record")

	require.Len(t, pub.events, 1)
	assert.Equal(t, e.ID, pub.events[0].ID)
	assert.Equal(t, []string{"c1/abc123"}, lock.keys)
	assert.Equal(t, 1, lock.unlocked)
	assert.Equal(t, 1, m.recorded[ActivityUploaded])
}

func TestRecorder_SlashInIdentifiersDoesNotShareChains(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{})
	ctx := context.Background()

	a, err := r.Record(ctx, input("case/a", "b", ActivityUploaded, "u1"))
	require.NoError(t, err)
	b, err := r.Record(ctx, input("case", "a/b", ActivityUploaded, "u1"))
	require.NoError(t, err, "a fresh pair must get its own first event")

	assert.Nil(t, a.PreviousSignature)
	assert.Nil(t, b.PreviousSignature)
	assert.NotEqual(t, ChainKey("case/a", "b"), ChainKey("case", "a/b"))
	assert.NotEqual(t, a.ChainKey(), b.ChainKey())
}

func TestRecorder_ConcurrentFirstAppend(t *testing.T) {
	assertSingleRoot(t, NewMemoryStore())
}

func TestRecorder_ConcurrentSuccessorAppend(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, Options{})
	_, err := r.Record(context.Background(), input("c1", "abc123", ActivityUploaded, "u1"))
	require.NoError(t, err)

	m := newCountingMetrics()
	racing := NewRecorder(newBarrierStore(store, 2), Options{Metrics: m})
	errs := raceRecord(racing, 2)

	assert.Equal(t, 1, countNil(errs))
	assert.Equal(t, 1, m.conflicts)
	chain, err := store.Chain(context.Background(), "c1", "abc123")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.True(t, NewVerifier(store, Options{}).VerifyEvents("c1", "abc123", chain).IsValid)
}

func assertSingleRoot(t *testing.T, store Store) {
	t.Helper()
	r := NewRecorder(newBarrierStore(store, 2), Options{})
	errs := raceRecord(r, 2)

	assert.Equal(t, 1, countNil(errs), "exactly one writer must win")
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrConcurrentAppend)
		}
	}
	chain, err := store.Chain(context.Background(), "c1", "abc123")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Nil(t, chain[0].PreviousSignature)
}

func raceRecord(r *Recorder, n int) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Record(context.Background(), input("c1", "abc123", ActivityViewed, "u1"))
		}()
	}
	wg.Wait()
	return errs
}

func countNil(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}

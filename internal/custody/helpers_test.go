package custody

import (
	"context"
	"sync"
	"time"
)

// stepClock returns start, start+step, start+2*step, ...
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func actor(id string) Actor {
	return Actor{UserID: id, Email: id + "@casevault.test", FullName: "User " + id, IPAddress: "10.0.0.7", UserAgent: "test"}
}

func input(caseID, fileHash string, activity ActivityType, userID string) RecordInput {
	return RecordInput{
		CaseID:       caseID,
		FileName:     "evidence.bin",
		FileHash:     fileHash,
		ActivityType: activity,
		Actor:        actor(userID),
	}
}

// barrierStore holds every Tail caller until n callers have read the tail,
// so concurrent writers all observe the same predecessor.
type barrierStore struct {
	Store
	wg sync.WaitGroup
}

func newBarrierStore(s Store, n int) *barrierStore {
	b := &barrierStore{Store: s}
	b.wg.Add(n)
	return b
}

func (b *barrierStore) Tail(ctx context.Context, caseID, fileHash string) (Event, bool, error) {
	e, ok, err := b.Store.Tail(ctx, caseID, fileHash)
	b.wg.Done()
	b.wg.Wait()
	return e, ok, err
}

// conflictStore fails the first n appends with ErrConcurrentAppend.
type conflictStore struct {
	Store
	mu        sync.Mutex
	remaining int
	appends   int
}

func (c *conflictStore) Append(ctx context.Context, e Event) (Event, error) {
	c.mu.Lock()
	c.appends++
	if c.remaining > 0 {
		c.remaining--
		c.mu.Unlock()
		return Event{}, ErrConcurrentAppend
	}
	c.mu.Unlock()
	return c.Store.Append(ctx, e)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type countingLocker struct {
	mu       sync.Mutex
	keys     []string
	unlocked int
}

func (l *countingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
	}, nil
}

type countingMetrics struct {
	mu            sync.Mutex
	recorded      map[ActivityType]int
	conflicts     int
	verifications map[bool]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{recorded: map[ActivityType]int{}, verifications: map[bool]int{}}
}

func (m *countingMetrics) EventRecorded(a ActivityType) {
	m.mu.Lock()
	m.recorded[a]++
	m.mu.Unlock()
}

func (m *countingMetrics) AppendConflict() {
	m.mu.Lock()
	m.conflicts++
	m.mu.Unlock()
}

func (m *countingMetrics) VerificationCompleted(valid bool, _ time.Duration) {
	m.mu.Lock()
	m.verifications[valid]++
	m.mu.Unlock()
}

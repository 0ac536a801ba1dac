package custody

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory append-only store useful for tests and local
// development. It enforces the same append-if-previous-matches rule as the
// SQL backends.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	// successors holds (case, file, previous signature) for every stored event.
	successors map[successorKey]struct{}
	clock      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{successors: map[successorKey]struct{}{}, clock: time.Now}
}

type successorKey struct {
	caseID, fileHash, prev string
}

func newSuccessorKey(caseID, fileHash string, prev *string) successorKey {
	return successorKey{caseID: caseID, fileHash: fileHash, prev: deref(prev)}
}

func (s *MemoryStore) Tail(ctx context.Context, caseID, fileHash string) (Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, false, NewStorageError("tail", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tailLocked(caseID, fileHash)
}

func (s *MemoryStore) tailLocked(caseID, fileHash string) (Event, bool, error) {
	chain := s.filter(func(e Event) bool { return e.CaseID == caseID && e.FileHash == fileHash })
	if len(chain) == 0 {
		return Event{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *MemoryStore) Append(ctx context.Context, e Event) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, NewStorageError("append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tail, ok, _ := s.tailLocked(e.CaseID, e.FileHash)
	switch {
	case !ok && e.PreviousSignature != nil:
		return Event{}, ErrConcurrentAppend
	case ok && (e.PreviousSignature == nil || *e.PreviousSignature != tail.DigitalSignature):
		return Event{}, ErrConcurrentAppend
	}
	key := newSuccessorKey(e.CaseID, e.FileHash, e.PreviousSignature)
	if _, dup := s.successors[key]; dup {
		return Event{}, ErrConcurrentAppend
	}

	e.Metadata = cloneMetadata(e.Metadata)
	e.PreviousSignature = cloneString(e.PreviousSignature)
	e.CreatedAt = s.clock().UTC()
	s.successors[key] = struct{}{}
	s.events = append(s.events, e)
	return cloneEvent(e), nil
}

func (s *MemoryStore) Chain(ctx context.Context, caseID, fileHash string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("chain", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(e Event) bool { return e.CaseID == caseID && e.FileHash == fileHash }), nil
}

func (s *MemoryStore) CaseChain(ctx context.Context, caseID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("case chain", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(e Event) bool { return e.CaseID == caseID }), nil
}

// Events returns a copy of everything stored, in insertion order.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	for i, e := range s.events {
		out[i] = cloneEvent(e)
	}
	return out
}

// filter returns matching events sorted like the SQL backends sort them.
func (s *MemoryStore) filter(match func(Event) bool) []Event {
	out := []Event{}
	for _, e := range s.events {
		if match(e) {
			out = append(out, cloneEvent(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func cloneEvent(e Event) Event {
	e.Metadata = cloneMetadata(e.Metadata)
	e.PreviousSignature = cloneString(e.PreviousSignature)
	return e
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneMetadata copies the top level only; nested values are treated as read-only.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package custody

import "context"

// Store is the persistence contract for chain-of-custody events.
//
// It is append-only: no update or delete operations exist.
type Store interface {
	// Tail returns the most recent event of the chain, or ok=false when the chain is empty.
	Tail(ctx context.Context, caseID, fileHash string) (e Event, ok bool, err error)

	// Append stores e only if e.PreviousSignature still equals the tail signature
	// (nil for the first event). Otherwise it returns ErrConcurrentAppend.
	Append(ctx context.Context, e Event) (Event, error)

	// Chain returns one file's events ascending by timestamp.
	Chain(ctx context.Context, caseID, fileHash string) ([]Event, error)

	// CaseChain returns every event of the case ascending by timestamp,
	// ties broken by creation time then ID.
	CaseChain(ctx context.Context, caseID string) ([]Event, error)
}

// TailSignature returns the digital signature of the chain's tail, or nil when
// no event exists for the pair.
func TailSignature(ctx context.Context, s Store, caseID, fileHash string) (*string, error) {
	tail, ok, err := s.Tail(ctx, caseID, fileHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	sig := tail.DigitalSignature
	return &sig, nil
}

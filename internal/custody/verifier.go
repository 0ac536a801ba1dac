package custody

import (
	"context"
	"fmt"
	"time"
)

// Verifier recomputes signatures and checks the linkage of stored chains.
// Findings are reported in the result, never as errors.
type Verifier struct {
	store   Store
	signer  Signer
	metrics Metrics
	clock   func() time.Time
}

func NewVerifier(store Store, opts Options) *Verifier {
	opts = opts.withDefaults()
	return &Verifier{store: store, signer: opts.Signer, metrics: opts.Metrics, clock: opts.Clock}
}

// Verify reads the chain of one file and verifies it.
func (v *Verifier) Verify(ctx context.Context, caseID, fileHash string) (IntegrityResult, error) {
	chain, err := v.store.Chain(ctx, caseID, fileHash)
	if err != nil {
		return IntegrityResult{}, NewStorageError("chain", err)
	}
	return v.VerifyEvents(caseID, fileHash, chain), nil
}

// VerifyEvents verifies an already-read chain snapshot, ordered by timestamp.
func (v *Verifier) VerifyEvents(caseID, fileHash string, chain []Event) IntegrityResult {
	start := time.Now()
	res := IntegrityResult{
		CaseID:      caseID,
		FileHash:    fileHash,
		Errors:      []string{},
		Violations:  []Violation{},
		TotalEvents: len(chain),
	}
	add := func(i int, e Event, kind ViolationKind, expected, actual, msg string) {
		res.Violations = append(res.Violations, Violation{
			Index:        i,
			EventID:      e.ID,
			ActivityType: e.ActivityType,
			Kind:         kind,
			Expected:     expected,
			Actual:       actual,
			Message:      msg,
		})
		res.Errors = append(res.Errors, msg)
	}

	successors := make(map[string]int, len(chain))
	deletedAt := -1
	for i, e := range chain {
		n := i + 1

		if i == 0 && e.PreviousSignature != nil {
			add(i, e, ViolationFirstEventLinked, "", *e.PreviousSignature, "first event has a previous signature")
		}
		if i > 0 {
			want := chain[i-1].DigitalSignature
			if e.PreviousSignature == nil || *e.PreviousSignature != want {
				add(i, e, ViolationBrokenLink, want, deref(e.PreviousSignature),
					fmt.Sprintf("event %d (%s) does not link to previous event", n, e.ActivityType))
			}
		}

		if sig, err := SignEvent(v.signer, e); err != nil || sig != e.DigitalSignature {
			add(i, e, ViolationSignatureMismatch, sig, e.DigitalSignature,
				fmt.Sprintf("event %d (%s) has invalid signature", n, e.ActivityType))
		}

		prev := deref(e.PreviousSignature)
		if first, dup := successors[prev]; dup {
			add(i, e, ViolationFork, "", prev,
				fmt.Sprintf("event %d (%s) shares its previous signature with event %d", n, e.ActivityType, first+1))
		} else {
			successors[prev] = i
		}

		if deletedAt >= 0 {
			add(i, e, ViolationAfterDeletion, "", "",
				fmt.Sprintf("event %d (%s) was recorded after deletion at event %d", n, e.ActivityType, deletedAt+1))
		} else if e.ActivityType == ActivityDeleted {
			deletedAt = i
		}
	}

	if len(chain) > 0 {
		res.TailSignature = chain[len(chain)-1].DigitalSignature
	}
	res.IsValid = len(res.Errors) == 0
	res.VerifiedAt = v.clock().UTC()
	v.metrics.VerificationCompleted(res.IsValid, time.Since(start))
	return res
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

package custody

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"casevault/pkg/logger"
)

// Options configures the recorder, verifier and certificate generator.
// Zero values fall back to an unkeyed SHA-256 signer, no lock, no publisher,
// no metrics and the wall clock.
type Options struct {
	Signer    Signer
	Locker    Locker
	Publisher Publisher
	Metrics   Metrics
	Clock     func() time.Time

	// AppendAttempts bounds Service.Record retries on ErrConcurrentAppend.
	AppendAttempts int
	RetryBackoff   time.Duration

	RequireCertificateEvents bool
}

func (o Options) withDefaults() Options {
	if o.Signer == nil {
		o.Signer = SHA256Signer{}
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.AppendAttempts <= 0 {
		o.AppendAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 25 * time.Millisecond
	}
	return o
}

// Service is the ledger's Go API. Transports (HTTP, CLI) stay thin adapters over it.
type Service struct {
	store     Store
	recorder  *Recorder
	verifier  *Verifier
	certs     *CertificateGenerator
	attempts  int
	backoff   time.Duration
	algorithm string
	clock     func() time.Time
}

func NewService(store Store, opts Options) *Service {
	opts = opts.withDefaults()
	v := NewVerifier(store, opts)
	return &Service{
		store:     store,
		recorder:  NewRecorder(store, opts),
		verifier:  v,
		certs:     NewCertificateGenerator(store, v, opts),
		attempts:  opts.AppendAttempts,
		backoff:   opts.RetryBackoff,
		algorithm: opts.Signer.Algorithm(),
		clock:     opts.Clock,
	}
}

// SignatureAlgorithm names the scheme events are signed with.
func (s *Service) SignatureAlgorithm() string { return s.algorithm }

// Record appends an event, retrying the whole operation (tail read, sign,
// append) when another writer won the race for the same chain.
func (s *Service) Record(ctx context.Context, in RecordInput) (Event, error) {
	backoff := s.backoff
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		var e Event
		e, err = s.recorder.Record(ctx, in)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrConcurrentAppend) || attempt == s.attempts {
			break
		}
		logger.From(ctx).Debug("custody append conflict, retrying",
			"case_id", in.CaseID,
			"file_hash", in.FileHash,
			"attempt", attempt,
			"backoff", backoff.String(),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return Event{}, NewStorageError("append", ctx.Err())
		case <-t.C:
		}
		backoff *= 2
	}
	return Event{}, err
}

func (s *Service) Verify(ctx context.Context, caseID, fileHash string) (IntegrityResult, error) {
	res, err := s.verifier.Verify(ctx, caseID, fileHash)
	if err != nil {
		return IntegrityResult{}, err
	}
	if !res.IsValid {
		logger.From(ctx).Warn("custody chain failed verification",
			"case_id", caseID,
			"file_hash", fileHash,
			"violations", len(res.Violations),
		)
	}
	return res, nil
}

// VerifyCase verifies every file chain of a case from a single CaseChain
// snapshot. Files are ordered by file hash.
func (s *Service) VerifyCase(ctx context.Context, caseID string) (CaseIntegrity, error) {
	events, err := s.store.CaseChain(ctx, caseID)
	if err != nil {
		return CaseIntegrity{}, NewStorageError("case chain", err)
	}

	byFile := map[string][]Event{}
	for _, e := range events {
		byFile[e.FileHash] = append(byFile[e.FileHash], e)
	}
	hashes := make([]string, 0, len(byFile))
	for h := range byFile {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	out := CaseIntegrity{CaseID: caseID, IsValid: true, Files: make([]IntegrityResult, len(hashes))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, h := range hashes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out.Files[i] = s.verifier.VerifyEvents(caseID, h, byFile[h])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CaseIntegrity{}, NewStorageError("verify case", err)
	}
	for _, f := range out.Files {
		if !f.IsValid {
			out.IsValid = false
		}
	}
	out.VerifiedAt = s.clock().UTC()
	return out, nil
}

func (s *Service) FileChain(ctx context.Context, caseID, fileHash string) ([]Event, error) {
	chain, err := s.store.Chain(ctx, caseID, fileHash)
	if err != nil {
		return nil, NewStorageError("chain", err)
	}
	return chain, nil
}

func (s *Service) CaseChain(ctx context.Context, caseID string) ([]Event, error) {
	events, err := s.store.CaseChain(ctx, caseID)
	if err != nil {
		return nil, NewStorageError("case chain", err)
	}
	return events, nil
}

func (s *Service) GenerateCertificate(ctx context.Context, req CertificateRequest) (Certificate, error) {
	return s.certs.Generate(ctx, req)
}

func (s *Service) CaseActivityStats(ctx context.Context, caseID string) (ActivityStats, error) {
	events, err := s.CaseChain(ctx, caseID)
	if err != nil {
		return ActivityStats{}, err
	}
	return ComputeActivityStats(caseID, events), nil
}

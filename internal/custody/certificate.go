package custody

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// CertificateGenerator produces point-in-time attestations of a chain.
type CertificateGenerator struct {
	store         Store
	verifier      *Verifier
	algorithm     string
	requireEvents bool
	clock         func() time.Time
}

func NewCertificateGenerator(store Store, verifier *Verifier, opts Options) *CertificateGenerator {
	opts = opts.withDefaults()
	return &CertificateGenerator{
		store:         store,
		verifier:      verifier,
		algorithm:     opts.Signer.Algorithm(),
		requireEvents: opts.RequireCertificateEvents,
		clock:         opts.Clock,
	}
}

// Generate reads the chain once and attests to exactly that snapshot.
func (g *CertificateGenerator) Generate(ctx context.Context, req CertificateRequest) (Certificate, error) {
	if strings.TrimSpace(req.CaseID) == "" || strings.TrimSpace(req.FileHash) == "" {
		return Certificate{}, ErrInvalidEvent
	}
	chain, err := g.store.Chain(ctx, req.CaseID, req.FileHash)
	if err != nil {
		return Certificate{}, NewStorageError("chain", err)
	}
	if len(chain) == 0 && g.requireEvents {
		return Certificate{}, ErrEmptyChain
	}

	by := req.GeneratedBy
	if strings.TrimSpace(by) == "" {
		by = "unknown"
	}
	fileName := req.FileName
	if fileName == "" && len(chain) > 0 {
		fileName = chain[len(chain)-1].FileName
	}

	return Certificate{
		CaseID:             req.CaseID,
		CaseNumber:         req.CaseNumber,
		FileName:           fileName,
		FileHash:           req.FileHash,
		SignatureAlgorithm: g.algorithm,
		Chain:              chain,
		Integrity:          g.verifier.VerifyEvents(req.CaseID, req.FileHash, chain),
		GeneratedAt:        g.clock().UTC(),
		GeneratedBy:        by,
	}, nil
}

// ExportChainJSON renders a chain as indented JSON for download or archiving.
func ExportChainJSON(chain []Event) ([]byte, error) {
	if chain == nil {
		chain = []Event{}
	}
	return json.MarshalIndent(chain, "", "  ")
}

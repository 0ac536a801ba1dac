package custody

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificate_AttestsChainSnapshot(t *testing.T) {
	store, chain := buildChain(t, Options{}, ActivityUploaded, ActivityAnalyzed)
	generatedAt := t0.Add(time.Hour)
	opts := Options{Clock: fixedClock(generatedAt)}
	g := NewCertificateGenerator(store, NewVerifier(store, opts), opts)

	cert, err := g.Generate(context.Background(), CertificateRequest{
		CaseID:      "c1",
		FileHash:    "abc123",
		CaseNumber:  "CV-2024-001",
		GeneratedBy: "auditor@casevault.test",
	})
	require.NoError(t, err)

	assert.Equal(t, "CV-2024-001", cert.CaseNumber)
	assert.Equal(t, "evidence.bin", cert.FileName, "file name falls back to the chain")
	assert.Equal(t, AlgorithmSHA256, cert.SignatureAlgorithm)
	assert.Equal(t, generatedAt, cert.GeneratedAt)
	assert.Equal(t, chain, cert.Chain)
	assert.True(t, cert.Integrity.IsValid)
	assert.Equal(t, len(cert.Chain), cert.Integrity.TotalEvents)
	assert.Equal(t, cert.Chain[len(cert.Chain)-1].DigitalSignature, cert.Integrity.TailSignature)
}

func TestCertificate_EmptyChain(t *testing.T) {
	store := NewMemoryStore()
	g := NewCertificateGenerator(store, NewVerifier(store, Options{}), Options{})

	cert, err := g.Generate(context.Background(), CertificateRequest{CaseID: "c1", FileHash: "none"})
	require.NoError(t, err)
	assert.True(t, cert.Integrity.IsValid)
	assert.Empty(t, cert.Chain)
	assert.Equal(t, "unknown", cert.GeneratedBy)

	strict := NewCertificateGenerator(store, NewVerifier(store, Options{}), Options{RequireCertificateEvents: true})
	_, err = strict.Generate(context.Background(), CertificateRequest{CaseID: "c1", FileHash: "none"})
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestCertificate_RequiresIdentifiers(t *testing.T) {
	store := NewMemoryStore()
	g := NewCertificateGenerator(store, NewVerifier(store, Options{}), Options{})
	_, err := g.Generate(context.Background(), CertificateRequest{CaseID: "c1"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestCertificate_RecordsKeyedAlgorithm(t *testing.T) {
	opts := Options{Signer: NewHMACSigner([]byte("k"))}
	store, _ := buildChain(t, opts, ActivityUploaded)
	g := NewCertificateGenerator(store, NewVerifier(store, opts), opts)

	cert, err := g.Generate(context.Background(), CertificateRequest{CaseID: "c1", FileHash: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHMACSHA256, cert.SignatureAlgorithm)
	assert.True(t, cert.Integrity.IsValid)
}

func TestExportChainJSON(t *testing.T) {
	_, chain := buildChain(t, Options{}, ActivityUploaded, ActivityViewed)

	b, err := ExportChainJSON(chain)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "[\n  {"))

	var back []Event
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back, 2)
	assert.Equal(t, chain[1].DigitalSignature, back[1].DigitalSignature)

	empty, err := ExportChainJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

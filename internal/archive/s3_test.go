package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/custody"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, f.err
}

func cert() custody.Certificate {
	return custody.Certificate{
		CaseID:      "case/7",
		FileHash:    "abc123",
		GeneratedAt: time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC),
		GeneratedBy: "auditor",
		Integrity:   custody.IntegrityResult{IsValid: true},
	}
}

func TestArchive_ContentAddressedKey(t *testing.T) {
	f := &fakeS3{}
	a := newArchiver(f, "evidence", "/prod/")

	r, err := a.Archive(context.Background(), cert())
	require.NoError(t, err)
	require.Len(t, f.inputs, 1)

	sum := sha256.Sum256(f.bodies[0])
	assert.Equal(t, hex.EncodeToString(sum[:]), r.SHA256)
	assert.Equal(t, "prod/certificates/case%2F7/abc123/20240203T040506.000007Z-"+r.SHA256+".json", r.Key)
	assert.Equal(t, r.Key, aws.ToString(f.inputs[0].Key))
	assert.Equal(t, "evidence", aws.ToString(f.inputs[0].Bucket))
	assert.Equal(t, "*", aws.ToString(f.inputs[0].IfNoneMatch))
	assert.Equal(t, "true", f.inputs[0].Metadata["is-valid"])
}

func TestArchive_UploadError(t *testing.T) {
	a := newArchiver(&fakeS3{err: errors.New("access denied")}, "b", "")
	_, err := a.Archive(context.Background(), cert())
	assert.ErrorContains(t, err, "access denied")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

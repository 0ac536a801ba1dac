package custody

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// EncodingVersion prefixes every canonical record so the format can evolve
// without old signatures becoming ambiguous.
const EncodingVersion = "casevault/coc/v1"

// MaxMetadataBytes bounds the canonical metadata size of one event.
const MaxMetadataBytes = 64 << 10

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): every item is
// length-prefixed and map keys are sorted, so the same field values always
// produce the same bytes and no field value can spill into its neighbour.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("custody: CBOR encoder initialization failed: " + err.Error())
	}
}

// canonicalRecord fixes the field order of the signed encoding.
type canonicalRecord struct {
	_ struct{} `cbor:",toarray"`

	Version           string
	CaseID            string
	FileName          string
	FileHash          string
	ActivityType      string
	UserID            string
	Timestamp         string
	PreviousSignature string
	Metadata          []byte
}

// Encode returns the canonical byte encoding of the event's signed fields:
// caseId, fileName, fileHash, activityType, userId, timestamp,
// previousSignature ("" when nil) and canonical metadata JSON.
//
// Actor display fields (email, full name, IP, user agent), ID and CreatedAt are
// not part of the signed record.
func Encode(e Event) ([]byte, error) {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	prev := ""
	if e.PreviousSignature != nil {
		prev = *e.PreviousSignature
	}
	rec := canonicalRecord{
		Version:           EncodingVersion,
		CaseID:            e.CaseID,
		FileName:          e.FileName,
		FileHash:          e.FileHash,
		ActivityType:      string(e.ActivityType),
		UserID:            e.UserID,
		Timestamp:         FormatTimestamp(e.Timestamp),
		PreviousSignature: prev,
		Metadata:          meta,
	}
	b, err := encMode.Marshal(rec)
	if err != nil {
		return nil, &EncodingError{Field: "record", Err: err}
	}
	return b, nil
}

// CanonicalMetadata serialises metadata to canonical JSON.
//
// encoding/json sorts map keys at every depth. Re-decoding with UseNumber and
// marshalling again makes the output a fixpoint: the bytes computed from the
// caller's map at record time equal the bytes computed from the stored JSON at
// verify time, whatever Go types the caller used for numbers.
func CanonicalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	first, err := json.Marshal(m)
	if err != nil {
		return nil, &EncodingError{Field: "metadata", Err: err}
	}
	decoded, err := DecodeMetadata(first)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return nil, &EncodingError{Field: "metadata", Err: err}
	}
	if len(out) > MaxMetadataBytes {
		return nil, &EncodingError{Field: "metadata", Err: fmt.Errorf("%d bytes exceeds limit of %d", len(out), MaxMetadataBytes)}
	}
	return out, nil
}

// NormalizeMetadata returns the canonical JSON and the map a store will hand
// back after a round trip. Recorded events carry the normalised map.
func NormalizeMetadata(m map[string]any) (map[string]any, []byte, error) {
	raw, err := CanonicalMetadata(m)
	if err != nil {
		return nil, nil, err
	}
	norm, err := DecodeMetadata(raw)
	if err != nil {
		return nil, nil, err
	}
	return norm, raw, nil
}

// DecodeMetadata parses stored metadata JSON, keeping numbers as json.Number so
// their textual form survives re-encoding.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, &EncodingError{Field: "metadata", Err: err}
	}
	if dec.More() {
		return nil, &EncodingError{Field: "metadata", Err: errors.New("trailing data after JSON object")}
	}
	return out, nil
}

// NormalizeTimestamp truncates to microseconds in UTC, the precision every
// backend preserves.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTimestamp is the signed textual form of an event time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

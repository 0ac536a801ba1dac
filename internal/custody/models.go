package custody

import (
	"net/url"
	"time"
)

// Event is one immutable chain-of-custody record for an evidence file within a case.
//
// Invariants:
// - For a fixed (CaseID, FileHash), events ordered by Timestamp form a singly linked
//   list via PreviousSignature -> DigitalSignature.
// - The first event of a pair has a nil PreviousSignature.
// - DigitalSignature is computed once at record time and never updated.
//
// Storage recommendation:
// - Table chain_of_custody, INSERT-only (triggers reject UPDATE/DELETE).
// - Index (case_id, file_hash, occurred_at) for chain reads and tail lookups.
// - Unique (case_id, file_hash, COALESCE(previous_signature, '')) to prevent forks.
type Event struct {
	ID       string `json:"id" yaml:"id" db:"id"`
	CaseID   string `json:"case_id" yaml:"case_id" db:"case_id"`
	FileName string `json:"file_name" yaml:"file_name" db:"file_name"`
	// FileHash is the content hash of the evidence file and the chain's partition key.
	FileHash string `json:"file_hash" yaml:"file_hash" db:"file_hash"`

	ActivityType ActivityType `json:"activity_type" yaml:"activity_type" db:"activity_type"`

	UserID       string `json:"user_id" yaml:"user_id" db:"user_id"`
	UserEmail    string `json:"user_email" yaml:"user_email" db:"user_email"`
	UserFullName string `json:"user_full_name" yaml:"user_full_name" db:"user_full_name"`
	IPAddress    string `json:"ip_address,omitempty" yaml:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" db:"user_agent"`

	// Metadata is opaque to the ledger. It is signed in canonical JSON form.
	Metadata map[string]any `json:"metadata" yaml:"metadata" db:"metadata"`

	DigitalSignature  string  `json:"digital_signature" yaml:"digital_signature" db:"digital_signature"`
	PreviousSignature *string `json:"previous_signature" yaml:"previous_signature" db:"previous_signature"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp" db:"occurred_at"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" db:"created_at"`
}

// ChainKey returns the partition key of the event's chain.
func (e Event) ChainKey() string { return ChainKey(e.CaseID, e.FileHash) }

// ChainKey identifies the chain of one evidence file within one case. Both parts
// are path-escaped, so a "/" inside either one cannot make two chains share a key.
func ChainKey(caseID, fileHash string) string {
	return url.PathEscape(caseID) + "/" + url.PathEscape(fileHash)
}

type ActivityType string

const (
	ActivityUploaded ActivityType = "uploaded"
	ActivityAnalyzed ActivityType = "analyzed"
	ActivityViewed   ActivityType = "viewed"
	ActivityExported ActivityType = "exported"
	ActivityTagged   ActivityType = "tagged"
	ActivityModified ActivityType = "modified"
	// ActivityDeleted is terminal: nothing may be recorded after it.
	ActivityDeleted ActivityType = "deleted"
)

// ActivityTypes lists the closed set in display order.
var ActivityTypes = []ActivityType{
	ActivityUploaded,
	ActivityAnalyzed,
	ActivityViewed,
	ActivityExported,
	ActivityTagged,
	ActivityModified,
	ActivityDeleted,
}

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityUploaded, ActivityAnalyzed, ActivityViewed, ActivityExported,
		ActivityTagged, ActivityModified, ActivityDeleted:
		return true
	default:
		return false
	}
}

// Actor describes who performed the activity. The caller captures it from its own
// request context (auth claims, client IP, user agent) before calling Record.
type Actor struct {
	UserID    string `json:"user_id" yaml:"user_id"`
	Email     string `json:"email" yaml:"email"`
	FullName  string `json:"full_name" yaml:"full_name"`
	IPAddress string `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// RecordInput is everything the recorder needs to append one event.
type RecordInput struct {
	CaseID       string
	FileName     string
	FileHash     string
	ActivityType ActivityType
	Actor        Actor
	Metadata     map[string]any
}

// ViolationKind classifies an integrity finding.
type ViolationKind string

const (
	ViolationFirstEventLinked  ViolationKind = "first_event_linked"
	ViolationBrokenLink        ViolationKind = "broken_link"
	ViolationSignatureMismatch ViolationKind = "signature_mismatch"
	ViolationFork              ViolationKind = "fork"
	ViolationAfterDeletion     ViolationKind = "after_deletion"
)

// Violation is the structured form of one entry in IntegrityResult.Errors.
type Violation struct {
	Index        int           `json:"index" yaml:"index"`
	EventID      string        `json:"event_id" yaml:"event_id"`
	ActivityType ActivityType  `json:"activity_type" yaml:"activity_type"`
	Kind         ViolationKind `json:"kind" yaml:"kind"`
	Expected     string        `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual       string        `json:"actual,omitempty" yaml:"actual,omitempty"`
	Message      string        `json:"message" yaml:"message"`
}

// IntegrityResult is the verification output for one (CaseID, FileHash) chain.
// IsValid is true iff Errors is empty. It is never persisted.
type IntegrityResult struct {
	CaseID        string      `json:"case_id" yaml:"case_id"`
	FileHash      string      `json:"file_hash" yaml:"file_hash"`
	IsValid       bool        `json:"is_valid" yaml:"is_valid"`
	Errors        []string    `json:"errors" yaml:"errors"`
	Violations    []Violation `json:"violations" yaml:"violations"`
	TotalEvents   int         `json:"total_events" yaml:"total_events"`
	TailSignature string      `json:"tail_signature,omitempty" yaml:"tail_signature,omitempty"`
	VerifiedAt    time.Time   `json:"verified_at" yaml:"verified_at"`
}

// CaseIntegrity aggregates per-file results for a whole case.
type CaseIntegrity struct {
	CaseID     string            `json:"case_id" yaml:"case_id"`
	IsValid    bool              `json:"is_valid" yaml:"is_valid"`
	Files      []IntegrityResult `json:"files" yaml:"files"`
	VerifiedAt time.Time         `json:"verified_at" yaml:"verified_at"`
}

// Certificate is an attestation snapshot: one chain plus its verification result.
// Each generation is a fresh value; certificates are never stored as mutable entities.
type Certificate struct {
	CaseID             string          `json:"case_id" yaml:"case_id"`
	CaseNumber         string          `json:"case_number" yaml:"case_number"`
	FileName           string          `json:"file_name" yaml:"file_name"`
	FileHash           string          `json:"file_hash" yaml:"file_hash"`
	SignatureAlgorithm string          `json:"signature_algorithm" yaml:"signature_algorithm"`
	Chain              []Event         `json:"chain" yaml:"chain"`
	Integrity          IntegrityResult `json:"integrity" yaml:"integrity"`
	GeneratedAt        time.Time       `json:"generated_at" yaml:"generated_at"`
	GeneratedBy        string          `json:"generated_by" yaml:"generated_by"`
}

// CertificateRequest names the chain to attest and who asked for it.
type CertificateRequest struct {
	CaseID      string
	FileHash    string
	CaseNumber  string
	FileName    string
	GeneratedBy string
}

// ActivityStats summarises a case's ledger activity.
type ActivityStats struct {
	CaseID       string               `json:"case_id" yaml:"case_id"`
	TotalEvents  int                  `json:"total_events" yaml:"total_events"`
	EventsByType map[ActivityType]int `json:"events_by_type" yaml:"events_by_type"`
	UniqueFiles  int                  `json:"unique_files" yaml:"unique_files"`
	UniqueUsers  int                  `json:"unique_users" yaml:"unique_users"`
}

package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casevault/pkg/logger"
)

// Locker serialises writers of one chain. Implementations live in internal/chainlock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Publisher receives every event after it has been committed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Metrics observes ledger activity. internal/metrics provides the Prometheus implementation.
type Metrics interface {
	EventRecorded(activity ActivityType)
	AppendConflict()
	VerificationCompleted(valid bool, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) EventRecorded(ActivityType)                {}
func (nopMetrics) AppendConflict()                           {}
func (nopMetrics) VerificationCompleted(bool, time.Duration) {}

// Recorder appends signed events to a chain.
//
// A single Record call never retries; Service.Record retries the whole
// operation on ErrConcurrentAppend.
type Recorder struct {
	store     Store
	signer    Signer
	locker    Locker
	publisher Publisher
	metrics   Metrics
	clock     func() time.Time
	newID     func() string
}

func NewRecorder(store Store, opts Options) *Recorder {
	opts = opts.withDefaults()
	return &Recorder{
		store:     store,
		signer:    opts.Signer,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		newID:     uuid.NewString,
	}
}

func validateInput(in RecordInput) error {
	switch {
	case strings.TrimSpace(in.CaseID) == "":
		return fmt.Errorf("%w: case_id is required", ErrInvalidEvent)
	case strings.TrimSpace(in.FileHash) == "":
		return fmt.Errorf("%w: file_hash is required", ErrInvalidEvent)
	case strings.TrimSpace(in.Actor.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	case !in.ActivityType.Valid():
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidEvent, in.ActivityType)
	}
	return nil
}

// Record appends one event to the (CaseID, FileHash) chain and returns it as stored.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (Event, error) {
	if r.store == nil {
		return Event{}, errors.New("custody: store not configured")
	}
	if err := validateInput(in); err != nil {
		return Event{}, err
	}
	meta, _, err := NormalizeMetadata(in.Metadata)
	if err != nil {
		return Event{}, err
	}

	stored, err := r.appendLocked(ctx, in, meta)
	if err != nil {
		if errors.Is(err, ErrConcurrentAppend) {
			r.metrics.AppendConflict()
		}
		return Event{}, err
	}

	r.metrics.EventRecorded(stored.ActivityType)
	if r.publisher != nil {
		// The append has committed; a cancelled request must not drop the notification.
		if perr := r.publisher.Publish(context.WithoutCancel(ctx), stored); perr != nil {
			logger.From(ctx).Warn("custody event publish failed",
				"case_id", stored.CaseID,
				"file_hash", stored.FileHash,
				"event_id", stored.ID,
				"error", perr.Error(),
			)
		}
	}
	return stored, nil
}

func (r *Recorder) appendLocked(ctx context.Context, in RecordInput, meta map[string]any) (Event, error) {
	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, ChainKey(in.CaseID, in.FileHash))
		if err != nil {
			return Event{}, NewStorageError("lock", err)
		}
		defer unlock()
	}

	tail, ok, err := r.store.Tail(ctx, in.CaseID, in.FileHash)
	if err != nil {
		return Event{}, NewStorageError("tail", err)
	}

	ts := NormalizeTimestamp(r.clock())
	var prev *string
	if ok {
		if tail.ActivityType == ActivityDeleted {
			return Event{}, ErrChainSealed
		}
		sig := tail.DigitalSignature
		prev = &sig
		// Chain order is timestamp order, so a new event must sort after the tail
		// even when the clock is coarse or has stepped backwards.
		if last := NormalizeTimestamp(tail.Timestamp); !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}

	e := Event{
		ID:                r.newID(),
		CaseID:            in.CaseID,
		FileName:          in.FileName,
		FileHash:          in.FileHash,
		ActivityType:      in.ActivityType,
		UserID:            in.Actor.UserID,
		UserEmail:         in.Actor.Email,
		UserFullName:      in.Actor.FullName,
		IPAddress:         in.Actor.IPAddress,
		UserAgent:         in.Actor.UserAgent,
		Metadata:          meta,
		PreviousSignature: prev,
		Timestamp:         ts,
	}
	sig, err := SignEvent(r.signer, e)
	if err != nil {
		return Event{}, err
	}
	e.DigitalSignature = sig

	stored, err := r.store.Append(ctx, e)
	if err != nil {
		return Event{}, NewStorageError("append", err)
	}
	return stored, nil
}

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// IngestRequest is the thin receiving endpoint's hand-off: verbatim bytes
// plus the delivery headers, nothing parsed beyond the envelope identifiers.
type IngestRequest struct {
	EventID     string
	PayloadType string
	Body        []byte
	Headers     map[string]string
}

// ListQuery filters the ledger for the operator surface.
type ListQuery struct {
	AccountID string
	Status    Status
	Type      Type
	Limit     int
	Offset    int
}

// Queue hands a ledger row id to the worker pool. Enqueue must never block;
// a false return means the row stays in status new for the recovery sweep.
type Queue interface {
	Enqueue(id snowflake.ID) bool
}

type Service interface {
	// Ingest persists the ledger row with status new and enqueues it. It
	// never surfaces pipeline errors; the delivery endpoint must stay
	// reliable so the processor does not disable it.
	Ingest(ctx context.Context, req IngestRequest) (*StripeEvent, error)

	// Process runs the full pipeline for one ledger row. A row already
	// picked up by another worker is skipped without error.
	Process(ctx context.Context, id snowflake.ID) error

	// Replay clones a stored event into a fresh ledger row that skips
	// signature verification, then enqueues it.
	Replay(ctx context.Context, id snowflake.ID) (*StripeEvent, error)

	Get(ctx context.Context, id snowflake.ID) (*StripeEvent, error)
	List(ctx context.Context, q ListQuery) ([]StripeEvent, error)

	// RecoverStranded re-enqueues rows stuck in status new, typically after
	// a crash or a full queue, and releases pending claims whose worker
	// died mid-flight. Returns how many were picked up.
	RecoverStranded(ctx context.Context) (int, error)
}

var (
	ErrEventNotFound  = errors.New("event_not_found")
	ErrMissingEventID = errors.New("missing_event_id")
	ErrNotReplayable  = errors.New("event_not_replayable")
)

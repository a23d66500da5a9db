package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/volatiletech/null/v8"
)

// ErrAuditWrite indicates an audit append could not be durably recorded.
// More severe than a transport error: a send whose audit entry is missing
// must not be claimed as sent.
var ErrAuditWrite = errors.New("audit append failed")

// Entry is the durable, append-only projection of one Outcome, tagged with
// its cycle. Written once, never updated or deleted here; retention is an
// external concern.
type Entry struct {
	ID        int64       `json:"id" db:"id"`
	CycleID   string      `json:"cycle_id" db:"cycle_id"`
	UserID    string      `json:"user_id" db:"user_id"`
	Recipient string      `json:"recipient" db:"recipient"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
	Status    Status      `json:"status" db:"status"`
	Reason    null.String `json:"reason,omitempty" db:"reason"`
}

// AuditLog records dispatch attempts for compliance and debugging.
// Record must be durable before it returns; concurrent appends must not
// interleave or corrupt entries.
type AuditLog interface {
	Record(ctx context.Context, cycleID string, outcome Outcome) error
	// Recent returns all entries for a cycle, oldest first. Read failures
	// are surfaced, never silently returned as empty.
	Recent(ctx context.Context, cycleID string) ([]Entry, error)
	// CountSince reports how many notices were recorded at or after the
	// given instant, across cycles.
	CountSince(ctx context.Context, since time.Time) (int, error)
}

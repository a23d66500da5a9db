package dummydb

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/preston-56/lms-backend/core/monitor"
)

type auditLog struct {
	db *auditTable

	// FailRecord, when set, makes every append fail; used to exercise the
	// audit-write error path.
	FailRecord error
}

var _ monitor.AuditLog = (*auditLog)(nil) // interface compliance check

func NewAuditLog(db *DB) *auditLog {
	return &auditLog{db: db.audit}
}

func (l *auditLog) Record(_ context.Context, cycleID string, out monitor.Outcome) error {
	if l.FailRecord != nil {
		return l.FailRecord
	}
	l.db.Lock()
	defer l.db.Unlock()

	l.db.lastID++
	l.db.entries = append(l.db.entries, monitor.Entry{
		ID:        l.db.lastID,
		CycleID:   cycleID,
		UserID:    out.UserID,
		Recipient: out.Recipient,
		Timestamp: out.AttemptedAt,
		Status:    out.Status,
		Reason:    null.NewString(out.Reason, out.Reason != ""),
	})
	return nil
}

func (l *auditLog) Recent(_ context.Context, cycleID string) ([]monitor.Entry, error) {
	l.db.RLock()
	defer l.db.RUnlock()

	var entries []monitor.Entry
	for _, e := range l.db.entries {
		if e.CycleID == cycleID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (l *auditLog) CountSince(_ context.Context, since time.Time) (int, error) {
	l.db.RLock()
	defer l.db.RUnlock()

	var count int
	for _, e := range l.db.entries {
		if !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

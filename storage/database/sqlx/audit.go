package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/preston-56/lms-backend/core/monitor"
)

const auditTable = "audit_entry"

type auditRepository struct {
	db *sqlx.DB
}

var _ monitor.AuditLog = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *sqlx.DB) *auditRepository {
	return &auditRepository{db: db}
}

// Record appends one entry. The INSERT commits before return, so the entry
// is durable once this succeeds; there is no buffering to lose on crash.
func (repo auditRepository) Record(ctx context.Context, cycleID string, out monitor.Outcome) error {
	query, args, err := psql.Insert(auditTable).
		Columns("cycle_id", "user_id", "recipient", "timestamp", "status", "reason").
		Values(cycleID, out.UserID, out.Recipient, out.AttemptedAt.UTC(), out.Status, null.NewString(out.Reason, out.Reason != "")).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building audit insert")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(monitor.ErrAuditWrite, "inserting audit entry: %v", err)
	}
	return nil
}

func (repo auditRepository) Recent(ctx context.Context, cycleID string) ([]monitor.Entry, error) {
	query, args, err := psql.Select("id", "cycle_id", "user_id", "recipient", "timestamp", "status", "reason").
		From(auditTable).
		Where(sq.Eq{"cycle_id": cycleID}).
		OrderBy("timestamp ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building audit query")
	}
	var entries []monitor.Entry
	if err = repo.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying audit entries")
	}
	return entries, nil
}

func (repo auditRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From(auditTable).
		Where(sq.GtOrEq{"timestamp": since.UTC()}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building audit count query")
	}
	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting audit entries")
	}
	return count, nil
}

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/user"
)

// State of a scan cycle. FAILED is reachable from FETCHING only: once the
// candidate set exists, failures are per-recipient and never cycle-fatal.
type State string

const (
	StateStart       State = "START"
	StateFetching    State = "FETCHING"
	StateClassifying State = "CLASSIFYING"
	StateDispatching State = "DISPATCHING"
	StateReporting   State = "REPORTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

var ErrInvalidThreshold = errors.New("inactivity threshold must be positive")

// ActivityStore is the read interface the monitor scans. The user store
// owns and mutates the records; the monitor only reads them.
type ActivityStore interface {
	QueryStudents(ctx context.Context) ([]user.User, error)
	QueryAll(ctx context.Context) ([]user.User, error)
}

// Notifier is implemented by stores that can stamp a user's last
// notification time. When the cycle's store implements it, each
// successful send is stamped; a stamp failure is a warning only, the
// audit log remains the source of truth.
type Notifier interface {
	SetLastNotified(ctx context.Context, id string, at time.Time) error
}

// Result is a cycle's return value for external consumption.
type Result struct {
	CycleID  string
	State    State
	Report   Report
	JSONPath string
	TextPath string
	Warnings []string
}

// Runner executes scan cycles. One cycle per invocation; recurrence is the
// external trigger's responsibility (cron, systemd timer, the daemon app's
// ticker).
type Runner struct {
	conf       *core.Config
	logger     core.Logger
	store      ActivityStore
	audit      AuditLog
	dispatcher *Dispatcher
	reports    *ReportWriter

	// Now is the cycle's time source; swap in tests.
	Now func() time.Time
}

func NewRunner(conf *core.Config, logger core.Logger, store ActivityStore, mailSvc core.EmailService, audit AuditLog) *Runner {
	return &Runner{
		conf:       conf,
		logger:     logger,
		store:      store,
		audit:      audit,
		dispatcher: NewDispatcher(conf, mailSvc),
		reports:    NewReportWriter(conf.Monitor.ReportDir),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reports exposes the runner's report store for diagnostics surfaces.
func (r *Runner) Reports() *ReportWriter { return r.reports }

// Run executes one cycle: fetch -> classify -> dispatch -> audit -> report.
//
// A store failure during fetch aborts the whole cycle: no report, no audit
// entries. From then on each candidate's outcome is independent. Dispatches
// already in flight when ctx is cancelled are allowed to finish (and are
// audited); no new candidate begins dispatch after cancellation.
func (r *Runner) Run(ctx context.Context, threshold time.Duration) (Result, error) {
	if threshold <= 0 {
		return Result{State: StateFailed}, ErrInvalidThreshold
	}

	res := Result{CycleID: uuid.New().String(), State: StateStart}
	r.logger.Info(fmt.Sprintf("cycle %s: scanning with threshold %v", res.CycleID, threshold))

	// FETCHING
	res.State = StateFetching
	start := r.Now()
	students, err := r.store.QueryStudents(ctx)
	if err != nil {
		res.State = StateFailed
		return res, errors.Wrap(err, "fetching students")
	}

	// CLASSIFYING; dedup by user ID so a duplicate store row can never
	// cause a double dispatch within the cycle
	res.State = StateClassifying
	now := r.Now()
	seen := make(map[string]bool, len(students))
	var cands []Candidate
	for _, usr := range students {
		if seen[usr.ID] {
			continue
		}
		seen[usr.ID] = true
		if cand, ok := Classify(usr, threshold, now); ok {
			cands = append(cands, cand)
		}
	}
	r.logger.Info(fmt.Sprintf("cycle %s: %d/%d students classified inactive", res.CycleID, len(cands), len(students)))

	// DISPATCHING: per-candidate, bounded concurrency, independent outcomes
	res.State = StateDispatching
	outcomes := make([]Outcome, len(cands))
	var (
		mu       sync.Mutex
		warnings []string
	)

	workers := r.conf.Monitor.DispatchWorkers
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)

	// In-flight sends must complete and be audited even if ctx is
	// cancelled mid-cycle; an email sent without its audit entry would
	// break the audit guarantee.
	sendCtx := context.WithoutCancel(ctx)

	for i, cand := range cands {
		i, cand := i, cand
		g.Go(func() error {
			var out Outcome
			select {
			case <-ctx.Done():
				// shutdown requested before this candidate started
				out = Outcome{
					UserID:      cand.User.ID,
					Recipient:   cand.User.Email,
					AttemptedAt: r.Now(),
					Status:      StatusFailed,
					Reason:      "dispatch cancelled: shutdown requested",
				}
			default:
				out = r.dispatcher.Dispatch(sendCtx, cand)
			}

			if err := r.audit.Record(sendCtx, res.CycleID, out); err != nil {
				// the audit guarantee is broken for this recipient: never
				// claim the send in the report (weaker of delivered vs audited)
				if out.Sent() {
					out.Status = StatusFailed
					out.Reason = fmt.Sprintf("delivered but not audited: %v", err)
				}
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("audit append failed for %s: %v", out.Recipient, err))
				mu.Unlock()
				r.logger.Error(fmt.Sprintf("cycle %s: %v: %v", res.CycleID, ErrAuditWrite, err), err)
			}
			if out.Sent() {
				if n, ok := r.store.(Notifier); ok {
					if err := n.SetLastNotified(sendCtx, out.UserID, out.AttemptedAt); err != nil {
						mu.Lock()
						warnings = append(warnings, fmt.Sprintf("last_notified stamp failed for %s: %v", out.Recipient, err))
						mu.Unlock()
						r.logger.Warn(fmt.Sprintf("cycle %s: stamping last_notified for %s: %v", res.CycleID, out.UserID, err), err)
					}
				}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	end := r.Now()

	// REPORTING
	res.State = StateReporting
	res.Report = Summarize(res.CycleID, start, end, outcomes)
	jsonPath, textPath, err := r.reports.Persist(res.Report)
	if err != nil {
		// best effort: already-sent notices and audit entries stand
		warnings = append(warnings, fmt.Sprintf("report persist failed: %v", err))
		r.logger.Warn(fmt.Sprintf("cycle %s: persisting report: %v", res.CycleID, err), err)
	}
	res.JSONPath = jsonPath
	res.TextPath = textPath
	res.Warnings = warnings

	res.State = StateDone
	r.logger.Info(fmt.Sprintf(
		"cycle %s: done - total=%d sent=%d failed=%d warnings=%d",
		res.CycleID, res.Report.Total, res.Report.Sent, res.Report.Failed, len(warnings)))
	return res, nil
}

package monitor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/monitor"
	"github.com/preston-56/lms-backend/core/user"
	dummydb "github.com/preston-56/lms-backend/storage/database/dummy"
	testutil "github.com/preston-56/lms-backend/tests"
)

var (
	testNow       = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	testThreshold = 30 * 24 * time.Hour
)

// fakeStore hands back canned rows; lets tests inject duplicates and
// fetch failures without a real repository.
type fakeStore struct {
	students []user.User
	all      []user.User
	err      error
}

var _ monitor.ActivityStore = (*fakeStore)(nil)

func (s *fakeStore) QueryStudents(context.Context) ([]user.User, error) { return s.students, s.err }
func (s *fakeStore) QueryAll(context.Context) ([]user.User, error)      { return s.all, s.err }

// fakeMailService must be safe for concurrent sends; dispatch fans out.
type fakeMailService struct {
	mu      sync.Mutex
	failFor map[string]error
	sent    []string
}

var _ core.EmailService = (*fakeMailService)(nil)

func (svc *fakeMailService) SendMessage(_ context.Context, msg *core.EmailMessage) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	addr := msg.To[0].Address
	if err, ok := svc.failFor[addr]; ok {
		return err
	}
	svc.sent = append(svc.sent, addr)
	return nil
}

func (svc *fakeMailService) sentTo() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]string(nil), svc.sent...)
}

func student(id, email string, lastActive null.Time) user.User {
	return user.User{ID: id, Name: "Student " + id, Email: email, Role: user.RoleStudent, IsActive: true, LastActive: lastActive}
}

func setupRunner(t *testing.T, store monitor.ActivityStore, mailSvc core.EmailService) (*monitor.Runner, monitor.AuditLog) {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	audit := dummydb.NewAuditLog(db)

	conf := testutil.NewConfig(t.TempDir())
	runner := monitor.NewRunner(conf, testutil.Logger{}, store, mailSvc, audit)
	runner.Now = func() time.Time { return testNow }
	return runner, audit
}

func TestRunner_Run(t *testing.T) {
	store := &fakeStore{students: []user.User{
		student("u1", "old@test.cd", null.TimeFrom(testNow.Add(-40*24*time.Hour))),
		student("u2", "fresh@test.cd", null.TimeFrom(testNow.Add(-2*24*time.Hour))),
		student("u3", "never@test.cd", null.Time{}),
		student("u4", "broken@test.cd", null.TimeFrom(testNow.Add(-90*24*time.Hour))),
	}}
	mailSvc := &fakeMailService{failFor: map[string]error{"broken@test.cd": errors.New("mailbox full")}}
	runner, audit := setupRunner(t, store, mailSvc)

	res, err := runner.Run(context.Background(), testThreshold)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if res.State != monitor.StateDone {
		t.Errorf("Run() State = %s, want %s", res.State, monitor.StateDone)
	}
	if res.Report.Total != 3 {
		t.Errorf("Run() Total = %d, want 3 (u2 is active)", res.Report.Total)
	}
	if res.Report.Sent != 2 {
		t.Errorf("Run() Sent = %d, want 2", res.Report.Sent)
	}
	if res.Report.Failed != 1 {
		t.Errorf("Run() Failed = %d, want 1", res.Report.Failed)
	}
	if res.Report.Sent+res.Report.Failed != res.Report.Total {
		t.Errorf("Run() Sent+Failed = %d, must equal Total = %d", res.Report.Sent+res.Report.Failed, res.Report.Total)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Run() Warnings = %v, want none", res.Warnings)
	}
	if res.JSONPath == "" || res.TextPath == "" {
		t.Errorf("Run() report paths not set: json=%q text=%q", res.JSONPath, res.TextPath)
	}

	// exactly one audit entry per candidate
	entries, err := audit.Recent(context.Background(), res.CycleID)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	perUser := make(map[string]int)
	for _, e := range entries {
		perUser[e.UserID]++
		if e.CycleID != res.CycleID {
			t.Errorf("entry CycleID = %s, want %s", e.CycleID, res.CycleID)
		}
		if e.Status == monitor.StatusFailed && !e.Reason.Valid {
			t.Errorf("failed entry for %s carries no reason", e.Recipient)
		}
	}
	for id, n := range perUser {
		if n != 1 {
			t.Errorf("user %s audited %d times, want exactly 1", id, n)
		}
	}
}

func TestRunner_Run_emptyPopulation(t *testing.T) {
	runner, audit := setupRunner(t, &fakeStore{}, &fakeMailService{})

	res, err := runner.Run(context.Background(), testThreshold)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.State != monitor.StateDone {
		t.Errorf("Run() State = %s, want %s", res.State, monitor.StateDone)
	}
	if res.Report.Total != 0 {
		t.Errorf("Run() Total = %d, want 0", res.Report.Total)
	}
	if res.JSONPath == "" {
		t.Error("an empty cycle must still produce a report")
	}

	entries, _ := audit.Recent(context.Background(), res.CycleID)
	if len(entries) != 0 {
		t.Errorf("audit entries = %d, want none", len(entries))
	}
}

func TestRunner_Run_fetchFailure(t *testing.T) {
	store := &fakeStore{err: errors.Wrap(user.ErrStoreUnavailable, "connection refused")}
	runner, _ := setupRunner(t, store, &fakeMailService{})
	reportDir := runner.Reports()

	res, err := runner.Run(context.Background(), testThreshold)
	if err == nil {
		t.Fatal("Run() should fail when the store is unavailable")
	}
	if !errors.Is(err, user.ErrStoreUnavailable) {
		t.Errorf("Run() error = %v, want wrapped %v", err, user.ErrStoreUnavailable)
	}
	if res.State != monitor.StateFailed {
		t.Errorf("Run() State = %s, want %s", res.State, monitor.StateFailed)
	}

	// an aborted cycle leaves no report behind
	names, err := reportDir.ListReports()
	if err != nil {
		t.Fatalf("ListReports() failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("ListReports() = %v, want none after an aborted cycle", names)
	}
}

func TestRunner_Run_invalidThreshold(t *testing.T) {
	runner, _ := setupRunner(t, &fakeStore{}, &fakeMailService{})

	for _, threshold := range []time.Duration{0, -time.Hour} {
		res, err := runner.Run(context.Background(), threshold)
		if !errors.Is(err, monitor.ErrInvalidThreshold) {
			t.Errorf("Run(%v) error = %v, want %v", threshold, err, monitor.ErrInvalidThreshold)
		}
		if res.State != monitor.StateFailed {
			t.Errorf("Run(%v) State = %s, want %s", threshold, res.State, monitor.StateFailed)
		}
	}
}

// a duplicate store row must never cause a double notification
func TestRunner_Run_duplicateRows(t *testing.T) {
	dup := student("u1", "dup@test.cd", null.TimeFrom(testNow.Add(-40*24*time.Hour)))
	store := &fakeStore{students: []user.User{dup, dup, dup}}
	mailSvc := &fakeMailService{}
	runner, audit := setupRunner(t, store, mailSvc)

	res, err := runner.Run(context.Background(), testThreshold)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Report.Total != 1 {
		t.Errorf("Run() Total = %d, want 1", res.Report.Total)
	}
	if got := mailSvc.sentTo(); len(got) != 1 {
		t.Errorf("sent %d notifications, want 1: %v", len(got), got)
	}
	entries, _ := audit.Recent(context.Background(), res.CycleID)
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}

// a successful send stamps the user's last_notified timestamp
func TestRunner_Run_stampsLastNotified(t *testing.T) {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	repo := dummydb.NewUserRepository(db)
	audit := dummydb.NewAuditLog(db)

	old := null.TimeFrom(testNow.Add(-40 * 24 * time.Hour))
	notified := testutil.CreateUser(t, repo, "Old Student", "old@test.cd", user.RoleStudent, true, old)
	skipped := testutil.CreateUser(t, repo, "Broken Student", "broken@test.cd", user.RoleStudent, true, old)

	svc := user.NewService(repo)
	mailSvc := &fakeMailService{failFor: map[string]error{"broken@test.cd": errors.New("mailbox full")}}

	conf := testutil.NewConfig(t.TempDir())
	runner := monitor.NewRunner(conf, testutil.Logger{}, svc, mailSvc, audit)
	runner.Now = func() time.Time { return testNow }

	if _, err = runner.Run(context.Background(), testThreshold); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	refreshed, err := svc.GetByID(context.Background(), notified.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if !refreshed.LastNotified.Valid {
		t.Error("LastNotified not stamped after a successful send")
	}

	refreshed, err = svc.GetByID(context.Background(), skipped.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if refreshed.LastNotified.Valid {
		t.Error("LastNotified stamped for a failed send")
	}
}

// a send whose audit entry could not be recorded must not be claimed
func TestRunner_Run_auditFailure(t *testing.T) {
	store := &fakeStore{students: []user.User{
		student("u1", "old@test.cd", null.TimeFrom(testNow.Add(-40*24*time.Hour))),
	}}
	mailSvc := &fakeMailService{}

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	audit := dummydb.NewAuditLog(db)
	audit.FailRecord = errors.Wrap(monitor.ErrAuditWrite, "disk full")

	conf := testutil.NewConfig(t.TempDir())
	runner := monitor.NewRunner(conf, testutil.Logger{}, store, mailSvc, audit)
	runner.Now = func() time.Time { return testNow }

	res, err := runner.Run(context.Background(), testThreshold)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Report.Sent != 0 {
		t.Errorf("Run() Sent = %d, want 0 when audit writes fail", res.Report.Sent)
	}
	if res.Report.Failed != 1 {
		t.Errorf("Run() Failed = %d, want 1", res.Report.Failed)
	}
	if len(res.Report.FailedDetails) != 1 ||
		!strings.HasPrefix(res.Report.FailedDetails[0].Reason, "delivered but not audited") {
		t.Errorf("Run() FailedDetails = %+v, want a delivered-but-not-audited reason", res.Report.FailedDetails)
	}
	if len(res.Warnings) == 0 {
		t.Error("Run() should carry a warning when an audit append fails")
	}

	// the email itself did go out
	if got := mailSvc.sentTo(); len(got) != 1 {
		t.Errorf("sent %d notifications, want 1", len(got))
	}
}

func TestRunner_Run_cancelledBeforeDispatch(t *testing.T) {
	store := &fakeStore{students: []user.User{
		student("u1", "one@test.cd", null.TimeFrom(testNow.Add(-40*24*time.Hour))),
		student("u2", "two@test.cd", null.TimeFrom(testNow.Add(-50*24*time.Hour))),
	}}
	mailSvc := &fakeMailService{}
	runner, audit := setupRunner(t, store, mailSvc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, testThreshold)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Report.Sent != 0 {
		t.Errorf("Run() Sent = %d, want 0 after cancellation", res.Report.Sent)
	}
	if res.Report.Failed != 2 {
		t.Errorf("Run() Failed = %d, want 2", res.Report.Failed)
	}
	for _, fd := range res.Report.FailedDetails {
		if fd.Reason != "dispatch cancelled: shutdown requested" {
			t.Errorf("FailedDetails Reason = %q, want cancellation notice", fd.Reason)
		}
	}

	// cancelled candidates are still audited
	entries, _ := audit.Recent(context.Background(), res.CycleID)
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

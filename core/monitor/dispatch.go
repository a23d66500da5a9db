package monitor

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/preston-56/lms-backend/core"
)

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Outcome is the recorded result of attempting to notify one candidate.
// Immutable once created.
type Outcome struct {
	UserID      string    `json:"user_id"`
	Recipient   string    `json:"recipient"`
	AttemptedAt time.Time `json:"attempted_at"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"` // present iff failed
}

func (o Outcome) Sent() bool { return o.Status == StatusSent }

// Dispatcher formats and delivers inactivity notices, one recipient at a
// time. A transport failure is captured in the returned Outcome, never
// raised: one bad address must not abort the rest of the batch.
type Dispatcher struct {
	conf    *core.Config
	mailSvc core.EmailService

	// Now is the time source for attempt timestamps; swap in tests.
	Now func() time.Time
}

func NewDispatcher(conf *core.Config, mailSvc core.EmailService) *Dispatcher {
	return &Dispatcher{
		conf:    conf,
		mailSvc: mailSvc,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

type noticeData struct {
	Name         string
	LastActive   string
	DaysInactive int
	AppName      string
}

func (d *Dispatcher) message(cand Candidate) *core.EmailMessage {
	tmplName := "inactivity_notice"
	if cand.NeverActive {
		tmplName = "inactivity_notice_never"
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: cand.User.Name, Address: cand.User.Email}},
		Subject:      d.conf.Monitor.NoticeSubject,
		TemplateName: tmplName,
		TemplateData: noticeData{
			Name:         cand.User.Name,
			LastActive:   cand.User.LastActive.Time.Format("2006-01-02"),
			DaysInactive: cand.DaysInactive,
			AppName:      d.conf.AppName,
		},
	}
}

// Dispatch attempts delivery for one candidate and reports its fate.
// No retry within a cycle; a failed send is simply recorded and may be
// retried naturally on the next scheduled cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, cand Candidate) (out Outcome) {
	out = Outcome{
		UserID:      cand.User.ID,
		Recipient:   cand.User.Email,
		AttemptedAt: d.Now(),
	}

	// a panicking transport must not take the batch down with it
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Reason = fmt.Sprintf("transport panic: %v", r)
		}
	}()

	if err := d.mailSvc.SendMessage(ctx, d.message(cand)); err != nil {
		out.Status = StatusFailed
		out.Reason = err.Error()
		return out
	}
	out.Status = StatusSent
	return out
}

package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/preston-56/lms-backend/core/user"
)

// Diagnosis summarizes the state of the monitored population, to help
// answer "why were no inactive users found?" without poking the database
// by hand.
type Diagnosis struct {
	Timestamp time.Time `json:"timestamp"`

	UserCounts struct {
		Total             int `json:"total_users"`
		Active            int `json:"active_users"`
		Inactive          int `json:"inactive_users"`
		MissingLastActive int `json:"users_missing_last_active"`
		PotentialInactive int `json:"potential_inactive_users"`
	} `json:"user_counts"`

	NotificationInfo struct {
		RecentNotifications int `json:"recent_notifications"`
		ThresholdDays       int `json:"threshold_days"`
	} `json:"notification_info"`

	Samples struct {
		RecentActivity  []ActivitySample `json:"recent_activity"`
		InactiveSamples []InactiveSample `json:"inactive_samples"`
	} `json:"samples"`

	Issues []string `json:"issues"`
}

type ActivitySample struct {
	UserID          string `json:"user_id"`
	DaysSinceActive int    `json:"days_since_active"`
	IsActiveFlag    bool   `json:"is_active_flag"`
}

type InactiveSample struct {
	UserID       string `json:"user_id"`
	DaysInactive int    `json:"days_inactive"`
	HasEmail     bool   `json:"has_email"`
}

const (
	recentActivitySampleSize = 10
	inactiveSampleSize       = 5
	recentNotificationWindow = 7 * 24 * time.Hour
)

// Diagnose analyzes user activity against the given threshold and persists
// the result as a report pair (JSON + text) alongside scan reports.
func (r *Runner) Diagnose(ctx context.Context, threshold time.Duration) (Diagnosis, error) {
	if threshold <= 0 {
		return Diagnosis{}, ErrInvalidThreshold
	}

	now := r.Now()
	r.logger.Info("running activity diagnosis")

	users, err := r.store.QueryAll(ctx)
	if err != nil {
		return Diagnosis{}, errors.Wrap(err, "fetching users")
	}

	diag := Diagnosis{Timestamp: now}
	diag.NotificationInfo.ThresholdDays = int(threshold.Hours() / 24)

	var withActivity []user.User
	var futureActive int
	for _, usr := range users {
		diag.UserCounts.Total++
		if usr.IsActive {
			diag.UserCounts.Active++
		} else {
			diag.UserCounts.Inactive++
		}
		if !usr.LastActive.Valid {
			diag.UserCounts.MissingLastActive++
			continue
		}
		if usr.LastActive.Time.After(now) {
			futureActive++
		}
		withActivity = append(withActivity, usr)
		if usr.IsActive && now.Sub(usr.LastActive.Time) >= threshold {
			diag.UserCounts.PotentialInactive++
		}
	}

	recent, err := r.audit.CountSince(ctx, now.Add(-recentNotificationWindow))
	if err != nil {
		return Diagnosis{}, errors.Wrap(err, "counting recent notifications")
	}
	diag.NotificationInfo.RecentNotifications = recent

	// most recently active users first
	sort.Slice(withActivity, func(i, j int) bool {
		return withActivity[i].LastActive.Time.After(withActivity[j].LastActive.Time)
	})

	diag.Samples.RecentActivity = make([]ActivitySample, 0, recentActivitySampleSize)
	for _, usr := range withActivity {
		if len(diag.Samples.RecentActivity) == recentActivitySampleSize {
			break
		}
		diag.Samples.RecentActivity = append(diag.Samples.RecentActivity, ActivitySample{
			UserID:          usr.ID,
			DaysSinceActive: int(now.Sub(usr.LastActive.Time).Hours() / 24),
			IsActiveFlag:    usr.IsActive,
		})
	}

	diag.Samples.InactiveSamples = make([]InactiveSample, 0, inactiveSampleSize)
	for _, usr := range withActivity {
		if len(diag.Samples.InactiveSamples) == inactiveSampleSize {
			break
		}
		if !usr.IsActive || now.Sub(usr.LastActive.Time) < threshold {
			continue
		}
		diag.Samples.InactiveSamples = append(diag.Samples.InactiveSamples, InactiveSample{
			UserID:       usr.ID,
			DaysInactive: int(now.Sub(usr.LastActive.Time).Hours() / 24),
			HasEmail:     usr.Email != "",
		})
	}

	diag.Issues = diagnoseIssues(diag, futureActive)

	name := diagnosisPrefix + now.UTC().Format(reportStampFmt)
	if _, _, err := r.reports.persist(name, diag, renderDiagnosisText(diag)); err != nil {
		r.logger.Warn(fmt.Sprintf("persisting diagnosis report: %v", err), err)
	}
	return diag, nil
}

func diagnoseIssues(diag Diagnosis, futureActive int) []string {
	issues := make([]string, 0)
	if diag.UserCounts.Total == 0 {
		issues = append(issues, "no users found in the database")
	}
	if n := diag.UserCounts.MissingLastActive; n > 0 {
		pct := float64(n) / float64(diag.UserCounts.Total) * 100
		issues = append(issues, fmt.Sprintf("%d users (%.1f%%) are missing last_active timestamps", n, pct))
	}
	if futureActive > 0 {
		// the store is supposed to guarantee last_active <= now
		issues = append(issues, fmt.Sprintf("%d users have a last_active timestamp in the future", futureActive))
	}
	if diag.UserCounts.PotentialInactive == 0 && diag.UserCounts.Total > 0 {
		issues = append(issues, fmt.Sprintf("no users meet the inactivity threshold of %d days", diag.NotificationInfo.ThresholdDays))
	}
	return issues
}

func renderDiagnosisText(diag Diagnosis) string {
	b := new(strings.Builder)

	fmt.Fprintf(b, "LMS Activity Diagnosis Report\n")
	fmt.Fprintf(b, "Generated: %s\n", diag.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "%s\n\n", strings.Repeat("=", 50))

	fmt.Fprintf(b, "USER STATISTICS\n")
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
	fmt.Fprintf(b, "Total users: %d\n", diag.UserCounts.Total)
	fmt.Fprintf(b, "Active users: %d\n", diag.UserCounts.Active)
	fmt.Fprintf(b, "Inactive users: %d\n", diag.UserCounts.Inactive)
	fmt.Fprintf(b, "Users missing last_active: %d\n", diag.UserCounts.MissingLastActive)
	fmt.Fprintf(b, "Potential inactive users: %d\n\n", diag.UserCounts.PotentialInactive)

	fmt.Fprintf(b, "NOTIFICATION SETTINGS\n")
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
	fmt.Fprintf(b, "Inactivity threshold: %d days\n", diag.NotificationInfo.ThresholdDays)
	fmt.Fprintf(b, "Recent notifications (7 days): %d\n\n", diag.NotificationInfo.RecentNotifications)

	if len(diag.Samples.InactiveSamples) > 0 {
		fmt.Fprintf(b, "SAMPLE INACTIVE USERS\n")
		fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
		for _, s := range diag.Samples.InactiveSamples {
			fmt.Fprintf(b, "User %s: %d days inactive, has email: %t\n", s.UserID, s.DaysInactive, s.HasEmail)
		}
		fmt.Fprintln(b)
	} else {
		fmt.Fprintf(b, "NO INACTIVE USERS FOUND\n")
		fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
		fmt.Fprintf(b, "No users meet the criteria for inactivity notification.\n\n")
	}

	if len(diag.Samples.RecentActivity) > 0 {
		fmt.Fprintf(b, "RECENT USER ACTIVITY\n")
		fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
		for _, s := range diag.Samples.RecentActivity {
			fmt.Fprintf(b, "User %s: %d days since last active\n", s.UserID, s.DaysSinceActive)
		}
		fmt.Fprintln(b)
	}

	fmt.Fprintf(b, "POSSIBLE ISSUES\n")
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
	if len(diag.Issues) == 0 {
		fmt.Fprintf(b, "None detected.\n")
	}
	for _, issue := range diag.Issues {
		fmt.Fprintf(b, "- %s\n", issue)
	}
	return b.String()
}

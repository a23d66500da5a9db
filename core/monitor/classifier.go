package monitor

import (
	"time"

	"github.com/preston-56/lms-backend/core/user"
)

// NeverActiveDays is the DaysInactive sentinel for users with no recorded
// activity at all.
const NeverActiveDays = -1

// Candidate is a student judged inactive within a cycle.
type Candidate struct {
	User         user.User
	DaysInactive int // NeverActiveDays when the user never signed in
	NeverActive  bool
}

// Classify decides whether usr is inactive as of now given the configured
// threshold. Users with no recorded activity are unconditionally inactive.
// The boundary is inclusive: elapsed == threshold classifies as inactive.
//
// Classify is pure; role eligibility is the caller's concern.
func Classify(usr user.User, threshold time.Duration, now time.Time) (Candidate, bool) {
	if !usr.LastActive.Valid {
		return Candidate{User: usr, DaysInactive: NeverActiveDays, NeverActive: true}, true
	}

	elapsed := now.Sub(usr.LastActive.Time)
	if elapsed < threshold {
		return Candidate{}, false
	}
	return Candidate{User: usr, DaysInactive: int(elapsed.Hours() / 24)}, true
}

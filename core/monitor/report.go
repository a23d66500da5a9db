package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	scanReportPrefix = "scan_report_"
	diagnosisPrefix  = "activity_report_"
	reportStampFmt = "20060102_150405"
)

type FailedDetail struct {
	UserID    string `json:"user_id"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// Report aggregates every Outcome of one cycle. Sent+Failed always equals
// Total: no candidate's fate is ever silently omitted.
type Report struct {
	CycleID       string         `json:"cycle_id"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Total         int            `json:"total"`
	Sent          int            `json:"sent"`
	Failed        int            `json:"failed"`
	FailedDetails []FailedDetail `json:"failed_details"`
}

// Summarize is a pure fold over a cycle's outcomes.
func Summarize(cycleID string, start, end time.Time, outcomes []Outcome) Report {
	rep := Report{
		CycleID:       cycleID,
		Start:         start.UTC(),
		End:           end.UTC(),
		Total:         len(outcomes),
		FailedDetails: make([]FailedDetail, 0),
	}
	for _, out := range outcomes {
		if out.Sent() {
			rep.Sent++
			continue
		}
		rep.Failed++
		rep.FailedDetails = append(rep.FailedDetails, FailedDetail{
			UserID:    out.UserID,
			Recipient: out.Recipient,
			Reason:    out.Reason,
		})
	}
	return rep
}

// ReportWriter persists report artifacts: a machine-readable JSON form and
// a human-readable text form, both named after the cycle's end time so
// successive runs never overwrite one another.
type ReportWriter struct {
	dir string
}

func NewReportWriter(dir string) *ReportWriter {
	return &ReportWriter{dir: dir}
}

func (w *ReportWriter) persist(name string, data interface{}, text string) (jsonPath, textPath string, err error) {
	if err = os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "creating report dir")
	}

	jsonPath = filepath.Join(w.dir, name+".json")
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "encoding report")
	}
	if err = os.WriteFile(jsonPath, buf, 0o644); err != nil {
		return "", "", errors.Wrap(err, "writing json report")
	}

	textPath = filepath.Join(w.dir, name+".txt")
	if err = os.WriteFile(textPath, []byte(text), 0o644); err != nil {
		return jsonPath, "", errors.Wrap(err, "writing text report")
	}
	return jsonPath, textPath, nil
}

// Persist writes both representations of a scan report. Failure here is a
// cycle-level warning only; the report is a best-effort summary, not the
// source of truth.
func (w *ReportWriter) Persist(rep Report) (jsonPath, textPath string, err error) {
	name := scanReportPrefix + rep.End.UTC().Format(reportStampFmt)
	return w.persist(name, rep, renderReportText(rep))
}

func renderReportText(rep Report) string {
	b := new(strings.Builder)

	fmt.Fprintf(b, "LMS Inactivity Scan Report\n")
	fmt.Fprintf(b, "Cycle: %s\n", rep.CycleID)
	fmt.Fprintf(b, "Started: %s\n", rep.Start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "Finished: %s\n", rep.End.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "%s\n\n", strings.Repeat("=", 50))

	fmt.Fprintf(b, "DISPATCH SUMMARY\n")
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
	fmt.Fprintf(b, "Total candidates: %d\n", rep.Total)
	fmt.Fprintf(b, "Sent: %d\n", rep.Sent)
	fmt.Fprintf(b, "Failed: %d\n\n", rep.Failed)

	if len(rep.FailedDetails) > 0 {
		fmt.Fprintf(b, "FAILED RECIPIENTS\n")
		fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
		for _, fd := range rep.FailedDetails {
			fmt.Fprintf(b, "%s: %s\n", fd.Recipient, fd.Reason)
		}
	} else if rep.Total == 0 {
		fmt.Fprintf(b, "NO INACTIVE USERS FOUND\n")
		fmt.Fprintf(b, "%s\n", strings.Repeat("-", 20))
		fmt.Fprintf(b, "No users meet the criteria for inactivity notification.\n")
	}
	return b.String()
}

// ListReports returns the text report file names in w's directory, newest
// first. Names embed the cycle end timestamp, so a simple reverse sort
// orders them; correctness never depends on filesystem glob order.
func (w *ReportWriter) ListReports() ([]string, error) {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing reports")
	}

	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		if !strings.HasPrefix(name, scanReportPrefix) && !strings.HasPrefix(name, diagnosisPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// LatestReport returns the newest text report name, or "" if none exist.
func (w *ReportWriter) LatestReport() (string, error) {
	names, err := w.ListReports()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

// ReadReport returns the content of a named text report. The name must be
// one produced by this writer; path elements are rejected.
func (w *ReportWriter) ReadReport(name string) (string, error) {
	if name != filepath.Base(name) ||
		!(strings.HasPrefix(name, scanReportPrefix) || strings.HasPrefix(name, diagnosisPrefix)) {
		return "", errors.Errorf("invalid report name %q", name)
	}
	buf, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return "", errors.Wrap(err, "reading report")
	}
	return string(buf), nil
}

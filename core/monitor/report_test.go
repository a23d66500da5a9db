package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

func testOutcomes(attempted time.Time) []Outcome {
	return []Outcome{
		{UserID: "u1", Recipient: "one@test.cd", AttemptedAt: attempted, Status: StatusSent},
		{UserID: "u2", Recipient: "two@test.cd", AttemptedAt: attempted, Status: StatusFailed, Reason: "mailbox full"},
		{UserID: "u3", Recipient: "three@test.cd", AttemptedAt: attempted, Status: StatusSent},
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)

	rep := Summarize("cycle-1", start, end, testOutcomes(start))

	if rep.Total != 3 {
		t.Errorf("Summarize() Total = %d, want 3", rep.Total)
	}
	if rep.Sent != 2 {
		t.Errorf("Summarize() Sent = %d, want 2", rep.Sent)
	}
	if rep.Failed != 1 {
		t.Errorf("Summarize() Failed = %d, want 1", rep.Failed)
	}
	if rep.Sent+rep.Failed != rep.Total {
		t.Errorf("Summarize() Sent+Failed = %d, must equal Total = %d", rep.Sent+rep.Failed, rep.Total)
	}
	if len(rep.FailedDetails) != 1 {
		t.Fatalf("Summarize() FailedDetails len = %d, want 1", len(rep.FailedDetails))
	}
	want := FailedDetail{UserID: "u2", Recipient: "two@test.cd", Reason: "mailbox full"}
	if rep.FailedDetails[0] != want {
		t.Errorf("Summarize() FailedDetails[0] = %+v, want %+v", rep.FailedDetails[0], want)
	}
}

func TestSummarize_empty(t *testing.T) {
	now := time.Now().UTC()
	rep := Summarize("cycle-1", now, now, nil)

	if rep.Total != 0 || rep.Sent != 0 || rep.Failed != 0 {
		t.Errorf("Summarize() of no outcomes = %+v, want all-zero counts", rep)
	}
	if rep.FailedDetails == nil {
		t.Error("Summarize() FailedDetails must be non-nil for JSON encoding")
	}
}

func TestReportWriter_Persist(t *testing.T) {
	w := NewReportWriter(filepath.Join(t.TempDir(), "reports"))

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 2, 0, time.UTC)
	rep := Summarize("cycle-1", start, end, testOutcomes(start))

	jsonPath, textPath, err := w.Persist(rep)
	if err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	wantStem := "scan_report_20240601_120002"
	if got := filepath.Base(jsonPath); got != wantStem+".json" {
		t.Errorf("Persist() json name = %s, want %s.json", got, wantStem)
	}
	if got := filepath.Base(textPath); got != wantStem+".txt" {
		t.Errorf("Persist() text name = %s, want %s.txt", got, wantStem)
	}

	// JSON round-trips back to the same report
	buf, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading json report: %v", err)
	}
	var got Report
	if err = json.Unmarshal(buf, &got); err != nil {
		t.Fatalf("decoding json report: %v", err)
	}
	if got.CycleID != rep.CycleID || got.Total != rep.Total || got.Sent != rep.Sent || got.Failed != rep.Failed {
		t.Errorf("persisted report = %+v, want %+v", got, rep)
	}
}

func TestRenderReportText(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 2, 0, time.UTC)
	rep := Summarize("cycle-1", start, end, testOutcomes(start))

	want := `LMS Inactivity Scan Report
Cycle: cycle-1
Started: 2024-06-01 12:00:00
Finished: 2024-06-01 12:00:02
==================================================

DISPATCH SUMMARY
--------------------
Total candidates: 3
Sent: 2
Failed: 1

FAILED RECIPIENTS
--------------------
two@test.cd: mailbox full
`
	if got := renderReportText(rep); got != want {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(want),
			B:        difflib.SplitLines(got),
			FromFile: "want",
			ToFile:   "got",
			Context:  2,
		})
		t.Errorf("renderReportText() mismatch:\n%s", diff)
	}
}

func TestReportWriter_listAndRead(t *testing.T) {
	w := NewReportWriter(filepath.Join(t.TempDir(), "reports"))

	// empty dir (not even created yet)
	names, err := w.ListReports()
	if err != nil {
		t.Fatalf("ListReports() failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("ListReports() = %v, want none", names)
	}
	latest, err := w.LatestReport()
	if err != nil {
		t.Fatalf("LatestReport() failed: %v", err)
	}
	if latest != "" {
		t.Fatalf("LatestReport() = %q, want empty", latest)
	}

	ends := []time.Time{
		time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
	}
	for _, end := range ends {
		if _, _, err = w.Persist(Report{CycleID: "c", Start: end, End: end}); err != nil {
			t.Fatalf("Persist() failed: %v", err)
		}
	}

	names, err = w.ListReports()
	if err != nil {
		t.Fatalf("ListReports() failed: %v", err)
	}
	wantNames := []string{
		"scan_report_20240603_080000.txt",
		"scan_report_20240602_080000.txt",
		"scan_report_20240601_080000.txt",
	}
	if len(names) != len(wantNames) {
		t.Fatalf("ListReports() = %v, want %v", names, wantNames)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("ListReports()[%d] = %s, want %s", i, names[i], wantNames[i])
		}
	}

	latest, err = w.LatestReport()
	if err != nil {
		t.Fatalf("LatestReport() failed: %v", err)
	}
	if latest != wantNames[0] {
		t.Errorf("LatestReport() = %s, want %s", latest, wantNames[0])
	}

	content, err := w.ReadReport(latest)
	if err != nil {
		t.Fatalf("ReadReport() failed: %v", err)
	}
	if content == "" {
		t.Error("ReadReport() returned empty content")
	}
}

func TestReportWriter_ReadReport_rejectsBadNames(t *testing.T) {
	w := NewReportWriter(t.TempDir())

	for _, name := range []string{
		"../secrets.txt",
		"/etc/passwd",
		"notes.txt",
		"scan_report_/../../x.txt",
	} {
		if _, err := w.ReadReport(name); err == nil {
			t.Errorf("ReadReport(%q) should have been rejected", name)
		}
	}
}

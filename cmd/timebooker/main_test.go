package main

import (
	"bytes"
	"strings"
	"testing"

	"timebooker/internal/engine"
)

func TestPrintReport(t *testing.T) {
	report := engine.Report{
		RunID: "run-1",
		Results: []engine.ItemResult{
			{ItemID: "2024-05-06", Category: engine.Remote, Status: engine.StatusBooked, Attempts: 1},
			{ItemID: "2024-05-07", Category: engine.Office, Status: engine.StatusFailed, Stage: engine.StageSelect, Error: "category not found"},
			{ItemID: "2024-05-08", Category: engine.Office, Status: engine.StatusDryRun, Attempts: 2},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	if len(lines) != 4 {
		t.Fatalf("expected one line per item plus summary, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "select-category: category not found") {
		t.Errorf("failed line must name the stage: %q", lines[1])
	}
	if !strings.Contains(lines[2], "dry-run") {
		t.Errorf("dry run line: %q", lines[2])
	}
	if lines[3] != "2 booked, 1 failed" {
		t.Errorf("unexpected summary %q", lines[3])
	}
}

package mangle

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebooker/internal/engine"
)

func TestLedgerRecordsBatch(t *testing.T) {
	ledger := NewLedger(newTestEngine(t, 1000))
	ledger.now = func() time.Time { return time.UnixMilli(1715000000000) }

	booked := engine.WorkItem{ID: "2024-05-06", Category: engine.Remote}
	failed := engine.WorkItem{ID: "2024-05-07", Category: engine.Office}
	recovered := engine.WorkItem{ID: "2024-05-08", Category: engine.Office}

	ledger.RunStarted("run-1", []engine.WorkItem{booked, failed, recovered})

	ledger.ItemStarted(booked, 1)
	ledger.StageEntered(booked, engine.StageOverlay)
	ledger.StrategyTried(booked, engine.StrategyResult{Strategy: "structural-trigger", Opened: true})
	ledger.ItemFinished(engine.ItemResult{ItemID: booked.ID, Category: booked.Category, Status: engine.StatusBooked, Attempts: 1})

	applyErr := &engine.StageError{ItemID: failed.ID, Stage: engine.StageApply, Err: engine.ErrDidNotClose}
	for attempt := 1; attempt <= 3; attempt++ {
		ledger.ItemStarted(failed, attempt)
		ledger.AttemptFailed(failed, attempt, applyErr)
	}
	ledger.ItemFinished(engine.ItemResult{ItemID: failed.ID, Status: engine.StatusFailed, Stage: engine.StageApply})

	ledger.ItemStarted(recovered, 1)
	ledger.AttemptFailed(recovered, 1, errors.New("stale handle"))
	ledger.ItemStarted(recovered, 2)
	ledger.ItemFinished(engine.ItemResult{ItemID: recovered.ID, Category: recovered.Category, Status: engine.StatusBooked, Attempts: 2})

	ledger.RunFinished(engine.Report{RunID: "run-1"})

	ctx := context.Background()
	got, err := ledger.NeedsAttention(ctx)
	if err != nil {
		t.Fatalf("NeedsAttention failed: %v", err)
	}
	if len(got) != 1 || got[0] != failed.ID {
		t.Errorf("Expected only %s to need attention, got %v", failed.ID, got)
	}

	items := ledger.Engine.FactsByPredicate("booking_item")
	if len(items) != 3 {
		t.Errorf("Expected 3 booking_item facts, got %d", len(items))
	}

	results, err := ledger.Engine.Query(ctx, `booking_failed(Item, Stage, _, _).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	stages := map[string]bool{}
	for _, r := range results {
		stages[r["Stage"].(string)] = true
	}
	if !stages["apply"] || !stages["item"] {
		t.Errorf("Expected apply and item failure stages, got %v", stages)
	}

	attempts := ledger.Engine.FactsByPredicate("booking_attempt")
	if len(attempts) != 6 {
		t.Errorf("Expected 6 attempts, got %d", len(attempts))
	}
	if ts := attempts[0].Args[2]; ts != int64(1715000000000) {
		t.Errorf("Expected unix millis timestamp, got %v", ts)
	}

	opened, err := ledger.Engine.Evaluate(ctx, "overlay_opened_by")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(opened) != 1 || opened[0].Args[1] != "structural-trigger" {
		t.Errorf("Unexpected overlay_opened_by facts: %+v", opened)
	}
}

func TestLedgerDryRunIsNotAttention(t *testing.T) {
	ledger := NewLedger(newTestEngine(t, 1000))
	item := engine.WorkItem{ID: "2024-05-06", Category: engine.Remote}

	ledger.AttemptFailed(item, 1, errors.New("flaky"))
	ledger.ItemFinished(engine.ItemResult{ItemID: item.ID, Category: item.Category, Status: engine.StatusDryRun})

	got, err := ledger.NeedsAttention(context.Background())
	if err != nil {
		t.Fatalf("NeedsAttention failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no items needing attention, got %v", got)
	}
}

type blockingProcessor struct {
	release chan struct{}
}

func (p blockingProcessor) Process(ctx context.Context, item engine.WorkItem) error {
	engine.ObserverFrom(ctx, nil).StageEntered(item, engine.StageApply)
	<-p.release
	return errors.New("late failure")
}

func TestLedgerRecordsWatchdogTimeout(t *testing.T) {
	ledger := NewLedger(newTestEngine(t, 1000))

	policy := engine.DefaultPolicy()
	policy.Item = engine.RetryPolicy{Attempts: 1}
	policy.ItemTimeout = 50 * time.Millisecond
	proc := blockingProcessor{release: make(chan struct{})}
	defer close(proc.release)

	batch := &engine.Batch{Processor: proc, Policy: policy, Observer: ledger}
	report := batch.Run(context.Background(), []engine.WorkItem{{ID: "2024-05-06", Category: engine.Remote}})
	if len(report.Failed()) != 1 {
		t.Fatalf("Expected the item to time out, got %+v", report.Results)
	}

	got, err := ledger.NeedsAttention(context.Background())
	if err != nil {
		t.Fatalf("NeedsAttention failed: %v", err)
	}
	if len(got) != 1 || got[0] != "2024-05-06" {
		t.Errorf("Expected 2024-05-06 to need attention, got %v", got)
	}

	results, err := ledger.Engine.Query(context.Background(), `booking_failed(Item, Stage, _, _).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["Stage"] != "apply" {
		t.Errorf("Expected one failure at apply, got %+v", results)
	}
}

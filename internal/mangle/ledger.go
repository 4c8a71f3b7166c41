package mangle

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"timebooker/internal/engine"
)

// Ledger records batch progress as booking facts. It implements engine.Observer.
type Ledger struct {
	Engine *Engine
	now    func() time.Time
}

func NewLedger(e *Engine) *Ledger {
	return &Ledger{Engine: e, now: time.Now}
}

func (l *Ledger) add(predicate string, args ...interface{}) {
	ts := l.now()
	fact := Fact{Predicate: predicate, Args: append(args, ts.UnixMilli()), Timestamp: ts}
	if err := l.Engine.AddFacts(context.Background(), []Fact{fact}); err != nil {
		log.Printf("ledger: %s: %v", predicate, err)
	}
}

func (l *Ledger) RunStarted(runID string, items []engine.WorkItem) {
	ts := l.now()
	facts := []Fact{{Predicate: "booking_run", Args: []interface{}{runID, len(items), ts.UnixMilli()}, Timestamp: ts}}
	for _, it := range items {
		facts = append(facts, Fact{Predicate: "booking_item", Args: []interface{}{runID, it.ID, string(it.Category)}, Timestamp: ts})
	}
	if err := l.Engine.AddFacts(context.Background(), facts); err != nil {
		log.Printf("ledger: run %s: %v", runID, err)
	}
}

func (l *Ledger) ItemStarted(item engine.WorkItem, attempt int) {
	l.add("booking_attempt", item.ID, attempt)
}

func (l *Ledger) StageEntered(item engine.WorkItem, stage engine.Stage) {
	l.add("booking_stage", item.ID, string(stage))
}

func (l *Ledger) StrategyTried(item engine.WorkItem, result engine.StrategyResult) {
	l.add("booking_strategy", item.ID, result.Strategy, result.Opened)
}

func (l *Ledger) AttemptFailed(item engine.WorkItem, attempt int, err error) {
	stage := engine.StageOf(err)
	if stage == "" {
		stage = engine.StageItem
	}
	l.add("booking_failed", item.ID, string(stage), err.Error())
}

func (l *Ledger) ItemFinished(result engine.ItemResult) {
	switch result.Status {
	case engine.StatusBooked:
		l.add("booking_done", result.ItemID, string(result.Category))
	case engine.StatusDryRun:
		l.add("booking_dry_run", result.ItemID, string(result.Category))
	case engine.StatusFailed:
		// A watchdog expiry reports no failed attempt, so the terminal result is
		// always recorded too.
		stage := result.Stage
		if stage == "" {
			stage = engine.StageItem
		}
		l.add("booking_failed", result.ItemID, string(stage), result.Error)
	}
}

func (l *Ledger) RunFinished(report engine.Report) {
	l.add("booking_run_done", report.RunID, len(report.Succeeded()), len(report.Failed()))
}

// NeedsAttention lists items that failed and were never booked, sorted.
func (l *Ledger) NeedsAttention(ctx context.Context) ([]string, error) {
	facts, err := l.Engine.Evaluate(ctx, "needs_attention")
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, len(facts))
	for _, f := range facts {
		if len(f.Args) == 1 {
			items = append(items, fmt.Sprint(f.Args[0]))
		}
	}
	sort.Strings(items)
	return items, nil
}

var _ engine.Observer = (*Ledger)(nil)

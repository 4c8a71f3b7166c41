package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one work item.
type Status string

const (
	StatusBooked Status = "booked"
	StatusDryRun Status = "dry-run"
	StatusFailed Status = "failed"
)

// ItemResult reports one work item.
type ItemResult struct {
	ItemID   string        `json:"item_id"`
	Category Category      `json:"category"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Stage    Stage         `json:"stage,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of one batch run.
type Report struct {
	RunID    string       `json:"run_id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Results  []ItemResult `json:"results"`
}

// Succeeded returns the results that booked (or would have booked in a dry run).
func (r Report) Succeeded() []ItemResult {
	var out []ItemResult
	for _, res := range r.Results {
		if res.Status != StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the failed results.
func (r Report) Failed() []ItemResult {
	var out []ItemResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// ItemProcessor books a single work item once.
type ItemProcessor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Batch drives work items strictly one after another.
type Batch struct {
	Processor ItemProcessor
	Policy    Policy
	Observer  Observer
	// Debug selects the longer interactive watchdog.
	Debug bool
	// DryRun marks successful items as StatusDryRun.
	DryRun bool
}

// Run processes every item and never stops early on an item failure.
// Each item runs under a watchdog; inside it the item is retried per Policy.Item.
func (b *Batch) Run(ctx context.Context, items []WorkItem) Report {
	obs := b.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	report := Report{RunID: uuid.NewString(), Started: time.Now()}
	obs.RunStarted(report.RunID, items)

	for i, item := range items {
		if i > 0 {
			if err := sleepWithContext(ctx, b.Policy.InterItemDelay); err != nil {
				break
			}
		}
		res := b.runItem(ctx, item, obs)
		report.Results = append(report.Results, res)
		obs.ItemFinished(res)
		if ctx.Err() != nil {
			break
		}
	}

	report.Finished = time.Now()
	obs.RunFinished(report)
	return report
}

func (b *Batch) runItem(ctx context.Context, item WorkItem, obs Observer) ItemResult {
	start := time.Now()
	timeout := b.Policy.ItemTimeout
	if b.Debug {
		timeout = b.Policy.DebugTimeout
	}

	guard := &itemGuard{Observer: obs}
	var attempts atomic.Int32
	err := WithWatchdog(ctx, timeout, item.ID, func(ctx context.Context) error {
		ctx = WithObserver(ctx, guard)
		_, err := Retry(ctx, b.Policy.Item, func(ctx context.Context, attempt int) error {
			attempts.Store(int32(attempt))
			guard.ItemStarted(item, attempt)
			return b.Processor.Process(ctx, item)
		}, RetryOptions{
			OnFailure: func(attempt int, err error) {
				guard.AttemptFailed(item, attempt, err)
			},
		})
		return err
	})
	lastStage := guard.finish()

	res := ItemResult{
		ItemID:   item.ID,
		Category: item.Category,
		Attempts: int(attempts.Load()),
		Duration: time.Since(start),
	}
	switch {
	case err != nil:
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Stage = StageOf(err)
		if res.Stage == "" {
			res.Stage = lastStage
		}
		if res.Stage == "" {
			res.Stage = StageItem
		}
	case b.DryRun:
		res.Status = StatusDryRun
	default:
		res.Status = StatusBooked
	}
	return res
}

package engine

import (
	"context"
	"log"
	"sync"
	"time"
)

// Observer receives progress events from the batch. Implementations must not block.
type Observer interface {
	RunStarted(runID string, items []WorkItem)
	ItemStarted(item WorkItem, attempt int)
	StageEntered(item WorkItem, stage Stage)
	StrategyTried(item WorkItem, result StrategyResult)
	AttemptFailed(item WorkItem, attempt int, err error)
	ItemFinished(result ItemResult)
	RunFinished(report Report)
}

type observerKey struct{}

// WithObserver returns a context whose item events go to obs.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

// ObserverFrom returns the observer carried by ctx, or fallback.
func ObserverFrom(ctx context.Context, fallback Observer) Observer {
	if obs, ok := ctx.Value(observerKey{}).(Observer); ok && obs != nil {
		return obs
	}
	if fallback == nil {
		return nopObserver{}
	}
	return fallback
}

// itemGuard forwards the events of one item until finish is called. Work the
// watchdog abandoned keeps running, and its late events are dropped.
type itemGuard struct {
	Observer

	mu    sync.Mutex
	done  bool
	stage Stage
}

func (g *itemGuard) ItemStarted(item WorkItem, attempt int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.done {
		g.Observer.ItemStarted(item, attempt)
	}
}

func (g *itemGuard) StageEntered(item WorkItem, stage Stage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.done {
		g.stage = stage
		g.Observer.StageEntered(item, stage)
	}
}

func (g *itemGuard) StrategyTried(item WorkItem, result StrategyResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.done {
		g.Observer.StrategyTried(item, result)
	}
}

func (g *itemGuard) AttemptFailed(item WorkItem, attempt int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.done {
		g.Observer.AttemptFailed(item, attempt, err)
	}
}

// finish closes the guard and returns the last stage entered.
func (g *itemGuard) finish() Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done = true
	return g.stage
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) RunStarted(runID string, items []WorkItem) {
	for _, ob := range o {
		ob.RunStarted(runID, items)
	}
}

func (o Observers) ItemStarted(item WorkItem, attempt int) {
	for _, ob := range o {
		ob.ItemStarted(item, attempt)
	}
}

func (o Observers) StageEntered(item WorkItem, stage Stage) {
	for _, ob := range o {
		ob.StageEntered(item, stage)
	}
}

func (o Observers) StrategyTried(item WorkItem, result StrategyResult) {
	for _, ob := range o {
		ob.StrategyTried(item, result)
	}
}

func (o Observers) AttemptFailed(item WorkItem, attempt int, err error) {
	for _, ob := range o {
		ob.AttemptFailed(item, attempt, err)
	}
}

func (o Observers) ItemFinished(result ItemResult) {
	for _, ob := range o {
		ob.ItemFinished(result)
	}
}

func (o Observers) RunFinished(report Report) {
	for _, ob := range o {
		ob.RunFinished(report)
	}
}

// LogObserver writes progress through the standard logger.
type LogObserver struct {
	// Verbose also logs stage transitions and discovery strategies.
	Verbose bool
}

func (l LogObserver) RunStarted(runID string, items []WorkItem) {
	log.Printf("run %s: %d work items", runID, len(items))
}

func (l LogObserver) ItemStarted(item WorkItem, attempt int) {
	log.Printf("%s (%s): attempt %d", item.ID, item.Category, attempt)
}

func (l LogObserver) StageEntered(item WorkItem, stage Stage) {
	if l.Verbose {
		log.Printf("%s: %s", item.ID, stage)
	}
}

func (l LogObserver) StrategyTried(item WorkItem, result StrategyResult) {
	if !l.Verbose {
		return
	}
	if result.Opened {
		log.Printf("%s: overlay opened by %s", item.ID, result.Strategy)
		return
	}
	log.Printf("%s: strategy %s did not open the overlay", item.ID, result.Strategy)
}

func (l LogObserver) AttemptFailed(item WorkItem, attempt int, err error) {
	log.Printf("%s: attempt %d failed: %v", item.ID, attempt, err)
}

func (l LogObserver) ItemFinished(result ItemResult) {
	if result.Status == StatusBooked || result.Status == StatusDryRun {
		log.Printf("%s: %s as %s after %d attempt(s) in %s", result.ItemID, result.Status, result.Category, result.Attempts, result.Duration.Round(time.Millisecond))
		return
	}
	log.Printf("%s: failed at %s: %s", result.ItemID, result.Stage, result.Error)
}

func (l LogObserver) RunFinished(report Report) {
	log.Printf("run %s finished: %d booked, %d failed", report.RunID, len(report.Succeeded()), len(report.Failed()))
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, []WorkItem)          {}
func (nopObserver) ItemStarted(WorkItem, int)              {}
func (nopObserver) StageEntered(WorkItem, Stage)           {}
func (nopObserver) StrategyTried(WorkItem, StrategyResult) {}
func (nopObserver) AttemptFailed(WorkItem, int, error)     {}
func (nopObserver) ItemFinished(ItemResult)                {}
func (nopObserver) RunFinished(Report)                     {}

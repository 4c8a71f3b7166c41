package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebooker/internal/engine"
	"timebooker/internal/engine/fakeui"
)

// fakeWorkspace serves one page with the overlay and one booking form per item.
type fakeWorkspace struct {
	page    *overlayPage
	form    *fakeui.Doc
	listing *fakeui.Doc

	mu        sync.Mutex
	current   string
	stuck     map[string]bool
	fillFails map[string]int
	opened    map[string]int
	filled    map[string]string
	saved     []string
}

func newFakeWorkspace() *fakeWorkspace {
	ws := &fakeWorkspace{
		page:      newOverlayPage(false),
		listing:   fakeui.New(),
		stuck:     map[string]bool{},
		fillFails: map[string]int{},
		opened:    map[string]int{},
		filled:    map[string]string{},
	}
	ws.page.addLeaf(ws.page.tree, "Home Office")
	ws.page.addLeaf(ws.page.tree, "Büro")
	ws.form, _ = formWithTrigger(ws.page)

	// Apply only closes the overlay for items that are not stuck.
	apply := ws.page.page.Node("portal apply", "Übernehmen").SetParent(ws.page.overlay)
	apply.OnClick(func() {
		ws.mu.Lock()
		stuck := ws.stuck[ws.current]
		ws.mu.Unlock()
		if !stuck {
			ws.page.overlay.SetVisible(false)
		}
	})
	ws.page.page.Add("#portal-apply", apply)
	return ws
}

func (w *fakeWorkspace) selectors() engine.Selectors {
	s := sel
	s.Apply = "#portal-apply"
	return s
}

func (w *fakeWorkspace) Root(context.Context) (engine.Scope, error) { return w.page.page, nil }

func (w *fakeWorkspace) Listing(context.Context) (engine.Scope, error) { return w.listing, nil }

func (w *fakeWorkspace) OpenSubForm(_ context.Context, _ engine.Scope, item engine.WorkItem) (engine.Scope, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = item.ID
	w.opened[item.ID]++
	return w.form, nil
}

func (w *fakeWorkspace) FillTimes(_ context.Context, _ engine.Scope, start, end string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fillFails[w.current] > 0 {
		w.fillFails[w.current]--
		return fmt.Errorf("%w: start field detached", engine.ErrSubFormInvalid)
	}
	w.filled[w.current] = start + "-" + end
	return nil
}

func (w *fakeWorkspace) SaveAndClose(context.Context, engine.Scope, engine.Scope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, w.current)
	return nil
}

func (w *fakeWorkspace) newProcessor(skipCommit bool) *engine.Processor {
	return engine.NewProcessor(w, engine.Config{
		Policy:     fastPolicy(),
		Selectors:  w.selectors(),
		Aliases:    testAliases(),
		Start:      "09:00",
		End:        "18:00",
		SkipCommit: skipCommit,
	}, nil)
}

func TestProcessBooksItem(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ws := newFakeWorkspace()
	err := ws.newProcessor(false).Process(ctx, engine.WorkItem{ID: "2024-05-06", Category: engine.Office})
	require.NoError(t, err)

	assert.Equal(t, "09:00-18:00", ws.filled["2024-05-06"])
	assert.Equal(t, []string{"2024-05-06"}, ws.saved)
	assert.False(t, ws.page.overlay.IsVisible())

	assert.Equal(t, "Büro", chosen(ws.page))
}

func TestProcessReopensFormWhenFillFails(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ws := newFakeWorkspace()
	ws.fillFails["2024-05-07"] = 2
	err := ws.newProcessor(false).Process(ctx, engine.WorkItem{ID: "2024-05-07", Category: engine.Remote})
	require.NoError(t, err)
	assert.Equal(t, 3, ws.opened["2024-05-07"])
	assert.Equal(t, "09:00-18:00", ws.filled["2024-05-07"])
}

func TestProcessAttributesFailureToStage(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ws := newFakeWorkspace()
	ws.fillFails["2024-05-08"] = 10
	err := ws.newProcessor(false).Process(ctx, engine.WorkItem{ID: "2024-05-08", Category: engine.Remote})

	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "2024-05-08", se.ItemID)
	assert.Equal(t, engine.StageFill, se.Stage)
	assert.ErrorIs(t, err, engine.ErrSubFormInvalid)
	assert.Empty(t, ws.saved)
}

func TestProcessSkipCommit(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ws := newFakeWorkspace()
	require.NoError(t, ws.newProcessor(true).Process(ctx, engine.WorkItem{ID: "2024-05-09", Category: engine.Remote}))
	assert.Empty(t, ws.saved)
	assert.False(t, ws.page.overlay.IsVisible())
}

func TestBatchContinuesPastFailedItem(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ws := newFakeWorkspace()
	ws.stuck["2024-05-07"] = true
	items := []engine.WorkItem{
		{ID: "2024-05-06", Category: engine.Remote},
		{ID: "2024-05-07", Category: engine.Remote},
		{ID: "2024-05-08", Category: engine.Office},
	}

	rec := &recordingObserver{}
	b := &engine.Batch{Processor: ws.newProcessor(false), Policy: fastPolicy(), Observer: rec}
	report := b.Run(ctx, items)

	require.Len(t, report.Results, 3)
	assert.NotEmpty(t, report.RunID)

	first, second, third := report.Results[0], report.Results[1], report.Results[2]
	assert.Equal(t, engine.StatusBooked, first.Status)
	assert.Equal(t, 1, first.Attempts)

	assert.Equal(t, engine.StatusFailed, second.Status)
	assert.Equal(t, engine.StageApply, second.Stage)
	assert.Equal(t, 3, second.Attempts)
	assert.Contains(t, second.Error, engine.ErrDidNotClose.Error())

	assert.Equal(t, engine.StatusBooked, third.Status)
	assert.Equal(t, []string{"2024-05-06", "2024-05-08"}, ws.saved)

	assert.Len(t, report.Succeeded(), 2)
	assert.Len(t, report.Failed(), 1)
	assert.Equal(t, 3, rec.count("attempt-failed"))
	assert.Equal(t, 1, rec.count("run-finished"))
}

func TestBatchWatchdogFailsOnlyTheSlowItem(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	policy := fastPolicy()
	policy.ItemTimeout = 30 * time.Millisecond
	proc := processorFunc(func(ctx context.Context, item engine.WorkItem) error {
		if item.ID == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	report := (&engine.Batch{Processor: proc, Policy: policy}).Run(ctx, []engine.WorkItem{
		{ID: "slow", Category: engine.Remote},
		{ID: "fast", Category: engine.Office},
	})

	require.Len(t, report.Results, 2)
	assert.Equal(t, engine.StatusFailed, report.Results[0].Status)
	assert.Equal(t, engine.StageItem, report.Results[0].Stage)
	assert.Contains(t, report.Results[0].Error, engine.ErrTimeout.Error())
	assert.Equal(t, engine.StatusBooked, report.Results[1].Status)
}

func TestBatchWatchdogNamesRunningStage(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	policy := fastPolicy()
	policy.ItemTimeout = 30 * time.Millisecond
	proc := processorFunc(func(ctx context.Context, item engine.WorkItem) error {
		engine.ObserverFrom(ctx, nil).StageEntered(item, engine.StageSelect)
		<-ctx.Done()
		return ctx.Err()
	})

	report := (&engine.Batch{Processor: proc, Policy: policy}).Run(ctx, []engine.WorkItem{{ID: "slow", Category: engine.Remote}})
	require.Len(t, report.Results, 1)
	assert.Equal(t, engine.StatusFailed, report.Results[0].Status)
	assert.Equal(t, engine.StageSelect, report.Results[0].Stage)
	assert.Contains(t, report.Results[0].Error, engine.ErrTimeout.Error())
}

func TestBatchDropsEventsOfAbandonedItem(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	policy := fastPolicy()
	policy.ItemTimeout = 30 * time.Millisecond
	release := make(chan struct{})
	returned := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, item engine.WorkItem) error {
		defer close(returned)
		obs := engine.ObserverFrom(ctx, nil)
		obs.StageEntered(item, engine.StageOpen)
		// Ignores cancellation, like a browser call that hangs.
		<-release
		obs.StageEntered(item, engine.StageFill)
		return &engine.StageError{ItemID: item.ID, Stage: engine.StageFill, Err: engine.ErrSubFormInvalid}
	})

	rec := &recordingObserver{}
	report := (&engine.Batch{Processor: proc, Policy: policy, Observer: rec}).Run(ctx, []engine.WorkItem{{ID: "hung", Category: engine.Office}})
	require.Len(t, report.Results, 1)
	assert.Equal(t, engine.StageOpen, report.Results[0].Stage)

	close(release)
	<-returned
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, rec.count("stage"))
	assert.Equal(t, 0, rec.count("attempt-failed"))
	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	assert.Equal(t, "run-finished", last)
}

func TestBatchDryRunStatus(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	proc := processorFunc(func(context.Context, engine.WorkItem) error { return nil })
	report := (&engine.Batch{Processor: proc, Policy: fastPolicy(), DryRun: true}).Run(ctx, []engine.WorkItem{{ID: "d", Category: engine.Remote}})
	require.Len(t, report.Results, 1)
	assert.Equal(t, engine.StatusDryRun, report.Results[0].Status)
	assert.Len(t, report.Succeeded(), 1)
}

func TestBatchDoesNotRetryValidationFailure(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	calls := 0
	proc := processorFunc(func(context.Context, engine.WorkItem) error {
		calls++
		return &engine.StageError{ItemID: "d", Stage: engine.StageSelect, Err: engine.ErrValidationFailed}
	})
	report := (&engine.Batch{Processor: proc, Policy: fastPolicy()}).Run(ctx, []engine.WorkItem{{ID: "d", Category: engine.Remote}})
	assert.Equal(t, 1, calls)
	assert.Equal(t, engine.StageSelect, report.Results[0].Stage)
	assert.Equal(t, 1, report.Results[0].Attempts)
}

type processorFunc func(ctx context.Context, item engine.WorkItem) error

func (f processorFunc) Process(ctx context.Context, item engine.WorkItem) error { return f(ctx, item) }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) count(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

func (r *recordingObserver) RunStarted(string, []engine.WorkItem)                 { r.add("run-started") }
func (r *recordingObserver) ItemStarted(engine.WorkItem, int)                     { r.add("item-started") }
func (r *recordingObserver) StageEntered(engine.WorkItem, engine.Stage)           { r.add("stage") }
func (r *recordingObserver) StrategyTried(engine.WorkItem, engine.StrategyResult) { r.add("strategy") }
func (r *recordingObserver) AttemptFailed(engine.WorkItem, int, error)            { r.add("attempt-failed") }
func (r *recordingObserver) ItemFinished(engine.ItemResult)                       { r.add("item-finished") }
func (r *recordingObserver) RunFinished(engine.Report)                            { r.add("run-finished") }

// chosen returns the label of the selected leaf, read straight from the fixture.
func chosen(p *overlayPage) string {
	ctx := context.Background()
	p.mu.Lock()
	leaves := append([]*leaf(nil), p.leaves...)
	p.mu.Unlock()
	for _, l := range leaves {
		if ok, _ := l.node.HasClass(ctx, sel.SelectedClass); ok {
			txt, _ := l.title.Text(ctx)
			return txt
		}
	}
	return ""
}

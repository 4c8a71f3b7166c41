package engine

import (
	"context"
	"fmt"
	"log"
)

// Workspace is the portal side of a booking: everything the engine needs but does not
// own. Implementations must return fresh handles on every call.
type Workspace interface {
	// Root is the top-level document the overlay renders into.
	Root(ctx context.Context) (Scope, error)
	// Listing re-acquires the context from which work items are reachable.
	Listing(ctx context.Context) (Scope, error)
	// OpenSubForm opens the booking form of item and returns its document.
	OpenSubForm(ctx context.Context, listing Scope, item WorkItem) (Scope, error)
	// FillTimes must be safe to call again on a re-opened form.
	FillTimes(ctx context.Context, form Scope, start, end string) error
	// SaveAndClose commits the form and waits until the listing is usable again.
	SaveAndClose(ctx context.Context, form, listing Scope) error
}

// Config is everything the engine is parameterised with. It is passed in explicitly;
// the engine never reads ambient state.
type Config struct {
	Policy    Policy
	Selectors Selectors
	Aliases   AliasSet
	// Start and End are the time field values, e.g. "09:00".
	Start string
	End   string
	// SkipCommit leaves the form unsaved after a successful apply.
	SkipCommit bool
}

// Processor runs the per-item sequence once. It does not retry the whole item.
type Processor struct {
	Workspace  Workspace
	Config     Config
	Discoverer *Discoverer
	Selector   *Selector
	Applier    *Applier
	Observer   Observer
}

// NewProcessor wires the engine components from cfg.
func NewProcessor(ws Workspace, cfg Config, obs Observer) *Processor {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Processor{
		Workspace:  ws,
		Config:     cfg,
		Discoverer: NewDiscoverer(cfg.Selectors, cfg.Policy),
		Selector:   NewSelector(cfg.Selectors, cfg.Policy, cfg.Aliases),
		Applier:    NewApplier(cfg.Selectors, cfg.Policy),
		Observer:   obs,
	}
}

// Process books one item. Every returned error is a *StageError. Events go to the
// observer carried by ctx when there is one.
func (p *Processor) Process(ctx context.Context, item WorkItem) error {
	obs := ObserverFrom(ctx, p.Observer)

	obs.StageEntered(item, StageContext)
	root, err := p.Workspace.Root(ctx)
	if err != nil {
		return stageErr(item, StageContext, err)
	}
	listing, err := p.Workspace.Listing(ctx)
	if err != nil {
		return stageErr(item, StageContext, err)
	}

	obs.StageEntered(item, StageOpen)
	form, err := p.Workspace.OpenSubForm(ctx, listing, item)
	if err != nil {
		return stageErr(item, StageOpen, err)
	}

	obs.StageEntered(item, StageFill)
	_, err = Retry(ctx, p.Config.Policy.Fill, func(ctx context.Context, _ int) error {
		return p.Workspace.FillTimes(ctx, form, p.Config.Start, p.Config.End)
	}, RetryOptions{
		BeforeRetry: func(ctx context.Context, attempt int) error {
			if listing, err = p.Workspace.Listing(ctx); err != nil {
				return fmt.Errorf("%w: listing: %v", ErrSubFormInvalid, err)
			}
			if form, err = p.Workspace.OpenSubForm(ctx, listing, item); err != nil {
				return fmt.Errorf("%w: reopen: %v", ErrSubFormInvalid, err)
			}
			return nil
		},
		OnFailure: func(attempt int, err error) {
			log.Printf("%s: fill attempt %d failed: %v", item.ID, attempt, err)
		},
	})
	if err != nil {
		return stageErr(item, StageFill, err)
	}

	obs.StageEntered(item, StageOverlay)
	if err := p.prepareOverlay(ctx, root, item); err != nil {
		return stageErr(item, StageOverlay, err)
	}
	results, err := p.Discoverer.Open(ctx, root, form)
	for _, r := range results {
		obs.StrategyTried(item, r)
	}
	if err != nil {
		return stageErr(item, StageOverlay, err)
	}

	obs.StageEntered(item, StageSelect)
	if _, err := p.Selector.Select(ctx, root, item.Category); err != nil {
		return stageErr(item, StageSelect, err)
	}

	obs.StageEntered(item, StageApply)
	if err := p.Applier.ApplyAndClose(ctx, root); err != nil {
		return stageErr(item, StageApply, err)
	}

	if p.Config.SkipCommit {
		log.Printf("%s: dry run, form left unsaved", item.ID)
		return nil
	}
	obs.StageEntered(item, StageSave)
	if err := p.Workspace.SaveAndClose(ctx, form, listing); err != nil {
		return stageErr(item, StageSave, err)
	}
	return nil
}

// prepareOverlay keeps an open overlay that already shows an acceptable selection and
// closes any other open overlay.
func (p *Processor) prepareOverlay(ctx context.Context, root Scope, item WorkItem) error {
	state, err := ObserveOverlay(ctx, root, p.Config.Selectors)
	if err != nil {
		return err
	}
	switch {
	case !state.Open():
		return nil
	case state.Phase == OverlayOpenSelected && p.Config.Aliases.Match(item.Category, state.Selection):
		return nil
	}
	return EnsureClosed(ctx, root, p.Config.Selectors, p.Config.Policy)
}

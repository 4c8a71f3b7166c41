package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StrategyResult is the outcome of one discovery heuristic.
type StrategyResult struct {
	Strategy string        `json:"strategy"`
	Opened   bool          `json:"opened"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Strategy is one heuristic for making the overlay appear. Try reports whether the
// overlay is visibly open when it returns; an error aborts only this strategy.
type Strategy struct {
	Name string
	Try  func(ctx context.Context, d *Discoverer, root, source Scope) (bool, error)
}

// Discoverer opens the overlay from a source context (the booking form) by walking an
// ordered strategy chain and stopping at the first success.
type Discoverer struct {
	Selectors  Selectors
	Policy     Policy
	Strategies []Strategy
}

// NewDiscoverer builds a discoverer with the default strategy chain.
func NewDiscoverer(sel Selectors, policy Policy) *Discoverer {
	return &Discoverer{Selectors: sel, Policy: policy, Strategies: DefaultStrategies()}
}

// DefaultStrategies returns the chain in the order it must run.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "already-open", Try: tryAlreadyOpen},
		{Name: "structural-trigger", Try: tryStructuralTriggers},
		{Name: "text-scan", Try: tryTextScan},
		{Name: "label-activation", Try: tryLabelActivation},
		{Name: "double-activation", Try: tryDoubleActivation},
	}
}

// Open runs the chain. root is where the overlay renders, source holds its trigger.
// Strategies never run in parallel and none runs again after one succeeds.
func (d *Discoverer) Open(ctx context.Context, root, source Scope) ([]StrategyResult, error) {
	results := make([]StrategyResult, 0, len(d.Strategies))
	for _, s := range d.Strategies {
		start := time.Now()
		opened, err := s.Try(ctx, d, root, source)
		res := StrategyResult{Strategy: s.Name, Opened: opened, Duration: time.Since(start)}
		if err != nil {
			res.Err = err.Error()
		}
		results = append(results, res)
		if opened {
			return results, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return results, err
		}
	}
	return results, fmt.Errorf("%w: %d strategies exhausted", ErrOverlayNotFound, len(d.Strategies))
}

// waitOpen polls for the overlay for at most timeout.
func (d *Discoverer) waitOpen(ctx context.Context, root Scope, timeout time.Duration) (bool, error) {
	_, err := Locate(ctx, root, d.Selectors.Overlay, LocateOptions{Visible: true, Timeout: timeout, Poll: d.Policy.PollInterval})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// triggerCandidates returns the structural triggers whose own label fits the vocabulary.
func (d *Discoverer) triggerCandidates(ctx context.Context, source Scope) []Element {
	var out []Element
	for _, sel := range d.Selectors.Triggers {
		els, err := source.FindAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if d.Selectors.TriggerVocabulary.Matches(textOf(ctx, el)) {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

func tryAlreadyOpen(ctx context.Context, d *Discoverer, root, _ Scope) (bool, error) {
	return isVisible(ctx, root, d.Selectors.Overlay)
}

func tryStructuralTriggers(ctx context.Context, d *Discoverer, root, source Scope) (bool, error) {
	for _, el := range d.triggerCandidates(ctx, source) {
		if err := el.Click(ctx); err != nil {
			continue
		}
		if ok, err := d.waitOpen(ctx, root, d.Policy.StrategyTimeout); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

func tryTextScan(ctx context.Context, d *Discoverer, root, source Scope) (bool, error) {
	el := findByVocabulary(ctx, source, d.Selectors.TextScan, d.Selectors.TriggerVocabulary)
	if el == nil {
		return false, nil
	}
	if err := el.Click(ctx); err != nil {
		return false, err
	}
	return d.waitOpen(ctx, root, d.Policy.StrategyTimeout)
}

func tryLabelActivation(ctx context.Context, d *Discoverer, root, source Scope) (bool, error) {
	field := d.fieldByLabel(ctx, source)
	if field == nil {
		return false, nil
	}
	if err := field.Focus(ctx); err != nil {
		return false, err
	}
	for _, key := range []Key{KeyEnter, KeySpace} {
		if err := source.Press(ctx, key); err != nil {
			continue
		}
		if ok, err := d.waitOpen(ctx, root, d.Policy.KeyTimeout); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

// fieldByLabel finds a label matching the vocabulary and returns the first control in
// its row.
func (d *Discoverer) fieldByLabel(ctx context.Context, source Scope) Element {
	labels, err := source.FindAll(ctx, d.Selectors.LabelScan)
	if err != nil {
		return nil
	}
	for _, label := range labels {
		if !d.Selectors.TriggerVocabulary.Matches(textOf(ctx, label)) {
			continue
		}
		row, err := label.Closest(ctx, d.Selectors.LabelRow)
		if err != nil {
			continue
		}
		if field, err := row.Find(ctx, d.Selectors.LabelField); err == nil {
			return field
		}
	}
	return nil
}

func tryDoubleActivation(ctx context.Context, d *Discoverer, root, source Scope) (bool, error) {
	for _, el := range d.triggerCandidates(ctx, source) {
		if err := el.DoubleClick(ctx); err != nil {
			continue
		}
		if ok, err := d.waitOpen(ctx, root, d.Policy.KeyTimeout); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

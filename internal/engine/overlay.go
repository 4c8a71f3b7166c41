package engine

import (
	"context"
	"log"
)

// OverlayPhase is the coarse observable state of the selection overlay.
type OverlayPhase int

const (
	OverlayClosed OverlayPhase = iota
	OverlayOpenEmpty
	OverlayOpenSelected
)

func (p OverlayPhase) String() string {
	switch p {
	case OverlayOpenEmpty:
		return "open-empty"
	case OverlayOpenSelected:
		return "open-with-selection"
	default:
		return "closed"
	}
}

// OverlayState is observed right before acting and never cached.
type OverlayState struct {
	Phase     OverlayPhase
	Selection string
}

// Open reports whether the overlay is visible.
func (s OverlayState) Open() bool { return s.Phase != OverlayClosed }

// ObserveOverlay reads the overlay state from root.
func ObserveOverlay(ctx context.Context, root Scope, sel Selectors) (OverlayState, error) {
	open, err := isVisible(ctx, root, sel.Overlay)
	if err != nil {
		return OverlayState{}, err
	}
	if !open {
		return OverlayState{Phase: OverlayClosed}, nil
	}
	text, found, err := selectedLabel(ctx, root, sel)
	if err != nil {
		return OverlayState{}, err
	}
	if !found {
		return OverlayState{Phase: OverlayOpenEmpty}, nil
	}
	return OverlayState{Phase: OverlayOpenSelected, Selection: text}, nil
}

// EnsureClosed dismisses a stale overlay: a cancel control by vocabulary, then Escape,
// then a bounded wait. It never fails on a stubborn overlay; discovery will reuse it.
func EnsureClosed(ctx context.Context, root Scope, sel Selectors, policy Policy) error {
	open, err := isVisible(ctx, root, sel.Overlay)
	if err != nil || !open {
		return err
	}
	if btn := findByVocabulary(ctx, root, sel.CancelScan, sel.CancelVocabulary); btn != nil {
		_ = btn.Click(ctx)
	}
	_ = root.Press(ctx, KeyEscape)
	closed, err := WaitHidden(ctx, root, sel.Overlay, policy.CloseTimeout, policy.PollInterval)
	if err != nil {
		return err
	}
	if !closed {
		log.Printf("stale overlay still open after %s", policy.CloseTimeout)
	}
	return nil
}

// findByVocabulary returns the first visible element under scan whose text matches vocab.
func findByVocabulary(ctx context.Context, scope Scope, scan string, vocab Vocabulary) Element {
	if scan == "" || len(vocab) == 0 {
		return nil
	}
	els, err := scope.FindAll(ctx, scan)
	if err != nil {
		return nil
	}
	for _, el := range els {
		if !vocab.Matches(textOf(ctx, el)) {
			continue
		}
		if ok, err := el.Visible(ctx); err == nil && ok {
			return el
		}
	}
	return nil
}

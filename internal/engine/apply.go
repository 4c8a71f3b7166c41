package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Applier confirms the overlay selection and waits for the overlay to close.
type Applier struct {
	Selectors Selectors
	Policy    Policy
}

// NewApplier returns an Applier.
func NewApplier(sel Selectors, policy Policy) *Applier {
	return &Applier{Selectors: sel, Policy: policy}
}

// ApplyAndClose invokes the apply control and acknowledges any blocking alert until
// the overlay closes. With nothing selected it returns ErrNoSelection without clicking.
func (a *Applier) ApplyAndClose(ctx context.Context, root Scope) error {
	if _, found, err := selectedLabel(ctx, root, a.Selectors); err != nil {
		return err
	} else if !found {
		return ErrNoSelection
	}

	attempts := a.Policy.ApplyAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if err := sleepWithContext(ctx, a.Policy.ApplySettle); err != nil {
			return err
		}
		btn := a.applyControl(ctx, root)
		if btn == nil {
			log.Printf("apply control not found (attempt %d/%d)", i, attempts)
		} else if err := btn.Click(ctx); err != nil {
			log.Printf("apply click failed (attempt %d/%d): %v", i, attempts, err)
		}

		closed, err := WaitHidden(ctx, root, a.Selectors.Overlay, a.Policy.ApplyCloseTimeout, a.Policy.PollInterval)
		if err != nil || closed {
			return err
		}

		handled, err := a.acknowledgeAlert(ctx, root)
		if err != nil {
			return err
		}
		if handled {
			continue
		}

		closed, err = WaitHidden(ctx, root, a.Selectors.Overlay, a.Policy.ApplyLateTimeout, a.Policy.PollInterval)
		if err != nil || closed {
			return err
		}
	}

	closed, err := WaitHidden(ctx, root, a.Selectors.Overlay, a.Policy.FinalCloseTimeout, a.Policy.PollInterval)
	if err != nil {
		return err
	}
	if !closed {
		return fmt.Errorf("%w after %d apply attempts", ErrDidNotClose, attempts)
	}
	return nil
}

// applyControl looks the control up structurally first, then by its wording.
func (a *Applier) applyControl(ctx context.Context, root Scope) Element {
	if a.Selectors.Apply != "" {
		if el, err := root.Find(ctx, a.Selectors.Apply); err == nil {
			if ok, err := el.Visible(ctx); err == nil && ok {
				return el
			}
		}
	}
	return findByVocabulary(ctx, root, a.Selectors.ApplyScan, a.Selectors.ApplyVocabulary)
}

// acknowledgeAlert clicks the OK control of a visible confirmation box and waits for it
// to clear. It reports false when no alert was showing.
func (a *Applier) acknowledgeAlert(ctx context.Context, root Scope) (bool, error) {
	if a.Selectors.Alert == "" {
		return false, nil
	}
	visible, err := isVisible(ctx, root, a.Selectors.Alert)
	if err != nil || !visible {
		return false, err
	}
	if txt, err := root.Find(ctx, a.Selectors.Alert); err == nil {
		msg, _ := txt.Text(ctx)
		log.Printf("confirmation shown while applying: %q", normalize(msg))
	}

	for _, sel := range a.Selectors.AlertOK {
		ok, err := root.Find(ctx, sel)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if err := ok.Click(ctx); err != nil {
			log.Printf("alert acknowledge failed: %v", err)
			continue
		}
		break
	}
	if _, err := WaitHidden(ctx, root, a.Selectors.Alert, a.Policy.AlertTimeout, a.Policy.PollInterval); err != nil {
		return false, err
	}
	return true, sleepWithContext(ctx, a.Policy.AlertSettle)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Scope lookups when nothing matches.
var ErrNotFound = errors.New("element not found")

// Key names a keyboard key the engine may simulate.
type Key string

const (
	KeyEnter  Key = "Enter"
	KeySpace  Key = "Space"
	KeyEscape Key = "Escape"
)

// Scope is a searchable region of the remote UI: a page, a frame, or an element subtree.
// Lookups never wait; waiting is layered on top by Locate and WaitHidden.
type Scope interface {
	// Find returns the first match in document order, or ErrNotFound.
	Find(ctx context.Context, selector string) (Element, error)
	// FindAll returns every match in document order (possibly none).
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// Press sends a key to whatever currently has focus.
	Press(ctx context.Context, key Key) error
}

// Element is a handle to one node of the remote tree.
// Handles go stale when the remote UI re-renders; callers re-acquire them from a Scope
// instead of holding them across steps.
type Element interface {
	Scope

	Click(ctx context.Context) error
	DoubleClick(ctx context.Context) error
	Focus(ctx context.Context) error
	// Input replaces the element's value and fires input/change events.
	Input(ctx context.Context, value string) error

	Text(ctx context.Context) (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(ctx context.Context, name string) (string, error)
	Visible(ctx context.Context) (bool, error)
	Checked(ctx context.Context) (bool, error)
	HasClass(ctx context.Context, class string) (bool, error)

	// Closest returns the nearest ancestor (or self) matching selector.
	Closest(ctx context.Context, selector string) (Element, error)
	// NextSibling returns the first following sibling matching selector.
	NextSibling(ctx context.Context, selector string) (Element, error)
	// Frame returns the document of an iframe element.
	Frame(ctx context.Context) (Scope, error)
}

// LocateOptions tunes Locate.
type LocateOptions struct {
	Visible bool
	Timeout time.Duration
	// Poll is the interval between lookups; zero means 100ms.
	Poll time.Duration
}

// Locate finds selector in scope, polling until it exists (and is visible when requested)
// or the timeout elapses. A zero timeout performs exactly one lookup.
func Locate(ctx context.Context, scope Scope, selector string, opts LocateOptions) (Element, error) {
	poll := opts.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(opts.Timeout)
	for {
		el, err := scope.Find(ctx, selector)
		if err == nil {
			if !opts.Visible {
				return el, nil
			}
			if ok, verr := el.Visible(ctx); verr == nil && ok {
				return el, nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		if err := sleepWithContext(ctx, poll); err != nil {
			return nil, err
		}
	}
}

// WaitHidden polls until selector is absent or invisible in scope.
// It returns false when the timeout elapses first.
func WaitHidden(ctx context.Context, scope Scope, selector string, timeout, poll time.Duration) (bool, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		visible, err := isVisible(ctx, scope, selector)
		if err != nil {
			return false, err
		}
		if !visible {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleepWithContext(ctx, poll); err != nil {
			return false, err
		}
	}
}

// isVisible reports whether selector currently matches a visible element.
func isVisible(ctx context.Context, scope Scope, selector string) (bool, error) {
	el, err := scope.Find(ctx, selector)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	ok, err := el.Visible(ctx)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// textOf returns the trimmed text of el, or its aria-label when it has no text.
func textOf(ctx context.Context, el Element) string {
	txt, err := el.Text(ctx)
	if err == nil && normalize(txt) != "" {
		return txt
	}
	label, err := el.Attribute(ctx, "aria-label")
	if err == nil {
		return label
	}
	return ""
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

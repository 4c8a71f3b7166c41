// Package portal drives the rexx time-management pages: login, the "Mein Zeitmanagement"
// listing and the per-day booking form. Every step is written against engine.Scope so
// the same code runs on rod and on the in-memory fake.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"timebooker/internal/config"
	"timebooker/internal/engine"
)

var (
	ErrNoBookingLink    = errors.New("no booking link in row")
	ErrFormNotLoaded    = errors.New("booking form not loaded")
	ErrTimeFields       = errors.New("time input fields not found in form")
	ErrStartField       = errors.New("start time field not found in form")
	ErrEndField         = errors.New("end time field not found in form")
	ErrNoSaveButton     = errors.New("save button missing in form")
	ErrMissingLoginForm = errors.New("login form not found")
)

// Driver is the browser side the portal navigates with. Session implements it.
type Driver interface {
	Root(ctx context.Context) (engine.Scope, error)
	Navigate(ctx context.Context, url string) error
	// WaitNavigation runs action and returns once the resulting navigation settled.
	WaitNavigation(ctx context.Context, action func() error) error
}

// Portal implements engine.Workspace for the rexx portal.
type Portal struct {
	Driver Driver
	Config config.PortalConfig
	Layout Layout
	// Wait bounds page-level waits (frames, menu, login fields).
	Wait time.Duration
	Poll time.Duration
	// FieldDelay separates the start and end inputs.
	FieldDelay time.Duration
	// CloseGrace is the second chance given to a form whose frame outlived the save.
	CloseGrace time.Duration
}

func New(d Driver, cfg config.PortalConfig) *Portal {
	return &Portal{
		Driver:     d,
		Config:     cfg,
		Layout:     DefaultLayout(),
		Wait:       25 * time.Second,
		Poll:       100 * time.Millisecond,
		FieldDelay: 80 * time.Millisecond,
		CloseGrace: 10 * time.Second,
	}
}

func (p *Portal) locate(ctx context.Context, scope engine.Scope, selector string, visible bool, timeout time.Duration) (engine.Element, error) {
	return engine.Locate(ctx, scope, selector, engine.LocateOptions{Visible: visible, Timeout: timeout, Poll: p.Poll})
}

// frame waits for the iframe selector in scope and returns its document.
func (p *Portal) frame(ctx context.Context, scope engine.Scope, selector string, visible bool, timeout time.Duration) (engine.Scope, error) {
	el, err := p.locate(ctx, scope, selector, visible, timeout)
	if err != nil {
		return nil, err
	}
	return el.Frame(ctx)
}

// Login opens the login page and submits the credentials.
func (p *Portal) Login(ctx context.Context, username, password string) error {
	if err := p.gotoWithRetry(ctx, p.Config.LoginURL()); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	root, err := p.Driver.Root(ctx)
	if err != nil {
		return err
	}

	user, err := p.locate(ctx, root, p.Layout.Username, true, p.Wait)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingLoginForm, err)
	}
	if err := user.Input(ctx, username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}
	pass, err := p.locate(ctx, root, p.Layout.Password, true, p.Wait)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingLoginForm, err)
	}
	if err := pass.Input(ctx, password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}
	submit, err := p.locate(ctx, root, p.Layout.Submit, true, p.Wait)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingLoginForm, err)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	log.Printf("logged in as %s", username)
	return nil
}

// gotoWithRetry navigates with a fixed delay between attempts. A changed network
// waits twice as long.
func (p *Portal) gotoWithRetry(ctx context.Context, url string) error {
	delay := p.Config.GetLoginRetryDelay()
	var networkChanged bool
	_, err := engine.Retry(ctx, engine.RetryPolicy{Attempts: p.Config.GetLoginAttempts(), Delay: delay},
		func(ctx context.Context, attempt int) error {
			return p.Driver.Navigate(ctx, url)
		},
		engine.RetryOptions{
			OnFailure: func(attempt int, err error) {
				networkChanged = strings.Contains(err.Error(), "ERR_NETWORK_CHANGED")
				if networkChanged {
					log.Printf("network changed while opening %s, waiting %s before retry", url, 2*delay)
				} else {
					log.Printf("navigation to %s failed (attempt %d): %v", url, attempt, err)
				}
			},
			BeforeRetry: func(ctx context.Context, attempt int) error {
				if !networkChanged {
					return nil
				}
				return sleep(ctx, delay)
			},
		})
	return err
}

// OpenTimeManagement clicks the "Mein Zeitmanagement" menu entry of the start frame.
func (p *Portal) OpenTimeManagement(ctx context.Context) error {
	root, err := p.Driver.Root(ctx)
	if err != nil {
		return err
	}
	start, err := p.frame(ctx, root, p.Layout.StartFrame, false, p.Wait)
	if err != nil {
		return fmt.Errorf("start frame: %w", err)
	}
	menu, err := p.locate(ctx, start, p.Layout.MenuItem, true, p.Wait)
	if err != nil {
		return fmt.Errorf("time management menu: %w", err)
	}
	if err := p.Driver.WaitNavigation(ctx, func() error { return menu.Click(ctx) }); err != nil {
		return fmt.Errorf("open time management: %w", err)
	}
	log.Printf(`"Mein Zeitmanagement" opened`)
	return nil
}

// Root implements engine.Workspace.
func (p *Portal) Root(ctx context.Context) (engine.Scope, error) {
	return p.Driver.Root(ctx)
}

// Listing implements engine.Workspace. The listing frame is re-acquired on every call.
func (p *Portal) Listing(ctx context.Context) (engine.Scope, error) {
	root, err := p.Driver.Root(ctx)
	if err != nil {
		return nil, err
	}
	listing, err := p.frame(ctx, root, p.Layout.ListingFrame, false, p.Wait)
	if err != nil {
		return nil, fmt.Errorf("listing frame: %w", err)
	}
	return listing, nil
}

// ListWorkItems returns the dates of all rows whose balance equals saldo, in listing
// order and without duplicates.
func (p *Portal) ListWorkItems(ctx context.Context, saldo string) ([]string, error) {
	listing, err := p.Listing(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := listing.FindAll(ctx, p.Layout.Row)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}

	seen := make(map[string]bool)
	var dates []string
	for _, row := range rows {
		cell, err := row.Find(ctx, p.Layout.SaldoCell)
		if err != nil {
			continue
		}
		txt, err := cell.Text(ctx)
		if err != nil || strings.TrimSpace(txt) != saldo {
			continue
		}
		class, err := row.Attribute(ctx, "class")
		if err != nil {
			continue
		}
		date := rowDate(class, p.Layout.RowDatePrefix)
		if date == "" || seen[date] {
			continue
		}
		seen[date] = true
		dates = append(dates, date)
	}
	return dates, nil
}

func rowDate(class, prefix string) string {
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, prefix) {
			return strings.TrimPrefix(c, prefix)
		}
	}
	return ""
}

// OpenSubForm implements engine.Workspace: it clicks the booking link of the item's
// row and returns the form frame.
func (p *Portal) OpenSubForm(ctx context.Context, listing engine.Scope, item engine.WorkItem) (engine.Scope, error) {
	rowSel := p.Layout.Row + "." + CSSEscape(p.Layout.RowDatePrefix+item.ID)
	row, err := p.locate(ctx, listing, rowSel, false, p.Config.GetFormTimeout())
	if err != nil {
		return nil, fmt.Errorf("row for %s: %w", item.ID, err)
	}

	var link engine.Element
	for _, sel := range p.Layout.BookingLinks {
		if el, err := row.Find(ctx, sel); err == nil {
			link = el
			break
		}
	}
	if link == nil {
		return nil, ErrNoBookingLink
	}
	if err := link.Click(ctx); err != nil {
		return nil, fmt.Errorf("click booking link: %w", err)
	}

	form, err := p.frame(ctx, listing, p.Layout.FormFrame, true, p.Config.GetFormTimeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormNotLoaded, err)
	}
	return form, nil
}

// FillTimes implements engine.Workspace. Both fields are overwritten, so a second call
// on the same or a re-opened form is harmless.
func (p *Portal) FillTimes(ctx context.Context, form engine.Scope, start, end string) error {
	from, to, err := p.timeInputs(ctx, form)
	if err != nil {
		return err
	}
	if err := from.Input(ctx, start); err != nil {
		return fmt.Errorf("fill start: %w", err)
	}
	if err := sleep(ctx, p.FieldDelay); err != nil {
		return err
	}
	if err := to.Input(ctx, end); err != nil {
		return fmt.Errorf("fill end: %w", err)
	}
	return nil
}

// timeInputs polls the form until both time fields are present or the form timeout
// elapses.
func (p *Portal) timeInputs(ctx context.Context, form engine.Scope) (engine.Element, engine.Element, error) {
	deadline := time.Now().Add(p.Config.GetFormTimeout())
	for {
		from := firstOf(ctx, form, p.Layout.FromInputs)
		to := firstOf(ctx, form, p.Layout.ToInputs)
		if from == nil || to == nil {
			if both, err := form.FindAll(ctx, p.Layout.TimeInputs); err == nil && len(both) >= 2 {
				if from == nil {
					from = both[0]
				}
				if to == nil {
					to = both[1]
				}
			}
		}
		switch {
		case from != nil && to != nil:
			return from, to, nil
		case !time.Now().Before(deadline):
			if from == nil && to == nil {
				return nil, nil, ErrTimeFields
			}
			if from == nil {
				return nil, nil, ErrStartField
			}
			return nil, nil, ErrEndField
		}
		if err := sleep(ctx, p.Poll); err != nil {
			return nil, nil, err
		}
	}
}

func firstOf(ctx context.Context, scope engine.Scope, selectors []string) engine.Element {
	for _, sel := range selectors {
		if el, err := scope.Find(ctx, sel); err == nil {
			return el
		}
	}
	return nil
}

// SaveAndClose implements engine.Workspace. A form that stays open after the click is
// logged, not retried: the save may have gone through.
func (p *Portal) SaveAndClose(ctx context.Context, form, listing engine.Scope) error {
	btn := p.saveButton(ctx, form)
	if btn == nil {
		return ErrNoSaveButton
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("click save: %w", err)
	}

	closed, err := engine.WaitHidden(ctx, listing, p.Layout.FormFrame, p.Config.GetSaveTimeout(), p.Poll)
	if err != nil {
		return err
	}
	if !closed {
		closed, err = engine.WaitHidden(ctx, form, p.Layout.Save, p.CloseGrace, p.Poll)
		if err != nil {
			return err
		}
		if !closed {
			log.Printf("warning: booking form still open after save")
		}
	}

	_, err = engine.Retry(ctx, engine.RetryPolicy{Attempts: 2, Delay: 800 * time.Millisecond},
		func(ctx context.Context, attempt int) error {
			_, err := p.locate(ctx, listing, p.Layout.Widget, true, p.Wait)
			return err
		}, engine.RetryOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("warning: time management widget not visible after save: %v", err)
	}
	return nil
}

func (p *Portal) saveButton(ctx context.Context, form engine.Scope) engine.Element {
	if btn, err := form.Find(ctx, p.Layout.Save); err == nil {
		return btn
	}
	links, err := form.FindAll(ctx, p.Layout.SaveScan)
	if err != nil {
		return nil
	}
	for _, l := range links {
		txt, err := l.Text(ctx)
		if err != nil {
			continue
		}
		for _, word := range p.Layout.SaveVocabulary {
			if strings.Contains(txt, word) {
				return l
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ engine.Workspace = (*Portal)(nil)

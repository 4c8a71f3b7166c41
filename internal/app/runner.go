// Package app wires the portal, the schedule and the booking engine into batch runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"timebooker/internal/config"
	"timebooker/internal/engine"
	"timebooker/internal/mangle"
	"timebooker/internal/portal"
	"timebooker/internal/recorder"
)

// ErrBusy is returned when a run is requested while another one holds the browser.
var ErrBusy = errors.New("a booking run is already in progress")

// Portal is what a run needs from a logged-in portal session.
type Portal interface {
	engine.Workspace
	ListWorkItems(ctx context.Context, saldo string) ([]string, error)
}

// Connector opens a logged-in portal positioned on the time-management listing. The
// returned func releases the browser.
type Connector func(ctx context.Context) (Portal, func(context.Context) error, error)

// Options are fixed for the lifetime of a Runner.
type Options struct {
	// Debug runs headful, uses the interactive watchdog and never saves.
	Debug bool
	// DryRun never saves.
	DryRun bool
}

// RunOptions narrow a single run.
type RunOptions struct {
	DryRun bool
	// Dates restricts the run to these day IDs. Empty means every pending day.
	Dates []string
	// Mode overrides booking.default_mode for this run.
	Mode string
}

// Runner executes booking batches one at a time and remembers the last report.
type Runner struct {
	cfg     config.Config
	opts    Options
	connect Connector
	obs     engine.Observers

	Ledger *mangle.Ledger

	busy sync.Mutex
	mu   sync.Mutex
	last *engine.Report
}

// NewRunner composes the log observer with the fact ledger (when ledger is non-nil)
// and the trace recorder (when enabled in cfg).
func NewRunner(cfg config.Config, opts Options, ledger *mangle.Ledger, connect Connector) (*Runner, error) {
	if connect == nil {
		connect = BrowserConnector(cfg, opts.Debug)
	}
	obs := engine.Observers{engine.LogObserver{Verbose: opts.Debug}}
	if ledger != nil {
		obs = append(obs, ledger)
	}
	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.TraceDir, cfg.Recorder.GetKeep())
		if err != nil {
			return nil, fmt.Errorf("trace recorder: %w", err)
		}
		obs = append(obs, recorder.Tracer{Recorder: rec})
	}
	return &Runner{cfg: cfg, opts: opts, connect: connect, obs: obs, Ledger: ledger}, nil
}

// BrowserConnector launches or attaches Chrome, logs in and opens the time management.
func BrowserConnector(cfg config.Config, debug bool) Connector {
	return func(ctx context.Context) (Portal, func(context.Context) error, error) {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, nil, err
		}
		session := portal.NewSession(cfg.Browser, debug)
		if err := session.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start browser: %w", err)
		}
		if debug {
			log.Printf("debug browser at %s; set browser.debugger_url to attach to it", session.ControlURL())
		}
		p := portal.New(session, cfg.Portal)
		if err := p.Login(ctx, cfg.Portal.Username, cfg.Portal.Password); err != nil {
			_ = session.Shutdown(context.Background())
			return nil, nil, err
		}
		if err := p.OpenTimeManagement(ctx); err != nil {
			_ = session.Shutdown(context.Background())
			return nil, nil, err
		}
		return p, session.Shutdown, nil
	}
}

// PendingDays lists the days the portal still wants booked, with the category each
// would be booked as.
func (r *Runner) PendingDays(ctx context.Context, mode string) ([]engine.WorkItem, error) {
	if !r.busy.TryLock() {
		return nil, ErrBusy
	}
	defer r.busy.Unlock()

	p, release, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer r.release(release)

	return r.pending(ctx, p, mode, nil)
}

// Run books every pending day (or the requested subset) and returns the report.
// Item failures are in the report; the error is only set when no batch could run.
func (r *Runner) Run(ctx context.Context, ro RunOptions) (engine.Report, error) {
	if !r.busy.TryLock() {
		return engine.Report{}, ErrBusy
	}
	defer r.busy.Unlock()

	dryRun := r.opts.DryRun || r.opts.Debug || ro.DryRun
	engCfg, err := r.cfg.Engine(dryRun)
	if err != nil {
		return engine.Report{}, err
	}

	p, release, err := r.connect(ctx)
	if err != nil {
		return engine.Report{}, err
	}
	defer r.release(release)

	items, err := r.pending(ctx, p, ro.Mode, ro.Dates)
	if err != nil {
		return engine.Report{}, err
	}
	if len(items) == 0 {
		log.Printf("no days with saldo %s to book", r.cfg.Portal.Saldo)
	}

	batch := &engine.Batch{
		Processor: engine.NewProcessor(p, engCfg, r.obs),
		Policy:    engCfg.Policy,
		Observer:  r.obs,
		Debug:     r.opts.Debug,
		DryRun:    dryRun,
	}
	report := batch.Run(ctx, items)

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
	return report, nil
}

// LastReport returns the report of the most recent run.
func (r *Runner) LastReport() (engine.Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return engine.Report{}, false
	}
	return *r.last, true
}

func (r *Runner) pending(ctx context.Context, p Portal, mode string, only []string) ([]engine.WorkItem, error) {
	cfg := r.cfg
	if mode != "" {
		cfg.Booking.DefaultMode = mode
	}
	sched, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	ids, err := p.ListWorkItems(ctx, cfg.Portal.Saldo)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	if len(only) > 0 {
		ids = filterIDs(ids, only)
	}
	return sched.Items(ids)
}

func (r *Runner) release(release func(context.Context) error) {
	if release == nil {
		return
	}
	if err := release(context.Background()); err != nil {
		log.Printf("browser shutdown: %v", err)
	}
}

// filterIDs keeps the order of ids.
func filterIDs(ids, only []string) []string {
	want := make(map[string]bool, len(only))
	for _, id := range only {
		want[id] = true
	}
	var out []string
	for _, id := range ids {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}

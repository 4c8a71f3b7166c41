package portal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"timebooker/internal/config"
	"timebooker/internal/engine"
)

// Session owns the Chrome instance and the single page the portal is driven through.
type Session struct {
	cfg   config.BrowserConfig
	debug bool

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	launched   *launcher.Launcher
	controlURL string
}

func NewSession(cfg config.BrowserConfig, debug bool) *Session {
	return &Session{cfg: cfg, debug: debug}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
// Debug mode always runs headful with slow motion.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		_ = s.browser.Close()
		s.browser = nil
		s.page = nil
		s.controlURL = ""
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		l := s.launcher()
		url, err := l.Launch()
		if err != nil {
			// Fallback: let Rod pick the binary and defaults.
			fallback := launcher.New().Headless(s.headless()).NoSandbox(s.cfg.NoSandbox)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			l, url = fallback, alt
		}
		s.launched = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if s.debug {
		browser = browser.SlowMotion(s.cfg.GetSlowMotion()).Trace(true)
	}
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = browser
	s.controlURL = controlURL
	log.Printf("Browser connected at %s", controlURL)
	return nil
}

func (s *Session) headless() bool {
	return s.cfg.IsHeadless() && !s.debug
}

func (s *Session) launcher() *launcher.Launcher {
	l := launcher.New().Headless(s.headless()).Set(flags.Flag("disable-dev-shm-usage"))
	if s.cfg.Bin != "" {
		l = l.Bin(s.cfg.Bin)
	}
	if s.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	for _, rawFlag := range s.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Page returns the session page, opening it with the configured viewport on first use.
func (s *Session) Page(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil, errors.New("browser not connected")
	}
	if s.page != nil {
		return s.page.Context(ctx), nil
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}
	s.page = page
	return page.Context(ctx), nil
}

// Root implements Driver.
func (s *Session) Root(ctx context.Context) (engine.Scope, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return nil, err
	}
	return PageScope(page), nil
}

// Navigate implements Driver. It waits for the load event of the new document.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.Page(ctx)
	if err != nil {
		return err
	}
	page = page.Timeout(s.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// WaitNavigation implements Driver: it runs action and waits until the page has
// navigated and gone idle.
func (s *Session) WaitNavigation(ctx context.Context, action func() error) error {
	page, err := s.Page(ctx)
	if err != nil {
		return err
	}
	page = page.Timeout(s.cfg.NavigationTimeout())
	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := action(); err != nil {
		return err
	}
	wait()
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (s *Session) ControlURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlURL
}

// Shutdown closes the page and the browser. A launched Chrome is killed and its
// profile removed; an attached one is left running.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}

	var err error
	if s.browser != nil {
		if s.launched != nil {
			err = s.browser.Close()
		}
		s.browser = nil
	}
	if s.launched != nil {
		s.launched.Cleanup()
		s.launched = nil
	}
	s.controlURL = ""
	log.Printf("Browser shutdown complete")
	return err
}

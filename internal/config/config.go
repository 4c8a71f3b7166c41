package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"timebooker/internal/engine"
	"timebooker/internal/schedule"
)

const (
	// WorkspaceDirName is the directory name for project-level timebooker config.
	WorkspaceDirName = ".timebooker"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings of timebooker.
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Browser    BrowserConfig       `yaml:"browser"`
	Portal     PortalConfig        `yaml:"portal"`
	Booking    BookingConfig       `yaml:"booking"`
	Categories map[string][]string `yaml:"categories"`
	Overlay    engine.Selectors    `yaml:"overlay"`
	Policy     PolicyConfig        `yaml:"policy"`
	MCP        MCPConfig           `yaml:"mcp"`
	Mangle     MangleConfig        `yaml:"mangle"`
	Recorder   RecorderConfig      `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When empty Chrome is launched.
	DebuggerURL string `yaml:"debugger_url"`
	// Chrome binary for the launcher; empty lets rod find or download one.
	Bin string `yaml:"bin"`
	// Extra Chrome flags for the launcher, e.g. "--lang=de-DE".
	Flags []string `yaml:"flags"`
	// Headless controls whether Chrome runs in headless mode (default: true, forced off in debug).
	Headless *bool `yaml:"headless"`
	// NoSandbox adds --no-sandbox, needed in most containers.
	NoSandbox bool `yaml:"no_sandbox"`
	// Slow motion applied to every action in debug mode (e.g., "250ms").
	SlowMotion string `yaml:"slow_motion"`
	// Default navigation timeout (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
}

// PortalConfig locates the time-management portal and its listing.
type PortalConfig struct {
	BaseURL   string `yaml:"base_url"`
	LoginPath string `yaml:"login_path"`
	// Saldo is the balance text of days that still need a booking.
	Saldo string `yaml:"saldo"`
	// Credentials normally come from BENUTZERNAME / PASSWORT.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	LoginAttempts   int    `yaml:"login_attempts"`
	LoginRetryDelay string `yaml:"login_retry_delay"`
	FormTimeout     string `yaml:"form_timeout"`
	SaveTimeout     string `yaml:"save_timeout"`
}

// BookingConfig holds the values written into every booking.
type BookingConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	// DefaultMode is used for weekdays the schedule does not name.
	DefaultMode string `yaml:"default_mode"`
	WeekdayMode string `yaml:"weekday_mode"`
	RemoteDays  string `yaml:"remote_days"`
	OfficeDays  string `yaml:"office_days"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the booking fact ledger.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath optionally adds project rules on top of the built-in schema.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls JSONL run traces.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
	Keep     int    `yaml:"keep"`
}

// DefaultConfig provides reasonable defaults for the rexx portal.
func DefaultConfig() Config {
	cats := map[string][]string{}
	for cat, labels := range engine.DefaultAliases() {
		cats[string(cat)] = append([]string(nil), labels...)
	}
	return Config{
		Server: ServerConfig{
			Name:    "timebooker",
			Version: "0.3.0",
			LogFile: "timebooker.log",
		},
		Browser: BrowserConfig{
			NoSandbox:                true,
			SlowMotion:               "80ms",
			DefaultNavigationTimeout: "30s",
			ViewportWidth:            1400,
			ViewportHeight:           900,
		},
		Portal: PortalConfig{
			BaseURL:         "https://dirs21.rexx-systems.com",
			LoginPath:       "/login.php",
			Saldo:           "-8:00",
			LoginAttempts:   5,
			LoginRetryDelay: "8s",
			FormTimeout:     "15s",
			SaveTimeout:     "30s",
		},
		Booking: BookingConfig{
			Start:       "09:00",
			End:         "18:00",
			DefaultMode: string(engine.Office),
		},
		Categories: cats,
		Overlay:    engine.DefaultSelectors(),
		Policy:     DefaultPolicyConfig(),
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable:   true,
			TraceDir: "traces",
			Keep:     3,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .timebooker/config.yaml file.
// Returns the workspace root directory (parent of .timebooker/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements the file layers of the config merge:
//
//	DefaultConfig() <- .timebooker/config.yaml <- explicit --config
//
// Environment (ApplyEnv) and CLI flags are layered on top by the caller, which then
// calls Validate. Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, nil
}

// InitWorkspace creates a .timebooker/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "traces"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# timebooker project-level configuration
# Values here override defaults but are overridden by --config, the environment
# (BENUTZERNAME, PASSWORT, WEEKDAY_MODE, REMOTE_DAYS, OFFICE_DAYS) and CLI flags.

# portal:
#   base_url: "https://dirs21.rexx-systems.com"
#   saldo: "-8:00"

# booking:
#   start: "09:00"
#   end: "18:00"
#   default_mode: Office
#   weekday_mode: "Mon:Remote,Tue:Office,Wed:Office,Thu:Remote,Fri:Remote"
#   # Weekdays are English (Mon, Tuesday) or German short forms (Mo, Di, Do).
#   # An unknown token such as "Tu" or "Holiday" is a config error, not skipped.
#   # remote_days: "Mon,Thu"
#   # office_days: "Tue,Wed"

# categories:
#   Remote: ["Remote", "Homeoffice", "Home Office"]
#   Office: ["Office", "Büro"]

# policy:
#   item_attempts: 3
#   item_timeout: "90s"

# recorder:
#   trace_dir: "traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces, credentials) - do not version control\ntraces/\n*.log\n.env\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, WorkspaceDirName, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	return cfg
}

// ApplyEnv overlays the environment variables the bot has always honoured.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("BENUTZERNAME", &c.Portal.Username)
	set("PASSWORT", &c.Portal.Password)
	set("WEEKDAY_MODE", &c.Booking.WeekdayMode)
	set("REMOTE_DAYS", &c.Booking.RemoteDays)
	set("OFFICE_DAYS", &c.Booking.OfficeDays)
}

// Validate ensures the config is usable before any browser work starts.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Portal.BaseURL == "" {
		return errors.New("portal.base_url is required")
	}
	if u, err := url.Parse(c.Portal.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("portal.base_url %q is not an absolute URL", c.Portal.BaseURL)
	}
	if c.Portal.Saldo == "" {
		return errors.New("portal.saldo is required")
	}
	for name, v := range map[string]string{"booking.start": c.Booking.Start, "booking.end": c.Booking.End} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("%s %q must be HH:MM", name, v)
		}
	}
	if err := c.Aliases().Validate(); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	if _, ok := c.Aliases().Labels(c.FallbackCategory()); !ok {
		return fmt.Errorf("booking.default_mode %q has no category aliases", c.Booking.DefaultMode)
	}
	if c.Overlay.Overlay == "" || c.Overlay.Node == "" {
		return errors.New("overlay.overlay and overlay.node are required")
	}
	if _, err := c.Policy.Engine(); err != nil {
		return err
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	return nil
}

// RequireCredentials reports missing portal credentials.
func (c *Config) RequireCredentials() error {
	if c.Portal.Username == "" || c.Portal.Password == "" {
		return errors.New("BENUTZERNAME and PASSWORT must be set")
	}
	return nil
}

// Aliases converts the categories section.
func (c *Config) Aliases() engine.AliasSet {
	out := engine.AliasSet{}
	for cat, labels := range c.Categories {
		out[engine.Category(cat)] = labels
	}
	return out
}

// FallbackCategory parses booking.default_mode.
func (c *Config) FallbackCategory() engine.Category {
	return schedule.ParseCategory(c.Booking.DefaultMode)
}

// Schedule builds the weekday schedule.
func (c *Config) Schedule() (*schedule.Schedule, error) {
	return schedule.New(schedule.Spec{
		WeekdayMode: c.Booking.WeekdayMode,
		RemoteDays:  c.Booking.RemoteDays,
		OfficeDays:  c.Booking.OfficeDays,
		Fallback:    c.FallbackCategory(),
	})
}

// Engine builds the explicit engine configuration.
func (c *Config) Engine(skipCommit bool) (engine.Config, error) {
	policy, err := c.Policy.Engine()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Policy:     policy,
		Selectors:  c.Overlay,
		Aliases:    c.Aliases(),
		Start:      c.Booking.Start,
		End:        c.Booking.End,
		SkipCommit: skipCommit,
	}, nil
}

// LoginURL joins base URL and login path.
func (p PortalConfig) LoginURL() string {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return p.BaseURL + p.LoginPath
	}
	return u.JoinPath(p.LoginPath).String()
}

// GetLoginRetryDelay returns the parsed delay between login navigation attempts.
func (p PortalConfig) GetLoginRetryDelay() time.Duration {
	return parseDuration(p.LoginRetryDelay, 8*time.Second)
}

// GetFormTimeout returns how long to wait for the booking form frame.
func (p PortalConfig) GetFormTimeout() time.Duration {
	return parseDuration(p.FormTimeout, 15*time.Second)
}

// GetSaveTimeout returns how long to wait for the form to close after saving.
func (p PortalConfig) GetSaveTimeout() time.Duration {
	return parseDuration(p.SaveTimeout, 30*time.Second)
}

// GetLoginAttempts returns the login navigation attempts with a sane default.
func (p PortalConfig) GetLoginAttempts() int {
	if p.LoginAttempts <= 0 {
		return 5
	}
	return p.LoginAttempts
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 30*time.Second)
}

// GetSlowMotion returns the debug slow-motion delay.
func (b BrowserConfig) GetSlowMotion() time.Duration {
	return parseDuration(b.SlowMotion, 80*time.Millisecond)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1400
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 900
	}
	return b.ViewportHeight
}

// GetKeep returns how many trace files are kept.
func (r RecorderConfig) GetKeep() int {
	if r.Keep <= 0 {
		return 3
	}
	return r.Keep
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

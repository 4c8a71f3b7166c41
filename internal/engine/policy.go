package engine

import "time"

// RetryPolicy bounds one retried step.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait before the second try.
	Delay time.Duration
	// Multiplier grows the delay after every failure; values <= 1 keep it fixed.
	Multiplier float64
	// MaxDelay caps the grown delay when positive.
	MaxDelay time.Duration
}

// backoff returns the wait after the given 1-based failed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d > p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	return d
}

// Policy is the single timing and retry policy of the engine.
type Policy struct {
	PollInterval time.Duration

	// Overlay discovery.
	StrategyTimeout time.Duration
	KeyTimeout      time.Duration
	OverlayTimeout  time.Duration
	CloseTimeout    time.Duration

	// Category selection.
	LeafTimeout     time.Duration
	FolderTimeout   time.Duration
	ExpandTimeout   time.Duration
	ExpandDelay     time.Duration
	NodeAnimDelay   time.Duration
	SelectTimeout   time.Duration
	PostSelectDelay time.Duration

	// Apply/confirm.
	ApplySettle       time.Duration
	ApplyAttempts     int
	ApplyCloseTimeout time.Duration
	ApplyLateTimeout  time.Duration
	AlertTimeout      time.Duration
	AlertSettle       time.Duration
	FinalCloseTimeout time.Duration

	// Per-item orchestration.
	Fill           RetryPolicy
	Item           RetryPolicy
	ItemTimeout    time.Duration
	DebugTimeout   time.Duration
	InterItemDelay time.Duration
}

// DefaultPolicy is the one canonical policy used in production.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval: 100 * time.Millisecond,

		StrategyTimeout: 2 * time.Second,
		KeyTimeout:      1500 * time.Millisecond,
		OverlayTimeout:  15 * time.Second,
		CloseTimeout:    3 * time.Second,

		LeafTimeout:     800 * time.Millisecond,
		FolderTimeout:   2 * time.Second,
		ExpandTimeout:   1500 * time.Millisecond,
		ExpandDelay:     140 * time.Millisecond,
		NodeAnimDelay:   180 * time.Millisecond,
		SelectTimeout:   3 * time.Second,
		PostSelectDelay: 250 * time.Millisecond,

		ApplySettle:       150 * time.Millisecond,
		ApplyAttempts:     2,
		ApplyCloseTimeout: time.Second,
		ApplyLateTimeout:  3 * time.Second,
		AlertTimeout:      2 * time.Second,
		AlertSettle:       250 * time.Millisecond,
		FinalCloseTimeout: 6 * time.Second,

		Fill:           RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond},
		Item:           RetryPolicy{Attempts: 3, Delay: 2 * time.Second, Multiplier: 2, MaxDelay: 10 * time.Second},
		ItemTimeout:    90 * time.Second,
		DebugTimeout:   5 * time.Minute,
		InterItemDelay: 800 * time.Millisecond,
	}
}

// Selectors describes where the overlay and its tree live in the remote UI
// and which words identify its controls.
type Selectors struct {
	Overlay string `yaml:"overlay"`
	Tree    string `yaml:"tree"`

	Node          string `yaml:"node"`
	FolderClass   string `yaml:"folder_class"`
	SelectedClass string `yaml:"selected_class"`
	Title         string `yaml:"title"`
	Expander      string `yaml:"expander"`
	Radio         string `yaml:"radio"`
	Children      string `yaml:"children"`

	Triggers          []string   `yaml:"triggers"`
	TriggerVocabulary Vocabulary `yaml:"trigger_vocabulary"`
	TextScan          string     `yaml:"text_scan"`
	LabelScan         string     `yaml:"label_scan"`
	LabelRow          string     `yaml:"label_row"`
	LabelField        string     `yaml:"label_field"`

	Apply           string     `yaml:"apply"`
	ApplyScan       string     `yaml:"apply_scan"`
	ApplyVocabulary Vocabulary `yaml:"apply_vocabulary"`

	Alert   string   `yaml:"alert"`
	AlertOK []string `yaml:"alert_ok"`

	CancelScan       string     `yaml:"cancel_scan"`
	CancelVocabulary Vocabulary `yaml:"cancel_vocabulary"`
}

// DefaultSelectors targets the rexx project-selection layer and its dynatree.
func DefaultSelectors() Selectors {
	return Selectors{
		Overlay: "#time_pze_selection_layer",
		Tree:    "#rexxtree",

		Node:          ".dynatree-node",
		FolderClass:   "dynatree-folder",
		SelectedClass: "dynatree-selected",
		Title:         ".dynatree-title",
		Expander:      ".dynatree-expander",
		Radio:         ".dynatree-radio input, input[type=radio]",
		Children:      "ul",

		Triggers: []string{
			`a[aria-label*="Projekt"]`,
			`button[aria-label*="Projekt"]`,
			`a[title*="Projekt"]`,
			`button[title*="Projekt"]`,
			`a[href*="project"]`,
			`button:has(span)`,
			`a:has(span)`,
			`#row_ZEIT ~ * a[aria-label*="Projekt"]`,
			`#row_ZEIT ~ * button[aria-label*="Projekt"]`,
		},
		TriggerVocabulary: Vocabulary{"projekt", "projekttätigkeit", "project"},
		TextScan:          "a, button, span, label",
		LabelScan:         "label, .stdformlabel, th, td, span, a, button",
		LabelRow:          "tr, .row, .cf_row, .stdformrow",
		LabelField:        `input, a[role="button"], button, a`,

		Apply:           `#aside_navbar_collapse a[aria-label="Übernehmen"]`,
		ApplyScan:       "a",
		ApplyVocabulary: Vocabulary{"übernehmen"},

		Alert:   "#confirmBoxOuter",
		AlertOK: []string{`#confirmButtons .btn.primary[name="ok"]`, "#confirmButtons .btn.primary"},

		CancelScan:       "a",
		CancelVocabulary: Vocabulary{"abbrechen", "schließen"},
	}
}

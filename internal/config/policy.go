package config

import (
	"errors"
	"fmt"
	"time"

	"timebooker/internal/engine"
)

// PolicyConfig is the textual form of engine.Policy. Empty values keep the default.
type PolicyConfig struct {
	PollInterval string `yaml:"poll_interval"`

	StrategyTimeout string `yaml:"strategy_timeout"`
	KeyTimeout      string `yaml:"key_timeout"`
	OverlayTimeout  string `yaml:"overlay_timeout"`
	CloseTimeout    string `yaml:"close_timeout"`

	LeafTimeout     string `yaml:"leaf_timeout"`
	FolderTimeout   string `yaml:"folder_timeout"`
	ExpandTimeout   string `yaml:"expand_timeout"`
	ExpandDelay     string `yaml:"expand_delay"`
	NodeAnimDelay   string `yaml:"node_anim_delay"`
	SelectTimeout   string `yaml:"select_timeout"`
	PostSelectDelay string `yaml:"post_select_delay"`

	ApplySettle       string `yaml:"apply_settle"`
	ApplyAttempts     int    `yaml:"apply_attempts"`
	ApplyCloseTimeout string `yaml:"apply_close_timeout"`
	ApplyLateTimeout  string `yaml:"apply_late_timeout"`
	AlertTimeout      string `yaml:"alert_timeout"`
	AlertSettle       string `yaml:"alert_settle"`
	FinalCloseTimeout string `yaml:"final_close_timeout"`

	FillAttempts int    `yaml:"fill_attempts"`
	FillDelay    string `yaml:"fill_delay"`

	ItemAttempts   int     `yaml:"item_attempts"`
	ItemDelay      string  `yaml:"item_delay"`
	ItemBackoff    float64 `yaml:"item_backoff"`
	ItemMaxDelay   string  `yaml:"item_max_delay"`
	ItemTimeout    string  `yaml:"item_timeout"`
	DebugTimeout   string  `yaml:"debug_timeout"`
	InterItemDelay string  `yaml:"inter_item_delay"`
}

// DefaultPolicyConfig renders engine.DefaultPolicy.
func DefaultPolicyConfig() PolicyConfig {
	p := engine.DefaultPolicy()
	return PolicyConfig{
		PollInterval: p.PollInterval.String(),

		StrategyTimeout: p.StrategyTimeout.String(),
		KeyTimeout:      p.KeyTimeout.String(),
		OverlayTimeout:  p.OverlayTimeout.String(),
		CloseTimeout:    p.CloseTimeout.String(),

		LeafTimeout:     p.LeafTimeout.String(),
		FolderTimeout:   p.FolderTimeout.String(),
		ExpandTimeout:   p.ExpandTimeout.String(),
		ExpandDelay:     p.ExpandDelay.String(),
		NodeAnimDelay:   p.NodeAnimDelay.String(),
		SelectTimeout:   p.SelectTimeout.String(),
		PostSelectDelay: p.PostSelectDelay.String(),

		ApplySettle:       p.ApplySettle.String(),
		ApplyAttempts:     p.ApplyAttempts,
		ApplyCloseTimeout: p.ApplyCloseTimeout.String(),
		ApplyLateTimeout:  p.ApplyLateTimeout.String(),
		AlertTimeout:      p.AlertTimeout.String(),
		AlertSettle:       p.AlertSettle.String(),
		FinalCloseTimeout: p.FinalCloseTimeout.String(),

		FillAttempts: p.Fill.Attempts,
		FillDelay:    p.Fill.Delay.String(),

		ItemAttempts:   p.Item.Attempts,
		ItemDelay:      p.Item.Delay.String(),
		ItemBackoff:    p.Item.Multiplier,
		ItemMaxDelay:   p.Item.MaxDelay.String(),
		ItemTimeout:    p.ItemTimeout.String(),
		DebugTimeout:   p.DebugTimeout.String(),
		InterItemDelay: p.InterItemDelay.String(),
	}
}

// Engine parses the policy. Every malformed or negative value is reported.
func (c PolicyConfig) Engine() (engine.Policy, error) {
	p := engine.DefaultPolicy()
	var errs []error

	dur := func(name, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("policy.%s: %w", name, err))
		case d < 0:
			errs = append(errs, fmt.Errorf("policy.%s: negative duration %s", name, v))
		default:
			*dst = d
		}
	}
	count := func(name string, v int, dst *int) {
		switch {
		case v < 0:
			errs = append(errs, fmt.Errorf("policy.%s: must not be negative", name))
		case v > 0:
			*dst = v
		}
	}

	dur("poll_interval", c.PollInterval, &p.PollInterval)
	dur("strategy_timeout", c.StrategyTimeout, &p.StrategyTimeout)
	dur("key_timeout", c.KeyTimeout, &p.KeyTimeout)
	dur("overlay_timeout", c.OverlayTimeout, &p.OverlayTimeout)
	dur("close_timeout", c.CloseTimeout, &p.CloseTimeout)
	dur("leaf_timeout", c.LeafTimeout, &p.LeafTimeout)
	dur("folder_timeout", c.FolderTimeout, &p.FolderTimeout)
	dur("expand_timeout", c.ExpandTimeout, &p.ExpandTimeout)
	dur("expand_delay", c.ExpandDelay, &p.ExpandDelay)
	dur("node_anim_delay", c.NodeAnimDelay, &p.NodeAnimDelay)
	dur("select_timeout", c.SelectTimeout, &p.SelectTimeout)
	dur("post_select_delay", c.PostSelectDelay, &p.PostSelectDelay)
	dur("apply_settle", c.ApplySettle, &p.ApplySettle)
	count("apply_attempts", c.ApplyAttempts, &p.ApplyAttempts)
	dur("apply_close_timeout", c.ApplyCloseTimeout, &p.ApplyCloseTimeout)
	dur("apply_late_timeout", c.ApplyLateTimeout, &p.ApplyLateTimeout)
	dur("alert_timeout", c.AlertTimeout, &p.AlertTimeout)
	dur("alert_settle", c.AlertSettle, &p.AlertSettle)
	dur("final_close_timeout", c.FinalCloseTimeout, &p.FinalCloseTimeout)
	count("fill_attempts", c.FillAttempts, &p.Fill.Attempts)
	dur("fill_delay", c.FillDelay, &p.Fill.Delay)
	count("item_attempts", c.ItemAttempts, &p.Item.Attempts)
	dur("item_delay", c.ItemDelay, &p.Item.Delay)
	dur("item_max_delay", c.ItemMaxDelay, &p.Item.MaxDelay)
	dur("item_timeout", c.ItemTimeout, &p.ItemTimeout)
	dur("debug_timeout", c.DebugTimeout, &p.DebugTimeout)
	dur("inter_item_delay", c.InterItemDelay, &p.InterItemDelay)

	if c.ItemBackoff < 0 {
		errs = append(errs, errors.New("policy.item_backoff: must not be negative"))
	} else if c.ItemBackoff > 0 {
		p.Item.Multiplier = c.ItemBackoff
	}
	if p.PollInterval == 0 {
		errs = append(errs, errors.New("policy.poll_interval: must be positive"))
	}

	return p, errors.Join(errs...)
}

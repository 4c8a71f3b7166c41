// Package schedule decides which category a day is booked as.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"timebooker/internal/engine"
)

// DateLayout is the layout of work item IDs.
const DateLayout = "2006-01-02"

// Source tells where a resolved category came from.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceFallback Source = "fallback"
)

// Spec is the textual schedule as found in config and environment.
type Spec struct {
	// WeekdayMode is "Mon:Remote,Tue:Office,...".
	WeekdayMode string
	// RemoteDays and OfficeDays are weekday lists, e.g. "Mon,Fri". They override
	// WeekdayMode; OfficeDays is applied last.
	RemoteDays string
	OfficeDays string
	Fallback   engine.Category
}

// Schedule maps weekdays to categories.
type Schedule struct {
	days     map[time.Weekday]engine.Category
	fallback engine.Category
}

// New parses spec. Unknown weekday tokens are an error.
func New(spec Spec) (*Schedule, error) {
	s := &Schedule{days: map[time.Weekday]engine.Category{}, fallback: spec.Fallback}
	if s.fallback == "" {
		s.fallback = engine.Office
	}

	for _, part := range splitList(spec.WeekdayMode) {
		key, value, _ := strings.Cut(part, ":")
		day, ok := ParseWeekday(key)
		if !ok {
			return nil, fmt.Errorf("weekday mode %q: unknown weekday %q", part, key)
		}
		s.days[day] = ParseCategory(value)
	}
	if err := s.addDays(spec.RemoteDays, engine.Remote); err != nil {
		return nil, fmt.Errorf("remote days: %w", err)
	}
	if err := s.addDays(spec.OfficeDays, engine.Office); err != nil {
		return nil, fmt.Errorf("office days: %w", err)
	}
	return s, nil
}

func (s *Schedule) addDays(list string, cat engine.Category) error {
	for _, tok := range splitList(list) {
		day, ok := ParseWeekday(tok)
		if !ok {
			return fmt.Errorf("unknown weekday %q", tok)
		}
		s.days[day] = cat
	}
	return nil
}

// Configured reports whether any weekday is explicitly scheduled.
func (s *Schedule) Configured() bool { return len(s.days) > 0 }

// Fallback is the category used for unscheduled days.
func (s *Schedule) Fallback() engine.Category { return s.fallback }

// Resolve returns the category for a YYYY-MM-DD day. The weekday is taken in UTC.
func (s *Schedule) Resolve(dateID string) (engine.Category, Source, error) {
	t, err := time.ParseInLocation(DateLayout, dateID, time.UTC)
	if err != nil {
		return "", "", fmt.Errorf("work item %q: %w", dateID, err)
	}
	if cat, ok := s.days[t.Weekday()]; ok {
		return cat, SourceSchedule, nil
	}
	return s.fallback, SourceFallback, nil
}

// Items turns day IDs into work items.
func (s *Schedule) Items(dateIDs []string) ([]engine.WorkItem, error) {
	items := make([]engine.WorkItem, 0, len(dateIDs))
	for _, id := range dateIDs {
		cat, _, err := s.Resolve(id)
		if err != nil {
			return nil, err
		}
		items = append(items, engine.WorkItem{ID: id, Category: cat})
	}
	return items, nil
}

var weekdayTokens = map[string]time.Weekday{
	"mo": time.Monday, "di": time.Tuesday, "mi": time.Wednesday,
	"do": time.Thursday, "don": time.Thursday, "fr": time.Friday,
	"sa": time.Saturday, "so": time.Sunday,
}

var weekdayPrefixes = []struct {
	prefix string
	day    time.Weekday
}{
	{"mon", time.Monday}, {"tue", time.Tuesday}, {"wed", time.Wednesday},
	{"thu", time.Thursday}, {"fri", time.Friday}, {"sat", time.Saturday}, {"sun", time.Sunday},
}

// ParseWeekday accepts English prefixes ("Mon", "monday") and German short forms ("Di").
func ParseWeekday(tok string) (time.Weekday, bool) {
	t := strings.ToLower(strings.TrimSpace(tok))
	if t == "" {
		return 0, false
	}
	for _, p := range weekdayPrefixes {
		if strings.HasPrefix(t, p.prefix) {
			return p.day, true
		}
	}
	day, ok := weekdayTokens[t]
	return day, ok
}

// ParseCategory maps a mode word to a category: anything starting with "off" is Office,
// everything else Remote.
func ParseCategory(v string) engine.Category {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "off") {
		return engine.Office
	}
	return engine.Remote
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

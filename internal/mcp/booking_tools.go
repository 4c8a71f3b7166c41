package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timebooker/internal/app"
	"timebooker/internal/engine"
	"timebooker/internal/mangle"
)

type ListPendingDaysTool struct {
	runner Runner
}

func (t *ListPendingDaysTool) Name() string { return "list-pending-days" }
func (t *ListPendingDaysTool) Description() string {
	return `List the days in "Mein Zeitmanagement" that still need a booking.

Logs into the portal, reads the listing and returns every day whose balance
equals the configured saldo, together with the category (Remote/Office)
the weekday schedule resolves for it. Nothing is booked.

WHEN TO USE:
- Before run-bookings, to see what a run would touch
- To check the weekday schedule against real days
- After a run, to confirm nothing is left open

Returns: {count, days: [{id, category}]}`
}
func (t *ListPendingDaysTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"mode": map[string]interface{}{
				"type":        "string",
				"description": "Fallback category for weekdays the schedule does not name (Remote or Office)",
			},
		},
	}
}
func (t *ListPendingDaysTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	days, err := t.runner.PendingDays(ctx, getStringArg(args, "mode"))
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []engine.WorkItem{}
	}
	return map[string]interface{}{"count": len(days), "days": days}, nil
}

type RunBookingsTool struct {
	runner Runner
}

func (t *RunBookingsTool) Name() string { return "run-bookings" }
func (t *RunBookingsTool) Description() string {
	return `Book pending days: fill Kommen/Gehen, pick the work location in the
project overlay, apply and save.

Days are processed strictly one after another. A failing day never stops
the batch; it is reported with the stage it failed at.

WHEN TO USE:
- To book every open day (no arguments)
- To retry specific days after a failure (dates)
- To rehearse without saving (dry_run)

IMPORTANT: Only one run can be active at a time; a second call while a
run is in progress fails immediately.

Returns: {run_id, booked, failed, results: [{item_id, category, status, attempts, stage, error}]}`
}
func (t *RunBookingsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dry_run": map[string]interface{}{
				"type":        "boolean",
				"description": "Run every step except saving the form (default: false)",
			},
			"dates": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Restrict the run to these days (YYYY-MM-DD). Days that are not pending are ignored.",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"description": "Fallback category for weekdays the schedule does not name (Remote or Office)",
			},
		},
	}
}
func (t *RunBookingsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	report, err := t.runner.Run(ctx, app.RunOptions{
		DryRun: getBoolArg(args, "dry_run", false),
		Dates:  getStringSliceArg(args, "dates"),
		Mode:   getStringArg(args, "mode"),
	})
	if err != nil {
		return nil, err
	}
	return summarizeReport(report), nil
}

type BookingReportTool struct {
	runner Runner
}

func (t *BookingReportTool) Name() string { return "booking-report" }
func (t *BookingReportTool) Description() string {
	return `Return the report of the most recent run-bookings call.

WHEN TO USE:
- After run-bookings returned, to re-read the outcome
- To see which days failed and at which stage

Returns: the same shape as run-bookings, or {available: false} before the first run.`
}
func (t *BookingReportTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *BookingReportTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	report, ok := t.runner.LastReport()
	if !ok {
		return map[string]interface{}{"available": false}, nil
	}
	out := summarizeReport(report)
	out["available"] = true
	return out, nil
}

type BookingFactsTool struct {
	engine *mangle.Engine
}

func (t *BookingFactsTool) Name() string { return "booking-facts" }
func (t *BookingFactsTool) Description() string {
	return `Read the booking fact ledger.

Every run records booking_run, booking_item, booking_attempt, booking_stage,
booking_strategy, booking_failed, booking_done and booking_dry_run facts.
Derived predicates: booked, rehearsed, needs_attention, retried,
failed_at, overlay_opened_by.

MODES:
- predicate only: evaluate a declared predicate (default needs_attention)
- query: run a Mangle query with variables, e.g.
  booking_failed(Item, Stage, Reason, _).
- since: recorded facts of a base predicate newer than a duration ago ("15m")
  or an RFC3339 time, oldest first. Derived predicates are not recorded.

Returns: {predicate, count, facts}, {predicate, since, count, facts} or
{query, count, results}`
}
func (t *BookingFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to evaluate (default: needs_attention)",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query; takes precedence over predicate",
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Only recorded facts after this point: a duration like 15m or an RFC3339 time",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum rows returned (default: 100)",
			},
		},
	}
}
func (t *BookingFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 100)
	if limit <= 0 {
		limit = 100
	}

	if query := strings.TrimSpace(getStringArg(args, "query")); query != "" {
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		total := len(results)
		if len(results) > limit {
			results = results[:limit]
		}
		return map[string]interface{}{"query": query, "count": total, "results": results}, nil
	}

	predicate := getStringArg(args, "predicate")
	if since := strings.TrimSpace(getStringArg(args, "since")); since != "" {
		if predicate == "" {
			return nil, fmt.Errorf("since needs a base predicate")
		}
		after, err := parseSince(since, time.Now())
		if err != nil {
			return nil, err
		}
		facts := t.engine.QueryTemporal(predicate, after, time.Time{})
		total := len(facts)
		if len(facts) > limit {
			facts = facts[len(facts)-limit:]
		}
		return map[string]interface{}{"predicate": predicate, "since": after, "count": total, "facts": facts}, nil
	}

	if predicate == "" {
		predicate = "needs_attention"
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	total := len(facts)
	if len(facts) > limit {
		facts = facts[:limit]
	}
	if facts == nil {
		facts = []mangle.Fact{}
	}
	return map[string]interface{}{"predicate": predicate, "count": total, "facts": facts}, nil
}

func summarizeReport(report engine.Report) map[string]interface{} {
	results := report.Results
	if results == nil {
		results = []engine.ItemResult{}
	}
	return map[string]interface{}{
		"run_id":   report.RunID,
		"started":  report.Started,
		"finished": report.Finished,
		"booked":   len(report.Succeeded()),
		"failed":   len(report.Failed()),
		"results":  results,
	}
}

package mangle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timebooker/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEngineLoadsBookingSchema(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if !engine.Ready() {
		t.Fatal("Engine not ready after schema load")
	}
}

func TestEngineAddFacts(t *testing.T) {
	engine := newTestEngine(t, 1000)

	ctx := context.Background()
	facts := []Fact{
		{
			Predicate: "booking_attempt",
			Args:      []interface{}{"2024-05-06", 1, int64(1000)},
			Timestamp: time.Now(),
		},
		{
			Predicate: "booking_stage",
			Args:      []interface{}{"2024-05-06", "open-form", int64(1001)},
			Timestamp: time.Now(),
		},
		{
			Predicate: "booking_stage",
			Args:      []interface{}{"2024-05-06", "fill-times", int64(1002)},
			Timestamp: time.Now(),
		},
	}

	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.FactsByPredicate("booking_attempt")); got != 1 {
		t.Errorf("Expected 1 booking_attempt fact, got %d", got)
	}
	if got := len(engine.FactsByPredicate("booking_stage")); got != 2 {
		t.Errorf("Expected 2 booking_stage facts, got %d", got)
	}
}

func TestEngineDerivesNeedsAttention(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-06", "apply", "overlay did not close", int64(1)}},
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-07", "open-overlay", "overlay not found", int64(2)}},
		{Predicate: "booking_done", Args: []interface{}{"2024-05-07", "Remote", int64(3)}},
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-08", "select-category", "category not found", int64(4)}},
		{Predicate: "booking_dry_run", Args: []interface{}{"2024-05-08", "Office", int64(5)}},
		{Predicate: "booking_done", Args: []interface{}{"2024-05-09", "Office", int64(6)}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Evaluate(ctx, "needs_attention")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 needs_attention fact, got %d: %+v", len(results), results)
	}
	if results[0].Args[0] != "2024-05-06" {
		t.Errorf("Expected 2024-05-06 to need attention, got %v", results[0].Args[0])
	}

	booked, err := engine.Evaluate(ctx, "booked")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(booked) != 2 {
		t.Errorf("Expected 2 booked items, got %d", len(booked))
	}
}

func TestEngineRetractsDerivedFactsAfterLaterSuccess(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()

	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-06", "item", "stale handle", int64(1)}},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	flagged, err := engine.Evaluate(ctx, "needs_attention")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(flagged) != 1 {
		t.Fatalf("Expected the failed item to need attention, got %+v", flagged)
	}

	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "booking_done", Args: []interface{}{"2024-05-06", "Remote", int64(2)}},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	flagged, err = engine.Evaluate(ctx, "needs_attention")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(flagged) != 0 {
		t.Errorf("Expected no item to need attention after booking, got %+v", flagged)
	}

	rows, err := engine.Query(ctx, `failed_at(Item, Stage).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no failed_at rows after booking, got %+v", rows)
	}
}

func TestEngineDerivesRetried(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "booking_attempt", Args: []interface{}{"2024-05-06", 1, int64(1)}},
		{Predicate: "booking_attempt", Args: []interface{}{"2024-05-07", 1, int64(2)}},
		{Predicate: "booking_attempt", Args: []interface{}{"2024-05-07", 2, int64(3)}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Evaluate(ctx, "retried")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 || results[0].Args[0] != "2024-05-07" {
		t.Errorf("Expected only 2024-05-07 to be retried, got %+v", results)
	}
}

func TestEngineQuery(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-06", "apply", "overlay did not close", int64(1)}},
		{Predicate: "booking_failed", Args: []interface{}{"2024-05-07", "save", "save button missing", int64(2)}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, `booking_failed(Item, "apply", Reason, _).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0]["Item"] != "2024-05-06" || results[0]["Reason"] != "overlay did not close" {
		t.Errorf("Unexpected bindings: %+v", results[0])
	}
	if _, ok := results[0]["_"]; ok {
		t.Error("wildcard must not be bound")
	}
}

func TestEngineEvaluateUnknownPredicate(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if _, err := engine.Evaluate(context.Background(), "no_such_predicate"); err == nil {
		t.Error("expected error for undeclared predicate")
	}
}

func TestEngineAddRule(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()

	rule := `
Decl slow_to_open(Item).

slow_to_open(Item) :- booking_strategy(Item, "label-activation", "true", _).
`
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	facts := []Fact{
		{Predicate: "booking_strategy", Args: []interface{}{"2024-05-06", "structural-trigger", "true", int64(1)}},
		{Predicate: "booking_strategy", Args: []interface{}{"2024-05-07", "label-activation", "true", int64(2)}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Evaluate(ctx, "slow_to_open")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 || results[0].Args[0] != "2024-05-07" {
		t.Errorf("Unexpected slow_to_open facts: %+v", results)
	}
}

func TestEngineAddRuleInvalid(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if err := engine.AddRule("this is not mangle"); err == nil {
		t.Error("expected parse error")
	}
	// A rejected rule must not poison the program.
	if _, err := engine.Evaluate(context.Background(), "booked"); err != nil {
		t.Errorf("program broken after rejected rule: %v", err)
	}
}

func TestEngineLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.mg")
	src := "Decl office_day(Item).\noffice_day(Item) :- booking_done(Item, \"Office\", _).\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path, FactBufferLimit: 100})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "booking_done", Args: []interface{}{"2024-05-06", "Office", int64(1)}},
		{Predicate: "booking_done", Args: []interface{}{"2024-05-07", "Remote", int64(2)}},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Evaluate(ctx, "office_day")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 office_day, got %d", len(results))
	}
}

func TestEngineMissingSchemaFile(t *testing.T) {
	_, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: "/nonexistent/extra.mg"})
	if err == nil {
		t.Error("expected error for missing schema file")
	}
}

func TestEngineTemporalQuery(t *testing.T) {
	engine := newTestEngine(t, 1000)

	ctx := context.Background()
	now := time.Now()
	past := now.Add(-5 * time.Second)

	facts := []Fact{
		{
			Predicate: "booking_stage",
			Args:      []interface{}{"2024-05-06", "open-form", past.UnixMilli()},
			Timestamp: past,
		},
		{
			Predicate: "booking_stage",
			Args:      []interface{}{"2024-05-06", "save", now.UnixMilli()},
			Timestamp: now,
		},
	}

	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	recent := engine.QueryTemporal("booking_stage", now.Add(-3*time.Second), time.Time{})
	if len(recent) != 1 {
		t.Errorf("Expected 1 recent fact, got %d", len(recent))
	}

	all := engine.QueryTemporal("booking_stage", time.Time{}, time.Time{})
	if len(all) != 2 {
		t.Errorf("Expected 2 total facts, got %d", len(all))
	}
}

func TestEngineBufferLimit(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		f := Fact{Predicate: "booking_attempt", Args: []interface{}{"2024-05-06", i, int64(i)}, Timestamp: time.Now()}
		if err := engine.AddFacts(ctx, []Fact{f}); err != nil {
			t.Fatalf("AddFacts failed: %v", err)
		}
	}

	buffered := engine.FactsByPredicate("booking_attempt")
	if len(buffered) != 3 {
		t.Fatalf("Expected buffer trimmed to 3, got %d", len(buffered))
	}
	if buffered[0].Args[1] != 3 {
		t.Errorf("Expected oldest kept attempt 3, got %v", buffered[0].Args[1])
	}

	// The store is not bounded, so derivations still see every attempt.
	results, err := engine.Query(ctx, `booking_attempt(Item, N, _).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("Expected 5 stored attempts, got %d", len(results))
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false, FactBufferLimit: 1000})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	err = engine.AddFacts(context.Background(), []Fact{{Predicate: "test", Args: []interface{}{"arg"}}})
	if err != nil {
		t.Errorf("AddFacts should succeed when disabled: %v", err)
	}
	if len(engine.FactsByPredicate("test")) != 0 {
		t.Error("disabled engine must not buffer facts")
	}
	if !engine.Ready() {
		t.Error("Engine should be ready when disabled")
	}
	if err := engine.AddRule("some rule"); err != nil {
		t.Errorf("AddRule should succeed when disabled: %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), "booked"); err == nil {
		t.Error("Evaluate should fail when disabled")
	}
}

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebooker/internal/engine"
	"timebooker/internal/engine/fakeui"
)

func TestApplyRefusesWithoutSelection(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p := newOverlayPage(true)
	p.addLeaf(p.tree, "Remote")

	err := engine.NewApplier(sel, fastPolicy()).ApplyAndClose(ctx, p.page)
	require.ErrorIs(t, err, engine.ErrNoSelection)
	assert.Zero(t, p.apply.Clicks(), "apply must never be clicked blind")
	assert.True(t, p.overlay.IsVisible())
}

func TestApplyClosesOverlay(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p := newOverlayPage(true)
	p.choose(p.addLeaf(p.tree, "Remote"))

	require.NoError(t, engine.NewApplier(sel, fastPolicy()).ApplyAndClose(ctx, p.page))
	assert.Equal(t, 1, p.apply.Clicks())
	assert.False(t, p.overlay.IsVisible())
}

func TestApplyAcknowledgesAlert(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p := newOverlayPage(true)
	p.choose(p.addLeaf(p.tree, "Remote"))

	// The first apply raises a confirmation box instead of closing.
	fx, s := applyWithAlert(p)

	require.NoError(t, engine.NewApplier(s, fastPolicy()).ApplyAndClose(ctx, p.page))
	assert.Equal(t, 2, fx.apply.Clicks())
	assert.Equal(t, 1, fx.ok.Clicks())
	assert.False(t, fx.alert.IsVisible())
	assert.False(t, p.overlay.IsVisible())
}

func TestApplyReportsOverlayThatStaysOpen(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p := newOverlayPage(true)
	p.choose(p.addLeaf(p.tree, "Remote"))
	stuck := p.page.Node("stuck apply", "Übernehmen").SetParent(p.overlay)
	p.page.Add("#stuck-apply", stuck)

	s := sel
	s.Apply = "#stuck-apply"
	err := engine.NewApplier(s, fastPolicy()).ApplyAndClose(ctx, p.page)
	require.ErrorIs(t, err, engine.ErrDidNotClose)
	assert.Equal(t, fastPolicy().ApplyAttempts, stuck.Clicks())
}

func TestApplyFallsBackToVocabulary(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p := newOverlayPage(true)
	p.choose(p.addLeaf(p.tree, "Remote"))
	link := p.page.Node("apply link", " Übernehmen ").SetParent(p.overlay)
	link.OnClick(func() { p.overlay.SetVisible(false) })
	p.page.Add(sel.ApplyScan, p.page.Node("cancel link", "Abbrechen"), link)

	s := sel
	s.Apply = "#missing"
	require.NoError(t, engine.NewApplier(s, fastPolicy()).ApplyAndClose(ctx, p.page))
	assert.Equal(t, 1, link.Clicks())
	assert.Zero(t, p.apply.Clicks())
}

type alertFixture struct {
	apply, alert, ok *fakeui.Node
}

func applyWithAlert(p *overlayPage) (alertFixture, engine.Selectors) {
	alert := p.page.Node("alert", "Bitte Projekt prüfen").SetVisible(false)
	ok := p.page.Node("alert ok", "OK").SetParent(alert)
	ok.OnClick(func() { alert.SetVisible(false) })
	p.page.Add(sel.Alert, alert)
	p.page.Add(sel.AlertOK[0], ok)

	apply := p.page.Node("guarded apply", "Übernehmen").SetParent(p.overlay)
	shown := false
	apply.OnClick(func() {
		if !shown {
			shown = true
			alert.SetVisible(true)
			return
		}
		p.overlay.SetVisible(false)
	})
	p.page.Add("#guarded-apply", apply)

	s := sel
	s.Apply = "#guarded-apply"
	return alertFixture{apply: apply, alert: alert, ok: ok}, s
}

package engine_test

import (
	"context"
	"sync"
	"time"

	"timebooker/internal/engine"
	"timebooker/internal/engine/fakeui"
)

var sel = engine.DefaultSelectors()

func testAliases() engine.AliasSet {
	return engine.AliasSet{
		engine.Remote: {"Remote", "Homeoffice", "Home Office"},
		engine.Office: {"Office", "Büro"},
	}
}

func fastPolicy() engine.Policy {
	p := engine.DefaultPolicy()
	p.PollInterval = 2 * time.Millisecond
	p.StrategyTimeout = 30 * time.Millisecond
	p.KeyTimeout = 20 * time.Millisecond
	p.OverlayTimeout = 50 * time.Millisecond
	p.CloseTimeout = 20 * time.Millisecond
	p.LeafTimeout = 15 * time.Millisecond
	p.FolderTimeout = 15 * time.Millisecond
	p.ExpandTimeout = 20 * time.Millisecond
	p.ExpandDelay = time.Millisecond
	p.NodeAnimDelay = time.Millisecond
	p.SelectTimeout = 20 * time.Millisecond
	p.PostSelectDelay = time.Millisecond
	p.ApplySettle = time.Millisecond
	p.ApplyCloseTimeout = 15 * time.Millisecond
	p.ApplyLateTimeout = 15 * time.Millisecond
	p.AlertTimeout = 15 * time.Millisecond
	p.AlertSettle = time.Millisecond
	p.FinalCloseTimeout = 15 * time.Millisecond
	p.Fill = engine.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	p.Item = engine.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	p.ItemTimeout = 5 * time.Second
	p.DebugTimeout = 5 * time.Second
	p.InterItemDelay = 0
	return p
}

// overlayPage is a page with a hidden project overlay holding a flat tree.
type overlayPage struct {
	page    *fakeui.Doc
	overlay *fakeui.Node
	tree    *fakeui.Node
	apply   *fakeui.Node

	mu     sync.Mutex
	leaves []*leaf
}

type leaf struct {
	node  *fakeui.Node
	title *fakeui.Node
	radio *fakeui.Node
}

func newOverlayPage(open bool) *overlayPage {
	page := fakeui.New()
	p := &overlayPage{page: page}
	p.overlay = page.Node("overlay", "").SetVisible(open)
	p.tree = page.Node("tree", "").SetParent(p.overlay)
	p.apply = page.Node("apply", "Übernehmen").SetParent(p.overlay)
	p.apply.OnClick(func() { p.overlay.SetVisible(false) })
	page.Add(sel.Overlay, p.overlay)
	page.Add(sel.Tree, p.tree)
	page.Add(sel.Apply, p.apply)
	page.OnKey(engine.KeyEscape, func() { p.overlay.SetVisible(false) })
	return p
}

// addLeaf appends a selectable leaf to parent, which is the tree or a folder's child list.
func (p *overlayPage) addLeaf(parent *fakeui.Node, label string) *leaf {
	l := &leaf{
		node:  p.page.Node(label, ""),
		title: p.page.Node(label+" title", label),
		radio: p.page.Node(label+" radio", ""),
	}
	l.node.Add(sel.Title, l.title)
	l.node.Add(sel.Radio, l.radio)
	l.title.OnClick(func() { p.choose(l) })
	l.radio.OnClick(func() { p.choose(l) })
	if parent != p.tree {
		parent.Add(sel.Node, l.node)
	}
	p.tree.Add(sel.Node, l.node)

	p.mu.Lock()
	p.leaves = append(p.leaves, l)
	p.mu.Unlock()
	return l
}

// addFolder appends a collapsed folder whose child list becomes visible via open.
func (p *overlayPage) addFolder(label string) (folder, expander, title, children *fakeui.Node) {
	folder = p.page.Node(label, "").SetClass(sel.FolderClass, true)
	expander = p.page.Node(label+" expander", "")
	title = p.page.Node(label+" title", label)
	children = p.page.Node(label+" children", "").SetVisible(false).SetParent(p.tree)
	folder.Add(sel.Expander, expander)
	folder.Add(sel.Title, title)
	folder.SetNext(sel.Children, children)
	p.tree.Add(sel.Node, folder)
	return folder, expander, title, children
}

// choose makes l the only selected leaf.
func (p *overlayPage) choose(l *leaf) {
	p.mu.Lock()
	leaves := append([]*leaf(nil), p.leaves...)
	p.mu.Unlock()
	for _, other := range leaves {
		on := other == l
		other.node.SetClass(sel.SelectedClass, on)
		other.radio.SetChecked(on)
	}
}

// formWithTrigger is a booking form whose first structural trigger opens the overlay.
func formWithTrigger(p *overlayPage) (*fakeui.Doc, *fakeui.Node) {
	form := fakeui.New()
	trigger := form.Node("trigger", "Projekt")
	trigger.OnClick(func() { p.overlay.SetVisible(true) })
	form.Add(sel.Triggers[0], trigger)
	return form, trigger
}

func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

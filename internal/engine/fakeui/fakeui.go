// Package fakeui is an in-memory stand-in for the remote UI. Queries are answered from
// selector strings registered up front, so tests describe exactly the structure an
// engine step is expected to see.
package fakeui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"timebooker/internal/engine"
)

// Doc is a document (page or frame). It owns the lock shared by all of its nodes.
type Doc struct {
	mu        sync.Mutex
	queries   map[string][]*Node
	keys      map[engine.Key][]func()
	focused   *Node
	mutations int
	pressed   []engine.Key
}

// New returns an empty document.
func New() *Doc {
	return &Doc{queries: map[string][]*Node{}, keys: map[engine.Key][]func(){}}
}

// Node is one element of a Doc.
type Node struct {
	doc *Doc

	name    string
	text    string
	attrs   map[string]string
	classes map[string]bool
	visible bool
	checked bool
	value   string
	parent  *Node

	queries map[string][]*Node
	closest map[string]*Node
	next    map[string]*Node
	frame   *Doc

	onClick       []func()
	onDoubleClick []func()
	clicks        int
	doubleClicks  int
}

// Node creates a visible node with the given text. name only shows up in errors.
func (d *Doc) Node(name, text string) *Node {
	return &Node{
		doc:     d,
		name:    name,
		text:    text,
		attrs:   map[string]string{},
		classes: map[string]bool{},
		visible: true,
		queries: map[string][]*Node{},
		closest: map[string]*Node{},
		next:    map[string]*Node{},
	}
}

// Add registers nodes as document-level matches of selector.
func (d *Doc) Add(selector string, nodes ...*Node) *Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[selector] = append(d.queries[selector], nodes...)
	return d
}

// OnKey runs fn whenever key is pressed.
func (d *Doc) OnKey(key engine.Key, fn func()) *Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = append(d.keys[key], fn)
	return d
}

// Focused returns the node that last received focus.
func (d *Doc) Focused() *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// Mutations counts clicks, double clicks, key presses and inputs.
func (d *Doc) Mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations
}

// Pressed lists the keys pressed so far.
func (d *Doc) Pressed() []engine.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]engine.Key(nil), d.pressed...)
}

func (d *Doc) Find(ctx context.Context, selector string) (engine.Element, error) {
	return find(ctx, d, d.queries, selector, "document")
}

func (d *Doc) FindAll(ctx context.Context, selector string) ([]engine.Element, error) {
	return findAll(ctx, d, d.queries, selector)
}

func (d *Doc) Press(ctx context.Context, key engine.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.mutations++
	d.pressed = append(d.pressed, key)
	handlers := append([]func(){}, d.keys[key]...)
	d.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	return nil
}

// lookup resolves selector against queries. A selector list is answered part by part
// unless it was registered verbatim.
func lookup(queries map[string][]*Node, selector string) []*Node {
	if nodes, ok := queries[selector]; ok {
		return nodes
	}
	var out []*Node
	for _, part := range strings.Split(selector, ",") {
		out = append(out, queries[strings.TrimSpace(part)]...)
	}
	return out
}

func find(ctx context.Context, d *Doc, queries map[string][]*Node, selector, where string) (engine.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := lookup(queries, selector)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", engine.ErrNotFound, selector, where)
	}
	return nodes[0], nil
}

func findAll(ctx context.Context, d *Doc, queries map[string][]*Node, selector string) ([]engine.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := lookup(queries, selector)
	out := make([]engine.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

// Add registers nodes as matches of selector below n. Nodes without a parent become
// children of n for visibility purposes.
func (n *Node) Add(selector string, nodes ...*Node) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for _, c := range nodes {
		if c.parent == nil {
			c.parent = n
		}
	}
	n.queries[selector] = append(n.queries[selector], nodes...)
	return n
}

// SetNext registers sib as the following sibling matching selector.
func (n *Node) SetNext(selector string, sib *Node) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.next[selector] = sib
	return n
}

// SetClosest registers anc as the nearest ancestor matching selector.
func (n *Node) SetClosest(selector string, anc *Node) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.closest[selector] = anc
	return n
}

// SetFrame makes n an iframe showing frame.
func (n *Node) SetFrame(frame *Doc) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.frame = frame
	return n
}

// SetParent overrides the node used for visibility inheritance.
func (n *Node) SetParent(p *Node) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.parent = p
	return n
}

func (n *Node) SetVisible(v bool) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.visible = v
	return n
}

func (n *Node) SetChecked(v bool) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.checked = v
	return n
}

func (n *Node) SetClass(class string, on bool) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if on {
		n.classes[class] = true
	} else {
		delete(n.classes, class)
	}
	return n
}

func (n *Node) SetText(text string) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.text = text
	return n
}

func (n *Node) SetAttr(name, value string) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.attrs[name] = value
	return n
}

// OnClick runs fn after every click on n.
func (n *Node) OnClick(fn func()) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.onClick = append(n.onClick, fn)
	return n
}

// OnDoubleClick runs fn after every double click on n.
func (n *Node) OnDoubleClick(fn func()) *Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.onDoubleClick = append(n.onDoubleClick, fn)
	return n
}

func (n *Node) Clicks() int {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.clicks
}

func (n *Node) DoubleClicks() int {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.doubleClicks
}

// Value returns the last input value.
func (n *Node) Value() string {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.value
}

// IsVisible reports visibility including ancestors.
func (n *Node) IsVisible() bool {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.visibleLocked()
}

func (n *Node) visibleLocked() bool {
	for p := n; p != nil; p = p.parent {
		if !p.visible {
			return false
		}
	}
	return true
}

func (n *Node) String() string { return n.name }

func (n *Node) Find(ctx context.Context, selector string) (engine.Element, error) {
	return find(ctx, n.doc, n.queries, selector, n.name)
}

func (n *Node) FindAll(ctx context.Context, selector string) ([]engine.Element, error) {
	return findAll(ctx, n.doc, n.queries, selector)
}

func (n *Node) Press(ctx context.Context, key engine.Key) error {
	return n.doc.Press(ctx, key)
}

func (n *Node) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.doc.mu.Lock()
	if !n.visibleLocked() {
		n.doc.mu.Unlock()
		return fmt.Errorf("%s is not visible", n.name)
	}
	n.clicks++
	n.doc.mutations++
	handlers := append([]func(){}, n.onClick...)
	n.doc.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	return nil
}

func (n *Node) DoubleClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.doc.mu.Lock()
	if !n.visibleLocked() {
		n.doc.mu.Unlock()
		return fmt.Errorf("%s is not visible", n.name)
	}
	n.doubleClicks++
	n.doc.mutations++
	handlers := append([]func(){}, n.onDoubleClick...)
	n.doc.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	return nil
}

func (n *Node) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.doc.focused = n
	return nil
}

func (n *Node) Input(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.value = value
	n.doc.mutations++
	return nil
}

func (n *Node) Text(ctx context.Context) (string, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.text, nil
}

func (n *Node) Attribute(ctx context.Context, name string) (string, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if name == "value" && n.value != "" {
		return n.value, nil
	}
	return n.attrs[name], nil
}

func (n *Node) Visible(ctx context.Context) (bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.visibleLocked(), nil
}

func (n *Node) Checked(ctx context.Context) (bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.checked, nil
}

func (n *Node) HasClass(ctx context.Context, class string) (bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return class != "" && n.classes[class], nil
}

func (n *Node) Closest(ctx context.Context, selector string) (engine.Element, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if anc, ok := n.closest[selector]; ok {
		return anc, nil
	}
	return nil, fmt.Errorf("%w: closest %s of %s", engine.ErrNotFound, selector, n.name)
}

func (n *Node) NextSibling(ctx context.Context, selector string) (engine.Element, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if sib, ok := n.next[selector]; ok {
		return sib, nil
	}
	return nil, fmt.Errorf("%w: next %s of %s", engine.ErrNotFound, selector, n.name)
}

func (n *Node) Frame(ctx context.Context) (engine.Scope, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.frame == nil {
		return nil, fmt.Errorf("%s is not a frame", n.name)
	}
	return n.frame, nil
}

var (
	_ engine.Scope   = (*Doc)(nil)
	_ engine.Element = (*Node)(nil)
)

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Selection describes what Select observed and did.
type Selection struct {
	Label string `json:"label"`
	// AlreadySelected means the overlay showed an acceptable selection on entry.
	AlreadySelected bool `json:"already_selected"`
	// Changed means a selecting click was issued.
	Changed  bool `json:"changed"`
	Expanded bool `json:"expanded"`
}

// Selector picks a category leaf inside the overlay tree.
type Selector struct {
	Selectors Selectors
	Policy    Policy
	Aliases   AliasSet
}

// NewSelector returns a Selector over the given alias set.
func NewSelector(sel Selectors, policy Policy, aliases AliasSet) *Selector {
	return &Selector{Selectors: sel, Policy: policy, Aliases: aliases}
}

// treeNode is one node of the tree as observed during a single scan.
type treeNode struct {
	el     Element
	label  string
	folder bool
}

// Select makes the overlay show a leaf matching cat and validates it.
// It never clicks a leaf that is already selected.
func (s *Selector) Select(ctx context.Context, root Scope, cat Category) (Selection, error) {
	labels, ok := s.Aliases.Labels(cat)
	if !ok || len(labels) == 0 {
		return Selection{}, fmt.Errorf("%w: no aliases configured for %q", ErrCategoryNotFound, cat)
	}
	if _, err := Locate(ctx, root, s.Selectors.Overlay, LocateOptions{Visible: true, Timeout: s.Policy.OverlayTimeout, Poll: s.Policy.PollInterval}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Selection{}, fmt.Errorf("%w: selection layer not shown", ErrOverlayNotFound)
		}
		return Selection{}, err
	}

	current, found, err := selectedLabel(ctx, root, s.Selectors)
	if err != nil {
		return Selection{}, err
	}
	if found && s.Aliases.Match(cat, current) {
		if err := sleepWithContext(ctx, s.Policy.PostSelectDelay); err != nil {
			return Selection{}, err
		}
		return Selection{Label: current, AlreadySelected: true}, nil
	}

	tree := treeScope(ctx, root, s.Selectors)
	var sel Selection

	leaf, err := s.waitLeaf(ctx, tree, cat, s.Policy.LeafTimeout)
	if err != nil {
		return sel, err
	}
	if leaf == nil {
		folder, err := s.waitFolder(ctx, tree, cat)
		if err != nil {
			return sel, err
		}
		if folder != nil {
			sel.Expanded, err = s.expand(ctx, folder.el)
			if err != nil {
				return sel, err
			}
			scope := Scope(tree)
			if children, err := folder.el.NextSibling(ctx, s.Selectors.Children); err == nil {
				scope = children
			}
			if leaf, err = s.waitLeaf(ctx, scope, cat, s.Policy.LeafTimeout); err != nil {
				return sel, err
			}
		}
	}
	if leaf == nil {
		return sel, fmt.Errorf("%w: no entry for %s (%s)", ErrCategoryNotFound, cat, strings.Join(labels, " / "))
	}

	selected, err := s.isSelected(ctx, leaf.el)
	if err != nil {
		return sel, err
	}
	if !selected {
		if err := s.selectLeaf(ctx, leaf.el); err != nil {
			return sel, err
		}
		sel.Changed = true
	}

	final, found, err := selectedLabel(ctx, root, s.Selectors)
	if err != nil {
		return sel, err
	}
	if !found || !s.Aliases.Match(cat, final) {
		if !found {
			final = "-"
		}
		return sel, fmt.Errorf("%w: expected %s, found %q", ErrValidationFailed, strings.Join(labels, " / "), final)
	}
	sel.Label = final
	return sel, nil
}

// treeScope narrows lookups to the tree container when it is present.
func treeScope(ctx context.Context, root Scope, sel Selectors) Scope {
	if sel.Tree == "" {
		return root
	}
	if tree, err := root.Find(ctx, sel.Tree); err == nil {
		return tree
	}
	return root
}

// scan reads every node under scope in document order. Invisible nodes are skipped.
func (s *Selector) scan(ctx context.Context, scope Scope) ([]treeNode, error) {
	els, err := scope.FindAll(ctx, s.Selectors.Node)
	if err != nil {
		return nil, err
	}
	nodes := make([]treeNode, 0, len(els))
	for _, el := range els {
		if ok, err := el.Visible(ctx); err != nil || !ok {
			continue
		}
		folder, _ := el.HasClass(ctx, s.Selectors.FolderClass)
		nodes = append(nodes, treeNode{el: el, label: nodeLabel(ctx, el, s.Selectors), folder: folder})
	}
	return nodes, nil
}

// pick returns the first node of the wanted kind that matches an alias of cat,
// preferring exact label matches over substring matches. Aliases are tried in priority
// order, nodes in document order.
func pick(nodes []treeNode, aliases AliasSet, cat Category, folder bool) *treeNode {
	labels, _ := aliases.Labels(cat)
	for _, kind := range []matchKind{matchExact, matchSubstring} {
		for _, alias := range labels {
			for i := range nodes {
				n := &nodes[i]
				if n.folder != folder || matchLabel(alias, n.label) != kind {
					continue
				}
				if kind == matchSubstring && aliases.claimedElsewhere(cat, n.label) {
					continue
				}
				return n
			}
		}
	}
	return nil
}

func (s *Selector) waitLeaf(ctx context.Context, scope Scope, cat Category, timeout time.Duration) (*treeNode, error) {
	return s.poll(ctx, scope, cat, false, timeout)
}

func (s *Selector) waitFolder(ctx context.Context, scope Scope, cat Category) (*treeNode, error) {
	return s.poll(ctx, scope, cat, true, s.Policy.FolderTimeout)
}

func (s *Selector) poll(ctx context.Context, scope Scope, cat Category, folder bool, timeout time.Duration) (*treeNode, error) {
	deadline := time.Now().Add(timeout)
	for {
		nodes, err := s.scan(ctx, scope)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if n := pick(nodes, s.Aliases, cat, folder); n != nil {
			return n, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if err := sleepWithContext(ctx, s.Policy.PollInterval); err != nil {
			return nil, err
		}
	}
}

// expand opens a folder and reports whether its child container became visible.
// Escalation: expander click, title click, then double activation on both.
func (s *Selector) expand(ctx context.Context, folder Element) (bool, error) {
	expander, _ := folder.Find(ctx, s.Selectors.Expander)
	title, _ := folder.Find(ctx, s.Selectors.Title)

	steps := []func() error{}
	if expander != nil {
		steps = append(steps, func() error { return expander.Click(ctx) })
	}
	if title != nil {
		steps = append(steps, func() error { return title.Click(ctx) })
	}
	steps = append(steps, func() error {
		if expander != nil {
			_ = expander.DoubleClick(ctx)
			if err := sleepWithContext(ctx, s.Policy.ExpandDelay); err != nil {
				return err
			}
		}
		if title != nil {
			_ = title.DoubleClick(ctx)
		}
		return nil
	})

	for _, step := range steps {
		if ok, err := s.childrenVisible(ctx, folder, 0); ok || err != nil {
			return ok, err
		}
		_ = step()
		if err := sleepWithContext(ctx, s.Policy.ExpandDelay); err != nil {
			return false, err
		}
		if ok, err := s.childrenVisible(ctx, folder, s.Policy.ExpandTimeout); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

func (s *Selector) childrenVisible(ctx context.Context, folder Element, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if ul, err := folder.NextSibling(ctx, s.Selectors.Children); err == nil {
			if ok, err := ul.Visible(ctx); err == nil && ok {
				return true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleepWithContext(ctx, s.Policy.PollInterval); err != nil {
			return false, err
		}
	}
}

// selectLeaf clicks the leaf label, then its radio if still unchecked, and waits for
// the node to report selected. A missing confirmation is left to validation.
func (s *Selector) selectLeaf(ctx context.Context, leaf Element) error {
	target := leaf
	if title, err := leaf.Find(ctx, s.Selectors.Title); err == nil {
		target = title
	}
	if err := target.Click(ctx); err != nil {
		return fmt.Errorf("click leaf: %w", err)
	}
	if err := sleepWithContext(ctx, s.Policy.NodeAnimDelay); err != nil {
		return err
	}

	if radio, err := leaf.Find(ctx, s.Selectors.Radio); err == nil {
		if checked, err := radio.Checked(ctx); err == nil && !checked {
			_ = radio.Click(ctx)
		}
	}

	deadline := time.Now().Add(s.Policy.SelectTimeout)
	for {
		ok, err := s.isSelected(ctx, leaf)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if ok || !time.Now().Before(deadline) {
			break
		}
		if err := sleepWithContext(ctx, s.Policy.PollInterval); err != nil {
			return err
		}
	}
	return sleepWithContext(ctx, s.Policy.PostSelectDelay)
}

func (s *Selector) isSelected(ctx context.Context, node Element) (bool, error) {
	return nodeSelected(ctx, node, s.Selectors)
}

func nodeSelected(ctx context.Context, node Element, sel Selectors) (bool, error) {
	ok, err := node.HasClass(ctx, sel.SelectedClass)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	radio, err := node.Find(ctx, sel.Radio)
	if err != nil {
		return false, nil
	}
	return radio.Checked(ctx)
}

func nodeLabel(ctx context.Context, node Element, sel Selectors) string {
	if title, err := node.Find(ctx, sel.Title); err == nil {
		if txt, err := title.Text(ctx); err == nil {
			return strings.TrimSpace(txt)
		}
	}
	txt, _ := node.Text(ctx)
	return strings.TrimSpace(txt)
}

// selectedLabel returns the label of the first selected node in the tree.
func selectedLabel(ctx context.Context, root Scope, sel Selectors) (string, bool, error) {
	nodes, err := treeScope(ctx, root, sel).FindAll(ctx, sel.Node)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, nil
	}
	for _, n := range nodes {
		if ok, err := nodeSelected(ctx, n, sel); err == nil && ok {
			return nodeLabel(ctx, n, sel), true, nil
		}
	}
	return "", false, nil
}

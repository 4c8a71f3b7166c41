package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"timebooker/internal/engine"
)

// PageScope adapts a rod page (or frame) to engine.Scope. Lookups use rod's
// non-waiting Has/Elements; waiting belongs to engine.Locate.
func PageScope(p *rod.Page) engine.Scope {
	return pageScope{page: p}
}

type pageScope struct {
	page *rod.Page
}

func (s pageScope) Find(ctx context.Context, selector string) (engine.Element, error) {
	ok, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, selector)
	}
	return element{el: el}, nil
}

func (s pageScope) FindAll(ctx context.Context, selector string) ([]engine.Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", selector, err)
	}
	return wrapAll(els), nil
}

func (s pageScope) Press(ctx context.Context, key engine.Key) error {
	return press(s.page.Context(ctx), key)
}

var keys = map[engine.Key]input.Key{
	engine.KeyEnter:  input.Enter,
	engine.KeySpace:  input.Space,
	engine.KeyEscape: input.Escape,
}

func press(page *rod.Page, key engine.Key) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return page.Keyboard.Press(k)
}

// element adapts *rod.Element to engine.Element.
type element struct {
	el *rod.Element
}

func wrapAll(els rod.Elements) []engine.Element {
	out := make([]engine.Element, 0, len(els))
	for _, el := range els {
		out = append(out, element{el: el})
	}
	return out
}

func (e element) on(ctx context.Context) *rod.Element {
	return e.el.Context(ctx)
}

func (e element) Find(ctx context.Context, selector string) (engine.Element, error) {
	ok, el, err := e.on(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, selector)
	}
	return element{el: el}, nil
}

func (e element) FindAll(ctx context.Context, selector string) ([]engine.Element, error) {
	els, err := e.on(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", selector, err)
	}
	return wrapAll(els), nil
}

func (e element) Press(ctx context.Context, key engine.Key) error {
	return press(e.on(ctx).Page(), key)
}

func (e element) Click(ctx context.Context) error {
	el := e.on(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e element) DoubleClick(ctx context.Context) error {
	el := e.on(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 2)
}

func (e element) Focus(ctx context.Context) error {
	return e.on(ctx).Focus()
}

// Input clears the field and types value; rod fires input and change afterwards.
func (e element) Input(ctx context.Context, value string) error {
	el := e.on(ctx)
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return err
	}
	_, err := el.Eval(`() => this.blur()`)
	return err
}

func (e element) Text(ctx context.Context) (string, error) {
	return e.on(ctx).Text()
}

func (e element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.on(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e element) Visible(ctx context.Context) (bool, error) {
	return e.on(ctx).Visible()
}

func (e element) Checked(ctx context.Context) (bool, error) {
	res, err := e.on(ctx).Eval(`() => !!this.checked`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e element) HasClass(ctx context.Context, class string) (bool, error) {
	res, err := e.on(ctx).Eval(`(c) => this.classList.contains(c)`, class)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e element) Closest(ctx context.Context, selector string) (engine.Element, error) {
	return e.byJS(ctx, selector, `(s) => this.closest(s)`)
}

func (e element) NextSibling(ctx context.Context, selector string) (engine.Element, error) {
	return e.byJS(ctx, selector, `(s) => {
		for (let n = this.nextElementSibling; n; n = n.nextElementSibling) {
			if (n.matches(s)) return n
		}
		return null
	}`)
}

func (e element) byJS(ctx context.Context, selector, js string) (engine.Element, error) {
	el, err := e.on(ctx).ElementByJS(rod.Eval(js, selector))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, selector)
		}
		return nil, err
	}
	return element{el: el}, nil
}

func (e element) Frame(ctx context.Context) (engine.Scope, error) {
	frame, err := e.on(ctx).Frame()
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	return PageScope(frame), nil
}

var (
	_ engine.Scope   = pageScope{}
	_ engine.Element = element{}
)

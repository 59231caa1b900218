package pagemanager

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
)

// Page decorates a schemas.Page so that every catalogued action runs
// through the manager's pipeline. Non-catalogued methods delegate directly.
type Page struct {
	inner    schemas.Page
	pipeline *hooks.Pipeline
	onClose  func(id string)
}

var _ schemas.Page = (*Page)(nil)

// Unwrap returns the undecorated page.
func (p *Page) Unwrap() schemas.Page { return p.inner }

// exec runs fn as action. The Call carries the undecorated page so hooks
// acting on it do not re-enter the pipeline.
func (p *Page) exec(ctx context.Context, action string, fn func(context.Context) error, args ...any) error {
	_, err := p.pipeline.Execute(ctx, hooks.NewCall(action, p.inner, args...), func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (p *Page) Goto(ctx context.Context, url string) error {
	return p.exec(ctx, ActionGoto, func(ctx context.Context) error { return p.inner.Goto(ctx, url) }, url)
}

func (p *Page) Reload(ctx context.Context) error {
	return p.exec(ctx, ActionReload, p.inner.Reload)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionClick, func(ctx context.Context) error { return p.inner.Click(ctx, selector) }, selector)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.exec(ctx, ActionFill, func(ctx context.Context) error { return p.inner.Fill(ctx, selector, value) }, selector, value)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.exec(ctx, ActionType, func(ctx context.Context) error { return p.inner.Type(ctx, selector, text) }, selector, text)
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	return p.exec(ctx, ActionPress, func(ctx context.Context) error { return p.inner.Press(ctx, selector, key) }, selector, key)
}

func (p *Page) Check(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionCheck, func(ctx context.Context) error { return p.inner.Check(ctx, selector) }, selector)
}

func (p *Page) Uncheck(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionUncheck, func(ctx context.Context) error { return p.inner.Uncheck(ctx, selector) }, selector)
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	return p.exec(ctx, ActionSelectOption, func(ctx context.Context) error { return p.inner.SelectOption(ctx, selector, value) }, selector, value)
}

func (p *Page) SetInputFiles(ctx context.Context, selector string, files ...string) error {
	return p.exec(ctx, ActionSetInputFiles, func(ctx context.Context) error { return p.inner.SetInputFiles(ctx, selector, files...) }, selector, files)
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionFocus, func(ctx context.Context) error { return p.inner.Focus(ctx, selector) }, selector)
}

func (p *Page) Blur(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionBlur, func(ctx context.Context) error { return p.inner.Blur(ctx, selector) }, selector)
}

func (p *Page) DragAndDrop(ctx context.Context, source, target string) error {
	return p.exec(ctx, ActionDragAndDrop, func(ctx context.Context) error { return p.inner.DragAndDrop(ctx, source, target) }, source, target)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionHover, func(ctx context.Context) error { return p.inner.Hover(ctx, selector) }, selector)
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	return p.exec(ctx, ActionWaitForSelector, func(ctx context.Context) error { return p.inner.WaitForSelector(ctx, selector) }, selector)
}

func (p *Page) WaitForFunction(ctx context.Context, expression string) error {
	return p.exec(ctx, ActionWaitForFunction, func(ctx context.Context) error { return p.inner.WaitForFunction(ctx, expression) }, expression)
}

// Evaluate decodes into res on every attempt, so a retried evaluation
// overwrites the result of a failed one.
func (p *Page) Evaluate(ctx context.Context, expression string, res any) error {
	return p.exec(ctx, ActionEvaluate, func(ctx context.Context) error { return p.inner.Evaluate(ctx, expression, res) }, expression)
}

func (p *Page) QuerySelector(ctx context.Context, selector string) (*schemas.Element, error) {
	out, err := p.pipeline.Execute(ctx, hooks.NewCall(ActionQuerySelector, p.inner, selector), func(ctx context.Context) (any, error) {
		return p.inner.QuerySelector(ctx, selector)
	})
	if err != nil {
		return nil, err
	}
	return asResult[*schemas.Element](ActionQuerySelector, out)
}

func (p *Page) QuerySelectorAll(ctx context.Context, selector string) ([]*schemas.Element, error) {
	out, err := p.pipeline.Execute(ctx, hooks.NewCall(ActionQuerySelectorAll, p.inner, selector), func(ctx context.Context) (any, error) {
		return p.inner.QuerySelectorAll(ctx, selector)
	})
	if err != nil {
		return nil, err
	}
	return asResult[[]*schemas.Element](ActionQuerySelectorAll, out)
}

// asResult converts the pipeline's untyped result back to the action's type.
// A nil result (e.g. a selector that matched nothing) is the zero value.
func asResult[T any](action string, out any) (T, error) {
	var zero T
	if out == nil {
		return zero, nil
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", action, out)
	}
	return v, nil
}

// -- Delegated, not intercepted --

func (p *Page) ID() string { return p.inner.ID() }

func (p *Page) Title(ctx context.Context) (string, error) { return p.inner.Title(ctx) }

func (p *Page) URL(ctx context.Context) (string, error) { return p.inner.URL(ctx) }

func (p *Page) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	return p.inner.Screenshot(ctx, opts)
}

func (p *Page) Close(ctx context.Context) error {
	if err := p.inner.Close(ctx); err != nil {
		return err
	}
	if p.onClose != nil {
		p.onClose(p.inner.ID())
	}
	return nil
}

func (p *Page) IsClosed() bool { return p.inner.IsClosed() }

package automation

import (
	"context"
	"time"
)

// Browser is the driven browser session consumed by a run. Selectors are CSS
// by default; ones starting with "/" are treated as XPath. Implementations
// must keep Close safe to call on any partially failed session.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// WaitURLChange blocks until the page URL differs from old, or the
	// timeout elapses.
	WaitURLChange(ctx context.Context, old string, timeout time.Duration) error

	Click(ctx context.Context, sel string) error
	Clear(ctx context.Context, sel string) error
	SendKeys(ctx context.Context, sel, text string) error
	Text(ctx context.Context, sel string) (string, error)
	Attribute(ctx context.Context, sel, name string) (string, error)
	// Width returns the rendered width of an element in CSS pixels.
	Width(ctx context.Context, sel string) (float64, error)

	// Press starts a pointer hold on the element; MoveBy shifts the held
	// pointer; Release drops it. Together they actuate a drag trajectory.
	Press(ctx context.Context, sel string) error
	MoveBy(ctx context.Context, dx, dy float64) error
	Release(ctx context.Context) error

	Close() error
}

// Factory opens a fresh browser session for a run.
type Factory func(ctx context.Context) (Browser, error)

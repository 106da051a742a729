// Package browser implements the automation browser port on top of a
// Chromium instance driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/Lvvv7/Intelligent-certificate/internal/automation"
	"github.com/Lvvv7/Intelligent-certificate/internal/config"
)

// stealthScript hides the webdriver flag from naive bot detection.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// opTimeout bounds each individual page interaction.
const opTimeout = 20 * time.Second

// Session is a chromedp-backed browser session.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc

	// pointer position while a drag is held.
	pointerX float64
	pointerY float64
}

var _ automation.Browser = (*Session)(nil)

// NewFactory returns a session factory bound to the given configuration.
func NewFactory(cfg config.Config) automation.Factory {
	return func(ctx context.Context) (automation.Browser, error) {
		return newSession(ctx, cfg)
	}
}

func newSession(parent context.Context, cfg config.Config) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(1280, 1024),
	)
	if cfg.DriverPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.DriverPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
	}

	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(cfg.DownloadDir),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// Close tears the session down. Safe to call mid-failure.
func (s *Session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

func (s *Session) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, opTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// queryOpt picks XPath matching for selectors that look like XPath.
func queryOpt(sel string) chromedp.QueryOption {
	if strings.HasPrefix(sel, "/") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *Session) Navigate(_ context.Context, url string) error {
	return s.run(chromedp.Navigate(url))
}

func (s *Session) CurrentURL(_ context.Context) (string, error) {
	var url string
	err := s.run(chromedp.Location(&url))
	return url, err
}

func (s *Session) WaitURLChange(ctx context.Context, old string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		current, err := s.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if current != old {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("url unchanged")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (s *Session) Click(_ context.Context, sel string) error {
	return s.run(chromedp.Click(sel, queryOpt(sel), chromedp.NodeVisible))
}

func (s *Session) Clear(_ context.Context, sel string) error {
	return s.run(chromedp.Clear(sel, queryOpt(sel)))
}

func (s *Session) SendKeys(_ context.Context, sel, text string) error {
	return s.run(chromedp.SendKeys(sel, text, queryOpt(sel)))
}

func (s *Session) Text(_ context.Context, sel string) (string, error) {
	var text string
	err := s.run(chromedp.Text(sel, &text, queryOpt(sel), chromedp.NodeVisible))
	return text, err
}

func (s *Session) Attribute(_ context.Context, sel, name string) (string, error) {
	var value string
	var ok bool
	err := s.run(chromedp.AttributeValue(sel, name, &value, &ok, queryOpt(sel)))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("element %q has no attribute %q", sel, name)
	}
	return value, nil
}

func (s *Session) Width(_ context.Context, sel string) (float64, error) {
	_, _, w, err := s.elementBox(sel)
	return w, err
}

// Press moves the pointer to the element's center and holds the left button.
func (s *Session) Press(_ context.Context, sel string) error {
	x, y, _, err := s.elementBox(sel)
	if err != nil {
		return err
	}
	s.pointerX, s.pointerY = x, y
	return s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		move := input.DispatchMouseEvent(input.MouseMoved, x, y)
		if err := move.Do(ctx); err != nil {
			return err
		}
		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		return press.Do(ctx)
	}))
}

// MoveBy shifts the held pointer by (dx, dy).
func (s *Session) MoveBy(_ context.Context, dx, dy float64) error {
	s.pointerX += dx
	s.pointerY += dy
	x, y := s.pointerX, s.pointerY
	return s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		move := input.DispatchMouseEvent(input.MouseMoved, x, y).
			WithButton(input.Left)
		return move.Do(ctx)
	}))
}

// Release drops the held pointer where it last moved.
func (s *Session) Release(_ context.Context) error {
	x, y := s.pointerX, s.pointerY
	return s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		return release.Do(ctx)
	}))
}

// elementBox returns the center coordinates and width of a visible element.
func (s *Session) elementBox(sel string) (centerX, centerY, width float64, err error) {
	var nodes []*cdp.Node
	if err = s.run(chromedp.Nodes(sel, &nodes, queryOpt(sel), chromedp.NodeVisible)); err != nil {
		return 0, 0, 0, err
	}
	if len(nodes) == 0 {
		return 0, 0, 0, fmt.Errorf("element %q not found", sel)
	}

	err = s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		box, berr := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
		if berr != nil {
			return berr
		}
		// Content quad: x1,y1, x2,y2, x3,y3, x4,y4.
		q := box.Content
		if len(q) < 8 {
			return fmt.Errorf("element %q has no box model", sel)
		}
		centerX = (q[0] + q[2] + q[4] + q[6]) / 4
		centerY = (q[1] + q[3] + q[5] + q[7]) / 4
		width = q[2] - q[0]
		return nil
	}))
	return centerX, centerY, width, err
}

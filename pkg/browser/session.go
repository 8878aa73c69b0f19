package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrLaunch means the browser process could not be started or attached to.
	ErrLaunch = errors.New("browser launch failed")
	// ErrNavigation means the page could not be loaded.
	ErrNavigation = errors.New("navigation failed")
	// ErrElementNotFound means no element matched the selector before the deadline.
	ErrElementNotFound = errors.New("element not found")
	// ErrNotVisible means the element exists but did not become visible before the deadline.
	ErrNotVisible = errors.New("element not visible")
)

// Driver is the set of page operations the verifier needs. Elements are
// resolved by selector on every call; nothing is cached between calls.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Checked(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Opener acquires a fresh Driver. The caller owns it and must Close it.
type Opener func(ctx context.Context) (Driver, error)

// Options configures how the browser is launched.
type Options struct {
	Bin      string
	Headless bool
	Flags    []string
}

// DefaultFlags are the Chrome flags needed to run inside containers.
func DefaultFlags() []string {
	return []string{"no-sandbox", "disable-gpu", "disable-dev-shm-usage"}
}

// NewOpener returns an Opener that launches a local browser with opts.
func NewOpener(opts Options) Opener {
	return func(ctx context.Context) (Driver, error) {
		s, err := Launch(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Session is a launched browser with a single page.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	closeOnce sync.Once
	closeErr  error
}

// Launch starts a browser and opens a blank page.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	l := launcher.New().Context(ctx)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	l = l.Headless(opts.Headless)
	for _, f := range opts.Flags {
		l = l.Set(flags.Flag(f))
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		abandon(l)
		return nil, fmt.Errorf("%w: failed to connect to browser: %w", ErrLaunch, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("%w: failed to create page: %w", ErrLaunch, err)
	}

	return &Session{launcher: l, browser: b, page: page}, nil
}

// abandon kills a launched browser that never became usable and removes its
// temporary profile.
func abandon(l *launcher.Launcher) {
	l.Kill()
	l.Cleanup()
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		s.launcher.Cleanup()
	})
	return s.closeErr
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: %s did not finish loading: %w", ErrNavigation, url, err)
	}
	return nil
}

// Click waits for the element to be visible and left-clicks it once.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return classify(ErrNotVisible, selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// Checked reports the checked property of the element.
func (s *Session) Checked(ctx context.Context, selector string) (bool, error) {
	el, err := s.element(ctx, selector)
	if err != nil {
		return false, err
	}
	prop, err := el.Property("checked")
	if err != nil {
		return false, fmt.Errorf("failed to read checked state of %s: %w", selector, err)
	}
	return prop.Bool(), nil
}

// WaitVisible blocks until the element is rendered and not hidden.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return classify(ErrNotVisible, selector, err)
	}
	return nil
}

// Screenshot captures the viewport, or the whole page when fullPage is set, as PNG.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (s *Session) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, classify(ErrElementNotFound, selector, err)
	}
	return el, nil
}

// classify maps a deadline or rod's not-found error onto kind.
func classify(kind error, selector string, err error) error {
	var notFound *rod.ElementNotFoundError
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %w", kind, selector, err)
	}
	return fmt.Errorf("failed to resolve %s: %w", selector, err)
}

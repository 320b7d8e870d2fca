package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// BrowserResolver implements Resolver with a headless browser, for sites that only
// render their title client-side. One browser instance is shared by every caller;
// each lookup opens its own page.
type BrowserResolver struct {
	log      logrus.FieldLogger
	launcher *launcher.Launcher
	browser  *rod.Browser
	timeout  time.Duration

	closeOnce sync.Once
}

// NewBrowserResolver launches a local headless browser.
func NewBrowserResolver(timeout time.Duration, logger logrus.FieldLogger) (*BrowserResolver, error) {
	log := logger.WithField("component", "browser_resolver")

	path, exists := launcher.LookPath()
	if !exists {
		log.Error("Cannot find browser executable for rod")
		return nil, errors.New("rod browser dependency not found")
	}

	l := launcher.New().Bin(path).Headless(true)
	u, err := l.Launch()
	if err != nil {
		log.WithError(err).Error("Failed to launch browser")
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	log.WithField("bin", path).Info("Persistent rod browser instance created")

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserResolver{
		log:      log,
		launcher: l,
		browser:  browser,
		timeout:  timeout,
	}, nil
}

// Close shuts the browser down. Safe to call more than once.
func (r *BrowserResolver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.log.Info("Closing persistent rod browser instance")
		err = r.browser.Close()
		r.launcher.Cleanup()
	})
	return err
}

// ResolveRedirect navigates to url and returns the URL the page settled on.
func (r *BrowserResolver) ResolveRedirect(ctx context.Context, url string) (string, error) {
	info, err := r.visit(ctx, url)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// FetchTitle navigates to url and returns the rendered document title.
func (r *BrowserResolver) FetchTitle(ctx context.Context, url string) (string, error) {
	info, err := r.visit(ctx, url)
	if err != nil {
		return "", err
	}
	title := strings.Join(strings.Fields(info.Title), " ")
	if title == "" {
		return "", newFetchError(KindMalformedMarkup, url, errors.New("document title is empty"))
	}
	return title, nil
}

func (r *BrowserResolver) visit(ctx context.Context, url string) (info *proto.TargetTargetInfo, err error) {
	log := r.log.WithField("url", url)

	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		log.WithError(err).Error("Failed to create rod page")
		return nil, newFetchError(KindConnection, url, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Error closing rod page")
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.Navigate(url); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, classifyNavigation(url, err)
	}
	if err := page.WaitLoad(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Page load timed out")
			return nil, newFetchError(KindRetryExhausted, url, pageCtx.Err())
		}
		return nil, newFetchError(KindConnection, url, err)
	}

	info, err = page.Info()
	if err != nil {
		return nil, newFetchError(KindConnection, url, err)
	}
	return info, nil
}

func classifyNavigation(url string, err error) *FetchError {
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) && strings.Contains(navErr.Reason, "NAME_NOT_RESOLVED") {
		return newFetchError(KindNameResolution, url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newFetchError(KindRetryExhausted, url, err)
	}
	return newFetchError(KindConnection, url, err)
}

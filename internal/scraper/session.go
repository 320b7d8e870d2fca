package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxRedirects caps the redirect chain followed by a Session.
const MaxRedirects = 15

// SessionOptions configures the shared HTTP session.
type SessionOptions struct {
	UserAgent    string        // sent with every request
	Timeout      time.Duration // per request, redirects included
	Retries      int           // extra attempts on transport errors, 429 and 5xx
	RetryBackoff time.Duration // initial wait between attempts, doubled each retry
	MaxBackoff   time.Duration // cap for the wait between attempts
}

// Session is a reusable HTTP client shared by all workers of a batch, so
// connections are reused across records.
type Session struct {
	client *http.Client
	opts   SessionOptions
	log    logrus.FieldLogger
}

// NewSession builds a Session. Zero options fall back to conservative defaults.
func NewSession(opts SessionOptions, logger logrus.FieldLogger) *Session {
	if opts.UserAgent == "" {
		opts.UserAgent = "micro-dwh/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8

	return &Session{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", MaxRedirects)
				}
				req.Header.Set("User-Agent", opts.UserAgent)
				return nil
			},
		},
		opts: opts,
		log:  logger.WithField("component", "http_session"),
	}
}

// Get issues a GET request, retrying transport failures, 429 and 5xx responses with
// exponential backoff. The caller owns the returned body. Failures are reported as
// *FetchError; cancellation of ctx is returned as ctx.Err().
func (s *Session) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	wait := s.opts.RetryBackoff
	var lastErr error
	lastKind := KindConnection

	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			s.log.WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt,
				"wait":    wait.String(),
			}).WithError(lastErr).Debug("Retrying request")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
			if wait > s.opts.MaxBackoff {
				wait = s.opts.MaxBackoff
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, newFetchError(KindConnection, rawURL, err)
		}
		req.Header.Set("User-Agent", s.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) {
				return nil, newFetchError(KindNameResolution, rawURL, err)
			}
			if !retryable(err) {
				return nil, newFetchError(KindConnection, rawURL, err)
			}
			lastErr = err
			if errors.Is(err, syscall.ECONNREFUSED) {
				lastKind = KindConnection
			} else {
				lastKind = KindRetryExhausted
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			lastKind = KindRetryExhausted
			continue
		}
		return resp, nil
	}

	if s.opts.Retries > 0 && lastKind != KindConnection {
		lastErr = fmt.Errorf("gave up after %d attempts: %w", s.opts.Retries+1, lastErr)
	}
	return nil, newFetchError(lastKind, rawURL, lastErr)
}

// retryable reports whether a transport error may go away on its own. Redirect caps,
// unsupported schemes and certificate errors fail the same way on every attempt.
func retryable(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

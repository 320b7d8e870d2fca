package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

// maxBodyBytes bounds how much of a document is read when looking for its title.
const maxBodyBytes = 2 << 20

// HTTPResolver resolves redirects and titles with plain HTTP requests.
type HTTPResolver struct {
	session *Session
	log     logrus.FieldLogger
}

// NewHTTPResolver creates a resolver on top of a shared session.
func NewHTTPResolver(session *Session, logger logrus.FieldLogger) *HTTPResolver {
	return &HTTPResolver{
		session: session,
		log:     logger.WithField("component", "http_resolver"),
	}
}

// ResolveRedirect follows the redirect chain of url and returns the last request URL.
// The status of the final response is not inspected: a 404 behind a shortener still
// tells us where the link points to.
func (r *HTTPResolver) ResolveRedirect(ctx context.Context, url string) (string, error) {
	resp, err := r.session.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	// drain a little so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)

	final := resp.Request.URL.String()
	if final != url {
		r.log.WithFields(logrus.Fields{"url": url, "final_url": final}).Debug("Redirect resolved")
	}
	return final, nil
}

// FetchTitle downloads url and extracts the text of its <title> element.
func (r *HTTPResolver) FetchTitle(ctx context.Context, url string) (string, error) {
	resp, err := r.session.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", newFetchError(KindHTTPStatus, url, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := decodeBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.URL = url
			return "", fe
		}
		return "", newFetchError(KindDecoding, url, err)
	}

	title, err := ExtractTitle(body)
	if err != nil {
		return "", newFetchError(KindMalformedMarkup, url, err)
	}
	return title, nil
}

// decodeBody reads the response body and converts it to UTF-8 using the declared
// or sniffed charset. A document that claims UTF-8 but is not valid UTF-8 is a
// decoding failure rather than a page full of replacement characters.
func decodeBody(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", newFetchError(KindConnection, "", fmt.Errorf("read body: %w", err))
	}

	enc, name, _ := charset.DetermineEncoding(raw, resp.Header.Get("Content-Type"))
	if name == "utf-8" {
		raw = bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(raw) {
			return "", errors.New("body is not valid UTF-8")
		}
		return string(raw), nil
	}

	data, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s body: %w", name, err)
	}
	return string(data), nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExtractTitle returns the whitespace-normalized text of the first <title> element
// of an HTML document.
func ExtractTitle(document string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	sel := doc.Find("head title").First()
	if sel.Length() == 0 {
		sel = doc.Find("title").First()
	}
	if sel.Length() == 0 {
		return "", errors.New("document has no title element")
	}

	title := strings.Join(strings.Fields(sel.Text()), " ")
	if title == "" {
		return "", errors.New("document title is empty")
	}
	return title, nil
}

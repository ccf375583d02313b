// Package preview fetches a remote URL on behalf of a chat client and distills
// it into link preview metadata. The server does the fetch so clients never
// reveal their address to arbitrary pasted links.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Preview is the response shape for one previewed link. Fields that do not
// apply to the target's content type stay empty and are omitted on the wire.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
}

var ErrUnsupportedURL = errors.New("preview: only http and https URLs are supported")

// Fetcher resolves link previews with a bounded request timeout and a cap on
// how much of the target body it will read.
type Fetcher struct {
	client       *http.Client
	maxBodyBytes int64
}

func NewFetcher(client *http.Client, maxBodyBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 2 << 20
	}
	return &Fetcher{client: client, maxBodyBytes: maxBodyBytes}
}

// Fetch retrieves the target and builds a Preview from its content type:
// direct image links preview as themselves, audio links carry an audioUrl,
// video and HTML pages are mined for OpenGraph and twitter metadata.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("preview: parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, ErrUnsupportedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("preview: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preview: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("preview: target responded %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	p := &Preview{URL: finalURL, ContentType: mediaType}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		p.Image = finalURL
		return p, nil
	case strings.HasPrefix(mediaType, "audio/"):
		p.AudioURL = finalURL
		p.Title = fileNameOf(target)
		p.Description = p.Title
		return p, nil
	case strings.HasPrefix(mediaType, "video/"):
		p.Title = fileNameOf(target)
		return p, nil
	}

	meta, err := parseMeta(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("preview: parse html: %w", err)
	}

	p.Title = meta.title
	p.Description = meta.description
	p.Image = resolveRef(resp.Request.URL, meta.image)
	p.SiteName = meta.siteName
	return p, nil
}

func fileNameOf(u *url.URL) string {
	path := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// resolveRef absolutizes a meta image reference against the page URL.
func resolveRef(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

type pageMeta struct {
	title       string
	description string
	image       string
	siteName    string

	plainTitle string
}

// parseMeta walks the HTML token stream and collects OpenGraph properties,
// twitter card fallbacks, the description meta tag, and the <title> text.
func parseMeta(r io.Reader) (pageMeta, error) {
	var meta pageMeta

	tz := html.NewTokenizer(r)
	inTitle := false
	for {
		switch tz.Next() {
		case html.ErrorToken:
			if err := tz.Err(); !errors.Is(err, io.EOF) && !isUnexpectedEOF(err) {
				return pageMeta{}, err
			}
			meta.finish()
			return meta, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tz.Token()
			switch tok.Data {
			case "meta":
				meta.applyMetaTag(tok)
			case "title":
				inTitle = true
			case "body":
				// Metadata lives in <head>; stop before streaming the body.
				meta.finish()
				return meta, nil
			}
		case html.EndTagToken:
			if tz.Token().Data == "title" {
				inTitle = false
			}
		case html.TextToken:
			if inTitle {
				meta.plainTitle += string(tz.Text())
			}
		}
	}
}

func (m *pageMeta) applyMetaTag(tok html.Token) {
	var key, content string
	for _, attr := range tok.Attr {
		switch attr.Key {
		case "property", "name":
			key = strings.ToLower(attr.Val)
		case "content":
			content = attr.Val
		}
	}
	if content == "" {
		return
	}

	switch key {
	case "og:title":
		m.title = content
	case "og:description":
		m.description = content
	case "og:image", "og:image:url":
		if m.image == "" {
			m.image = content
		}
	case "og:site_name":
		m.siteName = content
	case "twitter:title":
		if m.title == "" {
			m.title = content
		}
	case "twitter:description":
		if m.description == "" {
			m.description = content
		}
	case "twitter:image":
		if m.image == "" {
			m.image = content
		}
	case "description":
		if m.description == "" {
			m.description = content
		}
	}
}

func (m *pageMeta) finish() {
	if m.title == "" {
		m.title = strings.TrimSpace(m.plainTitle)
	}
}

func isUnexpectedEOF(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}

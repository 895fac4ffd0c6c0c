package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultResolveDepth = 3
	maxEmbedPage        = 2 << 20
)

var ErrNoDirectMedia = errors.New("no direct media url found")

var (
	reMediaAbs     = regexp.MustCompile(`(?i)(https?:)?//[^\s"'<>]+\.(mp4|m3u8)(\?[^\s"'<>]*)?`)
	reMediaRel     = regexp.MustCompile(`(?i)(/[^\s"'<>]+\.(mp4|m3u8)(\?[^\s"'<>]*)?)`)
	reLocationHref = regexp.MustCompile(`(?i)location\.(?:href\s*=|replace\s*\()\s*['"]([^'"]+)['"]`)
	reRefreshURL   = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'">\s]+)`)
	jsUnescaper    = strings.NewReplacer(`\/`, "/", `\u0026`, "&", `\u002F`, "/", `\u002f`, "/", `\u003A`, ":", `\u003a`, ":", "&amp;", "&")
)

// MediaResolver suit une page d'embed (iframe, meta refresh, location.href) jusqu'à une URL mp4/m3u8.
type MediaResolver struct {
	client   *http.Client
	maxDepth int
}

func NewMediaResolver(client *http.Client) *MediaResolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MediaResolver{client: client, maxDepth: defaultResolveDepth}
}

func isDirectMedia(u string) bool {
	lu := strings.ToLower(u)
	return strings.Contains(lu, ".mp4") || strings.Contains(lu, ".m3u8")
}

// Resolve renvoie une URL média directe (mp4 préféré à m3u8) ou ErrNoDirectMedia.
func (m *MediaResolver) Resolve(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &CodedError{Code: "invalid_params", Message: "empty url"}
	}
	return m.resolve(ctx, raw, m.maxDepth, map[string]struct{}{})
}

func (m *MediaResolver) resolve(ctx context.Context, raw string, depth int, visited map[string]struct{}) (string, error) {
	if isDirectMedia(raw) {
		return raw, nil
	}
	if _, seen := visited[raw]; seen || depth <= 0 {
		return "", ErrNoDirectMedia
	}
	visited[raw] = struct{}{}

	base, err := url.Parse(raw)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return "", ErrNoDirectMedia
	}
	page, err := m.fetchPage(ctx, raw)
	if err != nil {
		return "", err
	}

	scan := scanEmbedPage(base, page)
	if len(scan.media) > 0 {
		return preferMP4(scan.media), nil
	}
	for _, next := range scan.follow {
		if u, err := m.resolve(ctx, next, depth-1, visited); err == nil {
			return u, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrNoDirectMedia
}

func (m *MediaResolver) fetchPage(ctx context.Context, raw string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", animeSamaUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &CodedError{Code: "network_error", Message: "embed page request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &CodedError{Code: "http_status", Message: "embed page: " + resp.Status}
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
		return "", ErrNoDirectMedia
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedPage))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type embedScan struct {
	media  []string
	follow []string
}

// scanEmbedPage parcourt les tokens HTML: attributs src des balises média, puis texte/scripts.
// Les redirections sont classées meta refresh, location.href, iframe.
func scanEmbedPage(base *url.URL, page string) embedScan {
	var (
		out               embedScan
		refresh, location []string
		iframes           []string
		text              strings.Builder
	)
	addMedia := func(ref string) {
		if abs, ok := absoluteRef(base, jsUnescaper.Replace(ref)); ok && isDirectMedia(abs) {
			out.media = append(out.media, abs)
		}
	}

	z := html.NewTokenizer(strings.NewReader(page))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			text.Write(z.Text())
			text.WriteByte('\n')
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "source", "video":
				addMedia(attr(tok, "src"))
			case "iframe":
				if abs, ok := absoluteRef(base, attr(tok, "src")); ok {
					iframes = append(iframes, abs)
				}
			case "meta":
				if strings.EqualFold(attr(tok, "http-equiv"), "refresh") {
					if m := reRefreshURL.FindStringSubmatch(attr(tok, "content")); m != nil {
						if abs, ok := absoluteRef(base, m[1]); ok {
							refresh = append(refresh, abs)
						}
					}
				}
			}
		}
	}

	body := jsUnescaper.Replace(text.String())
	for _, m := range reMediaAbs.FindAllString(body, -1) {
		addMedia(m)
	}
	if len(out.media) == 0 {
		for _, m := range reMediaRel.FindAllString(body, -1) {
			addMedia(m)
		}
	}
	for _, m := range reLocationHref.FindAllStringSubmatch(body, -1) {
		if abs, ok := absoluteRef(base, m[1]); ok {
			location = append(location, abs)
		}
	}
	out.follow = append(append(refresh, location...), iframes...)
	return out
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func absoluteRef(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func preferMP4(candidates []string) string {
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), ".mp4") {
			return c
		}
	}
	return candidates[0]
}

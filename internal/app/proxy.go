package app

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

const (
	DefaultProxyPath   = "/api/proxy"
	maxPlaylistPayload = 4 << 20
	hlsContentType     = "application/vnd.apple.mpegurl"
)

var (
	hopHeaders = map[string]bool{
		"connection": true, "keep-alive": true, "proxy-authenticate": true,
		"proxy-authorization": true, "proxy-connection": true, "te": true,
		"trailer": true, "trailers": true, "transfer-encoding": true, "upgrade": true,
	}
	// En-têtes client jamais relayés vers l'amont.
	droppedRequestHeaders = map[string]bool{
		"host": true, "cookie": true, "origin": true, "referer": true,
		"x-forwarded-for": true, "x-forwarded-host": true, "x-forwarded-proto": true, "x-real-ip": true,
	}
	reURIAttr = regexp.MustCompile(`URI="([^"]*)"`)
)

// ProxyService relaie /api/proxy?url=<cible> et réécrit les playlists HLS.
type ProxyService struct {
	logger  zerolog.Logger
	client  *http.Client
	metrics *Metrics
	path    string
}

func NewProxyService(logger zerolog.Logger, metrics *Metrics) *ProxyService {
	return &ProxyService{
		logger:  logger,
		metrics: metrics,
		path:    DefaultProxyPath,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 20 * time.Second,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				// Les playlists compressées sont décodées à la main (gzip + brotli).
				DisableCompression: true,
			},
		},
	}
}

func (p *ProxyService) WithHTTPClient(c *http.Client) *ProxyService {
	if c != nil {
		p.client = c
	}
	return p
}

// WithPath change le chemin utilisé dans les URI réécrites.
func (p *ProxyService) WithPath(path string) *ProxyService {
	if strings.TrimSpace(path) != "" {
		p.path = strings.TrimSpace(path)
	}
	return p
}

// ParseProxyTarget valide la cible: URL absolue http(s) avec un hôte.
func ParseProxyTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &CodedError{Code: "invalid_params", Message: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &CodedError{Code: "invalid_params", Message: "invalid url", Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, &CodedError{Code: "invalid_params", Message: "only http and https targets are allowed", Err: ErrTargetNotAllowed}
	}
	return u, nil
}

func (p *ProxyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := ParseProxyTarget(q.Get("url"))
	if err != nil {
		p.metrics.ObserveProxy("rejected")
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	referer := strings.TrimSpace(q.Get("referer"))
	origin := strings.TrimSpace(q.Get("origin"))

	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		p.metrics.ObserveProxy("rejected")
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	for k, vs := range r.Header {
		lk := strings.ToLower(k)
		if hopHeaders[lk] || droppedRequestHeaders[lk] {
			continue
		}
		for _, v := range vs {
			outReq.Header.Add(k, v)
		}
	}
	if referer != "" {
		outReq.Header.Set("Referer", referer)
	}
	if origin != "" {
		outReq.Header.Set("Origin", origin)
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		p.metrics.ObserveProxy("upstream_error")
		p.logger.Debug().Err(err).Str("host", target.Host).Msg("proxy upstream failed")
		httpjson.WriteError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && r.Method != http.MethodHead && isPlaylist(resp) {
		p.servePlaylist(w, resp, referer, origin)
		return
	}

	copyResponseHeaders(w.Header(), resp.Header, false)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(resp.StatusCode)
	p.metrics.ObserveProxy("ok")
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}
}

func (p *ProxyService) servePlaylist(w http.ResponseWriter, resp *http.Response, referer, origin string) {
	raw, err := decodeBody(resp.Header.Get("Content-Encoding"), io.LimitReader(resp.Body, maxPlaylistPayload))
	if err != nil {
		p.metrics.ObserveProxy("upstream_error")
		p.logger.Debug().Err(err).Msg("proxy playlist decode failed")
		httpjson.WriteError(w, http.StatusBadGateway, "invalid playlist encoding")
		return
	}
	base := resp.Request.URL
	out := p.RewritePlaylist(raw, base, referer, origin)

	copyResponseHeaders(w.Header(), resp.Header, true)
	w.Header().Set("Content-Type", hlsContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	p.metrics.ObserveProxy("rewritten")
	_, _ = w.Write(out)
}

// RewritePlaylist renvoie la playlist avec chaque URI (segments, clés, sous-playlists) repassant par le proxy.
func (p *ProxyService) RewritePlaylist(playlist []byte, base *url.URL, referer, origin string) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(playlist))
	sc.Buffer(make([]byte, 64<<10), maxPlaylistPayload)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
			line = reURIAttr.ReplaceAllStringFunc(line, func(m string) string {
				uri := reURIAttr.FindStringSubmatch(m)[1]
				return `URI="` + p.proxied(uri, base, referer, origin) + `"`
			})
		default:
			line = p.proxied(trimmed, base, referer, origin)
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func (p *ProxyService) proxied(uri string, base *url.URL, referer, origin string) string {
	if strings.HasPrefix(uri, "data:") || strings.HasPrefix(uri, p.path+"?") {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return uri
	}
	v := url.Values{}
	v.Set("url", abs.String())
	if referer != "" {
		v.Set("referer", referer)
	}
	if origin != "" {
		v.Set("origin", origin)
	}
	return p.path + "?" + v.Encode()
}

func isPlaylist(resp *http.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	return resp.Request != nil && strings.HasSuffix(strings.ToLower(resp.Request.URL.Path), ".m3u8")
}

func decodeBody(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.ReadAll(r)
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "br":
		return io.ReadAll(brotli.NewReader(r))
	default:
		return nil, &CodedError{Code: "http_status", Message: "unsupported content encoding " + encoding}
	}
}

// copyResponseHeaders copie les en-têtes amont sauf hop-by-hop (et encodage/longueur si le corps est réécrit).
func copyResponseHeaders(dst, src http.Header, rewritten bool) {
	for k, vs := range src {
		lk := strings.ToLower(k)
		if hopHeaders[lk] || lk == "set-cookie" {
			continue
		}
		if rewritten && (lk == "content-length" || lk == "content-encoding") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

var reHyphens = regexp.MustCompile(`-+`)

// Source est le résultat d'un adapter provider: Mp4Link, HlsLink ou ParseFailure.
type Source interface {
	isSource()
}

type Mp4Link struct {
	URL     string
	Quality string
	Headers map[string]string
	Referer string
}

type HlsLink struct {
	URL     string
	Quality string
	Headers map[string]string
	Referer string
}

// ParseFailure remplace une exception: payload inconnu ou malformé.
type ParseFailure struct {
	Reason string
}

func (Mp4Link) isSource()      {}
func (HlsLink) isSource()      {}
func (ParseFailure) isSource() {}

// Adapter transforme la réponse brute d'un provider en sources canoniques.
type Adapter func(raw json.RawMessage) ([]Source, []domain.Caption)

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{}
)

// RegisterAdapter associe un adapter à un nom de serveur (insensible à la casse).
func RegisterAdapter(server string, a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[strings.ToLower(strings.TrimSpace(server))] = a
}

func adapterFor(server string) Adapter {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	if a, ok := adapters[strings.ToLower(strings.TrimSpace(server))]; ok {
		return a
	}
	return GenericAdapter
}

type rawSource struct {
	URL        string            `json:"url"`
	File       string            `json:"file"`
	Link       string            `json:"link"`
	Src        string            `json:"src"`
	Quality    flexString        `json:"quality"`
	Label      flexString        `json:"label"`
	Resolution flexString        `json:"resolution"`
	Type       string            `json:"type"`
	IsM3U8     *bool             `json:"isM3U8"`
	Headers    map[string]string `json:"headers"`
	Referer    string            `json:"referer"`
}

func (r rawSource) location() string {
	for _, v := range []string{r.URL, r.File, r.Link, r.Src} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (r rawSource) quality() string {
	for _, v := range []string{string(r.Quality), string(r.Resolution), string(r.Label)} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// flexString accepte "1080p" comme 1080.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	// null, objets: ignorés plutôt que de faire échouer tout le payload.
	*f = ""
	return nil
}

type rawCaption struct {
	File     string `json:"file"`
	URL      string `json:"url"`
	Label    string `json:"label"`
	Lang     string `json:"lang"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
	Default  bool   `json:"default"`
}

type rawStream struct {
	Playlist  string               `json:"playlist"`
	Qualities map[string]rawSource `json:"qualities"`
	Captions  []rawCaption         `json:"captions"`
	Headers   map[string]string    `json:"headers"`
}

type rawData struct {
	Sources   []rawSource  `json:"sources"`
	Links     []rawSource  `json:"links"`
	Subtitles []rawCaption `json:"subtitles"`
	Stream    *rawStream   `json:"stream"`
}

type genericPayload struct {
	rawSource

	Sources []rawSource `json:"sources"`
	Links   []rawSource `json:"links"`
	Streams []rawSource `json:"streams"`
	Data    *rawData    `json:"data"`
	Stream  *rawStream  `json:"stream"`

	Subtitles []rawCaption `json:"subtitles"`
	Captions  []rawCaption `json:"captions"`
	Tracks    []rawCaption `json:"tracks"`
}

// GenericAdapter reconnaît les formes de payload les plus courantes:
// sources[], links[], streams[], data.{sources,links,stream}, stream.{playlist,qualities} et un url isolé.
func GenericAdapter(raw json.RawMessage) ([]Source, []domain.Caption) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []Source{ParseFailure{Reason: "empty payload"}}, nil
	}
	var p genericPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return []Source{ParseFailure{Reason: "malformed payload: " + err.Error()}}, nil
	}

	var entries []rawSource
	entries = append(entries, p.Sources...)
	entries = append(entries, p.Links...)
	entries = append(entries, p.Streams...)
	captions := collectCaptions(p.Subtitles, p.Captions, p.Tracks)

	streams := []*rawStream{p.Stream}
	if p.Data != nil {
		entries = append(entries, p.Data.Sources...)
		entries = append(entries, p.Data.Links...)
		captions = domain.MergeCaptions(captions, collectCaptions(p.Data.Subtitles))
		streams = append(streams, p.Data.Stream)
	}
	for _, st := range streams {
		if st == nil {
			continue
		}
		entries = append(entries, streamEntries(st)...)
		captions = domain.MergeCaptions(captions, collectCaptions(st.Captions))
	}
	if len(entries) == 0 && p.location() != "" {
		entries = append(entries, p.rawSource)
	}
	if len(entries) == 0 {
		return []Source{ParseFailure{Reason: "no sources in payload"}}, captions
	}

	out := make([]Source, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSource(e))
	}
	return out, captions
}

func streamEntries(st *rawStream) []rawSource {
	var out []rawSource
	if len(st.Qualities) > 0 {
		// Ordre déterministe: les maps JSON n'en ont pas.
		keys := make([]string, 0, len(st.Qualities))
		for k := range st.Qualities {
			keys = append(keys, k)
		}
		sort.SliceStable(keys, func(i, j int) bool {
			ri, rj := domain.QualityRank(keys[i]), domain.QualityRank(keys[j])
			if ri != rj {
				return ri < rj
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			e := st.Qualities[k]
			if e.quality() == "" {
				e.Quality = flexString(k)
			}
			if len(e.Headers) == 0 {
				e.Headers = st.Headers
			}
			out = append(out, e)
		}
	}
	if strings.TrimSpace(st.Playlist) != "" {
		out = append(out, rawSource{URL: st.Playlist, Quality: "auto", Type: "hls", Headers: st.Headers})
	}
	return out
}

func toSource(e rawSource) Source {
	loc := e.location()
	if loc == "" {
		return ParseFailure{Reason: "source without url"}
	}
	headers := copyHeaders(e.Headers)
	referer := strings.TrimSpace(e.Referer)

	if target, h, ref, ok := UnwrapProxyURL(loc); ok {
		loc = target
		for k, v := range h {
			if headers == nil {
				headers = map[string]string{}
			}
			headers[k] = v
		}
		if ref != "" {
			referer = ref
		}
	}
	if referer == "" && headers != nil {
		referer = headerValue(headers, "Referer")
	}

	kind := ClassifyURL(loc)
	if e.IsM3U8 != nil && *e.IsM3U8 {
		kind = domain.StreamHLS
	} else if kind == domain.StreamMP4 {
		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case "hls", "m3u8", "application/x-mpegurl", "application/vnd.apple.mpegurl":
			kind = domain.StreamHLS
		}
	}

	if kind == domain.StreamHLS {
		return HlsLink{URL: loc, Quality: e.quality(), Headers: headers, Referer: referer}
	}
	return Mp4Link{URL: loc, Quality: e.quality(), Headers: headers, Referer: referer}
}

func collectCaptions(groups ...[]rawCaption) []domain.Caption {
	var out []domain.Caption
	for _, g := range groups {
		for _, c := range g {
			file := strings.TrimSpace(c.File)
			if file == "" {
				file = strings.TrimSpace(c.URL)
			}
			label := c.Label
			if label == "" {
				label = c.Language
			}
			if label == "" {
				label = c.Lang
			}
			kind := c.Kind
			if kind == "" {
				kind = "captions"
			}
			// Les tracks "thumbnails" ne sont pas des sous-titres.
			if strings.EqualFold(kind, "thumbnails") {
				continue
			}
			out = domain.MergeCaptions(out, []domain.Caption{{File: file, Label: label, Kind: kind, Default: c.Default}})
		}
	}
	return out
}

// ClassifyURL: m3u8 si l'URL désigne une playlist HLS, mp4 sinon.
func ClassifyURL(raw string) domain.StreamType {
	lu := strings.ToLower(raw)
	if u, err := url.Parse(raw); err == nil {
		lu = strings.ToLower(u.Path)
		if strings.Contains(strings.ToLower(u.RawQuery), ".m3u8") {
			return domain.StreamHLS
		}
	}
	if strings.Contains(lu, ".m3u8") || strings.HasSuffix(lu, "/playlist") || strings.Contains(lu, "/hls/") {
		return domain.StreamHLS
	}
	return domain.StreamMP4
}

// UnwrapProxyURL détecte les URLs HLS enveloppées par un proxy
// (ex: https://proxy.host/m3u8-proxy?url=<enc>&headers=<json>) et renvoie l'URL d'origine
// avec ses en-têtes. ok=false si l'URL n'est pas enveloppée.
func UnwrapProxyURL(raw string) (target string, headers map[string]string, referer string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", nil, "", false
	}
	if !strings.Contains(strings.ToLower(u.Path), "proxy") {
		return "", nil, "", false
	}
	q := u.Query()
	inner := strings.TrimSpace(q.Get("url"))
	if inner == "" {
		return "", nil, "", false
	}
	innerURL, err := url.Parse(inner)
	if err != nil || (innerURL.Scheme != "http" && innerURL.Scheme != "https") || innerURL.Host == "" {
		return "", nil, "", false
	}

	if h := strings.TrimSpace(q.Get("headers")); h != "" {
		parsed := map[string]string{}
		if err := json.Unmarshal([]byte(h), &parsed); err == nil && len(parsed) > 0 {
			headers = parsed
		}
	}
	for _, name := range []string{"referer", "ref"} {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			referer = v
			break
		}
	}
	if origin := strings.TrimSpace(q.Get("origin")); origin != "" {
		if headers == nil {
			headers = map[string]string{}
		}
		headers["Origin"] = origin
	}
	if referer == "" && headers != nil {
		referer = headerValue(headers, "Referer")
	}
	return innerURL.String(), headers, referer, true
}

// ToLinkRecords convertit les sources d'un serveur en LinkRecord. Les ParseFailure sont ignorées.
func ToLinkRecords(server string, sources []Source, now time.Time) []domain.LinkRecord {
	out := make([]domain.LinkRecord, 0, len(sources))
	seen := map[string]struct{}{}
	for _, s := range sources {
		var (
			u, quality, referer string
			headers             map[string]string
			kind                domain.StreamType
		)
		switch v := s.(type) {
		case Mp4Link:
			u, quality, headers, referer, kind = v.URL, v.Quality, v.Headers, v.Referer, domain.StreamMP4
		case HlsLink:
			u, quality, headers, referer, kind = v.URL, v.Quality, v.Headers, v.Referer, domain.StreamHLS
		default:
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		if n := domain.NormalizeQuality(quality); n != "" {
			quality = n
		} else if strings.TrimSpace(quality) == "" {
			quality = "auto"
		}
		out = append(out, domain.LinkRecord{
			ID:      fmt.Sprintf("%s-%s-%d-%s", slugID(server), quality, now.UnixNano(), xid.New().String()),
			Name:    fmt.Sprintf("%s (%s)", server, quality),
			URL:     u,
			Type:    kind,
			Server:  server,
			Quality: quality,
			Headers: headers,
			Referer: referer,
		})
	}
	return out
}

// ParseFailures renvoie les raisons d'échec contenues dans sources.
func ParseFailures(sources []Source) []string {
	var out []string
	for _, s := range sources {
		if f, ok := s.(ParseFailure); ok {
			out = append(out, f.Reason)
		}
	}
	return out
}

func slugID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(reHyphens.ReplaceAllString(s, "-"), "-")
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func headerValue(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

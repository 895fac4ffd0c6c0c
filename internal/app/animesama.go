package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultAnimeSamaBaseURL = "https://anime-sama.si"
	animeSamaUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/120.0"
)

// Domaines miroirs ramenés au domaine canonique.
var animeSamaMirrors = map[string]bool{
	"anime-sama.tv": true, "anime-sama.fr": true, "anime-sama.org": true, "anime-sama.si": true,
}

var (
	reEpisodesArray = regexp.MustCompile(`var\s+eps(\d+)\s*=\s*\[([^\]]*)\];`)
	reQuoted        = regexp.MustCompile(`['"]([^'"]*)['"]`)
)

var ErrNoEpisodes = errors.New("no playable episodes")

// EpisodeTable associe chaque lecteur ("Player 1") à ses URLs d'épisode (index 0 = épisode 1).
// Une chaîne vide marque un épisode absent ou un placeholder.
type EpisodeTable struct {
	Players map[string][]string
}

// PlayerInfo résume un lecteur pour GET /api/anime/players.
type PlayerInfo struct {
	Name      string `json:"name"`
	Episodes  int    `json:"episodes"`
	Available int    `json:"available"`
}

// CanonicalSeasonURL normalise une URL de saison anime-sama (domaine miroir, slash final).
func CanonicalSeasonURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &CodedError{Code: "invalid_params", Message: "invalid anime-sama url"}
	}
	if host := strings.TrimPrefix(strings.ToLower(u.Host), "www."); animeSamaMirrors[host] {
		u.Host = "anime-sama.si"
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// SeasonURL construit <catalogue>/saison<N>/<lang>/.
func SeasonURL(catalogueURL string, season int, lang string) string {
	if season <= 0 {
		season = 1
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = "vostfr"
	}
	return fmt.Sprintf("%s/saison%d/%s/", strings.TrimRight(catalogueURL, "/"), season, lang)
}

// FetchEpisodeTable télécharge et parse episodes.js pour une saison.
func FetchEpisodeTable(ctx context.Context, client *http.Client, seasonURL string) (EpisodeTable, error) {
	canon, err := CanonicalSeasonURL(seasonURL)
	if err != nil {
		return EpisodeTable{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canon+"episodes.js", nil)
	if err != nil {
		return EpisodeTable{}, err
	}
	req.Header.Set("User-Agent", animeSamaUserAgent)
	req.Header.Set("Accept", "text/javascript,*/*;q=0.1")
	req.Header.Set("Referer", canon)

	resp, err := client.Do(req)
	if err != nil {
		return EpisodeTable{}, &CodedError{Code: "network_error", Message: "episodes.js request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return EpisodeTable{}, &CodedError{Code: "http_status", Message: "episodes.js: " + resp.Status}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderPayload))
	if err != nil {
		return EpisodeTable{}, err
	}
	return ParseEpisodeTable(string(b))
}

// ParseEpisodeTable lit les tableaux `var epsN = [...]` d'un episodes.js.
func ParseEpisodeTable(js string) (EpisodeTable, error) {
	matches := reEpisodesArray.FindAllStringSubmatch(js, -1)
	if len(matches) == 0 {
		return EpisodeTable{}, errors.New("no episodes arrays found")
	}
	table := EpisodeTable{Players: map[string][]string{}}
	playable := 0
	for _, m := range matches {
		items := reQuoted.FindAllStringSubmatch(m[2], -1)
		urls := make([]string, len(items))
		for i, it := range items {
			if u := strings.TrimSpace(it[1]); isPlayableEmbed(u) {
				urls[i] = u
				playable++
			}
		}
		table.Players["Player "+m[1]] = urls
	}
	if playable == 0 {
		return EpisodeTable{}, ErrNoEpisodes
	}
	return table, nil
}

// Names renvoie les lecteurs du plus fourni au moins fourni (nom en cas d'égalité).
func (t EpisodeTable) Names() []string {
	names := make([]string, 0, len(t.Players))
	for n := range t.Players {
		names = append(names, n)
	}
	sort.SliceStable(names, func(i, j int) bool {
		ci, cj := t.available(names[i]), t.available(names[j])
		if ci != cj {
			return ci > cj
		}
		return playerNumber(names[i]) < playerNumber(names[j])
	})
	return names
}

// Best renvoie le lecteur ayant le plus d'épisodes jouables, "" si la table est vide.
func (t EpisodeTable) Best() string {
	if names := t.Names(); len(names) > 0 {
		return names[0]
	}
	return ""
}

// URL renvoie l'URL d'embed de l'épisode (1-indexé) pour un lecteur.
func (t EpisodeTable) URL(player string, episode int) (string, bool) {
	urls := t.Players[player]
	if episode <= 0 || episode > len(urls) || urls[episode-1] == "" {
		return "", false
	}
	return urls[episode-1], true
}

// LastEpisode renvoie le dernier épisode jouable d'un lecteur.
func (t EpisodeTable) LastEpisode(player string) int {
	urls := t.Players[player]
	for i := len(urls) - 1; i >= 0; i-- {
		if urls[i] != "" {
			return i + 1
		}
	}
	return 0
}

func (t EpisodeTable) Info() []PlayerInfo {
	names := t.Names()
	out := make([]PlayerInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PlayerInfo{Name: n, Episodes: t.LastEpisode(n), Available: t.available(n)})
	}
	return out
}

func (t EpisodeTable) available(player string) int {
	c := 0
	for _, u := range t.Players[player] {
		if u != "" {
			c++
		}
	}
	return c
}

func playerNumber(name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, "Player")))
	if err != nil {
		return 1 << 30
	}
	return n
}

// embedCheck valide une URL d'embed d'un hébergeur connu (les placeholders ont un identifiant vide).
type embedCheck struct {
	match func(lu string) bool
	valid func(u *url.URL) bool
}

var embedChecks = []embedCheck{
	{
		match: func(lu string) bool { return strings.Contains(lu, "vk.com/video_ext.php") },
		valid: func(u *url.URL) bool {
			q := u.Query()
			return isDigits(strings.TrimPrefix(q.Get("oid"), "-")) && isDigits(q.Get("id"))
		},
	},
	{
		match: func(lu string) bool { return strings.Contains(lu, "video.sibnet.ru") && strings.Contains(lu, "shell.php") },
		valid: func(u *url.URL) bool { return isDigits(u.Query().Get("videoid")) },
	},
	{
		match: func(lu string) bool { return strings.Contains(lu, "vidmoly") && strings.Contains(lu, "/embed-") },
		valid: func(u *url.URL) bool {
			id := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/embed-"), ".html")
			return strings.HasPrefix(u.Path, "/embed-") && strings.HasSuffix(u.Path, ".html") && strings.TrimSpace(id) != ""
		},
	},
	{
		match: func(lu string) bool { return strings.Contains(lu, "sendvid.com") && strings.Contains(lu, "/embed/") },
		valid: func(u *url.URL) bool {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			return len(parts) >= 2 && parts[0] == "embed" && strings.TrimSpace(parts[1]) != ""
		},
	},
}

func isPlayableEmbed(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	if strings.HasSuffix(raw, "=") || strings.HasSuffix(raw, "/embed/") {
		return false
	}
	lu := strings.ToLower(raw)
	for _, c := range embedChecks {
		if !c.match(lu) {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || !c.valid(u) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

package domain

import (
	"sort"
	"strings"
)

type StreamType string

const (
	StreamHLS StreamType = "m3u8"
	StreamMP4 StreamType = "mp4"
)

// LinkRecord est la forme canonique d'un flux jouable, quel que soit le provider d'origine.
// Immuable une fois créé.
type LinkRecord struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Type    StreamType        `json:"type"`
	Server  string            `json:"server"`
	Quality string            `json:"quality"`
	Headers map[string]string `json:"headers,omitempty"`
	Referer string            `json:"referer,omitempty"`
}

type Caption struct {
	File    string `json:"file"`
	Label   string `json:"label"`
	Kind    string `json:"kind,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// qualityOrder: index 0 = meilleure qualité.
var qualityOrder = []string{"2160p", "1440p", "1080p", "720p", "480p", "360p", "240p"}

var qualityAliases = map[string]string{
	"4k":  "2160p",
	"uhd": "2160p",
	"2k":  "1440p",
	"fhd": "1080p",
	"hd":  "720p",
	"sd":  "480p",

	"qhd":     "1440p",
	"ultrahd": "2160p",
	"quadhd":  "1440p",
	"fullhd":  "1080p",
}

var qualitySeparators = strings.NewReplacer(" ", "", "-", "", "_", "")

// NormalizeQuality ramène "1080", "1080P", "FHD 1080p" ou "4K" au jeton canonique ("1080p").
// Renvoie "" si aucun jeton connu n'est trouvé.
func NormalizeQuality(raw string) string {
	q := strings.ToLower(strings.TrimSpace(raw))
	if q == "" {
		return ""
	}
	for _, known := range qualityOrder {
		if strings.Contains(q, known) {
			return known
		}
	}
	for _, known := range qualityOrder {
		if strings.Contains(q, strings.TrimSuffix(known, "p")) {
			return known
		}
	}
	// Libellé complet d'abord: "Full HD" ne doit pas tomber sur l'alias "hd".
	if v, ok := qualityAliases[qualitySeparators.Replace(q)]; ok {
		return v
	}
	for _, field := range strings.Fields(q) {
		if v, ok := qualityAliases[field]; ok {
			return v
		}
	}
	return ""
}

// QualityRank renvoie le rang d'une qualité (0 = meilleure). Les jetons inconnus passent après tous les connus.
func QualityRank(quality string) int {
	n := NormalizeQuality(quality)
	for i, known := range qualityOrder {
		if n == known {
			return i
		}
	}
	return len(qualityOrder)
}

// SortLinks trie par qualité décroissante. Le tri est stable: à qualité égale, l'ordre d'arrivée est conservé.
func SortLinks(links []LinkRecord) {
	sort.SliceStable(links, func(i, j int) bool {
		return QualityRank(links[i].Quality) < QualityRank(links[j].Quality)
	})
}

// MergeCaptions ajoute les sous-titres de next absents de base (clé: URL du fichier).
func MergeCaptions(base []Caption, next []Caption) []Caption {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c.File] = struct{}{}
	}
	out := base
	for _, c := range next {
		if strings.TrimSpace(c.File) == "" {
			continue
		}
		if _, ok := seen[c.File]; ok {
			continue
		}
		seen[c.File] = struct{}{}
		out = append(out, c)
	}
	return out
}

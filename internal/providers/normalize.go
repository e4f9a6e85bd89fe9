// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package providers

import (
	"sort"
	"strings"
)

// fuzzyThreshold is the minimum similarity for a fuzzy table match.
const fuzzyThreshold = 0.8

// canonicalNames maps lowercased upstream provider names to canonical
// slugs. The catalogues disagree wildly on naming ("Disney+",
// "Disney Plus", "Disney+ Deutschland"); this table settles the known
// variants, the fuzzy stage catches near-misses, and slugify handles the
// rest deterministically.
var canonicalNames = map[string]string{
	// Netflix variants
	"netflix":             "netflix",
	"netflix deutschland": "netflix",
	"netflix germany":     "netflix",
	"netflix uk":          "netflix",
	"netflix us":          "netflix",
	"netflix france":      "netflix",
	"netflix españa":      "netflix",
	"netflix italia":      "netflix",
	"netflix basic with ads": "netflix",

	// Amazon Prime variants
	"amazon prime video":             "amazon-prime",
	"amazon prime":                   "amazon-prime",
	"prime video":                    "amazon-prime",
	"amazon video":                   "amazon-prime",
	"amazon prime video deutschland": "amazon-prime",
	"amazon prime video germany":     "amazon-prime",
	"amazon prime video uk":          "amazon-prime",
	"amazon prime video us":          "amazon-prime",
	"amazon prime video france":      "amazon-prime",
	"prime video deutschland":        "amazon-prime",
	"prime video germany":            "amazon-prime",

	// Disney variants
	"disney plus":         "disney-plus",
	"disney+":             "disney-plus",
	"disney+ deutschland": "disney-plus",
	"disney+ germany":     "disney-plus",
	"disney+ uk":          "disney-plus",
	"disney+ us":          "disney-plus",
	"disney+ france":      "disney-plus",

	// HBO variants
	"hbo max":         "hbo-max",
	"hbo":             "hbo-max",
	"max":             "hbo-max",
	"hbo deutschland": "hbo-max",
	"hbo germany":     "hbo-max",

	// Apple variants
	"apple tv plus": "apple-tv",
	"apple tv+":     "apple-tv",
	"apple tv":      "apple-tv",
	"apple itunes":  "apple-tv",

	// Sky variants
	"sky":                 "sky",
	"sky deutschland":     "sky",
	"sky germany":         "sky",
	"sky uk":              "sky",
	"sky go":              "sky-go",
	"sky go deutschland":  "sky-go",
	"sky go germany":      "sky-go",
	"sky ticket":          "wow",
	"wow":                 "wow",
	"wow deutschland":     "wow",

	// Other German providers
	"rtl+":       "rtl-plus",
	"rtl plus":   "rtl-plus",
	"joyn":       "joyn",
	"joyn plus":  "joyn-plus",
	"joyn+":      "joyn-plus",
	"tvnow":      "tvnow",
	"magentatv":  "magenta-tv",
	"magenta tv": "magenta-tv",

	// Other global providers
	"hulu":           "hulu",
	"paramount plus": "paramount-plus",
	"paramount+":     "paramount-plus",
	"peacock":        "peacock",
	"peacock premium": "peacock",
	"discovery plus": "discovery-plus",
	"discovery+":     "discovery-plus",
	"crunchyroll":    "crunchyroll",
	"funimation":     "funimation",

	// UK-specific
	"bbc iplayer": "bbc-iplayer",
	"bbc":         "bbc-iplayer",
	"itv hub":     "itv-hub",
	"itvx":        "itv-hub",
	"all 4":       "all-4",
	"channel 4":   "all-4",
	"my5":         "my5",
	"channel 5":   "my5",

	// French providers
	"canal+":     "canal-plus",
	"canal plus": "canal-plus",
	"france.tv":  "france-tv",
	"ocs":        "ocs",
	"salto":      "salto",

	// Spanish providers
	"movistar+":      "movistar-plus",
	"movistar plus":  "movistar-plus",
	"hbo max españa": "hbo-max",
	"atresplayer":    "atresplayer",

	// Italian providers
	"raiplay":           "rai-play",
	"mediaset infinity": "mediaset-infinity",
	"timvision":         "tim-vision",
}

// sortedCanonicalKeys holds table keys in stable order so fuzzy ties
// resolve the same way on every run.
var sortedCanonicalKeys []string

func init() {
	// Every canonical slug maps to itself, which makes Normalize
	// idempotent: a slug that round-trips through a cache or config file
	// lands on the same slug again.
	slugs := make([]string, 0, len(canonicalNames))
	for _, slug := range canonicalNames {
		slugs = append(slugs, slug)
	}
	for _, slug := range slugs {
		canonicalNames[slug] = slug
	}

	sortedCanonicalKeys = make([]string, 0, len(canonicalNames))
	for k := range canonicalNames {
		sortedCanonicalKeys = append(sortedCanonicalKeys, k)
	}
	sort.Strings(sortedCanonicalKeys)
}

// Normalize maps a raw provider name from any catalogue to its canonical
// slug. Resolution order: explicit table, longest table key prefixing the
// name at a word boundary (regional suffixes: "Netflix Österreich" is
// still netflix), fuzzy table match at >= 0.8 similarity, then a
// deterministic slug of the raw name. Empty input returns an empty
// string.
func Normalize(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return ""
	}

	if slug, ok := canonicalNames[name]; ok {
		return slug
	}
	if slug, ok := prefixMatch(name); ok {
		return slug
	}
	if slug, ok := fuzzyMatch(name); ok {
		return slug
	}
	return slugify(name)
}

// prefixMatch finds the longest table key that starts name and ends at a
// word boundary. Two distinct keys of equal length cannot both prefix
// the same name, so longest-wins is unambiguous.
func prefixMatch(name string) (string, bool) {
	best := ""
	for key := range canonicalNames {
		if len(key) <= len(best) || !strings.HasPrefix(name, key) {
			continue
		}
		if len(name) == len(key) || name[len(key)] == ' ' {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return canonicalNames[best], true
}

// fuzzyMatch returns the table slug whose key is most similar to name,
// if any clears the threshold. Keys are scanned in sorted order and only
// a strictly better ratio displaces the current best, so the result is
// stable across runs.
func fuzzyMatch(name string) (string, bool) {
	var (
		best      string
		bestRatio float64
	)
	for _, key := range sortedCanonicalKeys {
		if r := matchRatio(name, key); r >= fuzzyThreshold && r > bestRatio {
			best = canonicalNames[key]
			bestRatio = r
		}
	}
	return best, best != ""
}

// slugify is the generic fallback: lowercase, "+" becomes "plus", every
// other non-alphanumeric run collapses to a single hyphen.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "+", " plus ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), "-")
}

// matchRatio is the classic matching-blocks similarity: twice the number
// of characters in common (longest common substring, recursing left and
// right of it) over the combined length. Identical strings score 1.0.
func matchRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	m := matchingChars(a, b)
	return 2.0 * float64(m) / float64(len(a)+len(b))
}

func matchingChars(a, b string) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonBlock finds the longest common substring of a and b,
// returning its start offsets and length. O(len(a)*len(b)) with a single
// rolling row; provider names are short so this is plenty.
func longestCommonBlock(a, b string) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}

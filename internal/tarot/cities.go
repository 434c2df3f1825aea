package tarot

import (
	"bufio"
	_ "embed"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed cities.txt
var cityData string

const (
	maxSuggestions = 10
	minQueryRunes  = 2

	// A fuzzy candidate whose Double Metaphone codes overlap the query needs
	// this Jaro-Winkler score; one without overlap needs fuzzyThreshold.
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

type city struct {
	label  string // "City, Country"
	folded string // lowercase city name without diacritics
	codes  map[string]struct{}
}

// Cities suggests birthplaces for the soulmate form. It is read-only after
// construction and safe for concurrent use.
type Cities struct {
	all []city
}

// NewCities loads the embedded city list.
func NewCities() *Cities {
	return NewCitiesFrom(cityData)
}

// NewCitiesFrom parses "City|Country" lines. Blank lines and lines starting
// with '#' are skipped.
func NewCitiesFrom(data string) *Cities {
	c := &Cities{}
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, country, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		name, country = strings.TrimSpace(name), strings.TrimSpace(country)
		folded := fold(name)
		c.all = append(c.all, city{
			label:  name + ", " + country,
			folded: folded,
			codes:  metaphoneCodes(strings.Fields(folded)),
		})
	}
	return c
}

// Len returns the number of known cities.
func (c *Cities) Len() int { return len(c.all) }

// Suggest returns up to ten unique "City, Country" labels for query. Cities
// whose name starts with the query come first in list order, then fuzzy
// matches by descending Jaro-Winkler similarity. Queries shorter than two
// runes yield nothing.
func (c *Cities) Suggest(query string) []string {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minQueryRunes {
		return nil
	}
	q := fold(query)
	qCodes := metaphoneCodes(strings.Fields(q))

	type scored struct {
		label string
		score float64
	}
	var prefix []string
	var fuzzy []scored
	for _, ct := range c.all {
		if strings.HasPrefix(ct.folded, q) {
			prefix = append(prefix, ct.label)
			continue
		}
		score := matchr.JaroWinkler(q, ct.folded, false)
		threshold := fuzzyThreshold
		if overlaps(qCodes, ct.codes) {
			threshold = phoneticThreshold
		}
		if score >= threshold {
			fuzzy = append(fuzzy, scored{ct.label, score})
		}
	}
	slices.SortStableFunc(fuzzy, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	out := make([]string, 0, maxSuggestions)
	add := func(label string) bool {
		if !slices.Contains(out, label) {
			out = append(out, label)
		}
		return len(out) < maxSuggestions
	}
	for _, l := range prefix {
		if !add(l) {
			return out
		}
	}
	for _, f := range fuzzy {
		if !add(f.label) {
			return out
		}
	}
	return out
}

// fold lowercases s and strips diacritics so "saint-etienne" finds
// "Saint-Étienne".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

package match

import (
	"regexp"
	"strings"
)

// Noise stripped before comparison: edition/packaging qualifiers, platform
// names, version tags and parenthesised years. Storefronts decorate titles
// with these freely and they carry no identity signal.
var (
	reEdition  = regexp.MustCompile(`\b(goty|game of the year|ultimate|deluxe|premium|collector|special|limited|director's cut)\b`)
	reVariant  = regexp.MustCompile(`\b(edition|version|remaster|remastered|hd|4k|enhanced|definitive)\b`)
	reBundle   = regexp.MustCompile(`\b(pack|bundle|collection|anthology|trilogy|saga)\b`)
	rePlatform = regexp.MustCompile(`\b(pc|ps4|ps5|xbox|nintendo|switch|steam)\b`)
	reRelease  = regexp.MustCompile(`\bv\d+\.\d+\b`)
	reYear     = regexp.MustCompile(`\(\d{4}\)`)
	rePunct    = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases a title and strips punctuation and noise words so
// that catalog titles and scraped listing titles compare on equal footing.
// The same derivation backs Game.NormalizedTitle and listing matching.
func NormalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = reEdition.ReplaceAllString(s, " ")
	s = reVariant.ReplaceAllString(s, " ")
	s = reBundle.ReplaceAllString(s, " ")
	s = rePlatform.ReplaceAllString(s, " ")
	s = reRelease.ReplaceAllString(s, " ")
	s = reYear.ReplaceAllString(s, " ")
	s = rePunct.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists common legal entity suffixes to strip during name
// normalization. Longer forms come first so "L.L.C." wins over "CO".
var legalSuffixes = []string{
	" INCORPORATED", " CORPORATION", " LIMITED", " COMPANY",
	" L.L.C.", " L.L.C", " L.L.P.", " L.L.P", " P.L.C.", " D/B/A",
	" PLLC", " LLC", " LLP", " PLC", " DBA",
	" INC.", " INC", " CORP.", " CORP", " LTD.", " LTD",
	" L.P.", " L.P", " P.C.", " P.C", " CO.", " CO",
	" LP", " PC",
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9]+`)
)

// foldDiacritics decomposes accented runes and drops the combining marks.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName standardizes an organization name for comparison: diacritics
// folded, uppercased, one trailing legal suffix removed, punctuation dropped
// and whitespace collapsed.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(foldDiacritics(name))
	name = strings.TrimRight(name, " ,")

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " AND ",
		"-", " ",
		"/", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeGovID reduces a CAGE/DUNS-style registry number to its
// uppercase alphanumerics without leading zeros, so "00-123-4567" and
// "1234567" compare equal.
func NormalizeGovID(id string) string {
	id = nonAlnumRe.ReplaceAllString(strings.ToUpper(id), "")
	id = strings.TrimLeft(id, "0")
	return id
}

// NormalizeIdentifier trims and uppercases an exact external identifier.
func NormalizeIdentifier(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// NormalizePIID normalizes a contract PIID. Dashes are formatting only:
// "W91-24-C-0001" and "w9124c0001" are the same award.
func NormalizePIID(piid string) string {
	return NormalizeIdentifier(strings.ReplaceAll(piid, "-", ""))
}

// zipPrefix returns the first three digits of a ZIP code, or "".
func zipPrefix(zip string) string {
	var b strings.Builder
	for _, r := range zip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 3 {
				return b.String()
			}
		}
	}
	return ""
}

package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// GeneratePath substitutes resolved token values into the template and
// anchors the result under the entry's root folder. Unavailable tokens are
// replaced with the empty string. The output has no duplicated separators
// and exactly one trailing separator, and generating twice from the same
// inputs yields byte-identical output.
func GeneratePath(rootFolder string, tmpl Template, vals Values) string {
	p := tmpl.Format
	for _, tok := range tmpl.Tokens {
		v := vals[tok.Raw]
		if !v.Available {
			p = strings.ReplaceAll(p, tok.Raw, "")
			continue
		}
		p = strings.ReplaceAll(p, tok.Raw, v.Text)
	}

	// Some templates embed the root folder themselves.
	if !strings.HasPrefix(p, rootFolder) {
		p = strings.TrimRight(rootFolder, "/") + "/" + p
	}

	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	return strings.TrimRight(p, "/") + "/"
}

// PathsEqual compares two paths ignoring trailing separators.
func PathsEqual(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// CleanTitle produces the "CleanTitle" form of an entry title: lowercase,
// alphanumerics and spaces only, single spaces, then each word title-cased.
func CleanTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	return cases.Title(language.English).String(cleaned)
}

// stripMarks removes combining marks so accented characters compare equal
// to their base form.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle reduces a title to a comparison key: diacritics removed,
// everything except letters and digits dropped, lowercased. Used for fuzzy
// matching titles against the service's log messages.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}

	stripped, _, err := transform.String(stripMarks, title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

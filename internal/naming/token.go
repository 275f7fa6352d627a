// Package naming turns a service's folder naming template and an entry's
// fields into the canonical folder path the entry should live at.
package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/renamarr/renamarr/internal/arr"
)

// Kind identifies which entry field a template token resolves from.
type Kind int

const (
	// KindUnsupported is any token name the engine does not recognize. It
	// resolves to unavailable so an unfamiliar template never blocks a run.
	KindUnsupported Kind = iota
	// KindReleaseYear resolves from the entry's release year.
	KindReleaseYear
	// KindCleanTitle resolves from the cleaned entry title.
	KindCleanTitle
	// KindTitleYear resolves to "Title (Year)", without doubling a year
	// already present in the title.
	KindTitleYear
	// KindTmdbID resolves from the TMDB catalog identifier.
	KindTmdbID
	// KindImdbID resolves from the IMDB catalog identifier.
	KindImdbID
	// KindTvdbID resolves from the TVDB catalog identifier.
	KindTvdbID
)

// Token is one named placeholder extracted from a template.
type Token struct {
	Kind Kind
	Name string // inner name, e.g. "Movie CleanTitle"
	Raw  string // placeholder as written, e.g. "{Movie CleanTitle}"
}

// Template is a parsed naming format: the original text plus its ordered,
// deduplicated tokens.
type Template struct {
	Format string
	Tokens []Token
}

var tokenPattern = regexp.MustCompile(`\{[^{}]+\}`)

// kindByName maps the token names the services emit to resolver kinds.
var kindByName = map[string]Kind{
	"Release Year":     KindReleaseYear,
	"Year":             KindReleaseYear,
	"Movie CleanTitle": KindCleanTitle,
	"Series TitleYear": KindTitleYear,
	"TmdbId":           KindTmdbID,
	"ImdbId":           KindImdbID,
	"TvdbId":           KindTvdbID,
}

// Parse extracts the bracketed tokens from a naming format in template
// order. Duplicate occurrences of the same token collapse to one.
func Parse(format string) Template {
	tmpl := Template{Format: format}

	seen := make(map[string]bool)
	for _, raw := range tokenPattern.FindAllString(format, -1) {
		if seen[raw] {
			continue
		}
		seen[raw] = true

		name := strings.Trim(raw, "{}")
		tmpl.Tokens = append(tmpl.Tokens, Token{
			Kind: kindByName[name],
			Name: name,
			Raw:  raw,
		})
	}

	return tmpl
}

// Value is one resolved token. Available is false when the entry has no
// usable field for the token; the token is then elided from the path.
type Value struct {
	Text      string
	Available bool
}

// Values maps a token's raw placeholder text to its resolved value.
type Values map[string]Value

// Resolve produces the token values for one entry. Unknown tokens and
// empty or zero fields resolve to unavailable rather than failing.
func Resolve(tmpl Template, entry arr.Entry) Values {
	vals := make(Values, len(tmpl.Tokens))
	for _, tok := range tmpl.Tokens {
		vals[tok.Raw] = resolveToken(tok, entry)
	}
	return vals
}

func resolveToken(tok Token, entry arr.Entry) Value {
	switch tok.Kind {
	case KindReleaseYear:
		if entry.Year == 0 {
			return Value{}
		}
		return Value{Text: strconv.Itoa(entry.Year), Available: true}

	case KindCleanTitle:
		title := CleanTitle(entry.Title)
		if title == "" {
			return Value{}
		}
		return Value{Text: title, Available: true}

	case KindTitleYear:
		return resolveTitleYear(entry)

	case KindTmdbID:
		if entry.TmdbID == 0 {
			return Value{}
		}
		return Value{Text: strconv.FormatInt(entry.TmdbID, 10), Available: true}

	case KindImdbID:
		if entry.ImdbID == "" {
			return Value{}
		}
		return Value{Text: entry.ImdbID, Available: true}

	case KindTvdbID:
		if entry.TvdbID == 0 {
			return Value{}
		}
		return Value{Text: strconv.FormatInt(entry.TvdbID, 10), Available: true}

	case KindUnsupported:
		return Value{}
	}

	return Value{}
}

func resolveTitleYear(entry arr.Entry) Value {
	if entry.Title == "" {
		return Value{}
	}
	if entry.Year == 0 {
		return Value{Text: entry.Title, Available: true}
	}

	year := fmt.Sprintf("(%d)", entry.Year)
	if strings.Contains(entry.Title, year) {
		return Value{Text: entry.Title, Available: true}
	}
	return Value{Text: entry.Title + " " + year, Available: true}
}

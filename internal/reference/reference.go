// Package reference classifies bibliographic text.
//
// Research documents in the corpus end with reference lists whose entries
// carry no nutritional information but embed well (author names, journal
// titles, years), polluting retrieval results. IsReference is the pure
// predicate the segmenter uses to drop such entries before vectorization.
//
// Matching is heuristic and OR-combined across separate regex families for
// CJK and Latin scripts. Markdown table rows and bullet rows are never
// classified as references; short non-informational text is excluded by the
// segmenter's length floor, not here.
package reference

import (
	"regexp"
	"strings"
)

// leadingCitation matches a bracketed numeric citation marker at the start
// of a line, e.g. "[19]" or "[5-8]" or "[3,7]".
var leadingCitation = regexp.MustCompile(`^\s*\[\d{1,3}(\s*[,，\-–]\s*\d{1,3})*\]`)

// doiPatterns match DOI substrings in either labeled or raw form.
var doiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdoi\b\s*[::]`),
	regexp.MustCompile(`\b10\.\d{4,9}/[-._;()/:A-Za-z0-9]+`),
}

// isbnISSN match ISBN / ISSN markers with their number shapes.
var isbnISSN = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bISBN\b\s*[::]?\s*[0-9][0-9Xx\- ]{8,}`),
	regexp.MustCompile(`(?i)\bISSN\b\s*[::]?\s*\d{4}-?\d{3}[\dXx]`),
}

// latinCitations match citation-shaped Latin-script entries:
// GB/T 7714 document type markers ("[J].", "[M]."), volume(issue):pages
// tails, and "et al." author lists next to a year.
var latinCitations = []*regexp.Regexp{
	regexp.MustCompile(`\[[JMCDNRSA]\]\s*[.,．]`),
	regexp.MustCompile(`(19|20)\d{2}\s*[,，]\s*\d{1,3}\s*\(\s*\d{1,3}\s*\)\s*[::]\s*\d+([\-–]\d+)?`),
	regexp.MustCompile(`(?i)\bet\s+al\b[\s\S]*(19|20)\d{2}`),
}

// cjkCitations match citation-shaped CJK entries: comma-separated Han author
// names followed somewhere by a publication year, or a journal noun
// (学报/杂志/期刊) next to a year.
var cjkCitations = []*regexp.Regexp{
	regexp.MustCompile(`^\p{Han}{2,4}\s*[,，]\s*\p{Han}{2,4}\s*[,，][\s\S]*(19|20)\d{2}`),
	regexp.MustCompile(`\p{Han}*(学报|杂志|期刊)[\s\S]*(19|20)\d{2}\s*[,，]`),
}

// IsReference reports whether text looks like a bibliography entry.
// Pure and deterministic; no side effects.
func IsReference(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}

	// Table and bullet rows are content, never references, even when their
	// cells contain numbers that resemble citation tails.
	if isTableOrBulletRow(t) {
		return false
	}

	if leadingCitation.MatchString(t) {
		return true
	}
	for _, re := range doiPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	for _, re := range isbnISSN {
		if re.MatchString(t) {
			return true
		}
	}
	for _, re := range latinCitations {
		if re.MatchString(t) {
			return true
		}
	}
	for _, re := range cjkCitations {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// isTableOrBulletRow reports whether the text is a markdown table row or a
// bullet-marked list row.
func isTableOrBulletRow(t string) bool {
	if strings.HasPrefix(t, "|") || strings.Count(t, "|") >= 2 {
		return true
	}
	for _, prefix := range []string{"- ", "* ", "+ ", "• "} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

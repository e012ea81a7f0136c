package dogc

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldText lowercases, strips diacritics, and collapses whitespace so month
// labels compare equal whether the page renders "març" or "marc".
// The transformer is built per call: chained transformers carry state.
func foldText(value string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripper, value)
	if err != nil {
		folded = value
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// monthNumbers maps folded Catalan, Spanish, and English month names.
var monthNumbers = map[string]time.Month{
	"gener": time.January, "enero": time.January, "january": time.January,
	"febrer": time.February, "febrero": time.February, "february": time.February,
	"marc": time.March, "marzo": time.March, "march": time.March,
	"abril": time.April, "april": time.April,
	"maig": time.May, "mayo": time.May, "may": time.May,
	"juny": time.June, "junio": time.June, "june": time.June,
	"juliol": time.July, "julio": time.July, "july": time.July,
	"agost": time.August, "agosto": time.August, "august": time.August,
	"setembre": time.September, "septiembre": time.September, "september": time.September,
	"octubre": time.October, "october": time.October,
	"novembre": time.November, "noviembre": time.November, "november": time.November,
	"desembre": time.December, "diciembre": time.December, "december": time.December,
}

var monthYearPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([a-z]+)\s+(\d{4})\b`),
	regexp.MustCompile(`\b(\d{4})\s+([a-z]+)\b`),
}

var tokenRe = regexp.MustCompile(`[a-z]+|\d{4}`)

// parseMonthYear extracts a (year, month) pair from a calendar label like
// "Març 2024" or "2024 march". When several candidates appear, the latest
// year wins.
func parseMonthYear(text string) (int, time.Month, bool) {
	folded := foldText(text)

	type candidate struct {
		year  int
		month time.Month
	}
	var candidates []candidate

	for _, pattern := range monthYearPatterns {
		for _, match := range pattern.FindAllStringSubmatch(folded, -1) {
			first, second := match[1], match[2]
			var year int
			var monthName string
			if n, err := strconv.Atoi(first); err == nil {
				year, monthName = n, second
			} else {
				monthName = first
				year, _ = strconv.Atoi(second)
			}
			month, ok := monthNumbers[monthName]
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{year, month})
		}
	}

	// Fallback: loose tokens anywhere in the label.
	var looseMonth time.Month
	var years []int
	for _, token := range tokenRe.FindAllString(folded, -1) {
		if n, err := strconv.Atoi(token); err == nil {
			years = append(years, n)
			continue
		}
		if looseMonth == 0 {
			looseMonth = monthNumbers[token]
		}
	}
	if looseMonth != 0 && len(years) > 0 {
		maxYear := years[0]
		for _, y := range years[1:] {
			if y > maxYear {
				maxYear = y
			}
		}
		candidates = append(candidates, candidate{maxYear, looseMonth})
	}

	if len(candidates) == 0 {
		return 0, 0, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.year > best.year {
			best = c
		}
	}
	return best.year, best.month, true
}

// monthIndex linearizes (year, month) so calendar navigation can compare
// and step months with integer arithmetic.
func monthIndex(year int, month time.Month) int {
	return year*12 + int(month)
}

// buildDailyIssueURL resolves the calendar cell's title attribute, which may
// be a bare query string, a full URL, or empty, against the summary base.
func buildDailyIssueURL(dailyBaseURL, titleQuery string) string {
	query := strings.TrimSpace(titleQuery)
	base := strings.TrimRight(dailyBaseURL, "/")
	switch {
	case strings.HasPrefix(query, "?"):
		return base + "/" + query
	case strings.HasPrefix(query, "http://"), strings.HasPrefix(query, "https://"):
		return query
	case query != "":
		return base + "/?" + strings.TrimLeft(query, "?")
	default:
		return dailyBaseURL
	}
}

// issueDescription names the issue after its DOGC number when the URL
// carries one.
func issueDescription(issueURL string, day time.Time) string {
	if parsed, err := url.Parse(issueURL); err == nil {
		if num := parsed.Query().Get("numDOGC"); num != "" {
			return fmt.Sprintf("DOGC núm. %s", num)
		}
	}
	return fmt.Sprintf("DOGC %s", day.Format(time.DateOnly))
}

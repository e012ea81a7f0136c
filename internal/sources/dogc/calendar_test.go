package dogc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ingesil/gazette-crawler/internal/crawl"
)

func TestFoldText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "marc 2024", foldText("  Març   2024 "))
	require.Equal(t, "septiembre", foldText("Septiembre"))
	require.Equal(t, "diari oficial de la generalitat de catalunya", foldText("Diari Oficial de la Generalitat de Catalunya"))
}

func TestParseMonthYear(t *testing.T) {
	t.Parallel()

	cases := []struct {
		label string
		year  int
		month time.Month
	}{
		{"Març 2024", 2024, time.March},
		{"gener 2023", 2023, time.January},
		{"2024 march", 2024, time.March},
		{"Diciembre 2022", 2022, time.December},
		{"Calendari: juny de 2024", 2024, time.June},
	}
	for _, tc := range cases {
		year, month, ok := parseMonthYear(tc.label)
		require.True(t, ok, "label %q", tc.label)
		require.Equal(t, tc.year, year, "label %q", tc.label)
		require.Equal(t, tc.month, month, "label %q", tc.label)
	}

	_, _, ok := parseMonthYear("sense data")
	require.False(t, ok)
}

func TestMonthIndex(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, monthIndex(2024, time.January)-monthIndex(2023, time.December))
	require.Greater(t, monthIndex(2024, time.March), monthIndex(2024, time.February))
}

func TestBuildDailyIssueURL(t *testing.T) {
	t.Parallel()

	base := "https://dogc.gencat.cat/ca/sumari-del-dogc/"
	require.Equal(t,
		"https://dogc.gencat.cat/ca/sumari-del-dogc/?numDOGC=9101",
		buildDailyIssueURL(base, "?numDOGC=9101"))
	require.Equal(t,
		"https://example.org/full",
		buildDailyIssueURL(base, "https://example.org/full"))
	require.Equal(t,
		"https://dogc.gencat.cat/ca/sumari-del-dogc/?numDOGC=9102",
		buildDailyIssueURL(base, "numDOGC=9102"))
	require.Equal(t, base, buildDailyIssueURL(base, "  "))
}

func TestIssuesFromCells(t *testing.T) {
	t.Parallel()

	window := crawl.Window{
		From: time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC),
	}
	cells := []calendarCell{
		{Day: "15", Title: "?numDOGC=9110"},
		{Day: "4", Title: "?numDOGC=9101"},
		{Day: "1", Title: "?numDOGC=9099"}, // before window
		{Day: "25", Title: "?numDOGC=9120"}, // after window
		{Day: "x", Title: "?numDOGC=9103"},  // not a day number
		{Day: "6", Title: ""},               // no summary query
	}

	issues := issuesFromCells(cells, 2024, time.March, window, "https://dogc.gencat.cat/ca/sumari-del-dogc/")
	require.Len(t, issues, 2)
	// Sorted oldest first.
	require.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC), issues[0].Date)
	require.Equal(t, "https://dogc.gencat.cat/ca/sumari-del-dogc/?numDOGC=9101", issues[0].URL)
	require.Equal(t, "DOGC núm. 9101", issues[0].Description)
	require.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), issues[1].Date)
}

func TestNoticeDetailPostProcessing(t *testing.T) {
	t.Parallel()

	detail := noticeDetail{
		Title: "RESOLUCIÓ PRE/123/2024",
		Paragraphs: []string{
			"RESOLUCIÓ PRE/123/2024",
			"Descàrrega",
			"document_cat.pdf",
			"Text de la resolució.",
		},
		Meta: map[string]string{
			"Secció del DOGC":  "Disposicions",
			"Organisme emissor": "Departament de la Presidència",
		},
		URL: "https://dogc.gencat.cat/ca/document-del-dogc/?documentId=1",
	}

	title := detail.resolveTitle()
	require.Equal(t, "RESOLUCIÓ PRE/123/2024", title)
	require.Equal(t, "Text de la resolució.", detail.content(title))
	require.Equal(t,
		"Organisme emissor: Departament de la Presidència\nSecció del DOGC: Disposicions",
		detail.extraInfo())
}

func TestResolveTitleIgnoresGenericPageTitle(t *testing.T) {
	t.Parallel()

	detail := noticeDetail{PageTitle: "Diari Oficial de la Generalitat de Catalunya"}
	require.Empty(t, detail.resolveTitle())

	detail = noticeDetail{PageTitle: "DECRET 1/2024, de 2 de gener"}
	require.Equal(t, "DECRET 1/2024, de 2 de gener", detail.resolveTitle())
}

package boe

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// rawResult is one search result row as scraped from the page.
type rawResult struct {
	Department string `json:"department"`
	Pub        string `json:"pub"`
	Title      string `json:"title"`
	Href       string `json:"href"`
}

// resultItem is a validated search result inside the crawl window.
type resultItem struct {
	Department  string
	Description string
	Category    string
	Title       string
	IssueDate   time.Time
	DetailURL   string
}

var (
	// Publication lines read "BOE 57 de 05/03/2024 - III. Otras disposiciones".
	pubLineRe = regexp.MustCompile(`(BOE\s+\d+\s+de\s+\d{2}/\d{2}/\d{4})\s*-\s*(.+)$`)
	euDateRe  = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
)

// parsePubLine splits a result's publication line into the daily issue
// description, the category, and the issue date.
func parsePubLine(text string) (description, category string, issueDate time.Time, err error) {
	match := pubLineRe.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return "", "", time.Time{}, fmt.Errorf("unrecognized publication line %q", text)
	}
	description = strings.TrimSpace(match[1])
	category = strings.TrimSpace(match[2])

	dateText := euDateRe.FindString(description)
	if dateText == "" {
		return "", "", time.Time{}, fmt.Errorf("no issue date in %q", description)
	}
	issueDate, err = parseEUDate(dateText)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return description, category, issueDate, nil
}

func parseEUDate(value string) (time.Time, error) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// dailyIssueURL is the canonical URL of the daily issue page for a date.
func dailyIssueURL(day time.Time) string {
	return fmt.Sprintf("https://www.boe.es/boe/dias/%04d/%02d/%02d/", day.Year(), int(day.Month()), day.Day())
}

// noticeDetail is the scraped document page: title, the dt/dd metadata
// block, the ELI permalink when present, and the body paragraphs.
type noticeDetail struct {
	Title      string            `json:"title"`
	Meta       map[string]string `json:"meta"`
	ELI        string            `json:"eli"`
	Paragraphs []string          `json:"paragraphs"`
}

const noticeDetailExpr = `(() => {
	const titleEl = document.querySelector('h3.documento-tit');
	const meta = {};
	document.querySelectorAll('div.metadatos dl dt').forEach(dt => {
		const label = dt.innerText.trim().replace(/:$/, '');
		const dd = dt.nextElementSibling;
		if (label && dd && dd.tagName === 'DD') meta[label] = dd.innerText.trim();
	});
	let eli = '';
	for (const dt of document.querySelectorAll('dt')) {
		if (dt.innerText.includes('Permalink ELI')) {
			const dd = dt.nextElementSibling;
			const link = dd ? dd.querySelector('a') : null;
			if (link) eli = link.href;
			break;
		}
	}
	const paragraphs = [];
	const container = document.querySelector('#textoxslt');
	if (container) {
		container.querySelectorAll('p, h5').forEach(node => {
			const text = node.innerText.trim();
			if (text) paragraphs.push(text);
		});
	}
	return {
		title: titleEl ? titleEl.innerText.trim() : (document.title || '').trim(),
		meta, eli, paragraphs
	};
})()`

var pdfLineRe = regexp.MustCompile(`(?i)\.pdf$`)

// noticeContent joins body paragraphs, dropping bare PDF file references.
func noticeContent(paragraphs []string) string {
	parts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" || pdfLineRe.MatchString(p) {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n")
}

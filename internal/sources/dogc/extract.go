package dogc

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ingesil/gazette-crawler/internal/crawl"
)

// calendarLabelExpr reads the visible calendar month label. The DOGC
// homepage uses a jQuery UI datepicker whose year lives in a styled select;
// generic datepicker labels are tried as fallback.
const calendarLabelExpr = `(() => {
	const month = document.querySelector('#calendari-dogc .ui-datepicker-month');
	if (month) {
		const label = month.innerText.trim();
		const opt = document.querySelector("#calendari-dogc .ui-datepicker-year option[selected='selected']");
		const inner = document.querySelector('#calendari-dogc .customSelect.ui-datepicker-year .customSelectInner');
		const sel = document.querySelector('#calendari-dogc select.ui-datepicker-year');
		const year = opt ? opt.innerText.trim() : (inner ? inner.innerText.trim() : (sel ? sel.value : ''));
		if (label && year) return label + ' ' + year;
	}
	for (const fallback of ['.ui-datepicker-title', '.datepicker-switch', '.flatpickr-current-month']) {
		const el = document.querySelector(fallback);
		if (el && el.innerText.trim()) return el.innerText.trim();
	}
	return '';
})()`

func calendarStepExpr(direction string) string {
	return fmt.Sprintf(`(() => {
		const selectors = [
			"#calendari-dogc .ui-datepicker-%[1]s[data-handler='%[1]s']",
			"#calendari-dogc .ui-datepicker-%[1]s",
			"#calendari-dogc [data-handler='%[1]s']"
		];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el) {
				el.scrollIntoView({block: 'center'});
				el.click();
				return true;
			}
		}
		return false;
	})()`, direction)
}

// cellsExpr lists calendar cells that carry a publication. The cell title
// attribute holds the query string of the day's summary page.
const cellsExpr = `Array.from(
	document.querySelectorAll('#calendari-dogc .ui-datepicker-calendar td.has-publicacio'),
	cell => {
		const dayEl = cell.querySelector('a.ui-state-default, span.ui-state-default');
		return {
			day: dayEl ? dayEl.innerText.trim() : '',
			title: (cell.getAttribute('title') || '').trim()
		};
	})`

type calendarCell struct {
	Day   string `json:"day"`
	Title string `json:"title"`
}

type calendarIssue struct {
	Date        time.Time
	URL         string
	Description string
}

// issuesFromCells validates cells against the visible month and the crawl
// window, resolving each into a dated issue sorted oldest first.
func issuesFromCells(cells []calendarCell, year int, month time.Month, window crawl.Window, dailyBaseURL string) []calendarIssue {
	issues := make([]calendarIssue, 0, len(cells))
	for _, cell := range cells {
		dayNum, err := strconv.Atoi(cell.Day)
		if err != nil || cell.Title == "" {
			continue
		}
		day := time.Date(year, month, dayNum, 0, 0, 0, 0, time.UTC)
		if day.Month() != month || !window.Contains(day) {
			continue
		}
		issueURL := buildDailyIssueURL(dailyBaseURL, cell.Title)
		issues = append(issues, calendarIssue{
			Date:        day,
			URL:         issueURL,
			Description: issueDescription(issueURL, day),
		})
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Date.Before(issues[j].Date) })
	return issues
}

// noticeCandidatesExpr walks the summary page in document order, tracking
// the closest preceding h2 (section) and h3 (issuing body) for each notice
// row. PDF download links inside the rows are skipped.
const noticeCandidatesExpr = `(() => {
	const rows = [];
	const seen = new Set();
	let category = '', department = '';
	for (const el of document.querySelectorAll('h2, h3, div.wrapper-disposicions li.destacat_text')) {
		if (el.tagName === 'H2') { category = el.innerText.trim(); continue; }
		if (el.tagName === 'H3') { department = el.innerText.trim(); continue; }
		const link = el.querySelector("div[class*='destacat_text_cont'] a[href*='document-del-dogc']");
		if (!link || link.closest("div[class*='download']")) continue;
		const href = link.href;
		const title = link.innerText.trim();
		if (!href || !title || seen.has(href)) continue;
		seen.add(href);
		rows.push({title, url: href, category, department});
	}
	return rows;
})()`

type noticeCandidate struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Category   string `json:"category"`
	Department string `json:"department"`
}

const noticeDetailExpr = `(() => {
	const full = document.querySelector('#fullText');
	let title = '';
	const paragraphs = [];
	if (full) {
		const h1 = full.querySelector('h1');
		if (h1) title = h1.innerText.trim();
		full.querySelectorAll('p').forEach(p => {
			const text = p.innerText.trim();
			if (text) paragraphs.push(text);
		});
	}
	const meta = {};
	document.querySelectorAll('#disposicions_cos_bloc li').forEach(item => {
		const parts = item.innerText.split('\n').map(s => s.trim()).filter(Boolean);
		if (parts.length >= 2) meta[parts[0]] = parts[1];
	});
	return {
		title,
		pageTitle: (document.title || '').trim(),
		paragraphs,
		meta,
		url: location.href
	};
})()`

type noticeDetail struct {
	Title      string            `json:"title"`
	PageTitle  string            `json:"pageTitle"`
	Paragraphs []string          `json:"paragraphs"`
	Meta       map[string]string `json:"meta"`
	URL        string            `json:"url"`
}

const genericPageTitle = "diari oficial de la generalitat de catalunya"

var pdfLineRe = regexp.MustCompile(`(?i)(\.pdf|_cat\.pdf)$`)

// resolveTitle prefers the document heading; the page title is used only
// when it carries something beyond the gazette's generic name.
func (d noticeDetail) resolveTitle() string {
	if d.Title != "" {
		return d.Title
	}
	if d.PageTitle != "" && foldText(d.PageTitle) != genericPageTitle {
		return d.PageTitle
	}
	return ""
}

// content joins body paragraphs, dropping download captions and bare PDF
// references, and strips a duplicated leading title.
func (d noticeDetail) content(title string) string {
	parts := make([]string, 0, len(d.Paragraphs))
	for _, p := range d.Paragraphs {
		p = strings.TrimSpace(p)
		if p == "" || foldText(p) == "descarrega" || pdfLineRe.MatchString(p) {
			continue
		}
		parts = append(parts, p)
	}
	content := strings.Join(parts, "\n\n")
	if title != "" && strings.HasPrefix(content, title) {
		content = strings.TrimLeft(strings.TrimPrefix(content, title), " \n")
	}
	return content
}

// extraInfo flattens the sidebar metadata into "label: value" lines.
func (d noticeDetail) extraInfo() string {
	if len(d.Meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d.Meta))
	for k := range d.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, d.Meta[k]))
	}
	return strings.Join(lines, "\n")
}

// cookieProbeExpr reports a visible consent button. The DOGC uses the Piwik
// PRO consent manager; text matching covers banner variants.
const cookieProbeExpr = `(() => {
	const visible = el => el && el.getClientRects().length > 0 && el.offsetWidth > 0 && el.offsetHeight > 0;
	if (visible(document.querySelector('button#ppms_cm_agree-to-all, #ppms_cm_agree-to-all'))) return true;
	const words = ['accept', 'acceptar', 'aceptar', 'totes', 'todo'];
	return Array.from(document.querySelectorAll('button'))
		.some(b => visible(b) && words.some(w => b.innerText.trim().toLowerCase().includes(w)));
})()`

const cookieClickExpr = `(() => {
	const visible = el => el && el.getClientRects().length > 0 && el.offsetWidth > 0 && el.offsetHeight > 0;
	const click = el => { el.scrollIntoView({block: 'center'}); el.click(); return true; };
	const byID = document.querySelector('button#ppms_cm_agree-to-all, #ppms_cm_agree-to-all');
	if (visible(byID)) return click(byID);
	const words = ['accept', 'acceptar', 'aceptar', 'totes', 'todo'];
	for (const b of document.querySelectorAll('button')) {
		if (visible(b) && words.some(w => b.innerText.trim().toLowerCase().includes(w))) return click(b);
	}
	return false;
})()`

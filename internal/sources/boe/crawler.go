// Package boe implements the paginated-search crawl shape for the Spanish
// state gazette (Boletín Oficial del Estado). The crawler fills the date
// search form with the crawl window, then walks result pages item by item,
// upserting the daily issue and the notice behind each result.
package boe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ingesil/gazette-crawler/internal/crawl"
	"github.com/ingesil/gazette-crawler/internal/fsm"
	"github.com/ingesil/gazette-crawler/internal/metrics"
	"github.com/ingesil/gazette-crawler/internal/store"
)

type state string

const (
	stateHome          state = "HOME"
	stateCookieConsent state = "COOKIE_CONSENT"
	statePrepareSearch state = "PREPARE_SEARCH"
	stateParseResults  state = "PARSE_RESULTS_PAGE"
	stateProcessItem   state = "PROCESS_RESULT_ITEM"
	stateOpenNotice    state = "OPEN_NOTICE"
	stateOpenNextPage  state = "OPEN_NEXT_PAGE"
	stateDone          state = "DONE"
)

const defaultMaxSteps = 20000

const (
	dateFromSelector = "#desdeFP"
	dateToSelector   = "#hastaFP"
	submitSelector   = `div.bloqueBotones input[type="submit"][value="Buscar"]`
	resultSelector   = "li.resultado-busqueda"
	// Consent banner occasionally shown on first visit.
	cookieAcceptSelector = "#avisoCookies button.aceptar"
)

// Crawler drives one BOE run. It embeds the shared session and keeps the
// in-memory FIFO of parsed results plus the next-page cursor.
type Crawler struct {
	*crawl.Session

	pacer    *crawl.Pacer
	maxSteps int

	pending     []resultItem
	current     *resultItem
	nextPageURL string
}

// New builds the BOE crawler from shared dependencies.
func New(deps crawl.Deps) (crawl.Runner, error) {
	if deps.Driver == nil || deps.Store == nil {
		return nil, fmt.Errorf("boe: driver and store are required")
	}
	pacer := deps.Pacer
	if pacer == nil {
		pacer = crawl.NewPacer(deps.Logger)
	}
	maxSteps := deps.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Crawler{
		Session:  crawl.NewSession(deps.Logger, deps.Driver, deps.Artifacts, deps.Store, deps.Source, deps.Window, deps.Timeout),
		pacer:    pacer,
		maxSteps: maxSteps,
	}, nil
}

// Run executes the crawl to completion.
func (c *Crawler) Run(ctx context.Context) error {
	router := fsm.NewInterruptRouter[state, *Crawler](stateCookieConsent, probeCookieBanner, acceptCookieBanner, c.Logger)

	wrap := func(s state, h func(*Crawler, context.Context) (state, error)) fsm.Handler[state, *Crawler] {
		return router.Wrap(s, func(ctx context.Context, cr *Crawler) (state, error) {
			return h(cr, ctx)
		})
	}

	engine, err := fsm.New(fsm.Config[state, *Crawler]{
		Initial:  stateHome,
		Terminal: stateDone,
		Handlers: map[state]fsm.Handler[state, *Crawler]{
			stateHome:          wrap(stateHome, (*Crawler).home),
			statePrepareSearch: wrap(statePrepareSearch, (*Crawler).prepareSearch),
			stateParseResults:  wrap(stateParseResults, (*Crawler).parseResultsPage),
			stateProcessItem:   wrap(stateProcessItem, (*Crawler).processResultItem),
			stateOpenNotice:    wrap(stateOpenNotice, (*Crawler).openNotice),
			stateOpenNextPage:  wrap(stateOpenNextPage, (*Crawler).openNextPage),
			stateCookieConsent: router.Handler(),
		},
		OnTransition: c.applyPacing,
		MaxSteps:     c.maxSteps,
		Logger:       c.Logger,
	})
	if err != nil {
		return fmt.Errorf("boe: build engine: %w", err)
	}

	final, err := engine.Run(ctx, c)
	if err != nil {
		return err
	}
	c.Logger.Info("boe crawl finished", zap.String("final_state", string(final)))
	return nil
}

func (c *Crawler) applyPacing(ctx context.Context, _ *Crawler, _, to state) error {
	metrics.ObserveTransition(c.Source.Slug, string(to))
	return c.pacer.Apply(ctx, c.Driver)
}

func probeCookieBanner(ctx context.Context, c *Crawler) (bool, error) {
	visible, err := c.Driver.Visible(ctx, cookieAcceptSelector)
	if err != nil {
		c.Logger.Debug("cookie banner probe failed", zap.Error(err))
		return false, nil
	}
	return visible, nil
}

func acceptCookieBanner(ctx context.Context, c *Crawler) error {
	if err := c.Driver.Click(ctx, cookieAcceptSelector); err != nil {
		return fmt.Errorf("accept cookie banner: %w", err)
	}
	metrics.ObserveObstructionResolved(c.Source.Slug)
	c.Capture(ctx, string(stateCookieConsent), "accepted")
	return nil
}

func (c *Crawler) home(ctx context.Context) (state, error) {
	c.Logger.Info("opening search page", zap.String("url", c.Source.BaseURL))
	if err := c.Driver.Navigate(ctx, c.Source.BaseURL); err != nil {
		return stateHome, err
	}
	bothInputs := fmt.Sprintf(
		`document.querySelector(%q) !== null && document.querySelector(%q) !== null`,
		dateFromSelector, dateToSelector)
	if err := c.Driver.WaitUntil(ctx, bothInputs); err != nil {
		return stateHome, err
	}
	c.Capture(ctx, string(stateHome), "search_page_opened")
	return statePrepareSearch, nil
}

func (c *Crawler) prepareSearch(ctx context.Context) (state, error) {
	from := c.Window.From.Format(time.DateOnly)
	to := c.Window.To.Format(time.DateOnly)
	c.Logger.Info("setting date range", zap.String("from", from), zap.String("to", to))

	if err := c.setDateInput(ctx, dateFromSelector, from); err != nil {
		return statePrepareSearch, err
	}
	if err := c.setDateInput(ctx, dateToSelector, to); err != nil {
		return statePrepareSearch, err
	}

	beforeURL, err := c.Driver.Location(ctx)
	if err != nil {
		return statePrepareSearch, err
	}
	if err := c.Driver.Click(ctx, submitSelector); err != nil {
		return statePrepareSearch, fmt.Errorf("submit search: %w", err)
	}
	if err := c.Driver.WaitUntil(ctx, searchLandedExpr(beforeURL)); err != nil {
		return statePrepareSearch, err
	}

	landedURL, _ := c.Driver.Location(ctx)
	c.Logger.Info("search submitted", zap.String("url", landedURL))
	c.Capture(ctx, string(statePrepareSearch), "search_submitted")
	return stateParseResults, nil
}

// setDateInput writes the value directly and fires input/change events.
// Typing into these inputs is unreliable headless: the page's datepicker
// intercepts keystrokes.
func (c *Crawler) setDateInput(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.focus();
		el.value = %q;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, value)
	var ok bool
	if err := c.Driver.Eval(ctx, expr, &ok); err != nil {
		return fmt.Errorf("set date input %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("set date input %q: element not found", selector)
	}
	return nil
}

func searchLandedExpr(beforeURL string) string {
	return fmt.Sprintf(`location.href !== %q
		|| location.href.includes('accion=Buscar')
		|| location.href.includes('id_busqueda=')
		|| document.querySelector('li.resultado-busqueda') !== null
		|| document.querySelector('.paginacion, .paginacion-mini, nav.paginacion') !== null
		|| document.body.innerText.includes('No se han encontrado')
		|| document.body.innerText.includes('No se ha encontrado')`, beforeURL)
}

const resultsExpr = `Array.from(document.querySelectorAll('li.resultado-busqueda'), item => {
	const dem = item.querySelector('p.linea-dem');
	const pub = item.querySelector('p.linea-pub');
	const titleNode = Array.from(item.querySelectorAll(':scope > p'))
		.find(p => !p.classList.contains('linea-dem') && !p.classList.contains('linea-pub'));
	const link = item.querySelector('a.resultado-busqueda-link-defecto');
	return {
		department: dem ? dem.innerText.trim() : '',
		pub: pub ? pub.innerText.trim() : '',
		title: titleNode ? titleNode.innerText.trim() : '',
		href: link ? link.href : ''
	};
})`

const nextPageExpr = `(() => {
	const span = document.querySelector('li a span.pagSig');
	if (!span) return '';
	const link = span.closest('a');
	return link ? link.href : '';
})()`

func (c *Crawler) parseResultsPage(ctx context.Context) (state, error) {
	currentURL, _ := c.Driver.Location(ctx)
	c.Logger.Info("parsing results page", zap.String("url", currentURL))

	var raw []rawResult
	if err := c.Driver.Eval(ctx, resultsExpr, &raw); err != nil {
		return stateParseResults, fmt.Errorf("extract results: %w", err)
	}
	c.pending = c.buildResults(raw)

	var nextURL string
	if err := c.Driver.Eval(ctx, nextPageExpr, &nextURL); err != nil {
		return stateParseResults, fmt.Errorf("extract next page link: %w", err)
	}
	c.nextPageURL = strings.TrimSpace(nextURL)

	c.Logger.Info("results page parsed",
		zap.Int("pending", len(c.pending)), zap.String("next_page", c.nextPageURL))
	c.Capture(ctx, string(stateParseResults), "results_page_parsed")
	return stateProcessItem, nil
}

// buildResults validates scraped rows and keeps those inside the window.
func (c *Crawler) buildResults(raw []rawResult) []resultItem {
	items := make([]resultItem, 0, len(raw))
	for _, row := range raw {
		if row.Pub == "" || row.Title == "" || row.Href == "" {
			continue
		}
		description, category, issueDate, err := parsePubLine(row.Pub)
		if err != nil {
			c.Logger.Warn("skipping result", zap.Error(err))
			continue
		}
		if !c.Window.Contains(issueDate) {
			continue
		}
		items = append(items, resultItem{
			Department:  row.Department,
			Description: description,
			Category:    category,
			Title:       row.Title,
			IssueDate:   crawl.Day(issueDate),
			DetailURL:   row.Href,
		})
	}
	c.Logger.Info("valid results in window on this page", zap.Int("count", len(items)))
	return items
}

func (c *Crawler) processResultItem(_ context.Context) (state, error) {
	if len(c.pending) > 0 {
		item := c.pending[0]
		c.pending = c.pending[1:]
		c.current = &item
		c.Logger.Info("picked result",
			zap.Time("issue_date", item.IssueDate),
			zap.String("category", item.Category),
			zap.String("title", item.Title))
		return stateOpenNotice, nil
	}
	if c.nextPageURL != "" {
		c.Logger.Info("no more results on current page, moving to next page")
		return stateOpenNextPage, nil
	}
	c.Logger.Info("all result pages drained")
	return stateDone, nil
}

func (c *Crawler) openNotice(ctx context.Context) (state, error) {
	if c.current == nil {
		return stateProcessItem, nil
	}
	item := *c.current

	issueID, err := c.Store.UpsertIssue(ctx, store.Issue{
		SourceID:  c.Source.ID,
		IssueDate: item.IssueDate,
		URL:       dailyIssueURL(item.IssueDate),
		Title:     item.Description,
	})
	if err != nil {
		return stateOpenNotice, err
	}
	metrics.ObserveIssueUpsert(c.Source.Slug)
	c.Logger.Info("issue upserted",
		zap.Int64("issue_id", issueID), zap.Time("issue_date", item.IssueDate))

	c.Logger.Info("opening notice detail", zap.String("url", item.DetailURL))
	if err := c.Driver.Navigate(ctx, item.DetailURL); err != nil {
		return stateOpenNotice, err
	}
	if err := c.Driver.WaitUntil(ctx, `document.querySelector('h3.documento-tit') !== null`); err != nil {
		return stateOpenNotice, err
	}

	var detail noticeDetail
	if err := c.Driver.Eval(ctx, noticeDetailExpr, &detail); err != nil {
		return stateOpenNotice, fmt.Errorf("extract notice detail: %w", err)
	}

	notice := store.Notice{
		IssueID:    issueID,
		URL:        firstNonEmpty(detail.ELI, item.DetailURL),
		Title:      firstNonEmpty(detail.Title, item.Title),
		Section:    firstNonEmpty(detail.Meta["Sección"], item.Category),
		Department: firstNonEmpty(detail.Meta["Departamento"], item.Department),
		Body:       noticeContent(detail.Paragraphs),
	}
	if _, err := c.Store.UpsertNotice(ctx, notice); err != nil {
		return stateOpenNotice, err
	}
	metrics.ObserveNoticeUpsert(c.Source.Slug)
	c.Logger.Info("notice upserted",
		zap.Int64("issue_id", issueID),
		zap.String("title", notice.Title),
		zap.Int("content_len", len(notice.Body)))

	c.Capture(ctx, string(stateOpenNotice), fmt.Sprintf("notice_%d", issueID))
	c.current = nil
	return stateProcessItem, nil
}

func (c *Crawler) openNextPage(ctx context.Context) (state, error) {
	if c.nextPageURL == "" {
		return stateDone, nil
	}
	c.Logger.Info("opening next results page", zap.String("url", c.nextPageURL))
	if err := c.Driver.Navigate(ctx, c.nextPageURL); err != nil {
		return stateOpenNextPage, err
	}
	landed := fmt.Sprintf(`document.querySelector(%q) !== null || document.body.innerText.includes('No se han encontrado')`, resultSelector)
	if err := c.Driver.WaitUntil(ctx, landed); err != nil {
		return stateOpenNextPage, err
	}
	c.Capture(ctx, string(stateOpenNextPage), "next_page_opened")
	c.nextPageURL = ""
	return stateParseResults, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

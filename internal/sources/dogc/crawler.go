// Package dogc implements the calendar-walk crawl shape for the Catalan
// official gazette (Diari Oficial de la Generalitat de Catalunya). The
// crawler steps the homepage calendar month by month to discover issues,
// persists them, then drains the pending queue of issues without notices.
// A consent-manager overlay can appear at any point; it is handled as an
// obstruction detour that resumes the interrupted state.
package dogc

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
	stateHome           state = "HOME"
	stateCookieConsent  state = "COOKIE_CONSENT"
	stateGoToStartMonth state = "NAVIGATE_TO_START_MONTH"
	stateProcessMonth   state = "PROCESS_MONTH"
	statePickIssue      state = "PICK_PENDING_ISSUE"
	stateOpenIssue      state = "OPEN_ISSUE"
	statePickNotice     state = "PICK_NOTICE_LINK"
	stateOpenNotice     state = "OPEN_NOTICE"
	stateDone           state = "DONE"
)

const (
	defaultMaxSteps = 10000
	// The daily summary pages hang off the /sumari-del-dogc/ path of the
	// portal root.
	summaryPath = "/sumari-del-dogc/"
)

// Crawler drives one DOGC run.
type Crawler struct {
	*crawl.Session

	pacer        *crawl.Pacer
	maxSteps     int
	dailyBaseURL string

	currentIssue   *store.Issue
	pendingNotices []noticeCandidate
	currentNotice  *noticeCandidate
}

// New builds the DOGC crawler from shared dependencies.
func New(deps crawl.Deps) (crawl.Runner, error) {
	if deps.Driver == nil || deps.Store == nil {
		return nil, fmt.Errorf("dogc: driver and store are required")
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
		Session:      crawl.NewSession(deps.Logger, deps.Driver, deps.Artifacts, deps.Store, deps.Source, deps.Window, deps.Timeout),
		pacer:        pacer,
		maxSteps:     maxSteps,
		dailyBaseURL: strings.TrimRight(deps.Source.BaseURL, "/") + summaryPath,
	}, nil
}

// Run executes the crawl to completion.
func (c *Crawler) Run(ctx context.Context) error {
	router := fsm.NewInterruptRouter[state, *Crawler](stateCookieConsent, probeConsentOverlay, acceptConsentOverlay, c.Logger)

	wrap := func(s state, h func(*Crawler, context.Context) (state, error)) fsm.Handler[state, *Crawler] {
		return router.Wrap(s, func(ctx context.Context, cr *Crawler) (state, error) {
			return h(cr, ctx)
		})
	}

	engine, err := fsm.New(fsm.Config[state, *Crawler]{
		Initial:  stateHome,
		Terminal: stateDone,
		Handlers: map[state]fsm.Handler[state, *Crawler]{
			stateHome:           wrap(stateHome, (*Crawler).home),
			stateGoToStartMonth: wrap(stateGoToStartMonth, (*Crawler).navigateToStartMonth),
			stateProcessMonth:   wrap(stateProcessMonth, (*Crawler).processMonth),
			statePickIssue:      wrap(statePickIssue, (*Crawler).pickPendingIssue),
			stateOpenIssue:      wrap(stateOpenIssue, (*Crawler).openIssue),
			statePickNotice:     wrap(statePickNotice, (*Crawler).pickNoticeLink),
			stateOpenNotice:     wrap(stateOpenNotice, (*Crawler).openNotice),
			stateCookieConsent:  router.Handler(),
		},
		OnTransition: c.applyPacing,
		MaxSteps:     c.maxSteps,
		Logger:       c.Logger,
	})
	if err != nil {
		return fmt.Errorf("dogc: build engine: %w", err)
	}

	final, err := engine.Run(ctx, c)
	if err != nil {
		return err
	}
	c.Logger.Info("dogc crawl finished", zap.String("final_state", string(final)))
	return nil
}

func (c *Crawler) applyPacing(ctx context.Context, _ *Crawler, _, to state) error {
	metrics.ObserveTransition(c.Source.Slug, string(to))
	return c.pacer.Apply(ctx, c.Driver)
}

func probeConsentOverlay(ctx context.Context, c *Crawler) (bool, error) {
	var present bool
	if err := c.Driver.Eval(ctx, cookieProbeExpr, &present); err != nil {
		c.Logger.Debug("consent probe failed", zap.Error(err))
		return false, nil
	}
	return present, nil
}

func acceptConsentOverlay(ctx context.Context, c *Crawler) error {
	var clicked bool
	if err := c.Driver.Eval(ctx, cookieClickExpr, &clicked); err != nil {
		return fmt.Errorf("click consent button: %w", err)
	}
	if !clicked {
		return fmt.Errorf("consent overlay reported present but no clickable accept button found")
	}
	metrics.ObserveObstructionResolved(c.Source.Slug)
	c.Capture(ctx, string(stateCookieConsent), "accepted_all")
	return nil
}

func (c *Crawler) home(ctx context.Context) (state, error) {
	c.Logger.Info("opening portal homepage", zap.String("url", c.Source.BaseURL))
	if err := c.Driver.Navigate(ctx, c.Source.BaseURL); err != nil {
		return stateHome, err
	}
	c.Capture(ctx, string(stateHome), "homepage_opened")
	return stateGoToStartMonth, nil
}

// currentCalendarMonth reads and parses the visible month label.
func (c *Crawler) currentCalendarMonth(ctx context.Context) (int, time.Month, string, error) {
	var label string
	if err := c.Driver.Eval(ctx, calendarLabelExpr, &label); err != nil {
		return 0, 0, "", fmt.Errorf("read calendar label: %w", err)
	}
	year, month, ok := parseMonthYear(label)
	if !ok {
		return 0, 0, "", fmt.Errorf("could not resolve year and month from calendar label %q", label)
	}
	return year, month, label, nil
}

func (c *Crawler) stepCalendar(ctx context.Context, direction string) error {
	var clicked bool
	if err := c.Driver.Eval(ctx, calendarStepExpr(direction), &clicked); err != nil {
		return fmt.Errorf("step calendar %s: %w", direction, err)
	}
	if !clicked {
		return fmt.Errorf("no clickable %q month control in calendar", direction)
	}
	return nil
}

func (c *Crawler) navigateToStartMonth(ctx context.Context) (state, error) {
	targetIdx := monthIndex(c.Window.From.Year(), c.Window.From.Month())

	year, month, label, err := c.currentCalendarMonth(ctx)
	if err != nil {
		return stateGoToStartMonth, err
	}
	currentIdx := monthIndex(year, month)
	c.Logger.Info("calendar month visible",
		zap.String("label", label),
		zap.Int("year", year), zap.Int("month", int(month)),
		zap.Time("target", c.Window.From))

	if currentIdx == targetIdx {
		c.Capture(ctx, string(stateGoToStartMonth), fmt.Sprintf("start_month_reached_%04d_%02d", year, int(month)))
		return stateProcessMonth, nil
	}
	if currentIdx < targetIdx {
		return stateGoToStartMonth, fmt.Errorf(
			"visible calendar month %04d-%02d is older than window start %s: cannot reach it by stepping back",
			year, int(month), c.Window.From.Format("2006-01"))
	}

	c.Logger.Info("stepping calendar one month back")
	if err := c.stepCalendar(ctx, "prev"); err != nil {
		return stateGoToStartMonth, err
	}
	c.Capture(ctx, string(stateGoToStartMonth), fmt.Sprintf("step_after_prev_click_target_%04d_%02d", c.Window.From.Year(), int(c.Window.From.Month())))
	return stateGoToStartMonth, nil
}

func (c *Crawler) processMonth(ctx context.Context) (state, error) {
	year, month, label, err := c.currentCalendarMonth(ctx)
	if err != nil {
		return stateProcessMonth, err
	}
	currentIdx := monthIndex(year, month)
	endIdx := monthIndex(c.Window.To.Year(), c.Window.To.Month())

	c.Logger.Info("processing calendar month",
		zap.String("label", label), zap.Stringer("window", c.Window))

	var cells []calendarCell
	if err := c.Driver.Eval(ctx, cellsExpr, &cells); err != nil {
		return stateProcessMonth, fmt.Errorf("extract calendar cells: %w", err)
	}
	issues := issuesFromCells(cells, year, month, c.Window, c.dailyBaseURL)
	c.Logger.Info("publications visible in month",
		zap.Int("cells", len(cells)), zap.Int("in_window", len(issues)))

	for _, issue := range issues {
		if _, err := c.Store.UpsertIssue(ctx, store.Issue{
			SourceID:  c.Source.ID,
			IssueDate: issue.Date,
			URL:       issue.URL,
			Title:     issue.Description,
		}); err != nil {
			return stateProcessMonth, err
		}
		metrics.ObserveIssueUpsert(c.Source.Slug)
		c.Logger.Info("issue upserted",
			zap.Time("issue_date", issue.Date), zap.String("url", issue.URL))
	}
	c.Capture(ctx, string(stateProcessMonth), fmt.Sprintf("month_processed_%04d_%02d", year, int(month)))

	if currentIdx == endIdx {
		c.Logger.Info("end month reached, switching to notice extraction")
		return statePickIssue, nil
	}
	if currentIdx > endIdx {
		return stateProcessMonth, fmt.Errorf(
			"visible calendar month %04d-%02d is after window end %s",
			year, int(month), c.Window.To.Format("2006-01"))
	}

	c.Logger.Info("stepping calendar one month forward")
	if err := c.stepCalendar(ctx, "next"); err != nil {
		return stateProcessMonth, err
	}
	c.Capture(ctx, string(stateProcessMonth), fmt.Sprintf("step_after_next_click_%04d_%02d", year, int(month)))
	return stateProcessMonth, nil
}

func (c *Crawler) pickPendingIssue(ctx context.Context) (state, error) {
	pending, err := c.Store.PendingIssues(ctx, c.Source.ID)
	if err != nil {
		return statePickIssue, err
	}
	c.Logger.Info("pending issues with zero notices", zap.Int("count", len(pending)))

	for _, issue := range pending {
		if c.WasAttempted(issue.ID) {
			continue
		}
		if strings.TrimSpace(issue.URL) == "" {
			c.Logger.Warn("skipping pending issue without URL", zap.Int64("issue_id", issue.ID))
			continue
		}
		c.MarkAttempted(issue.ID)
		picked := issue
		c.currentIssue = &picked
		c.pendingNotices = nil
		c.currentNotice = nil
		c.Logger.Info("picked pending issue",
			zap.Int64("issue_id", issue.ID),
			zap.Time("issue_date", issue.IssueDate),
			zap.String("url", issue.URL))
		return stateOpenIssue, nil
	}

	c.Logger.Info("no more pending issues for this run")
	return stateDone, nil
}

func (c *Crawler) openIssue(ctx context.Context) (state, error) {
	if c.currentIssue == nil {
		c.Logger.Warn("no current issue set, returning to picker")
		return statePickIssue, nil
	}
	issue := *c.currentIssue

	c.Logger.Info("opening issue summary",
		zap.Int64("issue_id", issue.ID), zap.String("url", issue.URL))
	if err := c.Driver.Navigate(ctx, issue.URL); err != nil {
		return stateOpenIssue, err
	}

	var candidates []noticeCandidate
	if err := c.Driver.Eval(ctx, noticeCandidatesExpr, &candidates); err != nil {
		return stateOpenIssue, fmt.Errorf("extract notice candidates: %w", err)
	}
	c.Capture(ctx, string(stateOpenIssue), fmt.Sprintf("issue_loaded_%d", issue.ID))

	if len(candidates) == 0 {
		c.Logger.Warn("no notice candidates on issue summary, moving on",
			zap.Int64("issue_id", issue.ID), zap.String("url", issue.URL))
		c.currentIssue = nil
		return statePickIssue, nil
	}

	c.Logger.Info("notice candidates extracted", zap.Int("count", len(candidates)))
	c.pendingNotices = candidates
	return statePickNotice, nil
}

func (c *Crawler) pickNoticeLink(_ context.Context) (state, error) {
	if c.currentIssue == nil {
		return statePickIssue, nil
	}
	if len(c.pendingNotices) == 0 {
		c.Logger.Info("finished all notice links for issue",
			zap.Int64("issue_id", c.currentIssue.ID))
		c.currentIssue = nil
		c.currentNotice = nil
		return statePickIssue, nil
	}
	candidate := c.pendingNotices[0]
	c.pendingNotices = c.pendingNotices[1:]
	c.currentNotice = &candidate
	c.Logger.Info("picked notice candidate",
		zap.String("title", candidate.Title), zap.String("url", candidate.URL))
	return stateOpenNotice, nil
}

func (c *Crawler) openNotice(ctx context.Context) (state, error) {
	if c.currentIssue == nil || c.currentNotice == nil {
		c.Logger.Warn("missing notice context, returning to picker")
		return statePickNotice, nil
	}
	issueID := c.currentIssue.ID
	candidate := *c.currentNotice

	c.Logger.Info("opening notice document",
		zap.Int64("issue_id", issueID), zap.String("url", candidate.URL))
	if err := c.Driver.Navigate(ctx, candidate.URL); err != nil {
		return stateOpenNotice, err
	}
	if err := c.Driver.WaitUntil(ctx, `document.querySelector('#fullText h1') !== null`); err != nil {
		return stateOpenNotice, err
	}

	var detail noticeDetail
	if err := c.Driver.Eval(ctx, noticeDetailExpr, &detail); err != nil {
		return stateOpenNotice, fmt.Errorf("extract notice detail: %w", err)
	}

	title := detail.resolveTitle()
	if title == "" {
		title = strings.TrimSpace(candidate.Title)
	}
	if title == "" {
		c.Logger.Warn("skipping notice without title", zap.String("url", detail.URL))
	} else {
		notice := store.Notice{
			IssueID:    issueID,
			URL:        firstNonEmpty(detail.URL, candidate.URL),
			Title:      title,
			Section:    firstNonEmpty(detail.Meta["Secció del DOGC"], candidate.Category),
			Department: firstNonEmpty(detail.Meta["Organisme emissor"], candidate.Department),
			Body:       detail.content(title),
			Extra:      detail.extraInfo(),
		}
		if _, err := c.Store.UpsertNotice(ctx, notice); err != nil {
			return stateOpenNotice, err
		}
		metrics.ObserveNoticeUpsert(c.Source.Slug)
		c.Logger.Info("notice upserted",
			zap.Int64("issue_id", issueID),
			zap.String("title", notice.Title),
			zap.Int("content_len", len(notice.Body)))
	}

	c.Capture(ctx, string(stateOpenNotice), fmt.Sprintf("notice_processed_%d", issueID))
	c.currentNotice = nil
	return statePickNotice, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Package store defines the durable model for crawled gazette data: sources,
// issues, and notices, plus the repository contract every crawler writes
// through. All writes are idempotent upserts so interrupted runs can be
// re-executed without producing duplicates.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrSourceNotFound indicates the requested source slug has no usable row.
var ErrSourceNotFound = errors.New("store: source not found")

// Source is a gazette publisher registered in the database. StartAt bounds
// the first crawl window when no issue has been persisted yet.
type Source struct {
	ID      int64
	Slug    string
	Name    string
	BaseURL string
	StartAt time.Time
}

// Issue is one dated edition of a gazette. An issue with zero notices is
// considered pending: discovered but not yet harvested.
type Issue struct {
	ID        int64
	SourceID  int64
	IssueDate time.Time
	URL       string
	Title     string
}

// Notice is a single document inside an issue. Identity is resolved by
// (issue, url) first and (issue, title) as a fallback for sources whose
// notice URLs are unstable across visits.
type Notice struct {
	ID         int64
	IssueID    int64
	URL        string
	Title      string
	Section    string
	Department string
	Body       string
	Extra      string
}

// Repository is the persistence surface crawlers depend on.
type Repository interface {
	// SourceBySlug loads a source. Rows with a NULL start date are treated
	// as not found: a source without a start date cannot be crawled.
	SourceBySlug(ctx context.Context, slug string) (Source, error)

	// UpsertIssue inserts or refreshes an issue keyed by (source, date) and
	// returns its id.
	UpsertIssue(ctx context.Context, issue Issue) (int64, error)

	// UpsertNotice inserts or refreshes a notice within its issue.
	UpsertNotice(ctx context.Context, notice Notice) (int64, error)

	// MaxIssueDate returns the newest persisted issue date for a source,
	// reporting found=false when the source has no issues yet.
	MaxIssueDate(ctx context.Context, sourceID int64) (time.Time, bool, error)

	// PendingIssues lists issues with zero notices, ordered by date then id.
	// This is the durable work queue: a run that dies mid-drain loses
	// nothing, because the next run re-derives the same set from here.
	PendingIssues(ctx context.Context, sourceID int64) ([]Issue, error)

	// Close releases the underlying connections.
	Close()
}

// Package crawl holds the shared per-run machinery threaded through every
// state handler: the session value, the crawl window resolver, and the
// pacing policy applied between transitions.
package crawl

import (
	"context"
	"time"
)

// Driver is the remote browser session consumed by state handlers. There is
// exactly one driver per run and it accepts one command stream at a time.
// Every wait is bounded by the driver's configured timeout.
type Driver interface {
	// Navigate opens url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitUntil blocks until the JavaScript expression evaluates truthy.
	WaitUntil(ctx context.Context, expr string) error
	// WaitVisible blocks until the selector matches a visible element.
	WaitVisible(ctx context.Context, selector string) error
	// Exists reports whether the selector matches any element.
	Exists(ctx context.Context, selector string) (bool, error)
	// Visible reports whether the selector matches a displayed element.
	Visible(ctx context.Context, selector string) (bool, error)
	// Text returns the trimmed text of the first match, ok=false when absent.
	Text(ctx context.Context, selector string) (string, bool, error)
	// Texts returns the trimmed text of every match.
	Texts(ctx context.Context, selector string) ([]string, error)
	// Attribute returns the named attribute of the first match.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	// Eval evaluates a JavaScript expression and unmarshals the result.
	Eval(ctx context.Context, expr string, out any) error
	// Click scrolls the first match into view and clicks it.
	Click(ctx context.Context, selector string) error
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// Title returns the current page title.
	Title(ctx context.Context) (string, error)
	// OuterHTML returns the serialized DOM of the current page.
	OuterHTML(ctx context.Context) (string, error)
	// Screenshot captures the visible viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// ViewportHeight returns window.innerHeight in CSS pixels.
	ViewportHeight(ctx context.Context) (int, error)
	// ScrollBy scrolls the window vertically by px (negative scrolls up).
	ScrollBy(ctx context.Context, px int) error
}

// Clock abstracts "today" so window resolution is testable.
type Clock interface {
	Now() time.Time
}

// Package artifacts persists forensic page captures for a crawl run. Each
// capture writes a screenshot, the serialized DOM, and a small JSON sidecar
// under a per-run directory so failed runs can be inspected offline.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PageSource is the slice of the browser session a capture needs.
type PageSource interface {
	Screenshot(ctx context.Context) ([]byte, error)
	OuterHTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// Capture names the files written for one snapshot.
type Capture struct {
	PNG  string
	HTML string
	Meta string
}

// Meta is the JSON sidecar stored next to each capture.
type Meta struct {
	State      string    `json:"state"`
	Note       string    `json:"note,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
}

// Writer stores captures under <root>/<source>/<runID>/steps with a
// monotonically increasing counter prefix so directory order matches
// capture order.
type Writer struct {
	dir     string
	counter int
	logger  *zap.Logger
}

// NewWriter creates the per-run capture directory.
func NewWriter(root, source, runID string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(root, slugify(source), slugify(runID), "steps")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	logger.Info("artifact directory ready", zap.String("dir", dir))
	return &Writer{dir: dir, logger: logger}, nil
}

// Dir returns the directory captures are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// Capture snapshots the page. Partial failures do not abort the capture:
// whatever could be read is written, and the first error is returned after
// all writes are attempted.
func (w *Writer) Capture(ctx context.Context, page PageSource, state, note string) (Capture, error) {
	w.counter++
	base := fmt.Sprintf("%03d_%s", w.counter, slugify(state))
	if note != "" {
		base += "_" + slugify(note)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	out := Capture{
		PNG:  filepath.Join(w.dir, base+".png"),
		HTML: filepath.Join(w.dir, base+".html"),
		Meta: filepath.Join(w.dir, base+".json"),
	}

	if png, err := page.Screenshot(ctx); err != nil {
		keep(fmt.Errorf("screenshot: %w", err))
		out.PNG = ""
	} else {
		keep(os.WriteFile(out.PNG, png, 0o644))
	}

	if html, err := page.OuterHTML(ctx); err != nil {
		keep(fmt.Errorf("outer html: %w", err))
		out.HTML = ""
	} else {
		keep(os.WriteFile(out.HTML, []byte(html), 0o644))
	}

	meta := Meta{State: state, Note: note, CapturedAt: time.Now().UTC()}
	if url, err := page.Location(ctx); err == nil {
		meta.URL = url
	}
	if title, err := page.Title(ctx); err == nil {
		meta.Title = title
	}
	if buf, err := json.MarshalIndent(meta, "", "  "); err != nil {
		keep(fmt.Errorf("marshal meta: %w", err))
		out.Meta = ""
	} else {
		keep(os.WriteFile(out.Meta, buf, 0o644))
	}

	w.logger.Debug("capture written", zap.String("base", base))
	return out, firstErr
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func slugify(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

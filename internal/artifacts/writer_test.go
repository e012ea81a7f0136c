package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePage struct {
	png     []byte
	pngErr  error
	html    string
	htmlErr error
	url     string
	title   string
}

func (f *fakePage) Screenshot(_ context.Context) ([]byte, error) { return f.png, f.pngErr }
func (f *fakePage) OuterHTML(_ context.Context) (string, error)  { return f.html, f.htmlErr }
func (f *fakePage) Location(_ context.Context) (string, error)   { return f.url, nil }
func (f *fakePage) Title(_ context.Context) (string, error)      { return f.title, nil }

func TestWriterCapture(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := NewWriter(root, "boe", "run-123", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "boe", "run-123", "steps"), w.Dir())

	page := &fakePage{
		png:   []byte{0x89, 'P', 'N', 'G'},
		html:  "<html><body>hola</body></html>",
		url:   "https://www.boe.es/buscar/",
		title: "BOE.es - Buscador",
	}

	first, err := w.Capture(context.Background(), page, "PARSE_RESULTS_PAGE", "before click")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(w.Dir(), "001_parse_results_page_before-click.png"), first.PNG)

	second, err := w.Capture(context.Background(), page, "ERROR", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(w.Dir(), "002_error.png"), second.PNG)

	html, err := os.ReadFile(first.HTML)
	require.NoError(t, err)
	require.Equal(t, page.html, string(html))

	raw, err := os.ReadFile(first.Meta)
	require.NoError(t, err)
	var meta Meta
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Equal(t, "PARSE_RESULTS_PAGE", meta.State)
	require.Equal(t, "before click", meta.Note)
	require.Equal(t, page.url, meta.URL)
	require.Equal(t, page.title, meta.Title)
	require.False(t, meta.CapturedAt.IsZero())
}

func TestWriterCapturePartialFailure(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(t.TempDir(), "dogc", "run-1", zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("target crashed")
	page := &fakePage{pngErr: boom, html: "<html></html>"}

	snap, err := w.Capture(context.Background(), page, "OPEN_ISSUE", "")
	require.ErrorIs(t, err, boom)
	require.Empty(t, snap.PNG)

	// The DOM and the sidecar are still written.
	_, statErr := os.Stat(snap.HTML)
	require.NoError(t, statErr)
	_, statErr = os.Stat(snap.Meta)
	require.NoError(t, statErr)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cookie-consent", slugify("Cookie Consent"))
	require.Equal(t, "run_1.2", slugify("run_1.2"))
	require.Equal(t, "unnamed", slugify("***"))
}

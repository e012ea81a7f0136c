package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepositoryWithPool(mock, nil)
}

func TestSourceBySlug(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		start := day(2024, time.January, 1)
		mock.ExpectQuery("SELECT id, slug, name, base_url, start_at").
			WithArgs("boe").
			WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "base_url", "start_at"}).
				AddRow(int64(1), "boe", "Boletín Oficial del Estado", "https://www.boe.es", &start))

		src, err := repo.SourceBySlug(context.Background(), "boe")
		require.NoError(t, err)
		require.Equal(t, int64(1), src.ID)
		require.Equal(t, start, src.StartAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT id, slug, name, base_url, start_at").
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.SourceBySlug(context.Background(), "nope")
		require.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("null start date", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT id, slug, name, base_url, start_at").
			WithArgs("dogc").
			WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "base_url", "start_at"}).
				AddRow(int64(2), "dogc", "DOGC", "https://dogc.gencat.cat", (*time.Time)(nil)))

		_, err := repo.SourceBySlug(context.Background(), "dogc")
		require.ErrorIs(t, err, ErrSourceNotFound)
	})
}

func TestUpsertIssueReturnsSameIDOnConflict(t *testing.T) {
	t.Parallel()
	mock, repo := newMockRepo(t)

	issue := Issue{
		SourceID:  1,
		IssueDate: day(2024, time.March, 5),
		URL:       "https://www.boe.es/boe/dias/2024/03/05/",
		Title:     "BOE núm. 57",
	}

	// Same (source, date) twice: both upserts resolve to the same row, and
	// the conflict branch refreshes the last-modified marker.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`(?s)INSERT INTO issues.*DO UPDATE SET.*updated_at = NOW\(\)`).
			WithArgs(issue.SourceID, issue.IssueDate, issue.URL, issue.Title).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	}

	first, err := repo.UpsertIssue(context.Background(), issue)
	require.NoError(t, err)
	second, err := repo.UpsertIssue(context.Background(), issue)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNotice(t *testing.T) {
	t.Parallel()

	notice := Notice{
		IssueID:    42,
		URL:        "https://www.boe.es/diario_boe/txt.php?id=BOE-A-2024-1",
		Title:      "Resolución de 1 de marzo",
		Section:    "III",
		Department: "Ministerio de Justicia",
		Body:       "texto completo",
	}

	t.Run("matched by url updates in place", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND url").
			WithArgs(notice.IssueID, notice.URL).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(`(?s)UPDATE notices.*updated_at = NOW\(\)`).
			WithArgs(int64(7), notice.URL, notice.Title, notice.Section, notice.Department, notice.Body, notice.Extra).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		id, err := repo.UpsertNotice(context.Background(), notice)
		require.NoError(t, err)
		require.Equal(t, int64(7), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("matched by title when url changed", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND url").
			WithArgs(notice.IssueID, notice.URL).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND title").
			WithArgs(notice.IssueID, notice.Title).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
		mock.ExpectExec("UPDATE notices").
			WithArgs(int64(9), notice.URL, notice.Title, notice.Section, notice.Department, notice.Body, notice.Extra).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		id, err := repo.UpsertNotice(context.Background(), notice)
		require.NoError(t, err)
		require.Equal(t, int64(9), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match inserts", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND url").
			WithArgs(notice.IssueID, notice.URL).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND title").
			WithArgs(notice.IssueID, notice.Title).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("INSERT INTO notices").
			WithArgs(notice.IssueID, notice.URL, notice.Title, notice.Section, notice.Department, notice.Body, notice.Extra).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

		id, err := repo.UpsertNotice(context.Background(), notice)
		require.NoError(t, err)
		require.Equal(t, int64(11), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty url resolves by title only", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		unlinked := notice
		unlinked.URL = ""
		unlinked.Title = "Anuncio sin permalink"

		// No url lookup may be issued: url = '' would match any earlier
		// url-less notice in the issue and clobber it. The ordered mock
		// fails the test if the url query runs first.
		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND title").
			WithArgs(unlinked.IssueID, unlinked.Title).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("INSERT INTO notices").
			WithArgs(unlinked.IssueID, "", unlinked.Title, unlinked.Section, unlinked.Department, unlinked.Body, unlinked.Extra).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(13)))

		id, err := repo.UpsertNotice(context.Background(), unlinked)
		require.NoError(t, err)
		require.Equal(t, int64(13), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty url with matching title updates that row", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		unlinked := notice
		unlinked.URL = ""
		unlinked.Title = "Anuncio sin permalink"
		unlinked.Body = "texto corregido"

		mock.ExpectQuery("SELECT id FROM notices WHERE issue_id = \\$1 AND title").
			WithArgs(unlinked.IssueID, unlinked.Title).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(15)))
		mock.ExpectExec(`(?s)UPDATE notices.*updated_at = NOW\(\)`).
			WithArgs(int64(15), "", unlinked.Title, unlinked.Section, unlinked.Department, unlinked.Body, unlinked.Extra).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		id, err := repo.UpsertNotice(context.Background(), unlinked)
		require.NoError(t, err)
		require.Equal(t, int64(15), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMaxIssueDate(t *testing.T) {
	t.Parallel()

	t.Run("no issues yet", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		mock.ExpectQuery("SELECT MAX\\(issue_date\\) FROM issues").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

		_, found, err := repo.MaxIssueDate(context.Background(), 1)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("watermark present", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockRepo(t)

		watermark := day(2024, time.March, 10)
		mock.ExpectQuery("SELECT MAX\\(issue_date\\) FROM issues").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&watermark))

		got, found, err := repo.MaxIssueDate(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, watermark, got)
	})
}

func TestPendingIssuesOrderedAndFiltered(t *testing.T) {
	t.Parallel()
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("HAVING COUNT\\(n.id\\) = 0").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_id", "issue_date", "url", "title"}).
			AddRow(int64(3), int64(2), day(2024, time.March, 4), "https://dogc.gencat.cat/ca/document/9101", "DOGC 9101").
			AddRow(int64(5), int64(2), day(2024, time.March, 6), "https://dogc.gencat.cat/ca/document/9103", "DOGC 9103"))

	pending, err := repo.PendingIssues(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, int64(3), pending[0].ID)
	require.True(t, pending[0].IssueDate.Before(pending[1].IssueDate))
	require.NoError(t, mock.ExpectationsWereMet())
}

package publish

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

func newMockPublisher(t *testing.T) (*PostgresPublisher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresPublisherFromDB(db, "wp_", zap.NewNop()), mock
}

func TestPostgresPublisher_Destinations(t *testing.T) {
	p, mock := newMockPublisher(t)

	rows := sqlmock.NewRows([]string{"term_id", "name", "slug", "count"}).
		AddRow(3, "Animals", "animals", 12).
		AddRow(7, "Clips", "clips", 5)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT t.term_id, t.name, t.slug, tt.count")).
		WillReturnRows(rows)

	dests, err := p.Destinations(context.Background())
	require.NoError(t, err)
	require.Len(t, dests, 2)
	require.Equal(t, model.Destination{ID: 3, Name: "Animals", Slug: "animals", Count: 12}, dests[0])
	require.Equal(t, model.Destination{ID: 7, Name: "Clips", Slug: "clips", Count: 5}, dests[1])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_DestinationsQueryError(t *testing.T) {
	p, mock := newMockPublisher(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT t.term_id")).
		WillReturnError(errors.New("connection refused"))

	_, err := p.Destinations(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to query destinations")
}

func TestPostgresPublisher_Publish(t *testing.T) {
	p, mock := newMockPublisher(t)

	item := model.Item{
		Ref:       "https://example.com/video/1",
		Title:     "A  clip",
		Thumbnail: "https://cdn.example.com/thumb1.jpg",
		Duration:  "10:23",
		Uploader:  "alice",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wp_posts")).
		WithArgs(sqlmock.AnyArg(), "A  clip", "a-clip").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wp_posts SET guid")).
		WithArgs("/?p=101", int64(101)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, meta := range [][2]string{
		{"source_ref", item.Ref},
		{"duration", item.Duration},
		{"uploader", item.Uploader},
		{"thumbnail", item.Thumbnail},
		{"hosted_ref", "host-1"},
	} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wp_postmeta")).
			WithArgs(int64(101), meta[0], meta[1]).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wp_term_relationships")).
		WithArgs(int64(101), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wp_term_taxonomy SET count = count + 1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	receipt, err := p.Publish(context.Background(), item, 7, "host-1")
	require.NoError(t, err)
	require.Equal(t, int64(101), receipt.PostID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_PublishSkipsEmptyMeta(t *testing.T) {
	p, mock := newMockPublisher(t)

	item := model.Item{Ref: "https://example.com/video/2", Title: "Bare"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wp_posts")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(102))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wp_posts SET guid")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Only source_ref is set; empty metadata rows are not written.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wp_postmeta")).
		WithArgs(int64(102), "source_ref", item.Ref).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wp_term_relationships")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wp_term_taxonomy")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := p.Publish(context.Background(), item, 3, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_PublishRollsBackOnInsertFailure(t *testing.T) {
	p, mock := newMockPublisher(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wp_posts")).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := p.Publish(context.Background(), model.Item{Ref: "x", Title: "y"}, 1, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to insert post")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanTextAndSlugify(t *testing.T) {
	require.Equal(t, "hello world", cleanText("hello\x00world "))
	require.Equal(t, "a-clip-2", slugify("A  Clip! (2)"))
	require.Equal(t, "untitled", slugify("Untitled"))
}

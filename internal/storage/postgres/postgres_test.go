package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/storage"
)

var createdAt = time.Unix(1_718_880_000, 0).UTC()

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func postColumns() []string {
	return []string{"id", "post_content", "username", "platform", "disaster_keywords", "location_extracted", "created_at", "verified"}
}

func TestInsertPostsReturnsOnlyNewRows(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO social_media_posts").
		WithArgs("1", "Flood warning", "aemet", "twitter", sqlmock.AnyArg(), sqlmock.AnyArg(), createdAt, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO social_media_posts").
		WithArgs("2", "Seen before", "aemet", "twitter", sqlmock.AnyArg(), sqlmock.AnyArg(), createdAt, false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := store.InsertPosts(context.Background(), []models.NormalizedPost{
		{ID: "1", Content: "Flood warning", Username: "aemet", Platform: "twitter", DisasterKeywords: []string{"flood", "warning"}, CreatedAt: createdAt, Verified: true},
		{ID: "2", Content: "Seen before", Username: "aemet", Platform: "twitter", CreatedAt: createdAt},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "1", inserted[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostsRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO social_media_posts").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.InsertPosts(context.Background(), []models.NormalizedPost{{ID: "1", CreatedAt: createdAt}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentPosts(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectQuery("FROM social_media_posts ORDER BY created_at DESC, id LIMIT \\$1").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(postColumns()).
			AddRow("2", "Wildfire near Athens", "ert", "twitter", "{wildfire,evacuation}", "Athens", createdAt, true).
			AddRow("1", "Storm", "bbc", "twitter", "{}", nil, createdAt.Add(-time.Hour), false))

	posts, err := store.ListRecentPosts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, []string{"wildfire", "evacuation"}, posts[0].DisasterKeywords)
	require.NotNil(t, posts[0].Location)
	assert.Equal(t, "Athens", *posts[0].Location)
	assert.True(t, posts[0].Verified)

	assert.Nil(t, posts[1].Location)
	assert.Equal(t, []string{}, posts[1].DisasterKeywords)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPostNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectQuery("FROM social_media_posts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(postColumns()))

	_, err := store.GetPost(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateLocation(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectExec("UPDATE social_media_posts SET location_extracted = \\$1 WHERE id = \\$2").
		WithArgs("Valencia", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE social_media_posts").
		WithArgs("Nowhere", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.UpdateLocation(context.Background(), "1", "Valencia"))
	assert.ErrorIs(t, store.UpdateLocation(context.Background(), "missing", "Nowhere"), storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidents(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectExec("INSERT INTO disasters").
		WithArgs("d1", "Valencia floods", "Valencia", "Flash floods", sqlmock.AnyArg(), "high", createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reports").
		WithArgs("r1", "d1", "Water rising", "", "Paiporta", "pending", createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM disasters ORDER BY created_at DESC").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "location", "description", "tags", "severity", "created_at"}).
			AddRow("d1", "Valencia floods", "Valencia", "Flash floods", "{flood}", "high", createdAt))
	mock.ExpectQuery("FROM reports ORDER BY created_at DESC").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "disaster_id", "description", "image_url", "location", "status", "created_at"}).
			AddRow("r1", "d1", "Water rising", "", "Paiporta", "pending", createdAt))

	ctx := context.Background()
	require.NoError(t, store.CreateDisaster(ctx, models.Disaster{ID: "d1", Title: "Valencia floods", Location: "Valencia", Description: "Flash floods", Severity: models.SeverityHigh, CreatedAt: createdAt}))
	require.NoError(t, store.CreateReport(ctx, models.Report{ID: "r1", DisasterID: "d1", Description: "Water rising", Location: "Paiporta", Status: models.ReportPending, CreatedAt: createdAt}))

	disasters, err := store.ListRecentDisasters(ctx, 5)
	require.NoError(t, err)
	require.Len(t, disasters, 1)
	assert.Equal(t, []string{"flood"}, disasters[0].Tags)
	assert.Equal(t, models.SeverityHigh, disasters[0].Severity)

	reports, err := store.ListRecentReports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, models.ReportPending, reports[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreGetPut(t *testing.T) {
	db, mock := newMock(t)
	store := NewCacheStore(db)
	expiresAt := createdAt.Add(24 * time.Hour)

	mock.ExpectExec("INSERT INTO api_cache").
		WithArgs("location:Zmxvb2QgaW4gWA==", []byte(`{"result":"X"}`), expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT response_data, expires_at FROM api_cache WHERE cache_key = \\$1").
		WithArgs("location:Zmxvb2QgaW4gWA==").
		WillReturnRows(sqlmock.NewRows([]string{"response_data", "expires_at"}).
			AddRow([]byte(`{"result":"X"}`), expiresAt))
	mock.ExpectQuery("FROM api_cache").
		WithArgs("location:bWlzcw==").
		WillReturnRows(sqlmock.NewRows([]string{"response_data", "expires_at"}))

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, cache.Key("location", "flood in X"), "X", expiresAt))

	entry, ok, err := store.Get(ctx, cache.Key("location", "flood in X"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X", entry.Value)
	assert.True(t, entry.ExpiresAt.Equal(expiresAt))

	_, ok, err = store.Get(ctx, cache.Key("location", "miss"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreDeleteExpired(t *testing.T) {
	db, mock := newMock(t)
	store := NewCacheStore(db)

	mock.ExpectExec("DELETE FROM api_cache WHERE expires_at <= \\$1").
		WithArgs(createdAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteExpired(context.Background(), createdAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS social_media_posts").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

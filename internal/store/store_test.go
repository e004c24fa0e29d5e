package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/Sendo-labs/leaderboard/internal/scanner"
)

func TestUpsertLinkedAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	linkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO leaderboard.linked_accounts").
		WithArgs("octocat", "x", "12345", "octo_x", linkedAt, "proof-token", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.UpsertLinkedAccount(context.Background(), scanner.LinkedAccount{
		OwnerIdentity:  "octocat",
		Platform:       scanner.PlatformX,
		PlatformUserID: "12345",
		PlatformHandle: "octo_x",
		LinkedAt:       linkedAt,
		LinkingProof:   "proof-token",
		LastObservedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLinkedAccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)

	mock.ExpectQuery("SELECT owner_identity, platform").
		WithArgs("ghost", "x").
		WillReturnRows(sqlmock.NewRows([]string{
			"owner_identity", "platform", "platform_user_id", "platform_handle",
			"linked_at", "linking_proof", "last_observed_at",
		}))

	_, err = s.GetLinkedAccount(context.Background(), "ghost", "x")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	createdAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO leaderboard.activities").
		WithArgs("111", "octocat", "post", "gm @sendo", true, true,
			pq.Array([]string{"sendo"}), 1, 42,
			30, 5, 4, 3, 1000, 7, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.UpsertActivity(context.Background(), Activity{
		ID:              "111",
		OwnerIdentity:   "octocat",
		Type:            ActivityPost,
		Content:         "gm @sendo",
		IsAboutBrand:    true,
		MentionsHandle:  true,
		Hashtags:        []string{"sendo"},
		MediaCount:      1,
		EngagementCount: 42,
		Likes:           30,
		Reposts:         5,
		Replies:         4,
		Quotes:          3,
		Views:           1000,
		Bookmarks:       7,
		CreatedAt:       createdAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// The conflict clause may refresh engagement counters and last_updated
// only; content, classification and created_at stay as first ingested.
func TestUpsertActivityConflictRefreshesOnlyEngagement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	createdAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	pattern := `(?s)INSERT INTO leaderboard\.activities.*` +
		`ON CONFLICT \(id\) DO UPDATE SET\s+` +
		`engagement_count\s*=\s*EXCLUDED\.engagement_count,\s+` +
		`like_count\s*=\s*EXCLUDED\.like_count,\s+` +
		`repost_count\s*=\s*EXCLUDED\.repost_count,\s+` +
		`reply_count\s*=\s*EXCLUDED\.reply_count,\s+` +
		`quote_count\s*=\s*EXCLUDED\.quote_count,\s+` +
		`view_count\s*=\s*EXCLUDED\.view_count,\s+` +
		`bookmark_count\s*=\s*EXCLUDED\.bookmark_count,\s+` +
		`last_updated\s*=\s*NOW\(\)\s*$`

	activity := Activity{
		ID:              "111",
		OwnerIdentity:   "octocat",
		Type:            ActivityPost,
		Content:         "gm @sendo",
		IsAboutBrand:    true,
		MentionsHandle:  true,
		Hashtags:        []string{"sendo"},
		MediaCount:      1,
		EngagementCount: 42,
		Likes:           30,
		Reposts:         5,
		Replies:         4,
		Quotes:          3,
		Views:           1000,
		Bookmarks:       7,
		CreatedAt:       createdAt,
	}

	mock.ExpectExec(pattern).
		WithArgs("111", "octocat", "post", "gm @sendo", true, true,
			pq.Array([]string{"sendo"}), 1, 42,
			30, 5, 4, 3, 1000, 7, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpsertActivity(context.Background(), activity))

	// second ingestion of the same post with fresher counters
	activity.EngagementCount = 61
	activity.Likes = 45
	activity.Views = 2500
	mock.ExpectExec(pattern).
		WithArgs("111", "octocat", "post", "gm @sendo", true, true,
			pq.Array([]string{"sendo"}), 1, 61,
			45, 5, 4, 3, 2500, 7, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpsertActivity(context.Background(), activity))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivitiesWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	createdAt := start.Add(36 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "owner_identity", "activity_type", "content", "is_about_brand", "mentions_handle",
		"hashtags", "media_count", "engagement_count",
		"like_count", "repost_count", "reply_count", "quote_count", "view_count", "bookmark_count",
		"created_at", "last_updated",
	}).AddRow("111", "octocat", "quote", "take a look", false, true,
		pq.Array([]string{"buildinpublic"}), 0, 12,
		8, 2, 1, 1, 300, 0, createdAt, createdAt)

	mock.ExpectQuery("SELECT id, owner_identity, activity_type").
		WithArgs("octocat", start, end).
		WillReturnRows(rows)

	activities, err := s.ListActivities(context.Background(), "octocat", &start, &end)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, ActivityQuote, activities[0].Type)
	require.Equal(t, []string{"buildinpublic"}, activities[0].Hashtags)
	require.Equal(t, 12, activities[0].EngagementCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestIngestionRunEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)

	mock.ExpectQuery("SELECT run_id, triggered_by, stage").
		WillReturnRows(sqlmock.NewRows([]string{
			"run_id", "triggered_by", "stage", "stored", "skipped",
			"linked_accounts", "posts_fetched", "error", "started_at", "finished_at",
		}))

	_, err = s.GetLatestIngestionRun(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Package store is the persistence layer: owner identities, linked
// accounts, ingested activities, and run bookkeeping.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Sendo-labs/leaderboard/internal/scanner"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ActivityType classifies an ingested activity. Classification is total
// and mutually exclusive with precedence reply > repost > quote > post.
type ActivityType string

const (
	ActivityPost   ActivityType = "post"
	ActivityRepost ActivityType = "repost"
	ActivityQuote  ActivityType = "quote"
	ActivityReply  ActivityType = "reply"
)

// Activity is a persisted social activity. Keyed by the post id, which is
// globally unique; re-ingestion refreshes only the engagement counters.
type Activity struct {
	ID             string
	OwnerIdentity  string
	Type           ActivityType
	Content        string
	IsAboutBrand   bool
	MentionsHandle bool
	Hashtags       []string
	MediaCount     int

	EngagementCount int
	Likes           int
	Reposts         int
	Replies         int
	Quotes          int
	Views           int
	Bookmarks       int

	CreatedAt   time.Time
	LastUpdated time.Time
}

// IngestionRun records the outcome of one orchestrator run
type IngestionRun struct {
	RunID          string
	TriggeredBy    string
	Stage          string
	Stored         int
	Skipped        int
	LinkedAccounts int
	PostsFetched   int
	Error          sql.NullString
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Store wraps the Postgres connection
type Store struct {
	db *sql.DB
}

// NewStore creates a store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListOwnerIdentities returns every known owner identity
func (s *Store) ListOwnerIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT github_username FROM leaderboard.users ORDER BY github_username
	`)
	if err != nil {
		return nil, fmt.Errorf("list owner identities: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan owner identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// UpsertOwner creates an owner row if absent
func (s *Store) UpsertOwner(ctx context.Context, githubUsername string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard.users (github_username, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (github_username) DO NOTHING
	`, githubUsername)
	if err != nil {
		return fmt.Errorf("upsert owner %s: %w", githubUsername, err)
	}
	return nil
}

// UpsertLinkedAccount writes a verified link, keyed by (owner, platform).
// A re-link for the same owner replaces the previous account.
func (s *Store) UpsertLinkedAccount(ctx context.Context, account scanner.LinkedAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard.linked_accounts
			(owner_identity, platform, platform_user_id, platform_handle, linked_at, linking_proof, last_observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_identity, platform) DO UPDATE SET
			platform_user_id = EXCLUDED.platform_user_id,
			platform_handle  = EXCLUDED.platform_handle,
			linked_at        = EXCLUDED.linked_at,
			linking_proof    = EXCLUDED.linking_proof,
			last_observed_at = EXCLUDED.last_observed_at
	`, account.OwnerIdentity, account.Platform, account.PlatformUserID,
		account.PlatformHandle, account.LinkedAt, account.LinkingProof, account.LastObservedAt)
	if err != nil {
		return fmt.Errorf("upsert linked account for %s: %w", account.OwnerIdentity, err)
	}
	return nil
}

// GetLinkedAccount returns the owner's link on the given platform
func (s *Store) GetLinkedAccount(ctx context.Context, ownerIdentity, platform string) (*scanner.LinkedAccount, error) {
	var account scanner.LinkedAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_identity, platform, platform_user_id, platform_handle, linked_at, linking_proof, last_observed_at
		FROM leaderboard.linked_accounts
		WHERE owner_identity = $1 AND platform = $2
	`, ownerIdentity, platform).Scan(
		&account.OwnerIdentity, &account.Platform, &account.PlatformUserID,
		&account.PlatformHandle, &account.LinkedAt, &account.LinkingProof, &account.LastObservedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account for %s: %w", ownerIdentity, err)
	}
	return &account, nil
}

// UpsertActivity inserts an activity or, when the post id already exists,
// refreshes only its engagement counters and last_updated. Content and
// classification are immutable after first ingestion.
func (s *Store) UpsertActivity(ctx context.Context, activity Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard.activities
			(id, owner_identity, activity_type, content, is_about_brand, mentions_handle,
			 hashtags, media_count, engagement_count,
			 like_count, repost_count, reply_count, quote_count, view_count, bookmark_count,
			 created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (id) DO UPDATE SET
			engagement_count = EXCLUDED.engagement_count,
			like_count       = EXCLUDED.like_count,
			repost_count     = EXCLUDED.repost_count,
			reply_count      = EXCLUDED.reply_count,
			quote_count      = EXCLUDED.quote_count,
			view_count       = EXCLUDED.view_count,
			bookmark_count   = EXCLUDED.bookmark_count,
			last_updated     = NOW()
	`, activity.ID, activity.OwnerIdentity, string(activity.Type), activity.Content,
		activity.IsAboutBrand, activity.MentionsHandle,
		pq.Array(activity.Hashtags), activity.MediaCount, activity.EngagementCount,
		activity.Likes, activity.Reposts, activity.Replies, activity.Quotes,
		activity.Views, activity.Bookmarks, activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert activity %s: %w", activity.ID, err)
	}
	return nil
}

// ListActivities returns an owner's activities within the optional time
// window, ordered by creation time
func (s *Store) ListActivities(ctx context.Context, ownerIdentity string, start, end *time.Time) ([]Activity, error) {
	query := `
		SELECT id, owner_identity, activity_type, content, is_about_brand, mentions_handle,
		       hashtags, media_count, engagement_count,
		       like_count, repost_count, reply_count, quote_count, view_count, bookmark_count,
		       created_at, last_updated
		FROM leaderboard.activities
		WHERE owner_identity = $1`
	args := []interface{}{ownerIdentity}

	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities for %s: %w", ownerIdentity, err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		var activityType string
		if err := rows.Scan(
			&a.ID, &a.OwnerIdentity, &activityType, &a.Content, &a.IsAboutBrand, &a.MentionsHandle,
			pq.Array(&a.Hashtags), &a.MediaCount, &a.EngagementCount,
			&a.Likes, &a.Reposts, &a.Replies, &a.Quotes, &a.Views, &a.Bookmarks,
			&a.CreatedAt, &a.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = ActivityType(activityType)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// ListActiveOwners returns identities with at least one activity in the
// window, for leaderboard assembly
func (s *Store) ListActiveOwners(ctx context.Context, start, end *time.Time) ([]string, error) {
	query := `SELECT DISTINCT owner_identity FROM leaderboard.activities WHERE 1=1`
	var args []interface{}

	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY owner_identity"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan active owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// InsertIngestionRun records a completed (or failed) orchestrator run
func (s *Store) InsertIngestionRun(ctx context.Context, run IngestionRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard.ingestion_runs
			(run_id, triggered_by, stage, stored, skipped, linked_accounts, posts_fetched, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.RunID, run.TriggeredBy, run.Stage, run.Stored, run.Skipped,
		run.LinkedAccounts, run.PostsFetched, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert ingestion run %s: %w", run.RunID, err)
	}
	return nil
}

// GetLatestIngestionRun returns the most recently started run
func (s *Store) GetLatestIngestionRun(ctx context.Context) (*IngestionRun, error) {
	var run IngestionRun
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, triggered_by, stage, stored, skipped, linked_accounts, posts_fetched, error, started_at, finished_at
		FROM leaderboard.ingestion_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(
		&run.RunID, &run.TriggeredBy, &run.Stage, &run.Stored, &run.Skipped,
		&run.LinkedAccounts, &run.PostsFetched, &run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest ingestion run: %w", err)
	}
	return &run, nil
}

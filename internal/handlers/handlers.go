// Package handlers exposes the leaderboard HTTP API
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Sendo-labs/leaderboard/internal/ingest"
	"github.com/Sendo-labs/leaderboard/internal/linkproof"
	"github.com/Sendo-labs/leaderboard/internal/scanner"
	"github.com/Sendo-labs/leaderboard/internal/scoring"
	"github.com/Sendo-labs/leaderboard/internal/store"
	"github.com/Sendo-labs/leaderboard/pkg/cache"
	"github.com/Sendo-labs/leaderboard/pkg/logging"
	"github.com/Sendo-labs/leaderboard/pkg/middleware"
)

var (
	db       *store.Store
	logger   logging.Logger
	verifier *linkproof.Verifier
	worker   *ingest.Worker
	scoreCfg scoring.Config
	scores   *cache.Cache
)

// Init initializes the handlers with their dependencies
func Init(s *store.Store, v *linkproof.Verifier, w *ingest.Worker, cfg scoring.Config, log logging.Logger) {
	db = s
	verifier = v
	worker = w
	scoreCfg = cfg
	logger = log
	scores = cache.New(cache.Options{
		TTL:        5 * time.Minute,
		MaxEntries: 10000,
	})
}

// TriggerIngestionRun starts an ingestion run in the background
func TriggerIngestionRun(c middleware.Context) {
	if worker == nil {
		c.JSON(http.StatusServiceUnavailable, middleware.H{"error": "Ingestion worker not running"})
		return
	}
	if worker.Running() {
		c.JSON(http.StatusConflict, middleware.H{"error": "An ingestion run is already in progress"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		worker.TriggerRun(ctx, "manual")
		// fresh data invalidates every cached score
		scores.Clear()
	}()

	c.JSON(http.StatusAccepted, middleware.H{"status": "started"})
}

// GetLatestIngestionRun returns the most recent run record
func GetLatestIngestionRun(c middleware.Context) {
	run, err := db.GetLatestIngestionRun(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "No ingestion runs yet"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load latest ingestion run")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	resp := middleware.H{
		"run_id":          run.RunID,
		"triggered_by":    run.TriggeredBy,
		"stage":           run.Stage,
		"stored":          run.Stored,
		"skipped":         run.Skipped,
		"linked_accounts": run.LinkedAccounts,
		"posts_fetched":   run.PostsFetched,
		"started_at":      run.StartedAt,
		"finished_at":     run.FinishedAt,
	}
	if run.Error.Valid {
		resp["error"] = run.Error.String
	}
	c.JSON(http.StatusOK, resp)
}

// GetUserScore computes (or serves a cached) score for one user
func GetUserScore(c middleware.Context) {
	username := c.Param("username")
	start, end, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	key := scoreCacheKey(username, start, end)
	value, err := scores.Get(c.Request.Context(), key, func(ctx context.Context) (interface{}, error) {
		activities, err := db.ListActivities(ctx, username, start, end)
		if err != nil {
			return nil, err
		}
		return scoring.Score(activities, scoreCfg), nil
	})
	if err != nil {
		logger.WithError(err).WithField("username", username).Error("Failed to compute score")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	result := value.(scoring.Result)
	c.JSON(http.StatusOK, middleware.H{
		"username": username,
		"score":    result,
	})
}

// GetLinkedAccount returns the user's verified X account link
func GetLinkedAccount(c middleware.Context) {
	username := c.Param("username")

	account, err := db.GetLinkedAccount(c.Request.Context(), username, scanner.PlatformX)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "No linked account"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("username", username).Error("Failed to load linked account")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{
		"owner_identity":   account.OwnerIdentity,
		"platform":         account.Platform,
		"platform_user_id": account.PlatformUserID,
		"platform_handle":  account.PlatformHandle,
		"linked_at":        account.LinkedAt,
		"last_observed_at": account.LastObservedAt,
	})
}

type leaderboardEntry struct {
	Username string         `json:"username"`
	Score    scoring.Result `json:"score"`
}

// GetLeaderboard scores every active owner in the window and returns them
// ranked by total score
func GetLeaderboard(c middleware.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, middleware.H{"error": "limit must be between 1 and 500"})
			return
		}
	}

	ctx := c.Request.Context()
	owners, err := db.ListActiveOwners(ctx, start, end)
	if err != nil {
		logger.WithError(err).Error("Failed to list active owners")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	entries := make([]leaderboardEntry, 0, len(owners))
	for _, owner := range owners {
		key := scoreCacheKey(owner, start, end)
		value, err := scores.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
			activities, err := db.ListActivities(ctx, owner, start, end)
			if err != nil {
				return nil, err
			}
			return scoring.Score(activities, scoreCfg), nil
		})
		if err != nil {
			logger.WithError(err).WithField("username", owner).Error("Failed to score owner")
			c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
			return
		}
		entries = append(entries, leaderboardEntry{Username: owner, Score: value.(scoring.Result)})
	}

	sortLeaderboard(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	c.JSON(http.StatusOK, middleware.H{"leaderboard": entries})
}

type issueTokenRequest struct {
	GithubUsername string `json:"github_username" binding:"required"`
	XUserID        string `json:"x_user_id" binding:"required"`
	XUsername      string `json:"x_username" binding:"required"`
}

// IssueLinkingToken issues a signed proof token and the profile block a
// user should place in their README
func IssueLinkingToken(c middleware.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	token, err := verifier.Issue(req.GithubUsername, req.XUserID, req.XUsername)
	if err != nil {
		logger.WithError(err).Error("Failed to issue linking token")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	block := linkproof.Render(linkproof.Claim{
		XUsername:    req.XUsername,
		XUserID:      req.XUserID,
		LinkedAt:     time.Now().UTC(),
		LinkingProof: token,
	})

	if err := db.UpsertOwner(c.Request.Context(), req.GithubUsername); err != nil {
		logger.WithError(err).WithField("username", req.GithubUsername).Error("Failed to register owner")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{
		"token": token,
		"block": block,
	})
}

func parseWindow(c middleware.Context) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start time: %v", err)
		}
		start = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end time: %v", err)
		}
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, errors.New("end must not be before start")
	}
	return start, end, nil
}

func scoreCacheKey(username string, start, end *time.Time) string {
	key := "score:" + username
	if start != nil {
		key += ":" + start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		key += ":" + end.UTC().Format(time.RFC3339)
	}
	return key
}

func sortLeaderboard(entries []leaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score.TotalScore != entries[j].Score.TotalScore {
			return entries[i].Score.TotalScore > entries[j].Score.TotalScore
		}
		return entries[i].Username < entries[j].Username
	})
}

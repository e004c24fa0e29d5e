// Package scoring turns a user's stored activities into a bounded daily
// score. Pure computation over already-materialized data: no I/O, no
// shared state, safe to call concurrently for different users.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/Sendo-labs/leaderboard/internal/store"
)

// TypePoints holds base points per activity type
type TypePoints struct {
	Post   float64
	Repost float64
	Quote  float64
	Reply  float64
}

// Multipliers apply to plain posts only, each independently and
// multiplicatively
type Multipliers struct {
	MentionsHandle float64
	UsesHashtag    float64
	HasMedia       float64
}

// DailyLimits bound how much one calendar day can contribute
type DailyLimits struct {
	// MaxPostsPerDay truncates a day's activities after time-ordering
	MaxPostsPerDay int
	// DiminishingReturnsThreshold is the 1-based position after which
	// the penalty applies
	DiminishingReturnsThreshold int
	// DiminishingReturnsPenalty is the decay factor (<1) applied once
	// per position past the threshold
	DiminishingReturnsPenalty float64
	// MaxPointsPerDay clamps the day total
	MaxPointsPerDay float64
}

// Config carries every scoring knob
type Config struct {
	Base            TypePoints
	PostMultipliers Multipliers
	Daily           DailyLimits
}

// DefaultConfig returns the reference configuration
func DefaultConfig() Config {
	return Config{
		Base: TypePoints{
			Post:   5,
			Quote:  3,
			Reply:  2,
			Repost: 1,
		},
		PostMultipliers: Multipliers{
			MentionsHandle: 1.5,
			UsesHashtag:    1.1,
			HasMedia:       1.2,
		},
		Daily: DailyLimits{
			MaxPostsPerDay:              15,
			DiminishingReturnsThreshold: 3,
			DiminishingReturnsPenalty:   0.7,
			MaxPointsPerDay:             25,
		},
	}
}

// Result is a computed score with its descriptive metrics. Metrics come
// from the same truncated, capped activity set as the score so the two
// stay mutually consistent. Never persisted; recomputed on demand.
type Result struct {
	TotalScore float64 `json:"total_score"`

	Posts   int `json:"posts"`
	Quotes  int `json:"quotes"`
	Replies int `json:"replies"`
	Reposts int `json:"reposts"`

	MentionPosts int `json:"mention_posts"`
	HashtagPosts int `json:"hashtag_posts"`
	MediaPosts   int `json:"media_posts"`
}

// Score computes the total score for a set of activities. Activities are
// grouped by UTC calendar day, time-ordered within the day, truncated to
// the daily post limit, and scored with diminishing returns past the
// threshold; each day's total is clamped before summing.
func Score(activities []store.Activity, cfg Config) Result {
	var result Result

	for _, day := range groupByDay(activities) {
		sort.Slice(day, func(i, j int) bool {
			return day[i].CreatedAt.Before(day[j].CreatedAt)
		})
		if cfg.Daily.MaxPostsPerDay > 0 && len(day) > cfg.Daily.MaxPostsPerDay {
			day = day[:cfg.Daily.MaxPostsPerDay]
		}

		dayScore := 0.0
		for i, activity := range day {
			position := i + 1
			dayScore += activityScore(activity, position, cfg)
			countActivity(&result, activity)
		}

		if cfg.Daily.MaxPointsPerDay > 0 && dayScore > cfg.Daily.MaxPointsPerDay {
			dayScore = cfg.Daily.MaxPointsPerDay
		}
		result.TotalScore += dayScore
	}

	result.TotalScore = round2(result.TotalScore)
	return result
}

// activityScore is the contribution of one activity at its 1-based
// position within the day
func activityScore(activity store.Activity, position int, cfg Config) float64 {
	var points float64
	switch activity.Type {
	case store.ActivityPost:
		points = cfg.Base.Post
		if activity.MentionsHandle {
			points *= cfg.PostMultipliers.MentionsHandle
		}
		if len(activity.Hashtags) > 0 {
			points *= cfg.PostMultipliers.UsesHashtag
		}
		if activity.MediaCount > 0 {
			points *= cfg.PostMultipliers.HasMedia
		}
	case store.ActivityQuote:
		points = cfg.Base.Quote
	case store.ActivityReply:
		points = cfg.Base.Reply
	case store.ActivityRepost:
		points = cfg.Base.Repost
	}

	// decay compounds once per position past the threshold
	if over := position - cfg.Daily.DiminishingReturnsThreshold; over > 0 {
		points *= math.Pow(cfg.Daily.DiminishingReturnsPenalty, float64(over))
	}

	return points
}

func countActivity(result *Result, activity store.Activity) {
	switch activity.Type {
	case store.ActivityPost:
		result.Posts++
		if activity.MentionsHandle {
			result.MentionPosts++
		}
		if len(activity.Hashtags) > 0 {
			result.HashtagPosts++
		}
		if activity.MediaCount > 0 {
			result.MediaPosts++
		}
	case store.ActivityQuote:
		result.Quotes++
	case store.ActivityReply:
		result.Replies++
	case store.ActivityRepost:
		result.Reposts++
	}
}

func groupByDay(activities []store.Activity) map[string][]store.Activity {
	days := make(map[string][]store.Activity)
	for _, activity := range activities {
		key := activity.CreatedAt.UTC().Format(time.DateOnly)
		days[key] = append(days[key], activity)
	}
	return days
}

// round2 rounds to 2 decimal places, half away from zero
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

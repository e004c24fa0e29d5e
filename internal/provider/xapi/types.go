package xapi

import "time"

// RawPost carries a post as returned by the search upstream. Two response
// shapes exist historically: the current flat shape (id/text/author_id with
// a public_metrics object) and the legacy nested shape (id_str/full_text
// with a user object and top-level counts). A RawPost holds fields from
// both; Normalize detects the shape structurally.
type RawPost struct {
	// Flat shape
	ID             string          `json:"id,omitempty"`
	Text           string          `json:"text,omitempty"`
	AuthorID       string          `json:"author_id,omitempty"`
	AuthorUsername string          `json:"author_username,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	PublicMetrics  *publicMetrics  `json:"public_metrics,omitempty"`
	Referenced     []referencedRef `json:"referenced_tweets,omitempty"`
	Attachments    *attachments    `json:"attachments,omitempty"`

	// Legacy shape
	IDStr            string      `json:"id_str,omitempty"`
	FullText         string      `json:"full_text,omitempty"`
	User             *legacyUser `json:"user,omitempty"`
	FavoriteCount    *int        `json:"favorite_count,omitempty"`
	RetweetCount     *int        `json:"retweet_count,omitempty"`
	ReplyCount       *int        `json:"reply_count,omitempty"`
	QuoteCount       *int        `json:"quote_count,omitempty"`
	ViewCount        *int        `json:"view_count,omitempty"`
	BookmarkCount    *int        `json:"bookmark_count,omitempty"`
	IsQuoteStatus    bool        `json:"is_quote_status,omitempty"`
	InReplyToIDStr   string      `json:"in_reply_to_status_id_str,omitempty"`
	RetweetedStatus  *RawPost    `json:"retweeted_status,omitempty"`

	// Entities are shared between shapes but with divergent member names
	Entities *entities `json:"entities,omitempty"`
}

type publicMetrics struct {
	LikeCount       int `json:"like_count"`
	RetweetCount    int `json:"retweet_count"`
	ReplyCount      int `json:"reply_count"`
	QuoteCount      int `json:"quote_count"`
	ImpressionCount int `json:"impression_count"`
	BookmarkCount   int `json:"bookmark_count"`
}

type referencedRef struct {
	Type string `json:"type"` // retweeted, quoted, replied_to
	ID   string `json:"id"`
}

type attachments struct {
	MediaKeys []string `json:"media_keys"`
}

type legacyUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type entities struct {
	Hashtags []hashtagEntity `json:"hashtags"`
	// flat shape
	Mentions []mentionEntity `json:"mentions"`
	// legacy shape
	UserMentions []legacyMention `json:"user_mentions"`
	Media        []struct{}      `json:"media"`
}

type hashtagEntity struct {
	Tag  string `json:"tag"`  // flat
	Text string `json:"text"` // legacy
}

type mentionEntity struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

type legacyMention struct {
	ScreenName string `json:"screen_name"`
	IDStr      string `json:"id_str"`
}

// EngagementCounts holds per-type engagement numbers for a post
type EngagementCounts struct {
	Likes     int `json:"likes"`
	Reposts   int `json:"reposts"`
	Replies   int `json:"replies"`
	Quotes    int `json:"quotes"`
	Views     int `json:"views"`
	Bookmarks int `json:"bookmarks"`
}

// Mention is a normalized @-mention inside a post
type Mention struct {
	Handle string `json:"handle"`
	ID     string `json:"id"`
}

// Post is the canonical post shape, independent of upstream schema drift.
// Identity fields default to UnknownSentinel and numeric fields to zero so
// downstream attribution never trips over missing optional data.
type Post struct {
	ID           string
	Text         string
	AuthorID     string
	AuthorHandle string
	CreatedAt    time.Time
	Counts       EngagementCounts
	IsRepost     bool
	IsQuote      bool
	IsReply      bool
	Hashtags     []string
	Mentions     []Mention
	MediaCount   int
}

// UnknownSentinel marks identity fields absent from the upstream payload
const UnknownSentinel = "unknown"

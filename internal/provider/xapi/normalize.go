package xapi

import (
	"strings"
	"time"
)

// legacyTimeLayout is the ruby-style timestamp the legacy shape uses
const legacyTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Normalize converts a raw upstream post into the canonical shape. Shape
// detection is structural: a legacy post carries id_str or a nested user
// object; there is no version flag to rely on. Normalize never fails:
// absent numeric fields become zero and absent identity fields become the
// "unknown" sentinel.
func Normalize(raw RawPost) Post {
	if raw.IDStr != "" || raw.User != nil {
		return normalizeLegacy(raw)
	}
	return normalizeFlat(raw)
}

func normalizeFlat(raw RawPost) Post {
	p := Post{
		ID:           nonEmpty(raw.ID, UnknownSentinel),
		Text:         raw.Text,
		AuthorID:     nonEmpty(raw.AuthorID, UnknownSentinel),
		AuthorHandle: nonEmpty(raw.AuthorUsername, UnknownSentinel),
		CreatedAt:    parseTimestamp(raw.CreatedAt),
	}

	if m := raw.PublicMetrics; m != nil {
		p.Counts = EngagementCounts{
			Likes:     m.LikeCount,
			Reposts:   m.RetweetCount,
			Replies:   m.ReplyCount,
			Quotes:    m.QuoteCount,
			Views:     m.ImpressionCount,
			Bookmarks: m.BookmarkCount,
		}
	}

	for _, ref := range raw.Referenced {
		switch ref.Type {
		case "retweeted":
			p.IsRepost = true
		case "quoted":
			p.IsQuote = true
		case "replied_to":
			p.IsReply = true
		}
	}

	if raw.Entities != nil {
		p.Hashtags = normalizeHashtags(raw.Entities.Hashtags)
		for _, m := range raw.Entities.Mentions {
			p.Mentions = append(p.Mentions, Mention{Handle: m.Username, ID: m.ID})
		}
	}

	if raw.Attachments != nil {
		p.MediaCount = len(raw.Attachments.MediaKeys)
	}

	return p
}

func normalizeLegacy(raw RawPost) Post {
	p := Post{
		ID:           nonEmpty(raw.IDStr, UnknownSentinel),
		Text:         raw.FullText,
		AuthorID:     UnknownSentinel,
		AuthorHandle: UnknownSentinel,
		CreatedAt:    parseTimestamp(raw.CreatedAt),
	}
	if raw.User != nil {
		p.AuthorID = nonEmpty(raw.User.IDStr, UnknownSentinel)
		p.AuthorHandle = nonEmpty(raw.User.ScreenName, UnknownSentinel)
	}

	p.Counts = EngagementCounts{
		Likes:     deref(raw.FavoriteCount),
		Reposts:   deref(raw.RetweetCount),
		Replies:   deref(raw.ReplyCount),
		Quotes:    deref(raw.QuoteCount),
		Views:     deref(raw.ViewCount),
		Bookmarks: deref(raw.BookmarkCount),
	}

	p.IsRepost = raw.RetweetedStatus != nil || strings.HasPrefix(raw.FullText, "RT @")
	p.IsQuote = raw.IsQuoteStatus
	p.IsReply = raw.InReplyToIDStr != ""

	if raw.Entities != nil {
		p.Hashtags = normalizeHashtags(raw.Entities.Hashtags)
		for _, m := range raw.Entities.UserMentions {
			p.Mentions = append(p.Mentions, Mention{Handle: m.ScreenName, ID: m.IDStr})
		}
		p.MediaCount = len(raw.Entities.Media)
	}

	return p
}

// normalizeHashtags lowercases and dedupes, accepting either member name
func normalizeHashtags(tags []hashtagEntity) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, h := range tags {
		tag := h.Tag
		if tag == "" {
			tag = h.Text
		}
		tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// parseTimestamp accepts both the ISO instant of the flat shape and the
// ruby-style timestamp of the legacy shape; unparseable input yields the
// zero time rather than an error.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(legacyTimeLayout, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

package ingest

import (
	"strings"

	"github.com/Sendo-labs/leaderboard/internal/provider/xapi"
	"github.com/Sendo-labs/leaderboard/internal/store"
)

// Classify maps a normalized post onto exactly one activity type. A post
// can carry several upstream flags at once (a reply that quotes, a repost
// of a reply), so precedence decides: reply > repost > quote > post.
func Classify(post xapi.Post) store.ActivityType {
	switch {
	case post.IsReply:
		return store.ActivityReply
	case post.IsRepost:
		return store.ActivityRepost
	case post.IsQuote:
		return store.ActivityQuote
	default:
		return store.ActivityPost
	}
}

// MentionsHandle reports whether the post @-mentions the tracked handle,
// matching case-insensitively against normalized mentions with a text
// fallback for payloads that omit entity data
func MentionsHandle(post xapi.Post, handle string) bool {
	if handle == "" {
		return false
	}
	for _, mention := range post.Mentions {
		if strings.EqualFold(mention.Handle, handle) {
			return true
		}
	}
	return containsMention(post.Text, handle)
}

func containsMention(text, handle string) bool {
	lower := strings.ToLower(text)
	needle := "@" + strings.ToLower(handle)
	for idx := strings.Index(lower, needle); idx >= 0; {
		end := idx + len(needle)
		// must not be a prefix of a longer handle
		if end == len(lower) || !isHandleChar(lower[end]) {
			return true
		}
		next := strings.Index(lower[end:], needle)
		if next < 0 {
			return false
		}
		idx = end + next
	}
	return false
}

func isHandleChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// AboutBrand reports whether the post is about the tracked brand: it
// mentions the handle, was authored from the brand's own account, or
// carries one of the brand hashtags
func AboutBrand(post xapi.Post, handle string, brandTags []string) bool {
	if MentionsHandle(post, handle) {
		return true
	}
	if handle != "" && strings.EqualFold(post.AuthorHandle, handle) {
		return true
	}
	for _, tag := range post.Hashtags {
		for _, brand := range brandTags {
			if strings.EqualFold(tag, brand) {
				return true
			}
		}
	}
	return false
}

// ToActivity converts an attributed post into its stored form
func ToActivity(post xapi.Post, ownerIdentity, handle string, brandTags []string) store.Activity {
	counts := post.Counts
	return store.Activity{
		ID:              post.ID,
		OwnerIdentity:   ownerIdentity,
		Type:            Classify(post),
		Content:         post.Text,
		IsAboutBrand:    AboutBrand(post, handle, brandTags),
		MentionsHandle:  MentionsHandle(post, handle),
		Hashtags:        post.Hashtags,
		MediaCount:      post.MediaCount,
		EngagementCount: counts.Likes + counts.Reposts + counts.Replies + counts.Quotes + counts.Bookmarks,
		Likes:           counts.Likes,
		Reposts:         counts.Reposts,
		Replies:         counts.Replies,
		Quotes:          counts.Quotes,
		Views:           counts.Views,
		Bookmarks:       counts.Bookmarks,
		CreatedAt:       post.CreatedAt,
	}
}

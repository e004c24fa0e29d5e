package xapi

import "fmt"

// BuildTrackedQuery returns the single global search query the ingestion
// pipeline issues: mentions of the tracked handle OR posts from the handle
// itself including native reposts, optionally excluding replies. One query
// covers every linked owner, keeping search cost independent of how many
// accounts are linked.
func BuildTrackedQuery(handle string, excludeReplies bool) string {
	query := fmt.Sprintf("(@%s OR (from:%s include:nativeretweets))", handle, handle)
	if excludeReplies {
		query += " -filter:replies"
	}
	return query
}

package provider

import "strings"

// MergeCitations combines reply-body citations with a provider channel
// (grounding metadata, top-level citation arrays). Body citations come
// first; duplicates keep their first occurrence; only absolute http(s)
// URLs survive.
func MergeCitations(body, channel []string) []string {
	merged := make([]string, 0, len(body)+len(channel))
	seen := make(map[string]struct{}, len(body)+len(channel))
	for _, list := range [][]string{body, channel} {
		for _, raw := range list {
			u := strings.TrimSpace(raw)
			if !isHTTPURL(u) {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			merged = append(merged, u)
		}
	}
	return merged
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

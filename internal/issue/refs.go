package issue

import "regexp"

// issueRefRe matches `#<issueKey>` mentions in an issue body, where a key
// is a slug followed by a short alphanumeric suffix (e.g. "demo-ab12").
var issueRefRe = regexp.MustCompile(`#([a-zA-Z][a-zA-Z0-9_-]*-[a-zA-Z0-9]{2,8})\b`)

// extractIssueRefs returns the issue keys mentioned in body via "#key",
// in order of first appearance, without deduplicating.
func extractIssueRefs(body string) []string {
	matches := issueRefRe.FindAllStringSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushClassifierCountsEachCategoryIndependently(t *testing.T) {
	cfg := DefaultPushClassifierConfig()
	event := PushEvent{
		Commits: []PushCommit{
			{Added: []string{".beads/demo-ab12.jsonl"}, Modified: []string{"TODO.md"}},
			{Modified: []string{"ROADMAP.md", "README.md"}},
			{Removed: []string{".beads/demo-old1.jsonl"}},
		},
	}
	counts := cfg.Classify(event)
	require.Equal(t, 2, counts.IssueSync)
	require.Equal(t, 1, counts.BacklogSync)
	require.Equal(t, 1, counts.MilestoneSync)
	require.Equal(t, 4, counts.Total())
}

func TestPushClassifierIgnoresUnrelatedPaths(t *testing.T) {
	cfg := DefaultPushClassifierConfig()
	event := PushEvent{Commits: []PushCommit{{Modified: []string{"main.go", "docs/guide.md"}}}}
	require.Equal(t, PushCounts{}, cfg.Classify(event))
}

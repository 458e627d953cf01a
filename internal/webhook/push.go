package webhook

import "strings"

// PushCounts tallies how many changed paths in a push fell into each of
// §4.D's three categories: issue-store paths, the backlog-compiled
// markdown file, and the roadmap file. Each category is counted
// independently, per the enqueue-response contract.
type PushCounts struct {
	IssueSync     int
	BacklogSync   int
	MilestoneSync int
}

// Total returns the sum of all three counts.
func (c PushCounts) Total() int { return c.IssueSync + c.BacklogSync + c.MilestoneSync }

// PushClassifierConfig names the repository-relative paths push dispatch
// watches for. IssueStoreDir is a directory prefix (the beads store);
// BacklogFile and RoadmapFile are exact paths.
type PushClassifierConfig struct {
	IssueStoreDir string
	BacklogFile   string
	RoadmapFile   string
}

// DefaultPushClassifierConfig matches the conventional beads layout: a
// ".beads/" directory, a "TODO.md" backlog file, and a "ROADMAP.md"
// milestone file.
func DefaultPushClassifierConfig() PushClassifierConfig {
	return PushClassifierConfig{
		IssueStoreDir: ".beads/",
		BacklogFile:   "TODO.md",
		RoadmapFile:   "ROADMAP.md",
	}
}

// Classify examines every commit's added/modified/removed paths and
// tallies how many fall into each of §4.D's three push-dispatch
// categories. A single path can count toward more than one category if
// the configured paths overlap (they don't, by default).
func (cfg PushClassifierConfig) Classify(event PushEvent) PushCounts {
	var counts PushCounts
	for _, commit := range event.Commits {
		for _, path := range commit.ChangedPaths() {
			if cfg.IssueStoreDir != "" && strings.HasPrefix(path, cfg.IssueStoreDir) {
				counts.IssueSync++
			}
			if cfg.BacklogFile != "" && path == cfg.BacklogFile {
				counts.BacklogSync++
			}
			if cfg.RoadmapFile != "" && path == cfg.RoadmapFile {
				counts.MilestoneSync++
			}
		}
	}
	return counts
}

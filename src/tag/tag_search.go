// Package tag implements the default keyword search strategy: explicit
// tags score highest, description words contribute a configurable weight.
package tag

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/universal-tool-calling-protocol/utcp-go/src/repository"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

// TagSearchStrategy ranks tools by tag and description keyword overlap
// with the query.
type TagSearchStrategy struct {
	repo              repository.ToolRepository
	descriptionWeight float64
	wordRegex         *regexp.Regexp
}

// NewTagSearchStrategy constructs a TagSearchStrategy. descriptionWeight
// scales word-level matches relative to a full tag match (1.0).
func NewTagSearchStrategy(repo repository.ToolRepository, descriptionWeight float64) *TagSearchStrategy {
	return &TagSearchStrategy{
		repo:              repo,
		descriptionWeight: descriptionWeight,
		wordRegex:         regexp.MustCompile(`\w+`),
	}
}

// SearchTools returns up to limit tools ordered by descending relevance.
// When anyOfTagsRequired is non-empty, only tools carrying at least one of
// those tags are candidates. With no positive matches the top-ranked tools
// are returned anyway so callers always have something to inspect.
func (s *TagSearchStrategy) SearchTools(ctx context.Context, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error) {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	words := s.wordRegex.FindAllString(queryLower, -1)
	queryWords := make(map[string]struct{}, len(words))
	for _, w := range words {
		queryWords[w] = struct{}{}
	}

	required := make(map[string]struct{}, len(anyOfTagsRequired))
	for _, t := range anyOfTagsRequired {
		required[strings.ToLower(t)] = struct{}{}
	}

	all, err := s.repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}

	type scoredTool struct {
		tool  tools.Tool
		score float64
	}
	var scored []scoredTool

	for _, t := range all {
		if len(required) > 0 && !hasAnyTag(t.Tags, required) {
			continue
		}

		var score float64
		for _, tag := range t.Tags {
			tagLower := strings.ToLower(tag)
			if strings.Contains(queryLower, tagLower) {
				score += 1.0
			}
			for _, w := range s.wordRegex.FindAllString(tagLower, -1) {
				if _, ok := queryWords[w]; ok {
					score += s.descriptionWeight
				}
			}
		}
		if t.Description != "" {
			for _, w := range s.wordRegex.FindAllString(strings.ToLower(t.Description), -1) {
				if len(w) > 2 {
					if _, ok := queryWords[w]; ok {
						score += s.descriptionWeight
					}
				}
			}
		}
		scored = append(scored, scoredTool{tool: t, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	var result []tools.Tool
	for _, st := range scored {
		if st.score > 0 {
			result = append(result, st.tool)
			if len(result) >= limit {
				break
			}
		}
	}
	if len(result) == 0 {
		for i, st := range scored {
			if i >= limit {
				break
			}
			result = append(result, st.tool)
		}
	}
	return result, nil
}

func hasAnyTag(tags []string, required map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := required[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

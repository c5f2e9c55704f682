package tag

import (
	"context"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/repository"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

func searchFixture(t *testing.T) *TagSearchStrategy {
	t.Helper()
	repo := repository.NewInMemoryToolRepository()
	tpl := templates.NewHttpCallTemplate("svc", "http://localhost/utcp")
	m := manual.UtcpManual{
		UtcpVersion: "1.0",
		Tools: []tools.Tool{
			{Name: "svc.forecast", Description: "Seven day weather forecast for a city", Tags: []string{"weather", "forecast"}},
			{Name: "svc.alerts", Description: "Severe weather alerts", Tags: []string{"weather", "alerts"}},
			{Name: "svc.convert", Description: "Convert between currencies", Tags: []string{"finance"}},
		},
	}
	if err := repo.SaveManual(context.Background(), tpl, m); err != nil {
		t.Fatalf("fixture save failed: %v", err)
	}
	return NewTagSearchStrategy(repo, 0.3)
}

func TestSearchRanksTagMatchesFirst(t *testing.T) {
	s := searchFixture(t)
	got, err := s.SearchTools(context.Background(), "weather forecast", 10, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the two weather tools, got %d", len(got))
	}
	if got[0].Name != "svc.forecast" {
		t.Fatalf("forecast should rank first (two tag matches): %v", got[0].Name)
	}
	if got[1].Name != "svc.alerts" {
		t.Fatalf("alerts should rank second: %v", got[1].Name)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	s := searchFixture(t)
	got, err := s.SearchTools(context.Background(), "weather", 1, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d results", len(got))
	}
}

func TestSearchRequiredTagsFilter(t *testing.T) {
	s := searchFixture(t)
	got, err := s.SearchTools(context.Background(), "weather", 10, []string{"alerts"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "svc.alerts" {
		t.Fatalf("required tag filter wrong: %#v", got)
	}
}

func TestSearchFallsBackWhenNothingMatches(t *testing.T) {
	s := searchFixture(t)
	got, err := s.SearchTools(context.Background(), "zzzz completely unrelated", 2, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("zero-match query must still return top-ranked tools: %d", len(got))
	}
}

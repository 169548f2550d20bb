// Package schedule builds viewing plans that fill a time budget from a
// watchlist.
package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/satriobp/kino/internal/watchlist"
)

// ErrNoEligibleItems is returned when the filters leave nothing to plan
// with. Distinct from a valid plan that selects nothing because nothing
// fits the budget.
var ErrNoEligibleItems = errors.New("no eligible items")

// Options narrows the candidate pool before planning.
type Options struct {
	// Genre keeps only items carrying this genre (case-insensitive).
	Genre string
	// Titles keeps only items whose title appears here (case-insensitive).
	Titles []string
}

// Result is a completed plan. Selected preserves watchlist insertion order.
type Result struct {
	Selected      []watchlist.Item `json:"selected"`
	TotalMinutes  int              `json:"total_minutes"`
	UnusedMinutes int              `json:"unused_minutes"`
}

// genreAliases maps common shorthand to the canonical genre names the
// metadata provider uses.
var genreAliases = map[string]string{
	"sci-fi": "science fiction",
	"scifi":  "science fiction",
	"romcom": "romance",
}

func normalizeGenre(genre string) string {
	g := strings.ToLower(strings.TrimSpace(genre))
	if canonical, ok := genreAliases[g]; ok {
		return canonical
	}
	return g
}

// Plan picks the subset of items that maximizes total watch time without
// exceeding budgetMinutes. Among equal-duration plans the one with more
// movies wins. Returns ErrNoEligibleItems when filtering leaves an empty
// candidate pool.
func Plan(items []watchlist.Item, budgetMinutes int, opts Options) (Result, error) {
	if budgetMinutes <= 0 {
		return Result{}, fmt.Errorf("budget must be positive, got %d", budgetMinutes)
	}

	eligible := filter(items, opts)
	if len(eligible) == 0 {
		return Result{}, ErrNoEligibleItems
	}

	picked := knapsack(eligible, budgetMinutes)

	total := 0
	selected := make([]watchlist.Item, 0, len(picked))
	for _, item := range picked {
		total += item.DurationMinutes
		selected = append(selected, item)
	}

	return Result{
		Selected:      selected,
		TotalMinutes:  total,
		UnusedMinutes: budgetMinutes - total,
	}, nil
}

func filter(items []watchlist.Item, opts Options) []watchlist.Item {
	wantTitles := make(map[string]bool, len(opts.Titles))
	for _, t := range opts.Titles {
		wantTitles[strings.ToLower(strings.TrimSpace(t))] = true
	}
	wantGenre := normalizeGenre(opts.Genre)

	var eligible []watchlist.Item
	for _, item := range items {
		if item.DurationMinutes <= 0 {
			continue
		}
		if len(wantTitles) > 0 && !wantTitles[strings.ToLower(item.Title)] {
			continue
		}
		if wantGenre != "" && !hasGenre(item, wantGenre) {
			continue
		}
		eligible = append(eligible, item)
	}
	return eligible
}

func hasGenre(item watchlist.Item, genre string) bool {
	for _, g := range item.Genres {
		if normalizeGenre(g) == genre {
			return true
		}
	}
	return false
}

// knapsack solves 0/1 knapsack exactly with duration as both weight and
// value, breaking duration ties toward more items. Returns the winners in
// their original order.
func knapsack(items []watchlist.Item, budget int) []watchlist.Item {
	type cell struct {
		minutes int
		count   int
	}
	better := func(a, b cell) bool {
		if a.minutes != b.minutes {
			return a.minutes > b.minutes
		}
		return a.count > b.count
	}

	// Any budget beyond the combined runtime selects everything, so the
	// table never needs to be wider than the items themselves. Keeps
	// memory bounded by the watchlist, not by the requested budget.
	width := 0
	for _, item := range items {
		width += item.DurationMinutes
	}
	if budget < width {
		width = budget
	}

	n := len(items)
	dp := make([][]cell, n+1)
	dp[0] = make([]cell, width+1)
	for i := 1; i <= n; i++ {
		dp[i] = make([]cell, width+1)
		d := items[i-1].DurationMinutes
		for w := 0; w <= width; w++ {
			skip := dp[i-1][w]
			dp[i][w] = skip
			if d <= w {
				take := cell{
					minutes: dp[i-1][w-d].minutes + d,
					count:   dp[i-1][w-d].count + 1,
				}
				if better(take, skip) {
					dp[i][w] = take
				}
			}
		}
	}

	// Walk back through the table to recover the chosen set.
	taken := make([]bool, n)
	w := width
	for i := n; i > 0; i-- {
		if dp[i][w] != dp[i-1][w] {
			taken[i-1] = true
			w -= items[i-1].DurationMinutes
		}
	}

	var picked []watchlist.Item
	for i, ok := range taken {
		if ok {
			picked = append(picked, items[i])
		}
	}
	return picked
}
